package conversation

import (
	"github.com/fyrsmithlabs/groundd/internal/llm"
	"github.com/fyrsmithlabs/groundd/internal/reference"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// Stage identifies a step of the turn pipeline. Errors returned by the
// orchestrator carry the stage that failed (see errkind.StageOf).
type Stage string

const (
	StageReceived          Stage = "received"
	StageTranscribed       Stage = "transcribed"
	StageTranslatedToPivot Stage = "translated_to_pivot"
	StageEmbedded          Stage = "embedded"
	StageRetrieved         Stage = "retrieved"
	StageGenerating        Stage = "generating"
	StageTranslatedBack    Stage = "translated_back"
	StageSynthesized       Stage = "synthesized"
	StagePersisted         Stage = "persisted"
	StageDone              Stage = "done"
)

// Turn is one request to answer in a chat.
type Turn struct {
	ChatID string
	UserID string

	// Text or Audio carries the utterance. Audio wins when both are set.
	Text     string
	Audio    []byte
	Language string

	// TopK defaults to the configured default (100).
	TopK int
	// Temperature defaults to the configured default (0.1) when nil.
	Temperature *float64

	GenerateAudio bool
	Nonce         string

	// APIKey is the caller's model credential. AllowPlatformKey lets the
	// platform credential serve callers without one.
	APIKey           string
	AllowPlatformKey bool

	// DocumentIDs are project documents attached to the question.
	DocumentIDs []string
	Attachments []llm.Attachment

	// SkipReferences answers without retrieval.
	SkipReferences bool

	// Model overrides the project's model for this turn.
	Model string
}

// Result is a completed turn. Reference holds the retrieved chunks per
// document; Response.References lists the documents the answer cited.
type Result struct {
	Chat      *repository.Chat
	Request   *repository.ChatMessage
	Response  *repository.ChatMessage
	Reference reference.Blob
	Model     llm.Model
}

// Answer is the text shown to the user: the translated answer when one was
// produced, the pivot answer otherwise.
func (r *Result) Answer() string {
	if r.Response.OriginalMessage != "" {
		return r.Response.OriginalMessage
	}
	return r.Response.Message
}

// EventType distinguishes stream events.
type EventType string

const (
	EventDelta EventType = "delta"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one element of a streamed turn. Exactly one Done or Error
// event ends every stream.
type StreamEvent struct {
	Type   EventType
	Delta  string
	Result *Result
	Err    error
}
