// Package speech transcribes audio and synthesizes spoken answers.
//
// Engines form two closed sets chosen per project: recognizers (whisper,
// google, self_hosted) and synthesizers (google, openai). A Registry builds
// each configured engine once. Recognizers return an empty transcript with
// a nil error when the audio holds no speech; provider failures are
// returned as errkind Transcription or Synthesis errors.
package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
)

// STTEngine names a speech recognition engine.
type STTEngine string

const (
	STTWhisper    STTEngine = "whisper"
	STTGoogle     STTEngine = "google"
	STTSelfHosted STTEngine = "self_hosted"
)

// TTSEngine names a speech synthesis engine.
type TTSEngine string

const (
	TTSGoogle TTSEngine = "google"
	TTSOpenAI TTSEngine = "openai"
)

// DefaultSTTEngine and DefaultTTSEngine apply to projects that name none.
const (
	DefaultSTTEngine = STTWhisper
	DefaultTTSEngine = TTSGoogle
)

var (
	// ErrUnknownEngine indicates an engine name outside the closed set.
	ErrUnknownEngine = errors.New("unknown speech engine")

	// ErrEngineNotConfigured indicates a known engine without credentials.
	ErrEngineNotConfigured = errors.New("speech engine not configured")

	// ErrEmptyAudio indicates an empty audio payload.
	ErrEmptyAudio = errors.New("empty audio")
)

// Recognizer turns audio into text in the given language.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, language string) (string, error)
}

// Synthesizer turns text into encoded audio (MP3).
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// ParseSTTEngine validates name. An empty name selects DefaultSTTEngine.
func ParseSTTEngine(name string) (STTEngine, error) {
	switch e := STTEngine(name); e {
	case "":
		return DefaultSTTEngine, nil
	case STTWhisper, STTGoogle, STTSelfHosted:
		return e, nil
	default:
		return "", errkind.E(errkind.Configuration, "speech.ParseSTTEngine", fmt.Errorf("%w: stt %q", ErrUnknownEngine, name))
	}
}

// ParseTTSEngine validates name. An empty name selects DefaultTTSEngine.
func ParseTTSEngine(name string) (TTSEngine, error) {
	switch e := TTSEngine(name); e {
	case "":
		return DefaultTTSEngine, nil
	case TTSGoogle, TTSOpenAI:
		return e, nil
	default:
		return "", errkind.E(errkind.Configuration, "speech.ParseTTSEngine", fmt.Errorf("%w: tts %q", ErrUnknownEngine, name))
	}
}

func transcriptionError(op string, err error) error {
	return errkind.E(errkind.Transcription, op, err)
}

func synthesisError(op string, err error) error {
	return errkind.E(errkind.Synthesis, op, err)
}
