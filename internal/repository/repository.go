// Package repository persists projects, documents, chats and evaluation
// records. The conversation, ingestion and evaluation packages read and
// write through the Store interface only.
//
// Three backends are provided: an in-memory store for tests and local
// development, MongoDB and SQLite. All of them enforce nonce uniqueness
// atomically and only move test runs forward out of RUNNING.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateNonce is returned when a nonce was already used or reserved.
	ErrDuplicateNonce = errors.New("nonce already used")

	// ErrInvalidTransition is returned when a test run is not RUNNING.
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// ProjectStore persists projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
}

// DocumentStore persists documents and their ingestion status.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, projectID string) ([]Document, error)
	// SetDocumentStatus records a status change. errMsg is stored for failed documents.
	SetDocumentStatus(ctx context.Context, id string, status DocumentStatus, errMsg string) error
	DeleteDocument(ctx context.Context, id string) error
	// ListStaleDocuments returns uploading documents last updated before cutoff.
	ListStaleDocuments(ctx context.Context, cutoff time.Time) ([]Document, error)
}

// ChatStore persists chats, messages, feedback and nonce reservations.
type ChatStore interface {
	CreateChat(ctx context.Context, c *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListChats(ctx context.Context, projectID, userID string) ([]Chat, error)

	// ReserveNonce claims nonce before a turn starts. A nonce that is
	// reserved or already attached to a message returns ErrDuplicateNonce.
	ReserveNonce(ctx context.Context, nonce string) error
	// ReleaseNonce drops a reservation for a turn that did not persist.
	ReleaseNonce(ctx context.Context, nonce string) error

	// InsertMessage stores an immutable message. A reused nonce returns
	// ErrDuplicateNonce and stores nothing.
	InsertMessage(ctx context.Context, m *ChatMessage) error
	// SaveTurn inserts the messages of one turn, all or none, and then sets
	// the chat title if it is still empty. The title is never written when
	// the insert fails.
	SaveTurn(ctx context.Context, msgs []*ChatMessage, title string) error
	GetMessage(ctx context.Context, id string) (*ChatMessage, error)
	// ListMessages returns a chat's messages in chronological order.
	ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error)

	CreateChatFeedback(ctx context.Context, f *ChatFeedback) error
}

// EvaluationStore persists suites, runs and results.
type EvaluationStore interface {
	CreateSuite(ctx context.Context, s *TestSuite) error
	GetSuite(ctx context.Context, id string) (*TestSuite, error)
	AddQuestion(ctx context.Context, q *TestQuestion) error
	// ListQuestions returns a suite's questions in insertion order.
	ListQuestions(ctx context.Context, suiteID string) ([]TestQuestion, error)

	CreateRun(ctx context.Context, r *TestRun) error
	GetRun(ctx context.Context, id string) (*TestRun, error)
	// TransitionRun moves a RUNNING run to a terminal status. Any other
	// current status returns ErrInvalidTransition.
	TransitionRun(ctx context.Context, id string, to RunStatus, errMsg string) error
	// ListStaleRuns returns RUNNING runs created before cutoff.
	ListStaleRuns(ctx context.Context, cutoff time.Time) ([]TestRun, error)

	CreateResult(ctx context.Context, r *TestResult) error
	ListResults(ctx context.Context, runID string) ([]TestResult, error)
	CreateFeedback(ctx context.Context, f *Feedback) error
}

// Store is the full persistence surface.
type Store interface {
	ProjectStore
	DocumentStore
	ChatStore
	EvaluationStore
	Close(ctx context.Context) error
}

func notFound(op, kind, id string) error {
	return errkind.E(errkind.NotFound, op, fmt.Errorf("%s %q: %w", kind, id, ErrNotFound))
}

func duplicateNonce(op, nonce string) error {
	return errkind.E(errkind.DuplicateRequest, op, fmt.Errorf("%q: %w", nonce, ErrDuplicateNonce))
}

func invalidTransition(op string, from, to RunStatus) error {
	return errkind.E(errkind.Validation, op, fmt.Errorf("%s to %s: %w", from, to, ErrInvalidTransition))
}

func persistence(op string, err error) error {
	return errkind.E(errkind.Persistence, op, err)
}

func validateTransition(op string, to RunStatus) error {
	if !to.Terminal() {
		return invalidTransition(op, RunRunning, to)
	}
	return nil
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func stamp(t *time.Time, now time.Time) {
	if t.IsZero() {
		*t = now
	}
}
