// Package errkind classifies failures by kind and pipeline stage so callers
// can react without matching on strings.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	Unknown          Kind = "unknown"
	Configuration    Kind = "configuration"
	DuplicateRequest Kind = "duplicate_request"
	Transcription    Kind = "transcription"
	Synthesis        Kind = "synthesis"
	Translation      Kind = "translation"
	Retrieval        Kind = "retrieval"
	Generation       Kind = "generation"
	Ingestion        Kind = "ingestion"
	Persistence      Kind = "persistence"
	NotFound         Kind = "not_found"
	Validation       Kind = "validation"
)

// Sentinels for errors.Is checks. An *Error matches the sentinel of its kind.
var (
	ErrConfiguration    = &Error{Kind: Configuration}
	ErrDuplicateRequest = &Error{Kind: DuplicateRequest}
	ErrTranscription    = &Error{Kind: Transcription}
	ErrSynthesis        = &Error{Kind: Synthesis}
	ErrTranslation      = &Error{Kind: Translation}
	ErrRetrieval        = &Error{Kind: Retrieval}
	ErrGeneration       = &Error{Kind: Generation}
	ErrIngestion        = &Error{Kind: Ingestion}
	ErrPersistence      = &Error{Kind: Persistence}
	ErrNotFound         = &Error{Kind: NotFound}
	ErrValidation       = &Error{Kind: Validation}
)

// Error is a classified failure. Stage names the pipeline step that failed
// and Op the operation being attempted.
type Error struct {
	Kind  Kind
	Stage string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Stage != "" {
		msg += " at " + e.Stage
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Stage == "" && t.Err == nil && t.Kind == e.Kind
}

// E wraps err with a kind and operation.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithStage tags err with stage. The innermost classified error keeps its
// kind; unclassified errors become Unknown.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage != "" {
			return err
		}
		cp := *e
		cp.Stage = stage
		return &cp
	}
	return &Error{Kind: Unknown, Stage: stage, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// StageOf returns the first non-empty stage found in the chain.
func StageOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Stage != "" {
			return e.Stage
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
