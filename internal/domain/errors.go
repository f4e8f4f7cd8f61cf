package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the managers unwraps to exactly one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrStore             = errors.New("document store failure")
	ErrInvalidTransition = errors.New("invalid transition")
)

var (
	// ErrSessionNotFound is returned when a join code or teacher id resolves to no session.
	ErrSessionNotFound = kindError(ErrNotFound, "session not found")
	// ErrStudentNotFound is returned when a roster entry does not exist.
	ErrStudentNotFound = kindError(ErrNotFound, "student not found in session")
	// ErrResponseNotFound is returned when a participant acts before joining.
	ErrResponseNotFound = kindError(ErrNotFound, "quiz response not found")
	// ErrQuizNotFound indicates the quiz definition could not be loaded.
	ErrQuizNotFound = kindError(ErrNotFound, "quiz not found")
	// ErrQuestionNotFound indicates a submitted question id is not part of the quiz.
	ErrQuestionNotFound = kindError(ErrNotFound, "question not found")

	// ErrAlreadyAnswered rejects a second answer to the same question.
	ErrAlreadyAnswered = kindError(ErrValidation, "question already answered")
	// ErrInvalidCode rejects a join code with no alphanumeric characters.
	ErrInvalidCode = kindError(ErrValidation, "invalid join code")

	// ErrSessionInactive is returned for broadcast operations that need a live session.
	ErrSessionInactive = kindError(ErrInvalidTransition, "session is not active")
	// ErrQuizEnded is returned for operations against an ended quiz.
	ErrQuizEnded = kindError(ErrInvalidTransition, "quiz session has ended")
	// ErrQuizNotStarted is returned for answers submitted while the quiz is waiting.
	ErrQuizNotStarted = kindError(ErrInvalidTransition, "quiz session has not started")
	// ErrQuestionNotOpen rejects answers to questions the session has not reached.
	ErrQuestionNotOpen = kindError(ErrInvalidTransition, "question is not open yet")
	// ErrStudentDisconnected rejects freeze toggles on disconnected students.
	ErrStudentDisconnected = kindError(ErrInvalidTransition, "student is disconnected")
	// ErrStaleState means the document changed since the caller last read it.
	ErrStaleState = kindError(ErrInvalidTransition, "state changed concurrently")
)

type kindErr struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &kindErr{kind: kind, msg: msg}
}

func (e *kindErr) Error() string { return e.msg }

func (e *kindErr) Unwrap() error { return e.kind }

// ValidationError reports a problem with one input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a field-level ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StoreError wraps a document store failure so it matches ErrStore and keeps the cause.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// Kind returns the error kind of err, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrInvalidTransition, ErrStore} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
