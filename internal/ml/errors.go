package ml

import (
	"errors"
	"fmt"
)

// Kind classifies a scoring failure. Kinds are stable and safe to expose to callers.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindSchema           Kind = "schema"
	KindModelUnavailable Kind = "model_unavailable"
	KindNotFound         Kind = "not_found"
	KindComputation      Kind = "computation"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrSchema           = &Error{Kind: KindSchema}
	ErrModelUnavailable = &Error{Kind: KindModelUnavailable}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrComputation      = &Error{Kind: KindComputation}
)

// Error is returned by every operation in this package that fails because of
// caller input or an unavailable dependency.
type Error struct {
	Kind     Kind
	Msg      string
	Row      int // -1 when the error is not tied to a row
	ClientID string
	Feature  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSchema) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...), Row: -1}
}

func schemaError(row int, clientID, feature, format string, args ...any) *Error {
	return &Error{
		Kind:     KindSchema,
		Msg:      fmt.Sprintf(format, args...),
		Row:      row,
		ClientID: clientID,
		Feature:  feature,
	}
}

func computationError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindComputation, Msg: fmt.Sprintf(format, args...), Row: -1, Err: err}
}

// NotFoundError reports that clientID is absent from the reference data.
func NotFoundError(clientID string) *Error {
	return &Error{
		Kind:     KindNotFound,
		Msg:      fmt.Sprintf("client %s not found in reference data", clientID),
		Row:      -1,
		ClientID: clientID,
	}
}

// ModelUnavailableError reports that no model is loaded.
func ModelUnavailableError(reason string) *Error {
	return &Error{Kind: KindModelUnavailable, Msg: "model not loaded: " + reason, Row: -1}
}

// InvalidInputError reports caller input that violates a precondition.
func InvalidInputError(format string, args ...any) *Error {
	return invalidInput(format, args...)
}
