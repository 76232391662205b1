package core

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrLocked   = errors.New("resource is locked by another operation")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// StateError reports an operation that is not allowed in the current workflow state.
type StateError struct {
	Op  string
	Err error
}

func (err *StateError) Error() string { return err.Op + ": " + err.Err.Error() }

func (err *StateError) Cause() error { return err.Err }

func (err *StateError) Unwrap() error { return err.Err }

func NewStateError(op string, err error) error {
	return &StateError{Op: op, Err: err}
}

// BackendError is returned when the REST backend answers with a non-2xx status.
// Message holds the backend-provided message when one could be decoded.
type BackendError struct {
	Op         string
	StatusCode int
	Message    string
}

func (err *BackendError) Error() string {
	msg := err.Message
	if msg == "" {
		msg = http.StatusText(err.StatusCode)
	}
	return fmt.Sprintf("%s: backend responded %d: %s", err.Op, err.StatusCode, msg)
}

// UserMessage returns the message to surface to an operator: the backend's own message when available,
// the generic fallback otherwise.
func UserMessage(err error, fallback string) string {
	switch e := errors.Cause(err).(type) {
	case *BackendError:
		if e.Message != "" {
			return e.Message
		}
	case *ValidationError:
		if msg := e.Error(); msg != "" {
			return msg
		}
	}
	return fallback
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
