// Package errs defines the error taxonomy shared by the session flow:
// validation failures are rejected before any network call, network failures
// are retryable by the user, engine errors carry the server-provided message,
// and state errors signal an operation attempted against a missing or
// mis-staged session.
package errs

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound means the referenced session does not exist (or its
// stored record was unreadable). The only recovery is starting over from
// birth-details entry.
var ErrSessionNotFound = errors.New("session not found")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NetworkError wraps a timeout or transport failure against an external
// endpoint. Retry is user-initiated; the failed operation must have left no
// partial state behind.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func Network(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// ServerError is a non-2xx response from the astrology engine. Message holds
// the structured error body when the engine supplied one.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: engine returned %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: engine returned %d", e.Op, e.Status)
}

func Server(op string, status int, message string) *ServerError {
	return &ServerError{Op: op, Status: status, Message: message}
}

func IsServer(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// SessionStateError marks an operation attempted in a state that does not
// allow it, e.g. answering a completed session or finalizing one that is
// still collecting answers.
type SessionStateError struct {
	SessionID string
	State     string
	Op        string
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("%s: session %s is in state %q", e.Op, e.SessionID, e.State)
}

func State(op, sessionID, state string) *SessionStateError {
	return &SessionStateError{SessionID: sessionID, State: state, Op: op}
}

func IsState(err error) bool {
	var se *SessionStateError
	return errors.As(err, &se)
}
