package dispatch

import "errors"

// ErrClientGone is raised by RunUnary when the item was reaped (or
// found disconnected) before dispatch ever acquired an executor for it.
// Callers surface this as a server error, not a client error — the
// caller did nothing wrong, the server simply gave up waiting on it.
var ErrClientGone = errors.New("User is no longer connected")

// FailureError is returned by RunUnary when the executor itself failed.
// Message is the already-classified, user-facing text; Cause is the
// underlying executor error for logging.
type FailureError struct {
	Message string
	Cause   error
}

func (e *FailureError) Error() string { return e.Message }
func (e *FailureError) Unwrap() error { return e.Cause }
