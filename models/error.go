package models

import (
	"context"
	"errors"
	"fmt"
)

type ErrorClass uint8

const (
	// Transient failures (network unreachable, resource exhaustion) are
	// retried automatically.
	ErrorClass_Transient ErrorClass = iota
	// Conflict means the submission identity was already recorded
	// server-side. Terminal, but treated as success by the caller.
	ErrorClass_Conflict
	// Terminal failures (validation, expired session) are never retried.
	ErrorClass_Terminal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClass_Transient:
		return "transient"
	case ErrorClass_Conflict:
		return "conflict"
	default:
		return "terminal"
	}
}

// RequestError wraps a failure with its retry classification.
type RequestError struct {
	Class ErrorClass
	Msg   string
	Err   error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func NewTransientError(msg string, err error) *RequestError {
	return &RequestError{Class: ErrorClass_Transient, Msg: msg, Err: err}
}

func NewConflictError(msg string) *RequestError {
	return &RequestError{Class: ErrorClass_Conflict, Msg: msg}
}

func NewTerminalError(msg string, err error) *RequestError {
	return &RequestError{Class: ErrorClass_Terminal, Msg: msg, Err: err}
}

// ClassifyError maps an error to its retry class. Unclassified errors are
// treated as transient so that a queued item is never silently dropped.
// Context cancellation is terminal: the caller is shutting down and another
// attempt would fail the same way.
func ClassifyError(err error) ErrorClass {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClass_Terminal
	}
	return ErrorClass_Transient
}

const AlertTitle = "Presence Pipeline Error"

const AlertMessageFmt_TerminalSubmission = "Submission %s for session %s dropped: %s"
