package spark

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of a single LLM request.
type ErrorKind string

const (
	KindSigning    ErrorKind = "signing"
	KindConnection ErrorKind = "connection"
	KindProtocol   ErrorKind = "protocol"
	KindTimeout    ErrorKind = "timeout"
	KindCanceled   ErrorKind = "canceled"
)

// Error is returned by every Client operation that fails.
//
// Code is the service-provided header code for protocol errors and zero otherwise.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Code != 0 {
		return fmt.Sprintf("spark %s error %d: %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("spark %s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether a caller may retry the request with backoff.
// Only connection failures qualify; the client itself never retries.
func (e *Error) Retryable() bool { return e.Kind == KindConnection }

// KindOf returns the kind of a spark error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}
