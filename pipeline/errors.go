package pipeline

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/atlas-server/upstream"
)

// Kind classifies where a request failed.
type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindTranscription
	KindChat
	KindSynthesis
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input_error"
	case KindTranscription:
		return "transcription_error"
	case KindChat:
		return "chat_error"
	case KindSynthesis:
		return "synthesis_error"
	default:
		return "internal_error"
	}
}

// Error is a failure tagged with the stage that produced it.
type Error struct {
	Kind Kind
	Err  error

	timedOut bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }

// Timeout reports whether the stage ran out of time.
func (e *Error) Timeout() bool {
	return e.timedOut || errors.Is(e.Err, context.DeadlineExceeded)
}

// Unauthorized reports whether the upstream service rejected our credentials.
func (e *Error) Unauthorized() bool {
	var statusErr *upstream.StatusError
	return errors.As(e.Err, &statusErr) && statusErr.Unauthorized()
}

// Public is the message safe to hand back to the client. Upstream bodies stay in the logs.
func (e *Error) Public() string {
	switch e.Kind {
	case KindInput:
		return e.Err.Error()
	case KindTranscription:
		return "transcription failed"
	case KindChat:
		return "chat completion failed"
	case KindSynthesis:
		return "speech synthesis failed"
	default:
		return "internal server error"
	}
}

// NewInputError rejects a request before any external service is called.
func NewInputError(msg string) error {
	return &Error{Kind: KindInput, Err: errors.New(msg)}
}

// AsError returns err as a *Error, tagging unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf classifies err; unknown errors are internal.
func KindOf(err error) Kind {
	if pe := AsError(err); pe != nil {
		return pe.Kind
	}
	return KindInternal
}
