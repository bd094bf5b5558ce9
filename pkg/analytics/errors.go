package analytics

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failure.
type Kind int

const (
	// KindNetworkFailure covers transport errors, timeouts and unexpected
	// server responses.
	KindNetworkFailure Kind = iota
	// KindUnauthorized means the credential is missing, invalid or expired.
	KindUnauthorized
	// KindInvalidInput means the request was rejected because of its content.
	KindInvalidInput
	// KindInvalidSelection means a repository outside the current list was
	// chosen.
	KindInvalidSelection
	// KindNoRepositorySelected means an operation required the repository to
	// be the current selection.
	KindNoRepositorySelected
	// KindUnsupported means the source cannot serve the operation.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNetworkFailure:
		return "network failure"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidInput:
		return "invalid input"
	case KindInvalidSelection:
		return "invalid selection"
	case KindNoRepositorySelected:
		return "no repository selected"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is matching against an *Error of the same Kind.
var (
	ErrNetworkFailure       = &Error{Kind: KindNetworkFailure}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrInvalidSelection     = &Error{Kind: KindInvalidSelection}
	ErrNoRepositorySelected = &Error{Kind: KindNoRepositorySelected}
	ErrUnsupported          = &Error{Kind: KindUnsupported}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation, e.g. "GetCommitTrend".
	Op string
	// StatusCode is the HTTP status when the failure came from a response.
	StatusCode int
	// Detail is the server supplied reason, if any.
	Detail string
	Err    error
}

// NewError builds an *Error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf classifies err. Errors that carry no classification, including
// context cancellation and deadline errors, are network failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetworkFailure
}

// networkError wraps an unclassified failure, keeping an existing
// classification intact.
func networkError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: KindNetworkFailure, Op: op, Detail: "timeout", Err: err}
	}
	return &Error{Kind: KindNetworkFailure, Op: op, Err: err}
}

func unsupported(source, op string) error {
	return &Error{Kind: KindUnsupported, Op: op, Detail: source + " source does not provide this operation"}
}
