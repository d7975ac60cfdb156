// Package errkind classifies failures from the remote content source,
// embedding provider, and vector index so callers can decide whether to
// retry, report, or abort.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class. The zero value is Unknown.
type Kind string

const (
	Unknown               Kind = "Unknown"
	SourceUnavailable     Kind = "SourceUnavailable"
	NotFound              Kind = "NotFound"
	EmbeddingRateLimited  Kind = "EmbeddingRateLimited"
	EmbeddingInvalidInput Kind = "EmbeddingInvalidInput"
	IndexUnavailable      Kind = "IndexUnavailable"
	IndexQuotaExceeded    Kind = "IndexQuotaExceeded"
	Configuration         Kind = "Configuration"
	InvalidArgument       Kind = "InvalidArgument"
)

// Error carries a failure Kind alongside the wrapped cause. Op names the
// operation (and, where useful, the page or query) that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with the given kind and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(message)}
}

// Newf returns an Error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and operation to err. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or
// Unknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Retryable reports whether err's kind is a transient failure worth
// retrying with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case SourceUnavailable, EmbeddingRateLimited, IndexUnavailable:
		return true
	}
	return false
}
