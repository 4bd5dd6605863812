// Package faults tags errors with the failure kinds the submission and
// scheduling paths branch on. Kinds travel inside the error chain, so callers
// classify with KindOf instead of matching message strings.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failure for retry and surfacing decisions.
type Kind int

const (
	// KindUnknown is any failure without a more specific classification.
	KindUnknown Kind = iota
	// KindTimeout is an exceeded deadline on an outbound call.
	KindTimeout
	// KindTransient is a recoverable network fault other than a timeout,
	// such as a connection reset or temporary DNS failure.
	KindTransient
	// KindValidation is a malformed input item. Never retried.
	KindValidation
	// KindAuth means the downstream demands account verification. Terminal
	// for the whole run: operator action is required before any further
	// submission can succeed.
	KindAuth
	// KindSession is a logged-out or invalid-credential response. Not
	// retryable (the shared cookies are dead), but not run-terminal.
	KindSession
	// KindCapacity means the task registry is at its concurrency ceiling.
	KindCapacity
	// KindConfig is a malformed section, credential or schedule setting.
	KindConfig
)

// String returns a stable lowercase label for logs and API payloads.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth_required"
	case KindSession:
		return "session_invalid"
	case KindCapacity:
		return "capacity_exceeded"
	case KindConfig:
		return "config_invalid"
	default:
		return "unknown"
	}
}

// Retryable reports whether a bounded retry makes sense for the kind.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindTransient
}

// Error carries a Kind alongside a wrapped cause.
type Error struct {
	kind Kind
	err  error
}

// New builds a tagged error from a message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, err: errors.New(msg)}
}

// Newf builds a tagged error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// Tag wraps err with a kind. Returns nil when err is nil.
func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// Kind returns the classification carried by the error.
func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// KindOf walks the chain for a tagged Error. Untagged errors fall back to a
// structural classification: deadline errors and net timeouts are KindTimeout,
// other net errors KindTransient, everything else KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	return KindUnknown
}

// IsKind reports whether err classifies as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
