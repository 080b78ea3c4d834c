// Package svnerr defines the error taxonomy shared by every component of
// svncore. Errors are values carrying a Kind plus an optional wrapped
// cause rather than distinct Go types, so callers can match on Kind
// without type-asserting through every package.
package svnerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way spec.md §7 groups them: transport,
// protocol/XML, delta, tree-state, and policy failures.
type Kind string

const (
	// Transport
	KindConnectionFailed     Kind = "connection-failed"
	KindConnectionTimedOut   Kind = "connection-timed-out"
	KindRequestCreationFailed Kind = "request-creation-failed"
	KindRequestFailed        Kind = "request-failed"
	KindRelocated            Kind = "relocated"
	KindAuthnFailed          Kind = "authn-failed"

	// Protocol/XML
	KindMalformedXML      Kind = "malformed-xml"
	KindUnexpectedElement Kind = "unexpected-element"
	KindIncompleteData    Kind = "incomplete-data"
	KindUnsupportedFeature Kind = "unsupported-feature"

	// Delta
	KindMalformedSvndiff   Kind = "malformed-svndiff"
	KindUnsupportedVersion Kind = "unsupported-version"
	KindChecksumMismatch   Kind = "checksum-mismatch"
	KindStreamUnexpectedEOF Kind = "stream-unexpected-eof"

	// Tree-state
	KindPathNotFound     Kind = "path-not-found"
	KindOutOfDate        Kind = "out-of-date"
	KindAlreadyExists    Kind = "already-exists"
	KindNoLockToken      Kind = "no-lock-token"
	KindMethodNotAllowed Kind = "method-not-allowed"
	KindForbidden        Kind = "forbidden"

	// Policy
	KindCancelled  Kind = "cancelled"
	KindBadURL     Kind = "bad-url"
	KindBadFilename Kind = "bad-filename"

	// Driver protocol misuse (programming errors, spec.md §8 property 3)
	KindIncompleteEdit Kind = "incomplete-edit"
	KindProtocolMisuse Kind = "protocol-misuse"
)

// Error is the concrete error value used throughout svncore. It always
// carries a Kind, a human-readable message, and optionally a wrapped
// cause reachable through errors.Unwrap/errors.Cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap lets errors.Is/errors.As see through to the cause.
func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare Error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a bare Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an existing cause, preserving the
// chain so errors.Cause(err) still reaches the original failure.
func Wrap(cause error, kind Kind, msg string) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Cause: errors.WithStack(cause)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...interface{}) error {
	return Wrap(cause, kind, fmt.Sprintf(format, args...))
}

// Is reports whether err, or any error in its chain, carries the given
// Kind. It does not use the stdlib errors.Is identity semantics because
// Error values are never singletons; it walks Cause links by hand.
func Is(err error, kind Kind) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			if se.Kind == kind {
				return true
			}
			err = se.Cause
			continue
		}
		cause := errors.Cause(err)
		if cause == err {
			return false
		}
		err = cause
	}
	return false
}

// KindOf returns the Kind of the first *Error found in err's chain, or ""
// if none is found.
func KindOf(err error) Kind {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.Kind
		}
		cause := errors.Cause(err)
		if cause == err {
			return ""
		}
		err = cause
	}
	return ""
}

// Chain combines an original error with a second error raised while
// cleaning up after the first (e.g. the DELETE of an activity that failed
// after a commit error). Design Notes §9 calls for preserving both rather
// than discarding the original on a free-then-return pattern.
func Chain(original, cleanup error) error {
	switch {
	case original == nil:
		return cleanup
	case cleanup == nil:
		return original
	default:
		return &Error{
			Kind:  KindOf(original),
			Msg:   original.Error(),
			Cause: errors.Wrap(cleanup, "during cleanup after original error"),
		}
	}
}
