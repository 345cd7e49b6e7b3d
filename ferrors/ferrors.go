// Package ferrors classifies the failures a finalization run can hit, per
// spec.md §7: a deposit is either Invalid (the client supplied malformed
// content) or Failed (an operator-side or transient fault). Every
// component in the pipeline — C2 through C6 — returns errors wrapped with
// Invalid or Failed so the orchestrator (C7) can write the right terminal
// state without knowing the internals of whichever component failed.
//
// This plays the role items.Validate's (problems []string, err error)
// split plays in the teacher repo, generalized into a single error value so
// it composes with the standard library's error wrapping.
package ferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind distinguishes a client-fault from an operator-fault.
type Kind int

const (
	// KindInvalid means the client supplied malformed content: a bad bag,
	// a bad chunk sequence suffix, or similar.
	KindInvalid Kind = iota
	// KindFailed means an operator-side or transient fault: I/O,
	// versioning, promotion.
	KindFailed
)

// Error is a classified failure from one pipeline component. Cause, if
// present, is the underlying error that triggered it (an I/O error, a
// library error), retrievable from the field or with errors.Unwrap.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Cause)
	}
	return e.Msg
}

// Unwrap lets errors.Is/errors.As/errors.Unwrap see through to Cause.
// pkg/errors.Cause does not, since Error has no Cause() method.
func (e *Error) Unwrap() error { return e.Cause }

// Invalidf builds a KindInvalid error with no underlying cause: the
// deposit itself is the problem, not the system handling it.
func Invalidf(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalid, Msg: fmt.Sprintf(format, args...)}
}

// Failed wraps cause as a KindFailed error with the given message.
func Failed(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindFailed, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// IsInvalid reports whether err (or something it wraps) is a KindInvalid
// classified error.
func IsInvalid(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindInvalid
}

// IsFailed reports whether err (or something it wraps) is explicitly
// KindFailed classified. It does not default true for unclassified errors;
// callers that need the "anything unclassified is Failed" fallback from
// spec.md §7 should check !IsInvalid(err) instead.
func IsFailed(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindFailed
}
