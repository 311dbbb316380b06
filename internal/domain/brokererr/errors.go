// Package brokererr defines the tagged error-kind taxonomy that every public
// entry point of the broker surfaces uniformly, in place of ad hoc errors or
// panics. The kinds and their disposition mirror the broker's error handling
// design: validation/authorization errors are recovered locally and
// returned; storage and audit failures are fatal to the in-flight operation.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a broker error. Every public entry point
// returns one of these, never a bare error.
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindMissingPermission    Kind = "missing_permission"
	KindForbiddenSelfApprove Kind = "forbidden_self_approval"
	KindStateConflict        Kind = "state_conflict"
	KindNotFound             Kind = "not_found"
	KindPolicyMissing        Kind = "policy_missing"
	KindWrapperFailure       Kind = "wrapper_failure"
	KindWrapperTimeout       Kind = "wrapper_timeout"
	KindOverloaded           Kind = "overloaded"
	KindStorageError         Kind = "storage_error"
	KindAuditFailure         Kind = "audit_failure"
)

// Fatal reports whether errors of this kind are fatal to the in-flight
// operation even when the underlying domain work already succeeded --
// storage and audit failures are surfaced upward rather than swallowed.
func (k Kind) Fatal() bool {
	return k == KindStorageError || k == KindAuditFailure
}

// Error is the broker's uniform error envelope. It carries a machine
// readable Kind, a human Message, optional structured Details for the
// audit trail, and an optional wrapped cause for %w-style unwrapping.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New constructs an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that wraps an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details and returns the same error for
// chaining at the call site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from err, defaulting to KindStorageError for any
// error that did not originate as an *Error -- an untagged error reaching a
// public boundary is treated as the most conservative (fatal) case.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageError
}

// Is reports whether err is a broker error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
