// Package apperr defines the error taxonomy shared by the collaboration
// services. Every failure reported to a client carries one of these kinds.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindInvalidReference Kind = "INVALID_REFERENCE"
	KindConflict         Kind = "CONFLICT"
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	KindMalformedInput   Kind = "MALFORMED_INPUT"
	KindUnauthorized     Kind = "UNAUTHORIZED"
)

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrInvalidReference = &Error{Kind: KindInvalidReference, Message: "invalid reference"}
	ErrConflict         = &Error{Kind: KindConflict, Message: "conflict"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
	ErrMalformedInput   = &Error{Kind: KindMalformedInput, Message: "malformed input"}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
)

type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// Retryable reports whether the caller may try the same action again.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindStoreUnavailable
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

func WithDetails(kind Kind, message string, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

func InvalidReference(format string, args ...any) *Error {
	return New(KindInvalidReference, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func MalformedInput(format string, args ...any) *Error {
	return New(KindMalformedInput, format, args...)
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
