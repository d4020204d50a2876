package policy

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation on a feedback was refused.
type Kind string

const (
	KindNotAuthenticated Kind = "NOT_AUTHENTICATED"
	KindNotFound         Kind = "NOT_FOUND"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindInvalidState     Kind = "INVALID_STATE"
	KindValidationFailed Kind = "VALIDATION_FAILED"
)

// Error is the only error type the decision layer and the feedback service
// return for refusals. Anything else reaching a handler is an internal error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, policy.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotAuthenticated = &Error{Kind: KindNotAuthenticated}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrValidationFailed = &Error{Kind: KindValidationFailed}
)

func NotAuthenticated(format string, args ...any) error {
	return &Error{Kind: KindNotAuthenticated, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...any) error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func ValidationFailed(format string, args ...any) error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not a policy error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
