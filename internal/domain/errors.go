package domain

import (
	"errors"
	"fmt"
)

// Kind classifies every failure a caller can observe.
type Kind string

const (
	KindValidation       Kind = "VALIDATION"
	KindConflict         Kind = "CONFLICT"
	KindQuotaExceeded    Kind = "QUOTA_EXCEEDED"
	KindModelUnavailable Kind = "MODEL_UNAVAILABLE"
	KindInternal         Kind = "INTERNAL"
)

// Error is the structured failure returned across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Field   string        // offending input field, VALIDATION only
	Quota   *QuotaVerdict // usage figures, QUOTA_EXCEEDED only
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request later.
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict || e.Kind == KindModelUnavailable
}

// Validation builds a VALIDATION error for a field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a CONFLICT error naming the current lock holder.
func Conflict(sessionID, holder string) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: fmt.Sprintf("session %s is held by request %s", sessionID, holder),
	}
}

// QuotaExceeded builds a QUOTA_EXCEEDED error carrying the verdict.
func QuotaExceeded(v QuotaVerdict) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Message: fmt.Sprintf("daily token quota exhausted (%d/%d used)", v.Used, v.Limit),
		Quota:   &v,
	}
}

// ModelUnavailable wraps a model boundary failure.
func ModelUnavailable(err error) *Error {
	return &Error{Kind: KindModelUnavailable, Message: "model call failed", Err: err}
}

// Internal wraps any unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf classifies err. Errors that are not *Error are INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
