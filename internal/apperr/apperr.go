// Package apperr defines the error taxonomy shared by the lifecycle
// orchestrator, membership manager, storage layer, and HTTP surface. Every
// rejected operation carries a specific code plus a recoverable flag callers
// can use to decide on retry behaviour.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies one member of the error taxonomy.
type Code string

const (
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeAlreadyBroadcasting   Code = "ALREADY_BROADCASTING"
	CodeCapacityExceeded      Code = "CAPACITY_EXCEEDED"
	CodeAlreadyHost           Code = "ALREADY_HOST"
	CodeNotAHost              Code = "NOT_A_HOST"
	CodeInviteInvalid         Code = "INVITE_INVALID"
	CodeUnsupportedStreamType Code = "UNSUPPORTED_STREAM_TYPE"
	CodeExternalService       Code = "EXTERNAL_SERVICE_ERROR"
	CodeSignatureInvalid      Code = "SIGNATURE_INVALID"
)

// Error is a coded application error. Recoverable signals that the caller may
// treat the condition as retryable or success-equivalent (for example a
// re-entrant start against an already-live stream).
type Error struct {
	Code        Code
	Message     string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so sentinel comparisons like
// errors.Is(err, &Error{Code: CodeNotFound}) work across wrapped chains.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// New constructs a non-recoverable error with the given code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Recoverable constructs an error the caller may treat as retryable.
func Recoverable(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Recoverable: true}
}

// Wrap attaches a taxonomy code to an upstream failure, preserving the cause
// for diagnosis.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// External wraps an upstream service failure as EXTERNAL_SERVICE_ERROR.
func External(err error, format string, args ...any) *Error {
	return Wrap(CodeExternalService, err, format, args...)
}

// CodeOf extracts the taxonomy code from an error chain.
func CodeOf(err error) (Code, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code, true
	}
	return "", false
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}

// IsRecoverable reports whether the error chain carries a recoverable coded
// error.
func IsRecoverable(err error) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Recoverable
	}
	return false
}
