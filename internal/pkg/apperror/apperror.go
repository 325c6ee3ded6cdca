package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the HTTP boundary.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindUpstream       Kind = "upstream"
	KindSignature      Kind = "signature"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Error is the application error carried from services to handlers.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails sets the user-facing details string.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

func Wrap(err error, kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Err: err}
}

func Unauthorized() *Error {
	return New(KindAuthentication, http.StatusUnauthorized, "Unauthorized")
}

func Validation(message string) *Error {
	return New(KindValidation, http.StatusBadRequest, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, http.StatusNotFound, message)
}

func Signature(message string) *Error {
	return New(KindSignature, http.StatusBadRequest, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, http.StatusConflict, message)
}

func Internal(err error, message string) *Error {
	return Wrap(err, KindInternal, http.StatusInternalServerError, message)
}

// Upstream wraps a payment provider failure. Provider 4xx statuses pass
// through, everything else becomes 502.
func Upstream(err error, message string, upstreamStatus int) *Error {
	status := http.StatusBadGateway
	if upstreamStatus >= 400 && upstreamStatus < 500 {
		status = upstreamStatus
	}
	e := Wrap(err, KindUpstream, status, message)
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

// From normalizes any error into an *Error, defaulting to internal.
func From(err error) *Error {
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(err, "Internal server error")
}
