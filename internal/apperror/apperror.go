// Package apperror is the error taxonomy shared by the workflow services.
// Every failure a service returns to its caller is an *AppError with a Kind.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindInvalidState      Kind = "invalid_state"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindNoFundingSource   Kind = "no_funding_source"
	KindInternal          Kind = "internal"
)

type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *AppError {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *AppError {
	return newf(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *AppError {
	return newf(KindForbidden, format, args...)
}

func InvalidState(format string, args ...any) *AppError {
	return newf(KindInvalidState, format, args...)
}

func InsufficientFunds(format string, args ...any) *AppError {
	return newf(KindInsufficientFunds, format, args...)
}

func NoFundingSource(format string, args ...any) *AppError {
	return newf(KindNoFundingSource, format, args...)
}

// Internal wraps an unexpected failure (storage, broker) so callers still get
// a typed result.
func Internal(err error, message string) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Details: err.Error(), Err: err}
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(format string, args ...any) *AppError {
	cp := *e
	cp.Details = fmt.Sprintf(format, args...)
	return &cp
}

// KindOf returns the kind of the first *AppError in err's chain, or
// KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Ensure converts any error into an *AppError, leaving typed errors alone.
func Ensure(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return Internal(err, message)
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidState:
		return http.StatusConflict
	case KindInsufficientFunds, KindNoFundingSource:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
