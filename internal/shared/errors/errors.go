// Package errors provides application-level error types and utilities.
// Every failure that crosses a component boundary is classified into one of
// the ErrorType values below.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeDomainRejection is a business-rule violation. Never retried.
	ErrorTypeDomainRejection ErrorType = "domain_rejection"
	// ErrorTypeLedgerRejected is a terminal refusal by the ledger.
	ErrorTypeLedgerRejected ErrorType = "ledger_rejected"
	// ErrorTypeOperationFailed is a transient ledger failure that exhausted its retries.
	ErrorTypeOperationFailed ErrorType = "operation_failed"
	ErrorTypeValidation      ErrorType = "validation_error"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeInternal        ErrorType = "internal_error"
)

// AppError represents an application error with additional context
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details string    `json:"details,omitempty"`

	cause error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is matches domain sentinels.
func (e *AppError) Unwrap() error {
	return e.cause
}

func newAppError(t ErrorType, code int, message string, details []string) *AppError {
	e := &AppError{Type: t, Message: message, Code: code}
	if len(details) > 0 {
		e.Details = strings.Join(details, "; ")
	}
	return e
}

// NewDomainRejection wraps a domain sentinel error. The sentinel's text becomes
// the message so it reaches the caller verbatim.
func NewDomainRejection(cause error, details ...string) *AppError {
	e := newAppError(ErrorTypeDomainRejection, http.StatusUnprocessableEntity, cause.Error(), details)
	e.cause = cause
	return e
}

// NewLedgerRejectedError reports a terminal ledger refusal.
func NewLedgerRejectedError(reason string, details ...string) *AppError {
	return newAppError(ErrorTypeLedgerRejected, http.StatusConflict, reason, details)
}

// NewOperationFailedError reports a ledger operation that could not be
// delivered after exhausting transient retries.
func NewOperationFailedError(cause error, details ...string) *AppError {
	e := newAppError(ErrorTypeOperationFailed, http.StatusServiceUnavailable, "ledger operation failed", details)
	if cause != nil {
		e.Details = strings.TrimPrefix(e.Details+"; "+cause.Error(), "; ")
	}
	e.cause = cause
	return e
}

// NewValidationError creates a new validation error
func NewValidationError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeValidation, http.StatusBadRequest, message, details)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeNotFound, http.StatusNotFound, message, details)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeUnauthorized, http.StatusUnauthorized, message, details)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, details ...string) *AppError {
	return newAppError(ErrorTypeInternal, http.StatusInternalServerError, message, details)
}

// GetAppError extracts AppError from error
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func isType(err error, t ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == t
}

func IsDomainRejection(err error) bool { return isType(err, ErrorTypeDomainRejection) }

func IsLedgerRejected(err error) bool { return isType(err, ErrorTypeLedgerRejected) }

func IsOperationFailed(err error) bool { return isType(err, ErrorTypeOperationFailed) }

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsDuplicateError checks if the error is a database duplicate key error
func IsDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Duplicate entry") ||
		strings.Contains(s, "duplicate key") ||
		strings.Contains(s, "UNIQUE constraint failed") ||
		strings.Contains(s, "violates unique constraint")
}
