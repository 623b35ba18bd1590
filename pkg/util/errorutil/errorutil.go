// Package errorutil maps service errors onto HTTP-facing error codes.
package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tallerflow/ticket-service/internal/domain"
)

// Error codes returned to clients.
const (
	CodeValidation          = "VALIDATION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeConflict            = "CONFLICT"
	CodePreconditionBlocked = "PRECONDITION_BLOCKED"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeFormRequired        = "FORM_REQUIRED"
	CodeTransactionConflict = "TRANSACTION_CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts service errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	var (
		blocked    *domain.BlockedError
		transition *domain.TransitionError
	)
	switch {
	case errors.As(err, &blocked):
		return &DomainError{
			Code:       CodePreconditionBlocked,
			Message:    err.Error(),
			HTTPStatus: http.StatusConflict,
			Details: map[string]any{
				"target":       string(blocked.Target),
				"prerequisite": string(blocked.Prerequisite),
			},
			Err: err,
		}
	case errors.As(err, &transition):
		return &DomainError{
			Code:       CodeInvalidTransition,
			Message:    err.Error(),
			HTTPStatus: http.StatusUnprocessableEntity,
			Details: map[string]any{
				"from":   string(transition.From),
				"to":     string(transition.To),
				"reason": transition.Reason,
			},
			Err: err,
		}
	case errors.Is(err, domain.ErrFormRequired):
		return &DomainError{Code: CodeFormRequired, Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	case errors.Is(err, domain.ErrTransactionConflict):
		return &DomainError{Code: CodeTransactionConflict, Message: "too much contention, try again", HTTPStatus: http.StatusServiceUnavailable, Err: err}
	case errors.Is(err, domain.ErrTicketNotFound):
		return &DomainError{Code: CodeNotFound, Message: "ticket not found", HTTPStatus: http.StatusNotFound, Details: map[string]any{}, Err: err}
	case errors.Is(err, domain.ErrValidation):
		return &DomainError{Code: CodeValidation, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err}
	}

	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
