package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes rendered to API clients.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeAlreadyAssigned   = "ALREADY_ASSIGNED"
	CodeSlotTaken         = "SLOT_TAKEN"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeConnectionClosed  = "CONNECTION_CLOSED"
	CodeInternal          = "INTERNAL_ERROR"
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

// Is matches any DomainError carrying the same code, so callers can compare
// against the package sentinels with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks. Never mutate them; use the constructors.
var (
	ErrValidation        = &DomainError{Code: CodeValidation, Message: "validation failed", HTTPStatus: http.StatusBadRequest}
	ErrNotFound          = &DomainError{Code: CodeNotFound, Message: "not found", HTTPStatus: http.StatusNotFound}
	ErrUnauthorized      = &DomainError{Code: CodeUnauthorized, Message: "unauthorized", HTTPStatus: http.StatusUnauthorized}
	ErrForbidden         = &DomainError{Code: CodeForbidden, Message: "forbidden", HTTPStatus: http.StatusForbidden}
	ErrAlreadyAssigned   = &DomainError{Code: CodeAlreadyAssigned, Message: "ticket already assigned", HTTPStatus: http.StatusConflict}
	ErrSlotTaken         = &DomainError{Code: CodeSlotTaken, Message: "time slot already booked", HTTPStatus: http.StatusConflict}
	ErrInvalidTransition = &DomainError{Code: CodeInvalidTransition, Message: "invalid status transition", HTTPStatus: http.StatusConflict}
	ErrConnectionClosed  = &DomainError{Code: CodeConnectionClosed, Message: "connection closed", HTTPStatus: http.StatusInternalServerError}
	ErrInternal          = &DomainError{Code: CodeInternal, Message: "internal server error", HTTPStatus: http.StatusInternalServerError}
)

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

// NewAlreadyAssigned is returned to the losing side of a claim race.
func NewAlreadyAssigned(ticketID string) error {
	return NewDomainError(CodeAlreadyAssigned, "ticket already assigned", http.StatusConflict,
		map[string]any{"ticket_id": ticketID})
}

// NewSlotTaken is returned to the losing side of a booking race.
func NewSlotTaken(counselorID string, at time.Time) error {
	return NewDomainError(CodeSlotTaken, "counselor already booked for this time", http.StatusConflict,
		map[string]any{"counselor_id": counselorID, "scheduled_at": at.UTC().Format(time.RFC3339)})
}

func NewInvalidTransition(from, to string) error {
	return NewDomainError(CodeInvalidTransition, fmt.Sprintf("cannot move from %s to %s", from, to), http.StatusConflict,
		map[string]any{"from": from, "to": to})
}

func NewConnectionClosed(err error) error {
	return &DomainError{
		Code:       CodeConnectionClosed,
		Message:    "connection closed",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// MapError is ToDomainError for error-returning call sites. nil stays nil.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
