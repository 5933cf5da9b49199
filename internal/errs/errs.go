// Package errs defines the application error taxonomy shared by services and handlers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	TypeValidation      ErrorType = "validation_error"
	TypeNotFound        ErrorType = "not_found"
	TypeConflict        ErrorType = "conflict"
	TypeUnauthenticated ErrorType = "unauthenticated"
	TypeForbidden       ErrorType = "forbidden"
)

// AppError carries the HTTP status a handler should answer with.
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is matches two AppErrors of the same type and message, so a detailed copy of a
// sentinel still satisfies errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

func newError(t ErrorType, code int, message string, details []string) *AppError {
	e := &AppError{Type: t, Message: message, Code: code}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

func NewValidation(message string, details ...string) *AppError {
	return newError(TypeValidation, http.StatusBadRequest, message, details)
}

func NewNotFound(message string, details ...string) *AppError {
	return newError(TypeNotFound, http.StatusNotFound, message, details)
}

func NewConflict(message string, details ...string) *AppError {
	return newError(TypeConflict, http.StatusConflict, message, details)
}

func NewUnauthenticated(message string, details ...string) *AppError {
	return newError(TypeUnauthenticated, http.StatusUnauthorized, message, details)
}

func NewForbidden(message string, details ...string) *AppError {
	return newError(TypeForbidden, http.StatusForbidden, message, details)
}

var (
	ErrTicketNotFound       = NewNotFound("ticket not found")
	ErrProjectNotFound      = NewNotFound("project not found")
	ErrMessageNotFound      = NewNotFound("message not found")
	ErrNotificationNotFound = NewNotFound("notification not found")
	ErrUserNotFound         = NewNotFound("user not found")

	ErrUnauthenticated    = NewUnauthenticated("authentication required")
	ErrInvalidCredentials = NewUnauthenticated("invalid username or password")

	// ErrNotTicketHost and ErrNotMessageAuthor are ownership rejections; the HTTP layer
	// answers them with a plain-text body.
	ErrNotTicketHost    = NewForbidden("You are not allowed")
	ErrNotMessageAuthor = NewForbidden("You are not allowed")
	ErrRoleNotAllowed   = NewForbidden("role not allowed")

	ErrUsernameTaken = NewConflict("username already taken")
)

// Get extracts an AppError from the chain.
func Get(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func IsType(err error, t ErrorType) bool {
	appErr := Get(err)
	return appErr != nil && appErr.Type == t
}
