package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/domain/preference"
	"github.com/NordCoder/Herald/internal/services/fanout"
	"github.com/NordCoder/Herald/internal/services/query"
)

// AppError is the error shape rendered to API clients.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Internal }

func (e *AppError) WithInternal(err error) *AppError {
	cp := *e
	cp.Internal = err
	return &cp
}

func (e *AppError) WithMessage(msg string) *AppError {
	cp := *e
	cp.Message = msg
	return &cp
}

var (
	ErrUnauthorized = &AppError{Code: "UNAUTHORIZED", Message: "Caller identity required", StatusCode: http.StatusUnauthorized}
	ErrForbidden    = &AppError{Code: "FORBIDDEN", Message: "Not a member of this workspace", StatusCode: http.StatusForbidden}
	ErrNotFound     = &AppError{Code: "NOT_FOUND", Message: "Notification not found", StatusCode: http.StatusNotFound}
	ErrBadRequest   = &AppError{Code: "BAD_REQUEST", Message: "Invalid request", StatusCode: http.StatusBadRequest}
	ErrConflict     = &AppError{Code: "INVALID_TRANSITION", Message: "Notification is not in a state that allows this", StatusCode: http.StatusConflict}
	ErrNoMembers    = &AppError{Code: "INVALID_WORKSPACE", Message: "Workspace has no members", StatusCode: http.StatusUnprocessableEntity}
	ErrInternal     = &AppError{Code: "INTERNAL_SERVER_ERROR", Message: "Internal server error", StatusCode: http.StatusInternalServerError}
)

// FromError maps service and domain errors onto client-facing codes. Anything
// unrecognised is an internal error.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	switch {
	case errors.Is(err, notification.ErrForbidden):
		return ErrForbidden.WithInternal(err)
	case errors.Is(err, notification.ErrNotFound):
		return ErrNotFound.WithInternal(err)
	case errors.Is(err, notification.ErrInvalidTransition):
		return ErrConflict.WithInternal(err)
	case errors.Is(err, fanout.ErrInvalidWorkspace):
		return ErrNoMembers.WithInternal(err)
	case errors.Is(err, fanout.ErrInvalidRequest),
		errors.Is(err, notification.ErrInvalidCursor),
		errors.Is(err, notification.ErrInvalidPriority),
		errors.Is(err, query.ErrInvalidFilter),
		errors.Is(err, preference.ErrInvalidPatch):
		return ErrBadRequest.WithMessage(err.Error()).WithInternal(err)
	}
	return ErrInternal.WithInternal(err)
}
