package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// BadRequest wraps a business rejection whose message is shown to the caller verbatim.
func BadRequest(code string, err error) *AppError {
	return &AppError{Code: code, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err}
}

// Upstream reports a failing collaborator without exposing its payload.
func Upstream(message string, err error) *AppError {
	return &AppError{Code: "UPSTREAM_UNAVAILABLE", Message: message, HTTPStatus: http.StatusBadGateway, Err: err}
}

// NotFound reports a missing resource.
func NotFound(message string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: message, HTTPStatus: http.StatusNotFound}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}
