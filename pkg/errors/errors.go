package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

// ErrorCode is the OAuth2 "error" value returned to callers
type ErrorCode string

const (
	ErrCodeInvalidRequest         ErrorCode = "invalid_request"
	ErrCodeInvalidClient          ErrorCode = "invalid_client"
	ErrCodeInvalidGrant           ErrorCode = "invalid_grant"
	ErrCodeInvalidScope           ErrorCode = "invalid_scope"
	ErrCodeUnauthorizedClient     ErrorCode = "unauthorized_client"
	ErrCodeUnsupportedGrantType   ErrorCode = "unsupported_grant_type"
	ErrCodeUnsupportedResponse    ErrorCode = "unsupported_response_type"
	ErrCodeAccessDenied           ErrorCode = "access_denied"
	ErrCodeNoConsent              ErrorCode = "no_consent"
	ErrCodeUnauthorized           ErrorCode = "unauthorized"
	ErrCodeForbidden              ErrorCode = "forbidden"
	ErrCodeNotFound               ErrorCode = "not_found"
	ErrCodeRateLimitExceeded      ErrorCode = "slow_down"
	ErrCodeTemporarilyUnavailable ErrorCode = "temporarily_unavailable"
	ErrCodeInternal               ErrorCode = "server_error"
)

// Error is an OAuth2 error with an optional wrapped cause. Only Code and
// Message are ever shown to the caller.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status used when the error reaches the HTTP edge
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidRequest, ErrCodeInvalidClient, ErrCodeInvalidGrant,
		ErrCodeInvalidScope, ErrCodeUnauthorizedClient, ErrCodeUnsupportedGrantType,
		ErrCodeUnsupportedResponse, ErrCodeAccessDenied, ErrCodeNoConsent:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON body of every error response
type Response struct {
	Error       ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`
}

// Render writes err as an OAuth2 JSON error. Unstructured errors become
// server_error and their cause is logged, not returned.
func Render(w http.ResponseWriter, r *http.Request, err error) {
	RenderStatus(w, r, err, 0)
}

// RenderStatus is Render with an explicit status override; 0 keeps the mapped status.
func RenderStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	var e *Error
	if !errors.As(err, &e) {
		slog.Error("Unhandled error", "path", r.URL.Path, "err", err)
		e = New(ErrCodeInternal, "internal error")
	} else if e.Code == ErrCodeInternal || e.Code == ErrCodeTemporarilyUnavailable {
		slog.Error("Request failed", "path", r.URL.Path, "code", e.Code, "err", e)
	} else {
		slog.Debug("Request rejected", "path", r.URL.Path, "code", e.Code, "msg", e.Message)
	}
	if status == 0 {
		status = e.HTTPStatusCode()
	}
	render.Status(r, status)
	render.JSON(w, r, Response{Error: e.Code, Description: e.Message})
}

// Common error constructors

func InvalidRequest(message string) *Error { return New(ErrCodeInvalidRequest, message) }

func InvalidClient(message string) *Error { return New(ErrCodeInvalidClient, message) }

func InvalidGrant(message string) *Error { return New(ErrCodeInvalidGrant, message) }

func InvalidScope(message string) *Error { return New(ErrCodeInvalidScope, message) }

func Unauthorized(message string) *Error { return New(ErrCodeUnauthorized, message) }

func Forbidden(message string) *Error { return New(ErrCodeForbidden, message) }

// InternalWrap wraps an internal error
func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}
