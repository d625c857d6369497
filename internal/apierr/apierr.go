// Package apierr defines the error taxonomy surfaced by the HTTP boundary:
// a machine-readable tag, a human message, optional upstream details and a
// flag telling the client to route the user back to the login step.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Error is a boundary-facing error with an HTTP status and machine-readable tag.
type Error struct {
	Status      int    `json:"-"`
	Tag         string `json:"error"`
	Message     string `json:"message,omitempty"`
	Details     any    `json:"details,omitempty"`
	NeedReLogin bool   `json:"needReLogin,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Tag
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func New(status int, tag, message string) *Error {
	return &Error{Status: status, Tag: tag, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "Bad Request", message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, "Unauthorized", message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "Forbidden", message)
}

func MethodNotAllowed() *Error {
	return New(http.StatusMethodNotAllowed, "Method Not Allowed", "only POST requests are accepted")
}

func TooManyRequests(message string) *Error {
	return New(http.StatusTooManyRequests, "Rate Limited", message)
}

func Timeout(message string) *Error {
	return New(http.StatusGatewayTimeout, "Timeout", message)
}

// Upstream wraps a non-2xx carrier response, preserving its status code and body.
func Upstream(status int, tag string, details any) *Error {
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	return &Error{Status: status, Tag: tag, Details: details}
}

func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Tag: "Internal Server Error", Message: err.Error()}
}

// WithDetails attaches upstream response details.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithReLogin marks the error as requiring a fresh login so the client UI can
// route the user back to the login step instead of showing a generic error.
func (e *Error) WithReLogin() *Error {
	e.NeedReLogin = true
	return e
}

// From coerces any error into an *Error, treating unexpected ones as Internal.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// WriteJSON renders err as a JSON response on w and logs server-side failures.
func WriteJSON(log *zerolog.Logger, w http.ResponseWriter, err error) {
	apiErr := From(err)
	if log != nil && apiErr.Status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", apiErr.Status).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(apiErr)
}
