package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind string

const (
	// KindNetwork means the request did not complete; there is no server message.
	KindNetwork Kind = "network"
	// KindServer means the backend answered with a 4xx or 5xx status.
	KindServer Kind = "server"
	// KindValidation means the input was rejected before any request was made.
	KindValidation Kind = "validation"
)

// Error is the single error shape surfaced by queries and mutations.
// Exactly the fields of its Kind are set: Server carries Message and
// StatusCode, Validation carries Field and Message, Network carries Cause.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Field      string
	Cause      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindServer:
		return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
	case KindValidation:
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	default:
		if e.Cause != nil {
			return "network error: " + e.Cause.Error()
		}
		return "network error"
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Unauthorized reports whether the server rejected the session token.
func (e *Error) Unauthorized() bool {
	return e.Kind == KindServer && e.StatusCode == http.StatusUnauthorized
}

// NetworkError wraps a transport failure.
func NetworkError(cause error) *Error {
	return &Error{Kind: KindNetwork, Cause: cause}
}

// ServerError builds an error from a non-2xx response.
func ServerError(statusCode int, message string) *Error {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &Error{Kind: KindServer, StatusCode: statusCode, Message: message}
}

// ValidationError reports a rejected form field.
func ValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.Kind == kind
}
