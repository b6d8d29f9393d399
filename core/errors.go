package core

import (
	"fmt"
	"net"
	"net/url"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// APIError is a request the backend rejected (4xx). Message carries the
// human-readable text the backend supplied, or a generic fallback.
type APIError struct {
	StatusCode int
	Message    string
}

func NewAPIError(code int, msg string) error {
	return &APIError{StatusCode: code, Message: msg}
}

func (err APIError) Error() string {
	return fmt.Sprintf("api: %d %s", err.StatusCode, err.Message)
}

// AsAPIError unwraps err to an APIError if there is one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNetworkError reports whether err is a transport-level failure (the backend
// was unreachable) rather than a rejection.
func IsNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// UserMessage picks the message to surface for err: backend-supplied text for
// rejections, a generic retry hint for transport failures.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := AsAPIError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	if IsNetworkError(err) {
		return "could not reach the server, please try again"
	}
	return "something went wrong, please try again"
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
