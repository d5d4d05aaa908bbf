// Package core provides the data model and error taxonomy for chat-completion tasks.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the kind of failure that aborted a task invocation
type ErrorType string

const (
	// ErrorTypeConfiguration indicates an unresolved or invalid task setting (raised before any network call)
	ErrorTypeConfiguration ErrorType = "configuration_error"
	// ErrorTypeTransport indicates the HTTP call could not be completed
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeProvider indicates the provider answered with a status >= 400
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeResponseShape indicates the provider body could not be interpreted
	ErrorTypeResponseShape ErrorType = "response_shape_error"
)

// TaskError is the error type returned by every failing task invocation
type TaskError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	// StatusCode is the upstream HTTP status for provider errors
	StatusCode int    `json:"status_code,omitempty"`
	Provider   string `json:"provider,omitempty"`
	// Body is the raw provider response body, when one was received
	Body string `json:"-"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *TaskError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *TaskError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status used when the error is surfaced over HTTP
func (e *TaskError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeConfiguration:
		return http.StatusBadRequest
	case ErrorTypeTransport:
		if errors.Is(e.Err, errTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case ErrorTypeProvider:
		if e.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case ErrorTypeResponseShape:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *TaskError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.StatusCode != 0 {
		body["status_code"] = e.StatusCode
	}
	return map[string]interface{}{"error": body}
}

// errTimeout marks transport errors caused by a deadline.
var errTimeout = errors.New("timeout")

// NewConfigurationError creates a configuration error
func NewConfigurationError(message string, err error) *TaskError {
	return &TaskError{
		Type:    ErrorTypeConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewTransportError creates a transport error. Deadline failures are tagged so
// HTTPStatusCode can report 504.
func NewTransportError(provider string, message string, err error, timeout bool) *TaskError {
	if timeout {
		err = errors.Join(err, errTimeout)
	}
	return &TaskError{
		Type:     ErrorTypeTransport,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// NewProviderError creates a provider error. The body is carried verbatim in
// the message so callers can diagnose the failure.
func NewProviderError(provider string, statusCode int, body string) *TaskError {
	message := fmt.Sprintf("status %d", statusCode)
	if body != "" {
		message = fmt.Sprintf("status %d: %s", statusCode, body)
	}
	return &TaskError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Body:       body,
	}
}

// NewResponseShapeError creates a response shape error
func NewResponseShapeError(provider string, message string, err error) *TaskError {
	return &TaskError{
		Type:     ErrorTypeResponseShape,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// IsType reports whether err is a *TaskError of the given type.
func IsType(err error, t ErrorType) bool {
	var taskErr *TaskError
	return errors.As(err, &taskErr) && taskErr.Type == t
}
