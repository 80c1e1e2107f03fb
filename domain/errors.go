package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when the chat service answers without any
// generated content.
var ErrEmptyResponse = errors.New("No response from API")

// ServiceError is a structured error returned by the chat service.
// Its message is shown to the user verbatim.
type ServiceError struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewServiceError creates a service error for an HTTP status
func NewServiceError(statusCode int, code, message string) *ServiceError {
	if message == "" {
		message = fmt.Sprintf("chat service returned status %d", statusCode)
	}
	return &ServiceError{Code: code, Message: message, StatusCode: statusCode}
}

// ErrorMessage returns the text shown for a failed submission
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return err.Error()
}
