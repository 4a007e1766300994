package core

import (
	"errors"
	"strings"
)

var (
	ErrSessionNotFound    = errors.New("chat session not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports input that failed field validation.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// RequestError is a well-formed request the service refuses, with a message
// that is safe to show the caller.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func newRequestError(msg string) error {
	return &RequestError{Message: msg}
}
