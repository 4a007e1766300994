package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"careerpilot.app/career-chat/internal/auth"
	"careerpilot.app/career-chat/internal/core"
)

// RPCError is the error body of a procedure call.
type RPCError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *RPCError) WithMessage(message string) *RPCError {
	return &RPCError{Code: e.Code, Message: message, Details: e.Details, StatusCode: e.StatusCode}
}

// WithDetails returns a copy of the error with additional details.
func (e *RPCError) WithDetails(details any) *RPCError {
	return &RPCError{Code: e.Code, Message: e.Message, Details: details, StatusCode: e.StatusCode}
}

var (
	ErrBadRequest = &RPCError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid input",
		StatusCode: http.StatusBadRequest,
	}
	ErrUnauthorized = &RPCError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}
	ErrNotFound = &RPCError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}
	ErrMethodNotAllowed = &RPCError{
		Code:       "METHOD_NOT_SUPPORTED",
		Message:    "Method not supported for this procedure",
		StatusCode: http.StatusMethodNotAllowed,
	}
	ErrRateLimited = &RPCError{
		Code:       "TOO_MANY_REQUESTS",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}
	ErrInternal = &RPCError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// toRPCError maps service errors onto wire errors. Anything unrecognised
// becomes ErrInternal; the caller is responsible for logging it.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		return ErrBadRequest.WithMessage(verr.Message).WithDetails(verr.Fields)
	}
	var rerr *core.RequestError
	if errors.As(err, &rerr) {
		return ErrBadRequest.WithMessage(rerr.Message)
	}

	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		if err == core.ErrSessionNotFound {
			return ErrNotFound.WithMessage("Chat session not found")
		}
		return ErrNotFound.WithMessage(err.Error())
	case errors.Is(err, core.ErrUserNotFound):
		return ErrNotFound.WithMessage("User not found")
	case errors.Is(err, core.ErrInvalidCredentials):
		return ErrUnauthorized.WithMessage("Invalid email or password")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
		return ErrUnauthorized
	}
	return ErrInternal
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":{"code":"INTERNAL_SERVER_ERROR","message":"Failed to encode response"}}`, http.StatusInternalServerError)
	}
}

type resultEnvelope struct {
	Result struct {
		Data any `json:"data"`
	} `json:"result"`
}

func writeResult(w http.ResponseWriter, data any) {
	var env resultEnvelope
	env.Result.Data = data
	writeJSON(w, http.StatusOK, env)
}

func writeRPCError(w http.ResponseWriter, err *RPCError) {
	writeJSON(w, err.StatusCode, map[string]*RPCError{"error": err})
}
