// Package api provides the HTTP surface of the discovery engine: feed,
// viewer and admin handlers plus standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/onnwee/discovery/internal/middleware"
	"github.com/onnwee/discovery/internal/validate"
)

// Error codes returned in the error envelope.
const (
	ErrCodeValidation       = "validation_error"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeAuthFailed       = "auth_failed"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	// ErrCodeFeedUnavailable means no relevance generation has been
	// published or checkpointed yet.
	ErrCodeFeedUnavailable = "feed_unavailable"
	// ErrCodeArchiveDisabled means object storage is not configured.
	ErrCodeArchiveDisabled = "archive_disabled"
)

// ErrorResponse is the body of every error response:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the error envelope with status. ctx is handed back to
// the logging middleware so the code appears on the access log line; set it
// with middleware.SetErrorCode first.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)
	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status for an error code. Unknown codes
// map to 500.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeFeedUnavailable, ErrCodeArchiveDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeCodedError sets the error code on the request context and writes the
// error envelope with the status mapped from code.
func writeCodedError(w http.ResponseWriter, r *http.Request, code, message string) {
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}

// requireMethod rejects requests whose method is not method.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeCodedError(w, r, ErrCodeMethodNotAllowed, "Method not allowed")
	return false
}

// requireID validates an identifier taken from the path or body, writing a
// validation error naming field when it is malformed.
func requireID(w http.ResponseWriter, r *http.Request, field, id string) bool {
	if _, err := validate.ID(id); err != nil {
		writeCodedError(w, r, ErrCodeValidation, fmt.Sprintf("%s is invalid: %v", field, err))
		return false
	}
	return true
}
