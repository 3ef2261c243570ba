// Package api provides standardized helper functions for HTTP API responses.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	cerrors "storefront-backend/internal/errors"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Success sends a standardized successful HTTP response with optional JSON data.
func Success(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error sends a standardized error response with consistent JSON format.
func Error(w http.ResponseWriter, statusCode int, message string) {
	Success(w, statusCode, ErrorResponse{Error: message})
}

// FromError maps err to a response. Validation errors are the caller's fault
// and become 400 with their code; everything else is a 500 without details.
func FromError(w http.ResponseWriter, err error) {
	var ce *cerrors.CacheError
	if errors.As(err, &ce) && ce.Type == cerrors.ErrorTypeValidation {
		Success(w, http.StatusBadRequest, ErrorResponse{
			Error:   ce.Message,
			Code:    ce.Code.String(),
			Details: ce.Details,
		})
		return
	}
	Error(w, http.StatusInternalServerError, "Internal server error")
}
