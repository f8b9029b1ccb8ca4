package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// RateLimitResponse is the body of a 429 issued by the admission layer
type RateLimitResponse struct {
	Error      string `json:"error"`
	Category   string `json:"category"`
	RetryAfter int    `json:"retryAfter"` // seconds
	Message    string `json:"message"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	}

	WriteJSON(w, statusCode, resp)
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(v)
}

// WriteRateLimitExceeded writes the admission layer's 429 response.
// retryAfter is in seconds; limit and windowMinutes describe the policy that tripped.
func WriteRateLimitExceeded(w http.ResponseWriter, category string, retryAfter, limit, windowMinutes int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-Rate-Limit-Category", category)

	WriteJSON(w, http.StatusTooManyRequests, RateLimitResponse{
		Error:      "Rate limit exceeded",
		Category:   category,
		RetryAfter: retryAfter,
		Message:    fmt.Sprintf("Too many requests. Limit: %d per %d minutes.", limit, windowMinutes),
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
