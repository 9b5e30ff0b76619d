package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// errorBody is the shape of every error the API returns. Error is a stable
// machine-readable code; Message is for humans.
type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// respondJSON writes data as JSON. A nil data writes headers only.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes an errorBody whose code is derived from status, e.g.
// 409 → "conflict", 503 → "service_unavailable".
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: errorCode(status), Message: message})
}

func respondValidationErrors(w http.ResponseWriter, details []string) {
	respondJSON(w, http.StatusBadRequest, errorBody{
		Error:   "validation_failed",
		Message: "request validation failed",
		Details: details,
	})
}

func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
