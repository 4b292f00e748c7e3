// Package query is the read-only HTTP service over the knowledge stores:
// semantic search across chunk and extraction vectors plus per-category
// listings, behind API-key tiers and hourly rate limits. It never writes
// to either store.
package query

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes surfaced in HTTP error envelopes.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Search type labels reported in envelope metadata.
const (
	searchTypeSemantic = "semantic"
	searchTypeFiltered = "filtered"
)

// Metadata describes one query response.
type Metadata struct {
	// Query echoes the caller's query, or the topic filter ("all" when
	// a listing had none).
	Query string `json:"query"`
	// SourcesCited lists the cited source titles, sorted and unique.
	SourcesCited []string `json:"sources_cited"`
	// ResultCount equals len(results).
	ResultCount int `json:"result_count"`
	// SearchType is "semantic" or "filtered".
	SearchType string `json:"search_type"`
	// LatencyMS is the server-side processing time.
	LatencyMS int64 `json:"latency_ms"`
}

// Envelope is the uniform success response shape.
type Envelope struct {
	Results  any      `json:"results"`
	Metadata Metadata `json:"metadata"`
}

// ErrorBody is the inner error description.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope is the uniform error response shape.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorEnvelope{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}
