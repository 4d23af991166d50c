package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// respondJSON sends a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondErrorWithCode sends an error response with an error code
func respondErrorWithCode(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleDomainError maps domain errors to HTTP responses
func handleDomainError(w http.ResponseWriter, err error) {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		respondErrorWithCode(w, statusFor(domainErr.Err), domainErr.Message, domainErr.Code)
		return
	}

	switch {
	case errors.Is(err, domain.ErrMalformedSymbol):
		respondErrorWithCode(w, http.StatusBadRequest, "malformed symbol", "MALFORMED_SYMBOL")

	case errors.Is(err, domain.ErrUnsupportedResolution):
		respondErrorWithCode(w, http.StatusBadRequest, "unsupported resolution", "UNSUPPORTED_RESOLUTION")

	case errors.Is(err, domain.ErrSnapshotNotReady):
		respondErrorWithCode(w, http.StatusServiceUnavailable, "no snapshot computed yet", "SNAPSHOT_NOT_READY")

	case errors.Is(err, domain.ErrNotFound):
		respondErrorWithCode(w, http.StatusNotFound, "not found", "NOT_FOUND")

	case errors.Is(err, domain.ErrInvalidSeries):
		respondErrorWithCode(w, http.StatusBadGateway, "invalid series from data source", "INVALID_SERIES")

	case errors.Is(err, domain.ErrSourceUnavailable):
		respondErrorWithCode(w, http.StatusServiceUnavailable, "data source unavailable", "SOURCE_UNAVAILABLE")

	case errors.Is(err, domain.ErrRateLimited):
		respondErrorWithCode(w, http.StatusTooManyRequests, "rate limited by data source", "RATE_LIMITED")

	case errors.Is(err, domain.ErrInvalidResponse):
		respondErrorWithCode(w, http.StatusBadGateway, "invalid response from data source", "INVALID_SOURCE_RESPONSE")

	case errors.Is(err, domain.ErrDatabaseConnection):
		respondErrorWithCode(w, http.StatusServiceUnavailable, "database connection error", "DATABASE_ERROR")

	default:
		respondErrorWithCode(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedSymbol), errors.Is(err, domain.ErrUnsupportedResolution):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSnapshotNotReady), errors.Is(err, domain.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
