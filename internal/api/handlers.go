package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/foxzi/copymode/internal/aiedit"
	"github.com/foxzi/copymode/internal/campaign"
	"github.com/foxzi/copymode/internal/editor"
	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/history"
	"github.com/foxzi/copymode/internal/proof"
	"github.com/foxzi/copymode/internal/tracker"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Campaigns int    `json:"campaigns"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.campaigns.Count(r.Context())
	status := "ok"
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		status = "degraded"
	}

	sendJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Campaigns: n,
	})
}

// statusFor maps domain errors to HTTP status codes. Errors it does not know
// get fallback.
func statusFor(err error, fallback int) int {
	var apiErr *tracker.APIError
	switch {
	case errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, emailtable.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrDuplicateTask),
		errors.Is(err, editor.ErrNoTask),
		errors.Is(err, history.ErrNotBound):
		return http.StatusConflict
	case errors.Is(err, aiedit.ErrSectionNotFound),
		errors.Is(err, aiedit.ErrUnknownOperation),
		errors.Is(err, aiedit.ErrInvalidPosition),
		errors.Is(err, aiedit.ErrTargetNotFound),
		errors.Is(err, aiedit.ErrPatchOutOfRange),
		errors.Is(err, aiedit.ErrMissingTableTags),
		errors.Is(err, emailtable.ErrNotPermutation),
		errors.Is(err, emailtable.ErrEmptySection),
		errors.Is(err, emailtable.ErrInvalidRow),
		errors.Is(err, history.ErrVersionOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, proof.ErrNoRecipients):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return fallback
}

// fail logs server-side failures and writes the mapped error
func (s *Server) fail(w http.ResponseWriter, err error, fallback int, msg string) {
	status := statusFor(err, fallback)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, "error", err)
	}
	sendError(w, status, err.Error())
}

// decode reads a JSON body into v and answers 400 on failure
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
