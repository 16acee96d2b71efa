// Package handler exposes readiness over HTTP (GET /health) and the standard gRPC health service.
package handler

import (
	"log"
	"net/http"
	"time"

	"surveyapp/backend/internal/health"
	"surveyapp/backend/internal/platform/respond"
)

// Handler serves GET /health.
type Handler struct {
	checker *health.Checker
	now     func() time.Time
}

// NewHandler returns a health handler over checker. A nil checker always reports ok.
func NewHandler(checker *health.Checker) *Handler {
	return &Handler{checker: checker, now: time.Now}
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Health reports 200 {"status":"ok"} when every check passes, else 503 {"status":"unavailable"}.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.Check(r.Context()); err != nil {
		log.Printf("health: %v", err)
		respond.JSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	respond.JSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}
