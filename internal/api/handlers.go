package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/staylab/experiment-engine/internal/service/assignment"
	"github.com/staylab/experiment-engine/internal/service/experiment"
	"github.com/staylab/experiment-engine/internal/service/funnel"
)

// Invalidator drops a cached experiment after a config or status change.
// Satisfied by cache.ExperimentCache; nil when the cache is disabled.
type Invalidator interface {
	Invalidate(ctx context.Context, experimentID string) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	experiments *experiment.Service
	assignments *assignment.Service
	funnel      *funnel.Service
	invalidator Invalidator
}

// NewHandlers creates a new Handlers instance
func NewHandlers(experiments *experiment.Service, assignments *assignment.Service, fn *funnel.Service) *Handlers {
	return &Handlers{
		experiments: experiments,
		assignments: assignments,
		funnel:      fn,
	}
}

// SetInvalidator sets the experiment-cache invalidator
func (h *Handlers) SetInvalidator(inv Invalidator) {
	h.invalidator = inv
}

// HealthCheck reports service liveness
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// parseWindow extracts an optional from/to time window from query parameters.
// Dates accept RFC3339 or plain YYYY-MM-DD.
func parseWindow(r *http.Request) (from, to *time.Time) {
	parse := func(s string, endOfDay bool) *time.Time {
		if s == "" {
			return nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t
		}
		if t, err := time.Parse("2006-01-02", s); err == nil {
			if endOfDay {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			return &t
		}
		return nil
	}
	return parse(r.URL.Query().Get("from"), false), parse(r.URL.Query().Get("to"), true)
}

func (h *Handlers) invalidate(ctx context.Context, experimentID string) {
	if h.invalidator != nil {
		_ = h.invalidator.Invalidate(ctx, experimentID)
	}
}
