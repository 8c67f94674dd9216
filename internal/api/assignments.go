package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/staylab/experiment-engine/internal/service/assignment"
)

// HandleAssign buckets a session into a variant
func (h *Handlers) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExperimentID string `json:"experiment_id"`
		SessionID    string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.ExperimentID == "" || body.SessionID == "" {
		respondError(w, http.StatusBadRequest, "experiment_id and session_id are required")
		return
	}

	res, err := h.assignments.Assign(r.Context(), body.ExperimentID, body.SessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to assign")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// HandleExposure marks a session as having seen the experiment surface
func (h *Handlers) HandleExposure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExperimentID string `json:"experiment_id"`
		SessionID    string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.ExperimentID == "" || body.SessionID == "" {
		respondError(w, http.StatusBadRequest, "experiment_id and session_id are required")
		return
	}

	if err := h.assignments.MarkExposure(r.Context(), body.ExperimentID, body.SessionID); err != nil {
		if errors.Is(err, assignment.ErrNotFound) {
			respondError(w, http.StatusNotFound, "assignment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to mark exposure")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"exposed": true})
}

// HandleGetAssignment returns the stored assignment for a session
func (h *Handlers) HandleGetAssignment(w http.ResponseWriter, r *http.Request) {
	experimentID := chi.URLParam(r, "experimentID")
	sessionID := chi.URLParam(r, "sessionID")

	a, err := h.assignments.Get(r.Context(), experimentID, sessionID)
	if err != nil {
		if errors.Is(err, assignment.ErrNotFound) {
			respondError(w, http.StatusNotFound, "assignment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load assignment")
		return
	}
	respondJSON(w, http.StatusOK, a)
}
