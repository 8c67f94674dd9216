package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/funnel"
)

// HandleTrackEvent appends one event to the ledger
func (h *Handlers) HandleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var e domain.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.funnel.Track(r.Context(), &e); err != nil {
		if errors.Is(err, funnel.ErrInvalidEvent) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to track event")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": e.ID})
}

// HandleListEvents queries the event ledger
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	from, to := parseWindow(r)

	events, total, err := h.funnel.List(r.Context(), funnel.EventFilter{
		EventName:    q.Get("event_name"),
		SessionID:    q.Get("session_id"),
		ExperimentID: q.Get("experiment_id"),
		VariantID:    q.Get("variant_id"),
		From:         from,
		To:           to,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// HandleFunnelMetrics returns the booking funnel stage metrics
func (h *Handlers) HandleFunnelMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := parseWindow(r)

	stages, err := h.funnel.Metrics(r.Context(), funnel.Query{
		ExperimentID: q.Get("experiment_id"),
		VariantID:    q.Get("variant_id"),
		From:         from,
		To:           to,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load funnel metrics")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"stages": stages})
}

// HandleDailyStats returns the day-by-day funnel trend
func (h *Handlers) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := parseWindow(r)

	dailyStats, err := h.funnel.DailyStats(r.Context(), funnel.Query{
		ExperimentID: q.Get("experiment_id"),
		VariantID:    q.Get("variant_id"),
		From:         from,
		To:           to,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load daily stats")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"days": dailyStats})
}
