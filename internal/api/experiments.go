package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/experiment"
	"github.com/staylab/experiment-engine/internal/stats"
)

// HandleCreateExperiment creates a draft experiment
func (h *Handlers) HandleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var input experiment.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	e, err := h.experiments.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, experiment.ErrInvalidConfig) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create experiment")
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

// HandleListExperiments lists experiments, optionally filtered by status
func (h *Handlers) HandleListExperiments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	list, total, err := h.experiments.List(r.Context(), experiment.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list experiments")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"experiments": list,
		"total":       total,
	})
}

// HandleGetExperiment returns one experiment
func (h *Handlers) HandleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	e, err := h.experiments.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, experiment.ErrNotFound) {
			respondError(w, http.StatusNotFound, "experiment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load experiment")
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// HandleUpdateExperiment edits a draft experiment's configuration
func (h *Handlers) HandleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")

	var u experiment.UpdateFields
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	err := h.experiments.UpdateConfig(r.Context(), id, u)
	switch {
	case err == nil:
	case errors.Is(err, experiment.ErrNotFound):
		respondError(w, http.StatusNotFound, "experiment not found")
		return
	case errors.Is(err, experiment.ErrNotDraft):
		respondError(w, http.StatusConflict, "experiment configuration is frozen after draft")
		return
	case errors.Is(err, experiment.ErrInvalidConfig):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	default:
		respondError(w, http.StatusInternalServerError, "failed to update experiment")
		return
	}

	h.invalidate(r.Context(), id)
	e, err := h.experiments.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload experiment")
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// HandleUpdateStatus drives the experiment lifecycle
func (h *Handlers) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	e, err := h.experiments.UpdateStatus(r.Context(), id, domain.ExperimentStatus(body.Status))
	switch {
	case err == nil:
	case errors.Is(err, experiment.ErrNotFound):
		respondError(w, http.StatusNotFound, "experiment not found")
		return
	case errors.Is(err, experiment.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
		return
	default:
		respondError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	h.invalidate(r.Context(), id)
	respondJSON(w, http.StatusOK, e)
}

// HandleExperimentStats returns per-variant assignment/exposure totals plus
// the sample-ratio check against the configured split.
func (h *Handlers) HandleExperimentStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")

	e, err := h.experiments.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, experiment.ErrNotFound) {
			respondError(w, http.StatusNotFound, "experiment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load experiment")
		return
	}

	counts, err := h.assignments.Counts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load counts")
		return
	}

	resp := map[string]interface{}{
		"experiment_id": id,
		"status":        e.Status,
		"variants":      counts,
	}

	var control, treatment int
	for _, c := range counts {
		switch c.VariantID {
		case domain.VariantControl:
			control = c.TotalAssigned
		case domain.VariantTreatment:
			treatment = c.TotalAssigned
		}
	}
	if control+treatment > 0 {
		if srm, err := stats.SRMCheck(control, treatment, float64(e.ControlPercent)); err == nil {
			resp["srm"] = srm
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// HandleExperimentResults runs the significance analysis for the
// experiment's primary metric: assigned sessions per variant as the
// denominator, distinct converting sessions as the numerator.
func (h *Handlers) HandleExperimentResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")

	e, err := h.experiments.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, experiment.ErrNotFound) {
			respondError(w, http.StatusNotFound, "experiment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load experiment")
		return
	}

	counts, err := h.assignments.Counts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load counts")
		return
	}

	from, to := parseWindow(r)
	funnels, err := h.funnel.ConversionMetrics(r.Context(), id, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load conversions")
		return
	}

	variantStats := map[string]*stats.VariantStats{}
	for _, c := range counts {
		variantStats[c.VariantID] = &stats.VariantStats{Users: c.TotalAssigned}
	}
	for _, vf := range funnels {
		vs, ok := variantStats[vf.VariantID]
		if !ok {
			continue
		}
		for _, st := range vf.Stages {
			if st.EventName == e.PrimaryMetric {
				vs.Conversions = st.Sessions
			}
		}
	}

	control := variantStats[domain.VariantControl]
	treatment := variantStats[domain.VariantTreatment]
	if control == nil || treatment == nil {
		respondError(w, http.StatusUnprocessableEntity, "insufficient data for analysis")
		return
	}

	lift, err := stats.AnalyzeLift(*control, *treatment, e.ConfidenceLevel)
	if err != nil {
		if errors.Is(err, stats.ErrInsufficientData) {
			respondError(w, http.StatusUnprocessableEntity, "insufficient data for analysis")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := map[string]interface{}{
		"experiment_id":  id,
		"primary_metric": e.PrimaryMetric,
		"control":        control,
		"treatment":      treatment,
		"analysis":       lift,
	}
	if srm, err := stats.SRMCheck(control.Users, treatment.Users, float64(e.ControlPercent)); err == nil {
		resp["srm"] = srm
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleConversionMetrics returns the booking funnel split by variant
func (h *Handlers) HandleConversionMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	from, to := parseWindow(r)

	funnels, err := h.funnel.ConversionMetrics(r.Context(), id, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load conversion metrics")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"experiment_id": id,
		"variants":      funnels,
	})
}
