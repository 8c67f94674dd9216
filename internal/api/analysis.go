package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/staylab/experiment-engine/internal/stats"
)

// HandleSampleSize computes the required sample size per arm
func (h *Handlers) HandleSampleSize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MDEPercent       float64 `json:"mde_percent"`
		ConfidenceLevel  float64 `json:"confidence_level"`
		StatisticalPower float64 `json:"statistical_power"`
		BaselineRate     float64 `json:"baseline_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	n, err := stats.SampleSize(body.MDEPercent, body.ConfidenceLevel, body.StatisticalPower, body.BaselineRate)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sample_size_per_variant": n,
		"total_sample_size":       2 * n,
	})
}

// HandleLift runs a two-proportion significance test on raw counts
func (h *Handlers) HandleLift(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Control         stats.VariantStats `json:"control"`
		Treatment       stats.VariantStats `json:"treatment"`
		ConfidenceLevel float64            `json:"confidence_level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.ConfidenceLevel == 0 {
		body.ConfidenceLevel = 0.95
	}

	res, err := stats.AnalyzeLift(body.Control, body.Treatment, body.ConfidenceLevel)
	if err != nil {
		if errors.Is(err, stats.ErrInsufficientData) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// HandleSRM runs a sample-ratio-mismatch check on raw counts
func (h *Handlers) HandleSRM(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ControlCount   int     `json:"control_count"`
		TreatmentCount int     `json:"treatment_count"`
		ControlPercent float64 `json:"control_percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.ControlPercent == 0 {
		body.ControlPercent = 50
	}

	res, err := stats.SRMCheck(body.ControlCount, body.TreatmentCount, body.ControlPercent)
	if err != nil {
		if errors.Is(err, stats.ErrInsufficientData) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}
