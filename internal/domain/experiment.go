package domain

import (
	"time"
)

// ExperimentStatus enumerates the lifecycle states of an experiment.
type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "draft"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Valid reports whether s is a known lifecycle state.
func (s ExperimentStatus) Valid() bool {
	switch s {
	case ExperimentDraft, ExperimentRunning, ExperimentPaused, ExperimentCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
// The allowed chain is draft→running→paused→running→completed; an experiment
// must run at least once, so draft→completed is rejected. Completed is
// terminal.
func (s ExperimentStatus) CanTransitionTo(next ExperimentStatus) bool {
	switch s {
	case ExperimentDraft:
		return next == ExperimentRunning
	case ExperimentRunning:
		return next == ExperimentPaused || next == ExperimentCompleted
	case ExperimentPaused:
		return next == ExperimentRunning || next == ExperimentCompleted
	case ExperimentCompleted:
		return false
	}
	return false
}

// IsTerminal returns true if the experiment is in a final state.
func (s ExperimentStatus) IsTerminal() bool {
	return s == ExperimentCompleted
}

// Variant identifiers. Exactly two variants are supported.
const (
	VariantControl   = "control"
	VariantTreatment = "treatment"
)

// Experiment represents an A/B experiment and its statistical configuration.
// Rows are never physically deleted; completed experiments are retained for
// audit.
type Experiment struct {
	ExperimentID string           `json:"experiment_id" db:"experiment_id"`
	Name         string           `json:"name" db:"name"`
	Description  string           `json:"description,omitempty" db:"description"`
	Hypothesis   string           `json:"hypothesis,omitempty" db:"hypothesis"`
	Status       ExperimentStatus `json:"status" db:"status"`

	// Traffic allocation. TrafficPercent is the share of all sessions
	// eligible for the experiment; ControlPercent is the share of eligible
	// sessions routed to control. Both are whole percents in [0,100].
	TrafficPercent int `json:"traffic_percent" db:"traffic_percent"`
	ControlPercent int `json:"control_percent" db:"control_percent"`

	// Metrics
	PrimaryMetric    string   `json:"primary_metric" db:"primary_metric"`
	SecondaryMetrics []string `json:"secondary_metrics,omitempty" db:"secondary_metrics"`
	GuardrailMetrics []string `json:"guardrail_metrics,omitempty" db:"guardrail_metrics"`

	// Statistical settings. MDEPercent and the levels are stored as the
	// operator entered them (percent for MDE, fraction for the levels) and
	// normalized by the stats package before any computation.
	MDEPercent             float64 `json:"mde_percent" db:"mde_percent"`
	ConfidenceLevel        float64 `json:"confidence_level" db:"confidence_level"`
	StatisticalPower       float64 `json:"statistical_power" db:"statistical_power"`
	AttributionWindowHours int     `json:"attribution_window_hours" db:"attribution_window_hours"`

	StartDate *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Validate checks the structural invariants of an experiment config.
func (e *Experiment) Validate() error {
	if e.ExperimentID == "" {
		return errEmptyField("experiment_id")
	}
	if e.Name == "" {
		return errEmptyField("name")
	}
	if e.TrafficPercent < 0 || e.TrafficPercent > 100 {
		return errOutOfRange("traffic_percent")
	}
	if e.ControlPercent < 0 || e.ControlPercent > 100 {
		return errOutOfRange("control_percent")
	}
	return nil
}
