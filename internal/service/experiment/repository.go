package experiment

import (
	"context"
	"time"

	"github.com/staylab/experiment-engine/internal/domain"
)

// Repository defines the data access contract for experiments.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single experiment. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Experiment, error)

	// List returns experiments matching the given filter, ordered by
	// created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Experiment, int, error)

	// Create inserts a new experiment and returns its ID.
	Create(ctx context.Context, e *domain.Experiment) (string, error)

	// UpdateConfig applies the non-nil fields of u. The service has already
	// verified the experiment is in draft.
	UpdateConfig(ctx context.Context, id string, u UpdateFields) error

	// UpdateStatus writes the new status and, when non-nil, the start/end
	// timestamps in the same statement.
	UpdateStatus(ctx context.Context, id string, status domain.ExperimentStatus, start, end *time.Time) error
}

// ListFilter controls pagination and filtering for experiment lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable configuration of a draft experiment.
// Nil fields are not applied.
type UpdateFields struct {
	Name                   *string   `json:"name"`
	Description            *string   `json:"description"`
	Hypothesis             *string   `json:"hypothesis"`
	TrafficPercent         *int      `json:"traffic_percent"`
	ControlPercent         *int      `json:"control_percent"`
	PrimaryMetric          *string   `json:"primary_metric"`
	SecondaryMetrics       *[]string `json:"secondary_metrics"`
	GuardrailMetrics       *[]string `json:"guardrail_metrics"`
	MDEPercent             *float64  `json:"mde_percent"`
	ConfidenceLevel        *float64  `json:"confidence_level"`
	StatisticalPower       *float64  `json:"statistical_power"`
	AttributionWindowHours *int      `json:"attribution_window_hours"`
}
