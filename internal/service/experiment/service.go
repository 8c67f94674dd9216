package experiment

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/staylab/experiment-engine/internal/domain"
)

// Defaults applied to new experiments when the caller omits a value. They
// match the product's standard booking-funnel setup: a 50/50 split over all
// traffic, a 1.5-point MDE at 95% confidence and 80% power, and a 24-hour
// attribution window.
const (
	DefaultTrafficPercent         = 100
	DefaultControlPercent         = 50
	DefaultMDEPercent             = 1.5
	DefaultConfidenceLevel        = 0.95
	DefaultStatisticalPower       = 0.80
	DefaultAttributionWindowHours = 24
)

// Service implements experiment lifecycle logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates an experiment service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Get returns a single experiment.
func (s *Service) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	return s.repo.Get(ctx, id)
}

// List returns experiments matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Experiment, int, error) {
	return s.repo.List(ctx, f)
}

// Create validates and persists a new experiment in draft status. Omitted
// numeric settings receive the standard defaults.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Experiment, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}

	e := &domain.Experiment{
		ExperimentID:           newExperimentID(),
		Name:                   input.Name,
		Description:            input.Description,
		Hypothesis:             input.Hypothesis,
		Status:                 domain.ExperimentDraft,
		TrafficPercent:         DefaultTrafficPercent,
		ControlPercent:         DefaultControlPercent,
		PrimaryMetric:          input.PrimaryMetric,
		SecondaryMetrics:       input.SecondaryMetrics,
		GuardrailMetrics:       input.GuardrailMetrics,
		MDEPercent:             DefaultMDEPercent,
		ConfidenceLevel:        DefaultConfidenceLevel,
		StatisticalPower:       DefaultStatisticalPower,
		AttributionWindowHours: DefaultAttributionWindowHours,
	}
	if input.TrafficPercent != nil {
		e.TrafficPercent = *input.TrafficPercent
	}
	if input.ControlPercent != nil {
		e.ControlPercent = *input.ControlPercent
	}
	if input.MDEPercent != nil {
		e.MDEPercent = *input.MDEPercent
	}
	if input.ConfidenceLevel != nil {
		e.ConfidenceLevel = *input.ConfidenceLevel
	}
	if input.StatisticalPower != nil {
		e.StatisticalPower = *input.StatisticalPower
	}
	if input.AttributionWindowHours != nil {
		e.AttributionWindowHours = *input.AttributionWindowHours
	}
	if e.PrimaryMetric == "" {
		e.PrimaryMetric = domain.EventBookingSubmit
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	id, err := s.repo.Create(ctx, e)
	if err != nil {
		return nil, err
	}
	e.ExperimentID = id
	return e, nil
}

// UpdateConfig modifies an experiment's configuration. Only draft experiments
// may be edited; once an experiment has started, its configuration is frozen
// so results stay interpretable.
func (s *Service) UpdateConfig(ctx context.Context, id string, u UpdateFields) error {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != domain.ExperimentDraft {
		return ErrNotDraft
	}
	if u.TrafficPercent != nil && (*u.TrafficPercent < 0 || *u.TrafficPercent > 100) {
		return fmt.Errorf("%w: traffic_percent outside [0,100]", ErrInvalidConfig)
	}
	if u.ControlPercent != nil && (*u.ControlPercent < 0 || *u.ControlPercent > 100) {
		return fmt.Errorf("%w: control_percent outside [0,100]", ErrInvalidConfig)
	}
	return s.repo.UpdateConfig(ctx, id, u)
}

// UpdateStatus transitions an experiment through its lifecycle. The first
// move to running stamps the start date; the move to completed stamps the end
// date. Illegal transitions (including draft straight to completed) return
// ErrInvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, id string, next domain.ExperimentStatus) (*domain.Experiment, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, e.Status, next)
	}

	var start, end *time.Time
	if next == domain.ExperimentRunning && e.StartDate == nil {
		t := s.now()
		start = &t
	}
	if next == domain.ExperimentCompleted {
		t := s.now()
		end = &t
	}

	if err := s.repo.UpdateStatus(ctx, id, next, start, end); err != nil {
		return nil, fmt.Errorf("transition to %s: %w", next, err)
	}
	log.Printf("[experiment.Service] Experiment %s: %s → %s", id, e.Status, next)

	e.Status = next
	if start != nil {
		e.StartDate = start
	}
	if end != nil {
		e.EndDate = end
	}
	return e, nil
}

// CreateInput holds the fields for creating a new experiment. Nil pointers
// fall back to the package defaults.
type CreateInput struct {
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	Hypothesis             string   `json:"hypothesis"`
	TrafficPercent         *int     `json:"traffic_percent"`
	ControlPercent         *int     `json:"control_percent"`
	PrimaryMetric          string   `json:"primary_metric"`
	SecondaryMetrics       []string `json:"secondary_metrics"`
	GuardrailMetrics       []string `json:"guardrail_metrics"`
	MDEPercent             *float64 `json:"mde_percent"`
	ConfidenceLevel        *float64 `json:"confidence_level"`
	StatisticalPower       *float64 `json:"statistical_power"`
	AttributionWindowHours *int     `json:"attribution_window_hours"`
}

// newExperimentID mints an experiment identifier. The exp_ prefix makes the
// IDs self-describing in logs and event payloads.
func newExperimentID() string {
	return "exp_" + uuid.New().String()
}
