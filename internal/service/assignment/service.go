package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/staylab/experiment-engine/internal/bucketing"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/experiment"
)

// Service implements variant assignment and exposure tracking.
type Service struct {
	repo        Repository
	experiments ExperimentReader
	now         func() time.Time
}

// NewService creates an assignment service.
func NewService(repo Repository, experiments ExperimentReader) *Service {
	return &Service{repo: repo, experiments: experiments, now: time.Now}
}

// Result is the outcome of an Assign call.
type Result struct {
	ExperimentID string `json:"experiment_id"`
	SessionID    string `json:"session_id"`
	VariantID    string `json:"variant_id"`

	// AlreadyAssigned is true when the session had a persisted assignment
	// before this call.
	AlreadyAssigned bool `json:"already_assigned"`

	// Persisted is false when the variant was computed but not stored:
	// either the experiment is not running, or persistence failed and we
	// failed open.
	Persisted bool `json:"persisted"`
}

// Assign resolves the variant for a session in an experiment.
//
// The first persisted assignment wins: repeat calls return the stored
// variant unchanged. Sessions hitting an unknown or non-running experiment
// get control without a stored row. A store outage degrades to the computed
// variant with Persisted=false rather than an error: serving a variant
// matters more than recording it.
func (s *Service) Assign(ctx context.Context, experimentID, sessionID string) (*Result, error) {
	if experimentID == "" || sessionID == "" {
		return nil, fmt.Errorf("experiment id and session id are required")
	}

	exp, err := s.experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		// A session whose experiment context cannot be resolved always gets
		// the control experience, never an error state. Covers both unknown
		// IDs and an unreadable experiment store.
		if !errors.Is(err, experiment.ErrNotFound) {
			log.Printf("[assignment.Service] load experiment %s failed, serving control: %v", experimentID, err)
		}
		return &Result{
			ExperimentID: experimentID,
			SessionID:    sessionID,
			VariantID:    domain.VariantControl,
		}, nil
	}

	existing, err := s.repo.Get(ctx, experimentID, sessionID)
	if err == nil {
		return &Result{
			ExperimentID:    experimentID,
			SessionID:       sessionID,
			VariantID:       existing.VariantID,
			AlreadyAssigned: true,
			Persisted:       true,
		}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		// Lookup failed outright. Fall through and compute; a later Create
		// will either land or collide with whatever row does exist.
		log.Printf("[assignment.Service] lookup %s/%s failed, computing fresh: %v", experimentID, sessionID, err)
	}

	variant := domain.VariantTreatment
	if bucketing.InControl(sessionID, exp.ControlPercent) {
		variant = domain.VariantControl
	}

	if exp.Status != domain.ExperimentRunning {
		// Not collecting data: serve control, store nothing.
		return &Result{
			ExperimentID: experimentID,
			SessionID:    sessionID,
			VariantID:    domain.VariantControl,
		}, nil
	}

	a := &domain.Assignment{
		ExperimentID: experimentID,
		SessionID:    sessionID,
		VariantID:    variant,
		AssignedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost the race: another request persisted first. Its variant is
			// the truth.
			if winner, rerr := s.repo.Get(ctx, experimentID, sessionID); rerr == nil {
				return &Result{
					ExperimentID:    experimentID,
					SessionID:       sessionID,
					VariantID:       winner.VariantID,
					AlreadyAssigned: true,
					Persisted:       true,
				}, nil
			}
		}
		log.Printf("[assignment.Service] persist %s/%s failed, serving %s unpersisted: %v", experimentID, sessionID, variant, err)
		return &Result{
			ExperimentID: experimentID,
			SessionID:    sessionID,
			VariantID:    variant,
		}, nil
	}

	return &Result{
		ExperimentID: experimentID,
		SessionID:    sessionID,
		VariantID:    variant,
		Persisted:    true,
	}, nil
}

// MarkExposure records that the session actually saw the experiment surface.
// Idempotent: repeat calls after the first are no-ops and the original
// exposure timestamp is kept. Exposure for a session that was never assigned
// returns ErrNotFound.
func (s *Service) MarkExposure(ctx context.Context, experimentID, sessionID string) error {
	if experimentID == "" || sessionID == "" {
		return fmt.Errorf("experiment id and session id are required")
	}
	if err := s.repo.MarkExposed(ctx, experimentID, sessionID, s.now()); err != nil {
		return fmt.Errorf("mark exposure %s/%s: %w", experimentID, sessionID, err)
	}
	return nil
}

// Get returns the stored assignment for a (experiment, session) pair.
func (s *Service) Get(ctx context.Context, experimentID, sessionID string) (*domain.Assignment, error) {
	return s.repo.Get(ctx, experimentID, sessionID)
}

// Counts returns per-variant assigned/exposed totals, the raw material for
// experiment dashboards and sample-ratio checks.
func (s *Service) Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error) {
	return s.repo.Counts(ctx, experimentID)
}
