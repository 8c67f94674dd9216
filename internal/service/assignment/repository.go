package assignment

import (
	"context"
	"time"

	"github.com/staylab/experiment-engine/internal/domain"
)

// Repository defines the data access contract for assignments.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns the assignment for a (experiment, session) pair.
	// Returns ErrNotFound if none exists.
	Get(ctx context.Context, experimentID, sessionID string) (*domain.Assignment, error)

	// Create inserts a new assignment. Returns ErrDuplicate when a row for
	// the same (experiment, session) already exists, so the caller can
	// re-read and keep the first writer's variant.
	Create(ctx context.Context, a *domain.Assignment) error

	// MarkExposed flips the exposure flag. Rows already exposed are left
	// untouched so the first exposure timestamp is preserved.
	MarkExposed(ctx context.Context, experimentID, sessionID string, at time.Time) error

	// Counts returns per-variant assigned/exposed totals for an experiment.
	Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error)
}

// ExperimentReader is the subset of experiment lookup the assignment path
// needs. In production it is satisfied by the cache-backed experiment store;
// tests use an in-memory map.
type ExperimentReader interface {
	GetExperiment(ctx context.Context, id string) (*domain.Experiment, error)
}
