package funnel

import (
	"context"
	"time"

	"github.com/staylab/experiment-engine/internal/domain"
)

// Repository defines the data access contract for the event ledger.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Insert appends one event to the ledger.
	Insert(ctx context.Context, e *domain.Event) error

	// List returns events matching the filter, newest first, plus the total
	// match count for pagination.
	List(ctx context.Context, f EventFilter) ([]domain.Event, int, error)

	// StageSessionCounts returns the distinct-session count per event name,
	// restricted to the query's experiment/variant/date window.
	StageSessionCounts(ctx context.Context, q StageQuery) (map[string]int, error)

	// VariantStageCounts returns distinct-session counts per (event name,
	// variant) for one experiment.
	VariantStageCounts(ctx context.Context, experimentID string, eventNames []string, from, to *time.Time) ([]domain.VariantStageCount, error)

	// DailyStats returns per-day event and distinct-session counts, bucketed
	// by calendar day of the event timestamp.
	DailyStats(ctx context.Context, q StageQuery) ([]domain.DailyFunnelStat, error)
}

// EventFilter controls pagination and filtering for event queries.
type EventFilter struct {
	EventName    string
	SessionID    string
	ExperimentID string
	VariantID    string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// StageQuery scopes a funnel aggregation.
type StageQuery struct {
	EventNames   []string
	ExperimentID string
	VariantID    string
	From         *time.Time
	To           *time.Time
}
