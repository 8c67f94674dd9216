package funnel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/staylab/experiment-engine/internal/domain"
)

// Service implements event ingestion and funnel aggregation.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a funnel service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Track validates and appends one event to the ledger. Missing IDs and
// timestamps are filled in server-side; everything else is stored as
// received.
func (s *Service) Track(ctx context.Context, e *domain.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	return s.repo.Insert(ctx, e)
}

// List returns ledger events matching the filter.
func (s *Service) List(ctx context.Context, f EventFilter) ([]domain.Event, int, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	return s.repo.List(ctx, f)
}

// Query scopes a funnel report.
type Query struct {
	ExperimentID string
	VariantID    string
	From         *time.Time
	To           *time.Time
}

// Metrics computes the booking funnel: distinct sessions per stage plus
// stage-over-stage conversion and dropoff. The first stage has no rates, and
// a zero prior stage leaves the rates nil — an undefined rate is not a zero
// rate.
func (s *Service) Metrics(ctx context.Context, q Query) ([]domain.FunnelStageResult, error) {
	names := make([]string, len(domain.BookingFunnel))
	for i, st := range domain.BookingFunnel {
		names[i] = st.EventName
	}

	counts, err := s.repo.StageSessionCounts(ctx, StageQuery{
		EventNames:   names,
		ExperimentID: q.ExperimentID,
		VariantID:    q.VariantID,
		From:         q.From,
		To:           q.To,
	})
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}

	return buildStages(domain.BookingFunnel, counts), nil
}

// DailyStats returns the day-by-day trend for the funnel's events.
func (s *Service) DailyStats(ctx context.Context, q Query) ([]domain.DailyFunnelStat, error) {
	names := make([]string, len(domain.BookingFunnel))
	for i, st := range domain.BookingFunnel {
		names[i] = st.EventName
	}
	return s.repo.DailyStats(ctx, StageQuery{
		EventNames:   names,
		ExperimentID: q.ExperimentID,
		VariantID:    q.VariantID,
		From:         q.From,
		To:           q.To,
	})
}

// VariantFunnel is the full funnel for one experiment arm.
type VariantFunnel struct {
	VariantID string                     `json:"variant_id"`
	Stages    []domain.FunnelStageResult `json:"stages"`
}

// ConversionMetrics computes the booking funnel separately for each variant
// of an experiment, the side-by-side view used to compare arms.
func (s *Service) ConversionMetrics(ctx context.Context, experimentID string, from, to *time.Time) ([]VariantFunnel, error) {
	if experimentID == "" {
		return nil, fmt.Errorf("experiment id is required")
	}

	names := make([]string, len(domain.BookingFunnel))
	for i, st := range domain.BookingFunnel {
		names[i] = st.EventName
	}

	rows, err := s.repo.VariantStageCounts(ctx, experimentID, names, from, to)
	if err != nil {
		return nil, fmt.Errorf("variant stage counts: %w", err)
	}

	byVariant := map[string]map[string]int{}
	for _, r := range rows {
		if byVariant[r.VariantID] == nil {
			byVariant[r.VariantID] = map[string]int{}
		}
		byVariant[r.VariantID][r.EventName] = r.Sessions
	}

	// Stable order: control first, then treatment, then anything else.
	var order []string
	for _, v := range []string{domain.VariantControl, domain.VariantTreatment} {
		if _, ok := byVariant[v]; ok {
			order = append(order, v)
		}
	}
	for v := range byVariant {
		if v != domain.VariantControl && v != domain.VariantTreatment {
			order = append(order, v)
		}
	}

	out := make([]VariantFunnel, 0, len(order))
	for _, v := range order {
		out = append(out, VariantFunnel{
			VariantID: v,
			Stages:    buildStages(domain.BookingFunnel, byVariant[v]),
		})
	}
	return out, nil
}

// buildStages turns per-event distinct-session counts into ordered stage
// results with conversion/dropoff relative to the prior stage.
func buildStages(defs []domain.FunnelStageDef, counts map[string]int) []domain.FunnelStageResult {
	out := make([]domain.FunnelStageResult, len(defs))
	for i, def := range defs {
		st := domain.FunnelStageResult{
			Name:      def.Name,
			EventName: def.EventName,
			Sessions:  counts[def.EventName],
		}
		if i > 0 {
			prior := counts[defs[i-1].EventName]
			if prior > 0 {
				conv := float64(st.Sessions) / float64(prior)
				drop := 1 - conv
				st.ConversionRate = &conv
				st.DropoffRate = &drop
			}
		}
		out[i] = st
	}
	return out
}
