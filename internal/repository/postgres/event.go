package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/funnel"
)

// EventRepo implements funnel.Repository against PostgreSQL. tracking_events
// is append-only; the aggregate queries lean on the
// (event_name, session_id) and (experiment_id, variant_id) indexes.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Insert(ctx context.Context, e *domain.Event) error {
	var props []byte
	if e.Properties != nil {
		var err error
		props, err = json.Marshal(e.Properties)
		if err != nil {
			return fmt.Errorf("marshal properties: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracking_events
			(id, event_name, session_id, timestamp,
			 experiment_id, variant_id, confidence_bucket, properties,
			 page_url, referrer, device_type, country, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.EventName, e.SessionID, e.Timestamp,
		nullStr(e.ExperimentID), nullStr(e.VariantID), nullStr(e.ConfidenceBucket), props,
		nullStr(e.PageURL), nullStr(e.Referrer), nullStr(e.DeviceType), nullStr(e.Country), nullStr(e.Language))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepo) List(ctx context.Context, f funnel.EventFilter) ([]domain.Event, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	idx := 1
	add := func(cond string, val interface{}) {
		where += fmt.Sprintf(" AND "+cond, idx)
		args = append(args, val)
		idx++
	}
	if f.EventName != "" {
		add("event_name = $%d", f.EventName)
	}
	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if f.ExperimentID != "" {
		add("experiment_id = $%d", f.ExperimentID)
	}
	if f.VariantID != "" {
		add("variant_id = $%d", f.VariantID)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp <= $%d", *f.To)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracking_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	q := `
		SELECT id, event_name, session_id, timestamp,
		       COALESCE(experiment_id,''), COALESCE(variant_id,''), COALESCE(confidence_bucket,''),
		       properties,
		       COALESCE(page_url,''), COALESCE(referrer,''), COALESCE(device_type,''),
		       COALESCE(country,''), COALESCE(language,'')
		FROM tracking_events` + where +
		fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var props []byte
		if err := rows.Scan(
			&e.ID, &e.EventName, &e.SessionID, &e.Timestamp,
			&e.ExperimentID, &e.VariantID, &e.ConfidenceBucket,
			&props,
			&e.PageURL, &e.Referrer, &e.DeviceType, &e.Country, &e.Language,
		); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return nil, 0, fmt.Errorf("unmarshal properties: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *EventRepo) StageSessionCounts(ctx context.Context, q funnel.StageQuery) (map[string]int, error) {
	query := `
		SELECT event_name, COUNT(DISTINCT session_id)
		FROM tracking_events
		WHERE event_name = ANY($1)`
	args := []interface{}{pq.Array(q.EventNames)}
	idx := 2
	query, args, _ = appendScope(query, args, idx, q)
	query += " GROUP BY event_name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stage session counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan stage count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

func (r *EventRepo) VariantStageCounts(ctx context.Context, experimentID string, eventNames []string, from, to *time.Time) ([]domain.VariantStageCount, error) {
	query := `
		SELECT event_name, variant_id, COUNT(DISTINCT session_id)
		FROM tracking_events
		WHERE experiment_id = $1 AND event_name = ANY($2) AND variant_id IS NOT NULL`
	args := []interface{}{experimentID, pq.Array(eventNames)}
	idx := 3
	if from != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", idx)
		args = append(args, *from)
		idx++
	}
	if to != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", idx)
		args = append(args, *to)
		idx++
	}
	query += " GROUP BY event_name, variant_id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("variant stage counts: %w", err)
	}
	defer rows.Close()

	var out []domain.VariantStageCount
	for rows.Next() {
		var c domain.VariantStageCount
		if err := rows.Scan(&c.EventName, &c.VariantID, &c.Sessions); err != nil {
			return nil, fmt.Errorf("scan variant stage count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *EventRepo) DailyStats(ctx context.Context, q funnel.StageQuery) ([]domain.DailyFunnelStat, error) {
	query := `
		SELECT TO_CHAR(DATE(timestamp), 'YYYY-MM-DD'),
		       event_name,
		       COALESCE(variant_id,''),
		       COUNT(*),
		       COUNT(DISTINCT session_id)
		FROM tracking_events
		WHERE event_name = ANY($1)`
	args := []interface{}{pq.Array(q.EventNames)}
	idx := 2
	query, args, _ = appendScope(query, args, idx, q)
	query += " GROUP BY DATE(timestamp), event_name, variant_id ORDER BY 1, 2"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily stats: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyFunnelStat
	for rows.Next() {
		var s domain.DailyFunnelStat
		if err := rows.Scan(&s.Date, &s.EventName, &s.VariantID, &s.Events, &s.Sessions); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// appendScope adds the shared experiment/variant/time-window predicates.
func appendScope(query string, args []interface{}, idx int, q funnel.StageQuery) (string, []interface{}, int) {
	if q.ExperimentID != "" {
		query += fmt.Sprintf(" AND experiment_id = $%d", idx)
		args = append(args, q.ExperimentID)
		idx++
	}
	if q.VariantID != "" {
		query += fmt.Sprintf(" AND variant_id = $%d", idx)
		args = append(args, q.VariantID)
		idx++
	}
	if q.From != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", idx)
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", idx)
		args = append(args, *q.To)
		idx++
	}
	return query, args, idx
}

// nullStr maps "" to SQL NULL for optional text columns.
func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
