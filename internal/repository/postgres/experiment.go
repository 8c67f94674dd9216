package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/experiment"
)

// ExperimentRepo implements experiment.Repository against PostgreSQL.
type ExperimentRepo struct{ db *sql.DB }

// NewExperimentRepo creates a Postgres-backed experiment repository.
func NewExperimentRepo(db *sql.DB) *ExperimentRepo { return &ExperimentRepo{db: db} }

const experimentColumns = `
	experiment_id, name, COALESCE(description,''), COALESCE(hypothesis,''), status,
	traffic_percent, control_percent,
	primary_metric, secondary_metrics, guardrail_metrics,
	mde_percent, confidence_level, statistical_power, attribution_window_hours,
	start_date, end_date, created_at, updated_at`

func scanExperiment(row interface{ Scan(...interface{}) error }) (*domain.Experiment, error) {
	e := &domain.Experiment{}
	err := row.Scan(
		&e.ExperimentID, &e.Name, &e.Description, &e.Hypothesis, &e.Status,
		&e.TrafficPercent, &e.ControlPercent,
		&e.PrimaryMetric, pq.Array(&e.SecondaryMetrics), pq.Array(&e.GuardrailMetrics),
		&e.MDEPercent, &e.ConfidenceLevel, &e.StatisticalPower, &e.AttributionWindowHours,
		&e.StartDate, &e.EndDate, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *ExperimentRepo) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	e, err := scanExperiment(r.db.QueryRowContext(ctx, `
		SELECT `+experimentColumns+`
		FROM experiments
		WHERE experiment_id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, experiment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return e, nil
}

func (r *ExperimentRepo) List(ctx context.Context, f experiment.ListFilter) ([]domain.Experiment, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM experiments WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		countQ += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		countQ += fmt.Sprintf(" AND name ILIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count experiments: %w", err)
	}

	q := `SELECT ` + experimentColumns + ` FROM experiments WHERE 1=1`
	qArgs := []interface{}{}
	qIdx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", qIdx)
		qArgs = append(qArgs, f.Status)
		qIdx++
	}
	if f.Search != "" {
		q += fmt.Sprintf(" AND name ILIKE $%d", qIdx)
		qArgs = append(qArgs, "%"+f.Search+"%")
		qIdx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", qIdx, qIdx+1)
	qArgs = append(qArgs, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []domain.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan experiment: %w", err)
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func (r *ExperimentRepo) Create(ctx context.Context, e *domain.Experiment) (string, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO experiments
			(experiment_id, name, description, hypothesis, status,
			 traffic_percent, control_percent,
			 primary_metric, secondary_metrics, guardrail_metrics,
			 mde_percent, confidence_level, statistical_power, attribution_window_hours,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
	`, e.ExperimentID, e.Name, e.Description, e.Hypothesis, e.Status,
		e.TrafficPercent, e.ControlPercent,
		e.PrimaryMetric, pq.Array(e.SecondaryMetrics), pq.Array(e.GuardrailMetrics),
		e.MDEPercent, e.ConfidenceLevel, e.StatisticalPower, e.AttributionWindowHours)
	if err != nil {
		return "", fmt.Errorf("create experiment: %w", err)
	}
	return e.ExperimentID, nil
}

func (r *ExperimentRepo) UpdateConfig(ctx context.Context, id string, u experiment.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1

	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.Hypothesis != nil {
		add("hypothesis", *u.Hypothesis)
	}
	if u.TrafficPercent != nil {
		add("traffic_percent", *u.TrafficPercent)
	}
	if u.ControlPercent != nil {
		add("control_percent", *u.ControlPercent)
	}
	if u.PrimaryMetric != nil {
		add("primary_metric", *u.PrimaryMetric)
	}
	if u.SecondaryMetrics != nil {
		add("secondary_metrics", pq.Array(*u.SecondaryMetrics))
	}
	if u.GuardrailMetrics != nil {
		add("guardrail_metrics", pq.Array(*u.GuardrailMetrics))
	}
	if u.MDEPercent != nil {
		add("mde_percent", *u.MDEPercent)
	}
	if u.ConfidenceLevel != nil {
		add("confidence_level", *u.ConfidenceLevel)
	}
	if u.StatisticalPower != nil {
		add("statistical_power", *u.StatisticalPower)
	}
	if u.AttributionWindowHours != nil {
		add("attribution_window_hours", *u.AttributionWindowHours)
	}
	if len(sets) == 0 {
		return nil
	}

	q := "UPDATE experiments SET "
	for i, s := range sets {
		if i > 0 {
			q += ", "
		}
		q += s
	}
	q += fmt.Sprintf(", updated_at = NOW() WHERE experiment_id = $%d", idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return experiment.ErrNotFound
	}
	return nil
}

func (r *ExperimentRepo) UpdateStatus(ctx context.Context, id string, status domain.ExperimentStatus, start, end *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE experiments
		SET status = $1,
		    start_date = COALESCE($2, start_date),
		    end_date = COALESCE($3, end_date),
		    updated_at = NOW()
		WHERE experiment_id = $4
	`, status, start, end, id)
	if err != nil {
		return fmt.Errorf("update experiment status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return experiment.ErrNotFound
	}
	return nil
}
