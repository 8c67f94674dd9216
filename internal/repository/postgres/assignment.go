package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/assignment"
)

// AssignmentRepo implements assignment.Repository against PostgreSQL. The
// experiment_assignments table carries UNIQUE (experiment_id, session_id);
// concurrent inserts for the same pair surface as ErrDuplicate so the
// service can keep the first writer's variant.
type AssignmentRepo struct{ db *sql.DB }

// NewAssignmentRepo creates a Postgres-backed assignment repository.
func NewAssignmentRepo(db *sql.DB) *AssignmentRepo { return &AssignmentRepo{db: db} }

func (r *AssignmentRepo) Get(ctx context.Context, experimentID, sessionID string) (*domain.Assignment, error) {
	a := &domain.Assignment{}
	err := r.db.QueryRowContext(ctx, `
		SELECT experiment_id, session_id, variant_id, assigned_at, exposed, exposed_at
		FROM experiment_assignments
		WHERE experiment_id = $1 AND session_id = $2
	`, experimentID, sessionID).Scan(
		&a.ExperimentID, &a.SessionID, &a.VariantID, &a.AssignedAt, &a.Exposed, &a.ExposedAt,
	)
	if err == sql.ErrNoRows {
		return nil, assignment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

func (r *AssignmentRepo) Create(ctx context.Context, a *domain.Assignment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO experiment_assignments
			(experiment_id, session_id, variant_id, assigned_at, exposed)
		VALUES ($1, $2, $3, $4, FALSE)
	`, a.ExperimentID, a.SessionID, a.VariantID, a.AssignedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return assignment.ErrDuplicate
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepo) MarkExposed(ctx context.Context, experimentID, sessionID string, at time.Time) error {
	// The exposed = FALSE guard keeps the first exposure timestamp; a repeat
	// call matches zero rows, which is fine as long as the row exists.
	res, err := r.db.ExecContext(ctx, `
		UPDATE experiment_assignments
		SET exposed = TRUE, exposed_at = $1
		WHERE experiment_id = $2 AND session_id = $3 AND exposed = FALSE
	`, at, experimentID, sessionID)
	if err != nil {
		return fmt.Errorf("mark exposed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark exposed: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM experiment_assignments
				WHERE experiment_id = $1 AND session_id = $2
			)
		`, experimentID, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("mark exposed: %w", err)
		}
		if !exists {
			return assignment.ErrNotFound
		}
	}
	return nil
}

func (r *AssignmentRepo) Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_id,
		       COUNT(*) AS total_assigned,
		       COUNT(*) FILTER (WHERE exposed) AS total_exposed
		FROM experiment_assignments
		WHERE experiment_id = $1
		GROUP BY variant_id
		ORDER BY variant_id
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("assignment counts: %w", err)
	}
	defer rows.Close()

	var out []domain.VariantCounts
	for rows.Next() {
		var c domain.VariantCounts
		if err := rows.Scan(&c.VariantID, &c.TotalAssigned, &c.TotalExposed); err != nil {
			return nil, fmt.Errorf("scan counts: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
