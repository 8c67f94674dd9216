package domain

import (
	"fmt"
	"time"
)

// Assignment records which variant a session was bucketed into for an
// experiment. At most one row exists per (experiment_id, session_id); the
// database enforces this with a unique constraint. Once created the row is
// immutable except for the exposure fields, which flip false→true exactly
// once.
type Assignment struct {
	ExperimentID string     `json:"experiment_id" db:"experiment_id"`
	SessionID    string     `json:"session_id" db:"session_id"`
	VariantID    string     `json:"variant_id" db:"variant_id"`
	AssignedAt   time.Time  `json:"assigned_at" db:"assigned_at"`
	Exposed      bool       `json:"exposed" db:"exposed"`
	ExposedAt    *time.Time `json:"exposed_at,omitempty" db:"exposed_at"`
}

// VariantCounts holds per-variant assignment totals for an experiment,
// the input to an SRM check.
type VariantCounts struct {
	VariantID     string `json:"variant_id"`
	TotalAssigned int    `json:"total_assigned"`
	TotalExposed  int    `json:"total_exposed"`
}

func errEmptyField(name string) error {
	return fmt.Errorf("%s is required", name)
}

func errOutOfRange(name string) error {
	return fmt.Errorf("%s must be between 0 and 100", name)
}
