package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/assignment"
	"github.com/staylab/experiment-engine/internal/service/experiment"
	"github.com/staylab/experiment-engine/internal/service/funnel"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestExperimentRepo_GetNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT(.|\n)*FROM experiments").
		WithArgs("exp_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := NewExperimentRepo(db).Get(context.Background(), "exp_missing")
	if !errors.Is(err, experiment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExperimentRepo_Get(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	cols := []string{
		"experiment_id", "name", "description", "hypothesis", "status",
		"traffic_percent", "control_percent",
		"primary_metric", "secondary_metrics", "guardrail_metrics",
		"mde_percent", "confidence_level", "statistical_power", "attribution_window_hours",
		"start_date", "end_date", "created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT(.|\n)*FROM experiments").
		WithArgs("exp_1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"exp_1", "Policy digest", "", "", "running",
			100, 50,
			"booking_submit", "{pay_success}", "{}",
			1.5, 0.95, 0.80, 24,
			now, nil, now, now,
		))

	e, err := NewExperimentRepo(db).Get(context.Background(), "exp_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Status != domain.ExperimentRunning || e.ControlPercent != 50 {
		t.Fatalf("unexpected experiment: %+v", e)
	}
	if e.StartDate == nil || e.EndDate != nil {
		t.Fatalf("unexpected dates: start=%v end=%v", e.StartDate, e.EndDate)
	}
}

func TestExperimentRepo_UpdateStatusNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE experiments").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewExperimentRepo(db).UpdateStatus(context.Background(), "exp_x", domain.ExperimentRunning, nil, nil)
	if !errors.Is(err, experiment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExperimentRepo_UpdateConfigNoFields(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// No fields set: no SQL should be issued.
	if err := NewExperimentRepo(db).UpdateConfig(context.Background(), "exp_1", experiment.UpdateFields{}); err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected SQL: %v", err)
	}
}

func TestAssignmentRepo_CreateDuplicate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO experiment_assignments").
		WillReturnError(&pq.Error{Code: "23505"})

	err := NewAssignmentRepo(db).Create(context.Background(), &domain.Assignment{
		ExperimentID: "exp_1", SessionID: "sess_1", VariantID: domain.VariantControl, AssignedAt: time.Now(),
	})
	if !errors.Is(err, assignment.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on unique violation, got %v", err)
	}
}

func TestAssignmentRepo_CreateOtherError(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO experiment_assignments").
		WillReturnError(errors.New("connection reset"))

	err := NewAssignmentRepo(db).Create(context.Background(), &domain.Assignment{
		ExperimentID: "exp_1", SessionID: "sess_1", VariantID: domain.VariantControl, AssignedAt: time.Now(),
	})
	if err == nil || errors.Is(err, assignment.ErrDuplicate) {
		t.Fatalf("non-constraint failure must not map to ErrDuplicate, got %v", err)
	}
}

func TestAssignmentRepo_MarkExposedIdempotent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// Row already exposed: update matches nothing, existence check passes.
	mock.ExpectExec("UPDATE experiment_assignments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := NewAssignmentRepo(db).MarkExposed(context.Background(), "exp_1", "sess_1", time.Now())
	if err != nil {
		t.Fatalf("repeat exposure should be a no-op, got %v", err)
	}
}

func TestAssignmentRepo_MarkExposedUnassigned(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE experiment_assignments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := NewAssignmentRepo(db).MarkExposed(context.Background(), "exp_1", "sess_never", time.Now())
	if !errors.Is(err, assignment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignmentRepo_Counts(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT variant_id").
		WithArgs("exp_1").
		WillReturnRows(sqlmock.NewRows([]string{"variant_id", "total_assigned", "total_exposed"}).
			AddRow("control", 5234, 4100).
			AddRow("treatment", 5189, 4075))

	counts, err := NewAssignmentRepo(db).Counts(context.Background(), "exp_1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(counts) != 2 || counts[0].TotalAssigned != 5234 || counts[1].TotalExposed != 4075 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestEventRepo_StageSessionCounts(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT event_name, COUNT\\(DISTINCT session_id\\)").
		WillReturnRows(sqlmock.NewRows([]string{"event_name", "count"}).
			AddRow("search_result_view", 10000).
			AddRow("hotel_detail_view", 4200))

	counts, err := NewEventRepo(db).StageSessionCounts(context.Background(), funnel.StageQuery{
		EventNames: []string{"search_result_view", "hotel_detail_view"},
	})
	if err != nil {
		t.Fatalf("stage counts: %v", err)
	}
	if counts["search_result_view"] != 10000 || counts["hotel_detail_view"] != 4200 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestEventRepo_Insert(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO tracking_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewEventRepo(db).Insert(context.Background(), &domain.Event{
		ID:        "evt_1",
		EventName: domain.EventSearchResultView,
		SessionID: "sess_1",
		Timestamp: time.Now(),
		Properties: map[string]any{
			"destination": "Kyoto",
			"results":     42,
		},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEventRepo_DailyStats(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT TO_CHAR").
		WillReturnRows(sqlmock.NewRows([]string{"date", "event_name", "variant_id", "events", "sessions"}).
			AddRow("2026-03-10", "search_result_view", "control", 12, 8).
			AddRow("2026-03-11", "search_result_view", "control", 15, 9))

	stats, err := NewEventRepo(db).DailyStats(context.Background(), funnel.StageQuery{
		EventNames: []string{"search_result_view"},
	})
	if err != nil {
		t.Fatalf("daily stats: %v", err)
	}
	if len(stats) != 2 || stats[0].Date != "2026-03-10" || stats[1].Sessions != 9 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
