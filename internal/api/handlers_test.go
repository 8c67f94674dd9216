package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/assignment"
	"github.com/staylab/experiment-engine/internal/service/experiment"
	"github.com/staylab/experiment-engine/internal/service/funnel"
)

// In-memory repositories backing the full HTTP stack under test.

type expRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Experiment
}

func (m *expRepo) Get(_ context.Context, id string) (*domain.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, experiment.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *expRepo) List(_ context.Context, f experiment.ListFilter) ([]domain.Experiment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Experiment
	for _, e := range m.byID {
		if f.Status != "" && string(e.Status) != f.Status {
			continue
		}
		out = append(out, *e)
	}
	return out, len(out), nil
}

func (m *expRepo) Create(_ context.Context, e *domain.Experiment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.byID[cp.ExperimentID] = &cp
	return cp.ExperimentID, nil
}

func (m *expRepo) UpdateConfig(_ context.Context, id string, u experiment.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return experiment.ErrNotFound
	}
	if u.Name != nil {
		e.Name = *u.Name
	}
	if u.MDEPercent != nil {
		e.MDEPercent = *u.MDEPercent
	}
	return nil
}

func (m *expRepo) UpdateStatus(_ context.Context, id string, status domain.ExperimentStatus, start, end *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return experiment.ErrNotFound
	}
	e.Status = status
	if start != nil {
		e.StartDate = start
	}
	if end != nil {
		e.EndDate = end
	}
	return nil
}

// GetExperiment satisfies assignment.ExperimentReader without a cache.
func (m *expRepo) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	return m.Get(ctx, id)
}

type assignRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Assignment
}

func akey(expID, sessID string) string { return expID + "/" + sessID }

func (m *assignRepo) Get(_ context.Context, expID, sessID string) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[akey(expID, sessID)]
	if !ok {
		return nil, assignment.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *assignRepo) Create(_ context.Context, a *domain.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := akey(a.ExperimentID, a.SessionID)
	if _, ok := m.rows[k]; ok {
		return assignment.ErrDuplicate
	}
	cp := *a
	m.rows[k] = &cp
	return nil
}

func (m *assignRepo) MarkExposed(_ context.Context, expID, sessID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[akey(expID, sessID)]
	if !ok {
		return assignment.ErrNotFound
	}
	if !a.Exposed {
		a.Exposed = true
		a.ExposedAt = &at
	}
	return nil
}

func (m *assignRepo) Counts(_ context.Context, expID string) ([]domain.VariantCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVariant := map[string]*domain.VariantCounts{}
	for _, a := range m.rows {
		if a.ExperimentID != expID {
			continue
		}
		c, ok := byVariant[a.VariantID]
		if !ok {
			c = &domain.VariantCounts{VariantID: a.VariantID}
			byVariant[a.VariantID] = c
		}
		c.TotalAssigned++
		if a.Exposed {
			c.TotalExposed++
		}
	}
	var out []domain.VariantCounts
	for _, c := range byVariant {
		out = append(out, *c)
	}
	return out, nil
}

type eventRepo struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *eventRepo) Insert(_ context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *eventRepo) List(_ context.Context, f funnel.EventFilter) ([]domain.Event, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if f.EventName != "" && e.EventName != f.EventName {
			continue
		}
		if f.ExperimentID != "" && e.ExperimentID != f.ExperimentID {
			continue
		}
		out = append(out, e)
	}
	total := len(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *eventRepo) StageSessionCounts(_ context.Context, q funnel.StageQuery) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[string]bool{}
	for _, n := range q.EventNames {
		wanted[n] = true
	}
	sessions := map[string]map[string]bool{}
	for _, e := range m.events {
		if !wanted[e.EventName] {
			continue
		}
		if q.ExperimentID != "" && e.ExperimentID != q.ExperimentID {
			continue
		}
		if sessions[e.EventName] == nil {
			sessions[e.EventName] = map[string]bool{}
		}
		sessions[e.EventName][e.SessionID] = true
	}
	counts := map[string]int{}
	for name, set := range sessions {
		counts[name] = len(set)
	}
	return counts, nil
}

func (m *eventRepo) VariantStageCounts(_ context.Context, expID string, names []string, _, _ *time.Time) ([]domain.VariantStageCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}
	type cell struct{ variant, event string }
	sessions := map[cell]map[string]bool{}
	for _, e := range m.events {
		if e.ExperimentID != expID || !wanted[e.EventName] {
			continue
		}
		c := cell{e.VariantID, e.EventName}
		if sessions[c] == nil {
			sessions[c] = map[string]bool{}
		}
		sessions[c][e.SessionID] = true
	}
	var out []domain.VariantStageCount
	for c, set := range sessions {
		out = append(out, domain.VariantStageCount{EventName: c.event, VariantID: c.variant, Sessions: len(set)})
	}
	return out, nil
}

func (m *eventRepo) DailyStats(_ context.Context, q funnel.StageQuery) ([]domain.DailyFunnelStat, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *expRepo) {
	t.Helper()
	er := &expRepo{byID: map[string]*domain.Experiment{}}
	ar := &assignRepo{rows: map[string]*domain.Assignment{}}
	ev := &eventRepo{}

	h := NewHandlers(
		experiment.NewService(er),
		assignment.NewService(ar, er),
		funnel.NewService(ev),
	)
	srv := httptest.NewServer(SetupRoutes(h))
	t.Cleanup(srv.Close)
	return srv, er
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", resp.StatusCode, body)
	}
}

func TestExperimentLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/experiments", map[string]interface{}{
		"name":       "Policy digest placement",
		"hypothesis": "Surfacing cancellation policy earlier lifts booking submit",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}
	id := body["experiment_id"].(string)
	if body["status"] != "draft" {
		t.Fatalf("expected draft, got %v", body["status"])
	}

	// draft → completed is rejected
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/status", map[string]string{"status": "completed"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("draft→completed: expected 409, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/status", map[string]string{"status": "running"})
	if resp.StatusCode != http.StatusOK || body["status"] != "running" {
		t.Fatalf("start: %d %v", resp.StatusCode, body)
	}
	if body["start_date"] == nil {
		t.Fatal("start date missing after start")
	}

	// Config frozen once running
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/experiments/"+id, map[string]interface{}{"mde_percent": 2.0})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("edit running config: expected 409, got %d", resp.StatusCode)
	}
}

func TestAssignAndExposureOverHTTP(t *testing.T) {
	srv, er := newTestServer(t)
	er.byID["exp_1"] = &domain.Experiment{
		ExperimentID: "exp_1", Name: "x", Status: domain.ExperimentRunning,
		TrafficPercent: 100, ControlPercent: 50, ConfidenceLevel: 0.95,
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/assign", map[string]string{
		"experiment_id": "exp_1", "session_id": "sess_abc",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %v", resp.StatusCode, body)
	}
	variant := body["variant_id"].(string)
	if variant != "control" && variant != "treatment" {
		t.Fatalf("unexpected variant %q", variant)
	}

	// Same session, same variant
	_, body2 := doJSON(t, http.MethodPost, srv.URL+"/api/assign", map[string]string{
		"experiment_id": "exp_1", "session_id": "sess_abc",
	})
	if body2["variant_id"] != variant || body2["already_assigned"] != true {
		t.Fatalf("repeat assign: %v", body2)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/exposure", map[string]string{
		"experiment_id": "exp_1", "session_id": "sess_abc",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exposure: %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/assignments/exp_1/sess_abc", nil)
	if resp.StatusCode != http.StatusOK || body["exposed"] != true {
		t.Fatalf("get assignment: %d %v", resp.StatusCode, body)
	}

	// Unknown experiment: control fallback, never an error
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/assign", map[string]string{
		"experiment_id": "exp_missing", "session_id": "s",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unknown experiment must fall back to control: got %d", resp.StatusCode)
	}
	if body["variant_id"] != "control" || body["persisted"] != false {
		t.Fatalf("unknown experiment fallback: %v", body)
	}
}

func TestTrackAndFunnelOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 10; i++ {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/events", map[string]interface{}{
			"event_name": "search_result_view",
			"session_id": fmt.Sprintf("sess_%d", i),
			"properties": map[string]interface{}{"destination": "Kyoto"},
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("track: %d", resp.StatusCode)
		}
	}
	for i := 0; i < 4; i++ {
		doJSON(t, http.MethodPost, srv.URL+"/api/events", map[string]interface{}{
			"event_name": "hotel_detail_view",
			"session_id": fmt.Sprintf("sess_%d", i),
		})
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/funnel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("funnel: %d", resp.StatusCode)
	}
	stages := body["stages"].([]interface{})
	second := stages[1].(map[string]interface{})
	if second["sessions"].(float64) != 4 {
		t.Fatalf("detail sessions = %v", second["sessions"])
	}
	if second["conversion_rate"].(float64) != 0.4 {
		t.Fatalf("conversion = %v, want 0.4", second["conversion_rate"])
	}

	// Invalid event
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/events", map[string]string{"session_id": "s"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid event: expected 400, got %d", resp.StatusCode)
	}
}

func TestResultsOverHTTP(t *testing.T) {
	srv, er := newTestServer(t)
	er.byID["exp_1"] = &domain.Experiment{
		ExperimentID: "exp_1", Name: "x", Status: domain.ExperimentRunning,
		TrafficPercent: 100, ControlPercent: 50,
		PrimaryMetric: "booking_submit", ConfidenceLevel: 0.95,
	}

	// 100 assigned per arm, conversions 7 control / 14 treatment.
	for i := 0; i < 100; i++ {
		doJSON(t, http.MethodPost, srv.URL+"/api/assign", map[string]string{
			"experiment_id": "exp_1", "session_id": fmt.Sprintf("s%d", i),
		})
	}
	track := func(variant string, n int) {
		for i := 0; i < n; i++ {
			doJSON(t, http.MethodPost, srv.URL+"/api/events", map[string]interface{}{
				"event_name":    "booking_submit",
				"session_id":    fmt.Sprintf("%s_conv_%d", variant, i),
				"experiment_id": "exp_1",
				"variant_id":    variant,
			})
		}
	}
	track("control", 7)
	track("treatment", 14)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/experiments/exp_1/results", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results: %d %v", resp.StatusCode, body)
	}
	analysis := body["analysis"].(map[string]interface{})
	if analysis["lift"] == nil || analysis["p_value"] == nil {
		t.Fatalf("missing analysis fields: %v", analysis)
	}
	if body["srm"] == nil {
		t.Fatal("missing srm guardrail in results")
	}
}

func TestSampleSizeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/analysis/sample-size", map[string]float64{
		"mde_percent": 1.5, "confidence_level": 95, "statistical_power": 80, "baseline_rate": 0.07,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sample size: %d %v", resp.StatusCode, body)
	}
	if body["sample_size_per_variant"].(float64) != 4537 {
		t.Fatalf("sample size = %v, want 4537", body["sample_size_per_variant"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/analysis/sample-size", map[string]float64{
		"mde_percent": 1.5, "confidence_level": 97, "statistical_power": 80, "baseline_rate": 0.07,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported confidence: expected 400, got %d", resp.StatusCode)
	}
}

func TestSRMEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/analysis/srm", map[string]interface{}{
		"control_count": 5234, "treatment_count": 5189, "control_percent": 50,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("srm: %d %v", resp.StatusCode, body)
	}
	if body["passed"] != true {
		t.Fatalf("balanced split should pass srm: %v", body)
	}
}

func TestExperimentNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/experiments/exp_missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
