package worker

// =============================================================================
// SRM GUARDRAIL MONITOR
// =============================================================================
// Periodically sweeps running experiments and checks the observed
// control/treatment assignment split against the configured allocation.
// A failed check means the bucketing or delivery path is biased and any
// lift estimate from that experiment is invalid; the monitor logs loudly
// and keeps the latest verdict available for the stats endpoints.

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/experiment"
	"github.com/staylab/experiment-engine/internal/stats"
)

const (
	// DefaultSweepInterval is how often running experiments are checked.
	DefaultSweepInterval = time.Hour

	// DefaultMinAssignments skips experiments too small for the chi-square
	// approximation to mean anything.
	DefaultMinAssignments = 1000
)

// ExperimentLister is the experiment lookup the monitor needs.
type ExperimentLister interface {
	List(ctx context.Context, f experiment.ListFilter) ([]domain.Experiment, int, error)
}

// CountsSource provides per-variant assignment totals.
type CountsSource interface {
	Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error)
}

// GuardrailMonitor sweeps running experiments for sample-ratio mismatch.
type GuardrailMonitor struct {
	experiments    ExperimentLister
	counts         CountsSource
	sweepInterval  time.Duration
	minAssignments int

	lastResults map[string]stats.SRMResult

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewGuardrailMonitor creates a monitor with the default sweep settings.
func NewGuardrailMonitor(experiments ExperimentLister, counts CountsSource) *GuardrailMonitor {
	return &GuardrailMonitor{
		experiments:    experiments,
		counts:         counts,
		sweepInterval:  DefaultSweepInterval,
		minAssignments: DefaultMinAssignments,
		lastResults:    make(map[string]stats.SRMResult),
	}
}

// SetSweepInterval overrides the sweep cadence.
func (g *GuardrailMonitor) SetSweepInterval(d time.Duration) {
	if d > 0 {
		g.sweepInterval = d
	}
}

// SetMinAssignments overrides the minimum sample before a check runs.
func (g *GuardrailMonitor) SetMinAssignments(n int) {
	if n > 0 {
		g.minAssignments = n
	}
}

// Start begins the sweep loop
func (g *GuardrailMonitor) Start() error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("guardrail monitor already running")
	}
	g.running = true
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.mu.Unlock()

	log.Printf("[GuardrailMonitor] Starting with sweep interval: %v", g.sweepInterval)

	g.wg.Add(1)
	go g.sweepLoop()
	return nil
}

// Stop gracefully stops the monitor
func (g *GuardrailMonitor) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
	log.Printf("[GuardrailMonitor] Stopped")
}

func (g *GuardrailMonitor) sweepLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.SweepOnce(g.ctx)
		}
	}
}

// SweepOnce checks every running experiment once. Exposed so the worker
// binary can run an immediate sweep at startup.
func (g *GuardrailMonitor) SweepOnce(ctx context.Context) {
	running, _, err := g.experiments.List(ctx, experiment.ListFilter{
		Status: string(domain.ExperimentRunning),
		Limit:  500,
	})
	if err != nil {
		log.Printf("[GuardrailMonitor] list running experiments: %v", err)
		return
	}

	for _, e := range running {
		g.checkExperiment(ctx, e)
	}
}

func (g *GuardrailMonitor) checkExperiment(ctx context.Context, e domain.Experiment) {
	counts, err := g.counts.Counts(ctx, e.ExperimentID)
	if err != nil {
		log.Printf("[GuardrailMonitor] counts for %s: %v", e.ExperimentID, err)
		return
	}

	var control, treatment int
	for _, c := range counts {
		switch c.VariantID {
		case domain.VariantControl:
			control = c.TotalAssigned
		case domain.VariantTreatment:
			treatment = c.TotalAssigned
		}
	}
	if control+treatment < g.minAssignments {
		return
	}

	res, err := stats.SRMCheck(control, treatment, float64(e.ControlPercent))
	if err != nil {
		log.Printf("[GuardrailMonitor] srm check for %s: %v", e.ExperimentID, err)
		return
	}

	g.mu.Lock()
	g.lastResults[e.ExperimentID] = res
	g.mu.Unlock()

	if !res.Passed {
		log.Printf("[GuardrailMonitor] SRM ALERT for %s: observed %d/%d vs expected %.0f/%.0f (chi2=%.2f p=%.6f), results are not trustworthy",
			e.ExperimentID, control, treatment, res.ExpectedControl, res.ExpectedTreatment, res.ChiSquare, res.PValue)
	}
}

// LastResult returns the most recent SRM verdict for an experiment.
func (g *GuardrailMonitor) LastResult(experimentID string) (stats.SRMResult, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res, ok := g.lastResults[experimentID]
	return res, ok
}
