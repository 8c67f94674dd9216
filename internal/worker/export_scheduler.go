package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DayExporter uploads one day of funnel stats; satisfied by
// export.Exporter.
type DayExporter interface {
	ExportDay(ctx context.Context, t time.Time) (string, error)
}

// ExportScheduler runs the previous day's funnel export once per day at a
// fixed UTC hour. Exports overwrite their object, so a crashed and restarted
// scheduler re-running a day is harmless.
type ExportScheduler struct {
	exporter DayExporter
	hourUTC  int
	lock     ExportLock
	now      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewExportScheduler creates a scheduler firing at hourUTC every day.
func NewExportScheduler(exporter DayExporter, hourUTC int) *ExportScheduler {
	return &ExportScheduler{
		exporter: exporter,
		hourUTC:  hourUTC,
		now:      time.Now,
	}
}

// SetLock installs a distributed lock so that only one replica exports a
// given day. Without a lock, concurrent exports are still safe (same key,
// same content) but waste S3 writes.
func (s *ExportScheduler) SetLock(lock ExportLock) {
	s.lock = lock
}

// Start begins the daily export loop
func (s *ExportScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("export scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[ExportScheduler] Starting, daily at %02d:00 UTC", s.hourUTC)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop gracefully stops the scheduler
func (s *ExportScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("[ExportScheduler] Stopped")
}

func (s *ExportScheduler) loop() {
	defer s.wg.Done()

	for {
		wait := time.Until(nextRun(s.now(), s.hourUTC))
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(s.ctx)
		}
	}
}

// RunOnce exports yesterday's stats immediately.
func (s *ExportScheduler) RunOnce(ctx context.Context) {
	yesterday := s.now().UTC().AddDate(0, 0, -1)

	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, yesterday)
		if err != nil {
			// Lock backend down: export anyway, overwrites are idempotent.
			log.Printf("[ExportScheduler] lock unavailable, proceeding: %v", err)
		} else if !ok {
			log.Printf("[ExportScheduler] another replica is exporting %s, skipping",
				yesterday.Format("2006-01-02"))
			return
		} else {
			defer func() {
				if err := s.lock.Unlock(ctx, yesterday); err != nil {
					log.Printf("[ExportScheduler] unlock failed: %v", err)
				}
			}()
		}
	}

	key, err := s.exporter.ExportDay(ctx, yesterday)
	if err != nil {
		log.Printf("[ExportScheduler] export failed: %v", err)
		return
	}
	log.Printf("[ExportScheduler] exported %s", key)
}

// nextRun returns the next occurrence of hourUTC strictly after now.
func nextRun(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
