/*
scheduler.go - Periodic consistency audit

PURPOSE:
  Periodically verifies that every participant total equals the sum of their
  approved activity points and their point ledger. The audit is read-only:
  drift is logged and exported as a metric, never corrected. Correction is
  the explicit POST /api/admin/consistency/rebuild.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Interval 0 disables the scheduler

USAGE:
  scheduler := NewAuditScheduler(engine.Consistency, log, metrics)
  scheduler.CheckInterval = cfg.AuditInterval
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - points/consistency.go: VerifyTotals / RebuildTotals
  - handlers.go: VerifyConsistency endpoint (manual audit)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/points-engine/logger"
	"github.com/warp/points-engine/points"
)

// Verifier is the read-only audit the scheduler runs.
type Verifier interface {
	VerifyTotals(ctx context.Context) ([]points.Drift, error)
}

// AuditReporter receives audit outcomes. *metrics.Manager implements it.
type AuditReporter interface {
	AuditCompleted(drifted int)
}

// AuditScheduler runs VerifyTotals on a fixed interval.
type AuditScheduler struct {
	Verifier      Verifier
	CheckInterval time.Duration
	Timeout       time.Duration

	log      logger.Logger
	reporter AuditReporter

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewAuditScheduler creates a scheduler with a one hour interval.
// reporter may be nil.
func NewAuditScheduler(v Verifier, log logger.Logger, reporter AuditReporter) *AuditScheduler {
	if log == nil {
		log = logger.Discard()
	}
	return &AuditScheduler{
		Verifier:      v,
		CheckInterval: time.Hour,
		Timeout:       time.Minute,
		log:           log.With("component", "audit"),
		reporter:      reporter,
	}
}

// Start begins the scheduler.
func (as *AuditScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.CheckInterval <= 0 {
		as.log.Info("audit scheduler disabled")
		return
	}
	if as.ticker != nil {
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.stop = make(chan struct{})
	as.wg.Add(1)

	go as.run(as.ticker, as.stop)

	as.log.Info("audit scheduler started", "interval", as.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight audit.
func (as *AuditScheduler) Stop() {
	as.mu.Lock()
	ticker, stop := as.ticker, as.stop
	as.ticker, as.stop = nil, nil
	as.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	// The worker takes mu in record, so wait without holding it.
	as.wg.Wait()
	as.log.Info("audit scheduler stopped")
}

func (as *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer as.wg.Done()

	// Run immediately on start
	as.RunNow()

	for {
		select {
		case <-ticker.C:
			as.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one audit and returns the drifts it found.
func (as *AuditScheduler) RunNow() []points.Drift {
	ctx, cancel := context.WithTimeout(context.Background(), as.Timeout)
	defer cancel()

	drifts, err := as.Verifier.VerifyTotals(ctx)
	as.record(len(drifts), err)
	if err != nil {
		as.log.Error("consistency audit failed", "error", err)
		return nil
	}

	for _, d := range drifts {
		as.log.Warn("participant total drifted",
			"participant_id", d.ParticipantID,
			"stored_total", d.StoredTotal,
			"approved_sum", d.ApprovedSum,
			"ledger_sum", d.LedgerSum)
	}
	if len(drifts) == 0 {
		as.log.Debug("consistency audit clean")
	}
	return drifts
}

func (as *AuditScheduler) record(drifted int, err error) {
	as.mu.Lock()
	as.lastRun = time.Now()
	as.mu.Unlock()

	if as.reporter == nil {
		return
	}
	if err != nil {
		as.reporter.AuditCompleted(-1)
		return
	}
	as.reporter.AuditCompleted(drifted)
}

// GetNextRunTime returns when the next scheduled check will occur.
func (as *AuditScheduler) GetNextRunTime() time.Time {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.lastRun.IsZero() {
		return time.Now()
	}
	return as.lastRun.Add(as.CheckInterval)
}
