/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Sweeps the ledger on a fixed interval for records whose transaction log
  does not sum to their logged balance (a record committed without its
  entry, or a hand-edited row). Optionally appends corrective adjustments.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Sweeps once immediately on start
  - Each sweep is recorded as an audit run (see fees/audit.go)
  - A sweep that fails is logged; the next tick tries again

CONFIGURATION:
  - Interval: SWEEP_INTERVAL (default 1h, 0 disables)
  - Repair:   SWEEP_REPAIR (default false, report only)

USAGE:
  scheduler := NewAuditScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAudit endpoint (manual sweep)
  - fees/audit.go: Drift detection and repair
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/fee-ledger/fees"
)

// AuditScheduler runs fees.Service.Audit periodically.
type AuditScheduler struct {
	Service  *fees.Service
	Interval time.Duration
	Repair   bool

	// Timeout bounds a single sweep.
	Timeout time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAuditScheduler creates a scheduler with a one hour interval.
func NewAuditScheduler(svc *fees.Service, log zerolog.Logger) *AuditScheduler {
	return &AuditScheduler{
		Service:  svc,
		Interval: time.Hour,
		Timeout:  5 * time.Minute,
		log:      log,
	}
}

// Start begins the scheduler. A non-positive interval disables it.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.log.Info().Msg("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.Info().Dur("interval", s.Interval).Bool("repair", s.Repair).Msg("audit scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info().Msg("audit scheduler stopped")
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.sweep()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-stop:
			return
		}
	}
}

func (s *AuditScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled audit failed")
	}
}

// RunNow sweeps immediately with the scheduler's repair setting.
func (s *AuditScheduler) RunNow(ctx context.Context) (*fees.AuditReport, error) {
	return s.Service.Audit(ctx, s.Repair)
}

// NextRunTime returns when the next scheduled sweep will occur.
func (s *AuditScheduler) NextRunTime() time.Time {
	return time.Now().Add(s.Interval)
}
