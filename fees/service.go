/*
service.go - Fee workflows: receive, reconcile, reverse, list, audit

PURPOSE:
  The only entry point for writes to the fee ledger. Every write runs in a
  single storage transaction that changes the record and appends the
  matching transaction log entry, so the log always accounts for the
  record's received amount.

WORKFLOWS:
  Receive    Validate -> student active -> session exists -> resolve amounts
             from the request or the session's fee schedule -> Create
             (receipt number allocated atomically) -> income entry
  Reconcile  Load -> ReconciliationEngine.Plan -> ApplyEdit (version CAS)
             -> adjustment/reversal entry
  Reverse    Load -> MarkReversed (version CAS) -> reversal entry of
             -received. The period is released for a new charge.
  Audit      Find records whose log does not add up, optionally append
             corrective adjustments performed by SystemActor

RETRIES:
  Lock contention and receipt collisions surface as ErrTransientStorage.
  The whole transaction is retried with exponential backoff. Conflicts and
  validation errors are never retried.

CONCURRENCY:
  The service holds no locks. Uniqueness, receipt ordering and lost-update
  protection live in storage (unique index, counter row, version column).

SEE ALSO:
  - ledger/reconcile.go: Edit planning
  - ledger/store.go: Storage contract
  - api/handlers.go: HTTP surface
*/
package fees

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/fee-ledger/ledger"
)

// AuditRuns stores the history of audit sweeps.
type AuditRuns interface {
	SaveAuditRun(ctx context.Context, run ledger.AuditRun) error
	ListAuditRuns(ctx context.Context, limit int) ([]ledger.AuditRun, error)
}

// Backend is everything the service needs from storage. Both store/sqldb
// and the in-memory store implement it.
type Backend interface {
	ledger.TxStore
	ledger.RecordQuerier
	ledger.Auditor
	ledger.StudentDirectory
	ledger.SessionCatalog
	ledger.ScheduleLookup
	AuditRuns
}

// Service runs the fee workflows.
type Service struct {
	store   Backend
	engine  ledger.ReconciliationEngine
	log     zerolog.Logger
	now     func() time.Time
	retries int
	backoff time.Duration
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetries sets how often a transient failure is retried and the first
// backoff delay, which doubles on each attempt.
func WithRetries(n int, backoff time.Duration) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
		s.backoff = backoff
	}
}

func NewService(store Backend, opts ...Option) *Service {
	s := &Service{
		store:   store,
		log:     zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
		retries: 3,
		backoff: 25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// retry runs fn until it succeeds, fails permanently or runs out of attempts.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	delay := s.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !ledger.IsRetryable(err) || attempt >= s.retries {
			return err
		}
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("transient storage failure, retrying")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}
