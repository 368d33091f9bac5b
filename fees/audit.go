package fees

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// AUDIT - Detect and repair log drift
// =============================================================================

// Audit run statuses.
const (
	AuditRunning   = "running"
	AuditCompleted = "completed"
	AuditFailed    = "failed"
)

// AuditReport is the outcome of one sweep.
type AuditReport struct {
	Run    ledger.AuditRun
	Drifts []ledger.Drift
}

// Audit finds records whose log entries do not sum to their logged balance.
// With repair set, each drift is closed by an adjustment entry performed by
// SystemActor. The drift is re-measured inside the repair transaction so a
// concurrent edit is never double-counted.
func (s *Service) Audit(ctx context.Context, repair bool) (*AuditReport, error) {
	run := ledger.AuditRun{
		ID:        uuid.NewString(),
		Status:    AuditRunning,
		StartedAt: s.now(),
	}
	if err := s.store.SaveAuditRun(ctx, run); err != nil {
		return nil, err
	}

	report, err := s.sweep(ctx, &run, repair)
	completed := s.now()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = AuditFailed
		run.Error = err.Error()
	} else {
		run.Status = AuditCompleted
	}
	if saveErr := s.store.SaveAuditRun(ctx, run); saveErr != nil {
		s.log.Error().Err(saveErr).Str("run_id", run.ID).Msg("failed to record audit run")
	}
	if err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("audit failed")
		return nil, err
	}

	report.Run = run
	s.log.Info().
		Str("run_id", run.ID).
		Int("checked", run.Checked).
		Int("drifted", run.Drifted).
		Int("repaired", run.Repaired).
		Msg("audit completed")
	return report, nil
}

func (s *Service) sweep(ctx context.Context, run *ledger.AuditRun, repair bool) (*AuditReport, error) {
	checked, drifts, err := s.store.Drift(ctx)
	if err != nil {
		return nil, err
	}
	run.Checked = checked
	run.Drifted = len(drifts)
	for _, d := range drifts {
		s.log.Warn().
			Str("record_id", string(d.RecordID)).
			Str("expected", d.Expected.String()).
			Str("logged", d.Logged.String()).
			Bool("reversed", d.Reversed).
			Msg("ledger drift")
	}

	if repair {
		for _, d := range drifts {
			fixed, err := s.repair(ctx, d.RecordID)
			if err != nil {
				return nil, fmt.Errorf("repair %s: %w", d.RecordID, err)
			}
			if fixed {
				run.Repaired++
			}
		}
	}
	return &AuditReport{Drifts: drifts}, nil
}

// repair appends the adjustment that brings a record's log sum to its
// logged balance. Returns false if the record no longer drifts.
func (s *Service) repair(ctx context.Context, id ledger.RecordID) (fixed bool, err error) {
	err = s.retry(ctx, "audit repair", func() error {
		return s.store.WithTx(ctx, func(st ledger.Store) error {
			rec, err := st.Get(ctx, id)
			if err != nil {
				return err
			}
			entries, err := st.Entries(ctx, id)
			if err != nil {
				return err
			}
			d := ledger.Drift{RecordID: id, Branch: rec.Branch, Expected: rec.LoggedBalance(), Reversed: rec.IsReversed()}
			for _, e := range entries {
				d.Logged = d.Logged.Add(e.Amount)
			}
			if d.Correction().IsZero() {
				fixed = false
				return nil
			}
			_, err = st.Append(ctx, ledger.TransactionLogEntry{
				Type:        ledger.TxAdjustment,
				ReferenceID: id,
				Amount:      d.Correction(),
				Description: fmt.Sprintf("receipt %s: audit correction, logged %s, expected %s", rec.ReceiptNumber, d.Logged, d.Expected),
				Branch:      rec.Branch,
				PerformedBy: SystemActor,
				CreatedAt:   s.now(),
			})
			fixed = err == nil
			return err
		})
	})
	return fixed, err
}

// AuditRuns returns recent sweeps, newest first.
func (s *Service) AuditRuns(ctx context.Context, limit int) ([]ledger.AuditRun, error) {
	return s.store.ListAuditRuns(ctx, limit)
}
