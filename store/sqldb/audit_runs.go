package sqldb

import (
	"context"
	"database/sql"

	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// AUDIT RUNS
// =============================================================================

// SaveAuditRun inserts or updates a sweep record.
func (s *Store) SaveAuditRun(ctx context.Context, run ledger.AuditRun) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_runs (id, status, checked, drifted, repaired, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			checked = excluded.checked,
			drifted = excluded.drifted,
			repaired = excluded.repaired,
			error = excluded.error,
			completed_at = excluded.completed_at
	`),
		run.ID, run.Status, run.Checked, run.Drifted, run.Repaired, run.Error,
		formatTime(run.StartedAt), nullTime(run.CompletedAt),
	)
	return classify("save audit run", err)
}

// ListAuditRuns returns the most recent runs first.
func (s *Store) ListAuditRuns(ctx context.Context, limit int) ([]ledger.AuditRun, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, status, checked, drifted, repaired, error, started_at, completed_at
		FROM audit_runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, classify("list audit runs", err)
	}
	defer rows.Close()

	var runs []ledger.AuditRun
	for rows.Next() {
		var (
			run       ledger.AuditRun
			startedAt string
			completed sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Status, &run.Checked, &run.Drifted, &run.Repaired, &run.Error, &startedAt, &completed); err != nil {
			return nil, classify("scan audit run", err)
		}
		run.StartedAt = parseTime(startedAt)
		if completed.Valid {
			t := parseTime(completed.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
