package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/fee-ledger/factory"
	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// FEE SCHEDULES (ledger.ScheduleLookup interface)
// =============================================================================

// SaveSchedule stores the schedule as its JSON document. Saving an existing
// id replaces the document and bumps its version.
func (s *Store) SaveSchedule(ctx context.Context, schedule ledger.FeeSchedule) error {
	doc, err := json.Marshal(factory.ToJSON(schedule))
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO fee_schedules (id, name, session_id, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			session_id = excluded.session_id,
			config_json = excluded.config_json,
			version = fee_schedules.version + 1,
			updated_at = excluded.updated_at
	`), schedule.ID, schedule.Name, schedule.SessionID, string(doc), now, now)
	return classify("save schedule", err)
}

const scheduleColumns = `config_json, version, created_at, updated_at`

func (s *Store) GetSchedule(ctx context.Context, id string) (*ledger.FeeSchedule, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+scheduleColumns+` FROM fee_schedules WHERE id = ?`), id)
	schedule, err := s.scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Resource: "fee schedule", ID: id}
	}
	return schedule, err
}

// ScheduleForSession returns the most recently updated schedule of a session.
func (s *Store) ScheduleForSession(ctx context.Context, sessionID string) (*ledger.FeeSchedule, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+scheduleColumns+` FROM fee_schedules
		WHERE session_id = ?
		ORDER BY updated_at DESC, id
		LIMIT 1
	`), sessionID)
	schedule, err := s.scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Resource: "fee schedule", ID: sessionID}
	}
	return schedule, err
}

func (s *Store) ListSchedules(ctx context.Context) ([]ledger.FeeSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM fee_schedules ORDER BY session_id, id`)
	if err != nil {
		return nil, classify("list schedules", err)
	}
	defer rows.Close()

	var out []ledger.FeeSchedule
	for rows.Next() {
		schedule, err := s.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *schedule)
	}
	return out, rows.Err()
}

// scanSchedule re-validates the stored document; a schedule that no longer
// parses (e.g. a fee type was unregistered) is reported, not silently used.
func (s *Store) scanSchedule(row scanner) (*ledger.FeeSchedule, error) {
	var (
		doc                  string
		version              int
		createdAt, updatedAt string
	)
	if err := row.Scan(&doc, &version, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, classify("scan schedule", err)
	}
	schedule, err := s.schedules.ParseSchedule(doc)
	if err != nil {
		return nil, fmt.Errorf("stored schedule is invalid: %w", err)
	}
	schedule.Version = version
	schedule.CreatedAt = parseTime(createdAt)
	schedule.UpdatedAt = parseTime(updatedAt)
	return schedule, nil
}
