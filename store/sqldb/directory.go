package sqldb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// STUDENTS (ledger.StudentDirectory interface)
// =============================================================================

// SaveStudent creates or replaces a student.
func (s *Store) SaveStudent(ctx context.Context, st ledger.Student) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO students (id, code, name, guardian_phone, class_id, branch, admission_date, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			guardian_phone = excluded.guardian_phone,
			class_id = excluded.class_id,
			branch = excluded.branch,
			admission_date = excluded.admission_date,
			active = excluded.active
	`),
		st.ID, st.Code, st.Name, st.GuardianPhone, st.ClassID, string(st.Branch),
		formatTime(st.AdmissionDate), st.Active, formatTime(st.CreatedAt),
	)
	return classify("save student", err)
}

const studentColumns = `id, code, name, guardian_phone, class_id, branch, admission_date, active, created_at`

func (s *Store) GetStudent(ctx context.Context, id string) (*ledger.Student, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+studentColumns+` FROM students WHERE id = ?`), id)
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Resource: "student", ID: id}
	}
	if err != nil {
		return nil, classify("get student", err)
	}
	return st, nil
}

func (s *Store) ListStudents(ctx context.Context) ([]ledger.Student, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY name, id`)
	if err != nil {
		return nil, classify("list students", err)
	}
	defer rows.Close()

	var out []ledger.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, classify("scan student", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanStudent(row scanner) (*ledger.Student, error) {
	var (
		st                   ledger.Student
		branch               string
		admission, createdAt string
	)
	err := row.Scan(&st.ID, &st.Code, &st.Name, &st.GuardianPhone, &st.ClassID, &branch, &admission, &st.Active, &createdAt)
	if err != nil {
		return nil, err
	}
	st.Branch = ledger.Branch(branch)
	st.AdmissionDate = parseTime(admission)
	st.CreatedAt = parseTime(createdAt)
	return &st, nil
}

// =============================================================================
// SESSIONS (ledger.SessionCatalog interface)
// =============================================================================

func (s *Store) SaveSession(ctx context.Context, sess ledger.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (id, name, start_date, end_date, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			active = excluded.active
	`),
		sess.ID, sess.Name, formatTime(sess.StartDate), formatTime(sess.EndDate), sess.Active, formatTime(sess.CreatedAt),
	)
	return classify("save session", err)
}

const sessionColumns = `id, name, start_date, end_date, active, created_at`

func (s *Store) GetSession(ctx context.Context, id string) (*ledger.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Resource: "session", ID: id}
	}
	if err != nil {
		return nil, classify("get session", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]ledger.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY start_date DESC, id`)
	if err != nil {
		return nil, classify("list sessions", err)
	}
	defer rows.Close()

	var out []ledger.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, classify("scan session", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (*ledger.Session, error) {
	var (
		sess                ledger.Session
		start, end, created string
	)
	if err := row.Scan(&sess.ID, &sess.Name, &start, &end, &sess.Active, &created); err != nil {
		return nil, err
	}
	sess.StartDate = parseTime(start)
	sess.EndDate = parseTime(end)
	sess.CreatedAt = parseTime(created)
	return &sess, nil
}
