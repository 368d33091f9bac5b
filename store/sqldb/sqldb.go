/*
Package sqldb provides the SQL implementation of the ledger storage interfaces.

PURPOSE:
  Implements ledger.TxStore, ledger.RecordQuerier, ledger.Auditor and the
  reference-data lookups on database/sql. The same SQL runs on SQLite
  (mattn/go-sqlite3, default and tests) and PostgreSQL (lib/pq); only
  placeholders and error codes differ.

INTERFACES IMPLEMENTED:
  ledger.TxStore:          Fee records + append-only transaction log
  ledger.RecordQuerier:    Filtered, sorted, paginated listing
  ledger.ReceiptAllocator: Counter-row receipt numbers
  ledger.Auditor:          Records whose log does not add up
  ledger.StudentDirectory, ledger.SessionCatalog, ledger.ScheduleLookup

KEY TABLES:
  fee_records:   One row per charge; mutable fields guarded by version
  transactions:  Append-only log. No UPDATE or DELETE statements exist
  counters:      Receipt and log sequences, incremented inside the write tx
  students, sessions, fee_schedules: Reference data
  audit_runs:    Audit sweep history

INVARIANTS ENFORCED BY THE DATABASE:
  - idx_fee_records_live_period: partial unique index on
    (student_id, fee_type, period_month, period_year) WHERE reversed_at IS NULL
  - receipt_number UNIQUE
  - UPDATE ... WHERE id = ? AND version = ? (compare-and-swap)

CONCURRENCY:
  No in-process locks. SQLite is opened with a single connection and a busy
  timeout, so the database serialises writers. PostgreSQL uses a pool and
  row locks on the counter row. Lock contention surfaces as
  ledger.ErrTransientStorage.

USAGE:
  store, err := sqldb.New("./data/fees.db")          // SQLite
  store, err := sqldb.Open(sqldb.Postgres, dsn)       // PostgreSQL
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on open. For production, use a proper migration
  tool with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/fee-ledger/factory"
	"github.com/warp/fee-ledger/ledger"
)

// Dialect is the database/sql driver name.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// Store implements all storage interfaces on a SQL database.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	allocator ledger.ReceiptAllocator
	schedules *factory.ScheduleFactory
	now       func() time.Time
}

var (
	_ ledger.TxStore          = (*Store)(nil)
	_ ledger.RecordQuerier    = (*Store)(nil)
	_ ledger.Auditor          = (*Store)(nil)
	_ ledger.ReceiptAllocator = (*Store)(nil)
	_ ledger.StudentDirectory = (*Store)(nil)
	_ ledger.SessionCatalog   = (*Store)(nil)
	_ ledger.ScheduleLookup   = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithAllocator replaces the counter-row receipt sequence (e.g. with Redis).
func WithAllocator(a ledger.ReceiptAllocator) Option {
	return func(s *Store) { s.allocator = a }
}

// SetAllocator swaps the receipt sequence on an open store. Call it before
// serving requests; an external allocator usually needs MaxReceipt first.
func (s *Store) SetAllocator(a ledger.ReceiptAllocator) { s.allocator = a }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	return Open(SQLite, dbPath, opts...)
}

// Open connects to the database and migrates the schema.
func Open(dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case SQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		db, err = sql.Open(string(SQLite), dsn+sep+"_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
		if err == nil {
			// One connection: ":memory:" databases are per-connection, and
			// SQLite admits a single writer anyway.
			db.SetMaxOpenConns(1)
		}
	case Postgres:
		db, err = sql.Open(string(Postgres), dsn)
		if err == nil {
			db.SetMaxOpenConns(20)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:        db,
		dialect:   dialect,
		schedules: factory.NewScheduleFactory(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect reports which database the store talks to.
func (s *Store) Dialect() Dialect { return s.dialect }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Fee records (one charge per student, fee type and billing month)
	CREATE TABLE IF NOT EXISTS fee_records (
		id TEXT PRIMARY KEY,
		receipt_number BIGINT NOT NULL UNIQUE,
		student_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		branch TEXT NOT NULL,
		fee_type TEXT NOT NULL,
		period_month INTEGER NOT NULL,
		period_year INTEGER NOT NULL,
		base_cents BIGINT NOT NULL,
		payable_cents BIGINT NOT NULL,
		received_cents BIGINT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		payment_source TEXT NOT NULL,
		collected_by TEXT NOT NULL,
		remarks TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		reversed_at TEXT,
		reversed_by TEXT NOT NULL DEFAULT '',
		CHECK (base_cents >= 0 AND payable_cents >= 0 AND received_cents >= 0),
		CHECK (period_month BETWEEN 0 AND 11)
	);

	-- CRITICAL: one live charge per student, fee type and month.
	-- Reversed records release their period.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_records_live_period
		ON fee_records(student_id, fee_type, period_month, period_year)
		WHERE reversed_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_fee_records_created_at
		ON fee_records(created_at);
	CREATE INDEX IF NOT EXISTS idx_fee_records_payment_date
		ON fee_records(payment_date);
	CREATE INDEX IF NOT EXISTS idx_fee_records_session
		ON fee_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_fee_records_collected_by
		ON fee_records(collected_by);

	-- Transaction log (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		seq BIGINT NOT NULL UNIQUE,
		tx_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		description TEXT NOT NULL,
		branch TEXT NOT NULL,
		performed_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id, seq);

	-- Sequences
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	);
	INSERT INTO counters (name, value) VALUES ('receipt', 0) ON CONFLICT (name) DO NOTHING;
	INSERT INTO counters (name, value) VALUES ('transaction', 0) ON CONFLICT (name) DO NOTHING;

	-- Reference data
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		guardian_phone TEXT NOT NULL DEFAULT '',
		class_id TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL,
		admission_date TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fee_schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		session_id TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fee_schedules_session
		ON fee_schedules(session_id);

	-- Audit sweeps
	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		checked INTEGER NOT NULL DEFAULT 0,
		drifted INTEGER NOT NULL DEFAULT 0,
		repaired INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, parent: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txStore runs ledger.Store operations on a connection or a transaction.
type txStore struct {
	q      queryer
	parent *Store
}

func (s *Store) conn() *txStore { return &txStore{q: s.db, parent: s} }

func (ts *txStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return ts.q.ExecContext(ctx, ts.parent.rebind(query), args...)
}

func (ts *txStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return ts.q.QueryContext(ctx, ts.parent.rebind(query), args...)
}

func (ts *txStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return ts.q.QueryRowContext(ctx, ts.parent.rebind(query), args...)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Reset removes all data (demo scenarios only). Counters are kept so
// receipt numbers are never handed out twice.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		ts := st.(*txStore)
		for _, table := range []string{"transactions", "fee_records", "students", "sessions", "fee_schedules", "audit_runs"} {
			if _, err := ts.exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout has fixed width so that TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t.UTC()
}

// normTime drops what the TEXT encoding cannot keep.
func normTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}
