/*
store.go - Persistence interfaces for fee records and the transaction log

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Records are mutable only through Create, ApplyEdit and MarkReversed;
  the transaction log is append-only.

KEY INTERFACES:
  Store:            Records + transaction log, usable inside a transaction
  TxStore:          Store with WithTx (atomic record write + log append)
  RecordQuerier:    Filtered, sorted, paginated listing
  ReceiptAllocator: Strictly increasing receipt numbers
  Auditor:          Detects records whose log does not add up

INVARIANTS PUSHED TO STORAGE:
  - At most one live record per (student, fee type, month, year):
    a partial unique index, never a read-then-write check
  - Receipt numbers unique and increasing: a counter row incremented in
    the same transaction as the insert (or Redis INCR)
  - Edits are compare-and-swap on the version column

APPEND-ONLY CONTRACT:
  The transaction log has Append and Entries. NO Update or Delete exists.
  Corrections are new entries (adjustment or reversal).

IMPLEMENTATIONS:
  - store/sqldb: SQLite and PostgreSQL
  - ledger/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - errors.go: Errors each method returns
  - fees/service.go: Orchestrates these calls
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists fee records and their transaction log.
type Store interface {
	// Create allocates a receipt number and inserts the record atomically.
	// Returns a DuplicatePeriod *ConflictError when a live record already
	// covers the same period key, a *ValidationError for invalid charges and
	// a *TransientError on contention.
	Create(ctx context.Context, charge NewFeeRecord) (*FeeRecord, error)

	// Get returns a *NotFoundError for unknown ids.
	Get(ctx context.Context, id RecordID) (*FeeRecord, error)

	// ApplyEdit writes the mutable fields if the stored version still equals
	// patch.ExpectedVersion. Returns StaleVersion, AlreadyReversed or
	// DuplicatePeriod conflicts, or *NotFoundError.
	ApplyEdit(ctx context.Context, id RecordID, patch ReconciliationPatch) (*FeeRecord, error)

	// MarkReversed flags the record as reversed under the same
	// compare-and-swap rule as ApplyEdit.
	MarkReversed(ctx context.Context, id RecordID, expectedVersion int64, by string, at time.Time) (*FeeRecord, error)

	// Append adds a log entry, assigning ID and Sequence. Returns the stored entry.
	Append(ctx context.Context, entry TransactionLogEntry) (*TransactionLogEntry, error)

	// Entries returns the log of one record in append order.
	Entries(ctx context.Context, ref RecordID) ([]TransactionLogEntry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// RecordQuerier lists records. See Query.Normalize for accepted input.
type RecordQuerier interface {
	List(ctx context.Context, q Query) (*RecordPage, error)
}

// ReceiptAllocator hands out strictly increasing, never reused receipt
// numbers. Contention surfaces as a *TransientError.
type ReceiptAllocator interface {
	Next(ctx context.Context) (ReceiptNumber, error)
}

// =============================================================================
// AUDIT
// =============================================================================

// Drift is a record whose log entries do not sum to its logged balance.
type Drift struct {
	RecordID RecordID
	Branch   Branch
	Expected Money
	Logged   Money
	Reversed bool
}

// Correction is the amount an adjustment entry must carry to close the gap.
func (d Drift) Correction() Money { return d.Expected.Sub(d.Logged) }

// Auditor finds drifted records. checked is the number of records examined.
type Auditor interface {
	Drift(ctx context.Context) (checked int, drifts []Drift, err error)
}

// AuditRun records one sweep for display and troubleshooting.
type AuditRun struct {
	ID          string
	Status      string // running, completed, failed
	Checked     int
	Drifted     int
	Repaired    int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
