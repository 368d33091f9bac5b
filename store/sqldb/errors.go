package sqldb

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/fee-ledger/ledger"
)

// classify wraps driver errors that may succeed on retry in a
// *ledger.TransientError. Other errors are wrapped with op for context.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return &ledger.TransientError{Op: op, Err: err}
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.op + ": " + e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return true
		}
		return pqErr.Code.Class() == "08" // connection exceptions
	}
	return false
}

// uniqueViolation reports whether err is a unique constraint failure and,
// if so, the text naming the constraint or columns.
func uniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return sqliteErr.Error(), true
		}
		return "", false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint + " " + pqErr.Message, true
	}
	return "", false
}

// writeError maps a failed fee_records write. A period collision becomes a
// DuplicatePeriod conflict; a receipt collision (two allocators racing) is
// transient because a retry draws a fresh number.
func writeError(op string, err error, id ledger.RecordID, key ledger.PeriodKey) error {
	if detail, ok := uniqueViolation(err); ok {
		if strings.Contains(detail, "receipt_number") {
			return &ledger.TransientError{Op: op, Err: err}
		}
		return &ledger.ConflictError{Kind: ledger.ConflictDuplicatePeriod, RecordID: id, Key: &key}
	}
	return classify(op, err)
}
