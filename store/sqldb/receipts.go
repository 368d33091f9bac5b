package sqldb

import (
	"context"
	"database/sql"

	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// RECEIPT AND SEQUENCE COUNTERS
// =============================================================================

func (ts *txStore) nextReceipt(ctx context.Context) (ledger.ReceiptNumber, error) {
	if ts.parent.allocator != nil {
		return ts.parent.allocator.Next(ctx)
	}
	n, err := ts.bump(ctx, "receipt")
	return ledger.ReceiptNumber(n), err
}

// bump increments a counter row and returns the new value. The row lock is
// held until the surrounding transaction ends.
func (ts *txStore) bump(ctx context.Context, name string) (int64, error) {
	var n int64
	err := ts.queryRow(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = ? RETURNING value`, name,
	).Scan(&n)
	if err != nil {
		return 0, classify("allocate "+name+" number", err)
	}
	return n, nil
}

// MaxReceipt returns the highest receipt number issued, for seeding an
// external allocator.
func (s *Store) MaxReceipt(ctx context.Context) (ledger.ReceiptNumber, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(receipt_number) FROM fee_records`).Scan(&n)
	if err != nil {
		return 0, classify("max receipt", err)
	}
	return ledger.ReceiptNumber(n.Int64), nil
}

// Next draws a receipt number from the counter row outside of record
// creation. Records created by Create never need it.
func (s *Store) Next(ctx context.Context) (n ledger.ReceiptNumber, err error) {
	err = s.WithTx(ctx, func(st ledger.Store) error {
		v, err := st.(*txStore).bump(ctx, "receipt")
		n = ledger.ReceiptNumber(v)
		return err
	})
	return n, err
}
