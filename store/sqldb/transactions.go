package sqldb

import (
	"context"

	"github.com/google/uuid"
	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// TRANSACTION LOG (append-only)
// =============================================================================

func (s *Store) Append(ctx context.Context, entry ledger.TransactionLogEntry) (out *ledger.TransactionLogEntry, err error) {
	err = s.WithTx(ctx, func(st ledger.Store) error {
		out, err = st.Append(ctx, entry)
		return err
	})
	return out, err
}

func (s *Store) Entries(ctx context.Context, ref ledger.RecordID) ([]ledger.TransactionLogEntry, error) {
	return s.conn().Entries(ctx, ref)
}

// Append inserts a log entry with the next global sequence number.
func (ts *txStore) Append(ctx context.Context, entry ledger.TransactionLogEntry) (*ledger.TransactionLogEntry, error) {
	if entry.ID == "" {
		entry.ID = ledger.EntryID(uuid.NewString())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = ts.parent.now()
	}
	entry.CreatedAt = normTime(entry.CreatedAt)

	seq, err := ts.bump(ctx, "transaction")
	if err != nil {
		return nil, err
	}
	entry.Sequence = seq

	_, err = ts.exec(ctx, `
		INSERT INTO transactions (id, seq, tx_type, reference_id, amount_cents, description, branch, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(entry.ID), entry.Sequence, string(entry.Type), string(entry.ReferenceID),
		entry.Amount.Cents(), entry.Description, string(entry.Branch), entry.PerformedBy,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return nil, classify("append transaction", err)
	}
	return &entry, nil
}

func (ts *txStore) Entries(ctx context.Context, ref ledger.RecordID) ([]ledger.TransactionLogEntry, error) {
	rows, err := ts.query(ctx, `
		SELECT id, seq, tx_type, reference_id, amount_cents, description, branch, performed_by, created_at
		FROM transactions
		WHERE reference_id = ?
		ORDER BY seq
	`, string(ref))
	if err != nil {
		return nil, classify("load transactions", err)
	}
	defer rows.Close()

	var out []ledger.TransactionLogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify("scan transaction", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row scanner) (ledger.TransactionLogEntry, error) {
	var (
		e                       ledger.TransactionLogEntry
		id, txType, ref, branch string
		amount                  int64
		createdAt               string
	)
	if err := row.Scan(&id, &e.Sequence, &txType, &ref, &amount, &e.Description, &branch, &e.PerformedBy, &createdAt); err != nil {
		return e, err
	}
	e.ID = ledger.EntryID(id)
	e.Type = ledger.TransactionType(txType)
	e.ReferenceID = ledger.RecordID(ref)
	e.Amount = ledger.MoneyFromCents(amount)
	e.Branch = ledger.Branch(branch)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}
