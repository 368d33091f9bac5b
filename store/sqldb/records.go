package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// FEE RECORDS (ledger.Store interface)
// =============================================================================

var _ ledger.Store = (*txStore)(nil)

const recordColumns = `id, receipt_number, student_id, session_id, branch, fee_type,
	period_month, period_year, base_cents, payable_cents, received_cents,
	payment_method, payment_date, payment_source, collected_by, remarks,
	version, created_at, updated_at, reversed_at, reversed_by`

func (s *Store) Create(ctx context.Context, charge ledger.NewFeeRecord) (rec *ledger.FeeRecord, err error) {
	err = s.WithTx(ctx, func(st ledger.Store) error {
		rec, err = st.Create(ctx, charge)
		return err
	})
	return rec, err
}

func (s *Store) Get(ctx context.Context, id ledger.RecordID) (*ledger.FeeRecord, error) {
	return s.conn().Get(ctx, id)
}

func (s *Store) ApplyEdit(ctx context.Context, id ledger.RecordID, patch ledger.ReconciliationPatch) (rec *ledger.FeeRecord, err error) {
	err = s.WithTx(ctx, func(st ledger.Store) error {
		rec, err = st.ApplyEdit(ctx, id, patch)
		return err
	})
	return rec, err
}

func (s *Store) MarkReversed(ctx context.Context, id ledger.RecordID, expectedVersion int64, by string, at time.Time) (rec *ledger.FeeRecord, err error) {
	err = s.WithTx(ctx, func(st ledger.Store) error {
		rec, err = st.MarkReversed(ctx, id, expectedVersion, by, at)
		return err
	})
	return rec, err
}

// Create inserts the record with the next receipt number. The receipt
// counter is bumped in the same transaction, so a rolled-back insert does
// not consume a number.
func (ts *txStore) Create(ctx context.Context, charge ledger.NewFeeRecord) (*ledger.FeeRecord, error) {
	if err := charge.Validate(); err != nil {
		return nil, err
	}
	if charge.ID == "" {
		charge.ID = ledger.RecordID(uuid.NewString())
	}
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = ts.parent.now()
	}
	charge.CreatedAt = normTime(charge.CreatedAt)
	charge.PaymentDate = normTime(charge.PaymentDate)

	receipt, err := ts.nextReceipt(ctx)
	if err != nil {
		return nil, err
	}
	rec := charge.Record(charge.ID, receipt)

	_, err = ts.exec(ctx, `
		INSERT INTO fee_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '')
	`,
		string(rec.ID), int64(rec.ReceiptNumber), rec.StudentID, rec.SessionID,
		string(rec.Branch), string(rec.FeeType), rec.Period.Month, rec.Period.Year,
		rec.BaseAmount.Cents(), rec.PayableAmount.Cents(), rec.ReceivedAmount.Cents(),
		string(rec.PaymentMethod), formatTime(rec.PaymentDate), string(rec.PaymentSource),
		rec.CollectedBy, rec.Remarks, rec.Version,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return nil, writeError("insert fee record", err, rec.ID, rec.Key())
	}
	return &rec, nil
}

func (ts *txStore) Get(ctx context.Context, id ledger.RecordID) (*ledger.FeeRecord, error) {
	row := ts.queryRow(ctx, `SELECT `+recordColumns+` FROM fee_records WHERE id = ?`, string(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Resource: "fee record", ID: string(id)}
	}
	if err != nil {
		return nil, classify("get fee record", err)
	}
	return rec, nil
}

// ApplyEdit writes the patch with a compare-and-swap on version.
func (ts *txStore) ApplyEdit(ctx context.Context, id ledger.RecordID, patch ledger.ReconciliationPatch) (*ledger.FeeRecord, error) {
	// Read before writing: postgres aborts the tx on a unique violation.
	target := ledger.PeriodKey{Period: patch.Period}
	var feeType string
	err := ts.queryRow(ctx, `SELECT student_id, fee_type FROM fee_records WHERE id = ?`, string(id)).
		Scan(&target.StudentID, &feeType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Resource: "fee record", ID: string(id)}
	}
	if err != nil {
		return nil, classify("get fee record", err)
	}
	target.FeeType = ledger.FeeType(feeType)

	res, err := ts.exec(ctx, `
		UPDATE fee_records
		SET received_cents = ?, period_month = ?, period_year = ?,
			payment_date = ?, payment_method = ?, remarks = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND reversed_at IS NULL
	`,
		patch.ReceivedAmount.Cents(), patch.Period.Month, patch.Period.Year,
		formatTime(normTime(patch.PaymentDate)), string(patch.PaymentMethod), patch.Remarks,
		formatTime(normTime(patch.UpdatedAt)),
		string(id), patch.ExpectedVersion,
	)
	if err != nil {
		return nil, editError("update fee record", err, id, target)
	}
	if err := ts.requireOneRow(ctx, res, id); err != nil {
		return nil, err
	}
	return ts.Get(ctx, id)
}

// MarkReversed flags the record reversed, which also releases its period
// from idx_fee_records_live_period.
func (ts *txStore) MarkReversed(ctx context.Context, id ledger.RecordID, expectedVersion int64, by string, at time.Time) (*ledger.FeeRecord, error) {
	stamp := formatTime(normTime(at))
	res, err := ts.exec(ctx, `
		UPDATE fee_records
		SET reversed_at = ?, reversed_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND reversed_at IS NULL
	`, stamp, by, stamp, string(id), expectedVersion)
	if err != nil {
		return nil, classify("reverse fee record", err)
	}
	if err := ts.requireOneRow(ctx, res, id); err != nil {
		return nil, err
	}
	return ts.Get(ctx, id)
}

// requireOneRow explains a compare-and-swap miss.
func (ts *txStore) requireOneRow(ctx context.Context, res sql.Result, id ledger.RecordID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify("rows affected", err)
	}
	if n == 1 {
		return nil
	}
	current, err := ts.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.IsReversed() {
		return &ledger.ConflictError{Kind: ledger.ConflictAlreadyReversed, RecordID: id}
	}
	return &ledger.ConflictError{Kind: ledger.ConflictStaleVersion, RecordID: id}
}

// editError reports a period collision against the key the edit was
// moving to.
func editError(op string, err error, id ledger.RecordID, target ledger.PeriodKey) error {
	if _, ok := uniqueViolation(err); !ok {
		return classify(op, err)
	}
	return &ledger.ConflictError{Kind: ledger.ConflictDuplicatePeriod, RecordID: id, Key: &target}
}

func scanRecord(row scanner) (*ledger.FeeRecord, error) {
	var (
		rec                     ledger.FeeRecord
		id, branch, feeType     string
		method, source          string
		receipt                 int64
		base, payable, received int64
		paymentDate             string
		createdAt, updatedAt    string
		reversedAt              sql.NullString
	)
	err := row.Scan(
		&id, &receipt, &rec.StudentID, &rec.SessionID, &branch, &feeType,
		&rec.Period.Month, &rec.Period.Year, &base, &payable, &received,
		&method, &paymentDate, &source, &rec.CollectedBy, &rec.Remarks,
		&rec.Version, &createdAt, &updatedAt, &reversedAt, &rec.ReversedBy,
	)
	if err != nil {
		return nil, err
	}

	rec.ID = ledger.RecordID(id)
	rec.ReceiptNumber = ledger.ReceiptNumber(receipt)
	rec.Branch = ledger.Branch(branch)
	rec.FeeType = ledger.FeeType(feeType)
	rec.BaseAmount = ledger.MoneyFromCents(base)
	rec.PayableAmount = ledger.MoneyFromCents(payable)
	rec.ReceivedAmount = ledger.MoneyFromCents(received)
	rec.PaymentMethod = ledger.PaymentMethod(method)
	rec.PaymentSource = ledger.PaymentSource(source)
	rec.PaymentDate = parseTime(paymentDate)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if reversedAt.Valid {
		t := parseTime(reversedAt.String)
		rec.ReversedAt = &t
	}
	rec.Recompute()
	return &rec, nil
}
