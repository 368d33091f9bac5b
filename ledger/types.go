package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS AND ENUMS
// =============================================================================

type RecordID string
type EntryID string

// ReceiptNumber is the human-facing, strictly increasing receipt sequence.
type ReceiptNumber int64

func (n ReceiptNumber) String() string { return fmt.Sprintf("%06d", int64(n)) }

type FeeType string
type Branch string
type PaymentMethod string
type PaymentSource string

// PaymentStatus is derived from payable and received amounts. Never stored
// as independent truth.
type PaymentStatus string

const (
	StatusUnpaid  PaymentStatus = "unpaid"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
)

func (s PaymentStatus) Valid() bool {
	return s == StatusUnpaid || s == StatusPartial || s == StatusPaid
}

type TransactionType string

const (
	TxIncome     TransactionType = "income"
	TxExpense    TransactionType = "expense"
	TxReversal   TransactionType = "reversal"
	TxAdjustment TransactionType = "adjustment"
)

// =============================================================================
// FEE RECORD
// =============================================================================

// FeeRecord is one charge for one student, one fee type and one billing month.
//
// Identity fields (student, session, branch, fee type, base and payable
// amounts) never change after creation. Received amount, payment date and
// method, period and remarks change only through the reconciliation engine.
// DueAmount and PaymentStatus are recomputed on every read and write.
type FeeRecord struct {
	ID            RecordID
	ReceiptNumber ReceiptNumber
	StudentID     string
	SessionID     string
	Branch        Branch
	FeeType       FeeType
	Period        Period

	BaseAmount     Money
	PayableAmount  Money
	ReceivedAmount Money
	DueAmount      Money
	PaymentStatus  PaymentStatus

	PaymentMethod PaymentMethod
	PaymentDate   time.Time
	PaymentSource PaymentSource
	CollectedBy   string
	Remarks       string

	// Version increments on every successful write (optimistic concurrency).
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	// Set by administrative reversal. A reversed record is read-only and no
	// longer occupies its billing period.
	ReversedAt *time.Time
	ReversedBy string
}

// Recompute refreshes the derived fields.
func (r *FeeRecord) Recompute() {
	r.DueAmount, r.PaymentStatus = Derive(r.PayableAmount, r.ReceivedAmount)
}

func (r FeeRecord) IsReversed() bool { return r.ReversedAt != nil }

func (r FeeRecord) Key() PeriodKey {
	return PeriodKey{StudentID: r.StudentID, FeeType: r.FeeType, Period: r.Period}
}

// LoggedBalance is what the transaction log must sum to for this record.
func (r FeeRecord) LoggedBalance() Money {
	if r.IsReversed() {
		return Zero
	}
	return r.ReceivedAmount
}

// PeriodKey is the uniqueness key for live records.
type PeriodKey struct {
	StudentID string
	FeeType   FeeType
	Period    Period
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.StudentID, k.FeeType, k.Period)
}

// NewFeeRecord is the charge handed to Store.Create. The store assigns the
// receipt number, version and (when empty) the id.
type NewFeeRecord struct {
	ID             RecordID
	StudentID      string
	SessionID      string
	Branch         Branch
	FeeType        FeeType
	Period         Period
	BaseAmount     Money
	PayableAmount  Money
	ReceivedAmount Money
	PaymentMethod  PaymentMethod
	PaymentDate    time.Time
	PaymentSource  PaymentSource
	CollectedBy    string
	Remarks        string
	CreatedAt      time.Time
}

// Validate checks the storage-level invariants of a charge: identifiers
// present, a valid period and non-negative amounts with payable <= base.
func (c NewFeeRecord) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(c.StudentID) == "" {
		verr.Add("studentId", "is required")
	}
	if strings.TrimSpace(c.SessionID) == "" {
		verr.Add("sessionId", "is required")
	}
	if c.FeeType == "" {
		verr.Add("feeType", "is required")
	}
	verr.Merge(c.Period.Validate())
	base := verr.CheckAmount("baseAmount", c.BaseAmount)
	payable := verr.CheckAmount("payableAmount", c.PayableAmount)
	verr.CheckAmount("receivedAmount", c.ReceivedAmount)
	if base && payable && c.PayableAmount.GreaterThan(c.BaseAmount) {
		verr.Add("payableAmount", "must not exceed baseAmount")
	}
	return verr.OrNil()
}

// Record materialises the charge as a stored record.
func (c NewFeeRecord) Record(id RecordID, receipt ReceiptNumber) FeeRecord {
	r := FeeRecord{
		ID:             id,
		ReceiptNumber:  receipt,
		StudentID:      c.StudentID,
		SessionID:      c.SessionID,
		Branch:         c.Branch,
		FeeType:        c.FeeType,
		Period:         c.Period,
		BaseAmount:     c.BaseAmount,
		PayableAmount:  c.PayableAmount,
		ReceivedAmount: c.ReceivedAmount,
		PaymentMethod:  c.PaymentMethod,
		PaymentDate:    c.PaymentDate,
		PaymentSource:  c.PaymentSource,
		CollectedBy:    c.CollectedBy,
		Remarks:        c.Remarks,
		Version:        1,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.CreatedAt,
	}
	r.Recompute()
	return r
}

// CheckAmount records why m is not a storable amount: out of range,
// negative or finer than cents. Reports whether m is usable.
func (v *ValidationError) CheckAmount(field string, m Money) bool {
	switch {
	case !m.InRange():
		v.Add(field, fmt.Sprintf("must be at most %d", MaxUnits))
	case m.IsNegative():
		v.Add(field, "must not be negative")
	case !m.HasValidScale():
		v.Add(field, "must have at most two decimal places")
	default:
		return true
	}
	return false
}

// =============================================================================
// TRANSACTION LOG ENTRY
// =============================================================================

// TransactionLogEntry is an append-only audit record of a money movement or
// correction. Amount is signed: income and adjustments carry the increase,
// reversals the (negative) decrease. For every record the amounts of its
// entries sum to LoggedBalance().
type TransactionLogEntry struct {
	ID          EntryID
	Sequence    int64
	Type        TransactionType
	ReferenceID RecordID
	Amount      Money
	Description string
	Branch      Branch
	PerformedBy string
	CreatedAt   time.Time
}

// IncomeEntry is the log entry for the initial payment on a new record.
func IncomeEntry(r FeeRecord, actor string) TransactionLogEntry {
	return TransactionLogEntry{
		Type:        TxIncome,
		ReferenceID: r.ID,
		Amount:      r.ReceivedAmount,
		Description: fmt.Sprintf("receipt %s: %s fee for %s", r.ReceiptNumber, r.FeeType, r.Period.Label()),
		Branch:      r.Branch,
		PerformedBy: actor,
		CreatedAt:   r.CreatedAt,
	}
}

// ReversalEntry is the log entry for an administrative reversal of r.
func ReversalEntry(r FeeRecord, reason, actor string, at time.Time) TransactionLogEntry {
	return TransactionLogEntry{
		Type:        TxReversal,
		ReferenceID: r.ID,
		Amount:      r.ReceivedAmount.Neg(),
		Description: fmt.Sprintf("receipt %s reversed: %s", r.ReceiptNumber, reason),
		Branch:      r.Branch,
		PerformedBy: actor,
		CreatedAt:   at,
	}
}
