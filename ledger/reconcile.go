/*
reconcile.go - Reconciliation engine for edits to existing fee records

PURPOSE:
  Turns a proposed edit into a plan: what changed, the full patch to
  write, the record as it will look afterwards and the one log entry that
  explains the change. The engine is pure; it never touches storage. The
  caller commits the patch and the entry in one storage transaction.

ALGORITHM:
  1. Reject edits of reversed records and edits based on an old version
  2. Validate the proposed values
  3. Change set = fields among {receivedAmount, month, year} whose value differs
  4. Remarks gate: non-empty change set requires non-blank remarks
  5. Project the record and recompute due amount and payment status
  6. Choose the log entry:
       received increased            -> adjustment (+delta)
       received decreased            -> reversal   (-delta)
       only the period changed       -> adjustment (0), period noted
       nothing in the change set     -> no entry

WHY DERIVED FIELDS LIVE HERE:
  Due amount and status are computed in exactly one place (derive.go) and
  this engine is the only writer of received amounts after creation, so
  they cannot drift from the amounts they are derived from.

SEE ALSO:
  - derive.go: DueAmount and StatusFor
  - fees/reconcile.go: Commits the plan through the store
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// INPUT
// =============================================================================

// EditProposal holds the requested new values. Nil means "leave unchanged".
type EditProposal struct {
	ReceivedAmount *Money
	Month          *int
	Year           *int
	PaymentDate    *time.Time
	PaymentMethod  *PaymentMethod
	Remarks        *string

	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion *int64
}

// =============================================================================
// CHANGE SET
// =============================================================================

type MoneyChange struct {
	Old Money
	New Money
}

func (c MoneyChange) Delta() Money { return c.New.Sub(c.Old) }

type IntChange struct {
	Old int
	New int
}

// ChangeSet lists the reconciling fields whose value actually changed.
type ChangeSet struct {
	ReceivedAmount *MoneyChange
	Month          *IntChange
	Year           *IntChange
}

func (c ChangeSet) IsEmpty() bool {
	return c.ReceivedAmount == nil && c.Month == nil && c.Year == nil
}

func (c ChangeSet) PeriodChanged() bool { return c.Month != nil || c.Year != nil }

// Fields returns the names of the changed fields in a stable order.
func (c ChangeSet) Fields() []string {
	var out []string
	if c.ReceivedAmount != nil {
		out = append(out, "receivedAmount")
	}
	if c.Month != nil {
		out = append(out, "month")
	}
	if c.Year != nil {
		out = append(out, "year")
	}
	return out
}

// =============================================================================
// OUTPUT
// =============================================================================

// ReconciliationPatch is the complete set of mutable fields to write,
// guarded by ExpectedVersion.
type ReconciliationPatch struct {
	ExpectedVersion int64
	ReceivedAmount  Money
	Period          Period
	PaymentDate     time.Time
	PaymentMethod   PaymentMethod
	Remarks         string
	UpdatedAt       time.Time
}

// ReconciliationPlan is the engine's decision for one edit.
type ReconciliationPlan struct {
	Current   FeeRecord
	Projected FeeRecord
	Changes   ChangeSet
	Patch     ReconciliationPatch

	// Entry is nil when the change set is empty.
	Entry *TransactionLogEntry
}

// =============================================================================
// ENGINE
// =============================================================================

// ReconciliationEngine plans edits. The zero value is ready to use.
type ReconciliationEngine struct{}

// Plan validates an edit against the current record and returns what to write.
func (ReconciliationEngine) Plan(current FeeRecord, p EditProposal, actor string, now time.Time) (*ReconciliationPlan, error) {
	if current.IsReversed() {
		return nil, &ConflictError{Kind: ConflictAlreadyReversed, RecordID: current.ID}
	}
	if p.ExpectedVersion != nil && *p.ExpectedVersion != current.Version {
		return nil, &ConflictError{Kind: ConflictStaleVersion, RecordID: current.ID}
	}

	projected := current
	if p.ReceivedAmount != nil {
		projected.ReceivedAmount = *p.ReceivedAmount
	}
	if p.Month != nil {
		projected.Period.Month = *p.Month
	}
	if p.Year != nil {
		projected.Period.Year = *p.Year
	}
	if p.PaymentDate != nil {
		projected.PaymentDate = *p.PaymentDate
	}
	if p.PaymentMethod != nil {
		projected.PaymentMethod = *p.PaymentMethod
	}
	remarks := ""
	if p.Remarks != nil {
		remarks = strings.TrimSpace(*p.Remarks)
		projected.Remarks = remarks
	}

	verr := &ValidationError{}
	verr.CheckAmount("receivedAmount", projected.ReceivedAmount)
	verr.Merge(projected.Period.Validate())
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	changes := diff(current, projected)
	if !changes.IsEmpty() && remarks == "" {
		return nil, RemarksRequiredError()
	}

	projected.UpdatedAt = now
	projected.Version = current.Version + 1
	projected.Recompute()

	plan := &ReconciliationPlan{
		Current:   current,
		Projected: projected,
		Changes:   changes,
		Patch: ReconciliationPatch{
			ExpectedVersion: current.Version,
			ReceivedAmount:  projected.ReceivedAmount,
			Period:          projected.Period,
			PaymentDate:     projected.PaymentDate,
			PaymentMethod:   projected.PaymentMethod,
			Remarks:         projected.Remarks,
			UpdatedAt:       now,
		},
	}
	if !changes.IsEmpty() {
		entry := entryFor(projected, changes, remarks, actor, now)
		plan.Entry = &entry
	}
	return plan, nil
}

func diff(current, projected FeeRecord) ChangeSet {
	var c ChangeSet
	if !current.ReceivedAmount.Equal(projected.ReceivedAmount) {
		c.ReceivedAmount = &MoneyChange{Old: current.ReceivedAmount, New: projected.ReceivedAmount}
	}
	if current.Period.Month != projected.Period.Month {
		c.Month = &IntChange{Old: current.Period.Month, New: projected.Period.Month}
	}
	if current.Period.Year != projected.Period.Year {
		c.Year = &IntChange{Old: current.Period.Year, New: projected.Period.Year}
	}
	return c
}

func entryFor(r FeeRecord, c ChangeSet, remarks, actor string, now time.Time) TransactionLogEntry {
	entry := TransactionLogEntry{
		Type:        TxAdjustment,
		ReferenceID: r.ID,
		Amount:      Zero,
		Branch:      r.Branch,
		PerformedBy: actor,
		CreatedAt:   now,
	}

	var parts []string
	if c.ReceivedAmount != nil {
		delta := c.ReceivedAmount.Delta()
		entry.Amount = delta
		if delta.IsNegative() {
			entry.Type = TxReversal
		}
		parts = append(parts, fmt.Sprintf("received %s -> %s", c.ReceivedAmount.Old, c.ReceivedAmount.New))
	}
	if c.PeriodChanged() {
		old := r.Period
		if c.Month != nil {
			old.Month = c.Month.Old
		}
		if c.Year != nil {
			old.Year = c.Year.Old
		}
		parts = append(parts, fmt.Sprintf("period %s -> %s", old, r.Period))
	}
	entry.Description = fmt.Sprintf("receipt %s: %s (%s)", r.ReceiptNumber, strings.Join(parts, ", "), remarks)
	return entry
}
