package fees

import (
	"context"
	"errors"
	"time"

	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// RECONCILE - Edit an existing record
// =============================================================================

// EditRequest is a typed partial update. Nil fields stay unchanged.
// Changing ReceivedAmount, Month or Year requires Remarks.
type EditRequest struct {
	ReceivedAmount *ledger.Money
	Month          *int
	Year           *int
	PaymentDate    *time.Time
	PaymentMethod  *ledger.PaymentMethod
	Remarks        *string

	// ExpectedVersion rejects the edit if the record changed since it was read.
	ExpectedVersion *int64
}

func (r EditRequest) Validate() error {
	verr := &ledger.ValidationError{}
	if r.ReceivedAmount == nil && r.Month == nil && r.Year == nil &&
		r.PaymentDate == nil && r.PaymentMethod == nil && r.Remarks == nil {
		verr.Add("body", "at least one field must be provided")
	}
	if r.PaymentMethod != nil && !ledger.IsPaymentMethod(*r.PaymentMethod) {
		verr.Add("paymentMethod", "unknown payment method")
	}
	if r.PaymentDate != nil && r.PaymentDate.IsZero() {
		verr.Add("paymentDate", "must be a valid date")
	}
	return verr.OrNil()
}

func (r EditRequest) proposal() ledger.EditProposal {
	return ledger.EditProposal{
		ReceivedAmount:  r.ReceivedAmount,
		Month:           r.Month,
		Year:            r.Year,
		PaymentDate:     r.PaymentDate,
		PaymentMethod:   r.PaymentMethod,
		Remarks:         r.Remarks,
		ExpectedVersion: r.ExpectedVersion,
	}
}

// ReconcileResult is the updated record, what changed and the log entry
// appended for it (nil when no reconciling field changed).
type ReconcileResult struct {
	Record  *ledger.FeeRecord
	Changes ledger.ChangeSet
	Entry   *ledger.TransactionLogEntry
}

// Reconcile applies an edit through the reconciliation engine. The record
// update and its log entry commit together or not at all.
func (s *Service) Reconcile(ctx context.Context, id ledger.RecordID, req EditRequest, actor string) (*ReconcileResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result *ReconcileResult
	err := s.retry(ctx, "reconcile", func() error {
		return s.store.WithTx(ctx, func(st ledger.Store) error {
			current, err := st.Get(ctx, id)
			if err != nil {
				return err
			}
			plan, err := s.engine.Plan(*current, req.proposal(), actor, s.now())
			if err != nil {
				return err
			}
			updated, err := st.ApplyEdit(ctx, id, plan.Patch)
			if err != nil {
				return err
			}
			result = &ReconcileResult{Record: updated, Changes: plan.Changes}
			if plan.Entry != nil {
				entry, err := st.Append(ctx, *plan.Entry)
				if err != nil {
					return err
				}
				result.Entry = entry
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrStaleVersion) || errors.Is(err, ledger.ErrDuplicatePeriod) {
			s.log.Info().Err(err).Str("record_id", string(id)).Msg("edit rejected")
		}
		return nil, err
	}

	ev := s.log.Info().
		Str("record_id", string(id)).
		Int64("version", result.Record.Version).
		Strs("changed", result.Changes.Fields()).
		Str("actor", actor)
	if result.Entry != nil {
		ev = ev.Str("entry_type", string(result.Entry.Type)).Str("amount", result.Entry.Amount.String())
	}
	ev.Msg("fee record reconciled")
	return result, nil
}
