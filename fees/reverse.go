package fees

import (
	"context"
	"strings"

	"github.com/warp/fee-ledger/ledger"
)

// ReverseRequest asks for the administrative reversal of a record.
type ReverseRequest struct {
	Reason          string
	ExpectedVersion *int64
}

func (r ReverseRequest) Validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return ledger.NewValidationError(ledger.FieldError{Name: "reason", Message: "is required"})
	}
	return nil
}

// Reverse withdraws a record. The row is kept and flagged; a reversal entry
// of minus the received amount brings its logged balance to zero and the
// billing period becomes free for a new charge.
func (s *Service) Reverse(ctx context.Context, id ledger.RecordID, req ReverseRequest, actor string) (*ledger.FeeRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)

	var rec *ledger.FeeRecord
	err := s.retry(ctx, "reverse", func() error {
		return s.store.WithTx(ctx, func(st ledger.Store) error {
			current, err := st.Get(ctx, id)
			if err != nil {
				return err
			}
			if current.IsReversed() {
				return &ledger.ConflictError{Kind: ledger.ConflictAlreadyReversed, RecordID: id}
			}
			version := current.Version
			if req.ExpectedVersion != nil {
				version = *req.ExpectedVersion
			}

			now := s.now()
			reversed, err := st.MarkReversed(ctx, id, version, actor, now)
			if err != nil {
				return err
			}
			if _, err := st.Append(ctx, ledger.ReversalEntry(*current, reason, actor, now)); err != nil {
				return err
			}
			rec = reversed
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("record_id", string(id)).
		Str("receipt", rec.ReceiptNumber.String()).
		Str("reason", reason).
		Str("actor", actor).
		Msg("fee record reversed")
	return rec, nil
}
