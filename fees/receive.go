package fees

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// RECEIVE - Record a new charge and its initial payment
// =============================================================================

// ReceiveRequest is a typed request to record a fee. Amounts left nil are
// resolved from the session's fee schedule.
type ReceiveRequest struct {
	StudentID string
	SessionID string

	// Branch defaults to the student's branch.
	Branch  ledger.Branch
	FeeType ledger.FeeType
	Month   int
	Year    int

	// BaseAmount defaults to the schedule item's base amount.
	BaseAmount *ledger.Money

	// PayableAmount wins over Discount, which wins over the schedule
	// item's discount. With none of them, payable equals base.
	PayableAmount *ledger.Money
	Discount      *ledger.Discount

	ReceivedAmount ledger.Money
	PaymentMethod  ledger.PaymentMethod

	// PaymentDate defaults to now; PaymentSource to SourceOffice.
	PaymentDate   time.Time
	PaymentSource ledger.PaymentSource
	Remarks       string
}

// Validate checks the request shape. Existence of the student and session is
// checked by Receive.
func (r ReceiveRequest) Validate() error {
	verr := &ledger.ValidationError{}
	if strings.TrimSpace(r.StudentID) == "" {
		verr.Add("studentId", "is required")
	}
	if strings.TrimSpace(r.SessionID) == "" {
		verr.Add("sessionId", "is required")
	}
	if !ledger.IsFeeType(r.FeeType) {
		verr.Add("feeType", "unknown fee type")
	}
	if r.Branch != "" && !ledger.IsBranch(r.Branch) {
		verr.Add("branch", "unknown branch")
	}
	verr.Merge(ledger.Period{Month: r.Month, Year: r.Year}.Validate())

	if r.BaseAmount != nil {
		verr.CheckAmount("baseAmount", *r.BaseAmount)
	}
	if r.PayableAmount != nil {
		verr.CheckAmount("payableAmount", *r.PayableAmount)
	}
	verr.CheckAmount("receivedAmount", r.ReceivedAmount)
	if r.Discount != nil {
		verr.Merge(r.Discount.Validate())
	}

	if !ledger.IsPaymentMethod(r.PaymentMethod) {
		verr.Add("paymentMethod", "unknown payment method")
	}
	if r.PaymentSource != "" && !ledger.IsPaymentSource(r.PaymentSource) {
		verr.Add("paymentSource", "unknown payment source")
	}
	return verr.OrNil()
}

// Receive records a charge for one student, fee type and month. A second
// live charge for the same period fails with a DuplicatePeriod conflict; it
// is never merged into the existing record.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest, actor string) (*ledger.FeeRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	student, err := s.store.GetStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if !student.Active {
		return nil, ledger.NewValidationError(ledger.FieldError{Name: "studentId", Message: "student is not active"})
	}
	if _, err := s.store.GetSession(ctx, req.SessionID); err != nil {
		return nil, err
	}

	branch := req.Branch
	if branch == "" {
		branch = student.Branch
	}
	base, payable, err := s.resolveAmounts(ctx, req, student.ClassID, branch)
	if err != nil {
		return nil, err
	}

	now := s.now()
	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}
	source := req.PaymentSource
	if source == "" {
		source = SourceOffice
	}
	charge := ledger.NewFeeRecord{
		StudentID:      student.ID,
		SessionID:      req.SessionID,
		Branch:         branch,
		FeeType:        req.FeeType,
		Period:         ledger.Period{Month: req.Month, Year: req.Year},
		BaseAmount:     base,
		PayableAmount:  payable,
		ReceivedAmount: req.ReceivedAmount,
		PaymentMethod:  req.PaymentMethod,
		PaymentDate:    paymentDate,
		PaymentSource:  source,
		CollectedBy:    actor,
		Remarks:        strings.TrimSpace(req.Remarks),
		CreatedAt:      now,
	}

	var rec *ledger.FeeRecord
	err = s.retry(ctx, "receive", func() error {
		return s.store.WithTx(ctx, func(st ledger.Store) error {
			created, err := st.Create(ctx, charge)
			if err != nil {
				return err
			}
			if created.ReceivedAmount.IsPositive() {
				if _, err := st.Append(ctx, ledger.IncomeEntry(*created, actor)); err != nil {
					return err
				}
			}
			rec = created
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicatePeriod) {
			s.log.Info().Str("student_id", charge.StudentID).Str("fee_type", string(charge.FeeType)).
				Str("period", charge.Period.String()).Msg("duplicate fee rejected")
		}
		return nil, err
	}

	s.log.Info().
		Str("record_id", string(rec.ID)).
		Str("receipt", rec.ReceiptNumber.String()).
		Str("student_id", rec.StudentID).
		Str("received", rec.ReceivedAmount.String()).
		Str("actor", actor).
		Msg("fee received")
	return rec, nil
}

// resolveAmounts picks base and payable from the request, falling back to
// the session's fee schedule.
func (s *Service) resolveAmounts(ctx context.Context, req ReceiveRequest, classID string, branch ledger.Branch) (base, payable ledger.Money, err error) {
	var (
		item    ledger.ScheduleItem
		hasItem bool
	)
	if req.BaseAmount == nil || (req.PayableAmount == nil && req.Discount == nil) {
		schedule, err := s.store.ScheduleForSession(ctx, req.SessionID)
		switch {
		case err == nil:
			item, hasItem = schedule.Lookup(req.FeeType, classID, branch)
		case !ledger.IsNotFound(err):
			return base, payable, err
		}
	}

	switch {
	case req.BaseAmount != nil:
		base = *req.BaseAmount
	case hasItem:
		base = item.BaseAmount
	default:
		return base, payable, ledger.NewValidationError(ledger.FieldError{
			Name:    "baseAmount",
			Message: "is required when the session has no fee schedule item for " + string(req.FeeType),
		})
	}

	switch {
	case req.PayableAmount != nil:
		payable = *req.PayableAmount
	case req.Discount != nil:
		payable = req.Discount.Apply(base)
	case hasItem && item.Discount != nil:
		payable = item.Discount.Apply(base)
	default:
		payable = base
	}
	if payable.GreaterThan(base) {
		return base, payable, ledger.NewValidationError(ledger.FieldError{Name: "payableAmount", Message: "must not exceed baseAmount"})
	}
	return base, payable, nil
}
