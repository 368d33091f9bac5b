package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FEE SCHEDULE - Base amounts and discounts per session
// =============================================================================

type DiscountKind string

const (
	DiscountFlat    DiscountKind = "flat"
	DiscountPercent DiscountKind = "percent"
)

// Discount reduces a base amount to the payable amount.
type Discount struct {
	Kind  DiscountKind
	Value decimal.Decimal
}

// Validate rejects negative values and percentages above 100.
func (d Discount) Validate() error {
	verr := &ValidationError{}
	if !decimalInRange(d.Value) {
		verr.Add("discount.value", fmt.Sprintf("must be at most %d", MaxUnits))
		return verr
	}
	switch d.Kind {
	case DiscountFlat:
		if !MoneyFromDecimal(d.Value).HasValidScale() {
			verr.Add("discount.value", "must have at most two decimal places")
		}
	case DiscountPercent:
		if d.Value.GreaterThan(hundred) {
			verr.Add("discount.value", "must not exceed 100 percent")
		}
	default:
		verr.Add("discount.kind", "must be flat or percent")
	}
	if d.Value.IsNegative() {
		verr.Add("discount.value", "must not be negative")
	}
	return verr.OrNil()
}

// Apply returns max(base - discount, 0). Discounts apply only to the fee
// item they are attached to.
func (d Discount) Apply(base Money) Money {
	switch d.Kind {
	case DiscountPercent:
		return base.Sub(base.Percent(d.Value)).NonNegative()
	default:
		return base.Sub(MoneyFromDecimal(d.Value)).NonNegative()
	}
}

// ScheduleItem prices one fee type, optionally for one class and/or branch.
type ScheduleItem struct {
	FeeType    FeeType
	ClassID    string
	Branch     Branch
	BaseAmount Money
	Discount   *Discount
}

// Payable applies the item's discount, if any.
func (i ScheduleItem) Payable() Money {
	if i.Discount == nil {
		return i.BaseAmount
	}
	return i.Discount.Apply(i.BaseAmount)
}

// FeeSchedule is the price list of one session.
type FeeSchedule struct {
	ID        string
	Name      string
	SessionID string
	Items     []ScheduleItem
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lookup returns the most specific item for the fee type:
// class+branch, then class, then branch, then the catch-all item.
func (s FeeSchedule) Lookup(feeType FeeType, classID string, branch Branch) (ScheduleItem, bool) {
	best, bestScore := ScheduleItem{}, -1
	for _, item := range s.Items {
		if item.FeeType != feeType {
			continue
		}
		if item.ClassID != "" && item.ClassID != classID {
			continue
		}
		if item.Branch != "" && item.Branch != branch {
			continue
		}
		score := 0
		if item.ClassID != "" {
			score += 2
		}
		if item.Branch != "" {
			score++
		}
		if score > bestScore {
			best, bestScore = item, score
		}
	}
	return best, bestScore >= 0
}

// ScheduleLookup finds the schedule of a session. Returns a *NotFoundError
// when the session has none.
type ScheduleLookup interface {
	ScheduleForSession(ctx context.Context, sessionID string) (*FeeSchedule, error)
}
