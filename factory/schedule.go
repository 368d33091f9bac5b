/*
Package factory converts JSON fee schedules into ledger.FeeSchedule values.

PURPOSE:
  Schools change prices and discounts every session. Keeping the price
  list as a JSON document lets the office edit it through the API without
  a deploy, store it as-is in the database and still get validated Go
  structs at the point of use.

JSON SCHEMA:
  {
    "id": "fees-2025",
    "name": "Session 2025 price list",
    "sessionId": "2025",
    "items": [
      {"feeType": "monthly", "baseAmount": "1000"},
      {"feeType": "monthly", "classId": "class-5", "branch": "girls", "baseAmount": "1100",
       "discount": {"kind": "percent", "value": "10"}},
      {"feeType": "residential", "baseAmount": "3000",
       "discount": {"kind": "flat", "value": "500"}}
    ]
  }

VALIDATION:
  - fee types and branches must be registered (see ledger/registry.go)
  - amounts are exact decimals with at most two fractional digits
  - percent discounts are within [0, 100]; flat discounts are non-negative
  - at most one item per (feeType, classId, branch)

USAGE:
  f := factory.NewScheduleFactory()
  schedule, err := f.ParseSchedule(jsonString)
  item, ok := schedule.Lookup("monthly", student.ClassID, student.Branch)

SEE ALSO:
  - ledger/schedule.go: FeeSchedule, Lookup and discount rules
  - store/sqldb/schedules.go: Stores the JSON document
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the JSON representation of a fee schedule.
type ScheduleJSON struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	SessionID string             `json:"sessionId"`
	Items     []ScheduleItemJSON `json:"items"`
}

// ScheduleItemJSON prices one fee type.
type ScheduleItemJSON struct {
	FeeType    string        `json:"feeType"`
	ClassID    string        `json:"classId,omitempty"`
	Branch     string        `json:"branch,omitempty"`
	BaseAmount ledger.Money  `json:"baseAmount"`
	Discount   *DiscountJSON `json:"discount,omitempty"`
}

// DiscountJSON represents a flat or percentage discount.
type DiscountJSON struct {
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts JSON schedules to ledger structs.
type ScheduleFactory struct{}

func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{}
}

// ParseSchedule parses and validates a JSON document.
func (f *ScheduleFactory) ParseSchedule(jsonStr string) (*ledger.FeeSchedule, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// FromJSON validates sj and converts it. Validation failures are returned
// as a *ledger.ValidationError with indexed field names (items[2].feeType).
func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) (*ledger.FeeSchedule, error) {
	verr := &ledger.ValidationError{}
	if sj.ID == "" {
		verr.Add("id", "is required")
	}
	if sj.SessionID == "" {
		verr.Add("sessionId", "is required")
	}
	if len(sj.Items) == 0 {
		verr.Add("items", "must contain at least one item")
	}

	schedule := &ledger.FeeSchedule{ID: sj.ID, Name: sj.Name, SessionID: sj.SessionID}
	seen := make(map[string]bool)
	for i, ij := range sj.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		item, err := parseItem(ij)
		var itemErr *ledger.ValidationError
		if errors.As(err, &itemErr) {
			for _, fe := range itemErr.Fields {
				verr.Add(prefix+fe.Name, fe.Message)
			}
			continue
		}
		key := ij.FeeType + "|" + ij.ClassID + "|" + ij.Branch
		if seen[key] {
			verr.Add(prefix+"feeType", "duplicates an earlier item")
			continue
		}
		seen[key] = true
		schedule.Items = append(schedule.Items, item)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return schedule, nil
}

func parseItem(ij ScheduleItemJSON) (ledger.ScheduleItem, error) {
	verr := &ledger.ValidationError{}
	if !ledger.IsFeeType(ledger.FeeType(ij.FeeType)) {
		verr.Add("feeType", "unknown fee type")
	}
	if ij.Branch != "" && !ledger.IsBranch(ledger.Branch(ij.Branch)) {
		verr.Add("branch", "unknown branch")
	}
	verr.CheckAmount("baseAmount", ij.BaseAmount)

	item := ledger.ScheduleItem{
		FeeType:    ledger.FeeType(ij.FeeType),
		ClassID:    ij.ClassID,
		Branch:     ledger.Branch(ij.Branch),
		BaseAmount: ij.BaseAmount,
	}
	if ij.Discount != nil {
		d := ledger.Discount{Kind: ledger.DiscountKind(ij.Discount.Kind), Value: ij.Discount.Value}
		verr.Merge(d.Validate())
		item.Discount = &d
	}
	return item, verr.OrNil()
}

// ToJSON converts a schedule back to its JSON form.
func ToJSON(s ledger.FeeSchedule) ScheduleJSON {
	sj := ScheduleJSON{ID: s.ID, Name: s.Name, SessionID: s.SessionID}
	for _, item := range s.Items {
		ij := ScheduleItemJSON{
			FeeType:    string(item.FeeType),
			ClassID:    item.ClassID,
			Branch:     string(item.Branch),
			BaseAmount: item.BaseAmount,
		}
		if item.Discount != nil {
			ij.Discount = &DiscountJSON{Kind: string(item.Discount.Kind), Value: item.Discount.Value}
		}
		sj.Items = append(sj.Items, ij)
	}
	return sj
}
