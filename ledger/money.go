/*
Package ledger provides the core fee ledger and reconciliation engine.

PURPOSE:
  Domain types and algorithms for recording school fee charges, accepting
  payments against them and keeping an auditable trail of every change.
  Storage, transport and presentation live in other packages; this package
  only knows about records, log entries and the rules that bind them.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: an exact amount in the school's single currency

DESIGN PRINCIPLES:
  1. Precision: Money wraps decimal.Decimal, never float64
  2. Minor units: persisted as integer cents so range filters work in SQL
  3. Two fractional digits at most; anything finer is a validation error

USAGE:
  fee := ledger.NewMoney(1000)
  paid := ledger.MustParseMoney("600")
  due := ledger.DueAmount(fee, paid) // 400

SEE ALSO:
  - types.go: FeeRecord and TransactionLogEntry
  - derive.go: Due amount and payment status
  - reconcile.go: The reconciliation engine
*/
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact amount, single currency
// =============================================================================

// Money is an exact monetary amount. The zero value is 0.
type Money struct {
	value decimal.Decimal
}

// MaxUnits bounds every amount in either direction. Its cents, and sums of
// many of them, still fit in an int64 column.
const MaxUnits = 90_000_000_000_000

// Exponent window accepted before any arithmetic. Inputs such as
// 1e300000000 or 0e-300000000 are rejected here, never expanded.
const (
	minExponent = -18
	maxExponent = 14
)

var (
	hundred  = decimal.NewFromInt(100)
	maxMoney = decimal.NewFromInt(MaxUnits)
)

// ErrAmountOutOfRange is returned for amounts beyond MaxUnits or with an
// unreasonable exponent.
var ErrAmountOutOfRange = fmt.Errorf("amount out of range (at most %d)", MaxUnits)

// Zero is the zero amount.
var Zero = Money{}

// NewMoney builds an amount from whole units.
func NewMoney(units int64) Money { return Money{value: decimal.NewFromInt(units)} }

// MoneyFromCents builds an amount from minor units (1 unit = 100 cents).
func MoneyFromCents(cents int64) Money { return Money{value: decimal.New(cents, -2)} }

// MoneyFromDecimal wraps d without checking it; see InRange.
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{value: d} }

// ParseMoney parses a decimal string such as "600" or "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !decimalInRange(d) {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, ErrAmountOutOfRange)
	}
	return Money{value: d}, nil
}

// MustParseMoney is ParseMoney for literals. Panics on malformed input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// decimalInRange checks the exponent first so the comparison never has to
// rescale by more than 10^18.
func decimalInRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp < minExponent || exp > maxExponent {
		return false
	}
	return d.Abs().Cmp(maxMoney) <= 0
}

// Decimal returns the underlying decimal.
func (m Money) Decimal() decimal.Decimal { return m.value }

// InRange reports whether the amount is within ±MaxUnits. Values built with
// ParseMoney or UnmarshalJSON always are.
func (m Money) InRange() bool { return decimalInRange(m.value) }

// Cents returns the amount in minor units. Callers must check
// HasValidScale first; out-of-range amounts have no cent value.
func (m Money) Cents() int64 { return m.value.Mul(hundred).IntPart() }

// HasValidScale reports whether the amount is in range and has at most two
// fractional digits.
func (m Money) HasValidScale() bool {
	return m.InRange() && m.value.Equal(m.value.Round(2))
}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{value: m.value.Add(o.value)} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{value: m.value.Sub(o.value)} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{value: m.value.Neg()} }

// Cmp returns -1, 0 or +1 as m is less than, equal to or greater than o.
func (m Money) Cmp(o Money) int { return m.value.Cmp(o.value) }

// Equal compares by value, so 12.5 equals 12.50.
func (m Money) Equal(o Money) bool { return m.value.Equal(o.value) }

// IsZero reports m == 0.
func (m Money) IsZero() bool { return m.value.IsZero() }

// IsNegative reports m < 0.
func (m Money) IsNegative() bool { return m.value.IsNegative() }

// IsPositive reports m > 0.
func (m Money) IsPositive() bool { return m.value.IsPositive() }

// GreaterThan reports m > o.
func (m Money) GreaterThan(o Money) bool { return m.value.GreaterThan(o.value) }

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool { return m.value.LessThan(o.value) }

// NonNegative clamps negative amounts to zero.
func (m Money) NonNegative() Money {
	if m.value.IsNegative() {
		return Zero
	}
	return m
}

// Percent returns p percent of m, rounded to cents.
func (m Money) Percent(p decimal.Decimal) Money {
	return Money{value: m.value.Mul(p).Div(hundred).Round(2)}
}

// String formats the amount without trailing zeros: "600", "12.5".
func (m Money) String() string { return m.value.String() }

// MarshalJSON encodes the amount as a decimal string so clients never see
// a binary float.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.value.String() + `"`), nil
}

// UnmarshalJSON accepts both JSON numbers and decimal strings. Amounts
// outside the accepted range fail with a *json.UnmarshalTypeError, which
// encoding/json completes with the offending field path.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if !decimalInRange(d) {
		return &json.UnmarshalTypeError{Value: outOfRangeValue, Type: reflect.TypeOf(Money{})}
	}
	m.value = d
	return nil
}

const outOfRangeValue = "amount out of range"

// OutOfRangeField returns the JSON path of an amount UnmarshalJSON rejected
// for its size. ok is false for any other decode error.
func OutOfRangeField(err error) (field string, ok bool) {
	var ute *json.UnmarshalTypeError
	if !errors.As(err, &ute) || ute.Value != outOfRangeValue {
		return "", false
	}
	if ute.Field == "" {
		return "body", true
	}
	return ute.Field, true
}
