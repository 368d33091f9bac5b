package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Billing month
// =============================================================================

// Period is a billing month. Month is zero-based (0 = January), matching the
// wire format used by the fee API.
type Period struct {
	Month int
	Year  int
}

const (
	minYear = 1000
	maxYear = 9999
)

// NewPeriod validates and builds a period.
func NewPeriod(month, year int) (Period, error) {
	p := Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// PeriodOf returns the billing month containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()) - 1, Year: t.Year()}
}

// Validate reports out-of-range months and years as field errors.
func (p Period) Validate() error {
	verr := &ValidationError{}
	if p.Month < 0 || p.Month > 11 {
		verr.Add("month", "must be between 0 and 11")
	}
	if p.Year < minYear || p.Year > maxYear {
		verr.Add("year", "must be a four-digit year")
	}
	return verr.OrNil()
}

// Compare returns -1, 0 or 1.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year != o.Year:
		if p.Year < o.Year {
			return -1
		}
		return 1
	case p.Month != o.Month:
		if p.Month < o.Month {
			return -1
		}
		return 1
	}
	return 0
}

func (p Period) Equal(o Period) bool  { return p.Compare(o) == 0 }
func (p Period) Before(o Period) bool { return p.Compare(o) < 0 }

// Start returns the first instant of the month in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month+1), 1, 0, 0, 0, 0, time.UTC)
}

// String formats as "2025-04" (human month number).
func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, p.Month+1) }

// Label formats as "April 2025".
func (p Period) Label() string {
	return fmt.Sprintf("%s %d", time.Month(p.Month+1), p.Year)
}
