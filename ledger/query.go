package ledger

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// QUERY - Filtered, sorted, paginated listing of fee records
// =============================================================================

// SortKey is an allow-listed sort field. Stores map each key to a fixed
// column; user input never reaches ORDER BY directly.
type SortKey string

const (
	SortCreatedAt     SortKey = "createdAt"
	SortUpdatedAt     SortKey = "updatedAt"
	SortStudentName   SortKey = "studentName"
	SortStudentID     SortKey = "studentId"
	SortAdmissionDate SortKey = "admissionDate"
)

var sortKeys = map[SortKey]bool{
	SortCreatedAt:     true,
	SortUpdatedAt:     true,
	SortStudentName:   true,
	SortStudentID:     true,
	SortAdmissionDate: true,
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// RecordFilter narrows a listing. Zero values mean "no constraint".
type RecordFilter struct {
	// Search matches student name, student code, guardian phone or
	// receipt number (case-insensitive substring).
	Search        string
	StudentID     string
	CollectedBy   string
	SessionID     string
	PaymentMethod PaymentMethod
	FeeType       FeeType
	Branch        Branch
	Status        PaymentStatus

	// FromDate and ToDate bound the payment date, both days inclusive.
	FromDate *time.Time
	ToDate   *time.Time

	// MinFee and MaxFee bound the payable amount, inclusive.
	MinFee *Money
	MaxFee *Money

	IncludeReversed bool
}

type Query struct {
	Filter    RecordFilter
	SortBy    SortKey
	SortOrder SortOrder
	Page      int
	Limit     int
}

// Normalize fills defaults and rejects unknown sort keys or inverted ranges.
func (q Query) Normalize() (Query, error) {
	verr := &ValidationError{}
	if q.SortBy == "" {
		q.SortBy = SortCreatedAt
	}
	if !sortKeys[q.SortBy] {
		verr.Add("sortBy", "must be one of createdAt, updatedAt, studentName, studentId, admissionDate")
	}
	switch strings.ToLower(string(q.SortOrder)) {
	case "":
		q.SortOrder = SortDesc
	case "asc":
		q.SortOrder = SortAsc
	case "desc":
		q.SortOrder = SortDesc
	default:
		verr.Add("sortType", "must be asc or desc")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	f := &q.Filter
	f.Search = strings.TrimSpace(f.Search)
	if f.FromDate != nil {
		d := startOfDay(*f.FromDate)
		f.FromDate = &d
	}
	if f.ToDate != nil {
		d := startOfDay(*f.ToDate)
		f.ToDate = &d
	}
	if f.FromDate != nil && f.ToDate != nil && f.ToDate.Before(*f.FromDate) {
		verr.Add("toDate", "must not be before fromDate")
	}
	if f.MinFee != nil && f.MaxFee != nil && f.MaxFee.LessThan(*f.MinFee) {
		verr.Add("maxFee", "must not be less than minFee")
	}
	if f.Status != "" && !f.Status.Valid() {
		verr.Add("status", "must be one of unpaid, partial, paid")
	}
	return q, verr.OrNil()
}

// ToDateExclusive returns the first instant after the ToDate day.
func (f RecordFilter) ToDateExclusive() *time.Time {
	if f.ToDate == nil {
		return nil
	}
	t := f.ToDate.AddDate(0, 0, 1)
	return &t
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Matches applies the filter in memory. SQL stores translate the same rules
// into WHERE clauses. st may be nil when the student is unknown.
func (f RecordFilter) Matches(r FeeRecord, st *Student) bool {
	if r.IsReversed() && !f.IncludeReversed {
		return false
	}
	if f.StudentID != "" && r.StudentID != f.StudentID {
		return false
	}
	if f.CollectedBy != "" && r.CollectedBy != f.CollectedBy {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.PaymentMethod != "" && r.PaymentMethod != f.PaymentMethod {
		return false
	}
	if f.FeeType != "" && r.FeeType != f.FeeType {
		return false
	}
	if f.Branch != "" && r.Branch != f.Branch {
		return false
	}
	if f.Status != "" && r.PaymentStatus != f.Status {
		return false
	}
	if f.FromDate != nil && r.PaymentDate.Before(*f.FromDate) {
		return false
	}
	if to := f.ToDateExclusive(); to != nil && !r.PaymentDate.Before(*to) {
		return false
	}
	if f.MinFee != nil && r.PayableAmount.LessThan(*f.MinFee) {
		return false
	}
	if f.MaxFee != nil && r.PayableAmount.GreaterThan(*f.MaxFee) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if strconv.FormatInt(int64(r.ReceiptNumber), 10) == needle {
			return true
		}
		if st == nil {
			return strings.Contains(strings.ToLower(r.StudentID), needle)
		}
		return strings.Contains(strings.ToLower(st.Name), needle) ||
			strings.Contains(strings.ToLower(st.Code), needle) ||
			strings.Contains(strings.ToLower(st.GuardianPhone), needle) ||
			strings.Contains(strings.ToLower(r.StudentID), needle)
	}
	return true
}

// SortRecords orders records in memory by an allow-listed key, breaking ties
// by receipt number in the same direction.
func SortRecords(recs []FeeRecord, key SortKey, order SortOrder, studentOf func(id string) *Student) {
	cmp := func(a, b FeeRecord) int {
		switch key {
		case SortUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case SortStudentID:
			return strings.Compare(a.StudentID, b.StudentID)
		case SortStudentName:
			return strings.Compare(studentName(studentOf, a.StudentID), studentName(studentOf, b.StudentID))
		case SortAdmissionDate:
			return admissionDate(studentOf, a.StudentID).Compare(admissionDate(studentOf, b.StudentID))
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		c := cmp(recs[i], recs[j])
		if c == 0 {
			c = compareInt64(int64(recs[i].ReceiptNumber), int64(recs[j].ReceiptNumber))
		}
		if order == SortAsc {
			return c < 0
		}
		return c > 0
	})
}

func studentName(of func(string) *Student, id string) string {
	if st := of(id); st != nil {
		return st.Name
	}
	return ""
}

func admissionDate(of func(string) *Student, id string) time.Time {
	if st := of(id); st != nil {
		return st.AdmissionDate
	}
	return time.Time{}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// =============================================================================
// PAGINATION
// =============================================================================

// Pagination describes one page of a listing. NextPage and PrevPage are nil
// at the edges and never point outside [1, TotalPages].
type Pagination struct {
	Page       int
	Limit      int
	Total      int64
	TotalPages int
	NextPage   *int
	PrevPage   *int
}

// Paginate computes page metadata. The requested page is clamped to
// [1, max(totalPages, 1)].
func Paginate(total int64, page, limit int) Pagination {
	if limit < 1 {
		limit = DefaultLimit
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	p := Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
	if page < totalPages {
		next := page + 1
		p.NextPage = &next
	}
	if page > 1 {
		prev := page - 1
		p.PrevPage = &prev
	}
	return p
}

func (p Pagination) Offset() int { return (p.Page - 1) * p.Limit }

// RecordPage is one page of records.
type RecordPage struct {
	Records    []FeeRecord
	Pagination Pagination
}
