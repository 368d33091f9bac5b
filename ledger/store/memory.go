// Package store provides an in-memory ledger.Store for tests and demos.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore, ledger.RecordQuerier, ledger.Auditor and
// the reference-data lookups. One mutex guards all state; WithTx holds it for
// the whole callback and restores a snapshot on error.
type Memory struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

type state struct {
	records   map[ledger.RecordID]ledger.FeeRecord
	live      map[ledger.PeriodKey]ledger.RecordID
	entries   []ledger.TransactionLogEntry
	receipt   int64
	seq       int64
	students  map[string]ledger.Student
	sessions  map[string]ledger.Session
	schedules map[string]ledger.FeeSchedule // by session id
	runs      []ledger.AuditRun
}

func NewMemory() *Memory {
	return &Memory{
		state: state{
			records:   make(map[ledger.RecordID]ledger.FeeRecord),
			live:      make(map[ledger.PeriodKey]ledger.RecordID),
			students:  make(map[string]ledger.Student),
			sessions:  make(map[string]ledger.Session),
			schedules: make(map[string]ledger.FeeSchedule),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ ledger.TxStore          = (*Memory)(nil)
	_ ledger.RecordQuerier    = (*Memory)(nil)
	_ ledger.Auditor          = (*Memory)(nil)
	_ ledger.ReceiptAllocator = (*Memory)(nil)
)

// =============================================================================
// TRANSACTIONAL ACCESS
// =============================================================================

// WithTx executes fn with exclusive access. Writes made by fn are discarded
// if it returns an error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&view{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) locked(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{m: m})
}

func (m *Memory) Create(ctx context.Context, charge ledger.NewFeeRecord) (rec *ledger.FeeRecord, err error) {
	err = m.locked(func(v *view) error { rec, err = v.Create(ctx, charge); return err })
	return rec, err
}

func (m *Memory) Get(ctx context.Context, id ledger.RecordID) (rec *ledger.FeeRecord, err error) {
	err = m.locked(func(v *view) error { rec, err = v.Get(ctx, id); return err })
	return rec, err
}

func (m *Memory) ApplyEdit(ctx context.Context, id ledger.RecordID, patch ledger.ReconciliationPatch) (rec *ledger.FeeRecord, err error) {
	err = m.locked(func(v *view) error { rec, err = v.ApplyEdit(ctx, id, patch); return err })
	return rec, err
}

func (m *Memory) MarkReversed(ctx context.Context, id ledger.RecordID, expectedVersion int64, by string, at time.Time) (rec *ledger.FeeRecord, err error) {
	err = m.locked(func(v *view) error { rec, err = v.MarkReversed(ctx, id, expectedVersion, by, at); return err })
	return rec, err
}

func (m *Memory) Append(ctx context.Context, entry ledger.TransactionLogEntry) (out *ledger.TransactionLogEntry, err error) {
	err = m.locked(func(v *view) error { out, err = v.Append(ctx, entry); return err })
	return out, err
}

func (m *Memory) Entries(ctx context.Context, ref ledger.RecordID) (out []ledger.TransactionLogEntry, err error) {
	err = m.locked(func(v *view) error { out, err = v.Entries(ctx, ref); return err })
	return out, err
}

// Next allocates a receipt number outside of record creation.
func (m *Memory) Next(_ context.Context) (ledger.ReceiptNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.receipt++
	return ledger.ReceiptNumber(m.state.receipt), nil
}

// =============================================================================
// VIEW - Operations on locked state
// =============================================================================

type view struct {
	m *Memory
}

func (v *view) Create(_ context.Context, charge ledger.NewFeeRecord) (*ledger.FeeRecord, error) {
	if err := charge.Validate(); err != nil {
		return nil, err
	}
	s := &v.m.state
	key := ledger.PeriodKey{StudentID: charge.StudentID, FeeType: charge.FeeType, Period: charge.Period}
	if _, taken := s.live[key]; taken {
		return nil, &ledger.ConflictError{Kind: ledger.ConflictDuplicatePeriod, Key: &key}
	}

	id := charge.ID
	if id == "" {
		id = ledger.RecordID(uuid.NewString())
	}
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = v.m.now()
	}
	s.receipt++
	rec := charge.Record(id, ledger.ReceiptNumber(s.receipt))
	s.records[id] = rec
	s.live[key] = id
	return &rec, nil
}

func (v *view) Get(_ context.Context, id ledger.RecordID) (*ledger.FeeRecord, error) {
	rec, ok := v.m.state.records[id]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "fee record", ID: string(id)}
	}
	rec.Recompute()
	return &rec, nil
}

// current returns the record if it exists, is live and has the expected version.
func (v *view) current(id ledger.RecordID, expectedVersion int64) (ledger.FeeRecord, error) {
	rec, ok := v.m.state.records[id]
	switch {
	case !ok:
		return rec, &ledger.NotFoundError{Resource: "fee record", ID: string(id)}
	case rec.IsReversed():
		return rec, &ledger.ConflictError{Kind: ledger.ConflictAlreadyReversed, RecordID: id}
	case rec.Version != expectedVersion:
		return rec, &ledger.ConflictError{Kind: ledger.ConflictStaleVersion, RecordID: id}
	}
	return rec, nil
}

func (v *view) ApplyEdit(_ context.Context, id ledger.RecordID, patch ledger.ReconciliationPatch) (*ledger.FeeRecord, error) {
	rec, err := v.current(id, patch.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	s := &v.m.state
	oldKey := rec.Key()
	rec.ReceivedAmount = patch.ReceivedAmount
	rec.Period = patch.Period
	rec.PaymentDate = patch.PaymentDate
	rec.PaymentMethod = patch.PaymentMethod
	rec.Remarks = patch.Remarks
	rec.UpdatedAt = patch.UpdatedAt
	rec.Version++
	rec.Recompute()

	newKey := rec.Key()
	if newKey != oldKey {
		if other, taken := s.live[newKey]; taken && other != id {
			return nil, &ledger.ConflictError{Kind: ledger.ConflictDuplicatePeriod, RecordID: id, Key: &newKey}
		}
		delete(s.live, oldKey)
		s.live[newKey] = id
	}
	s.records[id] = rec
	return &rec, nil
}

func (v *view) MarkReversed(_ context.Context, id ledger.RecordID, expectedVersion int64, by string, at time.Time) (*ledger.FeeRecord, error) {
	rec, err := v.current(id, expectedVersion)
	if err != nil {
		return nil, err
	}
	s := &v.m.state
	rec.ReversedAt = &at
	rec.ReversedBy = by
	rec.UpdatedAt = at
	rec.Version++
	rec.Recompute()
	delete(s.live, rec.Key())
	s.records[id] = rec
	return &rec, nil
}

func (v *view) Append(_ context.Context, entry ledger.TransactionLogEntry) (*ledger.TransactionLogEntry, error) {
	s := &v.m.state
	if entry.ID == "" {
		entry.ID = ledger.EntryID(uuid.NewString())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = v.m.now()
	}
	s.seq++
	entry.Sequence = s.seq
	s.entries = append(s.entries, entry)
	return &entry, nil
}

func (v *view) Entries(_ context.Context, ref ledger.RecordID) ([]ledger.TransactionLogEntry, error) {
	var out []ledger.TransactionLogEntry
	for _, e := range v.m.state.entries {
		if e.ReferenceID == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// QUERY AND AUDIT
// =============================================================================

// List filters, sorts and paginates records in memory.
func (m *Memory) List(_ context.Context, q ledger.Query) (*ledger.RecordPage, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	studentOf := func(id string) *ledger.Student {
		if st, ok := m.state.students[id]; ok {
			return &st
		}
		return nil
	}

	var matched []ledger.FeeRecord
	for _, rec := range m.state.records {
		rec.Recompute()
		if q.Filter.Matches(rec, studentOf(rec.StudentID)) {
			matched = append(matched, rec)
		}
	}
	ledger.SortRecords(matched, q.SortBy, q.SortOrder, studentOf)

	page := ledger.Paginate(int64(len(matched)), q.Page, q.Limit)
	start := page.Offset()
	end := start + page.Limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return &ledger.RecordPage{Records: matched[start:end], Pagination: page}, nil
}

// Drift compares every record with the sum of its log entries.
func (m *Memory) Drift(_ context.Context) (int, []ledger.Drift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sums := make(map[ledger.RecordID]ledger.Money)
	for _, e := range m.state.entries {
		sums[e.ReferenceID] = sums[e.ReferenceID].Add(e.Amount)
	}
	var drifts []ledger.Drift
	for _, rec := range m.state.records {
		expected := rec.LoggedBalance()
		if logged := sums[rec.ID]; !logged.Equal(expected) {
			drifts = append(drifts, ledger.Drift{
				RecordID: rec.ID,
				Branch:   rec.Branch,
				Expected: expected,
				Logged:   logged,
				Reversed: rec.IsReversed(),
			})
		}
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].RecordID < drifts[j].RecordID })
	return len(m.state.records), drifts, nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (m *Memory) SaveStudent(_ context.Context, st ledger.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.students[st.ID] = st
	return nil
}

func (m *Memory) GetStudent(_ context.Context, id string) (*ledger.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state.students[id]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "student", ID: id}
	}
	return &st, nil
}

func (m *Memory) SaveSession(_ context.Context, s ledger.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*ledger.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.sessions[id]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "session", ID: id}
	}
	return &s, nil
}

func (m *Memory) SaveSchedule(_ context.Context, s ledger.FeeSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.schedules[s.SessionID] = s
	return nil
}

func (m *Memory) ScheduleForSession(_ context.Context, sessionID string) (*ledger.FeeSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.schedules[sessionID]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "fee schedule", ID: sessionID}
	}
	return &s, nil
}

// SaveAuditRun inserts or replaces a run by id.
func (m *Memory) SaveAuditRun(_ context.Context, run ledger.AuditRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.runs {
		if m.state.runs[i].ID == run.ID {
			m.state.runs[i] = run
			return nil
		}
	}
	m.state.runs = append(m.state.runs, run)
	return nil
}

// ListAuditRuns returns the most recent runs first.
func (m *Memory) ListAuditRuns(_ context.Context, limit int) ([]ledger.AuditRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := append([]ledger.AuditRun(nil), m.state.runs...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func (s state) clone() state {
	c := state{
		records:   make(map[ledger.RecordID]ledger.FeeRecord, len(s.records)),
		live:      make(map[ledger.PeriodKey]ledger.RecordID, len(s.live)),
		entries:   append([]ledger.TransactionLogEntry(nil), s.entries...),
		receipt:   s.receipt,
		seq:       s.seq,
		students:  s.students,
		sessions:  s.sessions,
		schedules: s.schedules,
		runs:      s.runs,
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.live {
		c.live[k] = v
	}
	return c
}
