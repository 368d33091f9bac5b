package sqldb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/warp/fee-ledger/fees"
	"github.com/warp/fee-ledger/ledger"
	"github.com/warp/fee-ledger/store/sqldb"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day = time.Date(2025, time.April, 5, 9, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *sqldb.Store {
	t.Helper()
	store, err := sqldb.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func charge(student string, month int, received int64) ledger.NewFeeRecord {
	return ledger.NewFeeRecord{
		StudentID:      student,
		SessionID:      "2025",
		Branch:         "boys",
		FeeType:        "monthly",
		Period:         ledger.Period{Month: month, Year: 2025},
		BaseAmount:     ledger.NewMoney(1000),
		PayableAmount:  ledger.NewMoney(1000),
		ReceivedAmount: ledger.NewMoney(received),
		PaymentMethod:  "cash",
		PaymentDate:    day,
		PaymentSource:  "office",
		CollectedBy:    "clerk-1",
		CreatedAt:      day,
	}
}

func patchOf(rec *ledger.FeeRecord) ledger.ReconciliationPatch {
	return ledger.ReconciliationPatch{
		ExpectedVersion: rec.Version,
		ReceivedAmount:  rec.ReceivedAmount,
		Period:          rec.Period,
		PaymentDate:     rec.PaymentDate,
		PaymentMethod:   rec.PaymentMethod,
		Remarks:         rec.Remarks,
		UpdatedAt:       day.Add(time.Hour),
	}
}

// =============================================================================
// UNIQUENESS AND RECEIPTS
// =============================================================================

func TestCreate_DuplicatePeriodRejected(t *testing.T) {
	// GIVEN: A monthly fee for April 2025
	store := newStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, charge("stu-1", 3, 600))
	require.NoError(t, err)

	// WHEN: The same student is charged again for April 2025
	_, err = store.Create(ctx, charge("stu-1", 3, 400))

	// THEN: A DuplicatePeriod conflict naming the period key
	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ledger.ConflictDuplicatePeriod, conflict.Kind)
	require.NotNil(t, conflict.Key)
	assert.Equal(t, "stu-1", conflict.Key.StudentID)

	// Other months and other students are unaffected
	_, err = store.Create(ctx, charge("stu-1", 4, 0))
	assert.NoError(t, err)
	_, err = store.Create(ctx, charge("stu-2", 3, 0))
	assert.NoError(t, err)
}

func TestCreate_ConcurrentDuplicatesExactlyOneWins(t *testing.T) {
	// GIVEN: Ten clerks submitting the same fee at the same time
	store := newStore(t)
	ctx := context.Background()

	const clerks = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < clerks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create(ctx, charge("stu-1", 3, 600))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrDuplicatePeriod):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN: One record exists; every other attempt saw DuplicatePeriod
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, clerks-1, conflicts)

	page, err := store.List(ctx, ledger.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Pagination.Total)
}

func TestCreate_ReceiptsStrictlyIncreaseWithoutGapsFromRollbacks(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, charge("stu-1", 0, 100))
	require.NoError(t, err)

	// A rejected duplicate rolls back its counter increment
	_, err = store.Create(ctx, charge("stu-1", 0, 100))
	require.Error(t, err)

	second, err := store.Create(ctx, charge("stu-1", 1, 100))
	require.NoError(t, err)
	third, err := store.Create(ctx, charge("stu-2", 1, 100))
	require.NoError(t, err)

	assert.Equal(t, ledger.ReceiptNumber(1), first.ReceiptNumber)
	assert.Equal(t, ledger.ReceiptNumber(2), second.ReceiptNumber)
	assert.Equal(t, ledger.ReceiptNumber(3), third.ReceiptNumber)

	highest, err := store.MaxReceipt(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptNumber(3), highest)
}

// stepAllocator hands out numbers from a fixed start, like a shared counter
// already advanced by other instances.
type stepAllocator struct {
	mu   sync.Mutex
	next ledger.ReceiptNumber
}

func (a *stepAllocator) Next(context.Context) (ledger.ReceiptNumber, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.next
	a.next += 10
	return n, nil
}

func TestCreate_ExternalAllocator(t *testing.T) {
	store, err := sqldb.New(":memory:", sqldb.WithAllocator(&stepAllocator{next: 500}))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	first, err := store.Create(ctx, charge("stu-1", 0, 100))
	require.NoError(t, err)
	second, err := store.Create(ctx, charge("stu-1", 1, 100))
	require.NoError(t, err)

	assert.Equal(t, ledger.ReceiptNumber(500), first.ReceiptNumber)
	assert.Equal(t, ledger.ReceiptNumber(510), second.ReceiptNumber)

	// Switching back to a fresh allocator on the open store
	store.SetAllocator(&stepAllocator{next: 900})
	third, err := store.Create(ctx, charge("stu-2", 1, 100))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptNumber(900), third.ReceiptNumber)
}

func TestCreate_InvalidChargeRejected(t *testing.T) {
	store := newStore(t)
	c := charge("stu-1", 3, -5)
	_, err := store.Create(context.Background(), c)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// EDITS AND REVERSAL
// =============================================================================

func TestGet_ReadsAreStable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created, err := store.Create(ctx, charge("stu-1", 3, 600))
	require.NoError(t, err)

	a, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	b, err := store.Get(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, day.Equal(a.PaymentDate))
	assert.Equal(t, ledger.StatusPartial, a.PaymentStatus)
	assert.Equal(t, "400", a.DueAmount.String())

	_, err = store.Get(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}

func TestApplyEdit_CompareAndSwapOnVersion(t *testing.T) {
	// GIVEN: A record at version 1
	store := newStore(t)
	ctx := context.Background()
	rec, err := store.Create(ctx, charge("stu-1", 3, 600))
	require.NoError(t, err)

	// WHEN: One edit succeeds and a second edit reuses the old version
	patch := patchOf(rec)
	patch.ReceivedAmount = ledger.NewMoney(1000)
	updated, err := store.ApplyEdit(ctx, rec.ID, patch)
	require.NoError(t, err)

	stale := patchOf(rec)
	stale.ReceivedAmount = ledger.NewMoney(700)
	_, err = store.ApplyEdit(ctx, rec.ID, stale)

	// THEN: The first is applied; the second is a StaleVersion conflict
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, ledger.StatusPaid, updated.PaymentStatus)
	assert.ErrorIs(t, err, ledger.ErrStaleVersion)

	_, err = store.ApplyEdit(ctx, "missing", patch)
	assert.True(t, ledger.IsNotFound(err))
}

func TestApplyEdit_PeriodCollision(t *testing.T) {
	// GIVEN: April and May fees for one student
	store := newStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, charge("stu-1", 3, 600))
	require.NoError(t, err)
	may, err := store.Create(ctx, charge("stu-1", 4, 600))
	require.NoError(t, err)

	// WHEN: May is moved onto April
	patch := patchOf(may)
	patch.Period = ledger.Period{Month: 3, Year: 2025}
	_, err = store.ApplyEdit(ctx, may.ID, patch)

	// THEN: The conflict names the occupied key, not the record's old one
	assert.ErrorIs(t, err, ledger.ErrDuplicatePeriod)
	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.Key)
	assert.Equal(t, ledger.PeriodKey{
		StudentID: "stu-1",
		FeeType:   "monthly",
		Period:    ledger.Period{Month: 3, Year: 2025},
	}, *conflict.Key)
	assert.Equal(t, may.ID, conflict.RecordID)

	unchanged, err := store.Get(ctx, may.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, unchanged.Period.Month)
	assert.Equal(t, int64(1), unchanged.Version)
}

func TestMarkReversed_FreesPeriod(t *testing.T) {
	// GIVEN: A live April record
	store := newStore(t)
	ctx := context.Background()
	rec, err := store.Create(ctx, charge("stu-1", 3, 600))
	require.NoError(t, err)

	// WHEN: It is reversed
	reversed, err := store.MarkReversed(ctx, rec.ID, rec.Version, "admin-1", day.Add(time.Hour))
	require.NoError(t, err)

	// THEN: The row stays, flagged and read-only; April can be charged again
	assert.True(t, reversed.IsReversed())
	assert.Equal(t, "admin-1", reversed.ReversedBy)
	assert.Equal(t, int64(2), reversed.Version)

	_, err = store.MarkReversed(ctx, rec.ID, reversed.Version, "admin-1", day)
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
	_, err = store.ApplyEdit(ctx, rec.ID, patchOf(reversed))
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)

	again, err := store.Create(ctx, charge("stu-1", 3, 1000))
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, again.ID)
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func TestWithTx_RollsBackRecordAndEntryTogether(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var id ledger.RecordID
	err := store.WithTx(ctx, func(st ledger.Store) error {
		rec, err := st.Create(ctx, charge("stu-1", 3, 600))
		require.NoError(t, err)
		id = rec.ID
		_, err = st.Append(ctx, ledger.IncomeEntry(*rec, "clerk-1"))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Get(ctx, id)
	assert.True(t, ledger.IsNotFound(err))
	entries, err := store.Entries(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntries_AppendOrderAndSignedAmounts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rec, err := store.Create(ctx, charge("stu-1", 3, 600))
	require.NoError(t, err)

	_, err = store.Append(ctx, ledger.IncomeEntry(*rec, "clerk-1"))
	require.NoError(t, err)
	_, err = store.Append(ctx, ledger.ReversalEntry(*rec, "refund", "admin-1", day))
	require.NoError(t, err)

	entries, err := store.Entries(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.TxIncome, entries[0].Type)
	assert.Equal(t, ledger.TxReversal, entries[1].Type)
	assert.Less(t, entries[0].Sequence, entries[1].Sequence)
	assert.Equal(t, "600", entries[0].Amount.String())
	assert.Equal(t, "-600", entries[1].Amount.String())
}

func TestDrift_FindsUnloggedRecords(t *testing.T) {
	// GIVEN: One record with its income entry and one without
	store := newStore(t)
	ctx := context.Background()
	logged, err := store.Create(ctx, charge("stu-1", 3, 600))
	require.NoError(t, err)
	_, err = store.Append(ctx, ledger.IncomeEntry(*logged, "clerk-1"))
	require.NoError(t, err)
	orphan, err := store.Create(ctx, charge("stu-2", 3, 250))
	require.NoError(t, err)

	// WHEN: The auditor runs
	checked, drifts, err := store.Drift(ctx)
	require.NoError(t, err)

	// THEN: Only the orphan drifts, by its full received amount
	assert.Equal(t, 2, checked)
	require.Len(t, drifts, 1)
	assert.Equal(t, orphan.ID, drifts[0].RecordID)
	assert.Equal(t, "250", drifts[0].Correction().String())
}

// =============================================================================
// LISTING
// =============================================================================

func seedListing(t *testing.T, store *sqldb.Store) {
	t.Helper()
	ctx := context.Background()
	students := []ledger.Student{
		{ID: "stu-1", Code: "R-001", Name: "Amina Rahman", GuardianPhone: "01711000001", Branch: "girls", AdmissionDate: time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC), Active: true},
		{ID: "stu-2", Code: "R-002", Name: "Bilal Hossain", GuardianPhone: "01711000002", Branch: "boys", AdmissionDate: time.Date(2019, 1, 10, 0, 0, 0, 0, time.UTC), Active: true},
		{ID: "stu-3", Code: "R-003", Name: "Chandni 100% Akter", GuardianPhone: "01711000003", Branch: "girls", AdmissionDate: time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC), Active: true},
	}
	for _, st := range students {
		require.NoError(t, store.SaveStudent(ctx, st))
	}

	// 12 records: each student paid Jan..Apr with different amounts and dates
	for i, st := range students {
		for month := 0; month < 4; month++ {
			c := charge(st.ID, month, int64(month*300))
			c.Branch = st.Branch
			c.PaymentDate = time.Date(2025, time.Month(month+1), 10+i, 12, 0, 0, 0, time.UTC)
			c.CreatedAt = c.PaymentDate
			if st.ID == "stu-2" {
				c.PaymentMethod = "bank_transfer"
				c.PayableAmount = ledger.NewMoney(800)
			}
			_, err := store.Create(ctx, c)
			require.NoError(t, err)
		}
	}
}

func TestList_FiltersSortAndPaginate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedListing(t, store)

	cases := []struct {
		name  string
		query ledger.Query
		total int64
	}{
		{"all", ledger.Query{}, 12},
		{"by student", ledger.Query{Filter: ledger.RecordFilter{StudentID: "stu-1"}}, 4},
		{"by branch", ledger.Query{Filter: ledger.RecordFilter{Branch: "girls"}}, 8},
		{"by method", ledger.Query{Filter: ledger.RecordFilter{PaymentMethod: "bank_transfer"}}, 4},
		{"search name", ledger.Query{Filter: ledger.RecordFilter{Search: "amina"}}, 4},
		{"search phone", ledger.Query{Filter: ledger.RecordFilter{Search: "000002"}}, 4},
		{"search literal percent", ledger.Query{Filter: ledger.RecordFilter{Search: "100%"}}, 4},
		{"search receipt", ledger.Query{Filter: ledger.RecordFilter{Search: "12"}}, 1},
		{"unpaid", ledger.Query{Filter: ledger.RecordFilter{Status: ledger.StatusUnpaid}}, 3},
		{"paid", ledger.Query{Filter: ledger.RecordFilter{Status: ledger.StatusPaid}}, 1},
		{"max fee", ledger.Query{Filter: ledger.RecordFilter{MaxFee: moneyPtr(900)}}, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := store.List(ctx, tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.total, page.Pagination.Total)
		})
	}
}

func TestList_DateRangeIsInclusive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedListing(t, store)

	from := time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.February, 11, 0, 0, 0, 0, time.UTC)
	page, err := store.List(ctx, ledger.Query{Filter: ledger.RecordFilter{FromDate: &from, ToDate: &to}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Pagination.Total)
}

func TestList_SortByStudentNameAndPaginate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedListing(t, store)

	page, err := store.List(ctx, ledger.Query{SortBy: ledger.SortStudentName, SortOrder: ledger.SortAsc, Limit: 5, Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Records, 5)
	assert.Equal(t, "stu-1", page.Records[0].StudentID)
	assert.Equal(t, "stu-2", page.Records[4].StudentID)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	require.NotNil(t, page.Pagination.NextPage)
	assert.Nil(t, page.Pagination.PrevPage)

	last, err := store.List(ctx, ledger.Query{SortBy: ledger.SortStudentName, SortOrder: ledger.SortAsc, Limit: 5, Page: 99})
	require.NoError(t, err)
	assert.Equal(t, 3, last.Pagination.Page)
	assert.Len(t, last.Records, 2)
	assert.Nil(t, last.Pagination.NextPage)

	byAdmission, err := store.List(ctx, ledger.Query{SortBy: ledger.SortAdmissionDate, SortOrder: ledger.SortAsc, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "stu-2", byAdmission.Records[0].StudentID)
}

func TestList_ExcludesReversedUnlessAsked(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rec, err := store.Create(ctx, charge("stu-1", 3, 600))
	require.NoError(t, err)
	_, err = store.MarkReversed(ctx, rec.ID, rec.Version, "admin-1", day)
	require.NoError(t, err)

	page, err := store.List(ctx, ledger.Query{})
	require.NoError(t, err)
	assert.Zero(t, page.Pagination.Total)

	page, err = store.List(ctx, ledger.Query{Filter: ledger.RecordFilter{IncludeReversed: true}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Pagination.Total)
}

func TestList_RejectsUnknownSortKey(t *testing.T) {
	store := newStore(t)
	_, err := store.List(context.Background(), ledger.Query{SortBy: "received_cents"})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestSchedules_RoundTripAndLatestWins(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	schedule := ledger.FeeSchedule{
		ID:        "fees-2025",
		Name:      "Session 2025",
		SessionID: "2025",
		Items: []ledger.ScheduleItem{
			{FeeType: "monthly", BaseAmount: ledger.NewMoney(1000)},
			{FeeType: "monthly", Branch: "girls", BaseAmount: ledger.NewMoney(1100)},
		},
	}
	require.NoError(t, store.SaveSchedule(ctx, schedule))
	schedule.Items[0].BaseAmount = ledger.NewMoney(1050)
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	got, err := store.ScheduleForSession(ctx, "2025")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	item, ok := got.Lookup("monthly", "class-1", "boys")
	require.True(t, ok)
	assert.Equal(t, "1050", item.BaseAmount.String())

	_, err = store.ScheduleForSession(ctx, "2030")
	assert.True(t, ledger.IsNotFound(err))
}

func TestDirectory_NotFound(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.GetStudent(ctx, "nobody")
	assert.True(t, ledger.IsNotFound(err))
	_, err = store.GetSession(ctx, "1999")
	assert.True(t, ledger.IsNotFound(err))

	require.NoError(t, store.SaveSession(ctx, ledger.Session{ID: "2025", Name: "2025", Active: true}))
	sess, err := store.GetSession(ctx, "2025")
	require.NoError(t, err)
	assert.True(t, sess.Active)
}

func TestAuditRuns_SaveAndList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	done := day.Add(time.Minute)

	require.NoError(t, store.SaveAuditRun(ctx, ledger.AuditRun{ID: "run-1", Status: "running", StartedAt: day}))
	require.NoError(t, store.SaveAuditRun(ctx, ledger.AuditRun{ID: "run-1", Status: "completed", Checked: 4, StartedAt: day, CompletedAt: &done}))

	runs, err := store.ListAuditRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 4, runs[0].Checked)
	require.NotNil(t, runs[0].CompletedAt)
	assert.True(t, done.Equal(*runs[0].CompletedAt))
}

func moneyPtr(units int64) *ledger.Money {
	m := ledger.NewMoney(units)
	return &m
}
