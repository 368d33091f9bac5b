package fees_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-ledger/fees"
	"github.com/warp/fee-ledger/ledger"
	"github.com/warp/fee-ledger/ledger/store"
	"github.com/warp/fee-ledger/store/sqldb"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	_ fees.Backend = (*store.Memory)(nil)
	_ fees.Backend = (*sqldb.Store)(nil)
)

var now = time.Date(2025, time.April, 20, 10, 0, 0, 0, time.UTC)

type backendFactory struct {
	name string
	open func(t *testing.T) fees.Backend
}

var backends = []backendFactory{
	{"memory", func(t *testing.T) fees.Backend { return store.NewMemory() }},
	{"sqlite", func(t *testing.T) fees.Backend {
		s, err := sqldb.New(":memory:", sqldb.WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

type directory interface {
	SaveStudent(ctx context.Context, st ledger.Student) error
	SaveSession(ctx context.Context, s ledger.Session) error
	SaveSchedule(ctx context.Context, s ledger.FeeSchedule) error
}

// eachBackend runs fn against every storage implementation with a student
// S (active), an inactive student and session 2025 with a fee schedule.
func eachBackend(t *testing.T, fn func(t *testing.T, svc *fees.Service, backend fees.Backend)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			backend := b.open(t)
			seed(t, backend.(directory))
			svc := fees.NewService(backend, fees.WithClock(func() time.Time { return now }), fees.WithRetries(2, time.Millisecond))
			fn(t, svc, backend)
		})
	}
}

func seed(t *testing.T, d directory) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.SaveStudent(ctx, ledger.Student{ID: "S", Code: "R-1", Name: "Sadia Islam", ClassID: "class-5", Branch: fees.BranchGirls, Active: true}))
	require.NoError(t, d.SaveStudent(ctx, ledger.Student{ID: "left", Name: "Former Student", Branch: fees.BranchBoys, Active: false}))
	require.NoError(t, d.SaveSession(ctx, ledger.Session{ID: "2025", Name: "Session 2025", Active: true}))
	require.NoError(t, d.SaveSession(ctx, ledger.Session{ID: "2024", Name: "Session 2024"}))
	require.NoError(t, d.SaveSchedule(ctx, ledger.FeeSchedule{
		ID:        "fees-2025",
		SessionID: "2025",
		Items: []ledger.ScheduleItem{
			{FeeType: fees.FeeMonthly, BaseAmount: ledger.NewMoney(1000)},
			{FeeType: fees.FeeResidential, BaseAmount: ledger.NewMoney(3000),
				Discount: &ledger.Discount{Kind: ledger.DiscountFlat, Value: decimal.NewFromInt(500)}},
		},
	}))
}

func monthly(received int64) fees.ReceiveRequest {
	payable := ledger.NewMoney(1000)
	return fees.ReceiveRequest{
		StudentID:      "S",
		SessionID:      "2025",
		FeeType:        fees.FeeMonthly,
		Month:          3,
		Year:           2025,
		PayableAmount:  &payable,
		ReceivedAmount: ledger.NewMoney(received),
		PaymentMethod:  fees.MethodCash,
	}
}

func money(units int64) *ledger.Money {
	m := ledger.NewMoney(units)
	return &m
}

func str(s string) *string { return &s }

func assertDerived(t *testing.T, rec *ledger.FeeRecord) {
	t.Helper()
	due, status := ledger.Derive(rec.PayableAmount, rec.ReceivedAmount)
	assert.True(t, due.Equal(rec.DueAmount), "due %s, want %s", rec.DueAmount, due)
	assert.Equal(t, status, rec.PaymentStatus)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_CreateEditDuplicateRemarks(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()

		// GIVEN: A monthly fee for April 2025, payable 1000, received 600
		rec, err := svc.Receive(ctx, monthly(600), "clerk-1")
		require.NoError(t, err)

		// THEN: Due 400, partial, one income entry of 600
		assert.Equal(t, "400", rec.DueAmount.String())
		assert.Equal(t, ledger.StatusPartial, rec.PaymentStatus)
		assertDerived(t, rec)
		history, err := svc.History(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, ledger.TxIncome, history[0].Type)
		assert.Equal(t, "600", history[0].Amount.String())
		assert.Equal(t, "clerk-1", history[0].PerformedBy)

		// WHEN: Received is raised to 1000 with remarks
		res, err := svc.Reconcile(ctx, rec.ID, fees.EditRequest{
			ReceivedAmount: money(1000),
			Remarks:        str("full settlement"),
		}, "clerk-2")
		require.NoError(t, err)

		// THEN: Due 0, paid, one adjustment entry of 400
		assert.True(t, res.Record.DueAmount.IsZero())
		assert.Equal(t, ledger.StatusPaid, res.Record.PaymentStatus)
		assertDerived(t, res.Record)
		assert.Equal(t, []string{"receivedAmount"}, res.Changes.Fields())
		require.NotNil(t, res.Entry)
		assert.Equal(t, ledger.TxAdjustment, res.Entry.Type)
		assert.Equal(t, "400", res.Entry.Amount.String())
		history, err = svc.History(ctx, rec.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)

		// WHEN: A second April 2025 monthly fee is submitted
		_, err = svc.Receive(ctx, monthly(1000), "clerk-1")

		// THEN: DuplicatePeriod, and no record was added
		assert.ErrorIs(t, err, ledger.ErrDuplicatePeriod)
		page, err := svc.List(ctx, ledger.Query{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Pagination.Total)

		// WHEN: Received is changed with blank remarks
		_, err = svc.Reconcile(ctx, rec.ID, fees.EditRequest{
			ReceivedAmount: money(700),
			Remarks:        str("  "),
		}, "clerk-2")

		// THEN: RemarksRequired, record and log unchanged
		assert.ErrorIs(t, err, ledger.ErrRemarksRequired)
		current, err := svc.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "1000", current.ReceivedAmount.String())
		assert.Equal(t, int64(2), current.Version)
		history, err = svc.History(ctx, rec.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})
}

func TestScenario_ConcurrentReceiveOneWins(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()
		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Receive(ctx, monthly(600), "clerk-1")
			}(i)
		}
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrDuplicatePeriod)
				failures++
			}
		}
		assert.Equal(t, 1, failures)
	})
}

// =============================================================================
// RECEIVE
// =============================================================================

func TestReceive_ResolvesAmountsFromSchedule(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()

		// Base and payable both from the schedule
		req := monthly(0)
		req.PayableAmount = nil
		rec, err := svc.Receive(ctx, req, "clerk-1")
		require.NoError(t, err)
		assert.Equal(t, "1000", rec.BaseAmount.String())
		assert.Equal(t, "1000", rec.PayableAmount.String())
		assert.Equal(t, ledger.StatusUnpaid, rec.PaymentStatus)
		assert.Equal(t, fees.BranchGirls, rec.Branch)

		// The schedule item's flat discount applies to its own fee type
		res := monthly(2500)
		res.FeeType = fees.FeeResidential
		res.PayableAmount = nil
		rec, err = svc.Receive(ctx, res, "clerk-1")
		require.NoError(t, err)
		assert.Equal(t, "3000", rec.BaseAmount.String())
		assert.Equal(t, "2500", rec.PayableAmount.String())
		assert.Equal(t, ledger.StatusPaid, rec.PaymentStatus)

		// A supplied discount wins over the schedule
		meal := monthly(0)
		meal.FeeType = fees.FeeMeal
		meal.PayableAmount = nil
		meal.BaseAmount = money(600)
		meal.Discount = &ledger.Discount{Kind: ledger.DiscountPercent, Value: decimal.NewFromInt(25)}
		rec, err = svc.Receive(ctx, meal, "clerk-1")
		require.NoError(t, err)
		assert.Equal(t, "450", rec.PayableAmount.String())
	})
}

func TestReceive_ZeroPaymentHasNoIncomeEntry(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()
		rec, err := svc.Receive(ctx, monthly(0), "clerk-1")
		require.NoError(t, err)
		history, err := svc.History(ctx, rec.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
		assert.Equal(t, "clerk-1", rec.CollectedBy)
		assert.Equal(t, fees.SourceOffice, rec.PaymentSource)
		assert.True(t, now.Equal(rec.PaymentDate))
	})
}

func TestReceive_Rejections(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()

		unknown := monthly(100)
		unknown.StudentID = "ghost"
		_, err := svc.Receive(ctx, unknown, "clerk-1")
		assert.True(t, ledger.IsNotFound(err), "unknown student: %v", err)

		inactive := monthly(100)
		inactive.StudentID = "left"
		_, err = svc.Receive(ctx, inactive, "clerk-1")
		assert.ErrorIs(t, err, ledger.ErrValidation)

		noSession := monthly(100)
		noSession.SessionID = "1999"
		_, err = svc.Receive(ctx, noSession, "clerk-1")
		assert.True(t, ledger.IsNotFound(err), "unknown session: %v", err)

		noSchedule := monthly(100)
		noSchedule.SessionID = "2024"
		noSchedule.PayableAmount = nil
		_, err = svc.Receive(ctx, noSchedule, "clerk-1")
		var verr *ledger.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "baseAmount", verr.Fields[0].Name)

		bad := monthly(-1)
		bad.Month = 12
		bad.FeeType = "tuition"
		bad.PaymentMethod = "crypto"
		_, err = svc.Receive(ctx, bad, "clerk-1")
		require.ErrorAs(t, err, &verr)
		names := map[string]bool{}
		for _, f := range verr.Fields {
			names[f.Name] = true
		}
		assert.True(t, names["month"])
		assert.True(t, names["feeType"])
		assert.True(t, names["paymentMethod"])
		assert.True(t, names["receivedAmount"])

		page, err := svc.List(ctx, ledger.Query{})
		require.NoError(t, err)
		assert.Zero(t, page.Pagination.Total)
	})
}

// flaky fails the first n transactions with a transient error.
type flaky struct {
	fees.Backend
	mu sync.Mutex
	n  int
}

func (f *flaky) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	f.mu.Lock()
	fail := f.n > 0
	if fail {
		f.n--
	}
	f.mu.Unlock()
	if fail {
		return &ledger.TransientError{Op: "begin transaction", Err: errors.New("database is locked")}
	}
	return f.Backend.WithTx(ctx, fn)
}

func TestReceive_RetriesTransientFailures(t *testing.T) {
	// GIVEN: Storage that is locked for the first two attempts
	mem := store.NewMemory()
	seed(t, mem)
	backend := &flaky{Backend: mem, n: 2}
	svc := fees.NewService(backend, fees.WithRetries(2, time.Millisecond))

	// WHEN: A fee is received
	rec, err := svc.Receive(context.Background(), monthly(600), "clerk-1")

	// THEN: The third attempt commits exactly one record
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptNumber(1), rec.ReceiptNumber)

	// AND: Exhausted retries surface as retryable
	backend.n = 10
	_, err = svc.Receive(context.Background(), monthly(600), "clerk-1")
	assert.True(t, ledger.IsRetryable(err))
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestReconcile_DecreaseIsReversalEntry(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()
		rec, err := svc.Receive(ctx, monthly(1000), "clerk-1")
		require.NoError(t, err)

		res, err := svc.Reconcile(ctx, rec.ID, fees.EditRequest{ReceivedAmount: money(700), Remarks: str("partial refund")}, "clerk-2")
		require.NoError(t, err)
		require.NotNil(t, res.Entry)
		assert.Equal(t, ledger.TxReversal, res.Entry.Type)
		assert.Equal(t, "-300", res.Entry.Amount.String())
		assert.Equal(t, ledger.StatusPartial, res.Record.PaymentStatus)
		assert.Equal(t, "partial refund", res.Record.Remarks)
	})
}

func TestReceive_RejectsAmountsOutOfRange(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, backend fees.Backend) {
		ctx := context.Background()

		// Past the int64 cent column
		huge := monthly(0)
		payable := ledger.MoneyFromDecimal(decimal.New(1, 20))
		huge.PayableAmount = &payable
		huge.ReceivedAmount = ledger.MoneyFromDecimal(decimal.New(1, 300000000))
		huge.Discount = &ledger.Discount{Kind: ledger.DiscountPercent, Value: decimal.New(5, 300000000)}

		done := make(chan error, 1)
		go func() {
			_, err := svc.Receive(ctx, huge, "clerk-1")
			done <- err
		}()
		var err error
		select {
		case err = <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("receive did not return for an oversized amount")
		}

		var verr *ledger.ValidationError
		require.ErrorAs(t, err, &verr)
		names := map[string]string{}
		for _, f := range verr.Fields {
			names[f.Name] = f.Message
		}
		assert.Equal(t, "must be at most 90000000000000", names["payableAmount"])
		assert.Equal(t, "must be at most 90000000000000", names["receivedAmount"])
		assert.Equal(t, "must be at most 90000000000000", names["discount.value"])

		// The bound itself is accepted
		edge := monthly(0)
		edge.PayableAmount = money(ledger.MaxUnits)
		edge.BaseAmount = money(ledger.MaxUnits)
		edge.ReceivedAmount = ledger.NewMoney(ledger.MaxUnits)
		rec, err := svc.Receive(ctx, edge, "clerk-1")
		require.NoError(t, err)
		stored, err := backend.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, stored.PayableAmount.Equal(ledger.NewMoney(ledger.MaxUnits)), "payable %s", stored.PayableAmount)
	})
}

func TestReconcile_PeriodMoveAndCollision(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()
		april, err := svc.Receive(ctx, monthly(1000), "clerk-1")
		require.NoError(t, err)
		mayReq := monthly(1000)
		mayReq.Month = 4
		_, err = svc.Receive(ctx, mayReq, "clerk-1")
		require.NoError(t, err)

		// Moving April onto May collides
		_, err = svc.Reconcile(ctx, april.ID, fees.EditRequest{Month: intp(4), Remarks: str("wrong month")}, "clerk-2")
		assert.ErrorIs(t, err, ledger.ErrDuplicatePeriod)
		var conflict *ledger.ConflictError
		require.ErrorAs(t, err, &conflict)
		require.NotNil(t, conflict.Key)
		assert.Equal(t, ledger.Period{Month: 4, Year: 2025}, conflict.Key.Period)
		assert.Equal(t, "S", conflict.Key.StudentID)
		assert.Equal(t, fees.FeeMonthly, conflict.Key.FeeType)

		// Moving to June is logged as a zero adjustment
		res, err := svc.Reconcile(ctx, april.ID, fees.EditRequest{Month: intp(5), Remarks: str("wrong month")}, "clerk-2")
		require.NoError(t, err)
		assert.Equal(t, 5, res.Record.Period.Month)
		require.NotNil(t, res.Entry)
		assert.True(t, res.Entry.Amount.IsZero())

		history, err := svc.History(ctx, april.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})
}

func TestReconcile_StaleVersionAndNonReconcilingEdit(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()
		rec, err := svc.Receive(ctx, monthly(600), "clerk-1")
		require.NoError(t, err)

		// A method change needs no remarks and logs nothing
		method := fees.MethodBankTransfer
		res, err := svc.Reconcile(ctx, rec.ID, fees.EditRequest{PaymentMethod: &method}, "clerk-2")
		require.NoError(t, err)
		assert.Nil(t, res.Entry)
		assert.Equal(t, method, res.Record.PaymentMethod)
		assert.Equal(t, int64(2), res.Record.Version)

		// An edit based on version 1 is stale
		v1 := int64(1)
		_, err = svc.Reconcile(ctx, rec.ID, fees.EditRequest{ReceivedAmount: money(1000), Remarks: str("x"), ExpectedVersion: &v1}, "clerk-3")
		assert.ErrorIs(t, err, ledger.ErrStaleVersion)

		_, err = svc.Reconcile(ctx, rec.ID, fees.EditRequest{}, "clerk-3")
		assert.ErrorIs(t, err, ledger.ErrValidation)

		_, err = svc.Reconcile(ctx, "missing", fees.EditRequest{Remarks: str("x")}, "clerk-3")
		assert.True(t, ledger.IsNotFound(err))
	})
}

func intp(i int) *int { return &i }

// =============================================================================
// REVERSE
// =============================================================================

func TestReverse_LogsAndFreesPeriod(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, _ fees.Backend) {
		ctx := context.Background()
		rec, err := svc.Receive(ctx, monthly(600), "clerk-1")
		require.NoError(t, err)

		// WHEN: Reversed without and then with a reason
		_, err = svc.Reverse(ctx, rec.ID, fees.ReverseRequest{}, "admin-1")
		assert.ErrorIs(t, err, ledger.ErrValidation)

		reversed, err := svc.Reverse(ctx, rec.ID, fees.ReverseRequest{Reason: "entered for wrong student"}, "admin-1")
		require.NoError(t, err)

		// THEN: Record is flagged and its log sums to zero
		assert.True(t, reversed.IsReversed())
		history, err := svc.History(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, ledger.TxReversal, history[1].Type)
		sum := ledger.Zero
		for _, e := range history {
			sum = sum.Add(e.Amount)
		}
		assert.True(t, sum.IsZero())

		// AND: Reversed records are read-only; the period is free again
		_, err = svc.Reverse(ctx, rec.ID, fees.ReverseRequest{Reason: "again"}, "admin-1")
		assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
		_, err = svc.Reconcile(ctx, rec.ID, fees.EditRequest{ReceivedAmount: money(1), Remarks: str("x")}, "admin-1")
		assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
		_, err = svc.Receive(ctx, monthly(1000), "clerk-1")
		assert.NoError(t, err)
	})
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAudit_DetectsAndRepairsDrift(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *fees.Service, backend fees.Backend) {
		ctx := context.Background()
		_, err := svc.Receive(ctx, monthly(600), "clerk-1")
		require.NoError(t, err)

		// GIVEN: A record written without its income entry
		orphan, err := backend.Create(ctx, ledger.NewFeeRecord{
			StudentID: "S", SessionID: "2025", Branch: fees.BranchGirls, FeeType: fees.FeeExam,
			Period: ledger.Period{Month: 3, Year: 2025}, BaseAmount: ledger.NewMoney(300),
			PayableAmount: ledger.NewMoney(300), ReceivedAmount: ledger.NewMoney(300),
			PaymentMethod: fees.MethodCash, PaymentDate: now, PaymentSource: fees.SourceOffice,
		})
		require.NoError(t, err)

		// WHEN: Audited without repair
		report, err := svc.Audit(ctx, false)
		require.NoError(t, err)

		// THEN: The orphan is reported
		assert.Equal(t, 2, report.Run.Checked)
		require.Len(t, report.Drifts, 1)
		assert.Equal(t, orphan.ID, report.Drifts[0].RecordID)
		assert.Equal(t, 0, report.Run.Repaired)

		// WHEN: Audited with repair
		report, err = svc.Audit(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Run.Repaired)

		// THEN: A system adjustment closes the gap and a new sweep is clean
		history, err := svc.History(ctx, orphan.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, fees.SystemActor, history[0].PerformedBy)
		assert.Equal(t, "300", history[0].Amount.String())

		report, err = svc.Audit(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, report.Drifts)

		runs, err := svc.AuditRuns(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, runs, 3)
		for _, run := range runs {
			assert.Equal(t, fees.AuditCompleted, run.Status)
		}
	})
}
