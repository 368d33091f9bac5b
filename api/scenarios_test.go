/*
scenarios_test.go - Tests for demo scenarios and the audit scheduler

Tests for:
- Every scenario loads through the fees service and leaves no drift
- The current scenario is reported; unknown ids are 404
- Reloading resets data but never reuses receipt numbers
- Without RouterConfig.Scenarios the routes are not mounted
- The scheduler sweeps on start and on each tick, and stops cleanly
*/
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-ledger/fees"
	"github.com/warp/fee-ledger/ledger"
)

func (s *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenarioId": "`+id+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenarios_NotMountedWhenDisabled(t *testing.T) {
	// GIVEN: A production router over a ledger with one fee
	s := newTestServer(t, "")
	created := s.register(t, 3, "600")
	router := NewRouter(s.handler, RouterConfig{Logger: zerolog.Nop()})

	// WHEN: Anyone tries to load or list scenarios
	for _, req := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/scenarios/load", `{"scenarioId": "first-month"}`},
		{http.MethodGet, "/api/scenarios", ""},
		{http.MethodGet, "/api/scenarios/current", ""},
	} {
		r := httptest.NewRequest(req.method, req.path, strings.NewReader(req.body))
		r.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		// THEN: 404, as for any unknown route
		assert.Equal(t, http.StatusNotFound, rec.Code, req.path)
	}

	// The ledger is untouched
	_, err := s.store.Get(context.Background(), ledger.RecordID(created.ID))
	assert.NoError(t, err)
}

func TestScenarios_LoadWithoutDrift(t *testing.T) {
	tests := []struct {
		id       string
		live     int64
		reversed int64
	}{
		{"first-month", 4, 0},
		{"arrears", 9, 0},
		{"corrections", 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s := newTestServer(t, "")

			// WHEN: The scenario is loaded
			s.loadScenario(t, tt.id)

			// THEN: Its records are listed
			page := decode[FeePageDTO](t, s.do(t, http.MethodGet, "/api/fees?limit=100", ""))
			assert.Equal(t, tt.live, page.Pagination.Total)
			page = decode[FeePageDTO](t, s.do(t, http.MethodGet, "/api/fees?limit=100&includeReversed=true", ""))
			assert.Equal(t, tt.live+tt.reversed, page.Pagination.Total)

			// AND: Every log sums to its record
			report := decode[AuditReportDTO](t, s.do(t, http.MethodPost, "/api/audit/run", ""))
			assert.Equal(t, fees.AuditCompleted, report.Run.Status)
			assert.Empty(t, report.Drifts)

			// AND: It is the current scenario
			current := decode[ScenarioDTO](t, s.do(t, http.MethodGet, "/api/scenarios/current", ""))
			assert.Equal(t, tt.id, current.ID)
		})
	}
}

func TestScenarios_ArrearsPricedFromSchedule(t *testing.T) {
	s := newTestServer(t, "")
	s.loadScenario(t, "arrears")

	page := decode[FeePageDTO](t, s.do(t, http.MethodGet, "/api/fees?feeType=residential&sortBy=createdAt&sortType=asc", ""))
	require.Len(t, page.Data, 4)
	for _, r := range page.Data {
		assert.Equal(t, "3000", r.BaseAmount.String())
		assert.Equal(t, "2500", r.PayableAmount.String())
	}
	assert.Equal(t, "paid", page.Data[0].PaymentStatus)
	assert.Equal(t, "partial", page.Data[1].PaymentStatus)
	assert.Equal(t, "unpaid", page.Data[2].PaymentStatus)

	meal := decode[FeePageDTO](t, s.do(t, http.MethodGet, "/api/fees?feeType=meal", ""))
	require.Len(t, meal.Data, 1)
	assert.Equal(t, "1350", meal.Data[0].PayableAmount.String())
	assert.Equal(t, "paid", meal.Data[0].PaymentStatus)
}

func TestScenarios_CorrectionsAreLogged(t *testing.T) {
	s := newTestServer(t, "")
	s.loadScenario(t, "corrections")

	page := decode[FeePageDTO](t, s.do(t, http.MethodGet, "/api/fees?studentId=stu-021&feeType=monthly&sortBy=createdAt&sortType=asc", ""))
	require.Len(t, page.Data, 2)

	// The overpayment was lowered with a reversal entry
	lowered := page.Data[0]
	assert.Equal(t, "800", lowered.ReceivedAmount.String())
	history := decode[map[string][]TransactionDTO](t, s.do(t, http.MethodGet, "/api/fees/"+lowered.ID+"/transactions", ""))["transactions"]
	require.Len(t, history, 2)
	assert.Equal(t, "reversal", history[1].Type)
	assert.Equal(t, "-200", history[1].Amount.String())

	// The wrong month was moved to March
	assert.Equal(t, "2025-03", page.Data[1].Period)

	// The exam fee was reversed and re-issued under a new receipt
	all := decode[FeePageDTO](t, s.do(t, http.MethodGet, "/api/fees?feeType=exam&includeReversed=true&sortBy=createdAt&sortType=asc", ""))
	require.Len(t, all.Data, 2)
	assert.NotNil(t, all.Data[0].ReversedAt)
	assert.Nil(t, all.Data[1].ReversedAt)
	assert.Greater(t, all.Data[1].ReceiptNumber, all.Data[0].ReceiptNumber)
}

func TestScenarios_ReloadKeepsReceiptNumbers(t *testing.T) {
	s := newTestServer(t, "")
	s.loadScenario(t, "first-month")
	s.loadScenario(t, "first-month")

	page := decode[FeePageDTO](t, s.do(t, http.MethodGet, "/api/fees?sortBy=createdAt&sortType=asc", ""))
	require.Len(t, page.Data, 4)
	assert.Equal(t, int64(5), page.Data[0].ReceiptNumber)
}

func TestScenarios_ListAndUnknown(t *testing.T) {
	s := newTestServer(t, "")

	list := decode[[]ScenarioDTO](t, s.do(t, http.MethodGet, "/api/scenarios", ""))
	assert.Len(t, list, len(scenarios))

	rec := s.do(t, http.MethodGet, "/api/scenarios/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenarioId": "nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"scenarioId"}, fieldNames(decode[ErrorResponse](t, rec)))
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestAuditScheduler_RunNow(t *testing.T) {
	s := newTestServer(t, "")
	s.register(t, 3, "600")

	scheduler := NewAuditScheduler(s.handler.Service, zerolog.Nop())
	report, err := scheduler.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Run.Checked)
	assert.Empty(t, report.Drifts)
}

func TestAuditScheduler_StartStop(t *testing.T) {
	s := newTestServer(t, "")
	scheduler := NewAuditScheduler(s.handler.Service, zerolog.Nop())
	scheduler.Interval = 10 * time.Millisecond

	// Stop before Start is a no-op
	scheduler.Stop()

	scheduler.Start()
	scheduler.Start()

	require.Eventually(t, func() bool {
		runs, err := s.handler.Service.AuditRuns(context.Background(), 10)
		return err == nil && len(runs) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop()
	scheduler.Stop()
}

func TestAuditScheduler_DisabledInterval(t *testing.T) {
	s := newTestServer(t, "")
	scheduler := NewAuditScheduler(s.handler.Service, zerolog.Nop())
	scheduler.Interval = 0

	scheduler.Start()
	scheduler.Stop()

	runs, err := s.handler.Service.AuditRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
