/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos and frontend development. Every fee is recorded through
	the fees service, so the transaction log is complete.

AVAILABLE SCENARIOS:

	first-month:  Four students, one April payment each (paid, partial, unpaid)
	arrears:      One student behind on several months, residential discount
	corrections:  Edits in both directions, a period move and a reversal

HOW SCENARIOS WORK:
 1. Reset database (clear all data; receipt counters keep counting)
 2. Create the session and its fee schedule via factory JSON
 3. Create students
 4. Receive fees, then edit or reverse some of them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "corrections"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - factory/schedule.go: Fee schedule JSON
  - fees/: Receive, Reconcile, Reverse
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/fee-ledger/fees"
	"github.com/warp/fee-ledger/ledger"
)

// scenarioActor is recorded as the collector of demo data.
const scenarioActor = "scenario:demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "first-month",
			Name:        "First Month",
			Description: "Four students with one April tuition payment each: paid, partial and unpaid",
		},
		load: loadFirstMonth,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "arrears",
			Name:        "Arrears",
			Description: "A residential student behind on several months, with the schedule discount applied",
		},
		load: loadArrears,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "corrections",
			Name:        "Corrections",
			Description: "Payments raised and lowered, a month corrected and a receipt reversed and re-issued",
		},
		load: loadCorrections,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	for _, s := range scenarios {
		if s.ID != req.ScenarioID {
			continue
		}
		if err := h.loadScenario(r.Context(), s); err != nil {
			h.fail(w, r, fmt.Errorf("load scenario %s: %w", s.ID, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "loaded",
			"scenario": s.ScenarioDTO,
		})
		return
	}
	writeError(w, http.StatusNotFound, CodeNotFound, "Unknown scenario: "+req.ScenarioID, nil)
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Catalog.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	if err := s.load(ctx, h); err != nil {
		return err
	}
	h.currentScenario = s.ID
	h.log.Info().Str("scenario", s.ID).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SHARED SETUP
// =============================================================================

const session2025Schedule = `{
  "id": "fees-2025",
  "name": "Session 2025 price list",
  "sessionId": "2025",
  "items": [
    {"feeType": "admission", "baseAmount": "5000"},
    {"feeType": "monthly", "baseAmount": "1000"},
    {"feeType": "monthly", "classId": "class-9", "baseAmount": "1200"},
    {"feeType": "exam", "baseAmount": "800"},
    {"feeType": "residential", "baseAmount": "3000", "discount": {"kind": "flat", "value": "500"}},
    {"feeType": "meal", "baseAmount": "1500", "branch": "girls", "discount": {"kind": "percent", "value": "10"}},
    {"feeType": "meal", "baseAmount": "1500"}
  ]
}`

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 9, 30, 0, 0, time.UTC)
}

func (h *Handler) seedSession(ctx context.Context, students ...ledger.Student) error {
	err := h.Catalog.SaveSession(ctx, ledger.Session{
		ID:        "2025",
		Name:      "Session 2025",
		StartDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC),
		Active:    true,
	})
	if err != nil {
		return err
	}

	schedule, err := h.Schedules.ParseSchedule(session2025Schedule)
	if err != nil {
		return err
	}
	if err := h.Catalog.SaveSchedule(ctx, *schedule); err != nil {
		return err
	}

	for _, st := range students {
		if err := h.Catalog.SaveStudent(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// receive records a fee priced from the schedule.
func (h *Handler) receive(ctx context.Context, studentID string, feeType ledger.FeeType, month time.Month, received int64, paid time.Time) (*ledger.FeeRecord, error) {
	return h.Service.Receive(ctx, fees.ReceiveRequest{
		StudentID:      studentID,
		SessionID:      "2025",
		FeeType:        feeType,
		Month:          int(month) - 1,
		Year:           2025,
		ReceivedAmount: ledger.NewMoney(received),
		PaymentMethod:  fees.MethodCash,
		PaymentDate:    paid,
	}, scenarioActor)
}

func student(id, code, name, phone, class string, branch ledger.Branch, admitted time.Time) ledger.Student {
	return ledger.Student{
		ID:            id,
		Code:          code,
		Name:          name,
		GuardianPhone: phone,
		ClassID:       class,
		Branch:        branch,
		AdmissionDate: admitted,
		Active:        true,
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadFirstMonth(ctx context.Context, h *Handler) error {
	admitted := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)
	err := h.seedSession(ctx,
		student("stu-001", "B-101", "Arif Hossain", "01711000101", "class-5", fees.BranchBoys, admitted),
		student("stu-002", "B-102", "Tanvir Ahmed", "01711000102", "class-9", fees.BranchBoys, admitted),
		student("stu-003", "G-201", "Nusrat Jahan", "01811000201", "class-5", fees.BranchGirls, admitted),
		student("stu-004", "G-202", "Farhana Akter", "01811000202", "class-9", fees.BranchGirls, admitted.AddDate(0, 2, 0)),
	)
	if err != nil {
		return err
	}

	payments := []struct {
		student  string
		received int64
	}{
		{"stu-001", 1000}, // paid
		{"stu-002", 700},  // partial of 1200
		{"stu-003", 0},    // unpaid
		{"stu-004", 1200}, // paid
	}
	for i, p := range payments {
		if _, err := h.receive(ctx, p.student, fees.FeeMonthly, time.April, p.received, day(time.April, 3+i)); err != nil {
			return err
		}
	}
	return nil
}

func loadArrears(ctx context.Context, h *Handler) error {
	err := h.seedSession(ctx,
		student("stu-010", "G-310", "Sadia Islam", "01911000310", "class-7", fees.BranchGirls,
			time.Date(2024, time.December, 20, 0, 0, 0, 0, time.UTC)),
	)
	if err != nil {
		return err
	}

	months := []struct {
		month       time.Month
		monthly     int64
		residential int64
	}{
		{time.January, 1000, 2500},
		{time.February, 1000, 1500},
		{time.March, 400, 0},
		{time.April, 0, 0},
	}
	for _, m := range months {
		if _, err := h.receive(ctx, "stu-010", fees.FeeMonthly, m.month, m.monthly, day(m.month, 10)); err != nil {
			return err
		}
		if _, err := h.receive(ctx, "stu-010", fees.FeeResidential, m.month, m.residential, day(m.month, 10)); err != nil {
			return err
		}
	}
	_, err = h.receive(ctx, "stu-010", fees.FeeMeal, time.April, 1350, day(time.April, 12))
	return err
}

func loadCorrections(ctx context.Context, h *Handler) error {
	admitted := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)
	err := h.seedSession(ctx,
		student("stu-020", "B-120", "Rakib Hasan", "01711000120", "class-5", fees.BranchBoys, admitted),
		student("stu-021", "G-221", "Mim Chowdhury", "01811000221", "class-5", fees.BranchGirls, admitted),
	)
	if err != nil {
		return err
	}

	// A partial payment completed later.
	partial, err := h.receive(ctx, "stu-020", fees.FeeMonthly, time.April, 600, day(time.April, 2))
	if err != nil {
		return err
	}
	if _, err := h.Service.Reconcile(ctx, partial.ID, fees.EditRequest{
		ReceivedAmount: moneyPtr(1000),
		Remarks:        strPtr("full settlement"),
	}, scenarioActor); err != nil {
		return err
	}

	// Cash counted wrong at the desk.
	over, err := h.receive(ctx, "stu-021", fees.FeeMonthly, time.April, 1000, day(time.April, 2))
	if err != nil {
		return err
	}
	if _, err := h.Service.Reconcile(ctx, over.ID, fees.EditRequest{
		ReceivedAmount: moneyPtr(800),
		Remarks:        strPtr("recount: 200 was returned to guardian"),
	}, scenarioActor); err != nil {
		return err
	}

	// Entered under the wrong month.
	wrongMonth, err := h.receive(ctx, "stu-021", fees.FeeMonthly, time.February, 1000, day(time.April, 3))
	if err != nil {
		return err
	}
	march := int(time.March) - 1
	if _, err := h.Service.Reconcile(ctx, wrongMonth.ID, fees.EditRequest{
		Month:   &march,
		Remarks: strPtr("receipt was for March"),
	}, scenarioActor); err != nil {
		return err
	}

	// Recorded for the wrong student, reversed and re-issued.
	mistaken, err := h.receive(ctx, "stu-020", fees.FeeExam, time.April, 800, day(time.April, 5))
	if err != nil {
		return err
	}
	if _, err := h.Service.Reverse(ctx, mistaken.ID, fees.ReverseRequest{Reason: "recorded for the wrong student"}, scenarioActor); err != nil {
		return err
	}
	_, err = h.receive(ctx, "stu-021", fees.FeeExam, time.April, 800, day(time.April, 5))
	return err
}

func moneyPtr(units int64) *ledger.Money {
	m := ledger.NewMoney(units)
	return &m
}

func strPtr(s string) *string {
	return &s
}
