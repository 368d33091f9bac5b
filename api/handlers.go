/*
handlers.go - HTTP API handlers for the fee ledger

PURPOSE:
  Exposes the fees service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the fees service. No ledger rule is
  implemented here.

ENDPOINTS:
  Fees:
    POST   /api/fees/register            Record a charge and its first payment
    GET    /api/fees                     Filtered, sorted, paginated listing
    GET    /api/fees/{id}                One record
    PATCH  /api/fees/{id}                Edit through the reconciliation engine
    DELETE /api/fees/{id}                Reverse (reason required)
    GET    /api/fees/{id}/transactions   Log entries in append order
    GET    /api/fees/{id}/receipt        A6 PDF receipt

  Reference data:
    GET/POST /api/students, GET /api/students/{id}
    GET/POST /api/sessions
    GET/POST /api/schedules, GET /api/schedules/{id}

  Audit:
    GET    /api/audit/runs               Recent sweeps
    POST   /api/audit/run                Sweep now, optionally repairing

ERROR HANDLING:
  Domain errors are mapped in errors.go:
  - 400: Malformed JSON
  - 422: Validation errors, with one entry per field
  - 404: Unknown record, student, session or schedule
  - 409: DuplicatePeriod, StaleVersion, AlreadyReversed
  - 503: Storage contention after retries
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/fee-ledger/factory"
	"github.com/warp/fee-ledger/fees"
	"github.com/warp/fee-ledger/ledger"
	"github.com/warp/fee-ledger/receipt"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Catalog is the reference data the handlers manage directly.
// store/sqldb.Store implements it.
type Catalog interface {
	SaveStudent(ctx context.Context, st ledger.Student) error
	GetStudent(ctx context.Context, id string) (*ledger.Student, error)
	ListStudents(ctx context.Context) ([]ledger.Student, error)

	SaveSession(ctx context.Context, s ledger.Session) error
	GetSession(ctx context.Context, id string) (*ledger.Session, error)
	ListSessions(ctx context.Context) ([]ledger.Session, error)

	SaveSchedule(ctx context.Context, s ledger.FeeSchedule) error
	GetSchedule(ctx context.Context, id string) (*ledger.FeeSchedule, error)
	ListSchedules(ctx context.Context) ([]ledger.FeeSchedule, error)

	// Reset removes all data. Used by demo scenarios only.
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *fees.Service
	Catalog   Catalog
	Schedules *factory.ScheduleFactory
	School    string

	log zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. school is printed on receipts.
func NewHandler(svc *fees.Service, catalog Catalog, school string, log zerolog.Logger) *Handler {
	return &Handler{
		Service:   svc,
		Catalog:   catalog,
		Schedules: factory.NewScheduleFactory(),
		School:    school,
		log:       log,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// FEE HANDLERS
// =============================================================================

// RegisterFee records a new charge.
// POST /api/fees/register
func (h *Handler) RegisterFee(w http.ResponseWriter, r *http.Request) {
	var req RegisterFeeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rec, err := h.Service.Receive(r.Context(), req.toReceive(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFeeRecordDTO(*rec))
}

// GetFee returns one record.
// GET /api/fees/{id}
func (h *Handler) GetFee(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Get(r.Context(), recordID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeRecordDTO(*rec))
}

// EditFee applies a partial update through the reconciliation engine.
// PATCH /api/fees/{id}
func (h *Handler) EditFee(w http.ResponseWriter, r *http.Request) {
	var req EditFeeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.Service.Reconcile(r.Context(), recordID(r), req.toEdit(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := EditFeeResponse{
		Record:  toFeeRecordDTO(*res.Record),
		Changes: toChangesDTO(res.Changes),
	}
	if res.Entry != nil {
		entry := toTransactionDTO(*res.Entry)
		resp.Entry = &entry
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReverseFee withdraws a record. The reason comes from the JSON body or
// the "reason" query parameter.
// DELETE /api/fees/{id}
func (h *Handler) ReverseFee(w http.ResponseWriter, r *http.Request) {
	var req ReverseFeeRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body", err)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(body))
		if !decodeAndValidate(w, r, &req) {
			return
		}
	}
	if req.Reason == "" {
		req.Reason = r.URL.Query().Get("reason")
	}

	rec, err := h.Service.Reverse(r.Context(), recordID(r), fees.ReverseRequest{
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	}, ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeRecordDTO(*rec))
}

// ListFees returns one page of records.
// GET /api/fees?search=&studentId=&status=&fromDate=&sortBy=&sortType=&page=&limit=
func (h *Handler) ListFees(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.Service.List(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeePageDTO(*page))
}

// GetFeeTransactions returns the log of one record.
// GET /api/fees/{id}/transactions
func (h *Handler) GetFeeTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.History(r.Context(), recordID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]TransactionDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toTransactionDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": dtos})
}

// GetFeeReceipt renders a PDF receipt.
// GET /api/fees/{id}/receipt
func (h *Handler) GetFeeReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.Service.Get(ctx, recordID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// The receipt still prints if the student left the directory.
	student, err := h.Service.Student(ctx, rec.StudentID)
	if err != nil && !ledger.IsNotFound(err) {
		h.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := receipt.Render(&buf, receipt.Receipt{School: h.School, Record: *rec, Student: student}); err != nil {
		h.fail(w, r, fmt.Errorf("render receipt %s: %w", rec.ReceiptNumber, err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=receipt-%s.pdf", rec.ReceiptNumber))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func recordID(r *http.Request) ledger.RecordID {
	return ledger.RecordID(chi.URLParam(r, "id"))
}

// parseListQuery reads listing parameters. Malformed numbers, dates and
// amounts are reported together; sort keys are checked by ledger.Query.
func parseListQuery(v url.Values) (ledger.Query, error) {
	verr := &ledger.ValidationError{}
	q := ledger.Query{
		Filter: ledger.RecordFilter{
			Search:        v.Get("search"),
			StudentID:     v.Get("studentId"),
			CollectedBy:   v.Get("collectedBy"),
			SessionID:     v.Get("sessionId"),
			PaymentMethod: ledger.PaymentMethod(v.Get("paymentMethod")),
			FeeType:       ledger.FeeType(v.Get("feeType")),
			Branch:        ledger.Branch(v.Get("branch")),
			Status:        ledger.PaymentStatus(v.Get("status")),
		},
		SortBy:    ledger.SortKey(v.Get("sortBy")),
		SortOrder: ledger.SortOrder(v.Get("sortType")),
	}

	intParam := func(name string) int {
		s := v.Get(name)
		if s == "" {
			return 0
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			verr.Add(name, "must be a positive integer")
		}
		return n
	}
	q.Page = intParam("page")
	q.Limit = intParam("limit")

	moneyParam := func(name string) *ledger.Money {
		s := v.Get(name)
		if s == "" {
			return nil
		}
		m, err := ledger.ParseMoney(s)
		if errors.Is(err, ledger.ErrAmountOutOfRange) {
			verr.Add(name, amountTooLarge)
			return nil
		}
		if err != nil {
			verr.Add(name, "must be a decimal amount")
			return nil
		}
		return &m
	}
	q.Filter.MinFee = moneyParam("minFee")
	q.Filter.MaxFee = moneyParam("maxFee")

	dateParam := func(name string) *time.Time {
		s := v.Get(name)
		if s == "" {
			return nil
		}
		t, err := parseDate(s)
		if err != nil {
			verr.Add(name, "must be a date (2006-01-02)")
			return nil
		}
		return &t
	}
	q.Filter.FromDate = dateParam("fromDate")
	q.Filter.ToDate = dateParam("toDate")

	if s := v.Get("includeReversed"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			verr.Add("includeReversed", "must be true or false")
		}
		q.Filter.IncludeReversed = b
	}
	return q, verr.OrNil()
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Catalog.ListStudents(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]StudentDTO, len(students))
	for i, st := range students {
		dtos[i] = toStudentDTO(st)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStudent returns a single student.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := h.Catalog.GetStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*st))
}

// CreateStudent creates or replaces a student.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentDTO
	if !decodeAndValidate(w, r, &req) {
		return
	}

	st := req.toLedger()
	if err := h.Catalog.SaveStudent(r.Context(), st); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(st))
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// ListSessions returns all academic sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Catalog.ListSessions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSession creates or replaces a session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionDTO
	if !decodeAndValidate(w, r, &req) {
		return
	}

	s := req.toLedger()
	if err := h.Catalog.SaveSession(r.Context(), s); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(s))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules returns all fee schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Catalog.ListSchedules(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]ScheduleDTO, len(schedules))
	for i, s := range schedules {
		dtos[i] = toScheduleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSchedule returns one fee schedule.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.Catalog.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(*s))
}

// CreateSchedule validates a JSON price list and stores it. Saving an
// existing id bumps its version.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var sj factory.ScheduleJSON
	if err := json.NewDecoder(r.Body).Decode(&sj); err != nil {
		if field, ok := ledger.OutOfRangeField(err); ok {
			writeAmountTooLarge(w, field)
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body", err)
		return
	}

	schedule, err := h.Schedules.FromJSON(sj)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.Catalog.GetSession(ctx, schedule.SessionID); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Catalog.SaveSchedule(ctx, *schedule); err != nil {
		h.fail(w, r, err)
		return
	}

	saved, err := h.Catalog.GetSchedule(ctx, schedule.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleDTO(*saved))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAuditRuns returns recent drift sweeps.
// GET /api/audit/runs?limit=
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Service.AuditRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]AuditRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAuditRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// RunAudit sweeps the ledger now.
// POST /api/audit/run {"repair": true}
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	var req RunAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body", err)
		return
	}

	report, err := h.Service.Audit(r.Context(), req.Repair)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(*report))
}
