/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external contract: camelCase names, money as
  decimal strings, dates as RFC 3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags (see validate.go for the
  custom money, inrange, feetype, branch, paymentmethod, paymentsource and date
  tags). The fees service validates again; tags give the client every
  field error in one response.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/schedule.go: ScheduleJSON, used as-is for schedules
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-ledger/factory"
	"github.com/warp/fee-ledger/fees"
	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// FEE RECORDS
// =============================================================================

// RegisterFeeRequest is the body of POST /api/fees/register.
type RegisterFeeRequest struct {
	StudentID      string        `json:"studentId" validate:"required"`
	SessionID      string        `json:"sessionId" validate:"required"`
	Branch         string        `json:"branch" validate:"omitempty,branch"`
	FeeType        string        `json:"feeType" validate:"required,feetype"`
	Month          *int          `json:"month" validate:"required,min=0,max=11"`
	Year           int           `json:"year" validate:"required,min=1000,max=9999"`
	BaseAmount     *ledger.Money `json:"baseAmount" validate:"omitempty,money"`
	PayableAmount  *ledger.Money `json:"payableAmount" validate:"omitempty,money"`
	Discount       *DiscountDTO  `json:"discount"`
	ReceivedAmount *ledger.Money `json:"receivedAmount" validate:"required,money"`
	PaymentMethod  string        `json:"paymentMethod" validate:"required,paymentmethod"`
	PaymentDate    string        `json:"paymentDate" validate:"omitempty,date"`
	PaymentSource  string        `json:"paymentSource" validate:"omitempty,paymentsource"`
	Remarks        string        `json:"remarks" validate:"max=500"`
}

func (req RegisterFeeRequest) toReceive() fees.ReceiveRequest {
	out := fees.ReceiveRequest{
		StudentID:      req.StudentID,
		SessionID:      req.SessionID,
		Branch:         ledger.Branch(req.Branch),
		FeeType:        ledger.FeeType(req.FeeType),
		Month:          *req.Month,
		Year:           req.Year,
		BaseAmount:     req.BaseAmount,
		PayableAmount:  req.PayableAmount,
		ReceivedAmount: *req.ReceivedAmount,
		PaymentMethod:  ledger.PaymentMethod(req.PaymentMethod),
		PaymentSource:  ledger.PaymentSource(req.PaymentSource),
		Remarks:        req.Remarks,
	}
	if req.Discount != nil {
		d := req.Discount.toLedger()
		out.Discount = &d
	}
	if req.PaymentDate != "" {
		out.PaymentDate, _ = parseDate(req.PaymentDate)
	}
	return out
}

// DiscountDTO is a flat amount or a percentage off the base amount.
type DiscountDTO struct {
	Kind  string          `json:"kind" validate:"required,oneof=flat percent"`
	Value decimal.Decimal `json:"value" validate:"inrange"`
}

func (d DiscountDTO) toLedger() ledger.Discount {
	return ledger.Discount{Kind: ledger.DiscountKind(d.Kind), Value: d.Value}
}

// EditFeeRequest is the body of PATCH /api/fees/{id}. Only these fields
// are editable; identity and amounts owed are fixed at registration.
type EditFeeRequest struct {
	ReceivedAmount  *ledger.Money `json:"receivedAmount" validate:"omitempty,money"`
	Month           *int          `json:"month" validate:"omitempty,min=0,max=11"`
	Year            *int          `json:"year" validate:"omitempty,min=1000,max=9999"`
	PaymentDate     *string       `json:"paymentDate" validate:"omitempty,date"`
	PaymentMethod   *string       `json:"paymentMethod" validate:"omitempty,paymentmethod"`
	Remarks         *string       `json:"remarks" validate:"omitempty,max=500"`
	ExpectedVersion *int64        `json:"expectedVersion" validate:"omitempty,min=1"`
}

func (req EditFeeRequest) toEdit() fees.EditRequest {
	out := fees.EditRequest{
		ReceivedAmount:  req.ReceivedAmount,
		Month:           req.Month,
		Year:            req.Year,
		Remarks:         req.Remarks,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.PaymentDate != nil {
		t, _ := parseDate(*req.PaymentDate)
		out.PaymentDate = &t
	}
	if req.PaymentMethod != nil {
		m := ledger.PaymentMethod(*req.PaymentMethod)
		out.PaymentMethod = &m
	}
	return out
}

// ReverseFeeRequest is the optional body of DELETE /api/fees/{id}. The
// reason may also be passed as a query parameter.
type ReverseFeeRequest struct {
	Reason          string `json:"reason" validate:"max=500"`
	ExpectedVersion *int64 `json:"expectedVersion" validate:"omitempty,min=1"`
}

// FeeRecordDTO represents a fee record in API responses.
type FeeRecordDTO struct {
	ID             string       `json:"id"`
	ReceiptNumber  int64        `json:"receiptNumber"`
	StudentID      string       `json:"studentId"`
	SessionID      string       `json:"sessionId"`
	Branch         string       `json:"branch"`
	FeeType        string       `json:"feeType"`
	Month          int          `json:"month"`
	Year           int          `json:"year"`
	Period         string       `json:"period"`
	BaseAmount     ledger.Money `json:"baseAmount"`
	PayableAmount  ledger.Money `json:"payableAmount"`
	ReceivedAmount ledger.Money `json:"receivedAmount"`
	DueAmount      ledger.Money `json:"dueAmount"`
	PaymentStatus  string       `json:"paymentStatus"`
	PaymentMethod  string       `json:"paymentMethod"`
	PaymentDate    string       `json:"paymentDate"`
	PaymentSource  string       `json:"paymentSource"`
	CollectedBy    string       `json:"collectedBy"`
	Remarks        string       `json:"remarks"`
	Version        int64        `json:"version"`
	CreatedAt      string       `json:"createdAt"`
	UpdatedAt      string       `json:"updatedAt"`
	ReversedAt     *string      `json:"reversedAt"`
	ReversedBy     string       `json:"reversedBy,omitempty"`
}

func toFeeRecordDTO(r ledger.FeeRecord) FeeRecordDTO {
	dto := FeeRecordDTO{
		ID:             string(r.ID),
		ReceiptNumber:  int64(r.ReceiptNumber),
		StudentID:      r.StudentID,
		SessionID:      r.SessionID,
		Branch:         string(r.Branch),
		FeeType:        string(r.FeeType),
		Month:          r.Period.Month,
		Year:           r.Period.Year,
		Period:         r.Period.String(),
		BaseAmount:     r.BaseAmount,
		PayableAmount:  r.PayableAmount,
		ReceivedAmount: r.ReceivedAmount,
		DueAmount:      r.DueAmount,
		PaymentStatus:  string(r.PaymentStatus),
		PaymentMethod:  string(r.PaymentMethod),
		PaymentDate:    formatTime(r.PaymentDate),
		PaymentSource:  string(r.PaymentSource),
		CollectedBy:    r.CollectedBy,
		Remarks:        r.Remarks,
		Version:        r.Version,
		CreatedAt:      formatTime(r.CreatedAt),
		UpdatedAt:      formatTime(r.UpdatedAt),
		ReversedBy:     r.ReversedBy,
	}
	if r.ReversedAt != nil {
		at := formatTime(*r.ReversedAt)
		dto.ReversedAt = &at
	}
	return dto
}

// ChangesDTO lists the reconciling fields an edit changed.
type ChangesDTO struct {
	ReceivedAmount *MoneyChangeDTO `json:"receivedAmount,omitempty"`
	Month          *IntChangeDTO   `json:"month,omitempty"`
	Year           *IntChangeDTO   `json:"year,omitempty"`
}

type MoneyChangeDTO struct {
	Old ledger.Money `json:"old"`
	New ledger.Money `json:"new"`
}

type IntChangeDTO struct {
	Old int `json:"old"`
	New int `json:"new"`
}

func toChangesDTO(c ledger.ChangeSet) ChangesDTO {
	var dto ChangesDTO
	if c.ReceivedAmount != nil {
		dto.ReceivedAmount = &MoneyChangeDTO{Old: c.ReceivedAmount.Old, New: c.ReceivedAmount.New}
	}
	if c.Month != nil {
		dto.Month = &IntChangeDTO{Old: c.Month.Old, New: c.Month.New}
	}
	if c.Year != nil {
		dto.Year = &IntChangeDTO{Old: c.Year.Old, New: c.Year.New}
	}
	return dto
}

// EditFeeResponse is the body of a successful PATCH.
type EditFeeResponse struct {
	Record  FeeRecordDTO    `json:"record"`
	Changes ChangesDTO      `json:"changes"`
	Entry   *TransactionDTO `json:"entry"`
}

// FeePageDTO is one page of GET /api/fees.
type FeePageDTO struct {
	Data       []FeeRecordDTO `json:"data"`
	Pagination PaginationDTO  `json:"pagination"`
}

type PaginationDTO struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	NextPage   *int  `json:"nextPage"`
	PrevPage   *int  `json:"prevPage"`
}

func toFeePageDTO(p ledger.RecordPage) FeePageDTO {
	data := make([]FeeRecordDTO, len(p.Records))
	for i, r := range p.Records {
		data[i] = toFeeRecordDTO(r)
	}
	return FeePageDTO{
		Data: data,
		Pagination: PaginationDTO{
			Page:       p.Pagination.Page,
			Limit:      p.Pagination.Limit,
			Total:      p.Pagination.Total,
			TotalPages: p.Pagination.TotalPages,
			NextPage:   p.Pagination.NextPage,
			PrevPage:   p.Pagination.PrevPage,
		},
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a transaction log entry.
type TransactionDTO struct {
	ID          string       `json:"id"`
	Sequence    int64        `json:"sequence"`
	Type        string       `json:"type"`
	ReferenceID string       `json:"referenceId"`
	Amount      ledger.Money `json:"amount"`
	Description string       `json:"description"`
	Branch      string       `json:"branch"`
	PerformedBy string       `json:"performedBy"`
	CreatedAt   string       `json:"createdAt"`
}

func toTransactionDTO(e ledger.TransactionLogEntry) TransactionDTO {
	return TransactionDTO{
		ID:          string(e.ID),
		Sequence:    e.Sequence,
		Type:        string(e.Type),
		ReferenceID: string(e.ReferenceID),
		Amount:      e.Amount,
		Description: e.Description,
		Branch:      string(e.Branch),
		PerformedBy: e.PerformedBy,
		CreatedAt:   formatTime(e.CreatedAt),
	}
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// StudentDTO is both the request and the response shape for students.
type StudentDTO struct {
	ID            string `json:"id" validate:"required"`
	Code          string `json:"code"`
	Name          string `json:"name" validate:"required"`
	GuardianPhone string `json:"guardianPhone"`
	ClassID       string `json:"classId"`
	Branch        string `json:"branch" validate:"required,branch"`
	AdmissionDate string `json:"admissionDate" validate:"omitempty,date"`
	Active        *bool  `json:"active"`
}

func (d StudentDTO) toLedger() ledger.Student {
	st := ledger.Student{
		ID:            d.ID,
		Code:          d.Code,
		Name:          d.Name,
		GuardianPhone: d.GuardianPhone,
		ClassID:       d.ClassID,
		Branch:        ledger.Branch(d.Branch),
		Active:        d.Active == nil || *d.Active,
	}
	if d.AdmissionDate != "" {
		st.AdmissionDate, _ = parseDate(d.AdmissionDate)
	}
	return st
}

func toStudentDTO(st ledger.Student) StudentDTO {
	active := st.Active
	dto := StudentDTO{
		ID:            st.ID,
		Code:          st.Code,
		Name:          st.Name,
		GuardianPhone: st.GuardianPhone,
		ClassID:       st.ClassID,
		Branch:        string(st.Branch),
		Active:        &active,
	}
	if !st.AdmissionDate.IsZero() {
		dto.AdmissionDate = st.AdmissionDate.Format("2006-01-02")
	}
	return dto
}

// SessionDTO is both the request and the response shape for sessions.
type SessionDTO struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"startDate" validate:"omitempty,date"`
	EndDate   string `json:"endDate" validate:"omitempty,date"`
	Active    bool   `json:"active"`
}

func (d SessionDTO) toLedger() ledger.Session {
	s := ledger.Session{ID: d.ID, Name: d.Name, Active: d.Active}
	if d.StartDate != "" {
		s.StartDate, _ = parseDate(d.StartDate)
	}
	if d.EndDate != "" {
		s.EndDate, _ = parseDate(d.EndDate)
	}
	return s
}

func toSessionDTO(s ledger.Session) SessionDTO {
	dto := SessionDTO{ID: s.ID, Name: s.Name, Active: s.Active}
	if !s.StartDate.IsZero() {
		dto.StartDate = s.StartDate.Format("2006-01-02")
	}
	if !s.EndDate.IsZero() {
		dto.EndDate = s.EndDate.Format("2006-01-02")
	}
	return dto
}

// ScheduleDTO represents a fee schedule in API responses.
type ScheduleDTO struct {
	factory.ScheduleJSON
	Version   int    `json:"version"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func toScheduleDTO(s ledger.FeeSchedule) ScheduleDTO {
	return ScheduleDTO{
		ScheduleJSON: factory.ToJSON(s),
		Version:      s.Version,
		UpdatedAt:    formatTime(s.UpdatedAt),
	}
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditRunDTO represents one drift sweep.
type AuditRunDTO struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Checked     int     `json:"checked"`
	Drifted     int     `json:"drifted"`
	Repaired    int     `json:"repaired"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"startedAt"`
	CompletedAt *string `json:"completedAt"`
}

func toAuditRunDTO(run ledger.AuditRun) AuditRunDTO {
	dto := AuditRunDTO{
		ID:        run.ID,
		Status:    run.Status,
		Checked:   run.Checked,
		Drifted:   run.Drifted,
		Repaired:  run.Repaired,
		Error:     run.Error,
		StartedAt: formatTime(run.StartedAt),
	}
	if run.CompletedAt != nil {
		at := formatTime(*run.CompletedAt)
		dto.CompletedAt = &at
	}
	return dto
}

// DriftDTO is a record whose log does not sum to its logged balance.
type DriftDTO struct {
	RecordID string       `json:"recordId"`
	Branch   string       `json:"branch"`
	Expected ledger.Money `json:"expected"`
	Logged   ledger.Money `json:"logged"`
	Reversed bool         `json:"reversed"`
}

// AuditReportDTO is the body of POST /api/audit/run.
type AuditReportDTO struct {
	Run    AuditRunDTO `json:"run"`
	Drifts []DriftDTO  `json:"drifts"`
}

func toAuditReportDTO(r fees.AuditReport) AuditReportDTO {
	drifts := make([]DriftDTO, len(r.Drifts))
	for i, d := range r.Drifts {
		drifts[i] = DriftDTO{
			RecordID: string(d.RecordID),
			Branch:   string(d.Branch),
			Expected: d.Expected,
			Logged:   d.Logged,
			Reversed: d.Reversed,
		}
	}
	return AuditReportDTO{Run: toAuditRunDTO(r.Run), Drifts: drifts}
}

// RunAuditRequest is the optional body of POST /api/audit/run.
type RunAuditRequest struct {
	Repair bool `json:"repair"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
