package receipt_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-ledger/ledger"
	"github.com/warp/fee-ledger/receipt"
)

func TestRender_ProducesPDF(t *testing.T) {
	// GIVEN: A partially paid monthly fee with a discount
	rec := ledger.FeeRecord{
		ID:             "rec-1",
		ReceiptNumber:  17,
		StudentID:      "stu-1",
		SessionID:      "2025",
		Branch:         "girls",
		FeeType:        "monthly",
		Period:         ledger.Period{Month: 3, Year: 2025},
		BaseAmount:     ledger.NewMoney(1000),
		PayableAmount:  ledger.NewMoney(900),
		ReceivedAmount: ledger.NewMoney(600),
		PaymentMethod:  "bank_transfer",
		PaymentDate:    time.Date(2025, time.April, 5, 0, 0, 0, 0, time.UTC),
		CollectedBy:    "clerk-1",
		Remarks:        "sibling discount",
	}
	rec.Recompute()

	// WHEN: The receipt is rendered
	var buf bytes.Buffer
	err := receipt.Render(&buf, receipt.Receipt{
		School:  "Green Valley School",
		Record:  rec,
		Student: &ledger.Student{ID: "stu-1", Name: "Amina Rahman", Code: "R-102", ClassID: "class-5"},
	})

	// THEN: A PDF document is written
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	assert.Greater(t, buf.Len(), 500)
}

func TestRender_WithoutStudent(t *testing.T) {
	rec := ledger.FeeRecord{ReceiptNumber: 1, StudentID: "stu-9", FeeType: "exam", Branch: "boys", PaymentMethod: "cash"}
	rec.Recompute()

	var buf bytes.Buffer
	require.NoError(t, receipt.Render(&buf, receipt.Receipt{Record: rec}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}
