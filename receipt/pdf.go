// Package receipt renders printable fee receipts.
//
// Receipts are A6 portrait (105mm x 148mm) PDFs built with go-pdf/fpdf and
// the core Helvetica font, so no font files need to ship with the binary.
package receipt

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/warp/fee-ledger/ledger"
)

// Receipt is everything printed on one receipt.
type Receipt struct {
	School  string
	Record  ledger.FeeRecord
	Student *ledger.Student // nil prints the student id only
}

const (
	pageW  = 105.0
	pageH  = 148.0
	margin = 6.0
)

// Render writes the receipt as a PDF to w.
func Render(w io.Writer, r Receipt) error {
	rec := r.Record
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: pageW, Ht: pageH},
	})
	pdf.SetTitle("Receipt "+rec.ReceiptNumber.String(), false)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()

	contentW := pageW - 2*margin
	labelW := contentW * 0.42
	valueW := contentW - labelW

	// Header
	school := r.School
	if school == "" {
		school = "School Fee Receipt"
	}
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(contentW, 7, school, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(contentW, 5, "Money receipt", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(labelW, 5, "Receipt No. "+rec.ReceiptNumber.String(), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(valueW, 5, rec.PaymentDate.Format("02 Jan 2006"), "", 1, "R", false, 0, "")
	separator(pdf)

	row := func(label, value string) {
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(labelW, 5, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "B", 8)
		pdf.CellFormat(valueW, 5, value, "", 1, "L", false, 0, "")
	}

	// Student
	if st := r.Student; st != nil {
		row("Student", truncate(st.Name, 34))
		if st.Code != "" {
			row("Student code", st.Code)
		}
		if st.ClassID != "" {
			row("Class", st.ClassID)
		}
	} else {
		row("Student", rec.StudentID)
	}
	row("Branch", titleCase(string(rec.Branch)))
	row("Session", rec.SessionID)
	separator(pdf)

	// Charge
	feeLabel := string(rec.FeeType)
	if info, ok := ledger.LookupFeeType(string(rec.FeeType)); ok && info.Label != "" {
		feeLabel = info.Label
	}
	row("Fee", feeLabel)
	row("Period", rec.Period.Label())
	row("Payment method", titleCase(strings.ReplaceAll(string(rec.PaymentMethod), "_", " ")))
	separator(pdf)

	// Amounts
	amount := func(label string, m ledger.Money, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 8)
		pdf.CellFormat(labelW, 5, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(valueW, 5, m.Decimal().StringFixed(2), "", 1, "R", false, 0, "")
	}
	amount("Base amount", rec.BaseAmount, false)
	if discount := rec.BaseAmount.Sub(rec.PayableAmount); discount.IsPositive() {
		amount("Discount", discount.Neg(), false)
	}
	amount("Payable", rec.PayableAmount, true)
	amount("Received", rec.ReceivedAmount, true)
	amount("Due", rec.DueAmount, false)

	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 10)
	status := strings.ToUpper(string(rec.PaymentStatus))
	if rec.IsReversed() {
		status = "REVERSED"
	}
	pdf.CellFormat(contentW, 7, status, "1", 1, "C", false, 0, "")

	if rec.Remarks != "" {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "I", 7)
		pdf.MultiCell(contentW, 4, "Remarks: "+rec.Remarks, "", "L", false)
	}

	// Footer
	pdf.SetY(pageH - margin - 8)
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(contentW, 4, "Collected by "+rec.CollectedBy, "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 4, "Computer generated receipt. No signature required.", "", 1, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("receipt: render pdf: %w", err)
	}
	return nil
}

func separator(pdf *fpdf.Fpdf) {
	pdf.Ln(1)
	y := pdf.GetY()
	pdf.Line(margin, y, pageW-margin, y)
	pdf.Ln(2)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
