/**
 * @description
 * This package renders payment receipts as single-page A4 PDF documents.
 *
 * @dependencies
 * - github.com/go-pdf/fpdf: PDF layout and output.
 */
package receipt

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

const DefaultOrganisation = "Alumni Aid - Uganda Christian University"

// Receipt is the data printed on a payment receipt.
type Receipt struct {
	PaymentID  int64
	LoanID     int64
	Amount     int64
	Currency   string
	PaidAt     time.Time
	PayerName  string
	PayerEmail string
}

// Renderer writes receipts using a fixed layout.
type Renderer struct {
	Organisation string
	// Compress toggles stream compression; disabled output keeps text searchable.
	Compress bool
}

func NewRenderer(organisation string) *Renderer {
	if strings.TrimSpace(organisation) == "" {
		organisation = DefaultOrganisation
	}
	return &Renderer{Organisation: organisation, Compress: true}
}

// Filename is the attachment name used for a payment's receipt.
func Filename(paymentID int64) string {
	return fmt.Sprintf("Receipt-Payment-%d.pdf", paymentID)
}

// ReceiptID is the human-facing identifier printed on the receipt.
func ReceiptID(paymentID int64) string {
	return fmt.Sprintf("PAY-%d", paymentID)
}

// Render writes the PDF for r to w.
func (g *Renderer) Render(w io.Writer, r Receipt) error {
	currency := r.Currency
	if currency == "" {
		currency = "UGX"
	}
	payer := strings.TrimSpace(r.PayerName)
	if payer == "" {
		payer = "Unknown payer"
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(g.Compress)
	// Core fonts are cp1252; user-supplied text is UTF-8.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Payment Receipt "+ReceiptID(r.PaymentID), false)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 12, "Payment Receipt", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, tr(g.Organisation), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, "Receipt ID: "+ReceiptID(r.PaymentID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, "Payment Date: "+r.PaidAt.Format("2 January 2006, 15:04"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, "Paid By:", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, tr(payer), "", 1, "L", false, 0, "")
	if email := strings.TrimSpace(r.PayerEmail); email != "" {
		pdf.CellFormat(0, 6, tr(email), "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)

	pdf.SetFillColor(235, 235, 235)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(120, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 8, "Amount", "1", 1, "R", true, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(120, 8, fmt.Sprintf("Payment for Loan #%d", r.LoanID), "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 8, currency+" "+FormatAmount(r.Amount), "1", 1, "R", false, 0, "")

	pdf.Ln(4)
	y := pdf.GetY()
	pdf.Line(110, y, 190, y)
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(120, 8, "Total Paid:", "", 0, "R", false, 0, "")
	pdf.CellFormat(50, 8, currency+" "+FormatAmount(r.Amount), "", 1, "R", false, 0, "")

	pdf.Ln(20)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.CellFormat(0, 6, "Thank you for your payment.", "", 1, "C", false, 0, "")

	if pdf.Err() {
		return fmt.Errorf("failed to lay out receipt: %w", pdf.Error())
	}
	return pdf.Output(w)
}

// FormatAmount groups whole units in thousands, e.g. 1250000 -> "1,250,000".
func FormatAmount(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + b.String()
}
