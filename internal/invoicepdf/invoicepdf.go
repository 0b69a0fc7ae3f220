// Package invoicepdf renders subscription invoices as A4 PDFs.
package invoicepdf

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"smartduka/backend/internal/domain"
)

func Render(inv domain.Invoice, shop domain.Shop) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(inv.Number, false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, "SmartDuka", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, "Subscription invoice", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(95, 7, "Billed to", "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, "Invoice "+inv.Number, "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(95, 6, shop.Name, "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Issued: "+inv.CreatedAt.Format("2006-01-02"), "", 1, "R", false, 0, "")
	pdf.CellFormat(95, 6, shop.Email, "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Due: "+inv.DueDate.Format("2006-01-02"), "", 1, "R", false, 0, "")
	pdf.CellFormat(95, 6, shop.Phone, "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Status: "+inv.Status, "", 1, "R", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Period: %s to %s", inv.PeriodStart.Format("2006-01-02"), inv.PeriodEnd.Format("2006-01-02")), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(100, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 8, "Qty", "1", 0, "C", true, 0, "")
	pdf.CellFormat(35, 8, "Unit price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 8, "Total", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 11)
	for _, line := range inv.Lines {
		pdf.CellFormat(100, 8, line.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 8, fmt.Sprintf("%d", line.Qty), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 8, KES(line.UnitPriceCents), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, KES(line.TotalCents), "1", 1, "R", false, 0, "")
	}

	totals := []struct {
		label string
		cents int64
	}{
		{"Subtotal", inv.SubtotalCents},
		{"VAT (16%)", inv.TaxCents},
		{"Total due", inv.TotalCents},
	}
	for i, row := range totals {
		if i == len(totals)-1 {
			pdf.SetFont("Arial", "B", 11)
		}
		pdf.CellFormat(155, 8, row.label, "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, KES(row.cents), "1", 1, "R", false, 0, "")
	}

	if inv.PaymentReference != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, "Payment reference: "+inv.PaymentReference, "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	return buf.Bytes(), nil
}

// KES formats cents as "KES 1,234.50".
func KES(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := fmt.Sprintf("%d", cents/100)
	var grouped []byte
	for i, digit := range []byte(whole) {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped = append(grouped, ',')
		}
		grouped = append(grouped, digit)
	}
	return fmt.Sprintf("KES %s%s.%02d", sign, grouped, cents%100)
}
