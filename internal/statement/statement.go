// Package statement renders an account and its transactions as a
// downloadable PDF or XLSX statement.
package statement

import (
	"fmt"
	"io"
	"strings"
	"time"

	"finance-tracker/internal/ledger"
	"finance-tracker/internal/models"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Statement is the data rendered into a document.
type Statement struct {
	Account      models.Account
	Transactions []models.AccountTransaction
	GeneratedAt  time.Time
}

// Totals sums credit and debit amounts over every row.
func (s Statement) Totals() (credits, debits decimal.Decimal) {
	credits, debits = decimal.Zero, decimal.Zero
	for _, t := range s.Transactions {
		if t.Type == models.TransactionCredit {
			credits = credits.Add(t.Amount)
		} else {
			debits = debits.Add(t.Amount)
		}
	}
	return credits, debits
}

// Filename returns a download name such as "statement-checking-20260101.pdf".
func (s Statement) Filename(ext string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, s.Account.Name)
	return fmt.Sprintf("statement-%s-%s.%s", name, s.GeneratedAt.Format("20060102"), ext)
}

var columns = []string{"DATE", "TYPE", "NOTE", "AMOUNT", "BALANCE", "STATUS"}

// WritePDF renders s as an A4 PDF.
func WritePDF(w io.Writer, s Statement) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(14, 14, 14)
	pdf.AddPage()

	pdf.SetTextColor(20, 20, 20)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, tr("Account statement: "+s.Account.Name))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.Cell(0, 6, fmt.Sprintf("Type: %s   Currency: %s   Status: %s", s.Account.Type, s.Account.Currency, s.Account.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, "Generated: "+s.GeneratedAt.Format(time.RFC3339))
	pdf.Ln(10)

	credits, debits := s.Totals()
	pdf.SetDrawColor(200, 200, 200)
	pdf.SetFillColor(248, 248, 248)
	pdf.SetTextColor(20, 20, 20)
	pdf.SetFont("Helvetica", "B", 11)
	sumW := []float64{60, 60, 62}
	pdf.CellFormat(sumW[0], 10, "Credits", "1", 0, "C", true, 0, "")
	pdf.CellFormat(sumW[1], 10, "Debits", "1", 0, "C", true, 0, "")
	pdf.CellFormat(sumW[2], 10, "Balance", "1", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(sumW[0], 10, credits.StringFixed(2), "1", 0, "C", false, 0, "")
	pdf.CellFormat(sumW[1], 10, debits.StringFixed(2), "1", 0, "C", false, 0, "")
	pdf.CellFormat(sumW[2], 10, s.Account.CurrentBalance.StringFixed(2), "1", 1, "C", false, 0, "")
	pdf.Ln(6)

	colW := []float64{26, 18, 70, 24, 24, 20}
	header := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(245, 245, 245)
		for i, c := range columns {
			ln := 0
			if i == len(columns)-1 {
				ln = 1
			}
			pdf.CellFormat(colW[i], 8, c, "1", ln, "C", true, 0, "")
		}
		pdf.SetFont("Helvetica", "", 8)
	}
	header()

	for _, t := range s.Transactions {
		if pdf.GetY() > 270 {
			pdf.AddPage()
			header()
		}
		pdf.CellFormat(colW[0], 7, t.CreatedAt.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(colW[1], 7, string(t.Type), "1", 0, "C", false, 0, "")
		pdf.CellFormat(colW[2], 7, tr(trimTo(t.Note, 48)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colW[3], 7, signed(t).StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colW[4], 7, t.CurrentBalance.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colW[5], 7, string(t.Status), "1", 1, "C", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

const sheetName = "Statement"

// WriteXLSX renders s as a single-sheet workbook.
func WriteXLSX(w io.Writer, s Statement) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	set := func(col, row int, value any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheetName, cell, value)
	}

	meta := [][2]any{
		{"Account", s.Account.Name},
		{"Currency", s.Account.Currency},
		{"Balance", s.Account.CurrentBalance.InexactFloat64()},
		{"Generated", s.GeneratedAt.Format(time.RFC3339)},
	}
	for i, m := range meta {
		if err := set(1, i+1, m[0]); err != nil {
			return err
		}
		if err := set(2, i+1, m[1]); err != nil {
			return err
		}
	}

	headerRow := len(meta) + 2
	for i, c := range columns {
		if err := set(i+1, headerRow, c); err != nil {
			return err
		}
	}

	for i, t := range s.Transactions {
		row := headerRow + 1 + i
		values := []any{
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			string(t.Type),
			t.Note,
			signed(t).InexactFloat64(),
			t.CurrentBalance.InexactFloat64(),
			string(t.Status),
		}
		for col, v := range values {
			if err := set(col+1, row, v); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("render xlsx: %w", err)
	}
	return nil
}

func signed(t models.AccountTransaction) decimal.Decimal {
	return ledger.SignedAmount(t.Type, t.Amount)
}

func trimTo(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
