package bankd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// Statement renders a PDF statement for the account: header with owner
// and IBAN, one row per entry in date order, and the closing balance.
func (s *serviceImpl) Statement(ctx context.Context, w io.Writer, iban string) error {
	acct, err := s.repo.AccountByIBAN(ctx, iban)
	if err != nil {
		return err
	}
	entries, err := s.repo.Entries(ctx, iban, nil, nil)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntryDate.Before(entries[j].EntryDate)
	})

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Account statement "+iban, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, s.bank.Name)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s (%s)", acct.IBAN, acct.Type))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Owner: %s %s", acct.Owner.Firstname, acct.Owner.Lastname))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(35, 7, "Date", "1", 0, "", false, 0, "")
	pdf.CellFormat(25, 7, "Type", "1", 0, "", false, 0, "")
	pdf.CellFormat(80, 7, "Description", "1", 0, "", false, 0, "")
	pdf.CellFormat(30, 7, "Amount", "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	running := decimal.Zero
	for _, e := range entries {
		amount := e.Amount
		if e.Type == EntryTypeWithdraw {
			amount = amount.Neg()
		}
		running = running.Add(amount)

		pdf.CellFormat(35, 6, e.EntryDate.Format("2006-01-02 15:04"), "1", 0, "", false, 0, "")
		pdf.CellFormat(25, 6, string(e.Type), "1", 0, "", false, 0, "")
		pdf.CellFormat(80, 6, e.Description, "1", 0, "", false, 0, "")
		pdf.CellFormat(30, 6, amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 7, "Balance: "+acct.Balance.StringFixed(2))

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("rendering statement for %s: %w", iban, err)
	}
	return nil
}
