package invoice

import (
	"encoding/csv"
	"fmt"
	"io"
)

// glHeader is the fixed column set expected by general-ledger imports.
var glHeader = []string{"Date", "Vendor", "Invoice Number", "Description", "Amount", "Account Code", "Payment Terms", "Due Date"}

// WriteGL writes records as GL-format CSV. Each line item becomes one row;
// an invoice without line items becomes a single row carrying its total.
func WriteGL(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(glHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, r := range records {
		if len(r.LineItems) == 0 {
			if err := cw.Write(glRow(r, r.InvoiceNumber+" total", r.TotalAmount)); err != nil {
				return fmt.Errorf("writing invoice %s: %w", r.label(), err)
			}
			continue
		}
		for _, item := range r.LineItems {
			if err := cw.Write(glRow(r, item.Description, item.Total)); err != nil {
				return fmt.Errorf("writing invoice %s: %w", r.label(), err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func glRow(r Record, description string, amount *float64) []string {
	amt := ""
	if amount != nil {
		amt = fmt.Sprintf("%.2f", *amount)
	}
	return []string{r.Date, r.VendorName, r.InvoiceNumber, description, amt, r.AccountCode, r.PaymentTerms, r.DueDate}
}
