package invoice

import (
	"fmt"
	"math"
	"strings"
)

// amountTolerance is the allowed absolute difference between the sum of line
// item totals and the invoice total before the record is flagged.
const amountTolerance = 0.01

// LineItem is a single billed entry on an invoice. Numeric fields are
// pointers because extraction may fail to parse any of them; nil means
// "not available", not zero.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Total       *float64 `json:"total,omitempty"`
}

// Record is one extracted invoice as produced by the extraction service.
// Records are immutable once handed to a session; all fields are plain data.
type Record struct {
	VendorName    string     `json:"vendor_name"`
	InvoiceNumber string     `json:"invoice_number"`
	Date          string     `json:"date,omitempty"` // YYYY-MM-DD when parseable
	TotalAmount   *float64   `json:"total_amount,omitempty"`
	LineItems     []LineItem `json:"line_items,omitempty"`
	PaymentTerms  string     `json:"payment_terms,omitempty"`
	DueDate       string     `json:"due_date,omitempty"`
	AccountCode   string     `json:"account_code,omitempty"`
	RawText       string     `json:"raw_text,omitempty"`
	Confidence    float64    `json:"confidence,omitempty"`
}

// Validate reports data-quality issues on the record. Issues are warnings
// for the caller to surface; a record with issues is still usable.
func (r Record) Validate() []string {
	var issues []string

	if r.TotalAmount != nil && *r.TotalAmount < 0 {
		issues = append(issues, fmt.Sprintf("invoice %s: negative total amount %.2f", r.label(), *r.TotalAmount))
	}

	// Line item totals should sum to the invoice total, but only when every
	// amount involved was actually parsed.
	if r.TotalAmount != nil && len(r.LineItems) > 0 {
		var sum float64
		complete := true
		for _, item := range r.LineItems {
			if item.Total == nil {
				complete = false
				break
			}
			sum += *item.Total
		}
		if complete && math.Abs(sum-*r.TotalAmount) > amountTolerance {
			issues = append(issues, fmt.Sprintf("invoice %s: line items sum to %.2f, total is %.2f", r.label(), sum, *r.TotalAmount))
		}
	}

	return issues
}

func (r Record) label() string {
	if r.InvoiceNumber != "" {
		return r.InvoiceNumber
	}
	if r.VendorName != "" {
		return r.VendorName
	}
	return "(unknown)"
}

// CanonicalText renders the record as a flat searchable string for embedding.
// The rendering is stable: the same record always produces the same text.
func (r Record) CanonicalText() string {
	var parts []string

	if r.VendorName != "" {
		parts = append(parts, "Vendor "+r.VendorName)
	}
	if r.InvoiceNumber != "" {
		parts = append(parts, "Invoice "+r.InvoiceNumber)
	}
	if r.TotalAmount != nil {
		parts = append(parts, fmt.Sprintf("Amount %.2f dollars", *r.TotalAmount))
	}
	if r.Date != "" {
		parts = append(parts, "Date "+r.Date)
	}
	if r.PaymentTerms != "" {
		parts = append(parts, "Terms "+r.PaymentTerms)
	}
	if r.DueDate != "" {
		parts = append(parts, "Due "+r.DueDate)
	}
	for _, item := range r.LineItems {
		if item.Description != "" {
			parts = append(parts, "Item "+item.Description)
		}
	}
	if r.RawText != "" {
		clean := strings.NewReplacer("\n", " ", "\r", " ").Replace(r.RawText)
		if len(clean) > 1000 {
			clean = clean[:1000]
		}
		parts = append(parts, clean)
	}

	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		text = "Invoice " + r.label()
	}
	return text
}

// LineItemText renders one line item for indexing as a standalone fact,
// prefixed with enough invoice context to be meaningful on its own.
func (r Record) LineItemText(i int) string {
	if i < 0 || i >= len(r.LineItems) {
		return ""
	}
	item := r.LineItems[i]

	var parts []string
	if r.VendorName != "" {
		parts = append(parts, "Vendor "+r.VendorName)
	}
	if r.InvoiceNumber != "" {
		parts = append(parts, "Invoice "+r.InvoiceNumber)
	}
	if item.Description != "" {
		parts = append(parts, "Item "+item.Description)
	}
	if item.Quantity != nil {
		parts = append(parts, fmt.Sprintf("Quantity %g", *item.Quantity))
	}
	if item.UnitPrice != nil {
		parts = append(parts, fmt.Sprintf("Unit price %.2f", *item.UnitPrice))
	}
	if item.Total != nil {
		parts = append(parts, fmt.Sprintf("Total %.2f", *item.Total))
	}
	return strings.Join(parts, " ")
}

// Amount is a convenience helper for constructing test and fixture records.
func Amount(v float64) *float64 { return &v }
