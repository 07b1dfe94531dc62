package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mbetel/invochat/internal/invoice"
)

// renderAggregate turns an exact aggregate result into answer text.
func renderAggregate(records []invoice.Record, q Query, res AggregateResult) string {
	scope := "across all invoices"
	if !q.Filter.Empty() {
		scope = "across the matching invoices"
	}

	var text string
	switch q.Op {
	case OpSum:
		text = fmt.Sprintf("The total amount %s is %s (%d invoice%s).", scope, money(res.Value), res.Count, plural(res.Count))
	case OpCount:
		if q.Filter.Empty() {
			text = fmt.Sprintf("You have %d invoice%s in this session.", res.Count, plural(res.Count))
		} else {
			text = fmt.Sprintf("%d invoice%s match%s.", res.Count, plural(res.Count), matchSuffix(res.Count))
		}
	case OpAvg:
		text = fmt.Sprintf("The average invoice amount %s is %s (%d invoice%s).", scope, money(res.Value), res.Count, plural(res.Count))
	case OpMax:
		text = fmt.Sprintf("The highest invoice amount is %s%s.", money(res.Value), vendorSuffix(records, res.Record))
	case OpMin:
		text = fmt.Sprintf("The lowest invoice amount is %s%s.", money(res.Value), vendorSuffix(records, res.Record))
	}

	if res.Incomplete > 0 {
		text += fmt.Sprintf(" %d invoice%s excluded due to missing amounts (incomplete data).", res.Incomplete, plural(res.Incomplete))
	}
	return text
}

// renderNoData is the degraded answer for undefined aggregates.
func renderNoData(q Query) string {
	if q.Filter.Empty() {
		return "Not enough data to compute that: no invoices with parseable amounts."
	}
	return "Not enough data to compute that: no invoices match the requested filter."
}

// renderSummary builds the whole-session overview.
func renderSummary(s Summary) string {
	var b strings.Builder
	b.WriteString("Invoice summary:\n")
	fmt.Fprintf(&b, "- Invoices: %d\n", s.Invoices)
	fmt.Fprintf(&b, "- Total amount: %s\n", money(s.TotalAmount))
	fmt.Fprintf(&b, "- Average per invoice: %s\n", money(s.AverageAmount))
	if len(s.Vendors) > 0 {
		fmt.Fprintf(&b, "- Vendors: %s\n", strings.Join(s.Vendors, ", "))
	}
	if s.EarliestDate != "" {
		fmt.Fprintf(&b, "- Date range: %s to %s\n", s.EarliestDate, s.LatestDate)
	}
	if len(s.TermsBreakdown) > 0 {
		fmt.Fprintf(&b, "- Payment terms: %s\n", formatTerms(s.TermsBreakdown))
	}
	if s.Incomplete > 0 {
		fmt.Fprintf(&b, "- Incomplete data: %d invoice%s without parseable amounts\n", s.Incomplete, plural(s.Incomplete))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderLookup lists the matched invoices, best match first.
func renderLookup(records []invoice.Record, indices []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching invoice%s:\n", len(indices), plural(len(indices)))
	for _, i := range indices {
		rec := records[i]
		line := "- " + describe(rec)
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// describe renders one invoice as a single answer line.
func describe(rec invoice.Record) string {
	parts := []string{}
	if rec.VendorName != "" {
		parts = append(parts, rec.VendorName)
	}
	if rec.InvoiceNumber != "" {
		parts = append(parts, "invoice "+rec.InvoiceNumber)
	}
	if rec.TotalAmount != nil {
		parts = append(parts, money(*rec.TotalAmount))
	} else {
		parts = append(parts, "amount unavailable")
	}
	if rec.Date != "" {
		parts = append(parts, "dated "+rec.Date)
	}
	if rec.PaymentTerms != "" {
		parts = append(parts, rec.PaymentTerms)
	}
	return strings.Join(parts, ", ")
}

func vendorSuffix(records []invoice.Record, idx int) string {
	if idx < 0 || idx >= len(records) || records[idx].VendorName == "" {
		return ""
	}
	return " from " + records[idx].VendorName
}

func formatTerms(breakdown map[string]int) string {
	keys := make([]string, 0, len(breakdown))
	for k := range breakdown {
		keys = append(keys, k)
	}
	// Deterministic ordering for stable answers.
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s (%d)", k, breakdown[k])
	}
	return strings.Join(parts, ", ")
}

// money formats an amount as $1,234.56.
func money(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%.2f", v)
	dot := strings.IndexByte(s, '.')
	intPart, frac := s[:dot], s[dot:]

	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := "$" + b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func matchSuffix(n int) string {
	if n == 1 {
		return "es"
	}
	return ""
}
