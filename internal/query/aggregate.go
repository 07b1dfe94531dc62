package query

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mbetel/invochat/internal/invoice"
)

// ErrNoData is returned when the requested aggregate is undefined for the
// matching records (e.g. average over zero amounts). It degrades to a
// user-visible "not enough data" answer and never surfaces as a failure.
var ErrNoData = errors.New("not enough data")

// AggregateResult is the exact outcome of a numeric operation over the full
// record set. Incomplete counts records that matched the filter but were
// excluded because their total amount could not be parsed.
type AggregateResult struct {
	Op         Op
	Value      float64
	Count      int
	Incomplete int
	Record     int // winning record index for max/min, -1 otherwise
}

// Aggregate computes q.Op over every record matching q.Filter. It operates
// on the session's full record list, never on a retrieved subset; retrieval
// is approximate and aggregates must not be.
func Aggregate(records []invoice.Record, q Query) (AggregateResult, error) {
	res := AggregateResult{Op: q.Op, Record: -1}

	// Count without amount bounds is the one operation that doesn't need a
	// parseable total; everything else excludes amountless records.
	needsAmount := q.Op != OpCount || q.Filter.MinAmount != nil || q.Filter.MaxAmount != nil

	var amounts []float64
	var indices []int
	for i, rec := range records {
		if !matchesText(rec, q.Filter) {
			continue
		}
		if rec.TotalAmount == nil {
			if needsAmount {
				res.Incomplete++
			} else {
				res.Count++
			}
			continue
		}
		amt := *rec.TotalAmount
		if q.Filter.MinAmount != nil && amt <= *q.Filter.MinAmount {
			continue
		}
		if q.Filter.MaxAmount != nil && amt >= *q.Filter.MaxAmount {
			continue
		}
		res.Count++
		amounts = append(amounts, amt)
		indices = append(indices, i)
	}

	switch q.Op {
	case OpCount:
		res.Value = float64(res.Count)
	case OpSum:
		for _, a := range amounts {
			res.Value += a
		}
	case OpAvg:
		if len(amounts) == 0 {
			return res, ErrNoData
		}
		var sum float64
		for _, a := range amounts {
			sum += a
		}
		res.Value = sum / float64(len(amounts))
	case OpMax:
		if len(amounts) == 0 {
			return res, ErrNoData
		}
		best := 0
		for i, a := range amounts {
			if a > amounts[best] {
				best = i
			}
		}
		res.Value, res.Record = amounts[best], indices[best]
	case OpMin:
		if len(amounts) == 0 {
			return res, ErrNoData
		}
		best := 0
		for i, a := range amounts {
			if a < amounts[best] {
				best = i
			}
		}
		res.Value, res.Record = amounts[best], indices[best]
	}

	return res, nil
}

// matchesText applies the non-numeric filter criteria.
func matchesText(rec invoice.Record, f Filter) bool {
	if f.Vendor != "" && !strings.Contains(strings.ToLower(rec.VendorName), f.Vendor) {
		return false
	}
	if f.Terms != "" && !strings.EqualFold(normalizeTerms(rec.PaymentTerms), f.Terms) {
		return false
	}
	return true
}

// normalizeTerms collapses "Net30"/"NET 30"/"net  30" to "net 30".
func normalizeTerms(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Summary holds whole-session overview statistics.
type Summary struct {
	Invoices       int            `json:"invoices"`
	TotalAmount    float64        `json:"total_amount"`
	AverageAmount  float64        `json:"average_amount"`
	Incomplete     int            `json:"incomplete"`
	Vendors        []string       `json:"vendors"`
	EarliestDate   string         `json:"earliest_date,omitempty"`
	LatestDate     string         `json:"latest_date,omitempty"`
	TermsBreakdown map[string]int `json:"terms_breakdown"`
}

// Summarize computes the session overview over the full record set.
func Summarize(records []invoice.Record) Summary {
	s := Summary{
		Invoices:       len(records),
		TermsBreakdown: make(map[string]int),
	}

	vendors := make(map[string]bool)
	var withAmount int
	var earliest, latest time.Time
	for _, rec := range records {
		if rec.TotalAmount != nil {
			s.TotalAmount += *rec.TotalAmount
			withAmount++
		} else {
			s.Incomplete++
		}
		if rec.VendorName != "" {
			vendors[rec.VendorName] = true
		}
		if rec.PaymentTerms != "" {
			s.TermsBreakdown[normalizeTerms(rec.PaymentTerms)]++
		}
		if t, err := time.Parse("2006-01-02", rec.Date); err == nil {
			if earliest.IsZero() || t.Before(earliest) {
				earliest = t
			}
			if latest.IsZero() || t.After(latest) {
				latest = t
			}
		}
	}

	if withAmount > 0 {
		s.AverageAmount = s.TotalAmount / float64(withAmount)
	}
	for v := range vendors {
		s.Vendors = append(s.Vendors, v)
	}
	sort.Strings(s.Vendors)
	if !earliest.IsZero() {
		s.EarliestDate = earliest.Format("2006-01-02")
		s.LatestDate = latest.Format("2006-01-02")
	}
	return s
}
