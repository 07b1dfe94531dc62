package query

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind separates the two answer paths. Aggregates are computed exactly over
// the full record set; lookups are answered from retrieved evidence.
type Kind int

const (
	KindLookup Kind = iota
	KindAggregate
)

// Op is the numeric operation an aggregate question asks for.
type Op int

const (
	OpSum Op = iota
	OpCount
	OpAvg
	OpMax
	OpMin
	OpSummary // whole-session overview: totals, vendors, terms breakdown
)

// Filter restricts which records an answer considers. Amount bounds are
// exclusive, matching phrasing like "over $1000".
type Filter struct {
	Vendor    string
	Terms     string
	MinAmount *float64
	MaxAmount *float64
}

// Empty reports whether the filter restricts nothing.
func (f Filter) Empty() bool {
	return f.Vendor == "" && f.Terms == "" && f.MinAmount == nil && f.MaxAmount == nil
}

// Query is the classified form of a question.
type Query struct {
	Kind   Kind
	Op     Op
	Filter Filter
}

var (
	minAmountRe = regexp.MustCompile(`(?:over|above|more than|greater than|exceeding)\s+\$?([\d,]+(?:\.\d+)?)`)
	maxAmountRe = regexp.MustCompile(`(?:under|below|less than|cheaper than)\s+\$?([\d,]+(?:\.\d+)?)`)
	termsRe     = regexp.MustCompile(`net\s*(\d+)`)
	vendorRe    = regexp.MustCompile(`(?:from|by|for)\s+(?:vendor\s+)?([^?.!,]+)`)

	// vendorTrimRe cuts a vendor capture at the start of a trailing comparator
	// or terms clause, so "acme over $500" keeps only "acme".
	vendorTrimRe = regexp.MustCompile(`\s+(?:over|above|under|below|more|less|greater|cheaper|exceeding|with|net)\b.*$`)
)

// vendorStopwords reject captures that are generic phrasing, not a vendor
// name ("total for all invoices", "invoices from this month").
var vendorStopwords = []string{"all ", "the ", "each ", "every ", "any ", "this ", "that ", "these ", "those ", "my ", "invoice", "vendor"}

// Classify maps a question to a Query with pure keyword and comparator rules;
// no model is involved, so the same question always classifies the same way.
// Anything not clearly an aggregate defaults to a lookup.
func Classify(question string) Query {
	lower := strings.ToLower(question)
	q := Query{Kind: KindLookup, Filter: extractFilter(lower)}

	switch {
	case strings.Contains(lower, "summary") || strings.Contains(lower, "overview"):
		q.Kind, q.Op = KindAggregate, OpSummary
	case strings.Contains(lower, "how many") || strings.Contains(lower, "count") || strings.Contains(lower, "number of"):
		q.Kind, q.Op = KindAggregate, OpCount
	case strings.Contains(lower, "average") || strings.Contains(lower, "avg") || strings.Contains(lower, "mean"):
		q.Kind, q.Op = KindAggregate, OpAvg
	case containsAny(lower, "highest", "largest", "biggest", "maximum", "most expensive", "the most"):
		q.Kind, q.Op = KindAggregate, OpMax
	case containsAny(lower, "lowest", "smallest", "cheapest", "minimum", "least expensive", "the least"):
		q.Kind, q.Op = KindAggregate, OpMin
	case strings.Contains(lower, "sum"),
		strings.Contains(lower, "total") && containsAny(lower, "amount", "cost", "spend", "spent", "owed", "billed", "charged", "invoices"):
		q.Kind, q.Op = KindAggregate, OpSum
	}

	return q
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractFilter pulls amount comparators, payment terms, and vendor mentions
// out of the lowercased question.
func extractFilter(lower string) Filter {
	var f Filter

	if m := minAmountRe.FindStringSubmatch(lower); m != nil {
		if v, err := parseAmount(m[1]); err == nil {
			f.MinAmount = &v
		}
	}
	if m := maxAmountRe.FindStringSubmatch(lower); m != nil {
		if v, err := parseAmount(m[1]); err == nil {
			f.MaxAmount = &v
		}
	}
	if m := termsRe.FindStringSubmatch(lower); m != nil {
		f.Terms = "net " + m[1]
	}
	if m := vendorRe.FindStringSubmatch(lower); m != nil {
		candidate := strings.TrimSpace(vendorTrimRe.ReplaceAllString(m[1], ""))
		// A capture that is really a payment-terms phrase is not a vendor.
		if candidate != "" && !isGenericPhrase(candidate) && !termsRe.MatchString(candidate) {
			f.Vendor = candidate
		}
	}

	return f
}

func isGenericPhrase(s string) bool {
	for _, stop := range vendorStopwords {
		if strings.HasPrefix(s, stop) || s == strings.TrimSpace(stop) {
			return true
		}
	}
	return false
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
