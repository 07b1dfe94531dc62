package query

import (
	"reflect"
	"testing"
)

func TestClassify_Aggregates(t *testing.T) {
	tests := []struct {
		question string
		op       Op
	}{
		{"What is the total amount for all invoices?", OpSum},
		{"sum of everything we owe", OpSum},
		{"total spend this batch", OpSum},
		{"How many invoices do I have?", OpCount},
		{"count of invoices over $500", OpCount},
		{"number of invoices from acme", OpCount},
		{"What's the average invoice amount?", OpAvg},
		{"mean amount per invoice", OpAvg},
		{"Which invoice is the highest?", OpMax},
		{"largest bill in this batch", OpMax},
		{"most expensive invoice", OpMax},
		{"What's the lowest invoice?", OpMin},
		{"cheapest one", OpMin},
		{"Give me a summary of the invoices", OpSummary},
		{"overview please", OpSummary},
	}

	for _, tt := range tests {
		q := Classify(tt.question)
		if q.Kind != KindAggregate {
			t.Errorf("Classify(%q).Kind = lookup, want aggregate", tt.question)
			continue
		}
		if q.Op != tt.op {
			t.Errorf("Classify(%q).Op = %v, want %v", tt.question, q.Op, tt.op)
		}
	}
}

func TestClassify_Lookups(t *testing.T) {
	questions := []string{
		"Show me the invoice from Acme Corp",
		"Which invoices mention consulting services?",
		"invoices due next week",
		"do we have anything from globex?",
	}

	for _, question := range questions {
		if q := Classify(question); q.Kind != KindLookup {
			t.Errorf("Classify(%q).Kind = aggregate, want lookup", question)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	question := "What is the total amount for invoices over $1,000 from acme?"
	a, b := Classify(question), Classify(question)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("classification not deterministic: %+v vs %+v", a, b)
	}
}

func TestExtractFilter_AmountBounds(t *testing.T) {
	q := Classify("how many invoices over $1,500.50?")
	if q.Filter.MinAmount == nil || *q.Filter.MinAmount != 1500.50 {
		t.Errorf("MinAmount = %v, want 1500.50", q.Filter.MinAmount)
	}

	q = Classify("invoices under 200")
	if q.Filter.MaxAmount == nil || *q.Filter.MaxAmount != 200 {
		t.Errorf("MaxAmount = %v, want 200", q.Filter.MaxAmount)
	}
}

func TestExtractFilter_Terms(t *testing.T) {
	for _, question := range []string{
		"how many net 30 invoices?",
		"how many Net30 invoices?",
		"how many NET  30 invoices?",
	} {
		q := Classify(question)
		if q.Filter.Terms != "net 30" {
			t.Errorf("Classify(%q).Filter.Terms = %q, want %q", question, q.Filter.Terms, "net 30")
		}
	}
}

func TestExtractFilter_Vendor(t *testing.T) {
	q := Classify("total amount from acme corp")
	if q.Filter.Vendor != "acme corp" {
		t.Errorf("Vendor = %q, want %q", q.Filter.Vendor, "acme corp")
	}
}

func TestExtractFilter_CompoundPredicates(t *testing.T) {
	q := Classify("total amount from acme over $500")
	if q.Filter.Vendor != "acme" {
		t.Errorf("Vendor = %q, want %q", q.Filter.Vendor, "acme")
	}
	if q.Filter.MinAmount == nil || *q.Filter.MinAmount != 500 {
		t.Errorf("MinAmount = %v, want 500", q.Filter.MinAmount)
	}

	q = Classify("how many invoices from globex under $300 with net 60 terms?")
	if q.Filter.Vendor != "globex" {
		t.Errorf("Vendor = %q, want %q", q.Filter.Vendor, "globex")
	}
	if q.Filter.MaxAmount == nil || *q.Filter.MaxAmount != 300 {
		t.Errorf("MaxAmount = %v, want 300", q.Filter.MaxAmount)
	}
	if q.Filter.Terms != "net 60" {
		t.Errorf("Terms = %q, want %q", q.Filter.Terms, "net 60")
	}
}

func TestExtractFilter_RejectsGenericVendorPhrases(t *testing.T) {
	for _, question := range []string{
		"What is the total amount for all invoices?",
		"count for every vendor",
		"total for the invoices",
		"average for net 30 invoices",
	} {
		if q := Classify(question); q.Filter.Vendor != "" {
			t.Errorf("Classify(%q).Filter.Vendor = %q, want empty", question, q.Filter.Vendor)
		}
	}
}

func TestFilterEmpty(t *testing.T) {
	if !(Filter{}).Empty() {
		t.Error("zero filter should be empty")
	}
	v := 10.0
	if (Filter{MinAmount: &v}).Empty() {
		t.Error("filter with amount bound should not be empty")
	}
	if (Filter{Vendor: "acme"}).Empty() {
		t.Error("filter with vendor should not be empty")
	}
}
