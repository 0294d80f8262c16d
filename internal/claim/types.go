package claim

import "github.com/smartbiopk/cliamapp/internal/tariff"

// LineItem is the priced outcome for a single category.
type LineItem struct {
	Entered  int  // submitted count after parsing, never negative
	Billable int  // entered bounded by the category cap
	Amount   int  // billable multiplied by the category rate, in PKR
	Capped   bool // entered exceeded the cap
}

// Anomaly records a submitted value that could not be read as a non-negative
// count. The category is billed as zero; the total is unaffected.
type Anomaly struct {
	Category tariff.Category
	Value    string
}

// Result is the priced outcome of one submission. Lines always carries every
// tariff category; Anomalies is nil when all values parsed cleanly.
type Result struct {
	Lines     map[tariff.Category]LineItem
	Total     int
	Anomalies []Anomaly
}

// Calculator prices submitted visit counts against a fixed tariff.
type Calculator interface {
	Calculate(raw map[string]string) Result
	CalculateCounts(counts map[tariff.Category]int) Result
}
