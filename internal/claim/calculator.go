package claim

import (
	"strconv"
	"strings"

	"github.com/smartbiopk/cliamapp/internal/tariff"
)

type tariffCalculator struct {
	table tariff.Table
}

// New creates a Calculator that prices claims against the given tariff.
func New(table tariff.Table) Calculator {
	return &tariffCalculator{table: table}
}

// Calculate prices raw form or JSON string values. Missing keys and blank
// values count as zero. Values that do not read as a non-negative integer
// also count as zero and are reported in Result.Anomalies. Keys outside the
// tariff are ignored.
func (c *tariffCalculator) Calculate(raw map[string]string) Result {
	counts := make(map[tariff.Category]int, len(raw))
	var anomalies []Anomaly

	for _, category := range c.table.Categories() {
		value, ok := raw[string(category)]
		if !ok {
			continue
		}
		count, ok := parseCount(value)
		if !ok {
			anomalies = append(anomalies, Anomaly{Category: category, Value: value})
			continue
		}
		counts[category] = count
	}

	result := c.CalculateCounts(counts)
	result.Anomalies = anomalies
	return result
}

// CalculateCounts prices already-parsed counts. Negative counts are clamped
// to zero. Categories missing from counts are billed as zero.
func (c *tariffCalculator) CalculateCounts(counts map[tariff.Category]int) Result {
	categories := c.table.Categories()
	lines := make(map[tariff.Category]LineItem, len(categories))
	total := tariff.FixedCost

	for _, category := range categories {
		entry, ok := c.table.Entry(category)
		if !ok {
			continue
		}

		entered := counts[category]
		if entered < 0 {
			entered = 0
		}
		billable := min(entered, entry.Cap)
		amount := billable * entry.Rate

		lines[category] = LineItem{
			Entered:  entered,
			Billable: billable,
			Amount:   amount,
			Capped:   entered > entry.Cap,
		}
		total += amount
	}

	return Result{Lines: lines, Total: total}
}

func parseCount(value string) (int, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, true
	}

	count, err := strconv.Atoi(trimmed)
	if err != nil || count < 0 {
		return 0, false
	}
	return count, true
}
