package tariff

import (
	"errors"
	"fmt"
)

// FixedCost is the flat repair and maintenance allowance, in PKR, added to
// every claim regardless of the reported counts.
const FixedCost = 25000

// Category identifies one billable service line on the claim form.
type Category string

// The ten service categories billable under the scheme.
const (
	OPD          Category = "opd"
	ANC          Category = "anc"
	PNC          Category = "pnc"
	Delivery     Category = "del"
	TB           Category = "tb"
	EPI          Category = "epi"
	Nutrition    Category = "nut"
	PostPartumFP Category = "ppfp"
	ShortFP      Category = "short"
	LongFP       Category = "long"
)

var (
	// ErrUnknownCategory indicates an override referenced a category that is
	// not part of the table.
	ErrUnknownCategory = errors.New("unknown tariff category")
	// ErrInvalidEntry indicates an override produced a negative cap or rate.
	ErrInvalidEntry = errors.New("tariff caps and rates must be non-negative")
)

// Entry holds the billing parameters of a single category.
type Entry struct {
	Cap   int    // maximum billable patient count per claim period
	Rate  int    // PKR per billable unit
	Label string // display name used on the claim form
}

// Override adjusts the cap or rate of one category. Nil fields keep the
// current value.
type Override struct {
	Cap  *int `yaml:"cap"`
	Rate *int `yaml:"rate"`
}

var defaultOrder = []Category{OPD, ANC, PNC, Delivery, TB, EPI, Nutrition, PostPartumFP, ShortFP, LongFP}

var defaultEntries = map[Category]Entry{
	OPD:          {Cap: 1100, Rate: 400, Label: "OPD (Medicines Dispensed)"},
	ANC:          {Cap: 200, Rate: 600, Label: "Antenatal Care (ANC) Visits"},
	PNC:          {Cap: 50, Rate: 200, Label: "Postnatal Care (PNC) Visits"},
	Delivery:     {Cap: 30, Rate: 6500, Label: "Normal Deliveries Conducted"},
	TB:           {Cap: 30, Rate: 200, Label: "Tuberculosis (TB) Patients Checked"},
	EPI:          {Cap: 200, Rate: 100, Label: "EPI Vaccination Services"},
	Nutrition:    {Cap: 250, Rate: 200, Label: "Treatment & Nutrition Screening"},
	PostPartumFP: {Cap: 20, Rate: 300, Label: "Post-Partum/Abortion FP Services"},
	ShortFP:      {Cap: 60, Rate: 150, Label: "Short-Acting Methods"},
	LongFP:       {Cap: 30, Rate: 400, Label: "Long-Acting Methods"},
}

// Table maps categories to their billing parameters. It is immutable after
// construction; lookups and listings return defensive copies. Construct via
// Default, optionally refined with Apply.
type Table struct {
	entries map[Category]Entry
	order   []Category
}

// Default returns the contracted tariff table.
func Default() Table {
	return Table{
		entries: cloneEntries(defaultEntries),
		order:   cloneOrder(defaultOrder),
	}
}

// Apply returns a new table with the overrides applied. The receiver is
// never modified.
func (t Table) Apply(overrides map[Category]Override) (Table, error) {
	next := Table{
		entries: cloneEntries(t.entries),
		order:   cloneOrder(t.order),
	}

	for category, override := range overrides {
		entry, ok := next.entries[category]
		if !ok {
			return Table{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
		}
		if override.Cap != nil {
			entry.Cap = *override.Cap
		}
		if override.Rate != nil {
			entry.Rate = *override.Rate
		}
		if entry.Cap < 0 || entry.Rate < 0 {
			return Table{}, fmt.Errorf("%w: %q", ErrInvalidEntry, category)
		}
		next.entries[category] = entry
	}

	return next, nil
}

// Entry returns the billing parameters for a category.
func (t Table) Entry(category Category) (Entry, bool) {
	entry, ok := t.entries[category]
	return entry, ok
}

// Categories returns the categories in claim-form order.
func (t Table) Categories() []Category {
	return cloneOrder(t.order)
}

func cloneEntries(src map[Category]Entry) map[Category]Entry {
	out := make(map[Category]Entry, len(src))
	for category, entry := range src {
		out[category] = entry
	}
	return out
}

func cloneOrder(src []Category) []Category {
	out := make([]Category, len(src))
	copy(out, src)
	return out
}
