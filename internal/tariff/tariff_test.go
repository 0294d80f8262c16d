package tariff

import (
	"errors"
	"slices"
	"testing"
)

func TestDefault_ContractedValues(t *testing.T) {
	t.Parallel()

	want := map[Category]struct {
		cap  int
		rate int
	}{
		OPD:          {1100, 400},
		ANC:          {200, 600},
		PNC:          {50, 200},
		Delivery:     {30, 6500},
		TB:           {30, 200},
		EPI:          {200, 100},
		Nutrition:    {250, 200},
		PostPartumFP: {20, 300},
		ShortFP:      {60, 150},
		LongFP:       {30, 400},
	}

	table := Default()
	categories := table.Categories()
	if len(categories) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(categories))
	}

	for category, values := range want {
		entry, ok := table.Entry(category)
		if !ok {
			t.Fatalf("missing category %q", category)
		}
		if entry.Cap != values.cap {
			t.Errorf("category %q: cap %d, want %d", category, entry.Cap, values.cap)
		}
		if entry.Rate != values.rate {
			t.Errorf("category %q: rate %d, want %d", category, entry.Rate, values.rate)
		}
		if entry.Label == "" {
			t.Errorf("category %q: missing label", category)
		}
	}

	if FixedCost != 25000 {
		t.Fatalf("fixed cost %d, want 25000", FixedCost)
	}
}

func TestDefault_CategoryOrder(t *testing.T) {
	t.Parallel()

	want := []Category{OPD, ANC, PNC, Delivery, TB, EPI, Nutrition, PostPartumFP, ShortFP, LongFP}
	if got := Default().Categories(); !slices.Equal(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
}

func TestCategories_ReturnsCopy(t *testing.T) {
	t.Parallel()

	table := Default()
	first := table.Categories()
	first[0] = Category("tampered")

	if got := table.Categories(); got[0] != OPD {
		t.Fatalf("table order mutated through returned slice: %v", got)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	intPtr := func(n int) *int { return &n }

	tests := []struct {
		name      string
		overrides map[Category]Override
		category  Category
		wantCap   int
		wantRate  int
		wantErr   error
	}{
		{
			name:      "CapOnly",
			overrides: map[Category]Override{OPD: {Cap: intPtr(1500)}},
			category:  OPD,
			wantCap:   1500,
			wantRate:  400,
		},
		{
			name:      "RateOnly",
			overrides: map[Category]Override{Delivery: {Rate: intPtr(7000)}},
			category:  Delivery,
			wantCap:   30,
			wantRate:  7000,
		},
		{
			name:      "CapAndRate",
			overrides: map[Category]Override{TB: {Cap: intPtr(40), Rate: intPtr(250)}},
			category:  TB,
			wantCap:   40,
			wantRate:  250,
		},
		{
			name:      "UnknownCategory",
			overrides: map[Category]Override{Category("dental"): {Cap: intPtr(10)}},
			wantErr:   ErrUnknownCategory,
		},
		{
			name:      "NegativeCap",
			overrides: map[Category]Override{ANC: {Cap: intPtr(-1)}},
			wantErr:   ErrInvalidEntry,
		},
		{
			name:      "NegativeRate",
			overrides: map[Category]Override{ANC: {Rate: intPtr(-600)}},
			wantErr:   ErrInvalidEntry,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Default().Apply(tc.overrides)

			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr != nil {
				return
			}

			entry, ok := got.Entry(tc.category)
			if !ok {
				t.Fatalf("missing category %q after apply", tc.category)
			}
			if entry.Cap != tc.wantCap || entry.Rate != tc.wantRate {
				t.Fatalf("got cap=%d rate=%d, want cap=%d rate=%d", entry.Cap, entry.Rate, tc.wantCap, tc.wantRate)
			}
		})
	}
}

func TestApply_DoesNotModifyReceiver(t *testing.T) {
	t.Parallel()

	intPtr := func(n int) *int { return &n }

	table := Default()
	if _, err := table.Apply(map[Category]Override{OPD: {Cap: intPtr(9999)}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, _ := table.Entry(OPD)
	if entry.Cap != 1100 {
		t.Fatalf("receiver mutated: cap %d, want 1100", entry.Cap)
	}
}
