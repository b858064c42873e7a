package services

import (
	"context"
	"regexp"
	"testing"

	"finz/internal/core"
)

var start = core.MonthKey{Year: 2025, Month: 1}

func alloc(rubroID string, month core.MonthKey, cents int64) core.AllocationRecord {
	return core.AllocationRecord{
		ProjectID: "prj-1",
		RubroID:   rubroID,
		Month:     month,
		Planned:   core.Money{Cents: cents},
	}
}

func TestRubrosFromAllocationsEmpty(t *testing.T) {
	got := RubrosFromAllocations(context.Background(), nil, nil, start, DefaultFallbackConfig())
	if got == nil {
		t.Fatalf("expected non-nil slice")
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestRecurringDetection(t *testing.T) {
	allocs := []core.AllocationRecord{
		alloc("rubro-recurring", core.MonthKey{Year: 2025, Month: 1}, 50000),
		alloc("rubro-recurring", core.MonthKey{Year: 2025, Month: 2}, 50000),
		alloc("rubro-recurring", core.MonthKey{Year: 2025, Month: 3}, 50000),
	}
	got := RubrosFromAllocations(context.Background(), allocs, nil, start, DefaultFallbackConfig())
	if len(got) != 1 {
		t.Fatalf("summaries = %d, want 1", len(got))
	}
	s := got[0]
	if s.RubroID != "alloc-rubro-recurring" {
		t.Fatalf("rubro id = %q", s.RubroID)
	}
	if !s.IsRecurring || s.Quantity != 3 {
		t.Fatalf("recurring=%v quantity=%d, want true/3", s.IsRecurring, s.Quantity)
	}
	if s.MonthsRange != [2]int{1, 3} {
		t.Fatalf("months range = %v, want [1 3]", s.MonthsRange)
	}
	if s.Total.Cents != 150000 {
		t.Fatalf("total = %d, want 150000", s.Total.Cents)
	}
}

func TestRecurringTolerance(t *testing.T) {
	allocs := []core.AllocationRecord{
		alloc("r", core.MonthKey{Year: 2025, Month: 1}, 50000),
		alloc("r", core.MonthKey{Year: 2025, Month: 2}, 50001), // within default 1-cent epsilon
	}
	got := RubrosFromAllocations(context.Background(), allocs, nil, start, DefaultFallbackConfig())
	if len(got) != 1 || !got[0].IsRecurring {
		t.Fatalf("expected recurring within tolerance, got %+v", got)
	}

	allocs[1].Planned.Cents = 60000
	got = RubrosFromAllocations(context.Background(), allocs, nil, start, DefaultFallbackConfig())
	if len(got) != 1 || got[0].IsRecurring {
		t.Fatalf("expected non-recurring outside tolerance, got %+v", got)
	}
}

func TestSanitizeRubroID(t *testing.T) {
	got := SanitizeRubroID("rubro@#$%^&*()_001")
	if want := "rubro001"; got != want {
		t.Fatalf("sanitize = %q, want %q", got, want)
	}
	derived := "alloc-" + got
	if ok, _ := regexp.MatchString(`^alloc-[a-z0-9-]+$`, derived); !ok {
		t.Fatalf("derived id %q does not match the contract pattern", derived)
	}
	if SanitizeRubroID("ABC-Def-9") != "abc-def-9" {
		t.Fatalf("case folding failed")
	}
}

func TestParseMonthOffset(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"M1", 1, true},
		{"m4", 4, true},
		{"2025-01", 1, true},
		{"2025-02", 2, true},
		{"2026-01", 13, true},
		{"3", 3, true},
		{"", 0, false},
		{"M0", 0, false},
		{"2025-13", 0, false},
		{"2024-12", 0, false}, // before project start
		{"abc", 0, false},
	}
	for i, tc := range cases {
		got, err := ParseMonthOffset(tc.in, start)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("case %d (%q): got %d, %v; want %d", i, tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d (%q): expected error", i, tc.in)
		}
	}
}

func TestMixedMonthFormatsGroupTogether(t *testing.T) {
	prefs := []core.PrefacturaRecord{
		{ID: "pf-9", ProjectID: "prj-1", Month: "M1", Amount: core.Money{Cents: 20000}},
		{ID: "pf-9", ProjectID: "prj-1", Month: "2025-02", Amount: core.Money{Cents: 20000}},
		{ID: "pf-9", ProjectID: "prj-1", Month: "3", Amount: core.Money{Cents: 20000}},
	}
	got := RubrosFromAllocations(context.Background(), nil, prefs, start, DefaultFallbackConfig())
	if len(got) != 1 {
		t.Fatalf("summaries = %d, want 1", len(got))
	}
	s := got[0]
	if s.RubroID != "pref-pf-9" || s.Source != core.SourcePrefactura {
		t.Fatalf("unexpected summary identity: %+v", s)
	}
	if s.Quantity != 3 || s.MonthsRange != [2]int{1, 3} || !s.IsRecurring {
		t.Fatalf("unexpected grouping: %+v", s)
	}
}

func TestAllocationTakesPrecedenceOverPrefactura(t *testing.T) {
	allocs := []core.AllocationRecord{alloc("LIC.SW", core.MonthKey{Year: 2025, Month: 1}, 10000)}
	prefs := []core.PrefacturaRecord{
		{ID: "LIC(SW)", ProjectID: "prj-1", Month: "M1", Amount: core.Money{Cents: 9999}},
		{ID: "pf-other", ProjectID: "prj-1", Month: "M2", Amount: core.Money{Cents: 5000}},
	}
	got := RubrosFromAllocations(context.Background(), allocs, prefs, start, DefaultFallbackConfig())
	if len(got) != 2 {
		t.Fatalf("summaries = %d, want 2 (colliding prefactura dropped)", len(got))
	}
	for _, s := range got {
		if s.RubroID == "pref-licsw" {
			t.Fatalf("colliding prefactura was not dropped: %+v", got)
		}
	}
}

func TestMalformedRecordsAreSkippedNotFatal(t *testing.T) {
	allocs := []core.AllocationRecord{
		alloc("ok", core.MonthKey{Year: 2025, Month: 2}, 1000),
		alloc("@@@", core.MonthKey{Year: 2025, Month: 2}, 1000),   // sanitizes to nothing
		alloc("early", core.MonthKey{Year: 2024, Month: 6}, 1000), // before project start
	}
	prefs := []core.PrefacturaRecord{
		{ID: "pf-bad-month", ProjectID: "prj-1", Month: "nope", Amount: core.Money{Cents: 100}},
		{ID: "pf-bad-amount", ProjectID: "prj-1", Month: "M1", Amount: core.Money{Cents: 0}},
		{ID: "pf-good", ProjectID: "prj-1", Month: "M2", Amount: core.Money{Cents: 100}},
	}
	got := RubrosFromAllocations(context.Background(), allocs, prefs, start, DefaultFallbackConfig())
	if len(got) != 2 {
		t.Fatalf("summaries = %d, want 2 (alloc-ok and pref-pf-good): %+v", len(got), got)
	}
}

func TestSingleOccurrenceIsNotRecurring(t *testing.T) {
	allocs := []core.AllocationRecord{alloc("once", core.MonthKey{Year: 2025, Month: 4}, 7000)}
	got := RubrosFromAllocations(context.Background(), allocs, nil, start, DefaultFallbackConfig())
	if len(got) != 1 {
		t.Fatalf("summaries = %d, want 1", len(got))
	}
	if got[0].IsRecurring || got[0].Quantity != 1 || got[0].MonthsRange != [2]int{4, 4} {
		t.Fatalf("unexpected summary: %+v", got[0])
	}
}
