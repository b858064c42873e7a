package core

import (
	"testing"
	"time"
)

func TestMonthKeyOffset(t *testing.T) {
	start := MonthKey{Year: 2025, Month: 11}
	cases := []struct {
		mk   MonthKey
		want int
	}{
		{MonthKey{2025, 11}, 1},
		{MonthKey{2025, 12}, 2},
		{MonthKey{2026, 1}, 3},
		{MonthKey{2026, 11}, 13},
	}
	for i, tc := range cases {
		if got := tc.mk.Offset(start); got != tc.want {
			t.Fatalf("case %d: offset = %d, want %d", i, got, tc.want)
		}
	}
}

func TestMonthAtRoundTrips(t *testing.T) {
	start := MonthKey{Year: 2024, Month: 7}
	for offset := 1; offset <= 30; offset++ {
		mk := MonthAt(start, offset)
		if got := mk.Offset(start); got != offset {
			t.Fatalf("offset %d round-tripped to %d via %+v", offset, got, mk)
		}
	}
}

func TestBaselineMonths(t *testing.T) {
	b := Baseline{
		ID:             "b1",
		ProjectID:      "p1",
		TotalAmount:    Money{Cents: 100},
		StartDate:      time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC),
		DurationMonths: 3,
	}
	months := b.Months()
	want := []MonthKey{{2025, 11}, {2025, 12}, {2026, 1}}
	if len(months) != len(want) {
		t.Fatalf("got %d months, want %d", len(months), len(want))
	}
	for i := range want {
		if months[i] != want[i] {
			t.Fatalf("month %d = %+v, want %+v", i, months[i], want[i])
		}
	}
}

func TestBaselineValidate(t *testing.T) {
	good := Baseline{
		ID:             "b1",
		ProjectID:      "p1",
		TotalAmount:    Money{Cents: 1200000},
		StartDate:      time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		DurationMonths: 12,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Baseline{
		{ProjectID: "p1", TotalAmount: Money{Cents: 1}, StartDate: good.StartDate, DurationMonths: 1},
		{ID: "b1", TotalAmount: Money{Cents: 1}, StartDate: good.StartDate, DurationMonths: 1},
		{ID: "b1", ProjectID: "p1", TotalAmount: Money{Cents: 1}, StartDate: good.StartDate, DurationMonths: 0},
		{ID: "b1", ProjectID: "p1", TotalAmount: Money{Cents: 0}, StartDate: good.StartDate, DurationMonths: 1},
		{ID: "b1", ProjectID: "p1", TotalAmount: Money{Cents: 1}, DurationMonths: 1}, // zero start
	}
	for i, b := range bads {
		if err := b.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestLineItemValidate(t *testing.T) {
	good := LineItem{Kind: LaborEstimate, RubroID: "MOD-ING", Total: Money{Cents: 100}}
	if err := good.Validate(12); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	withSchedule := LineItem{
		Kind:     NonLaborEstimate,
		RubroID:  "LIC-SW",
		Total:    Money{Cents: 300},
		Schedule: []Money{{100}, {100}, {100}},
	}
	if err := withSchedule.Validate(3); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := withSchedule.Validate(12); err != ErrScheduleLength {
		t.Fatalf("expected ErrScheduleLength, got %v", err)
	}

	bads := []LineItem{
		{Kind: LaborEstimate, Total: Money{Cents: 1}},                     // no rubro, no description
		{Kind: LaborEstimate, RubroID: "x", Total: Money{Cents: 0}},       // non-positive amount
		{Kind: EstimateKind("other"), RubroID: "x", Total: Money{Cents: 1}}, // bad kind
	}
	for i, li := range bads {
		if err := li.Validate(12); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}
