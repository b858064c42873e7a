package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"finz/internal/core"
	"finz/internal/storage"
	"finz/internal/storage/memory"
	"finz/internal/taxonomy"
)

func testTaxonomy() *taxonomy.Catalog {
	return taxonomy.NewCatalog(
		[]taxonomy.Entry{
			{ID: "MOD-ING", LineaGasto: "Ingenieros", Labor: true},
			{ID: "LIC-SW", LineaGasto: "Licencias de Software"},
			{ID: "VIA-NAC", LineaGasto: "Viáticos Nacionales"},
		},
		map[string]string{"software": "LIC-SW"},
	)
}

func testBaseline() core.Baseline {
	return core.Baseline{
		ID:            "bl-001",
		ProjectID:     "prj-42",
		SignatureHash: "sha256:abcd",
		TotalAmount:   core.Money{Cents: 1800000},
		Currency:      "USD",
		StartDate:     time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:     time.Date(2025, time.January, 15, 10, 30, 0, 0, time.UTC),
		DurationMonths: 12,
		Labor: []core.LineItem{
			{Kind: core.LaborEstimate, RubroID: "MOD-ING", Total: core.Money{Cents: 1200000}},
		},
		NonLabor: []core.LineItem{
			{Kind: core.NonLaborEstimate, RubroID: "software", Total: core.Money{Cents: 600000}},
		},
	}
}

func queryAll(t *testing.T, store storage.ItemStore, pk, skPrefix string) []storage.Item {
	t.Helper()
	var out []storage.Item
	cursor := ""
	for {
		page, next, err := store.QueryPrefix(context.Background(), pk, skPrefix, cursor, 10)
		if err != nil {
			t.Fatalf("query %s %s: %v", pk, skPrefix, err)
		}
		out = append(out, page...)
		if next == "" {
			return out
		}
		cursor = next
	}
}

func TestMaterializeEvenApportionment(t *testing.T) {
	store := memory.New()
	m := NewMaterializer(store, testTaxonomy(), DefaultMaterializerConfig())

	b := testBaseline()
	report, err := m.Materialize(context.Background(), b, "pmo@example.com")
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(report.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", report.Rejected)
	}
	// 2 rubros x 12 months
	if report.Allocations != 24 {
		t.Fatalf("allocations = %d, want 24", report.Allocations)
	}
	// payroll only for the labor rubro
	if report.Payroll != 12 {
		t.Fatalf("payroll = %d, want 12", report.Payroll)
	}

	allocs := queryAll(t, store, storage.ProjectPK("prj-42"), storage.AllocationSKPrefix)
	if len(allocs) != 24 {
		t.Fatalf("stored allocations = %d, want 24", len(allocs))
	}

	var laborSum int64
	for _, item := range allocs {
		rec, err := storage.DecodeAllocation(item)
		if err != nil {
			t.Fatalf("decode %s: %v", item.SK, err)
		}
		switch rec.RubroID {
		case "MOD-ING":
			if rec.Planned.Cents != 100000 {
				t.Fatalf("MOD-ING planned = %d, want 100000", rec.Planned.Cents)
			}
			laborSum += rec.Planned.Cents
		case "LIC-SW":
			if rec.Planned.Cents != 50000 {
				t.Fatalf("LIC-SW planned = %d, want 50000", rec.Planned.Cents)
			}
		default:
			t.Fatalf("unexpected rubro %q", rec.RubroID)
		}
		if rec.Source != core.SourceBaseline {
			t.Fatalf("source = %q", rec.Source)
		}
	}
	if laborSum != 1200000 {
		t.Fatalf("labor sum = %d, want total 1200000", laborSum)
	}

	payroll := queryAll(t, store, storage.ProjectPK("prj-42"), storage.PayrollSKPrefix)
	if len(payroll) != 12 {
		t.Fatalf("stored payroll = %d, want 12", len(payroll))
	}
	for _, item := range payroll {
		rec, err := storage.DecodePayroll(item)
		if err != nil {
			t.Fatalf("decode payroll %s: %v", item.SK, err)
		}
		if rec.RubroID != "MOD-ING" || rec.Actual.Cents != 0 {
			t.Fatalf("payroll %s: rubro %q actual %d", item.SK, rec.RubroID, rec.Actual.Cents)
		}
	}
}

func TestMaterializeIsIdempotent(t *testing.T) {
	store := memory.New()
	m := NewMaterializer(store, testTaxonomy(), DefaultMaterializerConfig())
	b := testBaseline()

	if _, err := m.Materialize(context.Background(), b, "pmo@example.com"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := queryAll(t, store, storage.ProjectPK("prj-42"), storage.AllocationSKPrefix)

	if _, err := m.Materialize(context.Background(), b, "pmo@example.com"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := queryAll(t, store, storage.ProjectPK("prj-42"), storage.AllocationSKPrefix)

	if len(first) != len(second) {
		t.Fatalf("record count drifted: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i].SK != second[i].SK {
			t.Fatalf("key drifted at %d: %s -> %s", i, first[i].SK, second[i].SK)
		}
		if !bytes.Equal(first[i].Attributes, second[i].Attributes) {
			t.Fatalf("attributes drifted for %s:\n%s\n%s", first[i].SK, first[i].Attributes, second[i].Attributes)
		}
	}
}

func TestMaterializePartialTolerance(t *testing.T) {
	store := memory.New()
	m := NewMaterializer(store, testTaxonomy(), DefaultMaterializerConfig())

	b := testBaseline()
	b.NonLabor = append(b.NonLabor,
		core.LineItem{Kind: core.NonLaborEstimate, RubroID: "no-such-rubro", Total: core.Money{Cents: 5000}},
		core.LineItem{Kind: core.NonLaborEstimate, RubroID: "VIA-NAC", Total: core.Money{Cents: 0}},
	)

	report, err := m.Materialize(context.Background(), b, "pmo@example.com")
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(report.Rejected) != 2 {
		t.Fatalf("rejected = %d, want 2: %v", len(report.Rejected), report.Rejected)
	}
	// valid lines still materialized
	if report.Allocations != 24 {
		t.Fatalf("allocations = %d, want 24", report.Allocations)
	}
}

func TestMaterializeExplicitSchedule(t *testing.T) {
	store := memory.New()
	m := NewMaterializer(store, testTaxonomy(), DefaultMaterializerConfig())

	b := testBaseline()
	b.DurationMonths = 3
	b.Labor = nil
	b.NonLabor = []core.LineItem{{
		Kind:     core.NonLaborEstimate,
		RubroID:  "LIC-SW",
		Total:    core.Money{Cents: 60000},
		Schedule: []core.Money{{Cents: 10000}, {Cents: 20000}, {Cents: 30000}},
	}}

	if _, err := m.Materialize(context.Background(), b, "pmo@example.com"); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	allocs := queryAll(t, store, storage.ProjectPK("prj-42"), storage.AllocationSKPrefix)
	want := map[int]int64{1: 10000, 2: 20000, 3: 30000}
	if len(allocs) != 3 {
		t.Fatalf("allocations = %d, want 3", len(allocs))
	}
	for _, item := range allocs {
		rec, err := storage.DecodeAllocation(item)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.Planned.Cents != want[rec.Month.Month] {
			t.Fatalf("month %d planned = %d, want %d", rec.Month.Month, rec.Planned.Cents, want[rec.Month.Month])
		}
	}
}

func TestMaterializeWritesAuditAndLink(t *testing.T) {
	store := memory.New()
	m := NewMaterializer(store, testTaxonomy(), DefaultMaterializerConfig())
	b := testBaseline()

	if _, err := m.Materialize(context.Background(), b, "pmo@example.com"); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	if _, found, err := store.Get(context.Background(), storage.ProjectPK("prj-42"), storage.BaselineLinkSK("bl-001")); err != nil || !found {
		t.Fatalf("baseline link missing (found=%v err=%v)", found, err)
	}

	audits := queryAll(t, store, storage.ProjectPK("prj-42"), storage.AuditSKPrefix)
	if len(audits) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audits))
	}
}
