package services

import (
	"context"
	"testing"

	"finz/internal/storage"
	"finz/internal/storage/memory"
)

func TestKeyValidatorCleanPartition(t *testing.T) {
	store := memory.New()
	m := NewMaterializer(store, testTaxonomy(), DefaultMaterializerConfig())
	b := testBaseline()
	if _, err := m.Materialize(context.Background(), b, "pmo@example.com"); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	meta, err := storage.EncodeBaseline(b)
	if err != nil {
		t.Fatalf("encode baseline: %v", err)
	}
	if err := store.Put(context.Background(), meta); err != nil {
		t.Fatalf("put baseline metadata: %v", err)
	}

	report, err := NewKeyValidator(store, 10).Validate(context.Background(), "prj-42")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected clean partition, got warnings: %v", report.Warnings)
	}
	if report.Items == 0 {
		t.Fatalf("validator saw no items")
	}
}

func TestKeyValidatorFlagsBadLinkage(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	// link with no metadata behind it
	if err := store.Put(ctx, storage.Item{
		PK:         storage.ProjectPK("prj-1"),
		SK:         storage.BaselineLinkSK("bl-ghost"),
		Attributes: []byte(`{"baseline_id":"bl-ghost"}`),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// allocation whose payload points at a different project
	if err := store.Put(ctx, storage.Item{
		PK:         storage.ProjectPK("prj-1"),
		SK:         "ALLOCATION#2025-01#MOD-ING",
		Attributes: []byte(`{"project_id":"prj-2","rubro_id":"MOD-ING","year":2025,"month":1,"planned_cents":1,"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}`),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := NewKeyValidator(store, 10).Validate(ctx, "prj-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(report.Warnings) != 2 {
		t.Fatalf("warnings = %d, want 2: %v", len(report.Warnings), report.Warnings)
	}
}
