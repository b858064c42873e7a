package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"finz/internal/storage"
	"finz/internal/storage/memory"
)

func legacyItem(baselineID, sk, attrs string) storage.Item {
	return storage.Item{
		PK:         storage.BaselinePK(baselineID),
		SK:         sk,
		Attributes: []byte(attrs),
		CreatedAt:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
}

func seedLegacy(t *testing.T, store *memory.Store) {
	t.Helper()
	items := []storage.Item{
		legacyItem("bl-7", "ALLOCATION#M1#MOD-ING",
			`{"project_id":"prj-9","rubro_id":"MOD-ING","month":"M1","planned_cents":100000,"currency":"USD"}`),
		// camelCase field naming from a later writer generation
		legacyItem("bl-7", "ALLOCATION#M2#MOD-ING",
			`{"projectId":"prj-9","rubroId":"MOD-ING","month":"M2","planned_cents":100000,"currency":"USD"}`),
		// no project reference: must be counted as failed
		legacyItem("bl-7", "ALLOCATION#M3#LIC-SW",
			`{"rubro_id":"LIC-SW","month":"M3","planned_cents":5000}`),
		// metadata rows are skipped, not failed
		legacyItem("bl-7", storage.MetadataSK, `{"id":"bl-7","project_id":"prj-9"}`),
	}
	for _, item := range items {
		if err := store.Put(context.Background(), item); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestMigratorRewritesLegacyKeys(t *testing.T) {
	store := memory.New()
	seedLegacy(t, store)

	report, err := NewMigrator(store, MigratorConfig{PageSize: 2}).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Migrated != 2 || report.Skipped != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v, want migrated=2 skipped=1 failed=1", report)
	}

	for _, month := range []string{"M1", "M2"} {
		sk := storage.MigratedAllocationSK("bl-7", "MOD-ING", month)
		if _, found, err := store.Get(context.Background(), storage.ProjectPK("prj-9"), sk); err != nil || !found {
			t.Fatalf("migrated item %s missing (found=%v err=%v)", sk, found, err)
		}
	}
}

func TestMigratorIsNonDestructiveAndIdempotent(t *testing.T) {
	store := memory.New()
	seedLegacy(t, store)

	ctx := context.Background()
	original, found, err := store.Get(ctx, storage.BaselinePK("bl-7"), "ALLOCATION#M1#MOD-ING")
	if err != nil || !found {
		t.Fatalf("seed lookup failed")
	}

	migrator := NewMigrator(store, MigratorConfig{})
	if _, err := migrator.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	countAfterFirst := store.Len()

	if _, err := migrator.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if store.Len() != countAfterFirst {
		t.Fatalf("second run changed item count: %d -> %d", countAfterFirst, store.Len())
	}

	after, found, err := store.Get(ctx, storage.BaselinePK("bl-7"), "ALLOCATION#M1#MOD-ING")
	if err != nil || !found {
		t.Fatalf("legacy item vanished")
	}
	if !bytes.Equal(original.Attributes, after.Attributes) {
		t.Fatalf("legacy item was mutated:\n%s\n%s", original.Attributes, after.Attributes)
	}
}

func TestMigratorDryRunDoesNotWrite(t *testing.T) {
	store := memory.New()
	seedLegacy(t, store)
	before := store.Len()

	report, err := NewMigrator(store, MigratorConfig{DryRun: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if report.Migrated != 2 {
		t.Fatalf("dry-run planned writes = %d, want 2", report.Migrated)
	}
	if store.Len() != before {
		t.Fatalf("dry run mutated storage: %d -> %d items", before, store.Len())
	}
}

func TestMigratorEmptyKeySpace(t *testing.T) {
	report, err := NewMigrator(memory.New(), MigratorConfig{}).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Migrated != 0 || report.Skipped != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want all zero", report)
	}
}
