package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"finz/internal/core"
	"finz/internal/storage"
)

// MigratorConfig controls a key-space migration run.
type MigratorConfig struct {
	// DryRun reports planned writes without mutating storage. Dry-run and
	// commit are mutually exclusive per invocation.
	DryRun bool
	// PageSize bounds how many legacy items are held in memory at once
	// (default: 100).
	PageSize int
}

// RunReport is the aggregate outcome of a migration run. Per-item failures
// never abort the run; they are counted here for targeted remediation.
type RunReport struct {
	RunID    string
	DryRun   bool
	Migrated int
	Skipped  int
	Failed   int
}

// Migrator rewrites legacy BASELINE#-partitioned allocation items into the
// current PROJECT# partition scheme. Legacy items are never deleted or
// mutated, and the derived key is deterministic so re-running the migration
// upserts the same targets instead of duplicating them.
type Migrator struct {
	store  storage.ItemStore
	config MigratorConfig
}

func NewMigrator(store storage.ItemStore, config MigratorConfig) *Migrator {
	if config.PageSize < 1 {
		config.PageSize = 100
	}
	return &Migrator{store: store, config: config}
}

// Run scans the legacy key space page by page, writing each page's rewritten
// items before fetching the next so memory stays bounded. Cancelling the
// context between pages stops the run cleanly; every item already written is
// independently valid.
func (m *Migrator) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{RunID: uuid.NewString(), DryRun: m.config.DryRun}

	slog.InfoContext(ctx, "Starting key-space migration",
		"run_id", report.RunID,
		"dry_run", report.DryRun,
		"page_size", m.config.PageSize)

	cursor := storage.Cursor{}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		page, next, err := m.store.ScanPrefix(ctx, storage.BaselinePKPrefix, cursor, m.config.PageSize)
		if err != nil {
			return report, fmt.Errorf("scan legacy items: %w", err)
		}

		var writes []storage.Item
		for _, item := range page {
			target, ok := m.transform(ctx, item, &report)
			if !ok {
				continue
			}
			writes = append(writes, target)
		}

		if m.config.DryRun {
			for _, w := range writes {
				slog.InfoContext(ctx, "Would migrate item",
					"run_id", report.RunID,
					"target_pk", w.PK,
					"target_sk", w.SK)
			}
			report.Migrated += len(writes)
		} else if len(writes) > 0 {
			if err := m.store.BatchPut(ctx, writes); err != nil {
				return report, fmt.Errorf("write migrated page: %w", err)
			}
			report.Migrated += len(writes)
		}

		if next.IsZero() {
			break
		}
		cursor = next
	}

	slog.InfoContext(ctx, "Key-space migration finished",
		"run_id", report.RunID,
		"dry_run", report.DryRun,
		"migrated", report.Migrated,
		"skipped", report.Skipped,
		"failed", report.Failed)

	return report, nil
}

// transform rewrites one legacy item. Metadata and non-allocation rows are
// skipped; rows whose payload cannot be normalized are counted as failed.
func (m *Migrator) transform(ctx context.Context, item storage.Item, report *RunReport) (storage.Item, bool) {
	if !strings.HasPrefix(item.SK, storage.AllocationSKPrefix) {
		report.Skipped++
		return storage.Item{}, false
	}

	baselineID := strings.TrimPrefix(item.PK, storage.BaselinePKPrefix)
	if baselineID == "" {
		slog.WarnContext(ctx, "Unparseable legacy partition key",
			"pk", item.PK, "sk", item.SK)
		report.Failed++
		return storage.Item{}, false
	}

	legacy, err := storage.DecodeLegacyAllocation(item)
	if err != nil {
		slog.WarnContext(ctx, "Skipping unmigratable legacy item",
			"pk", item.PK,
			"sk", item.SK,
			"error", err)
		report.Failed++
		return storage.Item{}, false
	}

	month := legacy.Month
	if month == "" {
		// Fall back to the month segment of the legacy sort key:
		// ALLOCATION#{month}#{rubroId}.
		parts := strings.SplitN(strings.TrimPrefix(item.SK, storage.AllocationSKPrefix), "#", 2)
		month = parts[0]
	}
	if month == "" {
		slog.WarnContext(ctx, "Legacy item has no month reference",
			"pk", item.PK, "sk", item.SK)
		report.Failed++
		return storage.Item{}, false
	}

	now := time.Now().UTC()
	attrs := fmt.Sprintf(
		`{"project_id":%q,"baseline_id":%q,"rubro_id":%q,"month":%q,"planned_cents":%d,"currency":%q,"source":%q,"migrated_at":%q}`,
		legacy.ProjectID, baselineID, legacy.RubroID, month,
		legacy.PlannedCents, legacy.Currency, core.SourceMigration, now.Format(time.RFC3339))

	return storage.Item{
		PK:         storage.ProjectPK(legacy.ProjectID),
		SK:         storage.MigratedAllocationSK(baselineID, legacy.RubroID, month),
		Attributes: []byte(attrs),
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  now,
	}, true
}
