package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finz/internal/storage"
)

// KeyValidationReport is the outcome of a pk/sk guardrail pass over one
// project partition.
type KeyValidationReport struct {
	ProjectID string
	Items     int
	Warnings  []string
}

// OK reports whether the partition passed without findings.
func (r KeyValidationReport) OK() bool { return len(r.Warnings) == 0 }

// KeyValidator checks key-scheme integrity for a project partition:
// well-formed sort keys, baseline linkage pointing back at the right project,
// and allocation payloads agreeing with their keys. It is a read-only
// guardrail used by operators after migrations and rematerializations.
type KeyValidator struct {
	store    storage.ItemStore
	pageSize int
}

func NewKeyValidator(store storage.ItemStore, pageSize int) *KeyValidator {
	if pageSize < 1 {
		pageSize = 100
	}
	return &KeyValidator{store: store, pageSize: pageSize}
}

// Validate walks the whole project partition page by page and collects
// warnings. Findings never abort the pass.
func (v *KeyValidator) Validate(ctx context.Context, projectID string) (KeyValidationReport, error) {
	report := KeyValidationReport{ProjectID: projectID}
	pk := storage.ProjectPK(projectID)

	cursor := ""
	for {
		page, next, err := v.store.QueryPrefix(ctx, pk, "", cursor, v.pageSize)
		if err != nil {
			return report, fmt.Errorf("scan project partition %s: %w", pk, err)
		}
		for _, item := range page {
			report.Items++
			v.checkItem(ctx, projectID, item, &report)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	slog.InfoContext(ctx, "Key validation finished",
		"project_id", projectID,
		"items", report.Items,
		"warnings", len(report.Warnings))

	return report, nil
}

func (v *KeyValidator) checkItem(ctx context.Context, projectID string, item storage.Item, report *KeyValidationReport) {
	warn := func(format string, args ...any) {
		report.Warnings = append(report.Warnings, fmt.Sprintf(format, args...))
	}

	switch {
	case item.SK == storage.MetadataSK:
		// project metadata row, owned by the project-creation flow

	case strings.HasPrefix(item.SK, storage.AllocationSKPrefix):
		rec, err := storage.DecodeAllocation(item)
		if err != nil {
			// Migrated rows use the long sort key and a different payload
			// shape; only flag rows that decode to the wrong project.
			return
		}
		if rec.ProjectID != "" && rec.ProjectID != projectID {
			warn("allocation %s references project %s instead of %s", item.SK, rec.ProjectID, projectID)
		}
		if want := storage.AllocationSK(rec.Month, rec.RubroID); rec.ProjectID != "" && item.SK != want {
			warn("allocation sort key %s disagrees with payload key %s", item.SK, want)
		}

	case strings.HasPrefix(item.SK, storage.PayrollSKPrefix):
		rec, err := storage.DecodePayroll(item)
		if err != nil {
			warn("payroll item %s has undecodable payload: %v", item.SK, err)
			return
		}
		if rec.ProjectID != "" && rec.ProjectID != projectID {
			warn("payroll %s references project %s instead of %s", item.SK, rec.ProjectID, projectID)
		}

	case strings.HasPrefix(item.SK, storage.BaselinePKPrefix):
		baselineID := strings.TrimPrefix(item.SK, storage.BaselinePKPrefix)
		meta, found, err := v.store.Get(ctx, storage.BaselinePK(baselineID), storage.MetadataSK)
		if err != nil {
			warn("baseline link %s: metadata lookup failed: %v", item.SK, err)
			return
		}
		if !found {
			warn("baseline link %s has no metadata item", item.SK)
			return
		}
		baseline, err := storage.DecodeBaseline(meta)
		if err != nil {
			warn("baseline %s metadata is undecodable: %v", baselineID, err)
			return
		}
		if baseline.ProjectID != projectID {
			warn("baseline %s metadata references project %s instead of %s", baselineID, baseline.ProjectID, projectID)
		}

	case strings.HasPrefix(item.SK, storage.PrefacturaSKPrefix):
		if _, err := storage.DecodePrefactura(item); err != nil {
			warn("prefactura item %s has undecodable payload: %v", item.SK, err)
		}

	case strings.HasPrefix(item.SK, storage.AuditSKPrefix):
		// append-only audit rows

	default:
		warn("unexpected sort key %s in project partition", item.SK)
	}
}
