// Package services implements the allocation engine jobs: baseline
// materialization, key-space migration, fallback rubro aggregation and the
// pk/sk guardrail validation.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"finz/internal/core"
	"finz/internal/storage"
	"finz/internal/taxonomy"
)

// MaterializerConfig holds tuning knobs for baseline materialization.
type MaterializerConfig struct {
	// MaxConcurrentMonths bounds how many month batches are written in
	// parallel. Batches for distinct months touch distinct keys, so they are
	// safe to run concurrently (default: 4).
	MaxConcurrentMonths int
}

// DefaultMaterializerConfig returns sensible defaults.
func DefaultMaterializerConfig() MaterializerConfig {
	return MaterializerConfig{MaxConcurrentMonths: 4}
}

// LineError is one rejected line item with the reason it was rejected.
type LineError struct {
	Kind    core.EstimateKind
	RubroID string
	Index   int
	Err     error
}

func (e LineError) Error() string {
	return fmt.Sprintf("%s line %d (%s): %v", e.Kind, e.Index, e.RubroID, e.Err)
}

// MaterializationReport summarizes one materialization run. Rejected lines do
// not block valid ones; callers route them to manual review.
type MaterializationReport struct {
	ProjectID   string
	BaselineID  string
	Allocations int
	Payroll     int
	Rejected    []LineError
}

// Materializer expands signed baselines into per-month allocation and payroll
// records. Materialization is a pure function of the baseline, so re-running
// it writes byte-identical items and never duplicates.
type Materializer struct {
	store   storage.ItemStore
	catalog *taxonomy.Catalog
	config  MaterializerConfig
}

func NewMaterializer(store storage.ItemStore, catalog *taxonomy.Catalog, config MaterializerConfig) *Materializer {
	if config.MaxConcurrentMonths < 1 {
		config.MaxConcurrentMonths = 1
	}
	return &Materializer{store: store, catalog: catalog, config: config}
}

// Materialize writes one AllocationRecord per (line item, month) and one
// PayrollActualRecord per (labor line item, month) across the baseline
// duration, plus the project-partition baseline link and an audit entry.
// Invalid line items are collected into the report while the rest still
// materialize.
func (m *Materializer) Materialize(ctx context.Context, baseline core.Baseline, actor string) (MaterializationReport, error) {
	report := MaterializationReport{ProjectID: baseline.ProjectID, BaselineID: baseline.ID}

	if err := baseline.Validate(); err != nil {
		return report, fmt.Errorf("invalid baseline %s: %w", baseline.ID, err)
	}

	lines, rejected := m.resolveLines(ctx, baseline)
	report.Rejected = rejected

	months := baseline.Months()
	byMonth := make([][]storage.Item, len(months))
	for mi, mk := range months {
		items, nAlloc, nPay, err := m.monthItems(baseline, lines, mi, mk)
		if err != nil {
			return report, fmt.Errorf("build month %04d-%02d: %w", mk.Year, mk.Month, err)
		}
		byMonth[mi] = items
		report.Allocations += nAlloc
		report.Payroll += nPay
	}

	// Months touch disjoint keys; write them concurrently, each month in
	// bounded batches.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.MaxConcurrentMonths)
	for mi := range byMonth {
		items := byMonth[mi]
		g.Go(func() error {
			return m.store.BatchPut(gctx, items)
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("write allocations for baseline %s: %w", baseline.ID, err)
	}

	if err := m.writeBaselineLink(ctx, baseline); err != nil {
		return report, err
	}
	if err := m.appendAudit(ctx, baseline, actor); err != nil {
		return report, err
	}

	slog.InfoContext(ctx, "Baseline materialized",
		"project_id", baseline.ProjectID,
		"baseline_id", baseline.ID,
		"allocations", report.Allocations,
		"payroll", report.Payroll,
		"rejected", len(report.Rejected))

	return report, nil
}

// resolvedLine is a line item whose rubro resolved and whose per-month
// amounts are already decided.
type resolvedLine struct {
	kind    core.EstimateKind
	rubroID string
	monthly []core.Money // one entry per baseline month
}

func (m *Materializer) resolveLines(ctx context.Context, baseline core.Baseline) ([]resolvedLine, []LineError) {
	var lines []resolvedLine
	var rejected []LineError

	appendLine := func(li core.LineItem, idx int) {
		if err := li.Validate(baseline.DurationMonths); err != nil {
			rejected = append(rejected, LineError{Kind: li.Kind, RubroID: li.RubroID, Index: idx, Err: err})
			return
		}
		candidate := li.RubroID
		if candidate == "" {
			candidate = li.Description
		}
		rubroID, ok := m.catalog.CanonicalRubroID(candidate)
		if !ok {
			slog.WarnContext(ctx, "Unresolved rubro flagged for manual review",
				"baseline_id", baseline.ID,
				"candidate", candidate)
			rejected = append(rejected, LineError{
				Kind:    li.Kind,
				RubroID: candidate,
				Index:   idx,
				Err:     fmt.Errorf("unresolved rubro %q", candidate),
			})
			return
		}
		monthly, err := monthlyAmounts(li, baseline.DurationMonths)
		if err != nil {
			rejected = append(rejected, LineError{Kind: li.Kind, RubroID: rubroID, Index: idx, Err: err})
			return
		}
		lines = append(lines, resolvedLine{kind: li.Kind, rubroID: rubroID, monthly: monthly})
	}

	for i, li := range baseline.Labor {
		appendLine(li, i)
	}
	for i, li := range baseline.NonLabor {
		appendLine(li, i)
	}
	return lines, rejected
}

// monthlyAmounts returns the per-month schedule: the explicit one when given,
// otherwise even apportionment of the total.
func monthlyAmounts(li core.LineItem, duration int) ([]core.Money, error) {
	if len(li.Schedule) > 0 {
		for i, amt := range li.Schedule {
			if amt.Cents < 0 {
				return nil, fmt.Errorf("schedule month %d: %w", i+1, core.ErrInvalidAmount)
			}
		}
		return li.Schedule, nil
	}
	monthly, err := core.Apportion(li.Total, duration)
	if err != nil {
		return nil, err
	}
	out := make([]core.Money, duration)
	for i := range out {
		out[i] = monthly
	}
	return out, nil
}

func (m *Materializer) monthItems(baseline core.Baseline, lines []resolvedLine, monthIdx int, mk core.MonthKey) ([]storage.Item, int, int, error) {
	// Record timestamps derive from the baseline signature time so repeated
	// runs produce byte-identical items.
	stamp := baseline.CreatedAt.UTC()

	// Distinct line items may resolve to the same canonical rubro; their
	// amounts fold into a single record per key.
	plannedByRubro := map[string]int64{}
	laborByRubro := map[string]bool{}
	var order []string
	for _, line := range lines {
		if _, seen := plannedByRubro[line.rubroID]; !seen {
			order = append(order, line.rubroID)
		}
		plannedByRubro[line.rubroID] += line.monthly[monthIdx].Cents
		if line.kind == core.LaborEstimate {
			laborByRubro[line.rubroID] = true
		}
	}

	var items []storage.Item
	var nAlloc, nPay int
	for _, rubroID := range order {
		planned := core.Money{Cents: plannedByRubro[rubroID]}
		alloc := core.AllocationRecord{
			ProjectID:  baseline.ProjectID,
			BaselineID: baseline.ID,
			RubroID:    rubroID,
			Month:      mk,
			Planned:    planned,
			Forecast:   planned,
			Baseline:   planned,
			Currency:   baseline.Currency,
			Source:     core.SourceBaseline,
			CreatedAt:  stamp,
			UpdatedAt:  stamp,
		}
		item, err := storage.EncodeAllocation(alloc)
		if err != nil {
			return nil, 0, 0, err
		}
		items = append(items, item)
		nAlloc++

		if !laborByRubro[rubroID] {
			continue
		}
		pay := core.PayrollActualRecord{
			ProjectID:  baseline.ProjectID,
			BaselineID: baseline.ID,
			RubroID:    rubroID,
			Month:      mk,
			Actual:     core.Money{}, // actuals arrive from payroll ingestion
			Currency:   baseline.Currency,
			Source:     core.SourceBaseline,
			CreatedAt:  stamp,
			UpdatedAt:  stamp,
		}
		pitem, err := storage.EncodePayroll(pay)
		if err != nil {
			return nil, 0, 0, err
		}
		items = append(items, pitem)
		nPay++
	}
	return items, nAlloc, nPay, nil
}

// writeBaselineLink stores the project-partition link item so baseline
// lookups work from either side, matching the production linkage.
func (m *Materializer) writeBaselineLink(ctx context.Context, baseline core.Baseline) error {
	attrs := fmt.Sprintf(`{"project_id":%q,"baseline_id":%q,"signature_hash":%q}`,
		baseline.ProjectID, baseline.ID, baseline.SignatureHash)
	link := storage.Item{
		PK:         storage.ProjectPK(baseline.ProjectID),
		SK:         storage.BaselineLinkSK(baseline.ID),
		Attributes: []byte(attrs),
		CreatedAt:  baseline.CreatedAt.UTC(),
		UpdatedAt:  baseline.CreatedAt.UTC(),
	}
	if err := m.store.Put(ctx, link); err != nil {
		return fmt.Errorf("write baseline link: %w", err)
	}
	return nil
}

func (m *Materializer) appendAudit(ctx context.Context, baseline core.Baseline, actor string) error {
	entry := storage.AuditEntry{
		ID:            uuid.NewString(),
		Event:         "baseline_materialized",
		SignatureHash: baseline.SignatureHash,
		Actor:         actor,
		Timestamp:     time.Now().UTC(),
	}
	item, err := storage.EncodeAudit(baseline.ProjectID, entry)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, item); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
