// Package forecast assembles the per-rubro-per-month reporting grid consumed
// by the reporting layer. It prefers canonical allocation records and falls
// back to synthesized rubro summaries where no canonical data exists, joined
// with payroll actuals for variance.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"finz/internal/cache"
	"finz/internal/core"
	"finz/internal/services"
	"finz/internal/storage"
)

// Window is an inclusive month range.
type Window struct {
	From core.MonthKey
	To   core.MonthKey
}

func (w Window) contains(mk core.MonthKey) bool {
	after := mk.Year > w.From.Year || (mk.Year == w.From.Year && mk.Month >= w.From.Month)
	before := mk.Year < w.To.Year || (mk.Year == w.To.Year && mk.Month <= w.To.Month)
	return after && before
}

// Cell is one rubro-month intersection. Variance is actual minus planned and
// only meaningful when an actual exists.
type Cell struct {
	Planned  core.Money
	Forecast core.Money
	Actual   core.Money
	Variance core.Money
}

// Row is one rubro across the window. Canonical rows come from allocation
// records keyed by calendar month; fallback rows carry a synthesized summary
// instead of cells.
type Row struct {
	RubroID   string
	Canonical bool
	Cells     map[core.MonthKey]Cell
	Summary   *core.RubroSummary
}

// Grid is the assembled reporting view for one project and window.
type Grid struct {
	ProjectID string
	Window    Window
	Rows      []Row
}

// AssemblerConfig tunes grid assembly.
type AssemblerConfig struct {
	PageSize  int
	CacheSize int
	CacheTTL  time.Duration
	Fallback  services.FallbackConfig
}

// DefaultAssemblerConfig returns sensible defaults.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		PageSize:  200,
		CacheSize: 64,
		CacheTTL:  5 * time.Minute,
		Fallback:  services.DefaultFallbackConfig(),
	}
}

type Assembler struct {
	store  storage.ItemStore
	config AssemblerConfig
	grids  *cache.LRU[Grid]
}

func NewAssembler(store storage.ItemStore, config AssemblerConfig) *Assembler {
	if config.PageSize < 1 {
		config.PageSize = 200
	}
	if config.CacheSize < 1 {
		config.CacheSize = 64
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	return &Assembler{
		store:  store,
		config: config,
		grids:  cache.NewLRU[Grid](config.CacheSize, config.CacheTTL),
	}
}

// Invalidate drops every cached window for a project. Call it after
// rematerializing the project's baseline.
func (a *Assembler) Invalidate(projectID string) {
	a.grids.InvalidatePrefix(projectID + "|")
}

// Grid builds the reporting grid for a project and month window.
func (a *Assembler) Grid(ctx context.Context, projectID string, window Window) (Grid, error) {
	cacheKey := fmt.Sprintf("%s|%04d-%02d|%04d-%02d",
		projectID, window.From.Year, window.From.Month, window.To.Year, window.To.Month)
	if grid, ok := a.grids.Get(cacheKey); ok {
		return grid, nil
	}

	allocs, rawAllocs, canonical, err := a.loadAllocations(ctx, projectID, window)
	if err != nil {
		return Grid{}, err
	}
	actuals, err := a.loadPayroll(ctx, projectID, window)
	if err != nil {
		return Grid{}, err
	}

	rows := map[string]*Row{}
	for _, rec := range allocs {
		row, ok := rows[rec.RubroID]
		if !ok {
			row = &Row{RubroID: rec.RubroID, Canonical: true, Cells: map[core.MonthKey]Cell{}}
			rows[rec.RubroID] = row
		}
		cell := row.Cells[rec.Month]
		cell.Planned.Cents += rec.Planned.Cents
		cell.Forecast.Cents += rec.Forecast.Cents
		row.Cells[rec.Month] = cell
	}
	for _, rec := range actuals {
		row, ok := rows[rec.RubroID]
		if !ok {
			// payroll may land before its allocation pair; tolerate the gap
			row = &Row{RubroID: rec.RubroID, Canonical: true, Cells: map[core.MonthKey]Cell{}}
			rows[rec.RubroID] = row
		}
		cell := row.Cells[rec.Month]
		cell.Actual.Cents += rec.Actual.Cents
		row.Cells[rec.Month] = cell
	}
	for _, row := range rows {
		for mk, cell := range row.Cells {
			cell.Variance = core.Money{Cents: cell.Actual.Cents - cell.Planned.Cents}
			row.Cells[mk] = cell
		}
	}

	// Rubros whose only data is legacy-shaped allocations or prefactura lines
	// get a synthesized summary row next to the canonical ones. The raw
	// records include the canonical allocations so prefactura precedence
	// inside the aggregation still sees them; summaries shadowed by a
	// canonical rubro are dropped here.
	prefacturas, err := a.loadPrefacturas(ctx, projectID)
	if err != nil {
		return Grid{}, err
	}
	summaries := services.RubrosFromAllocations(ctx, rawAllocs, prefacturas, window.From, a.config.Fallback)
	synthesized := 0
	for i := range summaries {
		s := summaries[i]
		if suffix, ok := strings.CutPrefix(s.RubroID, services.AllocRubroPrefix); ok && canonical[suffix] {
			continue
		}
		if _, taken := rows[s.RubroID]; taken {
			continue
		}
		rows[s.RubroID] = &Row{RubroID: s.RubroID, Summary: &s}
		synthesized++
	}
	if synthesized > 0 {
		slog.InfoContext(ctx, "Forecast grid synthesized fallback rubros",
			"project_id", projectID,
			"rubros", synthesized)
	}

	grid := Grid{ProjectID: projectID, Window: window}
	for _, row := range rows {
		grid.Rows = append(grid.Rows, *row)
	}
	sort.Slice(grid.Rows, func(i, j int) bool { return grid.Rows[i].RubroID < grid.Rows[j].RubroID })

	a.grids.Set(cacheKey, grid)
	return grid, nil
}

// loadAllocations pages through the project's allocation items. Canonical
// records that decode cleanly and fall inside the window are returned first;
// every decodable record regardless of window feeds the fallback path. The
// third return value maps sanitized rubro identifiers with canonical records,
// so the caller can skip synthesizing summaries for them.
func (a *Assembler) loadAllocations(ctx context.Context, projectID string, window Window) ([]core.AllocationRecord, []core.AllocationRecord, map[string]bool, error) {
	var inWindow, all []core.AllocationRecord
	canonical := map[string]bool{}
	pk := storage.ProjectPK(projectID)
	cursor := ""
	for {
		page, next, err := a.store.QueryPrefix(ctx, pk, storage.AllocationSKPrefix, cursor, a.config.PageSize)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load allocations for %s: %w", projectID, err)
		}
		for _, item := range page {
			rec, err := storage.DecodeAllocation(item)
			if err != nil || rec.Month.Validate() != nil {
				// Migrated legacy rows use a different payload shape and
				// month encoding; they only participate through the fallback
				// aggregation.
				if loose, ok := a.looseAllocation(item, window.From); ok {
					all = append(all, loose)
				}
				continue
			}
			all = append(all, rec)
			canonical[services.SanitizeRubroID(rec.RubroID)] = true
			if window.contains(rec.Month) {
				inWindow = append(inWindow, rec)
			}
		}
		if next == "" {
			return inWindow, all, canonical, nil
		}
		cursor = next
	}
}

// looseAllocation salvages a migrated or legacy-shaped allocation payload for
// the fallback aggregation. Month strings are normalized to a calendar month
// relative to the window start.
func (a *Assembler) looseAllocation(item storage.Item, start core.MonthKey) (core.AllocationRecord, bool) {
	legacy, err := storage.DecodeLegacyAllocation(item)
	if err != nil {
		return core.AllocationRecord{}, false
	}
	offset, err := services.ParseMonthOffset(legacy.Month, start)
	if err != nil {
		return core.AllocationRecord{}, false
	}
	return core.AllocationRecord{
		ProjectID: legacy.ProjectID,
		RubroID:   legacy.RubroID,
		Month:     core.MonthAt(start, offset),
		Planned:   core.Money{Cents: legacy.PlannedCents},
		Currency:  legacy.Currency,
		Source:    core.SourceMigration,
	}, true
}

func (a *Assembler) loadPayroll(ctx context.Context, projectID string, window Window) ([]core.PayrollActualRecord, error) {
	var out []core.PayrollActualRecord
	pk := storage.ProjectPK(projectID)
	cursor := ""
	for {
		page, next, err := a.store.QueryPrefix(ctx, pk, storage.PayrollSKPrefix, cursor, a.config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("load payroll for %s: %w", projectID, err)
		}
		for _, item := range page {
			rec, err := storage.DecodePayroll(item)
			if err != nil {
				slog.WarnContext(ctx, "Skipping undecodable payroll item",
					"pk", item.PK, "sk", item.SK, "error", err)
				continue
			}
			if window.contains(rec.Month) {
				out = append(out, rec)
			}
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

func (a *Assembler) loadPrefacturas(ctx context.Context, projectID string) ([]core.PrefacturaRecord, error) {
	var out []core.PrefacturaRecord
	pk := storage.ProjectPK(projectID)
	cursor := ""
	for {
		page, next, err := a.store.QueryPrefix(ctx, pk, storage.PrefacturaSKPrefix, cursor, a.config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("load prefacturas for %s: %w", projectID, err)
		}
		for _, item := range page {
			rec, err := storage.DecodePrefactura(item)
			if err != nil {
				slog.WarnContext(ctx, "Skipping undecodable prefactura",
					"pk", item.PK, "sk", item.SK, "error", err)
				continue
			}
			out = append(out, rec)
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}
