package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"finz/internal/core"
)

// FallbackConfig tunes the fallback rubro aggregation.
type FallbackConfig struct {
	// RecurringToleranceCents is how far apart per-period amounts may drift
	// while still counting as the same recurring charge (default: 1 cent).
	RecurringToleranceCents int64
}

// DefaultFallbackConfig returns sensible defaults.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{RecurringToleranceCents: 1}
}

// Synthesized rubro identifiers carry a prefix naming the record kind they
// were derived from.
const (
	AllocRubroPrefix      = "alloc-"
	PrefacturaRubroPrefix = "pref-"
)

// SanitizeRubroID case-folds and strips every character outside [a-z0-9-].
func SanitizeRubroID(raw string) string {
	raw = strings.ToLower(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseMonthOffset normalizes a raw month field to a 1-based offset from the
// project start. Supported forms: "M<n>" (already an offset), ISO "YYYY-MM"
// (converted relative to start), and bare integer strings.
func ParseMonthOffset(raw string, start core.MonthKey) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty month field")
	}

	if len(s) > 1 && (s[0] == 'M' || s[0] == 'm') {
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 1 {
			return 0, fmt.Errorf("invalid month offset %q", raw)
		}
		return n, nil
	}

	if strings.Count(s, "-") == 1 {
		parts := strings.SplitN(s, "-", 2)
		year, errY := strconv.Atoi(parts[0])
		month, errM := strconv.Atoi(parts[1])
		if errY != nil || errM != nil || month < 1 || month > 12 || len(parts[0]) != 4 {
			return 0, fmt.Errorf("invalid ISO month %q", raw)
		}
		offset := (core.MonthKey{Year: year, Month: month}).Offset(start)
		if offset < 1 {
			return 0, fmt.Errorf("month %q precedes project start", raw)
		}
		return offset, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid month %q", raw)
	}
	return n, nil
}

// period is one (month offset, amount) observation inside a group.
type period struct {
	offset int
	cents  int64
}

type rubroGroup struct {
	rubroID string
	source  string
	periods []period
}

// RubrosFromAllocations synthesizes rubro summaries directly from raw
// allocation and prefactura records, for projects whose canonical catalog
// data is missing. Malformed individual records are skipped with a warning;
// the call never fails for the whole batch and always returns a non-nil
// slice. Prefactura groups whose identifier collides with an
// allocation-derived group are dropped so the same economic line is not
// counted twice.
func RubrosFromAllocations(ctx context.Context, allocs []core.AllocationRecord, prefacturas []core.PrefacturaRecord, start core.MonthKey, cfg FallbackConfig) []core.RubroSummary {
	if cfg.RecurringToleranceCents < 0 {
		cfg.RecurringToleranceCents = 0
	}

	groups := map[string]*rubroGroup{}
	var order []string

	add := func(id, source string, p period) {
		g, ok := groups[id]
		if !ok {
			g = &rubroGroup{rubroID: id, source: source}
			groups[id] = g
			order = append(order, id)
		}
		g.periods = append(g.periods, p)
	}

	allocSuffixes := map[string]bool{}
	for _, a := range allocs {
		candidate := a.RubroID
		if candidate == "" {
			candidate = a.BaselineID
		}
		suffix := SanitizeRubroID(candidate)
		if suffix == "" {
			slog.WarnContext(ctx, "Skipping allocation with unusable identifier",
				"project_id", a.ProjectID,
				"rubro_id", a.RubroID)
			continue
		}
		offset := a.Month.Offset(start)
		if offset < 1 {
			slog.WarnContext(ctx, "Skipping allocation before project start",
				"project_id", a.ProjectID,
				"rubro_id", a.RubroID,
				"year", a.Month.Year,
				"month", a.Month.Month)
			continue
		}
		allocSuffixes[suffix] = true
		add(AllocRubroPrefix+suffix, core.SourceAllocation, period{offset: offset, cents: a.Planned.Cents})
	}

	for _, p := range prefacturas {
		suffix := SanitizeRubroID(p.ID)
		if suffix == "" {
			slog.WarnContext(ctx, "Skipping prefactura with unusable identifier",
				"project_id", p.ProjectID,
				"prefactura_id", p.ID)
			continue
		}
		if allocSuffixes[suffix] {
			// Allocation data takes precedence for the same economic line.
			continue
		}
		offset, err := ParseMonthOffset(p.Month, start)
		if err != nil {
			slog.WarnContext(ctx, "Skipping prefactura with unparseable month",
				"project_id", p.ProjectID,
				"prefactura_id", p.ID,
				"month", p.Month,
				"error", err)
			continue
		}
		if p.Amount.Cents <= 0 {
			slog.WarnContext(ctx, "Skipping prefactura with non-positive amount",
				"project_id", p.ProjectID,
				"prefactura_id", p.ID)
			continue
		}
		add(PrefacturaRubroPrefix+suffix, core.SourcePrefactura, period{offset: offset, cents: p.Amount.Cents})
	}

	out := make([]core.RubroSummary, 0, len(order))
	for _, id := range order {
		out = append(out, summarize(groups[id], cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RubroID < out[j].RubroID })
	return out
}

func summarize(g *rubroGroup, cfg FallbackConfig) core.RubroSummary {
	minOffset, maxOffset := g.periods[0].offset, g.periods[0].offset
	minCents, maxCents := g.periods[0].cents, g.periods[0].cents
	distinct := map[int]bool{}
	var total int64
	for _, p := range g.periods {
		distinct[p.offset] = true
		total += p.cents
		if p.offset < minOffset {
			minOffset = p.offset
		}
		if p.offset > maxOffset {
			maxOffset = p.offset
		}
		if p.cents < minCents {
			minCents = p.cents
		}
		if p.cents > maxCents {
			maxCents = p.cents
		}
	}
	quantity := len(distinct)
	return core.RubroSummary{
		RubroID:     g.rubroID,
		Source:      g.source,
		Quantity:    quantity,
		IsRecurring: quantity > 1 && maxCents-minCents <= cfg.RecurringToleranceCents,
		MonthsRange: [2]int{minOffset, maxOffset},
		Total:       core.Money{Cents: total},
	}
}
