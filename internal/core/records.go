package core

import "time"

const (
	// Record sources.
	SourceBaseline   = "baseline_materialization"
	SourceMigration  = "key_migration"
	SourceAllocation = "allocation"
	SourcePrefactura = "prefactura"
)

type (
	// AllocationRecord is the canonical per-project-per-month planned amount
	// for one rubro. At most one record exists per
	// (project, year, month, rubro); rematerialization overwrites it.
	AllocationRecord struct {
		ProjectID  string    `json:"project_id"`
		BaselineID string    `json:"baseline_id,omitempty"`
		RubroID    string    `json:"rubro_id"`
		Month      MonthKey  `json:"-"`
		Planned    Money     `json:"-"`
		Forecast   Money     `json:"-"`
		Baseline   Money     `json:"-"`
		Currency   string    `json:"currency"`
		Source     string    `json:"source"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	// PayrollActualRecord mirrors the allocation keying and carries the
	// realized labor cost for the month. Actuals start at zero and are filled
	// by the payroll ingestion collaborator.
	PayrollActualRecord struct {
		ProjectID  string    `json:"project_id"`
		BaselineID string    `json:"baseline_id,omitempty"`
		RubroID    string    `json:"rubro_id"`
		Month      MonthKey  `json:"-"`
		Actual     Money     `json:"-"`
		Currency   string    `json:"currency"`
		Source     string    `json:"source"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	// PrefacturaRecord is a raw pre-invoice row owned by an external
	// collaborator. Field shapes are inconsistent at the source; the storage
	// adapter normalizes them into this struct and nothing else reads the raw
	// form.
	PrefacturaRecord struct {
		ID          string
		ProjectID   string
		Month       string // "M3", "2025-02" or a bare integer string
		Amount      Money
		Description string
	}

	// RubroSummary is a synthesized per-rubro aggregate computed when
	// canonical catalog data is missing. It is ephemeral and never persisted.
	RubroSummary struct {
		RubroID     string // sanitized, "alloc-" or "pref-" prefixed
		Source      string // SourceAllocation or SourcePrefactura
		Quantity    int    // number of periods with data
		IsRecurring bool
		MonthsRange [2]int // [min, max] 1-based month offsets, inclusive
		Total       Money
	}
)
