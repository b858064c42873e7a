package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finz/internal/core"
)

// Wire shapes for item attributes. Field order is fixed so that encoding the
// same record always yields the same bytes, which is what makes
// rematerialization byte-identical.

type allocationAttrs struct {
	ProjectID     string `json:"project_id"`
	BaselineID    string `json:"baseline_id,omitempty"`
	RubroID       string `json:"rubro_id"`
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	PlannedCents  int64  `json:"planned_cents"`
	ForecastCents int64  `json:"forecast_cents"`
	BaselineCents int64  `json:"baseline_cents"`
	Currency      string `json:"currency"`
	Source        string `json:"source"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type payrollAttrs struct {
	ProjectID   string `json:"project_id"`
	BaselineID  string `json:"baseline_id,omitempty"`
	RubroID     string `json:"rubro_id"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	ActualCents int64  `json:"actual_cents"`
	Currency    string `json:"currency"`
	Source      string `json:"source"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// AuditEntry is one append-only audit event in a project partition.
type AuditEntry struct {
	ID            string    `json:"id"`
	Event         string    `json:"event"`
	SignatureHash string    `json:"signature_hash,omitempty"`
	Actor         string    `json:"actor"`
	Timestamp     time.Time `json:"timestamp"`
}

// EncodeAllocation builds the stored item for an allocation record.
func EncodeAllocation(r core.AllocationRecord) (Item, error) {
	attrs, err := json.Marshal(allocationAttrs{
		ProjectID:     r.ProjectID,
		BaselineID:    r.BaselineID,
		RubroID:       r.RubroID,
		Year:          r.Month.Year,
		Month:         r.Month.Month,
		PlannedCents:  r.Planned.Cents,
		ForecastCents: r.Forecast.Cents,
		BaselineCents: r.Baseline.Cents,
		Currency:      r.Currency,
		Source:        r.Source,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Item{}, fmt.Errorf("encode allocation: %w", err)
	}
	return Item{
		PK:         ProjectPK(r.ProjectID),
		SK:         AllocationSK(r.Month, r.RubroID),
		Attributes: attrs,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

// DecodeAllocation parses a stored allocation item.
func DecodeAllocation(item Item) (core.AllocationRecord, error) {
	var a allocationAttrs
	if err := json.Unmarshal(item.Attributes, &a); err != nil {
		return core.AllocationRecord{}, fmt.Errorf("decode allocation %s/%s: %w", item.PK, item.SK, err)
	}
	created, _ := time.Parse(time.RFC3339, a.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, a.UpdatedAt)
	return core.AllocationRecord{
		ProjectID:  a.ProjectID,
		BaselineID: a.BaselineID,
		RubroID:    a.RubroID,
		Month:      core.MonthKey{Year: a.Year, Month: a.Month},
		Planned:    core.Money{Cents: a.PlannedCents},
		Forecast:   core.Money{Cents: a.ForecastCents},
		Baseline:   core.Money{Cents: a.BaselineCents},
		Currency:   a.Currency,
		Source:     a.Source,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}

// EncodePayroll builds the stored item for a payroll actual record.
func EncodePayroll(r core.PayrollActualRecord) (Item, error) {
	attrs, err := json.Marshal(payrollAttrs{
		ProjectID:   r.ProjectID,
		BaselineID:  r.BaselineID,
		RubroID:     r.RubroID,
		Year:        r.Month.Year,
		Month:       r.Month.Month,
		ActualCents: r.Actual.Cents,
		Currency:    r.Currency,
		Source:      r.Source,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Item{}, fmt.Errorf("encode payroll: %w", err)
	}
	return Item{
		PK:         ProjectPK(r.ProjectID),
		SK:         PayrollSK(r.Month, r.RubroID),
		Attributes: attrs,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

// DecodePayroll parses a stored payroll item.
func DecodePayroll(item Item) (core.PayrollActualRecord, error) {
	var p payrollAttrs
	if err := json.Unmarshal(item.Attributes, &p); err != nil {
		return core.PayrollActualRecord{}, fmt.Errorf("decode payroll %s/%s: %w", item.PK, item.SK, err)
	}
	created, _ := time.Parse(time.RFC3339, p.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, p.UpdatedAt)
	return core.PayrollActualRecord{
		ProjectID:  p.ProjectID,
		BaselineID: p.BaselineID,
		RubroID:    p.RubroID,
		Month:      core.MonthKey{Year: p.Year, Month: p.Month},
		Actual:     core.Money{Cents: p.ActualCents},
		Currency:   p.Currency,
		Source:     p.Source,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}

// EncodeAudit builds the stored item for an audit entry under a project
// partition. Audit items are append-only; the UUID in the sort key keeps
// entries written in the same second from colliding.
func EncodeAudit(projectID string, e AuditEntry) (Item, error) {
	attrs, err := json.Marshal(e)
	if err != nil {
		return Item{}, fmt.Errorf("encode audit entry: %w", err)
	}
	sk := fmt.Sprintf("%s%s#%s", AuditSKPrefix, e.Timestamp.UTC().Format(time.RFC3339), e.ID)
	return Item{
		PK:         ProjectPK(projectID),
		SK:         sk,
		Attributes: attrs,
		CreatedAt:  e.Timestamp,
		UpdatedAt:  e.Timestamp,
	}, nil
}

// baselineAttrs is the stored shape of a baseline metadata item.
type baselineAttrs struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	Labor          []lineItemAttr `json:"labor_estimates"`
	NonLabor       []lineItemAttr `json:"non_labor_estimates"`
	SignatureHash  string         `json:"signature_hash"`
	TotalCents     int64          `json:"total_cents"`
	Currency       string         `json:"currency"`
	StartDate      string         `json:"start_date"`
	DurationMonths int            `json:"duration_months"`
	CreatedAt      string         `json:"created_at"`
}

type lineItemAttr struct {
	Kind        string  `json:"kind"`
	RubroID     string  `json:"rubro_id"`
	Description string  `json:"description,omitempty"`
	TotalCents  int64   `json:"total_cents"`
	Schedule    []int64 `json:"schedule_cents,omitempty"`
}

// EncodeBaseline builds the metadata item for a signed baseline,
// pk=BASELINE#{id} / sk=METADATA.
func EncodeBaseline(b core.Baseline) (Item, error) {
	attrs, err := json.Marshal(baselineAttrs{
		ID:             b.ID,
		ProjectID:      b.ProjectID,
		Labor:          toLineItemAttrs(b.Labor),
		NonLabor:       toLineItemAttrs(b.NonLabor),
		SignatureHash:  b.SignatureHash,
		TotalCents:     b.TotalAmount.Cents,
		Currency:       b.Currency,
		StartDate:      b.StartDate.UTC().Format("2006-01-02"),
		DurationMonths: b.DurationMonths,
		CreatedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Item{}, fmt.Errorf("encode baseline: %w", err)
	}
	return Item{
		PK:         BaselinePK(b.ID),
		SK:         MetadataSK,
		Attributes: attrs,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.CreatedAt,
	}, nil
}

// DecodeBaseline parses a baseline metadata item.
func DecodeBaseline(item Item) (core.Baseline, error) {
	var a baselineAttrs
	if err := json.Unmarshal(item.Attributes, &a); err != nil {
		return core.Baseline{}, fmt.Errorf("decode baseline %s: %w", item.PK, err)
	}
	start, err := time.Parse("2006-01-02", a.StartDate)
	if err != nil {
		return core.Baseline{}, fmt.Errorf("decode baseline %s start date: %w", item.PK, err)
	}
	created, _ := time.Parse(time.RFC3339, a.CreatedAt)
	return core.Baseline{
		ID:             a.ID,
		ProjectID:      a.ProjectID,
		Labor:          fromLineItemAttrs(a.Labor),
		NonLabor:       fromLineItemAttrs(a.NonLabor),
		SignatureHash:  a.SignatureHash,
		TotalAmount:    core.Money{Cents: a.TotalCents},
		Currency:       a.Currency,
		StartDate:      start,
		DurationMonths: a.DurationMonths,
		CreatedAt:      created,
	}, nil
}

func toLineItemAttrs(items []core.LineItem) []lineItemAttr {
	out := make([]lineItemAttr, 0, len(items))
	for _, li := range items {
		a := lineItemAttr{
			Kind:        string(li.Kind),
			RubroID:     li.RubroID,
			Description: li.Description,
			TotalCents:  li.Total.Cents,
		}
		for _, m := range li.Schedule {
			a.Schedule = append(a.Schedule, m.Cents)
		}
		out = append(out, a)
	}
	return out
}

func fromLineItemAttrs(attrs []lineItemAttr) []core.LineItem {
	out := make([]core.LineItem, 0, len(attrs))
	for _, a := range attrs {
		li := core.LineItem{
			Kind:        core.EstimateKind(a.Kind),
			RubroID:     a.RubroID,
			Description: a.Description,
			Total:       core.Money{Cents: a.TotalCents},
		}
		for _, c := range a.Schedule {
			li.Schedule = append(li.Schedule, core.Money{Cents: c})
		}
		out = append(out, li)
	}
	return out
}

// LegacyAllocation is a legacy-keyed allocation payload as found under
// BASELINE# partitions. Field naming there drifted over time (rubro_id,
// rubroId, line_item_id), so decoding goes through one tolerant adapter here
// and the normalized struct everywhere else.
type LegacyAllocation struct {
	ProjectID    string
	RubroID      string
	Month        string
	PlannedCents int64
	Currency     string
}

// DecodeLegacyAllocation normalizes a legacy allocation item. It returns an
// error when the payload carries no project reference or no usable rubro
// identifier; the migrator counts those as skipped.
func DecodeLegacyAllocation(item Item) (LegacyAllocation, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(item.Attributes, &raw); err != nil {
		return LegacyAllocation{}, fmt.Errorf("decode legacy item %s/%s: %w", item.PK, item.SK, err)
	}
	out := LegacyAllocation{
		ProjectID: firstString(raw, "project_id", "projectId"),
		RubroID:   firstString(raw, "rubro_id", "rubroId", "line_item_id", "lineItemId"),
		Month:     firstString(raw, "month", "period"),
		Currency:  firstString(raw, "currency"),
	}
	if out.PlannedCents = firstInt(raw, "planned_cents", "plannedCents", "amount_cents"); out.PlannedCents == 0 {
		// Older payloads stored decimal strings.
		if s := firstString(raw, "planned", "amount"); s != "" {
			if cents, err := core.ParseDecimalToCents(s); err == nil {
				out.PlannedCents = cents
			}
		}
	}
	if out.ProjectID == "" {
		return LegacyAllocation{}, fmt.Errorf("legacy item %s/%s has no project reference", item.PK, item.SK)
	}
	if out.RubroID == "" {
		return LegacyAllocation{}, fmt.Errorf("legacy item %s/%s has no rubro identifier", item.PK, item.SK)
	}
	return out, nil
}

// DecodePrefactura normalizes a raw pre-invoice item. Prefacturas are owned
// by an external collaborator and arrive in several field-naming generations,
// so this adapter is deliberately tolerant; callers skip records it rejects.
func DecodePrefactura(item Item) (core.PrefacturaRecord, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(item.Attributes, &raw); err != nil {
		return core.PrefacturaRecord{}, fmt.Errorf("decode prefactura %s/%s: %w", item.PK, item.SK, err)
	}
	rec := core.PrefacturaRecord{
		ID:          firstString(raw, "id", "prefactura_id", "prefacturaId"),
		ProjectID:   firstString(raw, "project_id", "projectId"),
		Month:       firstString(raw, "month", "period"),
		Description: firstString(raw, "description", "descripcion"),
	}
	if rec.ID == "" {
		rec.ID = strings.TrimPrefix(item.SK, PrefacturaSKPrefix)
	}
	if cents := firstInt(raw, "amount_cents", "amountCents"); cents != 0 {
		rec.Amount = core.Money{Cents: cents}
	} else if s := firstString(raw, "amount", "monto"); s != "" {
		if cents, err := core.ParseDecimalToCents(s); err == nil {
			rec.Amount = core.Money{Cents: cents}
		}
	}
	if rec.ID == "" {
		return core.PrefacturaRecord{}, fmt.Errorf("prefactura %s/%s has no identifier", item.PK, item.SK)
	}
	return rec, nil
}

func firstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstInt(raw map[string]json.RawMessage, keys ...string) int64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var n int64
		if err := json.Unmarshal(v, &n); err == nil {
			return n
		}
	}
	return 0
}
