// Package storage implements the partitioned key-value item store backing
// allocation, payroll and audit records, with the same pk/sk composite key
// scheme as the production table.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"finz/internal/core"
)

// MaxBatchSize is the hard ceiling on items per underlying store call.
const MaxBatchSize = 25

// Key prefixes. These must match the production key scheme exactly.
const (
	ProjectPKPrefix  = "PROJECT#"
	BaselinePKPrefix = "BASELINE#"

	AllocationSKPrefix = "ALLOCATION#"
	PayrollSKPrefix    = "PAYROLL#"
	PrefacturaSKPrefix = "PREFACTURA#"
	AuditSKPrefix      = "AUDIT#"
	MetadataSK         = "METADATA"
)

// Item is one stored row: composite key plus a JSON attribute payload.
type Item struct {
	PK         string
	SK         string
	Attributes json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Cursor is an exclusive-start position for paginated scans.
type Cursor struct {
	PK string
	SK string
}

// IsZero reports whether the cursor marks the start (or end) of a scan.
func (c Cursor) IsZero() bool { return c.PK == "" && c.SK == "" }

// ItemStore is the store boundary used by the materializer, migrator and
// forecast assembler. Writes are upserts: putting an existing (pk, sk) key
// replaces its attributes.
type ItemStore interface {
	Put(ctx context.Context, item Item) error
	Get(ctx context.Context, pk, sk string) (Item, bool, error)
	// BatchPut writes items in chunks of at most MaxBatchSize. Each chunk is
	// committed atomically; transient failures are retried with backoff.
	BatchPut(ctx context.Context, items []Item) error
	// QueryPrefix pages through one partition. cursor is the last sk of the
	// previous page, empty for the first. An empty next cursor means done.
	QueryPrefix(ctx context.Context, pk, skPrefix, cursor string, limit int) ([]Item, string, error)
	// ScanPrefix pages through every partition whose pk starts with pkPrefix.
	// A zero next cursor means the scan is complete.
	ScanPrefix(ctx context.Context, pkPrefix string, cursor Cursor, limit int) ([]Item, Cursor, error)
	Close() error
}

// ProjectPK returns the partition key for a project.
func ProjectPK(projectID string) string {
	return ProjectPKPrefix + projectID
}

// BaselinePK returns the legacy partition key for a baseline.
func BaselinePK(baselineID string) string {
	return BaselinePKPrefix + baselineID
}

// AllocationSK returns the allocation sort key for a month and rubro:
// ALLOCATION#{year}-{month}#{rubroId}.
func AllocationSK(mk core.MonthKey, rubroID string) string {
	return fmt.Sprintf("%s%04d-%02d#%s", AllocationSKPrefix, mk.Year, mk.Month, rubroID)
}

// PayrollSK returns the payroll sort key: PAYROLL#{year}-{month}#{rubroId}.
func PayrollSK(mk core.MonthKey, rubroID string) string {
	return fmt.Sprintf("%s%04d-%02d#%s", PayrollSKPrefix, mk.Year, mk.Month, rubroID)
}

// MigratedAllocationSK returns the rewritten sort key used by the key-space
// migration: ALLOCATION#{baselineId}#{rubroId}#{month}.
func MigratedAllocationSK(baselineID, rubroID, month string) string {
	return fmt.Sprintf("%s%s#%s#%s", AllocationSKPrefix, baselineID, rubroID, month)
}

// BaselineLinkSK returns the project-partition link to a baseline.
func BaselineLinkSK(baselineID string) string {
	return BaselinePKPrefix + baselineID
}
