// Package worker runs the baseline materialization consumer: it reacts to
// baseline signed events, recovers missed work on startup, and keeps the
// taxonomy catalog fresh.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"finz/internal/amqp"
	"finz/internal/core"
	"finz/internal/forecast"
	"finz/internal/services"
	"finz/internal/storage"
	"finz/internal/taxonomy"
)

// TaxonomySource loads a taxonomy dataset from wherever the deployment keeps
// its reference data.
type TaxonomySource interface {
	Load(ctx context.Context) (taxonomy.Dataset, error)
}

// AuditPublisher forwards audit events to downstream consumers. Publication
// is best-effort; failures are logged, never propagated.
type AuditPublisher interface {
	PublishAuditEvent(ctx context.Context, msg *amqp.AuditEventMessage) error
}

// maxCatalogAge is how long a loaded taxonomy stays valid before the periodic
// refresh re-reads the source.
const maxCatalogAge = 7 * 24 * time.Hour

// MaterializeWorker expands signed baselines into allocation records. It is
// driven by AMQP messages, with a startup sweep as backup for lost messages.
type MaterializeWorker struct {
	store     storage.ItemStore
	source    TaxonomySource
	assembler *forecast.Assembler
	config    services.MaterializerConfig
	sweepSize int
	audit     AuditPublisher

	mu          sync.RWMutex
	catalog     *taxonomy.Catalog
	lastRefresh time.Time
}

func NewMaterializeWorker(store storage.ItemStore, source TaxonomySource, assembler *forecast.Assembler, config services.MaterializerConfig, sweepSize int) *MaterializeWorker {
	if sweepSize < 1 {
		sweepSize = 100
	}
	return &MaterializeWorker{
		store:     store,
		source:    source,
		assembler: assembler,
		config:    config,
		sweepSize: sweepSize,
	}
}

// HandleBaselineSigned processes a single baseline signed message. The
// baseline is always re-read from storage so a stale queue entry cannot
// overwrite fresh data.
func (w *MaterializeWorker) HandleBaselineSigned(ctx context.Context, msg *amqp.BaselineSignedMessage) error {
	slog.InfoContext(ctx, "Processing baseline signed message",
		"project_id", msg.ProjectID,
		"baseline_id", msg.BaselineID)

	baseline, err := w.loadBaseline(ctx, msg.BaselineID)
	if err != nil {
		return err
	}
	if baseline.ProjectID != msg.ProjectID {
		return fmt.Errorf("baseline %s belongs to project %s, message says %s",
			msg.BaselineID, baseline.ProjectID, msg.ProjectID)
	}
	if msg.SignatureHash != "" && baseline.SignatureHash != msg.SignatureHash {
		slog.WarnContext(ctx, "Signature hash in message does not match stored baseline, using stored",
			"baseline_id", msg.BaselineID)
	}

	return w.materialize(ctx, baseline, msg.Actor)
}

func (w *MaterializeWorker) materialize(ctx context.Context, baseline core.Baseline, actor string) error {
	catalog, err := w.currentCatalog(ctx)
	if err != nil {
		return err
	}
	if actor == "" {
		actor = "worker"
	}

	m := services.NewMaterializer(w.store, catalog, w.config)
	report, err := m.Materialize(ctx, baseline, actor)
	if err != nil {
		return fmt.Errorf("materialize baseline %s: %w", baseline.ID, err)
	}
	for _, rej := range report.Rejected {
		slog.WarnContext(ctx, "Line item rejected during materialization",
			"baseline_id", baseline.ID,
			"line", rej.Error())
	}

	if w.assembler != nil {
		w.assembler.Invalidate(baseline.ProjectID)
	}
	if w.audit != nil {
		msg := &amqp.AuditEventMessage{
			ProjectID:     baseline.ProjectID,
			BaselineID:    baseline.ID,
			Event:         "baseline_materialized",
			Actor:         actor,
			SignatureHash: baseline.SignatureHash,
			Timestamp:     time.Now().UTC(),
		}
		if err := w.audit.PublishAuditEvent(ctx, msg); err != nil {
			slog.WarnContext(ctx, "Failed to publish audit event",
				"baseline_id", baseline.ID, "error", err)
		}
	}
	return nil
}

// SetAuditPublisher attaches a best-effort audit event publisher. Call before
// consumption starts.
func (w *MaterializeWorker) SetAuditPublisher(p AuditPublisher) {
	w.audit = p
}

func (w *MaterializeWorker) loadBaseline(ctx context.Context, baselineID string) (core.Baseline, error) {
	item, found, err := w.store.Get(ctx, storage.BaselinePK(baselineID), storage.MetadataSK)
	if err != nil {
		return core.Baseline{}, fmt.Errorf("load baseline %s: %w", baselineID, err)
	}
	if !found {
		return core.Baseline{}, fmt.Errorf("baseline %s not found", baselineID)
	}
	return storage.DecodeBaseline(item)
}

// StartupSweep re-materializes baselines whose project partition is missing
// the link item, recovering from messages lost while the worker was down.
func (w *MaterializeWorker) StartupSweep(ctx context.Context) error {
	var pending []core.Baseline
	cursor := storage.Cursor{}
	for {
		page, next, err := w.store.ScanPrefix(ctx, storage.BaselinePKPrefix, cursor, w.sweepSize)
		if err != nil {
			return fmt.Errorf("scan baselines: %w", err)
		}
		for _, item := range page {
			if item.SK != storage.MetadataSK {
				continue
			}
			baseline, err := storage.DecodeBaseline(item)
			if err != nil {
				slog.WarnContext(ctx, "Skipping undecodable baseline metadata",
					"pk", item.PK, "error", err)
				continue
			}
			materialized, err := w.isMaterialized(ctx, baseline)
			if err != nil {
				return err
			}
			if !materialized {
				pending = append(pending, baseline)
			}
		}
		if next.IsZero() {
			break
		}
		cursor = next
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending baselines found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending baselines on startup, processing",
		"count", len(pending))

	var done, failed int
	for _, baseline := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.materialize(ctx, baseline, "startup-sweep"); err != nil {
			slog.ErrorContext(ctx, "Failed to materialize baseline during sweep",
				"baseline_id", baseline.ID, "error", err)
			failed++
			continue
		}
		done++
	}

	slog.InfoContext(ctx, "Startup sweep completed",
		"total", len(pending),
		"materialized", done,
		"errors", failed)
	return nil
}

func (w *MaterializeWorker) isMaterialized(ctx context.Context, baseline core.Baseline) (bool, error) {
	_, found, err := w.store.Get(ctx,
		storage.ProjectPK(baseline.ProjectID),
		storage.BaselineLinkSK(baseline.ID))
	if err != nil {
		return false, fmt.Errorf("check link for baseline %s: %w", baseline.ID, err)
	}
	return found, nil
}

// RefreshTaxonomyIfNeeded reloads the catalog when none is loaded yet or the
// current one is older than maxCatalogAge. Safe to call from a ticker.
func (w *MaterializeWorker) RefreshTaxonomyIfNeeded(ctx context.Context) error {
	w.mu.RLock()
	fresh := w.catalog != nil && time.Since(w.lastRefresh) < maxCatalogAge
	w.mu.RUnlock()
	if fresh {
		return nil
	}
	return w.ForceRefreshTaxonomy(ctx)
}

// ForceRefreshTaxonomy reloads the catalog from the source unconditionally.
func (w *MaterializeWorker) ForceRefreshTaxonomy(ctx context.Context) error {
	dataset, err := w.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}
	catalog := dataset.Catalog()

	w.mu.Lock()
	w.catalog = catalog
	w.lastRefresh = time.Now()
	w.mu.Unlock()

	slog.InfoContext(ctx, "Taxonomy catalog refreshed",
		"version", dataset.Version,
		"entries", catalog.Len())
	return nil
}

func (w *MaterializeWorker) currentCatalog(ctx context.Context) (*taxonomy.Catalog, error) {
	w.mu.RLock()
	catalog := w.catalog
	w.mu.RUnlock()
	if catalog != nil {
		return catalog, nil
	}
	if err := w.ForceRefreshTaxonomy(ctx); err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.catalog, nil
}

// Describe returns a short human-readable worker status line for logs.
func (w *MaterializeWorker) Describe() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	parts := []string{"materialize-worker"}
	if w.catalog != nil {
		parts = append(parts, fmt.Sprintf("catalog=%d entries", w.catalog.Len()))
		parts = append(parts, "refreshed="+w.lastRefresh.UTC().Format(time.RFC3339))
	} else {
		parts = append(parts, "catalog=unloaded")
	}
	return strings.Join(parts, " ")
}
