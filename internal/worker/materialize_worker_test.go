package worker

import (
	"context"
	"testing"
	"time"

	"finz/internal/amqp"
	"finz/internal/core"
	"finz/internal/services"
	"finz/internal/storage"
	"finz/internal/storage/memory"
	"finz/internal/taxonomy"
)

type staticSource struct {
	dataset taxonomy.Dataset
	loads   int
}

func (s *staticSource) Load(ctx context.Context) (taxonomy.Dataset, error) {
	s.loads++
	return s.dataset, nil
}

func testSource() *staticSource {
	return &staticSource{dataset: taxonomy.Dataset{
		Version: "test",
		Entries: []taxonomy.Entry{
			{ID: "MOD-ING", LineaGasto: "Ingeniería", Categoria: "Mano de obra", CategoriaCodigo: "MOD", Labor: true},
			{ID: "LIC-SW", LineaGasto: "Licencias software", Categoria: "Licencias", CategoriaCodigo: "LIC"},
		},
	}}
}

func signedBaseline(id, projectID string) core.Baseline {
	return core.Baseline{
		ID:             id,
		ProjectID:      projectID,
		Labor:          []core.LineItem{{Kind: core.LaborEstimate, RubroID: "MOD-ING", Total: core.Money{Cents: 600000}}},
		NonLabor:       []core.LineItem{{Kind: core.NonLaborEstimate, RubroID: "LIC-SW", Total: core.Money{Cents: 120000}}},
		SignatureHash:  "cafe01",
		TotalAmount:    core.Money{Cents: 720000},
		Currency:       "EUR",
		StartDate:      time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		DurationMonths: 6,
		CreatedAt:      time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC),
	}
}

func putBaseline(t *testing.T, store storage.ItemStore, b core.Baseline) {
	t.Helper()
	item, err := storage.EncodeBaseline(b)
	if err != nil {
		t.Fatalf("encode baseline: %v", err)
	}
	if err := store.Put(context.Background(), item); err != nil {
		t.Fatalf("put baseline: %v", err)
	}
}

func countPrefix(t *testing.T, store storage.ItemStore, pk, skPrefix string) int {
	t.Helper()
	n := 0
	cursor := ""
	for {
		page, next, err := store.QueryPrefix(context.Background(), pk, skPrefix, cursor, 50)
		if err != nil {
			t.Fatalf("query %s/%s: %v", pk, skPrefix, err)
		}
		n += len(page)
		if next == "" {
			return n
		}
		cursor = next
	}
}

func TestHandleBaselineSigned(t *testing.T) {
	store := memory.New()
	b := signedBaseline("bl-1", "prj-1")
	putBaseline(t, store, b)

	w := NewMaterializeWorker(store, testSource(), nil, services.DefaultMaterializerConfig(), 10)
	msg := &amqp.BaselineSignedMessage{ProjectID: "prj-1", BaselineID: "bl-1", SignatureHash: "cafe01"}
	if err := w.HandleBaselineSigned(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	pk := storage.ProjectPK("prj-1")
	if got := countPrefix(t, store, pk, storage.AllocationSKPrefix); got != 12 {
		t.Fatalf("allocations = %d, want 12", got)
	}
	if got := countPrefix(t, store, pk, storage.PayrollSKPrefix); got != 6 {
		t.Fatalf("payroll = %d, want 6", got)
	}
	if _, found, err := store.Get(context.Background(), pk, storage.BaselineLinkSK("bl-1")); err != nil || !found {
		t.Fatalf("baseline link missing (found=%v, err=%v)", found, err)
	}
}

type recordingPublisher struct {
	events []*amqp.AuditEventMessage
}

func (p *recordingPublisher) PublishAuditEvent(_ context.Context, msg *amqp.AuditEventMessage) error {
	p.events = append(p.events, msg)
	return nil
}

func TestHandleBaselineSignedPublishesAuditEvent(t *testing.T) {
	store := memory.New()
	putBaseline(t, store, signedBaseline("bl-1", "prj-1"))

	pub := &recordingPublisher{}
	w := NewMaterializeWorker(store, testSource(), nil, services.DefaultMaterializerConfig(), 10)
	w.SetAuditPublisher(pub)

	msg := &amqp.BaselineSignedMessage{ProjectID: "prj-1", BaselineID: "bl-1", Actor: "pmo@example.com"}
	if err := w.HandleBaselineSigned(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Event != "baseline_materialized" || ev.ProjectID != "prj-1" || ev.Actor != "pmo@example.com" {
		t.Fatalf("audit event = %+v", ev)
	}
}

func TestHandleBaselineSignedRejectsWrongProject(t *testing.T) {
	store := memory.New()
	putBaseline(t, store, signedBaseline("bl-1", "prj-1"))

	w := NewMaterializeWorker(store, testSource(), nil, services.DefaultMaterializerConfig(), 10)
	msg := &amqp.BaselineSignedMessage{ProjectID: "prj-other", BaselineID: "bl-1"}
	if err := w.HandleBaselineSigned(context.Background(), msg); err == nil {
		t.Fatal("expected project mismatch error")
	}
}

func TestHandleBaselineSignedMissingBaseline(t *testing.T) {
	store := memory.New()
	w := NewMaterializeWorker(store, testSource(), nil, services.DefaultMaterializerConfig(), 10)
	msg := &amqp.BaselineSignedMessage{ProjectID: "prj-1", BaselineID: "bl-missing"}
	if err := w.HandleBaselineSigned(context.Background(), msg); err == nil {
		t.Fatal("expected error for unknown baseline")
	}
}

func TestStartupSweepMaterializesUnlinkedBaselines(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	pending := signedBaseline("bl-pending", "prj-a")
	done := signedBaseline("bl-done", "prj-b")
	putBaseline(t, store, pending)
	putBaseline(t, store, done)

	w := NewMaterializeWorker(store, testSource(), nil, services.DefaultMaterializerConfig(), 10)

	// bl-done already carries its link, the sweep must leave it alone
	if err := w.HandleBaselineSigned(ctx, &amqp.BaselineSignedMessage{
		ProjectID: "prj-b", BaselineID: "bl-done", SignatureHash: done.SignatureHash,
	}); err != nil {
		t.Fatalf("materialize bl-done: %v", err)
	}
	before := store.Len()

	if err := w.StartupSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if _, found, _ := store.Get(ctx, storage.ProjectPK("prj-a"), storage.BaselineLinkSK("bl-pending")); !found {
		t.Fatal("sweep did not materialize the pending baseline")
	}
	// prj-b partition should be untouched beyond its original items
	if got := countPrefix(t, store, storage.ProjectPK("prj-b"), storage.AuditSKPrefix); got != 1 {
		t.Fatalf("prj-b audit entries = %d, want 1 (sweep re-ran a linked baseline)", got)
	}
	if store.Len() <= before {
		t.Fatal("sweep wrote nothing")
	}
}

func TestTaxonomyRefreshIsAgeBased(t *testing.T) {
	store := memory.New()
	src := testSource()
	w := NewMaterializeWorker(store, src, nil, services.DefaultMaterializerConfig(), 10)

	ctx := context.Background()
	if err := w.RefreshTaxonomyIfNeeded(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := w.RefreshTaxonomyIfNeeded(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if src.loads != 1 {
		t.Fatalf("loads = %d, want 1 (fresh catalog reloaded)", src.loads)
	}

	// age the catalog past the refresh horizon
	w.mu.Lock()
	w.lastRefresh = time.Now().Add(-maxCatalogAge - time.Hour)
	w.mu.Unlock()

	if err := w.RefreshTaxonomyIfNeeded(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if src.loads != 2 {
		t.Fatalf("loads = %d, want 2 (stale catalog kept)", src.loads)
	}
}
