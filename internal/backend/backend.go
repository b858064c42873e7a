// Package backend wires the configured item store and taxonomy source so the
// binaries share one construction path.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"finz/internal/config"
	"finz/internal/storage"
	"finz/internal/storage/memory"
	"finz/internal/taxonomy"
	gsheet "finz/internal/taxonomy/sheets"
	"finz/internal/worker"
)

// Type selects the item store implementation.
type Type string

const (
	SQLiteBackend Type = "sqlite"
	MemoryBackend Type = "memory"
)

func (t Type) String() string { return string(t) }

// IsValid returns true if the backend type is valid.
func (t Type) IsValid() bool {
	switch t {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// Result contains the constructed store and taxonomy source plus an optional
// cleanup function.
type Result struct {
	Store    storage.ItemStore
	Taxonomy worker.TaxonomySource
	Cleanup  CleanupFunc
}

// New builds the item store and taxonomy source described by the app config.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	backendType := Type(cfg.DataBackend)
	if !backendType.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", cfg.DataBackend)
	}

	store, cleanup, err := newStore(backendType, cfg)
	if err != nil {
		return nil, err
	}

	source, err := newTaxonomySource(ctx, cfg)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, err
	}

	return &Result{Store: store, Taxonomy: source, Cleanup: cleanup}, nil
}

func newStore(backendType Type, cfg *config.Config) (storage.ItemStore, CleanupFunc, error) {
	switch backendType {
	case SQLiteBackend:
		store, err := storage.NewSQLiteStore(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize SQLite store: %w", err)
		}
		slog.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return store, store.Close, nil
	case MemoryBackend:
		slog.Info("Initialized memory backend")
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}

func newTaxonomySource(ctx context.Context, cfg *config.Config) (worker.TaxonomySource, error) {
	switch cfg.TaxonomySource {
	case "sheets":
		source, err := gsheet.NewFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize sheets taxonomy source: %w", err)
		}
		slog.Info("Using Google Sheets taxonomy source")
		return source, nil
	case "embedded", "":
		return embeddedTaxonomy{}, nil
	default:
		return nil, fmt.Errorf("unsupported taxonomy source: %s", cfg.TaxonomySource)
	}
}

type embeddedTaxonomy struct{}

func (embeddedTaxonomy) Load(context.Context) (taxonomy.Dataset, error) {
	return taxonomy.LoadEmbedded()
}
