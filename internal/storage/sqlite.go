package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	putRetries   = 4
	retryBackoff = 100 * time.Millisecond
)

// SQLiteStore implements ItemStore on a single-file sqlite database laid out
// as one items table keyed by (pk, sk).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const upsertSQL = `
INSERT INTO items (pk, sk, attributes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (pk, sk) DO UPDATE SET
	attributes = excluded.attributes,
	updated_at = excluded.updated_at`

// Put upserts a single item. Last writer wins, which is safe because every
// writer derives the payload deterministically from its input.
func (s *SQLiteStore) Put(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, upsertSQL,
		item.PK, item.SK, string(item.Attributes),
		item.CreatedAt.UTC(), item.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put item %s/%s: %w", item.PK, item.SK, err)
	}
	return nil
}

// Get fetches one item by its composite key.
func (s *SQLiteStore) Get(ctx context.Context, pk, sk string) (Item, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT pk, sk, attributes, created_at, updated_at FROM items WHERE pk = ? AND sk = ?`,
		pk, sk)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("get item %s/%s: %w", pk, sk, err)
	}
	return item, true, nil
}

// BatchPut writes items in chunks of at most MaxBatchSize, one transaction
// per chunk. A failed chunk is retried with backoff; a chunk either commits
// fully or the error is returned, never a silent partial write.
func (s *SQLiteStore) BatchPut(ctx context.Context, items []Item) error {
	for start := 0; start < len(items); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(items) {
			end = len(items)
		}
		if err := s.putChunk(ctx, items[start:end]); err != nil {
			return fmt.Errorf("batch put items %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) putChunk(ctx context.Context, chunk []Item) error {
	var lastErr error
	for attempt := 0; attempt <= putRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff * time.Duration(1<<(attempt-1))
			slog.WarnContext(ctx, "Retrying batch chunk",
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if lastErr = s.tryChunk(ctx, chunk); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (s *SQLiteStore) tryChunk(ctx context.Context, chunk []Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, item := range chunk {
		if _, err := stmt.ExecContext(ctx,
			item.PK, item.SK, string(item.Attributes),
			item.CreatedAt.UTC(), item.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", item.PK, item.SK, err)
		}
	}
	return tx.Commit()
}

// QueryPrefix pages through one partition ordered by sk. cursor is the last
// sk seen, exclusive; empty means start from the beginning.
func (s *SQLiteStore) QueryPrefix(ctx context.Context, pk, skPrefix, cursor string, limit int) ([]Item, string, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT pk, sk, attributes, created_at, updated_at
		 FROM items
		 WHERE pk = ? AND sk >= ? AND sk < ? AND sk > ?
		 ORDER BY sk
		 LIMIT ?`,
		pk, skPrefix, prefixUpperBound(skPrefix), cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("query partition %s: %w", pk, err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, "", fmt.Errorf("query partition %s: %w", pk, err)
	}
	next := ""
	if len(items) == limit {
		next = items[len(items)-1].SK
	}
	return items, next, nil
}

// ScanPrefix pages across partitions whose pk starts with pkPrefix, ordered
// by (pk, sk). The returned cursor restarts the scan after the last item; a
// zero cursor means the scan is complete.
func (s *SQLiteStore) ScanPrefix(ctx context.Context, pkPrefix string, cursor Cursor, limit int) ([]Item, Cursor, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT pk, sk, attributes, created_at, updated_at
		 FROM items
		 WHERE pk >= ? AND pk < ? AND (pk > ? OR (pk = ? AND sk > ?))
		 ORDER BY pk, sk
		 LIMIT ?`,
		pkPrefix, prefixUpperBound(pkPrefix), cursor.PK, cursor.PK, cursor.SK, limit)
	if err != nil {
		return nil, Cursor{}, fmt.Errorf("scan prefix %s: %w", pkPrefix, err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, Cursor{}, fmt.Errorf("scan prefix %s: %w", pkPrefix, err)
	}
	next := Cursor{}
	if len(items) == limit {
		last := items[len(items)-1]
		next = Cursor{PK: last.PK, SK: last.SK}
	}
	return items, next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (Item, error) {
	var item Item
	var attrs string
	if err := r.Scan(&item.PK, &item.SK, &attrs, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	item.Attributes = []byte(attrs)
	return item, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// prefixUpperBound returns the smallest string greater than every string with
// the given prefix, for half-open range queries on text keys.
func prefixUpperBound(prefix string) string {
	if prefix == "" {
		return "￿"
	}
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}
