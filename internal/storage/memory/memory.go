// Package memory provides an in-memory ItemStore with the same upsert and
// pagination semantics as the sqlite store. It backs the "memory" data
// backend and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"finz/internal/storage"
)

type Store struct {
	mu    sync.Mutex
	items map[string]storage.Item // key: pk + "\x00" + sk
}

func New() *Store {
	return &Store{items: make(map[string]storage.Item)}
}

var _ storage.ItemStore = (*Store)(nil)

func key(pk, sk string) string { return pk + "\x00" + sk }

func (s *Store) Put(_ context.Context, item storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(item)
	return nil
}

func (s *Store) upsert(item storage.Item) {
	k := key(item.PK, item.SK)
	if existing, ok := s.items[k]; ok {
		// Upsert keeps the original creation time, like the sqlite store.
		item.CreatedAt = existing.CreatedAt
	}
	item.Attributes = append([]byte(nil), item.Attributes...)
	s.items[k] = item
}

func (s *Store) Get(_ context.Context, pk, sk string) (storage.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key(pk, sk)]
	return item, ok, nil
}

func (s *Store) BatchPut(ctx context.Context, items []storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, item := range items {
		s.upsert(item)
	}
	return nil
}

func (s *Store) QueryPrefix(_ context.Context, pk, skPrefix, cursor string, limit int) ([]storage.Item, string, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []storage.Item
	for _, item := range s.items {
		if item.PK == pk && strings.HasPrefix(item.SK, skPrefix) && item.SK > cursor {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].SK < matched[j].SK })

	next := ""
	if len(matched) > limit {
		matched = matched[:limit]
		next = matched[len(matched)-1].SK
	} else if len(matched) == limit {
		next = matched[len(matched)-1].SK
	}
	return matched, next, nil
}

func (s *Store) ScanPrefix(_ context.Context, pkPrefix string, cursor storage.Cursor, limit int) ([]storage.Item, storage.Cursor, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []storage.Item
	for _, item := range s.items {
		if !strings.HasPrefix(item.PK, pkPrefix) {
			continue
		}
		if item.PK < cursor.PK || (item.PK == cursor.PK && item.SK <= cursor.SK) {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PK != matched[j].PK {
			return matched[i].PK < matched[j].PK
		}
		return matched[i].SK < matched[j].SK
	})

	next := storage.Cursor{}
	if len(matched) >= limit {
		matched = matched[:limit]
		last := matched[len(matched)-1]
		next = storage.Cursor{PK: last.PK, SK: last.SK}
	}
	return matched, next, nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Close() error { return nil }
