package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Rows for a key are held sorted by (AsOf, Cursor) so as-of
// lookups mirror the Postgres backend exactly.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[Key][]Row // rollup -> key -> rows
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[Key][]Row)}
}

func (s *MemoryStore) GetLatest(_ context.Context, rollup string, key Key) (Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[rollup][key]
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[len(rows)-1], nil
}

func (s *MemoryStore) GetAsOf(_ context.Context, rollup string, key Key, unix int64) (Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[rollup][key]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].AsOf() <= unix {
			return rows[i], nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Append(_ context.Context, rollup string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.data[rollup]
	if byKey == nil {
		byKey = make(map[Key][]Row)
		s.data[rollup] = byKey
	}

	for _, row := range rows {
		existing := byKey[row.Key()]
		if containsCursor(existing, row.Cursor()) {
			continue // append-only: identical identity is a no-op
		}
		existing = append(existing, row)
		sort.SliceStable(existing, func(i, j int) bool {
			if existing[i].AsOf() != existing[j].AsOf() {
				return existing[i].AsOf() < existing[j].AsOf()
			}
			return existing[i].Cursor() < existing[j].Cursor()
		})
		byKey[row.Key()] = existing
	}
	return nil
}

func containsCursor(rows []Row, cursor int64) bool {
	for _, r := range rows {
		if r.Cursor() == cursor {
			return true
		}
	}
	return false
}

// Len reports the number of rows held for a rollup, across all keys.
func (s *MemoryStore) Len(rollup string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rows := range s.data[rollup] {
		n += len(rows)
	}
	return n
}
