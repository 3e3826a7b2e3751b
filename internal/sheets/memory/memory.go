package memory

import (
	"context"
	"fmt"
	"sync"

	ports "bizdash/internal/sheets"
)

var _ ports.Mirror = (*Store)(nil)

// Store keeps mirrored rows in process. Rows keep their first-insert order,
// like appended spreadsheet rows do.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
}

type table struct {
	order []string
	rows  map[string][]string
}

func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func (s *Store) UpsertRow(_ context.Context, entity, id string, values []string) error {
	if entity == "" || id == "" {
		return fmt.Errorf("memory mirror: entity and id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[entity]
	if !ok {
		t = &table{rows: make(map[string][]string)}
		s.tables[entity] = t
	}
	if _, exists := t.rows[id]; !exists {
		t.order = append(t.order, id)
	}
	t.rows[id] = append([]string(nil), values...)
	return nil
}

// DeleteRow is a no-op for unknown rows.
func (s *Store) DeleteRow(_ context.Context, entity, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[entity]
	if !ok {
		return nil
	}
	if _, exists := t.rows[id]; !exists {
		return nil
	}
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// Row returns a copy of the stored values.
func (s *Store) Row(entity, id string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[entity]
	if !ok {
		return nil, false
	}
	v, ok := t.rows[id]
	return append([]string(nil), v...), ok
}

// IDs lists row ids of an entity in insertion order.
func (s *Store) IDs(entity string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[entity]
	if !ok {
		return nil
	}
	return append([]string(nil), t.order...)
}
