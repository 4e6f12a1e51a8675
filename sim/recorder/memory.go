package recorder

import (
	"fmt"
	"sync"
)

// MemBackend keeps every notified row in memory. It supports Query and is
// the default sink when no output path is given.
type MemBackend struct {
	mu     sync.Mutex
	tables map[string]*tableBuf
	closed bool
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{tables: make(map[string]*tableBuf)}
}

func (m *MemBackend) Name() string { return "memory" }

// Notify stores a copy of the batch.
func (m *MemBackend) Notify(table string, schema Schema, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory backend closed")
	}
	tb, ok := m.tables[table]
	if !ok {
		tb = &tableBuf{schema: schema}
		m.tables[table] = tb
	}
	for _, r := range rows {
		tb.rows = append(tb.rows, append(Row(nil), r...))
	}
	return nil
}

// Close marks the backend closed. Stored rows stay queryable.
func (m *MemBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Query returns the rows of table satisfying every condition, in insertion order.
func (m *MemBackend) Query(table string, conds []Cond) (*QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("no such table %q", table)
	}
	res := &QueryResult{Schema: tb.schema}
	for _, row := range tb.rows {
		ok, err := Match(tb.schema, row, conds)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Rows = append(res.Rows, row)
		}
	}
	return res, nil
}

// Tables lists table names that received at least one row.
func (m *MemBackend) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	return names
}

// Count returns the number of stored rows of table.
func (m *MemBackend) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tb, ok := m.tables[table]; ok {
		return len(tb.rows)
	}
	return 0
}
