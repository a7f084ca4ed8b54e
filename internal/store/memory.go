package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Memory is an in-process violation log with the same semantics as DB.
// Contents are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	nextUID int64
	rows    []Violation
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextUID: 1}
}

// Insert appends a record and assigns the next uid.
func (m *Memory) Insert(ctx context.Context, v NewViolation) (Violation, error) {
	if err := ctx.Err(); err != nil {
		return Violation{}, err
	}
	if v.Class == "" {
		return Violation{}, errors.New("insert violation: empty class")
	}
	v = v.normalized()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := Violation{
		UID:        m.nextUID,
		OccurredAt: v.OccurredAt,
		Class:      v.Class,
		Image:      append([]byte(nil), v.Image...),
		Workshop:   v.Workshop,
	}
	m.nextUID++
	m.rows = append(m.rows, rec)
	return withoutAlias(rec), nil
}

// Recent returns up to limit records, newest first, without images.
func (m *Memory) Recent(ctx context.Context, limit int) ([]Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := m.sorted()
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// All returns every record, newest first, without images.
func (m *Memory) All(ctx context.Context) ([]Violation, error) {
	return m.Recent(ctx, -1)
}

// Count returns the number of stored records.
func (m *Memory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}

// Get returns one record including its image.
func (m *Memory) Get(ctx context.Context, uid int64) (Violation, error) {
	if err := ctx.Err(); err != nil {
		return Violation{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rows {
		if r.UID == uid {
			return withoutAlias(r), nil
		}
	}
	return Violation{}, ErrNotFound
}

func (m *Memory) sorted() []Violation {
	m.mu.RLock()
	rows := make([]Violation, len(m.rows))
	for i, r := range m.rows {
		r.Image = nil
		rows[i] = r
	}
	m.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].OccurredAt.Equal(rows[j].OccurredAt) {
			return rows[i].OccurredAt.After(rows[j].OccurredAt)
		}
		return rows[i].UID > rows[j].UID
	})
	return rows
}

func withoutAlias(v Violation) Violation {
	v.Image = append([]byte(nil), v.Image...)
	return v
}
