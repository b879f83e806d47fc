package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aluiziolira/civic-crawler/models"
)

// Memory keeps records in process memory. It backs dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	records []*models.Record
	byHash  map[string]string
	closed  bool
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{byHash: make(map[string]string)}
}

// Persist stores a copy of rec. A second record with the same content hash
// is not stored; the first id is returned.
func (m *Memory) Persist(_ context.Context, rec *models.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}
	if id, ok := m.byHash[rec.ContentHash]; ok {
		return id, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	stored := *rec
	m.records = append(m.records, &stored)
	m.byHash[rec.ContentHash] = rec.ID
	return rec.ID, nil
}

// ExistsByHash reports whether a record with hash was persisted.
func (m *Memory) ExistsByHash(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byHash[hash]
	return ok, nil
}

// Records returns the stored records in insertion order.
func (m *Memory) Records() []*models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Close rejects further writes.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
