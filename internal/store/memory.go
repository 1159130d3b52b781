package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"anchord/internal/batch"
	"anchord/internal/event"
)

// Memory implements Store using in-memory maps. Useful for testing and
// ephemeral deployments.
type Memory struct {
	mu      sync.RWMutex
	events  map[string]*event.SignedEvent
	batches map[string]*batch.StoredBatch
	order   []string
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:  make(map[string]*event.SignedEvent),
		batches: make(map[string]*batch.StoredBatch),
	}
}

// PersistEvent stores a signed event.
func (m *Memory) PersistEvent(_ context.Context, se *event.SignedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[se.Hash]; ok {
		return nil
	}
	cp := *se
	m.events[se.Hash] = &cp
	return nil
}

// EventByHash returns the signed event with the given hex hash.
func (m *Memory) EventByHash(_ context.Context, hash string) (*event.SignedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	se, ok := m.events[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *se
	return &cp, nil
}

// EventsInRange returns events with source timestamps in [from, to).
func (m *Memory) EventsInRange(_ context.Context, from, to time.Time) ([]*event.SignedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*event.SignedEvent
	for _, se := range m.events {
		if !se.SourceTimestamp.Before(from) && se.SourceTimestamp.Before(to) {
			cp := *se
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceTimestamp.Before(out[j].SourceTimestamp)
	})
	return out, nil
}

// PersistBatch stores a newly created batch.
func (m *Memory) PersistBatch(_ context.Context, b *batch.StoredBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; !ok {
		m.order = append(m.order, b.ID)
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

// UpdateBatchStatus mirrors a batch's mutable fields.
func (m *Memory) UpdateBatchStatus(_ context.Context, b *batch.StoredBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.batches[b.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = b.Status
	stored.TxHash = b.TxHash
	stored.BlockNumber = b.BlockNumber
	stored.AnchoredAt = b.AnchoredAt
	stored.Error = b.Error
	stored.RetryCount = b.RetryCount
	return nil
}

// BatchByID returns a stored batch.
func (m *Memory) BatchByID(_ context.Context, id string) (*batch.StoredBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// BatchesByStatus returns all batches in the given state, oldest first.
func (m *Memory) BatchesByStatus(_ context.Context, status batch.Status) ([]*batch.StoredBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*batch.StoredBatch
	for _, id := range m.order {
		if b := m.batches[id]; b.Status == status {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

// RecentBatches returns up to limit batches, newest first.
func (m *Memory) RecentBatches(_ context.Context, limit int) ([]*batch.StoredBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]*batch.StoredBatch, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.batches[m.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error { return nil }
