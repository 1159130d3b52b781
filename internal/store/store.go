// Package store persists signed events and batch records. It is the
// storage collaborator of the pipeline: the batch manager writes batch
// state through it and the compliance verifier reads events and batches
// back out of it.
package store

import (
	"context"
	"errors"
	"time"

	"anchord/internal/batch"
	"anchord/internal/event"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface consumed by the pipeline.
type Store interface {
	// PersistEvent stores a signed event, keyed by content hash.
	// Storing the same hash twice is a no-op (events are immutable).
	PersistEvent(ctx context.Context, se *event.SignedEvent) error

	// EventByHash returns the signed event with the given hex hash.
	EventByHash(ctx context.Context, hash string) (*event.SignedEvent, error)

	// EventsInRange returns events with source timestamps in [from, to).
	EventsInRange(ctx context.Context, from, to time.Time) ([]*event.SignedEvent, error)

	// PersistBatch stores a newly created batch.
	PersistBatch(ctx context.Context, b *batch.StoredBatch) error

	// UpdateBatchStatus mirrors a batch's mutable fields to storage.
	UpdateBatchStatus(ctx context.Context, b *batch.StoredBatch) error

	// BatchByID returns a stored batch.
	BatchByID(ctx context.Context, id string) (*batch.StoredBatch, error)

	// BatchesByStatus returns all batches in the given state.
	BatchesByStatus(ctx context.Context, status batch.Status) ([]*batch.StoredBatch, error)

	// RecentBatches returns up to limit batches, newest first.
	RecentBatches(ctx context.Context, limit int) ([]*batch.StoredBatch, error)

	// Close releases resources held by the store.
	Close() error
}
