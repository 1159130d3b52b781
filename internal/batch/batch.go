// Package batch accumulates event hashes into batches and drives each
// batch through its anchoring lifecycle: PENDING -> ANCHORING ->
// {ANCHORED | FAILED}. FAILED is retryable, not terminal.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"anchord/internal/merkle"
)

// Status is the anchoring state of a batch.
type Status string

// Batch statuses.
const (
	StatusPending   Status = "PENDING"
	StatusAnchoring Status = "ANCHORING"
	StatusAnchored  Status = "ANCHORED"
	StatusFailed    Status = "FAILED"
)

// PendingEvent is the unit the accumulator buffers: an ingested event's
// identity and content hash, stamped with its arrival time.
type PendingEvent struct {
	ID         string
	Hash       merkle.Hash
	ReceivedAt time.Time
}

// StoredBatch is the audit record of one batch. It is created when the
// accumulator flushes and mutated only by the Manager as anchoring
// progresses; it is never deleted.
type StoredBatch struct {
	ID          string        `json:"id"`
	MerkleRoot  merkle.Hash   `json:"-"`
	EventCount  int           `json:"event_count"`
	EventIDs    []string      `json:"event_ids"`
	EventHashes []merkle.Hash `json:"-"`
	Tree        *merkle.Tree  `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      Status        `json:"status"`
	TxHash      string        `json:"tx_hash,omitempty"`
	BlockNumber uint64        `json:"block_number,omitempty"`
	AnchoredAt  time.Time     `json:"anchored_at,omitempty"`
	Error       string        `json:"error,omitempty"`
	RetryCount  int           `json:"retry_count"`
}

// Summary is the read-only view of a batch exposed through the admin API.
type Summary struct {
	ID          string    `json:"id"`
	MerkleRoot  string    `json:"merkle_root"`
	EventCount  int       `json:"event_count"`
	CreatedAt   time.Time `json:"created_at"`
	Status      Status    `json:"status"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	AnchoredAt  time.Time `json:"anchored_at,omitempty"`
	Error       string    `json:"error,omitempty"`
	RetryCount  int       `json:"retry_count"`
}

// Summary returns the API view of the batch.
func (b *StoredBatch) Summary() Summary {
	return Summary{
		ID:          b.ID,
		MerkleRoot:  merkle.EncodeHex(b.MerkleRoot),
		EventCount:  b.EventCount,
		CreatedAt:   b.CreatedAt,
		Status:      b.Status,
		TxHash:      b.TxHash,
		BlockNumber: b.BlockNumber,
		AnchoredAt:  b.AnchoredAt,
		Error:       b.Error,
		RetryCount:  b.RetryCount,
	}
}

// Persister is the slice of the storage collaborator the Manager needs.
type Persister interface {
	PersistBatch(ctx context.Context, b *StoredBatch) error
	UpdateBatchStatus(ctx context.Context, b *StoredBatch) error
}

// newStoredBatch builds the Merkle tree over the pending events in
// arrival order and derives the batch ID from the root and creation time.
func newStoredBatch(pending []PendingEvent, now time.Time) (*StoredBatch, error) {
	hashes := make([]merkle.Hash, len(pending))
	ids := make([]string, len(pending))
	for i, p := range pending {
		hashes[i] = p.Hash
		ids[i] = p.ID
	}

	tree, err := merkle.Build(hashes)
	if err != nil {
		return nil, err
	}

	return &StoredBatch{
		ID:          deriveBatchID(tree.Root, now),
		MerkleRoot:  tree.Root,
		EventCount:  len(pending),
		EventIDs:    ids,
		EventHashes: hashes,
		Tree:        tree,
		CreatedAt:   now,
		Status:      StatusPending,
	}, nil
}

// deriveBatchID produces an opaque, collision-resistant batch identifier
// from the Merkle root and creation timestamp.
func deriveBatchID(root merkle.Hash, t time.Time) string {
	h := sha256.New()
	h.Write(root[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(t.UnixNano()))
	h.Write(ts[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}
