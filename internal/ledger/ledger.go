// Package ledger defines the external anchoring collaborator: a client
// that accepts a batch's Merkle root and returns a transaction reference.
//
// Idempotency boundary: re-submitting the same batch ID must not create a
// duplicate audit obligation. The collaborator is assumed to deduplicate
// by batch ID; this package documents that assumption but cannot enforce
// it remotely.
package ledger

import (
	"context"
	"errors"

	"anchord/internal/merkle"
)

// Receipt is the ledger's confirmation of an anchored root.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// Client anchors batch roots to an external tamper-resistant ledger.
type Client interface {
	// AnchorRoot commits a Merkle root for the given batch. Blocking;
	// callers bound it with a context deadline.
	AnchorRoot(ctx context.Context, batchID string, root merkle.Hash, eventCount int) (*Receipt, error)
}

// Errors.
var (
	ErrNoEndpoints = errors.New("ledger: no endpoints configured")
	ErrEmptyResult = errors.New("ledger: empty result from endpoint")
)
