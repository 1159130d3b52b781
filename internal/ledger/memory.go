package ledger

import (
	"context"
	"fmt"
	"sync"

	"anchord/internal/merkle"
)

// MemoryLedger is an in-process ledger for tests and development. It
// models the gateway's batch-ID idempotency: re-anchoring a known batch
// returns the original receipt instead of creating a new one.
type MemoryLedger struct {
	mu       sync.Mutex
	receipts map[string]*Receipt
	failures int // remaining calls to fail before succeeding
	block    uint64
	calls    int
}

// NewMemoryLedger creates an in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{receipts: make(map[string]*Receipt), block: 1000}
}

// FailNext makes the next n AnchorRoot calls fail.
func (m *MemoryLedger) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Calls returns the number of AnchorRoot invocations seen.
func (m *MemoryLedger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// AnchorRoot records the root and returns a synthetic receipt.
func (m *MemoryLedger) AnchorRoot(ctx context.Context, batchID string, root merkle.Hash, eventCount int) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.failures > 0 {
		m.failures--
		return nil, fmt.Errorf("ledger: simulated submission failure")
	}

	if r, ok := m.receipts[batchID]; ok {
		return r, nil
	}

	m.block++
	r := &Receipt{
		TxHash:      merkle.Encode0x(root),
		BlockNumber: m.block,
	}
	m.receipts[batchID] = r
	return r, nil
}
