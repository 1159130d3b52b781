package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"anchord/internal/ledger"
	"anchord/internal/merkle"
	"anchord/internal/metrics"
)

// Manager errors.
var (
	ErrUnknownBatch  = errors.New("batch: unknown batch")
	ErrNotAnchorable = errors.New("batch: batch is not in an anchorable state")
	ErrNotFailed     = errors.New("batch: batch is not in FAILED state")
)

// ManagerConfig configures the batch manager.
type ManagerConfig struct {
	// AnchorTimeout bounds each ledger submission. An attempt that
	// exceeds it is treated as FAILED, never left ANCHORING.
	AnchorTimeout time.Duration

	// Workers is the number of anchoring worker goroutines.
	Workers int
}

// Manager owns batch lifecycle. It is the single writer of StoredBatch
// state: every mutation (status transition, retry count, anchor fields)
// goes through it. Anchoring runs on worker goroutines fed by a queue so
// a slow or unavailable ledger never backs up event ingestion.
type Manager struct {
	log    *slog.Logger
	acc    *Accumulator
	ledger ledger.Client
	store  Persister
	met    *metrics.Pipeline

	anchorTimeout time.Duration
	workers       int

	mu      sync.Mutex
	batches map[string]*StoredBatch
	order   []string
	closed  bool

	anchorQ chan string
	quit    chan struct{}
	loopWG  sync.WaitGroup
	workWG  sync.WaitGroup
}

// NewManager creates a batch manager. All collaborators are passed in
// explicitly; nothing here is a process-wide singleton.
func NewManager(cfg ManagerConfig, acc *Accumulator, lc ledger.Client, store Persister, log *slog.Logger, met *metrics.Pipeline) *Manager {
	if cfg.AnchorTimeout <= 0 {
		cfg.AnchorTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Manager{
		log:           log.With("component", "batch-manager"),
		acc:           acc,
		ledger:        lc,
		store:         store,
		met:           met,
		anchorTimeout: cfg.AnchorTimeout,
		workers:       cfg.Workers,
		batches:       make(map[string]*StoredBatch),
		anchorQ:       make(chan string, 256),
		quit:          make(chan struct{}),
	}
}

// Accumulator returns the manager's accumulator.
func (m *Manager) Accumulator() *Accumulator { return m.acc }

// Start launches the flush consumer and the anchoring workers.
func (m *Manager) Start() {
	m.loopWG.Add(1)
	go m.readyLoop()

	for i := 0; i < m.workers; i++ {
		m.workWG.Add(1)
		go m.anchorLoop()
	}
}

// Stop performs a final forced flush, then drains the anchoring queue
// and waits for in-flight submissions (each bounded by AnchorTimeout).
func (m *Manager) Stop(ctx context.Context) {
	close(m.quit)
	m.loopWG.Wait()

	// Final administrative cutoff: pick up any snapshot flushed after
	// the consumer exited, then batch whatever is still buffered.
	m.consumeReady(ctx)
	m.Flush(ctx)

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	close(m.anchorQ)
	m.workWG.Wait()
}

// readyLoop consumes size- and age-triggered flush snapshots.
func (m *Manager) readyLoop() {
	defer m.loopWG.Done()
	for {
		select {
		case <-m.quit:
			// Drain anything flushed while shutting down.
			m.consumeReady(context.Background())
			return
		case <-m.acc.Signal():
			m.consumeReady(context.Background())
		}
	}
}

func (m *Manager) consumeReady(ctx context.Context) {
	for _, snapshot := range m.acc.TakeReady() {
		if _, err := m.createBatch(ctx, snapshot); err != nil {
			m.log.Error("batch creation failed", "error", err, "events", len(snapshot))
		}
	}
}

// anchorLoop processes queued batch IDs until the queue closes.
func (m *Manager) anchorLoop() {
	defer m.workWG.Done()
	for id := range m.anchorQ {
		if err := m.Anchor(context.Background(), id); err != nil {
			m.log.Warn("anchoring attempt failed", "batch", id, "error", err)
		}
	}
}

// createBatch builds the Merkle tree over a flush snapshot, registers the
// batch as PENDING, persists it, and queues it for anchoring.
func (m *Manager) createBatch(ctx context.Context, pending []PendingEvent) (*StoredBatch, error) {
	b, err := newStoredBatch(pending, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.batches[b.ID] = b
	m.order = append(m.order, b.ID)
	m.mu.Unlock()

	if err := m.store.PersistBatch(ctx, b); err != nil {
		// The in-memory record remains authoritative; anchoring still
		// proceeds so the audit obligation is not dropped.
		m.log.Error("persist batch failed", "batch", b.ID, "error", err)
	}

	m.met.BatchesFlushed.Inc()
	m.log.Info("batch created",
		"batch", b.ID,
		"events", b.EventCount,
		"root", merkle.EncodeHex(b.MerkleRoot))

	// Queue for a worker; the mutex keeps the send and the shutdown
	// close of anchorQ from interleaving. A saturated or closed queue
	// falls back to anchoring inline on this goroutine.
	m.mu.Lock()
	queued := false
	if !m.closed {
		select {
		case m.anchorQ <- b.ID:
			queued = true
		default:
		}
	}
	m.mu.Unlock()

	if !queued {
		if err := m.Anchor(ctx, b.ID); err != nil {
			m.log.Warn("anchoring attempt failed", "batch", b.ID, "error", err)
		}
	}
	return b, nil
}

// Anchor submits a batch's root to the ledger. Only PENDING and FAILED
// batches are eligible. On success the batch becomes ANCHORED; on any
// failure (error, empty receipt, timeout) it becomes FAILED with the
// error recorded and the retry count incremented. Safe to call again for
// a FAILED batch; the ledger collaborator deduplicates by batch ID.
func (m *Manager) Anchor(ctx context.Context, batchID string) error {
	m.mu.Lock()
	b, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBatch, batchID)
	}
	if b.Status != StatusPending && b.Status != StatusFailed {
		status := b.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotAnchorable, batchID, status)
	}
	b.Status = StatusAnchoring
	root := b.MerkleRoot
	count := b.EventCount
	m.mu.Unlock()

	m.persistUpdate(ctx, batchID)
	m.met.AnchorAttempts.Inc()

	callCtx, cancel := context.WithTimeout(ctx, m.anchorTimeout)
	start := time.Now()
	receipt, err := m.ledger.AnchorRoot(callCtx, batchID, root, count)
	cancel()
	m.met.AnchorLatency.Observe(time.Since(start).Seconds())

	if err == nil && receipt == nil {
		err = ledger.ErrEmptyResult
	}

	m.mu.Lock()
	if err != nil {
		b.Status = StatusFailed
		b.Error = err.Error()
		b.RetryCount++
		retries := b.RetryCount
		m.mu.Unlock()

		m.persistUpdate(ctx, batchID)
		m.met.AnchorFailures.Inc()
		m.log.Warn("batch anchoring failed",
			"batch", batchID, "retries", retries, "error", err)
		return err
	}

	b.Status = StatusAnchored
	b.TxHash = receipt.TxHash
	b.BlockNumber = receipt.BlockNumber
	b.AnchoredAt = time.Now().UTC()
	b.Error = ""
	m.mu.Unlock()

	m.persistUpdate(ctx, batchID)
	m.log.Info("batch anchored",
		"batch", batchID,
		"tx", receipt.TxHash,
		"block", receipt.BlockNumber)
	return nil
}

// Adopt registers a batch restored from storage, typically at startup.
// PENDING and FAILED batches are queued for anchoring. Call before Start.
func (m *Manager) Adopt(b *StoredBatch) {
	cp := *b

	m.mu.Lock()
	if _, exists := m.batches[cp.ID]; exists {
		m.mu.Unlock()
		return
	}
	m.batches[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	eligible := cp.Status == StatusPending || cp.Status == StatusFailed
	if eligible && !m.closed {
		select {
		case m.anchorQ <- cp.ID:
		default:
		}
	}
	m.mu.Unlock()
}

// Retry re-submits a FAILED batch.
func (m *Manager) Retry(ctx context.Context, batchID string) error {
	m.mu.Lock()
	b, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBatch, batchID)
	}
	if b.Status != StatusFailed {
		status := b.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, batchID, status)
	}
	m.mu.Unlock()
	return m.Anchor(ctx, batchID)
}

// persistUpdate mirrors the current batch state to storage.
func (m *Manager) persistUpdate(ctx context.Context, batchID string) {
	m.mu.Lock()
	b, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return
	}
	snapshot := *b
	m.mu.Unlock()

	if err := m.store.UpdateBatchStatus(ctx, &snapshot); err != nil {
		m.log.Error("persist batch update failed", "batch", batchID, "error", err)
	}
}

// Flush forces an immediate batch from the current buffer, bypassing the
// size and age thresholds. Returns nil if the buffer was empty.
func (m *Manager) Flush(ctx context.Context) *StoredBatch {
	snapshot := m.acc.Flush()
	if snapshot == nil {
		return nil
	}
	b, err := m.createBatch(ctx, snapshot)
	if err != nil {
		m.log.Error("forced flush failed", "error", err)
		return nil
	}
	return b
}

// Batch returns the batch with the given ID.
func (m *Manager) Batch(batchID string) (*StoredBatch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, false
	}
	snapshot := *b
	return &snapshot, true
}

// EventProof returns the inclusion proof for an event hash within a
// batch. Unknown batch or event yields (nil, false); that is a normal
// outcome, not an error.
func (m *Manager) EventProof(batchID, eventHash string) (*merkle.Proof, bool) {
	target, err := merkle.DecodeHex(eventHash)
	if err != nil {
		return nil, false
	}

	m.mu.Lock()
	b, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	tree := b.Tree
	index := -1
	for i, h := range b.EventHashes {
		if h == target {
			index = i
			break
		}
	}
	m.mu.Unlock()

	if index < 0 {
		return nil, false
	}
	proof, err := tree.Proof(index)
	if err != nil {
		return nil, false
	}
	return proof, true
}

// Stats summarizes the pipeline for the admin surface.
type Stats struct {
	PendingEventCount int `json:"pending_event_count"`
	TotalBatches      int `json:"total_batches"`
	AnchoredBatches   int `json:"anchored_batches"`
	FailedBatches     int `json:"failed_batches"`
}

// Stats returns current pipeline statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		PendingEventCount: m.acc.PendingCount(),
		TotalBatches:      len(m.batches),
	}
	for _, b := range m.batches {
		switch b.Status {
		case StatusAnchored:
			s.AnchoredBatches++
		case StatusFailed:
			s.FailedBatches++
		}
	}
	return s
}

// History returns recent batch summaries, newest first.
func (m *Manager) History(limit int) []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]Summary, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.batches[m.order[i]].Summary())
	}
	return out
}

// Pending returns the hex hashes buffered but not yet batched.
func (m *Manager) Pending() []string {
	return m.acc.Pending()
}
