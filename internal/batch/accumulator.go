package batch

import (
	"errors"
	"sync"
	"time"

	"anchord/internal/merkle"
)

// Limits are the runtime-tunable accumulator thresholds.
type Limits struct {
	// MaxBatchSize triggers an immediate flush when the buffer reaches it.
	MaxBatchSize int

	// MinBatchSize is the smallest buffer an age-triggered flush emits.
	MinBatchSize int

	// MaxBatchAge flushes whatever is buffered once the oldest entry has
	// waited this long.
	MaxBatchAge time.Duration

	// MaxPending bounds the buffer. The overflow policy is force-flush:
	// when the bound is reached the buffer is flushed early rather than
	// rejecting producers.
	MaxPending int

	// Enabled gates ingestion entirely.
	Enabled bool
}

// DefaultLimits returns the default accumulator thresholds.
func DefaultLimits() Limits {
	return Limits{
		MaxBatchSize: 100,
		MinBatchSize: 1,
		MaxBatchAge:  30 * time.Second,
		MaxPending:   1000,
		Enabled:      true,
	}
}

// ErrDisabled is returned by Add while the accumulator is disabled.
var ErrDisabled = errors.New("batch: accumulator is disabled")

// Accumulator buffers incoming event hashes and decides, by size or age,
// when a batch is ready. Buffer and timer state share one mutex so the
// size trigger and the age trigger can never flush overlapping sets.
// Ready snapshots are queued and announced on Signal; draining them never
// blocks producers.
type Accumulator struct {
	mu     sync.Mutex
	limits Limits
	buf    []PendingEvent
	timer  *time.Timer

	readyQ [][]PendingEvent
	signal chan struct{}
}

// NewAccumulator creates an accumulator with the given limits.
func NewAccumulator(limits Limits) *Accumulator {
	if limits.MaxBatchSize <= 0 {
		limits.MaxBatchSize = DefaultLimits().MaxBatchSize
	}
	if limits.MinBatchSize <= 0 {
		limits.MinBatchSize = 1
	}
	if limits.MaxBatchAge <= 0 {
		limits.MaxBatchAge = DefaultLimits().MaxBatchAge
	}
	if limits.MaxPending < limits.MaxBatchSize {
		limits.MaxPending = 10 * limits.MaxBatchSize
	}
	return &Accumulator{
		limits: limits,
		signal: make(chan struct{}, 1),
	}
}

// Signal announces that at least one ready snapshot is queued.
func (a *Accumulator) Signal() <-chan struct{} {
	return a.signal
}

// Add appends a pending event. It only touches the in-memory buffer and
// returns immediately; it never blocks on network or persistence I/O.
func (a *Accumulator) Add(id string, hash merkle.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.limits.Enabled {
		return ErrDisabled
	}

	a.buf = append(a.buf, PendingEvent{ID: id, Hash: hash, ReceivedAt: time.Now().UTC()})

	if len(a.buf) >= a.limits.MaxBatchSize || len(a.buf) >= a.limits.MaxPending {
		a.enqueueLocked(a.flushLocked(true))
		return nil
	}

	if a.timer == nil {
		a.timer = time.AfterFunc(a.limits.MaxBatchAge, a.flushAged)
	}
	return nil
}

// flushAged is the age-trigger callback.
func (a *Accumulator) flushAged() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer = nil
	a.enqueueLocked(a.flushLocked(false))
}

// flushLocked snapshots and clears the buffer in arrival order. Caller
// holds the mutex and owns the returned snapshot.
func (a *Accumulator) flushLocked(force bool) []PendingEvent {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.buf) == 0 {
		return nil
	}
	if !force && len(a.buf) < a.limits.MinBatchSize {
		return nil
	}

	snapshot := a.buf
	a.buf = nil
	return snapshot
}

// enqueueLocked queues a ready snapshot and wakes the consumer. Caller
// holds the mutex.
func (a *Accumulator) enqueueLocked(snapshot []PendingEvent) {
	if snapshot == nil {
		return
	}
	a.readyQ = append(a.readyQ, snapshot)
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

// Flush forces an immediate flush regardless of thresholds and returns
// the snapshot, or nil if the buffer was empty. The snapshot is not
// queued for the background consumer; it belongs to the caller.
func (a *Accumulator) Flush() []PendingEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(true)
}

// TakeReady drains the queued snapshots.
func (a *Accumulator) TakeReady() [][]PendingEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := a.readyQ
	a.readyQ = nil
	return q
}

// Pending returns the hex hashes of buffered, not-yet-batched events.
func (a *Accumulator) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.buf))
	for i, p := range a.buf {
		out[i] = merkle.EncodeHex(p.Hash)
	}
	return out
}

// PendingCount returns the number of buffered events.
func (a *Accumulator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Limits returns the current thresholds.
func (a *Accumulator) Limits() Limits {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limits
}

// SetLimits applies new thresholds at runtime. A shrunk MaxBatchSize
// takes effect on the next Add.
func (a *Accumulator) SetLimits(l Limits) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l.MaxBatchSize <= 0 {
		l.MaxBatchSize = a.limits.MaxBatchSize
	}
	if l.MinBatchSize <= 0 {
		l.MinBatchSize = 1
	}
	if l.MaxBatchAge <= 0 {
		l.MaxBatchAge = a.limits.MaxBatchAge
	}
	if l.MaxPending < l.MaxBatchSize {
		l.MaxPending = 10 * l.MaxBatchSize
	}
	a.limits = l
}
