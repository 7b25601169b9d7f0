package pool

import (
	"sync"
	"time"
)

// Batch shaping defaults. Batches close when they hit the chunk or byte
// limit, or when the oldest pending item has waited out the linger.
const (
	DefaultMaxBatchChunks = 32
	DefaultMaxBatchBytes  = 256 << 10
	DefaultBatchLinger    = 500 * time.Millisecond
)

// BatcherConfig bounds the batches a Batcher emits.
type BatcherConfig struct {
	MaxChunks int
	MaxBytes  int
	Linger    time.Duration
}

func (c BatcherConfig) withDefaults() BatcherConfig {
	if c.MaxChunks <= 0 {
		c.MaxChunks = DefaultMaxBatchChunks
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBatchBytes
	}
	if c.Linger <= 0 {
		c.Linger = DefaultBatchLinger
	}
	return c
}

// Batcher accumulates items into full batches. The flush callback runs
// with the batcher locked, so a flush that blocks on pool backpressure
// also backpressures Add. One batcher serves one folder; it is safe for
// concurrent use.
type Batcher struct {
	cfg   BatcherConfig
	flush func(items []Item)

	mu      sync.Mutex
	pending []Item
	bytes   int
	timer   *time.Timer
	closed  bool
}

// NewBatcher creates a batcher that hands completed batches to flush.
func NewBatcher(cfg BatcherConfig, flush func(items []Item)) *Batcher {
	return &Batcher{cfg: cfg.withDefaults(), flush: flush}
}

// Add appends one item, emitting a batch whenever a limit is reached.
// An item bigger than MaxBytes ships alone rather than being split.
func (b *Batcher) Add(it Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	size := len(it.Text)
	if len(b.pending) > 0 && b.bytes+size > b.cfg.MaxBytes {
		b.flushLocked()
	}

	b.pending = append(b.pending, it)
	b.bytes += size

	if len(b.pending) >= b.cfg.MaxChunks || b.bytes >= b.cfg.MaxBytes {
		b.flushLocked()
		return
	}
	if len(b.pending) == 1 {
		b.timer = time.AfterFunc(b.cfg.Linger, b.lingerFire)
	}
}

// Flush emits whatever is pending, regardless of size.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Close flushes the remainder and rejects further Adds.
func (b *Batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
	b.closed = true
}

// lingerFire may race a size-triggered flush; at worst it ships a
// younger, smaller batch early, which is harmless.
func (b *Batcher) lingerFire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	items := b.pending
	b.pending = nil
	b.bytes = 0
	b.flush(items)
}
