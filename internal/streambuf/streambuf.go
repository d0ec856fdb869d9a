// Package streambuf implements the Data Stream Producer: a bounded,
// single-writer channel of inbound byte chunks with a fixed capacity policy
// of keep-oldest / drop-newest, finalized exactly once when its owning
// Connected phase ends.
//
// This is adapted from the ring-channel buffering pattern used elsewhere in
// this lineage, but with the overwrite policy inverted: the data stream
// producer must never reorder or evict a chunk the consumer has not yet
// seen in favor of a fresher one, since arrival order is the one ordering
// guarantee the spec insists on preserving under backpressure.
package streambuf

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the default bounded buffer size in chunks (spec
// default: 512).
const DefaultCapacity = 512

// Metrics tracks lock-free counters for a Producer's lifetime.
type Metrics struct {
	Delivered int64 // chunks handed to the consumer
	Dropped   int64 // chunks discarded because the buffer was full
}

// Producer is the single-writer, single-reader bounded byte-chunk stream
// backing one Connected phase.
type Producer struct {
	ch        chan []byte
	metrics   Metrics
	closeOnce sync.Once
	closed    chan struct{}
}

// NewProducer creates a Producer with the given capacity in chunks. A
// capacity <= 0 uses DefaultCapacity.
func NewProducer(capacity int) *Producer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Producer{
		ch:     make(chan []byte, capacity),
		closed: make(chan struct{}),
	}
}

// Yield delivers a chunk from the BLE callback context. It never blocks: if
// the buffer is full, the new chunk is dropped and the already-buffered
// (older) chunks are preserved, so arrival order for everything the
// consumer will eventually see is never disturbed.
//
// Yield is a no-op after Finalize.
func (p *Producer) Yield(chunk []byte) {
	select {
	case <-p.closed:
		return
	default:
	}
	select {
	case p.ch <- chunk:
		atomic.AddInt64(&p.metrics.Delivered, 1)
	default:
		atomic.AddInt64(&p.metrics.Dropped, 1)
	}
}

// C returns the receive-only channel of inbound chunks. It is closed when
// the producer is finalized.
func (p *Producer) C() <-chan []byte {
	return p.ch
}

// Finalize closes the stream. Safe to call more than once; only the first
// call has effect, matching the "finalized exactly once" invariant of the
// owning phase's cleanup.
func (p *Producer) Finalize() {
	p.closeOnce.Do(func() {
		close(p.closed)
		close(p.ch)
	})
}

// GetMetrics returns a snapshot of delivered/dropped counters.
func (p *Producer) GetMetrics() Metrics {
	return Metrics{
		Delivered: atomic.LoadInt64(&p.metrics.Delivered),
		Dropped:   atomic.LoadInt64(&p.metrics.Dropped),
	}
}
