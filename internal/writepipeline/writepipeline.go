// Package writepipeline implements the Write Pipeline (spec §4.3): a single
// in-flight Write Slot, a FIFO queue of waiting senders, per-write pacing
// and timeout, and sequence-number tagging so a late completion for write N
// can never resume write N+1.
package writepipeline

import (
	"context"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/time/rate"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleconn/internal/bleerr"
)

// DefaultTimeout is the default per-write completion wait (spec §6.4).
const DefaultTimeout = 5 * time.Second

// QueueWarnDepth is the diagnostic threshold from spec §4.3.
const QueueWarnDepth = 3

// Writer issues the actual platform write; satisfied by *radio.Adapter.
type Writer interface {
	Write(data []byte) error
}

// waiter is one queued sender.
type waiter struct {
	seq    uint64
	data   []byte
	result chan error
}

// Pipeline serializes writes through a single slot with FIFO fairness.
type Pipeline struct {
	log     *logrus.Logger
	writer  Writer
	timeout time.Duration
	limiter *rate.Limiter // pacing: spaces the starts of consecutive writes

	mu       sync.Mutex
	seq      uint64
	waiters  *orderedmap.OrderedMap[uint64, *waiter]
	pending  uint64 // sequence of the currently in-flight write, 0 if none
	connected func() bool
}

// New creates a Pipeline. pacingDelay of 0 disables pacing (burst-1 limiter
// with an effectively infinite rate). connected is polled on each
// resumption to revalidate Phase = Connected per spec §4.3's "revalidation
// on wake".
func New(log *logrus.Logger, writer Writer, timeout, pacingDelay time.Duration, connected func() bool) *Pipeline {
	if log == nil {
		log = logrus.New()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if pacingDelay <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		limiter = rate.NewLimiter(rate.Every(pacingDelay), 1)
	}
	return &Pipeline{
		log:       log,
		writer:    writer,
		timeout:   timeout,
		limiter:   limiter,
		waiters:   orderedmap.New[uint64, *waiter](),
		connected: connected,
	}
}

// Send enqueues data for write, blocking the caller until completion,
// timeout, or ctx cancellation. It never issues more than one write at a
// time and resumes waiters in FIFO submission order.
func (p *Pipeline) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	w := &waiter{seq: seq, data: data, result: make(chan error, 1)}
	p.waiters.Set(seq, w)
	depth := p.waiters.Len()
	shouldDrive := p.pending == 0
	p.mu.Unlock()

	if depth >= QueueWarnDepth {
		p.log.WithField("queue_depth", depth).Warn("write queue depth threshold reached")
	}

	if shouldDrive {
		p.driveNext()
	}

	select {
	case err := <-w.result:
		return err
	case <-ctx.Done():
		// The waiter stays queued and may still be written later by
		// driveNext; its result channel is buffered, so that later
		// completion never blocks even though nobody reads it.
		return bleerr.ErrCancelled
	}
}

// Complete is called by the core when a write completion callback arrives
// carrying completedSeq. Per spec §4.3, a completion whose sequence does not
// match the currently-pending write is rejected and does not mutate the
// slot.
func (p *Pipeline) Complete(completedSeq uint64, writeErr error) {
	p.mu.Lock()
	if p.pending != completedSeq {
		p.mu.Unlock()
		p.log.WithFields(logrus.Fields{"completed_seq": completedSeq, "pending_seq": p.pending}).
			Debug("rejected write completion: sequence mismatch")
		return
	}
	pair := p.waiters.Oldest()
	var w *waiter
	if pair != nil && pair.Key == completedSeq {
		w = pair.Value
		p.waiters.Delete(completedSeq)
	}
	p.pending = 0
	p.mu.Unlock()

	if w != nil {
		if writeErr != nil {
			w.result <- bleerr.Wrap(bleerr.KindWriteError, writeErr)
		} else {
			w.result <- nil
		}
	}

	p.driveNext()
}

// Reset is invoked on leaving Connected (spec §3.2): resumes the in-flight
// write and every waiter with NotConnected so none leak.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	all := make([]*waiter, 0, p.waiters.Len())
	for pair := p.waiters.Oldest(); pair != nil; pair = pair.Next() {
		all = append(all, pair.Value)
	}
	p.waiters = orderedmap.New[uint64, *waiter]()
	p.pending = 0
	p.mu.Unlock()

	for _, w := range all {
		select {
		case w.result <- bleerr.ErrNotConnected:
		default:
		}
	}
}

// driveNext arms the next waiter in submission order, if any and if no
// write is currently pending. It waits on the pacing limiter, then
// revalidates connection state before issuing the write. The limiter spaces
// write starts at least pacingDelay apart, measured from the start of the
// previous write rather than from its completion: when a write takes longer
// than pacingDelay, the next one starts right after it completes, with no
// further delay. The first write of a pipeline is not delayed.
func (p *Pipeline) driveNext() {
	p.mu.Lock()
	if p.pending != 0 {
		p.mu.Unlock()
		return
	}
	pair := p.waiters.Oldest()
	if pair == nil {
		p.mu.Unlock()
		return
	}
	w := pair.Value
	p.pending = w.seq
	p.mu.Unlock()

	go func() {
		_ = p.limiter.Wait(context.Background())

		if p.connected != nil && !p.connected() {
			p.mu.Lock()
			p.waiters.Delete(w.seq)
			p.pending = 0
			p.mu.Unlock()
			w.result <- bleerr.ErrNotConnected
			p.driveNext()
			return
		}

		timer := time.AfterFunc(p.timeout, func() {
			p.timeoutSeq(w.seq)
		})
		defer timer.Stop()

		err := p.writer.Write(w.data)
		// The underlying GATT write-with-response call is synchronous, but
		// it runs on its own goroutine here so a slow/hung platform call
		// can still be superseded by timeoutSeq; whichever resolves the
		// sequence first wins and the other is rejected as a mismatch.
		p.Complete(w.seq, err)
	}()
}

// timeoutSeq fires a write's timeout: resumed with OperationTimeout, the
// slot cleared, and the next waiter driven. A late platform completion for
// the same sequence will then be rejected by Complete's sequence check.
func (p *Pipeline) timeoutSeq(seq uint64) {
	p.mu.Lock()
	if p.pending != seq {
		p.mu.Unlock()
		return
	}
	pair := p.waiters.Oldest()
	var w *waiter
	if pair != nil && pair.Key == seq {
		w = pair.Value
		p.waiters.Delete(seq)
	}
	p.pending = 0
	p.mu.Unlock()

	if w != nil {
		w.result <- bleerr.ErrOperationTimeout
	}
	p.driveNext()
}

// QueueDepth reports the number of writes currently queued (including the
// in-flight one), exercised by the §4.3 diagnostic threshold and exposed
// for facade/diagnostic callers.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}
