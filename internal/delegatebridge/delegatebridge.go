// Package delegatebridge implements the Delegate Bridge (spec §2.6, §5,
// §9): it receives platform callbacks on the radio adapter's queue and
// forwards control callbacks into the state machine core's single-threaded
// command context. Inbound data is the one exception: it is yielded
// directly into the current Connected phase's data stream producer from
// the BLE callback goroutine, under a short, non-blocking mutex, to
// preserve arrival order.
package delegatebridge

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleconn/internal/groutine"
	"github.com/srg/bleconn/internal/radio"
	"github.com/srg/bleconn/internal/streambuf"
)

// Dispatch is called for every control callback (everything except inbound
// data) on the core's own goroutine contract: implementations must not
// block for long, matching the state machine's single-threaded executor.
type Dispatch func(radio.Event)

// Bridge owns the producer reference the BLE queue writes through.
type Bridge struct {
	log      *logrus.Logger
	dispatch Dispatch
	producer *producerRef
}

type producerRef struct {
	mu sync.Mutex
	p  *streambuf.Producer
}

func (r *producerRef) set(p *streambuf.Producer) {
	r.mu.Lock()
	r.p = p
	r.mu.Unlock()
}

// clear detaches the stored producer reference and returns it, so the
// caller (core) can finalize it only after the bridge can no longer yield
// into it, preventing use-after-finalize per spec §5.
func (r *producerRef) clear() *streambuf.Producer {
	r.mu.Lock()
	p := r.p
	r.p = nil
	r.mu.Unlock()
	return p
}

// yield holds the lock across the Yield call itself: Yield never blocks, so
// this only serializes against clear(), making "clear then Finalize" safe to
// interleave with an in-flight yield without the two ever racing the
// producer's closed channel.
func (r *producerRef) yield(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.p == nil {
		return false
	}
	r.p.Yield(chunk)
	return true
}

// New creates a Bridge that forwards control events from radioEvents into
// dispatch, reading on a dedicated goroutine for the lifetime of ctx.
func New(ctx context.Context, log *logrus.Logger, radioEvents <-chan radio.Event, dispatch Dispatch) *Bridge {
	if log == nil {
		log = logrus.New()
	}
	b := &Bridge{log: log, dispatch: dispatch, producer: &producerRef{}}

	groutine.Go(ctx, "delegate-bridge", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-radioEvents:
				if !ok {
					return
				}
				if ev.Kind == radio.EventDidUpdateValue {
					if !b.producer.yield(ev.Value) {
						log.WithField("peripheral", ev.PeripheralID).Debug("dropped inbound chunk: no active data stream producer")
					}
					continue
				}
				dispatch(ev)
			}
		}
	})

	return b
}

// SetProducer installs the Producer the bridge should yield inbound data
// into. Called by the core on entry to Connected.
func (b *Bridge) SetProducer(p *streambuf.Producer) {
	b.producer.set(p)
}

// ClearProducer detaches the stored producer without finalizing it; the
// core finalizes it afterward. Called by the core before leaving Connected.
func (b *Bridge) ClearProducer() *streambuf.Producer {
	return b.producer.clear()
}
