// Package fence implements the Generation Fence: a monotonic connection
// generation counter paired with a wall-clock boundary timestamp, used to
// reject callbacks that belong to a connection attempt the state machine
// has already moved past.
package fence

import (
	"sync"
	"time"
)

// Tolerance is the staleness slack applied to disconnect event timestamps,
// absorbing wall-clock jumps from network time sync (spec §4.2).
const Tolerance = 1 * time.Second

// Fence tracks the current generation, its boundary timestamp, and the
// peripheral identifier the current phase owns.
type Fence struct {
	mu         sync.Mutex
	generation uint64
	startedAt  time.Time
	peripheral string
}

// New creates a Fence at generation 0 with no peripheral bound.
func New() *Fence {
	return &Fence{}
}

// now is overridable in tests; time.Now in production.
var now = time.Now

// Advance increments the generation, stamps a fresh boundary timestamp, and
// records the peripheral identifier of the new connection attempt. Returns
// the new generation.
func (f *Fence) Advance(peripheralID string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	f.startedAt = now()
	f.peripheral = peripheralID
	return f.generation
}

// Rearm refreshes the boundary timestamp without advancing the generation
// (used when returning to foreground while still AutoReconnecting, per
// §4.4's "rearm with fresh generation stamp and phase-start timestamp" —
// the generation itself is not bumped, only the timer references it).
func (f *Fence) Rearm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedAt = now()
}

// Current returns the current generation and its boundary timestamp.
func (f *Fence) Current() (uint64, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation, f.startedAt
}

// Peripheral returns the peripheral identifier bound to the current
// generation.
func (f *Fence) Peripheral() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peripheral
}

// AcceptDisconnect reports whether a disconnect callback for the given
// peripheral and event timestamp should be honored. It rejects callbacks
// for a different peripheral identity, and callbacks whose event timestamp
// predates the generation boundary by more than Tolerance.
func (f *Fence) AcceptDisconnect(peripheralID string, eventTimestamp time.Time) (accept bool, ageIfRejected time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if peripheralID != f.peripheral {
		return false, 0
	}
	if eventTimestamp.Add(Tolerance).Before(f.startedAt) {
		return false, f.startedAt.Sub(eventTimestamp)
	}
	return true, 0
}

// AcceptTimer reports whether a timer callback armed with armedGeneration is
// still valid for the current generation.
func (f *Fence) AcceptTimer(armedGeneration uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return armedGeneration == f.generation
}
