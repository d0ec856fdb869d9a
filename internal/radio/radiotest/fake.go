// Package radiotest provides a deterministic fake Radio Adapter for testing
// the state machine core without a platform BLE stack, modeled on the
// builder-style mock peripheral fixtures this lineage tests with.
package radiotest

import (
	"context"
	"sync"
	"time"

	"github.com/srg/bleconn/internal/radio"
)

// Fake implements the subset of *radio.Adapter's surface the core depends
// on, letting tests script exact event sequences and assert on issued
// writes.
type Fake struct {
	mu sync.Mutex

	EventsCh chan radio.Event

	WriteCalls [][]byte
	WriteErr   error

	RSSIErr   error
	RSSICalls int

	ConnectCalls []string
	CancelCalls  int

	power radio.PowerState
}

// New creates a Fake with a buffered event channel.
func New() *Fake {
	return &Fake{EventsCh: make(chan radio.Event, 64), power: radio.PowerOn}
}

// Events satisfies the core's Adapter.Events() accessor.
func (f *Fake) Events() <-chan radio.Event {
	return f.EventsCh
}

// Activate is a no-op for the fake; it is always "already activated".
func (f *Fake) Activate() error { return nil }

// PowerState returns the scripted power state (default PowerOn).
func (f *Fake) PowerState() radio.PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.power
}

// SetPowerState lets a test script a power transition.
func (f *Fake) SetPowerState(s radio.PowerState) {
	f.mu.Lock()
	f.power = s
	f.mu.Unlock()
}

// Connect records the call; tests drive the resulting discovery chain by
// pushing events onto EventsCh directly.
func (f *Fake) Connect(_ context.Context, peripheralID string, _ time.Duration) {
	f.mu.Lock()
	f.ConnectCalls = append(f.ConnectCalls, peripheralID)
	f.mu.Unlock()
}

// Write records the write and returns the scripted error.
func (f *Fake) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WriteCalls = append(f.WriteCalls, append([]byte(nil), data...))
	return f.WriteErr
}

// ReadRSSI returns the scripted error and counts the call.
func (f *Fake) ReadRSSI() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RSSICalls++
	return f.RSSIErr
}

// CancelConnect records the call.
func (f *Fake) CancelConnect() error {
	f.mu.Lock()
	f.CancelCalls++
	f.mu.Unlock()
	return nil
}

// Push enqueues an event as if delivered by the platform BLE queue.
func (f *Fake) Push(ev radio.Event) {
	f.EventsCh <- ev
}

// StartScan is a no-op that always succeeds; tests push ScanResult events
// directly.
func (f *Fake) StartScan(_ context.Context) error {
	return nil
}

// StopScan is a no-op for the fake.
func (f *Fake) StopScan() {}

// IsDeviceConnectedToSystem always reports true once Connect has been
// called for the given id, matching the fake's optimistic defaults.
func (f *Fake) IsDeviceConnectedToSystem(peripheralID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.ConnectCalls {
		if id == peripheralID {
			return true
		}
	}
	return false
}
