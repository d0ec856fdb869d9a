// Package phase implements the Phase Store: the current connection
// lifecycle position, modeled as a tagged variant that exclusively owns the
// resources listed in spec §3.1, plus the transition/cancel operations of
// §4.1.
package phase

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleconn/internal/streambuf"
)

// Name enumerates the lifecycle positions a Phase can occupy.
type Name string

const (
	Idle                       Name = "idle"
	WaitingForRadio            Name = "waiting_for_radio"
	Connecting                 Name = "connecting"
	DiscoveringServices        Name = "discovering_services"
	DiscoveringCharacteristics Name = "discovering_characteristics"
	SubscribingToNotifications Name = "subscribing_to_notifications"
	DiscoveryComplete          Name = "discovery_complete"
	Connected                  Name = "connected"
	AutoReconnecting           Name = "auto_reconnecting"
	RestoringState             Name = "restoring_state"
	Disconnecting              Name = "disconnecting"
)

// Resources bundles everything a phase variant may own. Only the fields
// relevant to the current Name are meaningful; see the table in spec §3.1.
//
// The pending-connect discriminator is owned by the core (pendingConnectResult),
// not by a phase-owned completion handle, since it must survive a transition
// all the way from Connecting through DiscoveryComplete to Connected.
type Resources struct {
	PeripheralID   string
	ServiceFound   bool
	TXFound        bool
	RXFound        bool
	ConnectTimeout Timer
	DiscoveryTimer Timer // service-discovery or auto-reconnect-discovery timeout, depending on Name
	Producer       *streambuf.Producer
}

// Timer is the minimal surface the phase store needs from a timeout task;
// satisfied by time.Timer and by fakes in tests.
type Timer interface {
	Stop() bool
}

// Store holds the single live Phase and serializes transitions. It is not
// safe for concurrent use from multiple goroutines without external
// synchronization from the owning core; the core guarantees this because
// transitions only ever happen inside its single-threaded command loop.
type Store struct {
	log *logrus.Logger

	current   Name
	res       Resources
	startedAt time.Time
}

// New creates a Store starting in Idle.
func New(log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{log: log, current: Idle, startedAt: time.Now()}
}

// Current returns the live phase name and its resources (read-only use
// expected; callers must not mutate the returned struct's pointers outside
// the core's command loop).
func (s *Store) Current() (Name, Resources) {
	return s.current, s.res
}

// discoveryChain reports whether n belongs to the services -> chars ->
// subscribe chain; the service-discovery timeout is preserved across a
// transition whose source and target both belong to it, per §4.1.
func discoveryChain(n Name) bool {
	switch n {
	case DiscoveringServices, DiscoveringCharacteristics, SubscribingToNotifications:
		return true
	default:
		return false
	}
}

// Transition moves the store from its current phase to 'to' with new
// resources. It logs (old, new, elapsed-in-old), releases the outgoing
// phase's resources per §3.1 (cleanup policy below), and installs the new
// phase with a fresh start timestamp.
//
// Cleanup policy: a DiscoveryTimer is preserved (not stopped) across
// transitions that stay within the discovery chain, or that stay within
// AutoReconnecting; otherwise it is stopped. A ConnectTimeout is always
// stopped on transition (it holds the connect timeout in Connecting and the
// power-off grace timer in WaitingForRadio, both tied to that one phase). A
// Producer is finalized. cleanupErr, if non-nil, is logged against the
// outgoing phase; the caller (core) is responsible for resuming whatever is
// blocked on that phase's outcome.
func (s *Store) Transition(to Name, newRes Resources, cleanupErr error) {
	old := s.current
	oldRes := s.res
	elapsed := time.Since(s.startedAt)

	preserveDiscoveryTimer := (discoveryChain(old) && discoveryChain(to)) ||
		(old == AutoReconnecting && to == AutoReconnecting)

	if oldRes.ConnectTimeout != nil {
		oldRes.ConnectTimeout.Stop()
	}
	if oldRes.DiscoveryTimer != nil && !preserveDiscoveryTimer {
		oldRes.DiscoveryTimer.Stop()
	}
	if oldRes.Producer != nil && old == Connected && to != Connected {
		oldRes.Producer.Finalize()
	}

	if preserveDiscoveryTimer && newRes.DiscoveryTimer == nil {
		newRes.DiscoveryTimer = oldRes.DiscoveryTimer
	}

	entry := s.log.WithFields(logrus.Fields{
		"from":    old,
		"to":      to,
		"elapsed": elapsed,
	})
	if cleanupErr != nil {
		entry = entry.WithError(cleanupErr)
	}
	entry.Info("phase transition")

	s.current = to
	s.res = newRes
	s.startedAt = time.Now()
}

// CancelCurrent implements §4.1's cancel_current: finalizes any owned
// producer, stops any owned timer, and transitions unconditionally to Idle.
// err is logged against the cancelled phase; the caller is responsible for
// resuming whatever is blocked on its outcome.
func (s *Store) CancelCurrent(err error) {
	s.Transition(Idle, Resources{}, err)
}

// StartedAt returns the timestamp of the current phase's installation.
func (s *Store) StartedAt() time.Time {
	return s.startedAt
}
