package phase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTimer struct{ stopped bool }

func (f *fakeTimer) Stop() bool { f.stopped = true; return true }

func TestInitialPhaseIsIdle(t *testing.T) {
	s := New(nil)
	name, _ := s.Current()
	assert.Equal(t, Idle, name)
}

func TestDiscoveryTimerPreservedAcrossChainTransitions(t *testing.T) {
	s := New(nil)
	timer := &fakeTimer{}
	s.Transition(DiscoveringServices, Resources{DiscoveryTimer: timer}, nil)
	s.Transition(DiscoveringCharacteristics, Resources{}, nil)

	assert.False(t, timer.stopped)
	_, res := s.Current()
	assert.Same(t, timer, res.DiscoveryTimer)
}

func TestDiscoveryTimerStoppedWhenLeavingChain(t *testing.T) {
	s := New(nil)
	timer := &fakeTimer{}
	s.Transition(DiscoveringServices, Resources{DiscoveryTimer: timer}, nil)
	s.Transition(Idle, Resources{}, errors.New("setup failed"))

	assert.True(t, timer.stopped)
}

func TestAutoReconnectTimerPreservedAcrossReentry(t *testing.T) {
	s := New(nil)
	timer := &fakeTimer{}
	s.Transition(AutoReconnecting, Resources{DiscoveryTimer: timer}, nil)
	s.Transition(AutoReconnecting, Resources{}, nil)

	assert.False(t, timer.stopped)
}

func TestCancelCurrentReturnsToIdleAndStopsOwnedTimer(t *testing.T) {
	s := New(nil)
	timer := &fakeTimer{}
	s.Transition(Connecting, Resources{ConnectTimeout: timer}, nil)

	s.CancelCurrent(errors.New("cancelled"))

	name, res := s.Current()
	assert.Equal(t, Idle, name)
	assert.True(t, timer.stopped)
	assert.Equal(t, Resources{}, res)
}
