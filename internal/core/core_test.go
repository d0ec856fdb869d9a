package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleconn/internal/bleerr"
	"github.com/srg/bleconn/internal/phase"
	"github.com/srg/bleconn/internal/radio"
	"github.com/srg/bleconn/internal/radio/radiotest"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	cfg.ServiceDiscoveryTimeout = 50 * time.Millisecond
	cfg.AutoReconnectTimeout = 50 * time.Millisecond
	cfg.PowerOffGrace = 20 * time.Millisecond
	cfg.WriteTimeout = 50 * time.Millisecond
	return cfg
}

func newTestCore(t *testing.T) (*Core, *radiotest.Fake) {
	t.Helper()
	fake := radiotest.New()
	c := New(nil, fake, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Run(ctx)
	return c, fake
}

func driveDiscoveryChain(fake *radiotest.Fake, peripheralID string) {
	fake.Push(radio.Event{Kind: radio.EventDidConnect, PeripheralID: peripheralID})
	fake.Push(radio.Event{Kind: radio.EventDidDiscoverServices, PeripheralID: peripheralID})
	fake.Push(radio.Event{Kind: radio.EventDidDiscoverCharacteristics, PeripheralID: peripheralID})
	fake.Push(radio.Event{Kind: radio.EventDidUpdateNotificationState, PeripheralID: peripheralID, Notifying: true})
}

// Cold connect happy path (spec §8 scenario 1): Connect drives the full
// setup chain and resolves with a live data stream once notifications are
// subscribed.
func TestColdConnectHappyPath(t *testing.T) {
	c, fake := newTestCore(t)

	done := make(chan struct{})
	var stream <-chan []byte
	var err error
	go func() {
		stream, err = c.Connect(context.Background(), "aa:bb")
		close(done)
	}()

	require.Eventually(t, func() bool { return len(fake.ConnectCalls) == 1 }, time.Second, time.Millisecond)
	driveDiscoveryChain(fake, "aa:bb")

	<-done
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, phase.Connected, c.CurrentPhaseName())
	assert.True(t, c.IsConnected())
	assert.Equal(t, "aa:bb", c.ConnectedDeviceID())
}

// Stale disconnect suppression (spec §8 scenario 2 / §4.2): a disconnect
// callback timestamped before the current generation's boundary, or for a
// peripheral other than the one currently owned, must not move the phase.
func TestStaleDisconnectIsSuppressed(t *testing.T) {
	c, fake := newTestCore(t)

	connectAndWait(t, c, fake, "aa:bb")
	require.Equal(t, phase.Connected, c.CurrentPhaseName())

	fake.Push(radio.Event{
		Kind:           radio.EventDidDisconnect,
		PeripheralID:   "aa:bb",
		EventTimestamp: time.Now().Add(-10 * time.Second),
	})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, phase.Connected, c.CurrentPhaseName(), "stale-timestamp disconnect must be ignored")

	fake.Push(radio.Event{
		Kind:           radio.EventDidDisconnect,
		PeripheralID:   "not-the-owned-peripheral",
		EventTimestamp: time.Now(),
	})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, phase.Connected, c.CurrentPhaseName(), "disconnect for a different peripheral must be ignored")
}

// Write sequencing (spec §8 scenario 3 / §4.3): Send routes through the
// write pipeline once Connected. The timeout/fencing race itself is
// exercised directly in internal/writepipeline's own tests, since the fake
// adapter's Write always returns immediately.
func TestWriteRoutesThroughPipelineWhenConnected(t *testing.T) {
	c, fake := newTestCore(t)
	connectAndWait(t, c, fake, "aa:bb")

	fake.WriteErr = nil
	// The fake's Write always returns immediately (no way to simulate a
	// hang at this layer), so this exercises the ordinary completion path;
	// internal/writepipeline's own tests cover the timeout race directly.
	err := c.Send(context.Background(), []byte("hello"))
	assert.NoError(t, err)
	assert.Len(t, fake.WriteCalls, 1)
}

// Background-aware auto-reconnect (spec §8 scenario 4 / §4.2): while
// AppDidEnterBackground is in effect, the auto-reconnect timeout must not
// fire a disconnection callback.
func TestAutoReconnectTimeoutSuppressedInBackground(t *testing.T) {
	c, fake := newTestCore(t)
	connectAndWait(t, c, fake, "aa:bb")

	var disconnected bool
	c.SetDisconnectionHandler(func(string, error) { disconnected = true })

	c.AppDidEnterBackground()

	fake.Push(radio.Event{Kind: radio.EventDidDisconnect, PeripheralID: "aa:bb", EventTimestamp: time.Now()})
	require.Eventually(t, func() bool { return c.CurrentPhaseName() == phase.AutoReconnecting }, time.Second, time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.False(t, disconnected, "background auto-reconnect timeout must be suppressed")
	assert.Equal(t, phase.AutoReconnecting, c.CurrentPhaseName())
}

// Power-off grace (spec §8 scenario 5 / §4.5 step 2): connecting while the
// radio is off waits up to PowerOffGrace for the radio to come on before
// failing with RadioPoweredOff.
func TestPowerOffGraceExpiresToRadioPoweredOff(t *testing.T) {
	c, fake := newTestCore(t)
	fake.SetPowerState(radio.PowerOff)

	_, err := c.Connect(context.Background(), "aa:bb")
	assert.ErrorIs(t, err, bleerr.ErrRadioPoweredOff)
	assert.Equal(t, phase.Idle, c.CurrentPhaseName())
}

// Generation-fenced timeout (spec §8 scenario 6 / §4.2): a connect-timeout
// timer armed under a stale generation must not cancel a connection that
// has since progressed to a new generation.
func TestStaleConnectTimeoutIsFenced(t *testing.T) {
	c, fake := newTestCore(t)

	done := make(chan struct{})
	go func() {
		_, _ = c.Connect(context.Background(), "aa:bb")
		close(done)
	}()
	require.Eventually(t, func() bool { return len(fake.ConnectCalls) == 1 }, time.Second, time.Millisecond)

	staleGen, _ := c.fence.Current()
	// Simulate a stale connect-timeout firing after the generation has
	// already advanced past it (e.g. a switch_device raced the timer).
	c.fence.Advance("aa:bb")
	c.cmds <- command{kind: cmdRadioEvent, arg: taggedEvent{Event: radio.Event{Kind: evConnectTimeout}, generation: staleGen}}
	time.Sleep(20 * time.Millisecond)

	driveDiscoveryChain(fake, "aa:bb")
	<-done
	assert.Equal(t, phase.Connected, c.CurrentPhaseName(), "stale-generation timeout must not have cancelled the live connect")
}

// Shutdown (spec §4.8 / §8): idempotent, and subsequent commands complete
// with errors rather than hanging.
func TestShutdownIsIdempotentAndRejectsFurtherCommands(t *testing.T) {
	c, fake := newTestCore(t)
	connectAndWait(t, c, fake, "aa:bb")

	c.Shutdown()
	c.Shutdown()
	assert.Equal(t, phase.Idle, c.CurrentPhaseName())

	err := c.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, bleerr.ErrCancelled)

	_, err = c.Connect(context.Background(), "aa:bb")
	assert.ErrorIs(t, err, bleerr.ErrCancelled)
}

// Reconnect round-trip (spec §8): connect, disconnect, connect again must
// resolve the second user Connect() with its own distinct stream rather than
// routing that resolution through the reconnection handler.
func TestReconnectAfterExplicitDisconnectResolvesSecondConnect(t *testing.T) {
	c, fake := newTestCore(t)

	stream1 := connectAndWait(t, c, fake, "aa:bb")
	require.NoError(t, c.Disconnect(context.Background()))
	require.Equal(t, phase.Idle, c.CurrentPhaseName())

	var reconnectCalled bool
	c.SetReconnectionHandler(func(string, <-chan []byte) { reconnectCalled = true })

	done := make(chan struct{})
	var stream2 <-chan []byte
	var err error
	go func() {
		stream2, err = c.Connect(context.Background(), "aa:bb")
		close(done)
	}()

	require.Eventually(t, func() bool { return len(fake.ConnectCalls) == 2 }, time.Second, time.Millisecond)
	driveDiscoveryChain(fake, "aa:bb")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Connect() never resolved")
	}
	require.NoError(t, err)
	require.NotNil(t, stream2)
	assert.True(t, stream1 != stream2, "second connect must deliver a distinct stream")
	assert.False(t, reconnectCalled, "a fresh user connect must not route through the reconnection handler")
}

func connectAndWait(t *testing.T, c *Core, fake *radiotest.Fake, peripheralID string) <-chan []byte {
	t.Helper()
	done := make(chan struct{})
	var stream <-chan []byte
	var err error
	go func() {
		stream, err = c.Connect(context.Background(), peripheralID)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(fake.ConnectCalls) == 1 }, time.Second, time.Millisecond)
	driveDiscoveryChain(fake, peripheralID)
	<-done
	require.NoError(t, err)
	return stream
}
