package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleconn/internal/bleerr"
	"github.com/srg/bleconn/internal/keepalive"
	"github.com/srg/bleconn/internal/phase"
	"github.com/srg/bleconn/internal/radio"
	"github.com/srg/bleconn/internal/streambuf"
)

// synthetic event kinds used for internally-armed timers, tagged with the
// generation they were armed under so a stale firing is a safe no-op.
const (
	evPowerOffGraceExpired radio.EventKind = "internal_power_off_grace_expired"
	evConnectTimeout       radio.EventKind = "internal_connect_timeout"
	evServiceDiscoTimeout  radio.EventKind = "internal_service_discovery_timeout"
	evAutoReconnectTimeout radio.EventKind = "internal_auto_reconnect_timeout"
)

type taggedEvent struct {
	radio.Event
	generation uint64
}

func (c *Core) armGenerationTimer(d time.Duration, kind radio.EventKind, generation uint64) keepalive.Timer {
	return keepalive.ArmTimeout(d, func() {
		c.cmds <- command{kind: cmdRadioEvent, arg: taggedEvent{Event: radio.Event{Kind: kind, PeripheralID: c.deviceID}, generation: generation}}
	})
}

// ---- connect ----

func (c *Core) handleConnect(cmd command) {
	name, _ := c.phases.Current()
	if name != phase.Idle {
		if name == phase.Connected || name == phase.DiscoveryComplete {
			if c.deviceID == cmd.arg.(string) {
				respond(cmd, result{stream: c.CurrentStream()})
				return
			}
		}
		respond(cmd, result{err: bleerr.ErrAlreadyInOp})
		return
	}
	c.deviceID = cmd.arg.(string)

	if err := c.adapter.Activate(); err != nil {
		respond(cmd, result{err: bleerr.Wrap(bleerr.KindRadioUnavailable, err)})
		return
	}

	ps := c.adapter.PowerState()
	switch ps {
	case radio.PowerUnsupported:
		respond(cmd, result{err: bleerr.ErrRadioUnavailable})
		return
	case radio.PowerUnauthorized:
		respond(cmd, result{err: bleerr.ErrRadioUnauthorized})
		return
	}

	c.pendingConnectResult = cmd.result

	if ps == radio.PowerOn {
		c.beginConnecting()
		return
	}

	grace := keepalive.ArmTimeout(c.cfg.PowerOffGrace, func() {
		c.cmds <- command{kind: cmdRadioEvent, arg: radio.Event{Kind: evPowerOffGraceExpired}}
	})
	c.phases.Transition(phase.WaitingForRadio, phase.Resources{ConnectTimeout: grace}, nil)
}

func (c *Core) beginConnecting() {
	gen := c.fence.Advance(c.deviceID)
	timeout := c.armGenerationTimer(c.cfg.ConnectTimeout, evConnectTimeout, gen)
	c.phases.Transition(phase.Connecting, phase.Resources{PeripheralID: c.deviceID, ConnectTimeout: timeout}, nil)

	deviceID, timeoutDur := c.deviceID, c.cfg.ConnectTimeout
	adapter := c.adapter
	go adapter.Connect(context.Background(), deviceID, timeoutDur)
}

func (c *Core) failPendingConnect(err error) {
	if c.pendingConnectResult != nil {
		c.pendingConnectResult <- result{err: err}
		c.pendingConnectResult = nil
	}
}

// ---- radio events ----

func (c *Core) handleRadioEvent(raw interface{}) {
	var ev radio.Event
	var generation uint64
	hasGen := false
	switch v := raw.(type) {
	case radio.Event:
		ev = v
	case taggedEvent:
		ev = v.Event
		generation = v.generation
		hasGen = true
	}

	name, _ := c.phases.Current()

	switch ev.Kind {
	case evPowerOffGraceExpired:
		if name == phase.WaitingForRadio {
			c.phases.CancelCurrent(bleerr.ErrRadioPoweredOff)
			c.failPendingConnect(bleerr.ErrRadioPoweredOff)
		}
	case radio.EventPowerStateChanged:
		if name == phase.WaitingForRadio && ev.PowerState == radio.PowerOn {
			c.beginConnecting()
		}

	case evConnectTimeout:
		if hasGen && !c.fence.AcceptTimer(generation) {
			return
		}
		if name == phase.Connecting {
			_ = c.adapter.CancelConnect()
			c.phases.CancelCurrent(bleerr.ErrConnectionTimeout)
			c.failPendingConnect(bleerr.ErrConnectionTimeout)
		}

	case radio.EventDidConnect:
		switch name {
		case phase.Connecting:
			gen, _ := c.fence.Current()
			timeout := c.armGenerationTimer(c.cfg.ServiceDiscoveryTimeout, evServiceDiscoTimeout, gen)
			c.phases.Transition(phase.DiscoveringServices, phase.Resources{PeripheralID: c.deviceID, DiscoveryTimer: timeout}, nil)
		case phase.AutoReconnecting:
			gen, _ := c.fence.Current()
			_, res := c.phases.Current()
			timeout := c.armGenerationTimer(c.cfg.ServiceDiscoveryTimeout, evServiceDiscoTimeout, gen)
			res.DiscoveryTimer = timeout
			c.phases.Transition(phase.DiscoveringServices, res, nil)
		default:
			c.log.WithField("phase", name).Debug("ignored unexpected didConnect")
		}

	case evServiceDiscoTimeout:
		if hasGen && !c.fence.AcceptTimer(generation) {
			return
		}
		switch name {
		case phase.DiscoveringServices, phase.DiscoveringCharacteristics, phase.SubscribingToNotifications:
			_ = c.adapter.CancelConnect()
			c.phases.CancelCurrent(bleerr.ErrConnectionTimeout)
			c.failPendingConnect(bleerr.ErrConnectionTimeout)
		}

	case radio.EventDidFailToConnect:
		switch name {
		case phase.Connecting, phase.DiscoveringServices, phase.DiscoveringCharacteristics, phase.SubscribingToNotifications:
			failErr := bleerr.Wrap(bleerr.KindConnectionFailed, ev.Err)
			c.phases.CancelCurrent(failErr)
			c.failPendingConnect(failErr)
		case phase.AutoReconnecting:
			c.log.WithError(ev.Err).Debug("reconnect attempt failed; awaiting further platform callbacks or timeout")
		default:
			c.log.WithField("phase", name).Debug("ignored unexpected didFailToConnect")
		}

	case radio.EventDidDiscoverServices:
		if name == phase.DiscoveringServices {
			_, res := c.phases.Current()
			c.phases.Transition(phase.DiscoveringCharacteristics, res, nil)
		}

	case radio.EventDidDiscoverCharacteristics:
		if name == phase.DiscoveringCharacteristics {
			_, res := c.phases.Current()
			c.phases.Transition(phase.SubscribingToNotifications, res, nil)
		}

	case radio.EventDidUpdateNotificationState:
		if name == phase.SubscribingToNotifications && ev.Notifying {
			_, res := c.phases.Current()
			c.phases.Transition(phase.DiscoveryComplete, res, nil)
			c.enterConnected()
		}

	case radio.EventDidDisconnect:
		c.handleDidDisconnect(ev, name)

	case evAutoReconnectTimeout:
		if hasGen && !c.fence.AcceptTimer(generation) {
			return
		}
		if !c.background && name == phase.AutoReconnecting {
			_ = c.adapter.CancelConnect()
			deviceID := c.deviceID
			c.phases.CancelCurrent(bleerr.ErrConnectionTimeout)
			if c.onDisconnect != nil {
				c.onDisconnect(deviceID, bleerr.ErrConnectionTimeout)
			}
		}

	case radio.EventScanResult:
		if c.onScanResult != nil {
			c.onScanResult(ev.PeripheralID, ev.RSSI)
		}

	default:
		c.log.WithField("kind", ev.Kind).Debug("unhandled radio event")
	}
}

// enterConnected is step 10 of §4.5 / the success tail of §4.6: creates the
// data stream producer, publishes it to the delegate bridge, transitions to
// Connected, starts keepalive, and resolves the caller (initial connect via
// the blocked command result, reconnect via the reconnection handler).
func (c *Core) enterConnected() {
	_, res := c.phases.Current()
	producer := streambuf.NewProducer(c.cfg.DataStreamBufferChunks)
	res.Producer = producer
	c.bridge.SetProducer(producer)

	c.pipeline = newPipeline(c.log, c.adapter, c.cfg, c.IsConnected)
	c.keepalive = keepalive.New(c.log, c.adapter, c.cfg.RSSIKeepalivePeriod)

	c.phases.Transition(phase.Connected, res, nil)
	c.keepalive.Start()

	// A fresh user Connect()/Switch() always has pendingConnectResult set
	// when it reaches here; an auto-reconnect didConnect never does, since
	// it isn't driven by a blocked command.
	if c.pendingConnectResult != nil {
		c.pendingConnectResult <- result{stream: producer.C()}
		c.pendingConnectResult = nil
		return
	}
	if c.onReconnect != nil {
		c.onReconnect(c.deviceID, producer.C())
	}
}

func (c *Core) handleDidDisconnect(ev radio.Event, name phase.Name) {
	accept, age := c.fence.AcceptDisconnect(ev.PeripheralID, ev.EventTimestamp)
	if !accept {
		c.log.WithFields(logrus.Fields{"peripheral": ev.PeripheralID, "age": age.Seconds()}).Warn("ignored stale disconnect callback")
		return
	}
	if name != phase.DiscoveryComplete && name != phase.Connected {
		return
	}

	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	if c.pipeline != nil {
		c.pipeline.Reset()
	}
	if producer := c.bridge.ClearProducer(); producer != nil {
		producer.Finalize()
	}

	gen := c.fence.Advance(c.deviceID)
	timeout := c.armGenerationTimer(c.cfg.AutoReconnectTimeout, evAutoReconnectTimeout, gen)
	c.phases.Transition(phase.AutoReconnecting, phase.Resources{PeripheralID: c.deviceID, DiscoveryTimer: timeout}, nil)
}

// ---- disconnect / switch / send ----

func (c *Core) handleDisconnect(cmd command) {
	name, _ := c.phases.Current()
	if name == phase.Idle {
		respond(cmd, result{})
		return
	}
	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	if c.pipeline != nil {
		c.pipeline.Reset()
	}
	if producer := c.bridge.ClearProducer(); producer != nil {
		producer.Finalize()
	}
	_ = c.adapter.CancelConnect()
	c.phases.CancelCurrent(bleerr.ErrCancelled)
	if c.onDisconnect != nil {
		c.onDisconnect(c.deviceID, nil)
	}
	respond(cmd, result{})
}

func (c *Core) handleSwitch(cmd command) {
	newID := cmd.arg.(string)
	disc := make(chan result, 1)
	c.handleDisconnect(command{kind: cmdDisconnect, result: disc})
	<-disc
	c.handleConnect(command{kind: cmdConnect, arg: newID, result: cmd.result})
}

func (c *Core) handleSend(cmd command) {
	name, _ := c.phases.Current()
	if name != phase.Connected || c.pipeline == nil {
		respond(cmd, result{err: bleerr.ErrNotConnected})
		return
	}
	data := cmd.arg.([]byte)
	pipeline := c.pipeline
	resCh := cmd.result
	go func() {
		err := pipeline.Send(context.Background(), data)
		resCh <- result{err: err}
	}()
}

// ---- scanning (§4.7), orthogonal to the connection lifecycle ----

func (c *Core) handleStartScan(cmd command) {
	if c.adapter.PowerState() != radio.PowerOn {
		c.pendingScan = true
		respond(cmd, result{})
		return
	}
	if err := c.adapter.StartScan(context.Background()); err != nil {
		respond(cmd, result{err: err})
		return
	}
	c.scanning = true
	respond(cmd, result{})
}

func (c *Core) handleStopScan(cmd command) {
	c.adapter.StopScan()
	c.scanning = false
	c.pendingScan = false
	respond(cmd, result{})
}

func (c *Core) handleWaitPoweredOn(cmd command) {
	ps := c.adapter.PowerState()
	if ps == radio.PowerOn {
		respond(cmd, result{})
		return
	}
	respond(cmd, result{err: bleerr.ErrRadioPoweredOff})
}

// ---- foreground / background (§4.4 hooks) ----

func (c *Core) handleEnterBackground(cmd command) {
	c.background = true
	name, res := c.phases.Current()
	if name == phase.AutoReconnecting && res.DiscoveryTimer != nil {
		res.DiscoveryTimer.Stop()
		res.DiscoveryTimer = nil
		c.phases.Transition(phase.AutoReconnecting, res, nil)
	}
	respond(cmd, result{})
}

func (c *Core) handleBecomeActive(cmd command) {
	c.background = false
	name, _ := c.phases.Current()
	switch name {
	case phase.Connected:
		if c.keepalive != nil && !c.keepalive.Running() {
			c.keepalive.Start()
		}
	case phase.AutoReconnecting:
		c.fence.Rearm()
		gen, _ := c.fence.Current()
		_, res := c.phases.Current()
		timeout := c.armGenerationTimer(c.cfg.AutoReconnectTimeout, evAutoReconnectTimeout, gen)
		res.DiscoveryTimer = timeout
		c.phases.Transition(phase.AutoReconnecting, res, nil)
	}
	respond(cmd, result{})
}

// ---- shutdown (§4.8) ----

func (c *Core) handleShutdown(cmd command) {
	if c.shutdown {
		respond(cmd, result{})
		return
	}
	c.adapter.StopScan()
	c.scanning = false
	c.pendingScan = false

	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	if c.pipeline != nil {
		c.pipeline.Reset()
	}
	if producer := c.bridge.ClearProducer(); producer != nil {
		producer.Finalize()
	}
	c.failPendingConnect(bleerr.ErrCancelled)

	deviceID := c.deviceID
	c.phases.CancelCurrent(bleerr.ErrCancelled)
	c.shutdown = true

	if c.onDisconnect != nil {
		c.onDisconnect(deviceID, nil)
	}
	respond(cmd, result{})
}
