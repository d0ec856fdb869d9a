// Package core implements the State Machine Core (spec §2.7): a
// single-threaded cooperative executor that orchestrates the Radio
// Adapter, Phase Store, Generation Fence, Write Pipeline, Keepalive
// Scheduler, and Delegate Bridge into connect/disconnect/switch/send/scan/
// wait_for_powered_on/shutdown, implementing the connection setup protocol
// (§4.5), auto-reconnect (§4.6), scanning (§4.7), and shutdown (§4.8).
//
// All mutation of phase and generation state happens inside run(), the
// single command loop goroutine; every lifecycle operation (connect,
// disconnect, switch, send, scan, shutdown, background hooks) submits a
// command and waits for its result, matching the actor pattern this
// lineage uses for its connection objects. The handler setters and
// SetDeviceID write their fields directly, and the write pipeline guards
// its own slot and queue with a mutex, since each send runs on its own
// goroutine.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleconn/internal/bleerr"
	"github.com/srg/bleconn/internal/delegatebridge"
	"github.com/srg/bleconn/internal/fence"
	"github.com/srg/bleconn/internal/groutine"
	"github.com/srg/bleconn/internal/keepalive"
	"github.com/srg/bleconn/internal/nus"
	"github.com/srg/bleconn/internal/phase"
	"github.com/srg/bleconn/internal/radio"
	"github.com/srg/bleconn/internal/streambuf"
	"github.com/srg/bleconn/internal/writepipeline"
)

// Adapter is the subset of *radio.Adapter the core depends on; satisfied by
// the real adapter and by internal/radio/radiotest.Fake.
type Adapter interface {
	Events() <-chan radio.Event
	Activate() error
	PowerState() radio.PowerState
	Connect(ctx context.Context, peripheralID string, connectTimeout time.Duration)
	Write(data []byte) error
	ReadRSSI() error
	CancelConnect() error
	StartScan(ctx context.Context) error
	StopScan()
	IsDeviceConnectedToSystem(peripheralID string) bool
}

// Config holds the timeouts and policy knobs of spec §6.4.
type Config struct {
	ConnectTimeout            time.Duration
	ServiceDiscoveryTimeout   time.Duration
	AutoReconnectTimeout      time.Duration
	WriteTimeout              time.Duration
	WritePacingDelay          time.Duration
	DataStreamBufferChunks    int
	RSSIKeepalivePeriod       time.Duration
	PowerOffGrace             time.Duration
	NUS                       nus.Config
}

// DefaultConfig returns the spec §6.4 defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:          keepalive.ConnectTimeout,
		ServiceDiscoveryTimeout: keepalive.ServiceDiscoveryTimeout,
		AutoReconnectTimeout:    keepalive.AutoReconnectTimeout,
		WriteTimeout:            writepipeline.DefaultTimeout,
		WritePacingDelay:        0,
		DataStreamBufferChunks:  streambuf.DefaultCapacity,
		RSSIKeepalivePeriod:     keepalive.RSSIPeriod,
		PowerOffGrace:           keepalive.PowerOffGrace,
		NUS:                     nus.Default(),
	}
}

// DisconnectionHandler is invoked with the device id and, if any, the error
// that caused the disconnection.
type DisconnectionHandler func(deviceID string, err error)

// ReconnectionHandler is invoked with the new data stream on successful
// auto-reconnect. The core has no OS state-restoration path, so that is the
// only case in which it is invoked.
type ReconnectionHandler func(deviceID string, stream <-chan []byte)

// ScanHandler is invoked per discovered peripheral.
type ScanHandler func(peripheralID string, rssi int)

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdSwitch
	cmdSend
	cmdStartScan
	cmdStopScan
	cmdWaitPoweredOn
	cmdShutdown
	cmdEnterBackground
	cmdBecomeActive
	cmdRadioEvent
)

type command struct {
	kind   cmdKind
	arg    interface{}
	result chan result
}

type result struct {
	stream <-chan []byte
	err    error
}

// Core is the connection state machine. Construct with New and call Run
// once before issuing any command.
type Core struct {
	log     *logrus.Logger
	cfg     Config
	adapter Adapter

	phases *phase.Store
	fence  *fence.Fence
	bridge *delegatebridge.Bridge

	pipeline  *writepipeline.Pipeline
	keepalive *keepalive.Keepalive

	deviceID   string
	background bool
	shutdown   bool

	pendingScan bool
	scanning    bool

	pendingConnectResult chan result

	onDisconnect DisconnectionHandler
	onReconnect  ReconnectionHandler
	onScanResult ScanHandler

	cmds chan command
	once sync.Once
}

// New constructs a Core. Call Run(ctx) once before issuing commands.
func New(log *logrus.Logger, adapter Adapter, cfg Config) *Core {
	if log == nil {
		log = logrus.New()
	}
	return &Core{
		log:     log,
		cfg:     cfg,
		adapter: adapter,
		phases:  phase.New(log),
		fence:   fence.New(),
		cmds:    make(chan command),
	}
}

// SetDeviceID records the stable peripheral id connect() will target.
func (c *Core) SetDeviceID(id string) { c.deviceID = id }

// SetDisconnectionHandler registers the handler invoked on disconnection.
func (c *Core) SetDisconnectionHandler(h DisconnectionHandler) { c.onDisconnect = h }

// SetReconnectionHandler registers the handler invoked on successful
// auto-reconnect.
func (c *Core) SetReconnectionHandler(h ReconnectionHandler) { c.onReconnect = h }

// SetScanHandler registers the per-discovery scan callback.
func (c *Core) SetScanHandler(h ScanHandler) { c.onScanResult = h }

// Run starts the command loop and the delegate bridge. It must be called
// exactly once.
func (c *Core) Run(ctx context.Context) {
	c.once.Do(func() {
		c.bridge = delegatebridge.New(ctx, c.log, c.adapter.Events(), func(ev radio.Event) {
			c.cmds <- command{kind: cmdRadioEvent, arg: ev}
		})
		groutine.Go(ctx, "state-machine-core", func(_ context.Context) {
			c.run()
		})
	})
}

func (c *Core) submit(kind cmdKind, arg interface{}) result {
	resCh := make(chan result, 1)
	c.cmds <- command{kind: kind, arg: arg, result: resCh}
	return <-resCh
}

// run is the single-threaded command loop. Every phase/generation mutation
// happens here.
func (c *Core) run() {
	for cmd := range c.cmds {
		if c.shutdown && cmd.kind != cmdShutdown {
			respond(cmd, result{err: bleerr.ErrCancelled})
			continue
		}
		switch cmd.kind {
		case cmdConnect:
			c.handleConnect(cmd)
		case cmdDisconnect:
			c.handleDisconnect(cmd)
		case cmdSwitch:
			c.handleSwitch(cmd)
		case cmdSend:
			c.handleSend(cmd)
		case cmdStartScan:
			c.handleStartScan(cmd)
		case cmdStopScan:
			c.handleStopScan(cmd)
		case cmdWaitPoweredOn:
			c.handleWaitPoweredOn(cmd)
		case cmdShutdown:
			c.handleShutdown(cmd)
		case cmdEnterBackground:
			c.handleEnterBackground(cmd)
		case cmdBecomeActive:
			c.handleBecomeActive(cmd)
		case cmdRadioEvent:
			c.handleRadioEvent(cmd.arg)
		}
	}
}

// CurrentPhaseName is the §6.2 diagnostic accessor.
func (c *Core) CurrentPhaseName() phase.Name {
	name, _ := c.phases.Current()
	return name
}

// IsConnected reports whether the core is in Connected.
func (c *Core) IsConnected() bool {
	return c.CurrentPhaseName() == phase.Connected
}

// ConnectedDeviceID returns the current device id if Connected, else "".
func (c *Core) ConnectedDeviceID() string {
	if !c.IsConnected() {
		return ""
	}
	return c.deviceID
}

// QueueDepth exposes the write pipeline's diagnostic depth, or 0 if no
// pipeline is active.
func (c *Core) QueueDepth() int {
	if c.pipeline == nil {
		return 0
	}
	return c.pipeline.QueueDepth()
}

// closedStream is handed back by CurrentStream when no phase currently owns
// a data stream producer.
var closedStream = func() <-chan []byte {
	ch := make(chan []byte)
	close(ch)
	return ch
}()

// CurrentStream is the §6.1 received_data accessor: the consumer end of the
// data stream owned by the current phase, or a closed empty channel if none.
func (c *Core) CurrentStream() <-chan []byte {
	_, res := c.phases.Current()
	if res.Producer != nil {
		return res.Producer.C()
	}
	return closedStream
}

func respond(cmd command, r result) {
	if cmd.result != nil {
		cmd.result <- r
	}
}

func newPipeline(log *logrus.Logger, adapter Adapter, cfg Config, connected func() bool) *writepipeline.Pipeline {
	return writepipeline.New(log, adapter, cfg.WriteTimeout, cfg.WritePacingDelay, connected)
}
