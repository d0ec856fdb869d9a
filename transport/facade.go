// Package transport implements the Transport Facade (spec §6.1): the
// minimal public surface presented to the mesh client above this
// subsystem.
package transport

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleconn/internal/core"
	"github.com/srg/bleconn/internal/nus"
	"github.com/srg/bleconn/internal/radio"
)

// Transport is the facade the upper mesh layer programs against.
type Transport struct {
	core     *core.Core
	adapter  core.Adapter
	deviceID string
	nusCfg   nus.Config
}

// Options configures a Transport at construction.
type Options struct {
	Logger *logrus.Logger
	Config core.Config
}

// New constructs a Transport with a real platform radio adapter.
func New(opts Options) *Transport {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	cfg := opts.Config
	if cfg.NUS.ServiceUUID == nil {
		cfg = core.DefaultConfig()
	}
	adapter := radio.New(log, cfg.NUS)
	return newWithAdapter(log, adapter, cfg)
}

// newWithAdapter builds a Transport around a caller-supplied Adapter,
// letting tests substitute internal/radio/radiotest.Fake for the platform
// radio.
func newWithAdapter(log *logrus.Logger, adapter core.Adapter, cfg core.Config) *Transport {
	c := core.New(log, adapter, cfg)
	return &Transport{core: c, adapter: adapter, nusCfg: cfg.NUS}
}

// Run starts the underlying state machine; call once before any other
// method.
func (t *Transport) Run(ctx context.Context) {
	t.core.Run(ctx)
}

// SetDeviceID records the stable peripheral id Connect will target.
func (t *Transport) SetDeviceID(id string) {
	t.deviceID = id
	t.core.SetDeviceID(id)
}

// SetDisconnectionHandler registers the (device_id, optional error)
// callback.
func (t *Transport) SetDisconnectionHandler(h func(deviceID string, err error)) {
	t.core.SetDisconnectionHandler(h)
}

// SetReconnectionHandler registers the (device_id, data_stream) callback
// invoked on auto-reconnect success. There is no OS state-restoration path,
// so it is not invoked for any other case.
func (t *Transport) SetReconnectionHandler(h func(deviceID string, stream <-chan []byte)) {
	t.core.SetReconnectionHandler(h)
}

// Connect connects to the previously-set device id.
func (t *Transport) Connect(ctx context.Context) (<-chan []byte, error) {
	return t.core.Connect(ctx, t.deviceID)
}

// Disconnect always completes.
func (t *Transport) Disconnect(ctx context.Context) error {
	return t.core.Disconnect(ctx)
}

// Send queues bytes for transmission.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	return t.core.Send(ctx, data)
}

// SwitchDevice disconnects and connects to a new peripheral id.
func (t *Transport) SwitchDevice(ctx context.Context, newDeviceID string) (<-chan []byte, error) {
	t.deviceID = newDeviceID
	return t.core.Switch(ctx, newDeviceID)
}

// IsConnected is observational.
func (t *Transport) IsConnected() bool {
	return t.core.IsConnected()
}

// ConnectedDeviceID is observational.
func (t *Transport) ConnectedDeviceID() string {
	return t.core.ConnectedDeviceID()
}

// ReceivedData returns the consumer end of the current data stream (spec
// §6.1), or a closed empty channel if not connected.
func (t *Transport) ReceivedData() <-chan []byte {
	return t.core.CurrentStream()
}

// Shutdown implements spec §4.8; idempotent, safe to call from any state.
func (t *Transport) Shutdown() {
	t.core.Shutdown()
}

// -- state-machine surface (§6.2), exposed for diagnostics/tests --

// Activate lazily initializes the radio adapter; idempotent.
func (t *Transport) Activate() error {
	return t.adapter.Activate()
}

// WaitForPoweredOn reports the current radio power state.
func (t *Transport) WaitForPoweredOn(ctx context.Context) error {
	return t.core.WaitForPoweredOn(ctx)
}

// StartScanning activates peripheral discovery.
func (t *Transport) StartScanning(ctx context.Context) error {
	return t.core.StartScanning(ctx)
}

// StopScanning halts peripheral discovery.
func (t *Transport) StopScanning() {
	t.core.StopScanning()
}

// SetScanHandler registers the per-discovery callback invoked with
// (peripheral_id, rssi).
func (t *Transport) SetScanHandler(h func(peripheralID string, rssi int)) {
	t.core.SetScanHandler(h)
}

// IsDeviceConnectedToSystem checks the platform's connected-peripherals
// cache.
func (t *Transport) IsDeviceConnectedToSystem(deviceID string) bool {
	return t.core.IsDeviceConnectedToSystem(deviceID)
}

// CurrentPhaseName exposes the live phase for diagnostics.
func (t *Transport) CurrentPhaseName() string {
	return string(t.core.CurrentPhaseName())
}

// BluetoothStateName exposes the observed radio power state.
func (t *Transport) BluetoothStateName() string {
	return t.core.BluetoothStateName()
}

// AppDidEnterBackground applies the background hooks of spec §4.4.
func (t *Transport) AppDidEnterBackground() {
	t.core.AppDidEnterBackground()
}

// AppDidBecomeActive applies the foreground hooks of spec §4.4.
func (t *Transport) AppDidBecomeActive() {
	t.core.AppDidBecomeActive()
}

// NUSConfig returns the on-wire service/characteristic UUIDs in effect.
func (t *Transport) NUSConfig() nus.Config {
	return t.nusCfg
}
