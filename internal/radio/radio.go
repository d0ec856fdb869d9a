// Package radio implements the Radio Adapter (spec §2.1): a thin wrapper
// around the platform central-role BLE driver. It exposes power state,
// peripheral retrieval, connect/cancel-connect, scan start/stop, and
// retrieve-connected-peripherals. All of the adapter's own callbacks are
// funneled onto a single dedicated channel so the caller (the Delegate
// Bridge) can forward them into the state machine's single-threaded
// context without further synchronization here.
package radio

import (
	"context"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleconn/internal/bleerr"
	"github.com/srg/bleconn/internal/groutine"
	"github.com/srg/bleconn/internal/nus"
)

// PowerState mirrors spec §3.1's Bluetooth Power State enum.
type PowerState string

const (
	PowerUnknown      PowerState = "unknown"
	PowerResetting    PowerState = "resetting"
	PowerUnsupported  PowerState = "unsupported"
	PowerUnauthorized PowerState = "unauthorized"
	PowerOff          PowerState = "powered_off"
	PowerOn           PowerState = "powered_on"
)

// EventKind discriminates the callback events the adapter posts to Events().
type EventKind string

const (
	EventDidConnect                  EventKind = "did_connect"
	EventDidFailToConnect            EventKind = "did_fail_to_connect"
	EventDidDisconnect               EventKind = "did_disconnect"
	EventDidDiscoverServices         EventKind = "did_discover_services"
	EventDidDiscoverCharacteristics  EventKind = "did_discover_characteristics"
	EventDidUpdateNotificationState  EventKind = "did_update_notification_state"
	EventDidUpdateValue              EventKind = "did_update_value"
	EventPowerStateChanged           EventKind = "power_state_changed"
	EventScanResult                  EventKind = "scan_result"
)

// Event is a typed callback message posted from the BLE queue.
type Event struct {
	Kind           EventKind
	PeripheralID   string
	RSSI           int
	Err            error
	IsReconnecting bool
	EventTimestamp time.Time
	Notifying      bool
	Value          []byte
	PowerState     PowerState
}

// DeviceFactory creates the platform ble.Device; overridable in tests.
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// Adapter wraps a go-ble central-role device.
type Adapter struct {
	log *logrus.Logger
	nus nus.Config

	mu     sync.Mutex
	dev    ble.Device
	client ble.Client
	txChar *ble.Characteristic
	rxChar *ble.Characteristic
	power  PowerState
	events chan Event

	scanResults *hashmap.Map[string, ScanResult]
	scanCancel  context.CancelFunc
}

// ScanResult is the last-seen advertisement for a discovered peripheral.
type ScanResult struct {
	PeripheralID string
	RSSI         int
	LocalName    string
	SeenAt       time.Time
}

// New creates an Adapter. The platform device is created lazily on
// Activate.
func New(log *logrus.Logger, nusConfig nus.Config) *Adapter {
	if log == nil {
		log = logrus.New()
	}
	return &Adapter{
		log:         log,
		nus:         nusConfig,
		power:       PowerUnknown,
		events:      make(chan Event, 64),
		scanResults: hashmap.New[string, ScanResult](),
	}
}

// Events returns the channel the Delegate Bridge reads from.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Activate lazily initializes the platform device; idempotent (spec §6.2).
func (a *Adapter) Activate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return bleerr.Normalize(err)
	}
	ble.SetDefaultDevice(dev)
	a.dev = dev
	// go-ble's darwin device reports power-on once the CoreBluetooth
	// central manager has settled; we optimistically mark it on without a
	// dedicated state-change callback, matching go-ble's API surface which
	// does not expose power-state transitions beyond Dial's own errors.
	a.power = PowerOn
	a.post(Event{Kind: EventPowerStateChanged, PowerState: PowerOn})
	return nil
}

// PowerState returns the last observed radio power state.
func (a *Adapter) PowerState() PowerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

func (a *Adapter) post(e Event) {
	select {
	case a.events <- e:
	default:
		a.log.WithField("kind", e.Kind).Warn("radio event dropped: bridge not draining events fast enough")
	}
}

// Connect dials the peripheral and performs the Nordic UART discovery
// chain (services -> characteristics -> notify subscribe), posting typed
// events for each step so the core can drive its own phase transitions.
// connectTimeout bounds only the initial dial; the discovery chain is
// timed by the caller's keepalive scheduler, not here.
func (a *Adapter) Connect(ctx context.Context, peripheralID string, connectTimeout time.Duration) {
	traceID := uuid.NewString()
	log := a.log.WithFields(logrus.Fields{"peripheral": peripheralID, "trace": traceID})

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := ble.Dial(dialCtx, ble.NewAddr(peripheralID))
	if err != nil {
		log.WithError(err).Warn("dial failed")
		a.post(Event{Kind: EventDidFailToConnect, PeripheralID: peripheralID, Err: bleerr.Normalize(err)})
		return
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	a.post(Event{Kind: EventDidConnect, PeripheralID: peripheralID})

	if darwinClient, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "radio-disconnect-watch", func(_ context.Context) {
			<-darwinClient.Disconnected()
			a.post(Event{
				Kind:           EventDidDisconnect,
				PeripheralID:   peripheralID,
				EventTimestamp: time.Now(),
				IsReconnecting: true,
			})
		})
	} else {
		log.Debug("client does not expose Disconnected(); relying on write/keepalive failures to detect loss")
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		log.WithError(err).Warn("service discovery failed")
		_ = client.CancelConnection()
		a.post(Event{Kind: EventDidFailToConnect, PeripheralID: peripheralID, Err: bleerr.Normalize(err)})
		return
	}

	var svc *ble.Service
	for _, s := range profile.Services {
		if s.UUID.Equal(a.nus.ServiceUUID) {
			svc = s
			break
		}
	}
	if svc == nil {
		a.post(Event{Kind: EventDidFailToConnect, PeripheralID: peripheralID, Err: bleerr.New(bleerr.KindConnectionFailed, "nordic uart service not advertised")})
		return
	}
	a.post(Event{Kind: EventDidDiscoverServices, PeripheralID: peripheralID})

	var txChar, rxChar *ble.Characteristic
	for _, c := range svc.Characteristics {
		if c.UUID.Equal(a.nus.TXCharUUID) {
			txChar = c
		}
		if c.UUID.Equal(a.nus.RXCharUUID) {
			rxChar = c
		}
	}
	if txChar == nil || rxChar == nil {
		a.post(Event{Kind: EventDidFailToConnect, PeripheralID: peripheralID, Err: bleerr.New(bleerr.KindConnectionFailed, "tx/rx characteristic missing")})
		return
	}
	a.post(Event{Kind: EventDidDiscoverCharacteristics, PeripheralID: peripheralID})

	a.mu.Lock()
	a.rxChar = rxChar
	a.txChar = txChar
	a.mu.Unlock()

	err = client.Subscribe(rxChar, false, func(data []byte) {
		a.post(Event{Kind: EventDidUpdateValue, PeripheralID: peripheralID, Value: data})
	})
	if err != nil {
		a.post(Event{Kind: EventDidFailToConnect, PeripheralID: peripheralID, Err: bleerr.Normalize(err)})
		return
	}
	a.post(Event{Kind: EventDidUpdateNotificationState, PeripheralID: peripheralID, Notifying: true})
}

// Write issues a GATT write-with-response to the TX characteristic.
func (a *Adapter) Write(data []byte) error {
	a.mu.Lock()
	client, ch := a.client, a.txChar
	a.mu.Unlock()
	if client == nil || ch == nil {
		return bleerr.ErrNotConnected
	}
	if err := client.WriteCharacteristic(ch, data, false); err != nil {
		return bleerr.Normalize(err)
	}
	return nil
}

// ReadRSSI issues the idle-keepalive RSSI read.
func (a *Adapter) ReadRSSI() error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return bleerr.ErrNotConnected
	}
	_ = client.ReadRSSI()
	return nil
}

// CancelConnect cancels an in-flight or established connection.
func (a *Adapter) CancelConnect() error {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.txChar = nil
	a.rxChar = nil
	a.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return bleerr.Normalize(err)
	}
	return nil
}

// StartScan begins scanning for peripherals advertising the Nordic UART
// service, with duplicates allowed (spec §4.7).
func (a *Adapter) StartScan(ctx context.Context) error {
	scanCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.scanCancel = cancel
	a.mu.Unlock()

	groutine.Go(scanCtx, "radio-scan", func(c context.Context) {
		err := ble.Scan(c, true, func(adv ble.Advertisement) {
			id := adv.Addr().String()
			res := ScanResult{PeripheralID: id, RSSI: adv.RSSI(), LocalName: adv.LocalName(), SeenAt: time.Now()}
			a.scanResults.Set(id, res)
			a.post(Event{Kind: EventScanResult, PeripheralID: id, RSSI: adv.RSSI()})
		}, func(adv ble.Advertisement) bool {
			for _, u := range adv.Services() {
				if u.Equal(a.nus.ServiceUUID) {
					return true
				}
			}
			return false
		})
		if err != nil && c.Err() == nil {
			a.log.WithError(err).Warn("scan ended with error")
		}
	})
	return nil
}

// StopScan halts any in-progress scan. The scan-result cache is kept as is;
// ScanResults still returns the peripherals seen before the stop.
func (a *Adapter) StopScan() {
	a.mu.Lock()
	cancel := a.scanCancel
	a.scanCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	ble.Stop()
}

// ScanResults returns a snapshot of discovered peripherals. Safe to call
// concurrently with an in-progress scan because the underlying map is
// lock-free (cornelk/hashmap): the scan callback writes from the radio's
// own goroutine while diagnostics/facade callers read from elsewhere.
func (a *Adapter) ScanResults() []ScanResult {
	out := make([]ScanResult, 0)
	a.scanResults.Range(func(_ string, v ScanResult) bool {
		out = append(out, v)
		return true
	})
	return out
}

// IsDeviceConnectedToSystem checks the platform's connected-peripherals
// cache for the given id (spec §6.2).
func (a *Adapter) IsDeviceConnectedToSystem(peripheralID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client != nil && a.client.Addr().String() == peripheralID
}
