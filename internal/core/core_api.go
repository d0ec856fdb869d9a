package core

import "context"

// Connect implements §4.5: sets the device id and drives the full setup
// protocol, blocking until a data stream is ready or setup fails.
func (c *Core) Connect(_ context.Context, deviceID string) (<-chan []byte, error) {
	r := c.submit(cmdConnect, deviceID)
	return r.stream, r.err
}

// Disconnect always completes (spec §6.1).
func (c *Core) Disconnect(_ context.Context) error {
	r := c.submit(cmdDisconnect, nil)
	return r.err
}

// Switch disconnects the current peripheral (if any) and connects to a new
// one (spec §6.1 switch_device).
func (c *Core) Switch(_ context.Context, newDeviceID string) (<-chan []byte, error) {
	r := c.submit(cmdSwitch, newDeviceID)
	return r.stream, r.err
}

// Send queues bytes on the write pipeline (spec §4.3).
func (c *Core) Send(_ context.Context, data []byte) error {
	r := c.submit(cmdSend, data)
	return r.err
}

// StartScanning activates scanning for Nordic UART peripherals (spec §4.7).
func (c *Core) StartScanning(_ context.Context) error {
	r := c.submit(cmdStartScan, nil)
	return r.err
}

// StopScanning halts scanning (spec §4.7).
func (c *Core) StopScanning() {
	c.submit(cmdStopScan, nil)
}

// WaitForPoweredOn reports whether the radio is currently powered on (spec
// §6.2).
func (c *Core) WaitForPoweredOn(_ context.Context) error {
	r := c.submit(cmdWaitPoweredOn, nil)
	return r.err
}

// AppDidEnterBackground applies the background hooks of spec §4.4.
func (c *Core) AppDidEnterBackground() {
	c.submit(cmdEnterBackground, nil)
}

// AppDidBecomeActive applies the foreground hooks of spec §4.4.
func (c *Core) AppDidBecomeActive() {
	c.submit(cmdBecomeActive, nil)
}

// Shutdown implements spec §4.8; idempotent.
func (c *Core) Shutdown() {
	c.submit(cmdShutdown, nil)
}

// IsDeviceConnectedToSystem is the §6.2 peer check.
func (c *Core) IsDeviceConnectedToSystem(deviceID string) bool {
	return c.adapter.IsDeviceConnectedToSystem(deviceID)
}

// BluetoothStateName is the §6.2 diagnostic accessor.
func (c *Core) BluetoothStateName() string {
	return string(c.adapter.PowerState())
}
