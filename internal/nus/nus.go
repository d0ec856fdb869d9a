// Package nus defines the on-wire Nordic UART Service constants (spec
// §6.3): one service UUID and the two characteristic UUIDs it exposes.
//
// TX/RX naming follows spec §6.3 literally: TX is the caller's write target
// (peripheral receives on TX); RX is the notify characteristic (peripheral
// transmits on RX). This is the inverse of the conventional real-world NUS
// documentation, where "TX"/"RX" are named from the peripheral's
// perspective; see DESIGN.md's Open Question resolution. The UUID values
// themselves are the standard Nordic UART Service values.
package nus

import "github.com/go-ble/ble"

var (
	// ServiceUUID is the Nordic UART Service UUID.
	ServiceUUID = ble.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")

	// TXCharUUID is the characteristic the caller writes to; the
	// peripheral receives on it.
	TXCharUUID = ble.MustParse("6E400002-B5A3-F393-E0A9-E50E24DCCA9E")

	// RXCharUUID is the notify characteristic; the peripheral transmits
	// on it and the caller subscribes to receive inbound data.
	RXCharUUID = ble.MustParse("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
)

// Config allows tests to substitute alternative UUIDs (spec §6.3:
// "configurable in tests but fixed at runtime").
type Config struct {
	ServiceUUID ble.UUID
	TXCharUUID  ble.UUID
	RXCharUUID  ble.UUID
}

// Default returns the fixed runtime Nordic UART Service configuration.
func Default() Config {
	return Config{ServiceUUID: ServiceUUID, TXCharUUID: TXCharUUID, RXCharUUID: RXCharUUID}
}
