// Package bleerr defines the taxonomic error kinds surfaced across the
// connection state machine and the normalization of raw go-ble errors into
// them.
package bleerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a taxonomic error category. Kinds are compared with
// errors.Is via Error.Is, never by message text.
type Kind string

const (
	KindRadioUnavailable  Kind = "radio_unavailable"
	KindRadioUnauthorized Kind = "radio_unauthorized"
	KindRadioPoweredOff   Kind = "radio_powered_off"
	KindDeviceNotFound    Kind = "device_not_found"
	KindAlreadyInOp       Kind = "already_in_operation"
	KindConnectionTimeout Kind = "connection_timeout"
	KindOperationTimeout  Kind = "operation_timeout"
	KindConnectionFailed  Kind = "connection_failed"
	KindNotConnected      Kind = "not_connected"
	KindWriteError        Kind = "write_error"
	KindCancelled         Kind = "cancelled"
)

// Error is the structured error type returned by facade and core operations.
type Error struct {
	Kind Kind
	Msg  string
	err  error // wrapped cause, optional
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare Error values by Kind alone.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Unwrap exposes the wrapped platform error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New builds an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind, wrapping a lower-level cause.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return &Error{Kind: kind}
	}
	return &Error{Kind: kind, Msg: cause.Error(), err: cause}
}

// Sentinel instances for errors.Is comparisons against a bare kind.
var (
	ErrRadioUnavailable  = &Error{Kind: KindRadioUnavailable}
	ErrRadioUnauthorized = &Error{Kind: KindRadioUnauthorized}
	ErrRadioPoweredOff   = &Error{Kind: KindRadioPoweredOff}
	ErrDeviceNotFound    = &Error{Kind: KindDeviceNotFound}
	ErrAlreadyInOp       = &Error{Kind: KindAlreadyInOp}
	ErrConnectionTimeout = &Error{Kind: KindConnectionTimeout}
	ErrOperationTimeout  = &Error{Kind: KindOperationTimeout}
	ErrNotConnected      = &Error{Kind: KindNotConnected}
	ErrCancelled         = &Error{Kind: KindCancelled}
)

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Normalize maps a raw platform (go-ble) error into a structured Error. It
// preserves the original message and wraps the original error for Unwrap.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"):
		return Wrap(KindRadioUnavailable, err)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not authorized"):
		return Wrap(KindRadioUnauthorized, err)
	case strings.Contains(msg, "powered off"), strings.Contains(msg, "not powered on"):
		return Wrap(KindRadioPoweredOff, err)
	case strings.Contains(msg, "not found"):
		return Wrap(KindDeviceNotFound, err)
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return Wrap(KindOperationTimeout, err)
	case strings.Contains(msg, "not connected"):
		return Wrap(KindNotConnected, err)
	case strings.Contains(msg, "canceled"), strings.Contains(msg, "cancelled"):
		return Wrap(KindCancelled, err)
	default:
		return Wrap(KindConnectionFailed, err)
	}
}
