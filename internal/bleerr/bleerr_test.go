package bleerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsComparesByKind(t *testing.T) {
	a := New(KindNotConnected, "send attempted while idle")
	b := New(KindNotConnected, "different message, same kind")
	assert.True(t, errors.Is(a, b))
	assert.True(t, errors.Is(a, ErrNotConnected))
	assert.False(t, errors.Is(a, ErrCancelled))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("platform: device not connected")
	wrapped := Wrap(KindNotConnected, cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestNormalizeMapsKnownMessages(t *testing.T) {
	cases := map[string]Kind{
		"device not connected":       KindNotConnected,
		"BLE not supported":          KindRadioUnavailable,
		"peripheral not authorized":  KindRadioUnauthorized,
		"bluetooth is powered off":   KindRadioPoweredOff,
		"peripheral XYZ not found":   KindDeviceNotFound,
		"operation timed out":        KindOperationTimeout,
		"context deadline exceeded":  KindOperationTimeout,
		"connect request canceled":   KindCancelled,
		"gatt write failed strangely": KindConnectionFailed,
	}
	for msg, kind := range cases {
		got := Normalize(errors.New(msg))
		assert.Truef(t, Is(got, kind), "message %q: want kind %q, got %v", msg, kind, got)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	original := New(KindWriteError, "gatt error 14")
	assert.Same(t, original, Normalize(original).(*Error))
}

func TestNormalizeNil(t *testing.T) {
	assert.Nil(t, Normalize(nil))
}
