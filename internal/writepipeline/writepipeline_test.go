package writepipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleconn/internal/bleerr"
)

// mockWriter's Write is synchronous, matching *radio.Adapter.Write. Tests
// that need to observe a write "still pending" hold a call open with
// mock.Call.After so they can race a timeout or a mismatched completion
// against it before it resolves on its own.
type mockWriter struct {
	mock.Mock
	mu   sync.Mutex
	seen [][]byte
}

func (m *mockWriter) Write(data []byte) error {
	m.mu.Lock()
	m.seen = append(m.seen, data)
	m.mu.Unlock()
	args := m.Called(data)
	return args.Error(0)
}

func alwaysConnected() bool { return true }

func TestSendCompletesOnSuccessfulWrite(t *testing.T) {
	w := &mockWriter{}
	w.On("Write", mock.Anything).Return(nil)
	p := New(nil, w, time.Second, 0, alwaysConnected)

	err := p.Send(context.Background(), []byte("hello"))
	assert.NoError(t, err)
}

func TestSendReturnsWriteErrorWrapped(t *testing.T) {
	w := &mockWriter{}
	w.On("Write", mock.Anything).Return(assert.AnError)
	p := New(nil, w, time.Second, 0, alwaysConnected)

	err := p.Send(context.Background(), []byte("hello"))
	require.Error(t, err)
	assert.True(t, bleerr.Is(err, bleerr.KindWriteError))
}

func TestCompleteRejectsWrongSequence(t *testing.T) {
	w := &mockWriter{}
	// Hold the write open long enough to attempt a mismatched completion
	// while seq 1 is still pending.
	w.On("Write", []byte("a")).Return(nil).After(60 * time.Millisecond)
	p := New(nil, w, time.Second, 0, alwaysConnected)

	done := make(chan error, 1)
	go func() {
		done <- p.Send(context.Background(), []byte("a"))
	}()
	time.Sleep(10 * time.Millisecond)

	// A completion for a sequence that isn't pending must not resume the
	// waiter for the sequence that is.
	p.Complete(999, nil)

	select {
	case <-done:
		t.Fatal("waiter resumed by mismatched sequence completion")
	case <-time.After(20 * time.Millisecond):
	}

	// The real write resolves on its own once it returns.
	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			return assert.NoError(t, err)
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSendTimesOutAndAdvancesQueue(t *testing.T) {
	w := &mockWriter{}
	// A's write hangs well past the pipeline timeout; B returns as soon as
	// it is driven.
	w.On("Write", []byte("A")).Return(nil).After(500 * time.Millisecond)
	w.On("Write", []byte("B")).Return(nil)
	p := New(nil, w, 20*time.Millisecond, 0, alwaysConnected)

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- p.Send(context.Background(), []byte("A")) }()
	time.Sleep(5 * time.Millisecond)
	go func() { errB <- p.Send(context.Background(), []byte("B")) }()

	assert.ErrorIs(t, <-errA, bleerr.ErrOperationTimeout)
	assert.NoError(t, <-errB)
}

func TestResetFailsAllWaitersWithNotConnected(t *testing.T) {
	w := &mockWriter{}
	w.On("Write", []byte("A")).Return(nil).After(500 * time.Millisecond)
	w.On("Write", []byte("B")).Return(nil)
	p := New(nil, w, time.Second, 0, alwaysConnected)

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- p.Send(context.Background(), []byte("A")) }()
	time.Sleep(5 * time.Millisecond)
	go func() { errB <- p.Send(context.Background(), []byte("B")) }()
	time.Sleep(5 * time.Millisecond)

	p.Reset()

	assert.ErrorIs(t, <-errA, bleerr.ErrNotConnected)
	assert.ErrorIs(t, <-errB, bleerr.ErrNotConnected)
}

func TestQueueDepthReflectsPendingWaiters(t *testing.T) {
	w := &mockWriter{}
	w.On("Write", []byte("A")).Return(nil).After(500 * time.Millisecond)
	w.On("Write", []byte("B")).Return(nil)
	p := New(nil, w, time.Second, 0, alwaysConnected)

	go func() { _ = p.Send(context.Background(), []byte("A")) }()
	time.Sleep(5 * time.Millisecond)
	go func() { _ = p.Send(context.Background(), []byte("B")) }()
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 2, p.QueueDepth())
	p.Reset()
}
