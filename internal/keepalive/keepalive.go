// Package keepalive implements the Keepalive & Timeout Scheduler (spec
// §4.4): periodic RSSI keepalive while Connected, the connect/
// service-discovery/auto-reconnect-discovery timeout tasks, the power-off
// grace window, and the foreground/background hooks that gate them.
package keepalive

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults per spec §6.4.
const (
	RSSIPeriod                = 15 * time.Second
	ConnectTimeout            = 10 * time.Second
	ServiceDiscoveryTimeout   = 40 * time.Second
	AutoReconnectTimeout      = 15 * time.Second
	PowerOffGrace             = 1 * time.Second
	warnAfterConsecutiveFails = 3
	warnEveryNthFailure       = 10
)

// RSSIReader performs the idle-keepalive RSSI read.
type RSSIReader interface {
	ReadRSSI() error
}

// Keepalive owns the periodic RSSI ticker for one Connected phase.
type Keepalive struct {
	log    *logrus.Logger
	reader RSSIReader
	period time.Duration

	mu            sync.Mutex
	stopCh        chan struct{}
	stopped       bool
	consecutiveFails int
	totalFails       int
}

// New creates a Keepalive bound to reader. period <= 0 uses RSSIPeriod.
func New(log *logrus.Logger, reader RSSIReader, period time.Duration) *Keepalive {
	if log == nil {
		log = logrus.New()
	}
	if period <= 0 {
		period = RSSIPeriod
	}
	return &Keepalive{log: log, reader: reader, period: period}
}

// Start begins the periodic RSSI read loop. No-op if already running.
func (k *Keepalive) Start() {
	k.mu.Lock()
	if k.stopCh != nil {
		k.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	k.stopCh = stop
	k.stopped = false
	k.mu.Unlock()

	go func() {
		ticker := time.NewTicker(k.period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				k.tick()
			}
		}
	}()
}

func (k *Keepalive) tick() {
	err := k.reader.ReadRSSI()
	k.mu.Lock()
	defer k.mu.Unlock()
	if err != nil {
		k.consecutiveFails++
		k.totalFails++
		if k.consecutiveFails == warnAfterConsecutiveFails || (k.consecutiveFails > warnAfterConsecutiveFails && k.consecutiveFails%warnEveryNthFailure == 0) {
			k.log.WithFields(logrus.Fields{"consecutive_fails": k.consecutiveFails, "err": err}).Warn("rssi keepalive failing")
		}
		return
	}
	if k.consecutiveFails > 0 {
		k.log.Info("rssi keepalive recovered")
	}
	k.consecutiveFails = 0
}

// Running reports whether the keepalive loop is currently armed (spec §4.4
// "if Connected and keepalive task is absent, restart it defensively").
func (k *Keepalive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stopCh != nil && !k.stopped
}

// Stop halts the periodic RSSI read loop. Safe to call when not running.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopCh == nil || k.stopped {
		return
	}
	close(k.stopCh)
	k.stopped = true
	k.stopCh = nil
}

// Timer is the minimal timer surface the scheduler needs.
type Timer interface {
	Stop() bool
}

// ArmTimeout starts a one-shot timer that invokes fn after d, unless
// stopped first. Used for connect/service-discovery/auto-reconnect
// timeouts and the power-off grace window; the caller is responsible for
// generation-tagging fn so a fired-but-stale timer is a no-op (see
// internal/fence).
func ArmTimeout(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
