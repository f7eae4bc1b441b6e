// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stove

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stovelink/pkg/protocol"
)

// DefaultSafetyWindow is how long the relay may stay on without a valid
// command.
const DefaultSafetyWindow = 10 * time.Minute

// forceRetry spaces out attempts to force a stuck relay off.
const forceRetry = time.Second

// Watchdog forces the relay off when no valid command arrived within the
// safety window. It runs independently of command handling and nothing
// disables it. A forced off that fails is retried until the relay is off or
// a valid command arrives.
//
// Watchdog is an atlink.Yielder, so long link waits keep enforcing the
// window. Only Tick talks to the radio.
type Watchdog struct {
	mu sync.Mutex

	relay    Switch
	notifier Notifier
	window   time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger
	onFire   func(relayWasOn bool)

	last  time.Time
	fired uint64

	forcing  bool      // the last forced off failed
	attempt  time.Time // when it was tried
	tripped  bool      // expired since the last Tick
	notifyOn bool      // SAFETY_TIMEOUT owed to the controller
}

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithSafetyWindow sets the silence allowed before the relay is forced off.
func WithSafetyWindow(d time.Duration) WatchdogOption {
	return func(w *Watchdog) { w.window = d }
}

// WithWatchdogClock replaces time.Now.
func WithWatchdogClock(now func() time.Time) WatchdogOption {
	return func(w *Watchdog) { w.now = now }
}

// WithWatchdogLogger sets the logger.
func WithWatchdogLogger(l *zap.SugaredLogger) WatchdogOption {
	return func(w *Watchdog) {
		if l != nil {
			w.log = l
		}
	}
}

// WithTimeoutHook registers fn to run after every expiry.
func WithTimeoutHook(fn func(relayWasOn bool)) WatchdogOption {
	return func(w *Watchdog) { w.onFire = fn }
}

// NewWatchdog returns a watchdog whose window starts now. notifier may be
// nil.
func NewWatchdog(relay Switch, notifier Notifier, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		relay:    relay,
		notifier: notifier,
		window:   DefaultSafetyWindow,
		now:      time.Now,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.last = w.now()
	return w
}

// Feed records a valid command.
func (w *Watchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = w.now()
	w.forcing = false
}

// Remaining returns the time left before expiry.
func (w *Watchdog) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.forcing {
		return 0
	}
	left := w.window - w.now().Sub(w.last)
	if left < 0 {
		return 0
	}
	return left
}

// Fired returns how many times the window expired.
func (w *Watchdog) Fired() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// Yield enforces the window without notifying the controller. The
// SAFETY_TIMEOUT notice waits for the next Tick.
func (w *Watchdog) Yield() {
	w.enforce()
}

// Tick enforces the window and sends any SAFETY_TIMEOUT notice still owed.
// The result reports whether the window expired or a stuck relay was
// finally forced off since the previous Tick.
func (w *Watchdog) Tick(ctx context.Context) bool {
	w.enforce()

	w.mu.Lock()
	tripped, notify := w.tripped, w.notifyOn
	w.tripped, w.notifyOn = false, false
	w.mu.Unlock()

	if notify && w.notifier != nil {
		if err := w.notifier.SendResponse(ctx, protocol.SafetyTimeout); err != nil {
			w.log.Warnf("safety timeout notification not delivered: %v", err)
		}
	}
	return tripped || notify
}

// enforce forces an energized relay off once the window expired and
// restarts the window only after the relay accepted.
func (w *Watchdog) enforce() {
	w.mu.Lock()
	now := w.now()
	silent := now.Sub(w.last)
	retry := w.forcing
	switch {
	case retry:
		if now.Sub(w.attempt) < forceRetry {
			w.mu.Unlock()
			return
		}
	case silent < w.window:
		w.mu.Unlock()
		return
	default:
		w.fired++
		w.tripped = true
	}
	w.mu.Unlock()

	wasOn := w.relay.IsOn()
	if wasOn {
		if !retry {
			w.log.Warnf("SAFETY TIMEOUT: no command for %v, forcing stove OFF", silent.Round(time.Second))
		}
		if err := w.relay.ForceState(false); err != nil {
			w.log.Errorf("safety timeout: forcing relay off failed, retrying: %v", err)
			w.mu.Lock()
			w.forcing = true
			w.attempt = w.now()
			w.mu.Unlock()
			return
		}
	} else if !retry {
		w.log.Debugf("no command for %v, relay already off", silent.Round(time.Second))
	}

	w.mu.Lock()
	w.forcing = false
	w.last = w.now()
	w.notifyOn = w.notifyOn || wasOn
	w.mu.Unlock()

	if w.onFire != nil {
		w.onFire(wasOn)
	}
}
