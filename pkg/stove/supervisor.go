// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stove

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"github.com/Thermoquad/stovelink/pkg/protocol"
	"github.com/Thermoquad/stovelink/pkg/relay"
)

// Supervisor defaults.
const (
	// DefaultMinInterval matches the relay unit's dwell, so a change the
	// supervisor allows is never refused there.
	DefaultMinInterval   = relay.DefaultMinInterval
	DefaultSafetyMaxTemp = 82.0
	DefaultMaxRetries    = 2
	// DefaultKeepAlive keeps the relay unit's safety watchdog fed while the
	// stove runs.
	DefaultKeepAlive = 4 * time.Minute
)

// ErrRefused is returned when the relay unit answered but did not confirm.
var ErrRefused = errors.New("command refused")

// Commander delivers a command to the relay unit. *channel.Sender
// implements it.
type Commander interface {
	SendWithFallback(ctx context.Context, cmd protocol.Command, confirmed bool, maxRetries int) (protocol.Response, error)
}

// Snapshot is the supervisor state after a tick.
type Snapshot struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
	Desired     float64   `json:"desired"`
	State       string    `json:"state"`
	RemoteOn    bool      `json:"remote_on"`
	Manual      bool      `json:"manual"`
	Enabled     bool      `json:"enabled"`
	Status      string    `json:"status"`
}

// Supervisor is the controller side control loop. Each Tick reads the
// schedule, runs the hysteresis and commands the relay unit. A failed
// command leaves the remote treated as off.
type Supervisor struct {
	mu sync.Mutex

	cmd         Commander
	schedule    Schedule
	thresholds  Thresholds
	minInterval time.Duration
	keepAlive   time.Duration
	safetyMax   float64
	maxRetries  int
	confirmed   bool
	now         func() time.Time
	log         *zap.SugaredLogger

	state      State
	lastChange time.Time
	lastSent   time.Time
	remoteOn   bool
	manual     bool
	enabled    bool
	status     string
	last       Snapshot
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSchedule sets the heating schedule.
func WithSchedule(s Schedule) SupervisorOption {
	return func(sv *Supervisor) { sv.schedule = s }
}

// WithThresholds sets the hysteresis margins.
func WithThresholds(t Thresholds) SupervisorOption {
	return func(sv *Supervisor) { sv.thresholds = t }
}

// WithMinInterval sets the minimum time between state changes.
func WithMinInterval(d time.Duration) SupervisorOption {
	return func(sv *Supervisor) { sv.minInterval = d }
}

// WithKeepAlive sets how often STOVE_ON is repeated while running. Zero
// disables the repeat.
func WithKeepAlive(d time.Duration) SupervisorOption {
	return func(sv *Supervisor) { sv.keepAlive = d }
}

// WithSafetyMaxTemp sets the temperature ceiling above which the stove is
// never run.
func WithSafetyMaxTemp(f float64) SupervisorOption {
	return func(sv *Supervisor) { sv.safetyMax = f }
}

// WithMaxRetries sets the retry bound passed to the Commander.
func WithMaxRetries(n int) SupervisorOption {
	return func(sv *Supervisor) { sv.maxRetries = n }
}

// WithConfirmed selects confirmed delivery.
func WithConfirmed(confirmed bool) SupervisorOption {
	return func(sv *Supervisor) { sv.confirmed = confirmed }
}

// WithSupervisorClock replaces time.Now.
func WithSupervisorClock(now func() time.Time) SupervisorOption {
	return func(sv *Supervisor) { sv.now = now }
}

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(l *zap.SugaredLogger) SupervisorOption {
	return func(sv *Supervisor) {
		if l != nil {
			sv.log = l
		}
	}
}

// NewSupervisor returns an enabled supervisor in the Off state. The minimum
// interval is counted from construction.
func NewSupervisor(cmd Commander, opts ...SupervisorOption) *Supervisor {
	sv := &Supervisor{
		cmd:         cmd,
		schedule:    DefaultSchedule(),
		thresholds:  DefaultThresholds(),
		minInterval: DefaultMinInterval,
		keepAlive:   DefaultKeepAlive,
		safetyMax:   DefaultSafetyMaxTemp,
		maxRetries:  DefaultMaxRetries,
		confirmed:   true,
		now:         time.Now,
		log:         zap.NewNop().Sugar(),
		enabled:     true,
		status:      "OFF",
	}
	for _, opt := range opts {
		opt(sv)
	}
	sv.lastChange = sv.now()
	return sv
}

// State returns the current state.
func (sv *Supervisor) State() State {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.state
}

// Status returns the last display string.
func (sv *Supervisor) Status() string {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.status
}

// Manual reports whether manual override is active.
func (sv *Supervisor) Manual() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.manual
}

// Snapshot returns the state recorded by the last tick.
func (sv *Supervisor) Snapshot() Snapshot {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.last
}

func (sv *Supervisor) canChangeLocked() bool {
	return sv.now().Sub(sv.lastChange) >= sv.minInterval
}

func (sv *Supervisor) waitLocked() time.Duration {
	left := sv.minInterval - sv.now().Sub(sv.lastChange)
	if left < 0 {
		return 0
	}
	return left
}

// Tick runs one control cycle for the measured temperature and returns the
// display status.
func (sv *Supervisor) Tick(ctx context.Context, current float64) string {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	now := sv.now()
	desired := sv.schedule.Desired(now.Hour())

	switch {
	case current > sv.safetyMax && (sv.state.energized() || sv.manual):
		sv.manual = false
		sv.log.Warnf("temperature %.1fF above safety ceiling %.1fF, shutting stove off", current, sv.safetyMax)
		if sv.commandLocked(ctx, false) == nil {
			sv.lastChange = now
		}
		sv.state = Off
		sv.status = "OFF (Safety)"
	case sv.manual:
		if !sv.remoteOn || sv.keepAliveDueLocked() {
			sv.commandLocked(ctx, true)
		}
		if sv.remoteOn {
			sv.status = "MANUAL ON"
		}
	case !sv.enabled:
		sv.status = "Stove: not enabled"
	case sv.state == PendingOn || sv.state == PendingOff:
		sv.pendingLocked(ctx)
	default:
		next := Decide(sv.state, desired, current, sv.thresholds, sv.canChangeLocked())
		sv.log.Debugf("tick: current %.1fF desired %.1fF state %v -> %v", current, desired, sv.state, next)
		sv.transitionLocked(ctx, next)
		if sv.state == On && sv.keepAliveDueLocked() && sv.commandLocked(ctx, true) != nil {
			sv.state = Off
		}
	}

	sv.last = Snapshot{
		Time:        now,
		Temperature: current,
		Desired:     desired,
		State:       sv.state.String(),
		RemoteOn:    sv.remoteOn,
		Manual:      sv.manual,
		Enabled:     sv.enabled,
		Status:      sv.status,
	}
	return sv.status
}

// pendingLocked applies a pending change once the interval has passed.
func (sv *Supervisor) pendingLocked(ctx context.Context) {
	if !sv.canChangeLocked() {
		sv.status = fmt.Sprintf("Wait %ds", int64(sv.waitLocked()/time.Second))
		return
	}
	if sv.state == PendingOn {
		sv.transitionLocked(ctx, On)
	} else {
		sv.transitionLocked(ctx, Off)
	}
}

func (sv *Supervisor) transitionLocked(ctx context.Context, next State) {
	switch next {
	case PendingOn, PendingOff:
		if sv.state != next {
			sv.log.Infof("stove change to %v deferred, %v remaining", next, sv.waitLocked().Round(time.Second))
		}
		sv.state = next
		sv.status = fmt.Sprintf("Wait %ds", int64(sv.waitLocked()/time.Second))
	case On, Off:
		if next == sv.state {
			return
		}
		if err := sv.commandLocked(ctx, next == On); err != nil {
			sv.state = Off
			return
		}
		sv.state = next
		sv.lastChange = sv.now()
	}
}

func (sv *Supervisor) keepAliveDueLocked() bool {
	return sv.keepAlive > 0 && sv.now().Sub(sv.lastSent) >= sv.keepAlive
}

// commandLocked sends STOVE_ON or STOVE_OFF and records the outcome. Any
// failure leaves the remote treated as off.
func (sv *Supervisor) commandLocked(ctx context.Context, on bool) error {
	cmd, verb := protocol.StoveOff, "OFF"
	if on {
		cmd, verb = protocol.StoveOn, "ON"
	}

	resp, err := sv.cmd.SendWithFallback(ctx, cmd, sv.confirmed, sv.maxRetries)
	sv.lastSent = sv.now()
	if err != nil {
		sv.remoteOn = false
		sv.status = linkerr.Describe(err)
		sv.log.Warnf("stove %s failed: %v", verb, err)
		return err
	}
	if !resp.Positive() {
		sv.remoteOn = false
		if on && resp == protocol.Nack {
			// The relay unit is still inside its dwell. Hold off a full
			// interval instead of asking again every tick.
			sv.lastChange = sv.now()
		}
		sv.status = fmt.Sprintf("%s Failed: %v", verb, resp)
		sv.log.Warnf("stove %s refused by relay unit: %v", verb, resp)
		return fmt.Errorf("%v: %w", resp, ErrRefused)
	}
	if state, ok := resp.StoveState(); ok && state != on {
		sv.remoteOn = state
		sv.status = fmt.Sprintf("%s Failed: %v", verb, resp)
		sv.log.Warnf("stove %s answered with %v", verb, resp)
		return fmt.Errorf("%s answered %v: %w", cmd, resp, ErrRefused)
	}

	sv.remoteOn = on
	sv.status = "Stove: Turned " + verb
	sv.log.Infof("stove turned %s (%v)", verb, resp)
	return nil
}

// ToggleManualOverride flips manual mode. Turning it on above the safety
// ceiling is refused with linkerr.ErrSafetyBlocked. Manual commands bypass
// the minimum interval.
func (sv *Supervisor) ToggleManualOverride(ctx context.Context, current float64) (string, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.manual {
		sv.manual = false
		sv.commandLocked(ctx, false)
		sv.state = Off
		sv.lastChange = sv.now()
		sv.status = "OFF"
		return sv.status, nil
	}

	if current > sv.safetyMax {
		sv.status = "OFF (Safety)"
		sv.log.Warnf("manual ON refused at %.1fF (ceiling %.1fF)", current, sv.safetyMax)
		return sv.status, fmt.Errorf("manual override at %.1fF: %w", current, linkerr.ErrSafetyBlocked)
	}

	sv.manual = true
	if err := sv.commandLocked(ctx, true); err != nil {
		return sv.status, fmt.Errorf("manual override: %w", err)
	}
	sv.state = On
	sv.lastChange = sv.now()
	sv.status = "MANUAL ON"
	return sv.status, nil
}

// SetEnabled enables or disables automatic control. Disabling turns the
// stove off when it runs.
func (sv *Supervisor) SetEnabled(ctx context.Context, enable bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	sv.enabled = enable
	if enable {
		sv.log.Info("automatic control enabled")
		return
	}
	sv.log.Info("automatic control disabled")
	sv.manual = false
	if sv.state.energized() || sv.remoteOn {
		sv.commandLocked(ctx, false)
	}
	sv.state = Off
}

// Shutdown turns the stove off before the controller exits.
func (sv *Supervisor) Shutdown(ctx context.Context) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	sv.manual = false
	sv.state = Off
	if err := sv.commandLocked(ctx, false); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
