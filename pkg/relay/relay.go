// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package relay implements the rate-limited relay state machine that switches
// the stove. It is the only code that drives the physical actuator.
package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDisabled is returned when a disabled relay is asked to energize.
var ErrDisabled = errors.New("relay control disabled")

// DefaultMinInterval is the default dwell between state changes.
const DefaultMinInterval = 3 * time.Minute

// State is the relay position.
type State int

const (
	Off State = iota
	On
)

func (s State) String() string {
	if s == On {
		return "ON"
	}
	return "OFF"
}

//go:generate go tool mockgen -source=relay.go -destination=mock_relay.go -package=relay

// Actuator drives the physical relay.
type Actuator interface {
	Set(on bool) error
	Close() error
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Name          string
	State         State
	Enabled       bool
	RemoteControl bool
	MinInterval   time.Duration
	SinceChange   time.Duration
	UntilChange   time.Duration
	Changes       uint64
	LastError     string
}

// Relay is a binary actuator with a minimum dwell between changes. Forced
// transitions bypass the dwell. Relay is safe for concurrent use.
type Relay struct {
	mu sync.Mutex

	name        string
	act         Actuator
	minInterval time.Duration
	now         func() time.Time
	log         *zap.SugaredLogger

	state      State
	lastChange time.Time
	enabled    bool
	remote     bool
	changes    uint64
	lastError  string
}

// Option configures a Relay.
type Option func(*Relay)

// WithMinInterval sets the dwell between state changes.
func WithMinInterval(d time.Duration) Option {
	return func(r *Relay) { r.minInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRemoteControl allows ProcessRemoteCommand to act.
func WithRemoteControl(enable bool) Option {
	return func(r *Relay) { r.remote = enable }
}

// New returns an enabled relay driving act. The actuator is forced off and
// the dwell starts counting from construction.
func New(name string, act Actuator, opts ...Option) (*Relay, error) {
	r := &Relay{
		name:        name,
		act:         act,
		minInterval: DefaultMinInterval,
		now:         time.Now,
		log:         zap.NewNop().Sugar(),
		enabled:     true,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.act.Set(false); err != nil {
		return nil, fmt.Errorf("relay %s: initial off: %w", name, err)
	}
	r.lastChange = r.now()
	r.log.Infof("relay %q ready, minimum change interval %v", name, r.minInterval)
	return r, nil
}

// Name returns the device name.
func (r *Relay) Name() string { return r.name }

// State returns the current position.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsOn reports whether the relay is on.
func (r *Relay) IsOn() bool { return r.State() == On }

// CanChangeState reports whether the dwell has elapsed.
func (r *Relay) CanChangeState() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canChangeLocked()
}

func (r *Relay) canChangeLocked() bool {
	return r.now().Sub(r.lastChange) >= r.minInterval
}

// TimeUntilNextChange returns the remaining dwell, or zero.
func (r *Relay) TimeUntilNextChange() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.untilChangeLocked()
}

func (r *Relay) untilChangeLocked() time.Duration {
	elapsed := r.now().Sub(r.lastChange)
	if elapsed >= r.minInterval {
		return 0
	}
	return r.minInterval - elapsed
}

// TurnOn switches the relay on. Unless force is set, it refuses while the
// dwell is pending. The result is a status message.
func (r *Relay) TurnOn(force bool) string {
	return r.turn(On, force)
}

// TurnOff switches the relay off. Unless force is set, it refuses while the
// dwell is pending. The result is a status message.
func (r *Relay) TurnOff(force bool) string {
	return r.turn(Off, force)
}

func (r *Relay) turn(target State, force bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return r.name + ": Control disabled"
	}
	verb := "on"
	if target == Off {
		verb = "off"
	}
	if !force && !r.canChangeLocked() {
		return fmt.Sprintf("%s: Cannot turn %s, %d seconds remaining", r.name, verb, seconds(r.untilChangeLocked()))
	}
	if err := r.applyLocked(target); err != nil {
		return fmt.Sprintf("%s: Failed to turn %s: %v", r.name, verb, err)
	}
	return fmt.Sprintf("%s: Turned %v", r.name, target)
}

// ForceState applies on immediately, ignoring the dwell. Forcing off also
// ignores the enabled flag; a disabled relay refuses to be forced on.
func (r *Relay) ForceState(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := Off
	if on {
		if !r.enabled {
			return fmt.Errorf("relay %s: force on: %w", r.name, ErrDisabled)
		}
		target = On
	}
	r.log.Warnf("%s: FORCE state to %v", r.name, target)
	return r.applyLocked(target)
}

// applyLocked drives the actuator and records the change. The state only
// changes when the actuator accepted it.
func (r *Relay) applyLocked(target State) error {
	if err := r.act.Set(target == On); err != nil {
		r.lastError = err.Error()
		r.log.Errorf("%s: actuator failed setting %v: %v", r.name, target, err)
		return fmt.Errorf("relay %s: set %v: %w", r.name, target, err)
	}
	if r.state != target {
		r.changes++
	}
	r.state = target
	r.lastChange = r.now()
	r.log.Infof("%s relay set to: %v", r.name, target)
	return nil
}

// SetEnabled enables or disables control. Disabling an energized relay
// forces it off immediately.
func (r *Relay) SetEnabled(enable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = enable
	r.log.Infof("%s: control %s", r.name, enabledText(enable))
	if !enable && r.state == On {
		return r.applyLocked(Off)
	}
	return nil
}

// Enabled reports whether control is enabled.
func (r *Relay) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetRemoteControl allows or refuses remote commands.
func (r *Relay) SetRemoteControl(enable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = enable
	r.log.Infof("%s: remote control %s", r.name, enabledText(enable))
}

// SetMinInterval changes the dwell.
func (r *Relay) SetMinInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minInterval = d
}

// Status returns "ON" or "OFF", annotated while disabled or while the dwell
// is pending.
func (r *Relay) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Relay) statusLocked() string {
	base := r.state.String()
	if !r.enabled {
		return base + " (Disabled)"
	}
	if !r.canChangeLocked() {
		return fmt.Sprintf("%s (Change in %ds)", base, seconds(r.untilChangeLocked()))
	}
	return base
}

// ProcessRemoteCommand applies one remote text command. Matching is
// case-insensitive. Unknown text never touches the actuator.
func (r *Relay) ProcessRemoteCommand(command string) string {
	r.mu.Lock()
	remote, enabled := r.remote, r.enabled
	r.mu.Unlock()

	if !remote {
		return "Remote control disabled"
	}
	if !enabled {
		return "Control disabled"
	}

	switch strings.ToUpper(strings.TrimSpace(command)) {
	case "ON", "STOVE_ON":
		return r.TurnOn(false)
	case "OFF", "STOVE_OFF":
		return r.TurnOff(false)
	case "STATUS", "STATUS_REQUEST":
		return r.name + ": " + r.Status()
	case "FORCE_ON":
		return r.TurnOn(true)
	case "FORCE_OFF":
		return r.TurnOff(true)
	default:
		return "Unknown command: " + command
	}
}

// Stats returns a snapshot of the relay.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Name:          r.name,
		State:         r.state,
		Enabled:       r.enabled,
		RemoteControl: r.remote,
		MinInterval:   r.minInterval,
		SinceChange:   r.now().Sub(r.lastChange),
		UntilChange:   r.untilChangeLocked(),
		Changes:       r.changes,
		LastError:     r.lastError,
	}
}

// Close forces the relay off and releases the actuator.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	offErr := r.applyLocked(Off)
	if err := r.act.Close(); err != nil {
		return err
	}
	return offErr
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func enabledText(b bool) string {
	if b {
		return "ENABLED"
	}
	return "DISABLED"
}
