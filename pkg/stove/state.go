// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stove contains the control logic on both ends of the link. The
// Supervisor decides from temperature and schedule when the stove should
// run and commands the relay unit. On the relay unit, RelayHandler applies
// received commands and Watchdog forces the relay off when the link goes
// silent.
package stove

import "fmt"

// State is the controller's view of the stove.
type State int

const (
	Off State = iota
	On
	// PendingOn and PendingOff mean a change was decided but the minimum
	// interval has not elapsed yet.
	PendingOn
	PendingOff
)

func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case On:
		return "ON"
	case PendingOn:
		return "PENDING_ON"
	case PendingOff:
		return "PENDING_OFF"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// energized reports whether s counts as running for the hysteresis decision.
func (s State) energized() bool {
	return s == On || s == PendingOn
}

// Thresholds are the hysteresis margins in degrees F. Low must exceed High.
type Thresholds struct {
	// Low is the shortfall (desired - current) at or above which a stopped
	// stove starts.
	Low float64
	// High is the shortfall above which a running stove stops.
	High float64
}

// DefaultThresholds returns 2.0 to start and 0.5 to stop.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 2.0, High: 0.5}
}

// Validate checks the ordering of the margins.
func (t Thresholds) Validate() error {
	if t.Low <= t.High {
		return fmt.Errorf("hysteresis low threshold %.1f must exceed high threshold %.1f", t.Low, t.High)
	}
	return nil
}

// ShouldBeOn applies the asymmetric hysteresis. A stopped stove needs
// desired-current >= Low to start; a running one stops once
// desired-current > High.
//
// Note the direction of the stop rule: a running stove keeps going while the
// room is warmer than the target and stops once the room falls more than
// High below it. It is not a "heat until the setpoint" thermostat. Only the
// supervisor's safety ceiling bounds the overshoot.
func ShouldBeOn(state State, desired, current float64, th Thresholds) bool {
	diff := desired - current
	if !state.energized() {
		return diff >= th.Low
	}
	return diff <= th.High
}

// Decide returns the next state. A wanted change that may not happen yet
// becomes PendingOn or PendingOff.
func Decide(state State, desired, current float64, th Thresholds, canChange bool) State {
	want := ShouldBeOn(state, desired, current, th)
	switch {
	case want && !state.energized():
		if canChange {
			return On
		}
		return PendingOn
	case !want && state.energized():
		if canChange {
			return Off
		}
		return PendingOff
	}
	return state
}

// Schedule is the heating plan: a base temperature plus one offset per hour
// of the day.
type Schedule struct {
	Base    float64
	Offsets [24]float64
}

// DefaultSchedule is 68F with a -5F offset every hour.
func DefaultSchedule() Schedule {
	s := Schedule{Base: 68}
	for i := range s.Offsets {
		s.Offsets[i] = -5
	}
	return s
}

// Desired returns the target temperature for hour (0-23). Other hours get
// the base temperature.
func (s Schedule) Desired(hour int) float64 {
	if hour < 0 || hour >= len(s.Offsets) {
		return s.Base
	}
	return s.Base + s.Offsets[hour]
}
