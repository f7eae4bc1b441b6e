// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stove

import "testing"

func TestShouldBeOn(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name    string
		state   State
		current float64
		want    bool
	}{
		{"off, cold enough", Off, 67.9, true},
		{"off, exactly low margin", Off, 68.0, true},
		{"off, inside band", Off, 68.5, false},
		{"on, inside band", On, 69.6, true},
		{"on, past high margin", On, 69.4, false},
		{"pending off counts as off", PendingOff, 68.5, false},
		{"pending on counts as on", PendingOn, 69.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldBeOn(tt.state, 70, tt.current, th); got != tt.want {
				t.Errorf("ShouldBeOn(%v, 70, %.1f) = %v, want %v", tt.state, tt.current, got, tt.want)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name      string
		state     State
		current   float64
		canChange bool
		want      State
	}{
		{"turn on", Off, 67.9, true, On},
		{"stay off", Off, 68.5, true, Off},
		{"stay on", On, 69.6, true, On},
		{"turn off", On, 69.4, true, Off},
		{"on deferred", Off, 67.9, false, PendingOn},
		{"off deferred", On, 69.4, false, PendingOff},
		{"no change needs no interval", On, 69.6, false, On},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.state, 70, tt.current, th, tt.canChange); got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("defaults rejected: %v", err)
	}
	if err := (Thresholds{Low: 0.5, High: 0.5}).Validate(); err == nil {
		t.Error("equal thresholds accepted")
	}
}

func TestScheduleDesired(t *testing.T) {
	s := DefaultSchedule()
	if got := s.Desired(7); got != 63 {
		t.Errorf("Desired(7) = %v, want 63", got)
	}

	s.Offsets[6] = 4
	if got := s.Desired(6); got != 72 {
		t.Errorf("Desired(6) = %v, want 72", got)
	}
	for _, hour := range []int{-1, 24, 99} {
		if got := s.Desired(hour); got != s.Base {
			t.Errorf("Desired(%d) = %v, want base %v", hour, got, s.Base)
		}
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{Off: "OFF", On: "ON", PendingOn: "PENDING_ON", PendingOff: "PENDING_OFF", State(9): "State(9)"} {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
