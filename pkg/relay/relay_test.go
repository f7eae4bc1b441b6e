// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relay

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

const dwell = 3 * time.Minute

func newTestRelay(t *testing.T, act Actuator, opts ...Option) (*Relay, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 12, 30, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithMinInterval(dwell), WithRemoteControl(true)}, opts...)
	r, err := New("Stove", act, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r, clock
}

func TestNewForcesOff(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	act.EXPECT().Set(false).Return(nil)

	r, _ := newTestRelay(t, act)
	if r.State() != Off {
		t.Errorf("State() = %v, want OFF", r.State())
	}
	if r.CanChangeState() {
		t.Error("dwell should start counting at construction")
	}
}

func TestNewActuatorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	act.EXPECT().Set(false).Return(errors.New("line busy"))

	if _, err := New("Stove", act); err == nil {
		t.Error("New() succeeded with a failing actuator")
	}
}

func TestDwell(t *testing.T) {
	tests := []struct {
		name    string
		spacing time.Duration
		wantOn  bool
		wantMsg string
	}{
		{"inside dwell", dwell - time.Second, false, "1 seconds remaining"},
		{"just inside dwell", time.Second, false, "179 seconds remaining"},
		{"exactly dwell", dwell, true, "Turned ON"},
		{"after dwell", dwell + time.Minute, true, "Turned ON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			act := NewMockActuator(ctrl)
			act.EXPECT().Set(false).Return(nil)
			if tt.wantOn {
				act.EXPECT().Set(true).Return(nil)
			}

			r, clock := newTestRelay(t, act)
			clock.Advance(tt.spacing)

			msg := r.TurnOn(false)
			if !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("TurnOn() = %q, want it to contain %q", msg, tt.wantMsg)
			}
			if r.IsOn() != tt.wantOn {
				t.Errorf("IsOn() = %v, want %v", r.IsOn(), tt.wantOn)
			}
		})
	}
}

func TestConsecutiveChanges(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	gomock.InOrder(
		act.EXPECT().Set(false).Return(nil),
		act.EXPECT().Set(true).Return(nil),
		act.EXPECT().Set(false).Return(nil),
	)

	r, clock := newTestRelay(t, act)
	clock.Advance(dwell)
	r.TurnOn(false)

	clock.Advance(dwell / 2)
	if msg := r.TurnOff(false); !strings.Contains(msg, "Cannot turn off, 90 seconds remaining") {
		t.Errorf("TurnOff() inside dwell = %q", msg)
	}
	if !r.IsOn() {
		t.Fatal("relay changed inside the dwell")
	}

	clock.Advance(dwell / 2)
	if msg := r.TurnOff(false); msg != "Stove: Turned OFF" {
		t.Errorf("TurnOff() after dwell = %q", msg)
	}
	if got := r.Stats().Changes; got != 2 {
		t.Errorf("Changes = %d, want 2", got)
	}
}

func TestForceBypassesDwell(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	gomock.InOrder(
		act.EXPECT().Set(false).Return(nil),
		act.EXPECT().Set(true).Return(nil),
		act.EXPECT().Set(false).Return(nil),
		act.EXPECT().Set(true).Return(nil),
	)

	r, _ := newTestRelay(t, act)
	if err := r.ForceState(true); err != nil {
		t.Fatalf("ForceState(true) error: %v", err)
	}
	if err := r.ForceState(false); err != nil {
		t.Fatalf("ForceState(false) error: %v", err)
	}
	if msg := r.TurnOn(true); msg != "Stove: Turned ON" {
		t.Errorf("TurnOn(force) = %q", msg)
	}
}

func TestForceStateActuatorFailureKeepsState(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	gomock.InOrder(
		act.EXPECT().Set(false).Return(nil),
		act.EXPECT().Set(true).Return(errors.New("gpio write failed")),
	)

	r, _ := newTestRelay(t, act)
	if err := r.ForceState(true); err == nil {
		t.Fatal("ForceState() hid an actuator failure")
	}
	if r.IsOn() {
		t.Error("state changed although the actuator refused")
	}
	if r.Stats().LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestSetEnabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	gomock.InOrder(
		act.EXPECT().Set(false).Return(nil),
		act.EXPECT().Set(true).Return(nil),
		act.EXPECT().Set(false).Return(nil),
	)

	r, _ := newTestRelay(t, act)
	if err := r.ForceState(true); err != nil {
		t.Fatal(err)
	}

	// Disabling is immediate even though the dwell is pending.
	if err := r.SetEnabled(false); err != nil {
		t.Fatalf("SetEnabled(false) error: %v", err)
	}
	if r.IsOn() {
		t.Error("disabling left the relay on")
	}
	if msg := r.TurnOn(true); msg != "Stove: Control disabled" {
		t.Errorf("TurnOn() while disabled = %q", msg)
	}
	if err := r.ForceState(true); !errors.Is(err, ErrDisabled) {
		t.Errorf("ForceState(true) while disabled = %v, want ErrDisabled", err)
	}
	if r.IsOn() {
		t.Error("forced on while disabled")
	}
	if got := r.Status(); got != "OFF (Disabled)" {
		t.Errorf("Status() = %q", got)
	}
}

func TestStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	act.EXPECT().Set(gomock.Any()).Return(nil).AnyTimes()

	r, clock := newTestRelay(t, act)
	if got := r.Status(); got != "OFF (Change in 180s)" {
		t.Errorf("Status() = %q", got)
	}
	clock.Advance(dwell)
	if got := r.Status(); got != "OFF" {
		t.Errorf("Status() = %q", got)
	}
	r.TurnOn(false)
	clock.Advance(47 * time.Second)
	if got := r.Status(); got != "ON (Change in 133s)" {
		t.Errorf("Status() = %q", got)
	}
	if got := r.TimeUntilNextChange(); got != 133*time.Second {
		t.Errorf("TimeUntilNextChange() = %v", got)
	}
	if got := r.Stats().SinceChange; got != 47*time.Second {
		t.Errorf("SinceChange = %v", got)
	}
}

func TestProcessRemoteCommand(t *testing.T) {
	tests := []struct {
		command string
		advance time.Duration
		wantOn  bool
		wantMsg string
	}{
		{"stove_on", dwell, true, "Turned ON"},
		{"On", dwell, true, "Turned ON"},
		{"ON", 0, false, "Cannot turn on"},
		{"FORCE_ON", 0, true, "Turned ON"},
		{"force_off", 0, false, "Turned OFF"},
		{"STATUS", 0, false, "Stove: OFF"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			act := NewMockActuator(ctrl)
			act.EXPECT().Set(gomock.Any()).Return(nil).AnyTimes()

			r, clock := newTestRelay(t, act)
			clock.Advance(tt.advance)

			msg := r.ProcessRemoteCommand(tt.command)
			if !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("ProcessRemoteCommand(%q) = %q, want %q", tt.command, msg, tt.wantMsg)
			}
			if r.IsOn() != tt.wantOn {
				t.Errorf("IsOn() = %v, want %v", r.IsOn(), tt.wantOn)
			}
		})
	}
}

func TestProcessRemoteCommandNeverMutates(t *testing.T) {
	for _, command := range []string{"status_request", "STATUS_REQUEST", "Status_Request", "banana", "", "STOVE_ONN"} {
		t.Run(command, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			act := NewMockActuator(ctrl)
			// Only the construction-time off is allowed.
			act.EXPECT().Set(false).Return(nil).Times(1)

			r, clock := newTestRelay(t, act)
			clock.Advance(dwell)
			before := r.Stats()

			msg := r.ProcessRemoteCommand(command)
			if strings.HasPrefix(strings.ToUpper(command), "STATUS") {
				if !strings.HasPrefix(msg, "Stove: ") {
					t.Errorf("ProcessRemoteCommand(%q) = %q", command, msg)
				}
			} else if !strings.Contains(strings.ToLower(msg), "unknown command") {
				t.Errorf("ProcessRemoteCommand(%q) = %q, want unknown command", command, msg)
			}

			after := r.Stats()
			if after.State != before.State || after.Changes != before.Changes || after.SinceChange != before.SinceChange {
				t.Errorf("relay mutated: before %+v after %+v", before, after)
			}
		})
	}
}

func TestRemoteControlDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	act.EXPECT().Set(false).Return(nil)

	r, clock := newTestRelay(t, act, WithRemoteControl(false))
	clock.Advance(dwell)
	if msg := r.ProcessRemoteCommand("FORCE_ON"); msg != "Remote control disabled" {
		t.Errorf("ProcessRemoteCommand() = %q", msg)
	}
}

func TestClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := NewMockActuator(ctrl)
	gomock.InOrder(
		act.EXPECT().Set(false).Return(nil),
		act.EXPECT().Set(true).Return(nil),
		act.EXPECT().Set(false).Return(nil),
		act.EXPECT().Close().Return(nil),
	)

	r, _ := newTestRelay(t, act)
	if err := r.ForceState(true); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestLogActuator(t *testing.T) {
	a := NewLogActuator(nil)
	r, clock := newTestRelay(t, a)
	clock.Advance(dwell)
	r.TurnOn(false)
	if !a.On() {
		t.Error("LogActuator did not record ON")
	}
}
