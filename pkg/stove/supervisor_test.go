// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stove

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"github.com/Thermoquad/stovelink/pkg/protocol"
	"github.com/Thermoquad/stovelink/pkg/relay"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 12, 30, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type reply struct {
	resp protocol.Response
	err  error
}

// fakeCommander answers with queued replies, then with the state ACKs.
type fakeCommander struct {
	sent    []protocol.Command
	replies []reply
}

func (f *fakeCommander) SendWithFallback(_ context.Context, cmd protocol.Command, _ bool, _ int) (protocol.Response, error) {
	f.sent = append(f.sent, cmd)
	if len(f.replies) > 0 {
		r := f.replies[0]
		f.replies = f.replies[1:]
		return r.resp, r.err
	}
	switch cmd {
	case protocol.StoveOn:
		return protocol.StoveOnAck, nil
	case protocol.StoveOff:
		return protocol.StoveOffAck, nil
	}
	return protocol.Ack, nil
}

func flatSchedule(base float64) Schedule {
	return Schedule{Base: base}
}

func newTestSupervisor(cmd Commander, opts ...SupervisorOption) (*Supervisor, *fakeClock) {
	clock := newFakeClock()
	opts = append([]SupervisorOption{
		WithSupervisorClock(clock.Now),
		WithSchedule(flatSchedule(70)),
		WithKeepAlive(0),
	}, opts...)
	return NewSupervisor(cmd, opts...), clock
}

func TestSupervisorTurnsOn(t *testing.T) {
	cmd := &fakeCommander{}
	sv, clock := newTestSupervisor(cmd)
	clock.Advance(DefaultMinInterval)

	if got := sv.Tick(context.Background(), 67.9); got != "Stove: Turned ON" {
		t.Errorf("Tick() = %q", got)
	}
	if sv.State() != On {
		t.Errorf("State() = %v, want ON", sv.State())
	}
	if len(cmd.sent) != 1 || cmd.sent[0] != protocol.StoveOn {
		t.Errorf("sent %v, want [STOVE_ON]", cmd.sent)
	}

	snap := sv.Snapshot()
	if !snap.RemoteOn || snap.Desired != 70 || snap.Temperature != 67.9 {
		t.Errorf("Snapshot() = %+v", snap)
	}

	// Inside the band nothing is sent.
	clock.Advance(time.Minute)
	sv.Tick(context.Background(), 69.6)
	if len(cmd.sent) != 1 {
		t.Errorf("sent %v inside the hysteresis band", cmd.sent)
	}
}

func TestSupervisorPendingChange(t *testing.T) {
	cmd := &fakeCommander{}
	sv, clock := newTestSupervisor(cmd, WithMinInterval(time.Minute))
	ctx := context.Background()

	clock.Advance(time.Minute)
	sv.Tick(ctx, 67)

	clock.Advance(13 * time.Second)
	if got := sv.Tick(ctx, 69.4); got != "Wait 47s" {
		t.Errorf("Tick() = %q, want Wait 47s", got)
	}
	if sv.State() != PendingOff {
		t.Fatalf("State() = %v, want PENDING_OFF", sv.State())
	}

	// A pending change is not re-decided while waiting.
	clock.Advance(13 * time.Second)
	if got := sv.Tick(ctx, 69.6); got != "Wait 34s" {
		t.Errorf("Tick() = %q, want Wait 34s", got)
	}
	if sv.State() != PendingOff {
		t.Errorf("State() = %v, want PENDING_OFF", sv.State())
	}

	clock.Advance(34 * time.Second)
	if got := sv.Tick(ctx, 69.6); got != "Stove: Turned OFF" {
		t.Errorf("Tick() = %q", got)
	}
	if sv.State() != Off {
		t.Errorf("State() = %v, want OFF", sv.State())
	}
	want := []protocol.Command{protocol.StoveOn, protocol.StoveOff}
	if fmt.Sprint(cmd.sent) != fmt.Sprint(want) {
		t.Errorf("sent %v, want %v", cmd.sent, want)
	}
}

func TestSupervisorFailureTreatsRemoteAsOff(t *testing.T) {
	tests := []struct {
		name    string
		reply   reply
		status  string
		holdOff bool
	}{
		{"link down", reply{err: fmt.Errorf("send: %w", linkerr.ErrLinkUnavailable)}, "LoRa: Not available", false},
		{"no response", reply{err: fmt.Errorf("send: %w", linkerr.ErrNoResponse)}, "No response", false},
		{"nack", reply{resp: protocol.Nack}, "ON Failed: NACK", true},
		{"wrong state", reply{resp: protocol.StoveOffAck}, "ON Failed: STOVE_OFF_ACK", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &fakeCommander{replies: []reply{tt.reply}}
			sv, clock := newTestSupervisor(cmd)
			clock.Advance(DefaultMinInterval)

			if got := sv.Tick(context.Background(), 60); got != tt.status {
				t.Errorf("Tick() = %q, want %q", got, tt.status)
			}
			if sv.State() != Off || sv.Snapshot().RemoteOn {
				t.Errorf("state %v remote %v after failure", sv.State(), sv.Snapshot().RemoteOn)
			}

			if tt.holdOff {
				// A refused ON waits out a full interval.
				sv.Tick(context.Background(), 60)
				if sv.State() != PendingOn || len(cmd.sent) != 1 {
					t.Fatalf("state %v sent %v, want PendingOn without a resend", sv.State(), cmd.sent)
				}
				clock.Advance(DefaultMinInterval)
			}

			// The next allowed tick retries.
			sv.Tick(context.Background(), 60)
			if sv.State() != On {
				t.Errorf("State() = %v after retry, want ON", sv.State())
			}
		})
	}
}

// loopback delivers commands straight to a relay unit handler and records
// when the relay unit refused one.
type loopback struct {
	h     *RelayHandler
	clock *fakeClock
	nacks []time.Time
}

func (l *loopback) SendWithFallback(ctx context.Context, cmd protocol.Command, _ bool, _ int) (protocol.Response, error) {
	resp := l.h.Handle(ctx, cmd)
	if resp == protocol.Nack {
		l.nacks = append(l.nacks, l.clock.Now())
	}
	return resp, nil
}

func TestSupervisorHonorsRelayDwell(t *testing.T) {
	tests := []struct {
		name      string
		interval  time.Duration
		wantNacks int
	}{
		{"default intervals", DefaultMinInterval, 0},
		{"supervisor shorter than relay", 30 * time.Second, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &loopback{}
			sv, clock := newTestSupervisor(link, WithMinInterval(tt.interval))
			link.clock = clock
			r, err := relay.New("Stove", relay.NewLogActuator(nil),
				relay.WithClock(clock.Now), relay.WithRemoteControl(true))
			if err != nil {
				t.Fatal(err)
			}
			link.h = NewRelayHandler(r, nil)
			ctx := context.Background()

			clock.Advance(relay.DefaultMinInterval)
			sv.Tick(ctx, 67)
			clock.Advance(relay.DefaultMinInterval)
			sv.Tick(ctx, 69.4)
			if sv.State() != Off || r.IsOn() {
				t.Fatalf("state %v relay on %v, want both off", sv.State(), r.IsOn())
			}

			// A cold room right after the stove went off, until the relay
			// dwell has passed.
			for range 18 {
				clock.Advance(10 * time.Second)
				sv.Tick(ctx, 67)
			}

			if len(link.nacks) != tt.wantNacks {
				t.Errorf("relay unit refused %d commands, want %d", len(link.nacks), tt.wantNacks)
			}
			for i := 1; i < len(link.nacks); i++ {
				if gap := link.nacks[i].Sub(link.nacks[i-1]); gap < tt.interval {
					t.Errorf("refused commands %v apart, want at least %v", gap, tt.interval)
				}
			}
			if sv.State() != On || !r.IsOn() {
				t.Errorf("state %v relay on %v after the dwell, want both on", sv.State(), r.IsOn())
			}
		})
	}
}

func TestSupervisorOffNack(t *testing.T) {
	cmd := &fakeCommander{}
	sv, clock := newTestSupervisor(cmd)
	ctx := context.Background()

	clock.Advance(DefaultMinInterval)
	sv.Tick(ctx, 67)

	cmd.replies = []reply{{resp: protocol.Nack}}
	clock.Advance(DefaultMinInterval)
	if got := sv.Tick(ctx, 69.4); got != "OFF Failed: NACK" {
		t.Errorf("Tick() = %q", got)
	}
	if sv.State() != Off {
		t.Errorf("State() = %v, want OFF", sv.State())
	}
}

func TestSupervisorManualOverride(t *testing.T) {
	cmd := &fakeCommander{}
	sv, _ := newTestSupervisor(cmd)
	ctx := context.Background()

	status, err := sv.ToggleManualOverride(ctx, 83)
	if !errors.Is(err, linkerr.ErrSafetyBlocked) || status != "OFF (Safety)" {
		t.Errorf("ToggleManualOverride(83) = %q, %v", status, err)
	}
	if sv.Manual() || len(cmd.sent) != 0 {
		t.Fatalf("blocked override changed state: manual %v sent %v", sv.Manual(), cmd.sent)
	}

	// Allowed at the ceiling, inside the minimum interval.
	status, err = sv.ToggleManualOverride(ctx, 82)
	if err != nil || status != "MANUAL ON" {
		t.Fatalf("ToggleManualOverride(82) = %q, %v", status, err)
	}
	if got := sv.Tick(ctx, 75); got != "MANUAL ON" {
		t.Errorf("Tick() in manual = %q", got)
	}

	if got := sv.Tick(ctx, 82.5); got != "OFF (Safety)" {
		t.Errorf("Tick() above ceiling = %q", got)
	}
	if sv.Manual() || sv.State() != Off {
		t.Errorf("manual %v state %v after cutout", sv.Manual(), sv.State())
	}
	want := []protocol.Command{protocol.StoveOn, protocol.StoveOff}
	if fmt.Sprint(cmd.sent) != fmt.Sprint(want) {
		t.Errorf("sent %v, want %v", cmd.sent, want)
	}
}

func TestSupervisorManualToggleOff(t *testing.T) {
	cmd := &fakeCommander{}
	sv, _ := newTestSupervisor(cmd)
	ctx := context.Background()

	if _, err := sv.ToggleManualOverride(ctx, 70); err != nil {
		t.Fatal(err)
	}
	status, err := sv.ToggleManualOverride(ctx, 70)
	if err != nil || status != "OFF" {
		t.Errorf("second toggle = %q, %v", status, err)
	}
	if sv.Manual() {
		t.Error("manual still active")
	}
}

func TestSupervisorKeepAlive(t *testing.T) {
	cmd := &fakeCommander{}
	sv, clock := newTestSupervisor(cmd, WithKeepAlive(4*time.Minute))
	ctx := context.Background()

	clock.Advance(DefaultMinInterval)
	sv.Tick(ctx, 67)

	clock.Advance(3 * time.Minute)
	sv.Tick(ctx, 69.6)
	if len(cmd.sent) != 1 {
		t.Fatalf("sent %v before the keepalive was due", cmd.sent)
	}

	clock.Advance(time.Minute)
	sv.Tick(ctx, 69.6)
	if len(cmd.sent) != 2 || cmd.sent[1] != protocol.StoveOn {
		t.Errorf("sent %v, want a repeated STOVE_ON", cmd.sent)
	}
}

func TestSupervisorDisable(t *testing.T) {
	cmd := &fakeCommander{}
	sv, clock := newTestSupervisor(cmd)
	ctx := context.Background()

	clock.Advance(DefaultMinInterval)
	sv.Tick(ctx, 67)
	sv.SetEnabled(ctx, false)

	if sv.State() != Off {
		t.Errorf("State() = %v after disable", sv.State())
	}
	if got := sv.Tick(ctx, 60); got != "Stove: not enabled" {
		t.Errorf("Tick() = %q", got)
	}
	if len(cmd.sent) != 2 || cmd.sent[1] != protocol.StoveOff {
		t.Errorf("sent %v", cmd.sent)
	}
}

func TestSupervisorShutdown(t *testing.T) {
	cmd := &fakeCommander{replies: []reply{{err: linkerr.ErrNoResponse}}}
	sv, _ := newTestSupervisor(cmd)

	if err := sv.Shutdown(context.Background()); !errors.Is(err, linkerr.ErrNoResponse) {
		t.Errorf("Shutdown() = %v", err)
	}
	if err := sv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
