// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stove

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/Thermoquad/stovelink/pkg/protocol"
	"github.com/Thermoquad/stovelink/pkg/relay"
)

func TestWatchdogForcesOff(t *testing.T) {
	ctrl := gomock.NewController(t)
	sw := NewMockSwitch(ctrl)
	notifier := NewMockNotifier(ctrl)
	gomock.InOrder(
		sw.EXPECT().IsOn().Return(true),
		sw.EXPECT().ForceState(false).Return(nil),
		notifier.EXPECT().SendResponse(gomock.Any(), protocol.SafetyTimeout).Return(nil),
	)

	var hooked []bool
	clock := newFakeClock()
	wd := NewWatchdog(sw, notifier,
		WithWatchdogClock(clock.Now),
		WithTimeoutHook(func(wasOn bool) { hooked = append(hooked, wasOn) }),
	)
	ctx := context.Background()

	clock.Advance(DefaultSafetyWindow - time.Second)
	if wd.Tick(ctx) {
		t.Fatal("watchdog fired inside the window")
	}
	clock.Advance(time.Second)
	if !wd.Tick(ctx) {
		t.Fatal("watchdog did not fire at the window")
	}
	// The window restarts after firing.
	if wd.Tick(ctx) {
		t.Error("watchdog fired twice in a row")
	}
	if wd.Fired() != 1 || len(hooked) != 1 || !hooked[0] {
		t.Errorf("Fired() = %d hooks %v", wd.Fired(), hooked)
	}
	if wd.Remaining() != DefaultSafetyWindow {
		t.Errorf("Remaining() = %v", wd.Remaining())
	}
}

func TestWatchdogNotificationIsBestEffort(t *testing.T) {
	ctrl := gomock.NewController(t)
	sw := NewMockSwitch(ctrl)
	notifier := NewMockNotifier(ctrl)
	gomock.InOrder(
		sw.EXPECT().IsOn().Return(true),
		sw.EXPECT().ForceState(false).Return(nil),
		notifier.EXPECT().SendResponse(gomock.Any(), protocol.SafetyTimeout).Return(errors.New("radio gone")),
	)

	clock := newFakeClock()
	wd := NewWatchdog(sw, notifier, WithWatchdogClock(clock.Now), WithSafetyWindow(time.Minute))
	clock.Advance(time.Minute)
	if !wd.Tick(context.Background()) {
		t.Error("Tick() = false")
	}
}

func TestWatchdogRelayAlreadyOff(t *testing.T) {
	ctrl := gomock.NewController(t)
	sw := NewMockSwitch(ctrl)
	notifier := NewMockNotifier(ctrl)
	sw.EXPECT().IsOn().Return(false)

	var hooked []bool
	clock := newFakeClock()
	wd := NewWatchdog(sw, notifier,
		WithWatchdogClock(clock.Now),
		WithTimeoutHook(func(wasOn bool) { hooked = append(hooked, wasOn) }),
	)
	clock.Advance(DefaultSafetyWindow)
	if !wd.Tick(context.Background()) {
		t.Error("Tick() = false")
	}
	if len(hooked) != 1 || hooked[0] {
		t.Errorf("hooks %v, want [false]", hooked)
	}
}

func TestWatchdogFeed(t *testing.T) {
	ctrl := gomock.NewController(t)
	sw := NewMockSwitch(ctrl)

	clock := newFakeClock()
	wd := NewWatchdog(sw, nil, WithWatchdogClock(clock.Now))
	for range 5 {
		clock.Advance(DefaultSafetyWindow - time.Minute)
		wd.Feed()
		if wd.Tick(context.Background()) {
			t.Fatal("fed watchdog fired")
		}
	}
}

func TestWatchdogIgnoresDwell(t *testing.T) {
	ctrl := gomock.NewController(t)
	act := relay.NewMockActuator(ctrl)
	gomock.InOrder(
		act.EXPECT().Set(false).Return(nil),
		act.EXPECT().Set(true).Return(nil),
		act.EXPECT().Set(false).Return(nil),
	)

	clock := newFakeClock()
	r, err := relay.New("Stove", act, relay.WithClock(clock.Now), relay.WithMinInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ForceState(true); err != nil {
		t.Fatal(err)
	}

	wd := NewWatchdog(r, nil, WithWatchdogClock(clock.Now))
	clock.Advance(DefaultSafetyWindow)
	if r.CanChangeState() {
		t.Fatal("dwell should still be pending")
	}
	if !wd.Tick(context.Background()) {
		t.Fatal("Tick() = false")
	}
	if r.IsOn() {
		t.Error("watchdog left the relay on inside the dwell")
	}
}

func TestWatchdogRetriesFailedForceOff(t *testing.T) {
	ctrl := gomock.NewController(t)
	sw := NewMockSwitch(ctrl)
	notifier := NewMockNotifier(ctrl)
	gomock.InOrder(
		sw.EXPECT().IsOn().Return(true),
		sw.EXPECT().ForceState(false).Return(errors.New("gpio write failed")),
		sw.EXPECT().IsOn().Return(true),
		sw.EXPECT().ForceState(false).Return(nil),
		notifier.EXPECT().SendResponse(gomock.Any(), protocol.SafetyTimeout).Return(nil),
	)

	var hooked []bool
	clock := newFakeClock()
	wd := NewWatchdog(sw, notifier,
		WithWatchdogClock(clock.Now),
		WithTimeoutHook(func(wasOn bool) { hooked = append(hooked, wasOn) }),
	)
	ctx := context.Background()

	clock.Advance(DefaultSafetyWindow)
	if !wd.Tick(ctx) {
		t.Fatal("watchdog did not fire at the window")
	}
	if wd.Remaining() != 0 {
		t.Errorf("Remaining() = %v while the relay is stuck on", wd.Remaining())
	}
	if len(hooked) != 0 {
		t.Errorf("timeout hook ran before the relay went off: %v", hooked)
	}

	clock.Advance(forceRetry / 2)
	if wd.Tick(ctx) {
		t.Error("retried before the retry interval")
	}
	clock.Advance(forceRetry / 2)
	if !wd.Tick(ctx) {
		t.Error("Tick() = false when the retry forced the relay off")
	}

	if wd.Fired() != 1 || len(hooked) != 1 || !hooked[0] {
		t.Errorf("Fired() = %d hooks %v", wd.Fired(), hooked)
	}
	if wd.Remaining() != DefaultSafetyWindow {
		t.Errorf("Remaining() = %v after the relay went off", wd.Remaining())
	}
}

func TestWatchdogFeedStopsRetrying(t *testing.T) {
	ctrl := gomock.NewController(t)
	sw := NewMockSwitch(ctrl)
	gomock.InOrder(
		sw.EXPECT().IsOn().Return(true),
		sw.EXPECT().ForceState(false).Return(errors.New("gpio write failed")),
	)

	clock := newFakeClock()
	wd := NewWatchdog(sw, nil, WithWatchdogClock(clock.Now))
	clock.Advance(DefaultSafetyWindow)
	wd.Tick(context.Background())

	wd.Feed()
	clock.Advance(forceRetry)
	if wd.Tick(context.Background()) {
		t.Error("watchdog kept forcing after a valid command")
	}
}

func TestWatchdogEnforcedDuringLinkWait(t *testing.T) {
	ctrl := gomock.NewController(t)
	sw := NewMockSwitch(ctrl)
	notifier := NewMockNotifier(ctrl)

	waiting := true
	gomock.InOrder(
		sw.EXPECT().IsOn().Return(true),
		sw.EXPECT().ForceState(false).Return(nil),
		notifier.EXPECT().SendResponse(gomock.Any(), protocol.SafetyTimeout).DoAndReturn(
			func(context.Context, protocol.Response) error {
				if waiting {
					t.Error("SAFETY_TIMEOUT sent from inside the link wait")
				}
				return nil
			}),
	)

	clock := newFakeClock()
	wd := NewWatchdog(sw, notifier, WithWatchdogClock(clock.Now))
	clock.Advance(DefaultSafetyWindow)

	ctx := context.Background()
	atlink.Sleep(ctx, 20*time.Millisecond, wd)
	waiting = false

	if wd.Fired() != 1 {
		t.Fatalf("Fired() = %d after a long wait, want 1", wd.Fired())
	}
	if !wd.Tick(ctx) {
		t.Error("Tick() = false, want the expiry from the wait reported")
	}
	if wd.Tick(ctx) {
		t.Error("Tick() reported the same expiry twice")
	}
}
