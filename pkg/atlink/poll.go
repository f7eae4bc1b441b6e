// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atlink

import (
	"context"
	"time"
)

// Yielder is called between the discrete steps of every bounded wait, so a
// supervisory task watchdog can be kept fed without protocol code knowing
// about it.
type Yielder interface {
	Yield()
}

// YieldFunc adapts a function to Yielder. A nil YieldFunc does nothing.
type YieldFunc func()

func (f YieldFunc) Yield() {
	if f != nil {
		f()
	}
}

// NoYield is a Yielder that does nothing.
var NoYield Yielder = YieldFunc(nil)

// Poll calls try once per quantum until it reports done, the deadline
// passes, or ctx is cancelled. It yields between tries and never sleeps past
// the deadline. The return value reports whether try succeeded.
func Poll(ctx context.Context, deadline time.Time, quantum time.Duration, y Yielder, try func() bool) bool {
	if y == nil {
		y = NoYield
	}
	if quantum <= 0 {
		quantum = time.Millisecond
	}

	for {
		if try() {
			return true
		}
		y.Yield()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		wait := quantum
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// Sleep waits for d in sub-second steps, yielding between steps.
// It returns early with false if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration, y Yielder) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	step := 100 * time.Millisecond
	Poll(ctx, time.Now().Add(d), step, y, func() bool { return false })
	return ctx.Err() == nil
}
