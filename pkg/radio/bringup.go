// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"go.uber.org/zap"
)

// DefaultBauds is the candidate baud list, tried in order.
var DefaultBauds = []int{19200, 9600, 115200}

// wakeSequence is written after opening the port to pull the modem out of sleep.
var wakeSequence = []byte{0xFF, 0xFF, 0xFF, 0xFF, '\r', '\n'}

// Bringup controls the baud search and reset sequence.
type Bringup struct {
	Bauds []int
	// Deadline bounds the whole procedure regardless of progress.
	Deadline time.Duration
	// Settle is the pause after opening the port.
	Settle time.Duration
	// Attempts is the number of liveness probes per baud.
	Attempts int
	// AttemptGap is the pause between liveness probes.
	AttemptGap time.Duration
	// ProbeTimeout bounds one "AT" exchange.
	ProbeTimeout time.Duration
	// ResetWait is the pause after AT+RESET before re-checking liveness.
	ResetWait time.Duration
}

// DefaultBringup returns the hardware timings.
func DefaultBringup() Bringup {
	return Bringup{
		Bauds:        DefaultBauds,
		Deadline:     60 * time.Second,
		Settle:       time.Second,
		Attempts:     5,
		AttemptGap:   2 * time.Second,
		ProbeTimeout: 2 * time.Second,
		ResetWait:    3 * time.Second,
	}
}

// BringUp finds a working baud rate, disables echo, resets the modem and
// confirms it is alive. On success the transport is left attached at the
// returned baud.
func BringUp(ctx context.Context, t *atlink.Transport, dialer atlink.Dialer, b Bringup, log *zap.SugaredLogger) (int, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	start := time.Now()
	deadline := start.Add(b.Deadline)
	attempts := linkerr.NewAttempts(linkerr.ErrLinkUnavailable)

	expired := func() bool {
		return !time.Now().Before(deadline) || ctx.Err() != nil
	}

	baud := 0
	for _, candidate := range b.Bauds {
		if expired() {
			log.Warnf("bring-up deadline of %v reached", b.Deadline)
			break
		}
		log.Infof("trying %d baud", candidate)

		if probe(ctx, t, dialer, candidate, b, deadline, attempts, log) {
			baud = candidate
			break
		}
	}

	if baud == 0 {
		_ = t.Detach()
		return 0, attempts.Err(fmt.Sprintf("modem did not respond after %v", time.Since(start).Round(time.Second)))
	}
	log.Infof("modem responding at %d baud", baud)

	if res := t.Exchange(ctx, "ATE0", atlink.OK, b.ProbeTimeout); !res.OK {
		log.Warnf("could not disable echo, continuing: %v", res.Err)
	}

	if err := Reset(ctx, t, b.ResetWait); err != nil {
		return 0, fmt.Errorf("reset at %d baud: %w", baud, err)
	}
	return baud, nil
}

// probe opens the port at baud and runs the liveness attempts.
func probe(ctx context.Context, t *atlink.Transport, dialer atlink.Dialer, baud int, b Bringup,
	deadline time.Time, attempts *linkerr.Attempts, log *zap.SugaredLogger) bool {
	port, err := dialer.Dial(baud)
	if err != nil {
		attempts.Add("%d baud: open failed: %v", baud, err)
		attempts.Escalate(linkerr.ErrLinkUnavailable)
		return false
	}
	t.Attach(port)

	t.Sleep(ctx, minDuration(b.Settle, time.Until(deadline)))
	_ = t.WriteRaw(wakeSequence)
	t.Drain()

	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		log.Debugf("  attempt %d at %d baud", attempt, baud)

		res := t.Exchange(ctx, "AT", atlink.OK, minDuration(b.ProbeTimeout, remaining))
		if res.OK {
			return true
		}
		lastErr = res.Err

		if attempt < b.Attempts {
			t.Sleep(ctx, minDuration(b.AttemptGap, time.Until(deadline)))
		}
	}

	switch {
	case lastErr == nil:
		attempts.Add("%d baud: deadline reached", baud)
		attempts.Escalate(linkerr.ErrNoResponse)
	case errors.Is(lastErr, linkerr.ErrUnexpectedResponse):
		attempts.Add("%d baud: garbled response", baud)
		attempts.Escalate(lastErr)
	default:
		attempts.Add("%d baud: no response", baud)
		attempts.Escalate(linkerr.ErrNoResponse)
	}
	return false
}

// Reset issues a hardware reset, discards boot messages and re-checks liveness.
func Reset(ctx context.Context, t *atlink.Transport, wait time.Duration) error {
	if res := t.Exchange(ctx, "AT+RESET", "", 2*time.Second); !res.OK {
		return res.Err
	}
	t.Sleep(ctx, wait)
	t.Drain()

	if res := t.Exchange(ctx, "AT", atlink.OK, 3*time.Second); !res.OK {
		return res.Err
	}
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	if b < 0 {
		return 0
	}
	return b
}
