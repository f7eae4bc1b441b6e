// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/Thermoquad/stovelink/pkg/linkerr"
)

// Join progress markers
const (
	joinStarted = "+JOIN: Start"
	joinJoined  = "+JOIN: Network joined"
	joinFailed  = "+JOIN: Join failed"
)

type joinOutcome int

const (
	joinPending joinOutcome = iota
	joinOK
	joinRejected
)

// scanJoin looks for a join outcome in text and reports whether the join
// was seen starting.
func scanJoin(text string) (joinOutcome, bool) {
	started := strings.Contains(text, joinStarted)
	switch {
	case strings.Contains(text, joinJoined):
		return joinOK, started
	case strings.Contains(text, joinFailed):
		return joinRejected, started
	}
	return joinPending, started
}

// Join runs the OTAA join. It is a no-op for ABP.
func (c *Configurator) Join(ctx context.Context) error {
	if !c.cfg.LoRaWAN.OTAA {
		return nil
	}
	return c.join(ctx, c.timing.JoinAttempts)
}

// Rejoin forces a fresh join on an active LoRaWAN session.
func (c *Configurator) Rejoin(ctx context.Context) error {
	if c.state != LoRaWANActive {
		return fmt.Errorf("rejoin: LoRaWAN not active (%v): %w", c.state, linkerr.ErrJoinFailed)
	}
	c.log.Info("forcing LoRaWAN rejoin")
	return c.Join(ctx)
}

// join makes up to maxAttempts join attempts. Each attempt sends AT+JOIN and
// then watches for the outcome markers for up to the join timeout.
func (c *Configurator) join(ctx context.Context, maxAttempts int) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		c.log.Infof("join attempt %d/%d", attempt, maxAttempts)
		last := attempt == maxAttempts

		c.t.Drain()
		res := c.t.Exchange(ctx, "AT+JOIN", atlink.OK, c.timing.JoinSend)
		if !res.OK {
			c.log.Warnf("join command failed on attempt %d (took %v): %v", attempt, res.Elapsed.Round(time.Millisecond), res.Err)
			if !last {
				c.t.Sleep(ctx, c.timing.JoinRetry)
			}
			continue
		}

		outcome, started := scanJoin(res.Response)
		if outcome == joinPending {
			line, err := c.t.WaitFor(ctx, c.timing.Join, func(line string) bool {
				o, s := scanJoin(line)
				started = started || s
				return o != joinPending
			})
			if err == nil {
				outcome, _ = scanJoin(line)
			}
		}

		switch outcome {
		case joinOK:
			c.log.Info("joined LoRaWAN network")
			if err := c.SetAutoLowPower(ctx, true); err != nil {
				c.log.Warnf("could not enable auto low power: %v", err)
			}
			return nil
		case joinRejected:
			c.log.Warnf("join failed on attempt %d", attempt)
		default:
			if started {
				c.log.Warnf("join timed out on attempt %d", attempt)
			} else {
				c.log.Warnf("join never started on attempt %d", attempt)
			}
		}

		if !last {
			c.t.Sleep(ctx, c.timing.JoinBackoff)
		}
	}

	return fmt.Errorf("%d join attempts exhausted: %w", maxAttempts, linkerr.ErrJoinFailed)
}
