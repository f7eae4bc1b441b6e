// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"go.uber.org/zap"
)

// Timing holds the configurator's waits.
type Timing struct {
	// Command bounds one setup exchange.
	Command time.Duration
	// JoinSend bounds the AT+JOIN exchange itself.
	JoinSend time.Duration
	// Join bounds the wait for a join outcome in one attempt.
	Join time.Duration
	// JoinRetry is the short wait after AT+JOIN could not be sent.
	JoinRetry time.Duration
	// JoinBackoff is the longer wait between join attempts.
	JoinBackoff time.Duration
	// JoinAttempts is the number of join attempts.
	JoinAttempts int
}

// DefaultTiming returns the hardware timings.
func DefaultTiming() Timing {
	return Timing{
		Command:      5 * time.Second,
		JoinSend:     3 * time.Second,
		Join:         30 * time.Second,
		JoinRetry:    5 * time.Second,
		JoinBackoff:  10 * time.Second,
		JoinAttempts: 3,
	}
}

// Configurator puts the modem into exactly one radio mode. Configuration is
// transactional: a failed configure or switch leaves the stored parameters
// unchanged and puts the modem back into the previous mode. When the previous
// mode cannot be restored the state drops to Unconfigured, so the caller
// knows the link has to be brought up again.
type Configurator struct {
	t      *atlink.Transport
	cfg    LinkConfig
	state  State
	timing Timing
	log    *zap.SugaredLogger

	lastError string
}

// ConfiguratorOption configures a Configurator.
type ConfiguratorOption func(*Configurator)

// WithTiming overrides the default timings.
func WithTiming(tm Timing) ConfiguratorOption {
	return func(c *Configurator) { c.timing = tm }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) ConfiguratorOption {
	return func(c *Configurator) {
		if l != nil {
			c.log = l
		}
	}
}

// NewConfigurator returns an unconfigured Configurator driving t.
func NewConfigurator(t *atlink.Transport, cfg LinkConfig, opts ...ConfiguratorOption) *Configurator {
	c := &Configurator{
		t:      t,
		cfg:    cfg,
		timing: DefaultTiming(),
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transport returns the underlying transport.
func (c *Configurator) Transport() *atlink.Transport { return c.t }

// Config returns the stored parameters.
func (c *Configurator) Config() LinkConfig { return c.cfg }

// State returns the configuration state.
func (c *Configurator) State() State { return c.state }

// Mode returns the active mode. ok is false while unconfigured.
func (c *Configurator) Mode() (Mode, bool) { return c.state.Mode() }

// LastError returns the text of the most recent configuration failure.
func (c *Configurator) LastError() string { return c.lastError }

// Setup configures the preferred mode from scratch and falls back to the
// other one when that fails.
func (c *Configurator) Setup(ctx context.Context) error {
	preferred := c.cfg.Mode
	if preferred != P2P && preferred != LoRaWAN {
		preferred = P2P
	}
	c.state = Unconfigured

	err := c.Configure(ctx, preferred, c.cfg)
	if err == nil {
		return nil
	}
	if errors.Is(err, linkerr.ErrLinkUnavailable) {
		return err
	}
	c.log.Warnf("%v configuration failed, falling back to %v: %v", preferred, preferred.Other(), err)

	if fallbackErr := c.Configure(ctx, preferred.Other(), c.cfg); fallbackErr != nil {
		return fmt.Errorf("%v: %v; %v: %w", preferred, err, preferred.Other(), fallbackErr)
	}
	return nil
}

// Configure runs the configuration path for mode using the matching section
// of cfg. Only that section is stored, and only on success. A rejected step
// leaves the modem half way into mode, so the previously active mode is
// configured again from the stored parameters.
func (c *Configurator) Configure(ctx context.Context, mode Mode, cfg LinkConfig) error {
	switch mode {
	case P2P:
		if err := cfg.P2P.Validate(); err != nil {
			return fmt.Errorf("configure %v: %w", mode, err)
		}
	case LoRaWAN:
	default:
		return fmt.Errorf("configure: unsupported mode %v", mode)
	}

	if err := c.apply(ctx, mode, cfg); err != nil {
		c.lastError = fmt.Sprintf("configure %v: %v", mode, err)
		return c.restore(ctx, mode, err)
	}

	if mode == P2P {
		c.cfg.P2P = cfg.P2P
	} else {
		c.cfg.LoRaWAN = cfg.LoRaWAN
	}
	c.state = activeState(mode)
	c.log.Infof("%v mode configured", mode)
	return nil
}

func (c *Configurator) apply(ctx context.Context, mode Mode, cfg LinkConfig) error {
	if mode == P2P {
		return c.configureP2P(ctx, cfg.P2P)
	}
	return c.configureLoRaWAN(ctx, cfg.LoRaWAN)
}

// restore puts the modem back into the mode that was active before a failed
// configure of mode.
func (c *Configurator) restore(ctx context.Context, mode Mode, cause error) error {
	prev, ok := c.state.Mode()
	if !ok {
		c.log.Errorf("%s (state stays %v)", c.lastError, c.state)
		return fmt.Errorf("configure %v: %w", mode, cause)
	}
	if errors.Is(cause, linkerr.ErrLinkUnavailable) {
		c.state = Unconfigured
		c.log.Errorf("%s (link lost, state now %v)", c.lastError, c.state)
		return fmt.Errorf("configure %v: %w", mode, cause)
	}

	c.log.Warnf("%s, restoring %v mode", c.lastError, prev)
	if err := c.apply(ctx, prev, c.cfg); err != nil {
		c.state = Unconfigured
		c.lastError = fmt.Sprintf("configure %v: %v; restore %v: %v", mode, cause, prev, err)
		c.log.Errorf("%s (state now %v)", c.lastError, c.state)
		return fmt.Errorf("configure %v: %w; restore %v: %w: %w", mode, cause, prev, err, linkerr.ErrModeSwitchFailed)
	}
	c.log.Infof("%v mode restored", prev)
	return fmt.Errorf("configure %v: %w", mode, cause)
}

// SwitchMode activates mode using the stored parameters. It is a no-op if
// mode is already active.
func (c *Configurator) SwitchMode(ctx context.Context, mode Mode) error {
	if current, ok := c.Mode(); ok && current == mode {
		c.log.Debugf("already in %v mode", mode)
		return nil
	}

	c.log.Infof("switching from %v to %v", c.state, mode)
	if err := c.Configure(ctx, mode, c.cfg); err != nil {
		return fmt.Errorf("switch to %v: %w: %w", mode, err, linkerr.ErrModeSwitchFailed)
	}
	return nil
}

type step struct {
	command string
	expect  string
}

// run executes setup steps in order, stopping at the first rejection.
func (c *Configurator) run(ctx context.Context, steps []step) error {
	for _, s := range steps {
		res := c.t.Exchange(ctx, s.command, s.expect, c.timing.Command)
		if res.OK {
			continue
		}
		if errors.Is(res.Err, linkerr.ErrLinkUnavailable) {
			return res.Err
		}
		return fmt.Errorf("%s: expected %q, got %q: %w", s.command, s.expect, res.Response, linkerr.ErrConfigurationRejected)
	}
	return nil
}

// configureP2P enters test mode and pushes the RF tuple. The modem answers
// these with mode tokens, not OK.
func (c *Configurator) configureP2P(ctx context.Context, p P2PConfig) error {
	return c.run(ctx, []step{
		{"AT+MODE=TEST", "TEST"},
		{p.RFConfigCommand(), "RFCFG"},
	})
}

// configureLoRaWAN sets up the session and joins. ABP skips the join.
func (c *Configurator) configureLoRaWAN(ctx context.Context, l LoRaWANConfig) error {
	steps := []step{
		{"AT+MODE=" + l.JoinMode(), l.JoinMode()},
		{"AT+DR=" + l.Region, l.Region},
		{"AT+DR=" + strconv.Itoa(l.DataRate), "DR"},
	}
	if l.OTAA {
		steps = append(steps,
			step{"AT+ID=APPEUI," + hexUpper(l.AppEUI), atlink.OK},
			step{"AT+KEY=APPKEY," + hexUpper(l.AppKey), atlink.OK},
		)
	}
	steps = append(steps,
		step{"AT+CLASS=A", atlink.OK},
		step{"AT+CFM=" + boolDigit(l.Confirmed), atlink.OK},
		step{"AT+POWER=" + strconv.Itoa(l.Power), atlink.OK},
		step{"AT+ADR=" + onOff(l.ADR), atlink.OK},
	)

	if err := c.run(ctx, steps); err != nil {
		return err
	}
	if !l.OTAA {
		c.log.Info("ABP activation, no join required")
		return nil
	}
	return c.join(ctx, c.timing.JoinAttempts)
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
