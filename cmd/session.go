// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stovelink/internal/config"
	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/Thermoquad/stovelink/pkg/radio"
)

// Reconnect backoff bounds
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// backoff schedules reconnection attempts, doubling the wait after every
// failure up to maxBackoff.
type backoff struct {
	wait time.Duration
	next time.Time
}

func newBackoff() *backoff {
	return &backoff{wait: initialBackoff}
}

// Due reports whether an attempt may be made at now.
func (b *backoff) Due(now time.Time) bool {
	return !now.Before(b.next)
}

// Until returns the time left before the next attempt.
func (b *backoff) Until(now time.Time) time.Duration {
	if d := b.next.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Failed schedules the next attempt and returns its delay.
func (b *backoff) Failed(now time.Time) time.Duration {
	d := b.wait
	b.next = now.Add(d)
	b.wait *= 2
	if b.wait > maxBackoff {
		b.wait = maxBackoff
	}
	return d
}

// Succeeded resets the backoff.
func (b *backoff) Succeeded() {
	b.wait = initialBackoff
	b.next = time.Time{}
}

// session is a brought-up, configured modem. While the link is down it
// keeps trying to restore it so the caller can run degraded.
type session struct {
	transport *atlink.Transport
	radio     *radio.Configurator
	dialer    atlink.Dialer
	bringup   radio.Bringup
	info      string
	log       *zap.SugaredLogger

	retry *backoff
	baud  int
}

// newSession prepares a session from the loaded configuration. Nothing is
// opened until connect. opts are applied to the transport.
func newSession(c *config.Config, l *zap.SugaredLogger, opts ...atlink.Option) (*session, error) {
	dialer, info, err := newDialer(c.Link)
	if err != nil {
		return nil, err
	}
	link, err := c.LinkConfig(promptAppKey)
	if err != nil {
		return nil, err
	}

	t := atlink.NewTransport(append([]atlink.Option{atlink.WithLogger(l.Named("at"))}, opts...)...)
	return &session{
		transport: t,
		radio:     radio.NewConfigurator(t, link, radio.WithLogger(l.Named("radio"))),
		dialer:    dialer,
		bringup:   c.Bringup(),
		info:      info,
		log:       l,
		retry:     newBackoff(),
	}, nil
}

// connect brings the modem up and configures the preferred mode, falling
// back to the other one.
func (s *session) connect(ctx context.Context) error {
	baud, err := radio.BringUp(ctx, s.transport, s.dialer, s.bringup, s.log.Named("bringup"))
	if err != nil {
		return err
	}
	s.baud = baud

	if err := s.radio.Setup(ctx); err != nil {
		return fmt.Errorf("configure modem: %w", err)
	}
	mode, _ := s.radio.Mode()
	s.log.Infof("link up: %s @ %d baud, %v mode", s.info, baud, mode)
	return nil
}

// connected reports whether the modem is attached and configured.
func (s *session) connected() bool {
	if !s.transport.Connected() {
		return false
	}
	_, ok := s.radio.Mode()
	return ok
}

// ensure tries to restore a lost link when the backoff allows it. It
// reports whether the link is usable.
func (s *session) ensure(ctx context.Context) bool {
	if s.connected() {
		return true
	}
	now := time.Now()
	if !s.retry.Due(now) {
		return false
	}

	if err := s.connect(ctx); err != nil {
		delay := s.retry.Failed(time.Now())
		s.log.Warnf("link unavailable, retrying in %v: %v", delay, err)
		return false
	}
	s.retry.Succeeded()
	return true
}

// waitForLink blocks until the link is up or ctx is done.
func (s *session) waitForLink(ctx context.Context) error {
	for !s.ensure(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry.Until(time.Now())):
		}
	}
	return nil
}

func (s *session) close() {
	if err := s.transport.Detach(); err != nil {
		s.log.Debugf("close link: %v", err)
	}
}
