// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package channel implements the command channel between the controller and
// the relay unit. A Sender transmits commands and waits for validated
// responses with bounded retries and mode fallback. A Receiver decodes
// inbound commands and answers them.
package channel

import (
	"context"
	"time"

	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/Thermoquad/stovelink/pkg/radio"
	"go.uber.org/zap"
)

// Radio is the configured modem a channel talks through. *radio.Configurator
// satisfies it.
type Radio interface {
	Transport() *atlink.Transport
	Mode() (radio.Mode, bool)
	SwitchMode(ctx context.Context, mode radio.Mode) error
	Config() radio.LinkConfig
}

// Timing holds the per-mode channel waits.
type Timing struct {
	P2PSend  time.Duration
	P2PRetry time.Duration
	// P2PReceive bounds the wait for a P2P reply packet.
	P2PReceive time.Duration

	LoRaWANSend  time.Duration
	LoRaWANRetry time.Duration
	// LoRaWANReceive bounds the wait for a downlink after the uplink completed.
	LoRaWANReceive time.Duration

	// Listen is how long one receiver poll waits for inbound traffic.
	Listen time.Duration
	// Command bounds short control exchanges such as entering receive mode.
	Command time.Duration
}

// DefaultTiming returns the hardware timings.
func DefaultTiming() Timing {
	return Timing{
		P2PSend:        5 * time.Second,
		P2PRetry:       time.Second,
		P2PReceive:     3 * time.Second,
		LoRaWANSend:    10 * time.Second,
		LoRaWANRetry:   2 * time.Second,
		LoRaWANReceive: 5 * time.Second,
		Listen:         500 * time.Millisecond,
		Command:        2 * time.Second,
	}
}

func (tm Timing) send(m radio.Mode) time.Duration {
	if m == radio.LoRaWAN {
		return tm.LoRaWANSend
	}
	return tm.P2PSend
}

func (tm Timing) retry(m radio.Mode) time.Duration {
	if m == radio.LoRaWAN {
		return tm.LoRaWANRetry
	}
	return tm.P2PRetry
}

func (tm Timing) receive(m radio.Mode) time.Duration {
	if m == radio.LoRaWAN {
		return tm.LoRaWANReceive
	}
	return tm.P2PReceive
}

// Event kinds reported to an Observer
const (
	EventModeSwitch     = "mode_switch"
	EventSendFailed     = "send_failed"
	EventCommand        = "command"
	EventInvalidPayload = "invalid_payload"
)

// Event is a notable channel occurrence.
type Event struct {
	Kind   string
	Mode   radio.Mode
	Detail string
}

// Observer receives channel events. It is called synchronously.
type Observer func(Event)

// Option configures a Sender or Receiver.
type Option func(*options)

type options struct {
	timing   Timing
	log      *zap.SugaredLogger
	observer Observer
	stats    *Statistics
}

// WithTiming overrides the default timings.
func WithTiming(tm Timing) Option {
	return func(o *options) { o.timing = tm }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver registers fn for channel events.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// WithStatistics shares s instead of allocating fresh counters.
func WithStatistics(s *Statistics) Option {
	return func(o *options) {
		if s != nil {
			o.stats = s
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		timing: DefaultTiming(),
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stats == nil {
		o.stats = NewStatistics()
	}
	return o
}

func (o options) emit(kind string, mode radio.Mode, detail string) {
	if o.observer != nil {
		o.observer(Event{Kind: kind, Mode: mode, Detail: detail})
	}
}
