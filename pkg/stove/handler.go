// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stove

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stovelink/pkg/protocol"
	"github.com/Thermoquad/stovelink/pkg/relay"
)

// Applied describes one handled command.
type Applied struct {
	Command  protocol.Command
	Response protocol.Response
	Message  string
	RelayOn  bool
}

// RelayHandler applies received commands to the relay and feeds the watchdog
// for every confirmed command. It implements channel.Handler.
type RelayHandler struct {
	relay     *relay.Relay
	watchdog  *Watchdog
	indicator *Indicator
	replies   protocol.StateReplies
	plainAck  bool
	now       func() time.Time
	log       *zap.SugaredLogger
	observer  func(Applied)

	mu          sync.Mutex
	lastApplied time.Time
}

// HandlerOption configures a RelayHandler.
type HandlerOption func(*RelayHandler)

// WithStateReplies sets the literals used to report stove state.
func WithStateReplies(r protocol.StateReplies) HandlerOption {
	return func(h *RelayHandler) { h.replies = r }
}

// WithPlainAck answers STOVE_ON and STOVE_OFF with ACK instead of the state
// reply.
func WithPlainAck(plain bool) HandlerOption {
	return func(h *RelayHandler) { h.plainAck = plain }
}

// WithIndicator attaches a status indicator.
func WithIndicator(ind *Indicator) HandlerOption {
	return func(h *RelayHandler) { h.indicator = ind }
}

// WithAppliedObserver registers fn for every handled command.
func WithAppliedObserver(fn func(Applied)) HandlerOption {
	return func(h *RelayHandler) { h.observer = fn }
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(l *zap.SugaredLogger) HandlerOption {
	return func(h *RelayHandler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithHandlerClock replaces time.Now.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *RelayHandler) { h.now = now }
}

// NewRelayHandler returns a handler for r. wd may be nil.
func NewRelayHandler(r *relay.Relay, wd *Watchdog, opts ...HandlerOption) *RelayHandler {
	h := &RelayHandler{
		relay:    r,
		watchdog: wd,
		replies:  protocol.DefaultStateReplies,
		now:      time.Now,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LastApplied returns when the last command was confirmed.
func (h *RelayHandler) LastApplied() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastApplied
}

// Handle applies cmd. Turning on honors the relay dwell; turning off is
// always immediate.
func (h *RelayHandler) Handle(_ context.Context, cmd protocol.Command) protocol.Response {
	h.indicate(Receiving)

	var (
		msg  string
		resp protocol.Response
	)
	switch cmd {
	case protocol.StoveOn:
		if h.relay.IsOn() {
			msg = h.relay.Name() + ": already ON"
		} else {
			msg = h.relay.ProcessRemoteCommand(string(protocol.StoveOn))
		}
		resp = h.stateReply(true)
	case protocol.StoveOff:
		msg = h.relay.ProcessRemoteCommand("FORCE_OFF")
		resp = h.stateReply(false)
	case protocol.StatusRequest:
		msg = h.relay.ProcessRemoteCommand(string(protocol.StatusRequest))
		resp = h.replies.For(h.relay.IsOn())
	case protocol.Ping:
		msg, resp = "PING", protocol.Pong
	default:
		h.log.Warnf("unknown command %q", cmd)
		h.indicate(Fault)
		return protocol.UnknownCommand
	}

	on := h.relay.IsOn()
	if want, ok := commandState(cmd); ok && want != on {
		resp = protocol.Nack
	}
	h.log.Infof("%v: %s -> %v", cmd, msg, resp)

	if resp != protocol.Nack {
		h.mu.Lock()
		h.lastApplied = h.now()
		h.mu.Unlock()
		if h.watchdog != nil {
			h.watchdog.Feed()
		}
	}
	h.indicate(ForStove(on))

	if h.observer != nil {
		h.observer(Applied{Command: cmd, Response: resp, Message: msg, RelayOn: on})
	}
	return resp
}

func (h *RelayHandler) stateReply(on bool) protocol.Response {
	if h.plainAck {
		return protocol.Ack
	}
	return h.replies.For(on)
}

func (h *RelayHandler) indicate(i Indication) {
	if h.indicator != nil {
		h.indicator.Set(i)
	}
}

func commandState(cmd protocol.Command) (on bool, ok bool) {
	switch cmd {
	case protocol.StoveOn:
		return true, true
	case protocol.StoveOff:
		return false, true
	}
	return false, false
}
