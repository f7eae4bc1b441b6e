// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"github.com/Thermoquad/stovelink/pkg/protocol"
	"github.com/Thermoquad/stovelink/pkg/radio"
)

// Handler applies a decoded command and returns the reply to send back.
type Handler interface {
	Handle(ctx context.Context, cmd protocol.Command) protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd protocol.Command) protocol.Response

func (f HandlerFunc) Handle(ctx context.Context, cmd protocol.Command) protocol.Response {
	return f(ctx, cmd)
}

// signalReporter is implemented by radios that can read link quality.
type signalReporter interface {
	SignalQuality(ctx context.Context) (string, error)
}

// SignalInterval is how often an idle receiver logs link quality.
const SignalInterval = 5 * time.Minute

// Receiver is the relay-unit end of the command channel.
type Receiver struct {
	radio Radio
	ports portSelector
	options

	// listening is set while the modem sits in P2P receive mode. Re-entering
	// receive mode would drain a packet that is already waiting.
	listening  bool
	lastSignal time.Time
	signal     string
}

// NewReceiver returns a Receiver listening through r.
func NewReceiver(r Radio, opts ...Option) *Receiver {
	return &Receiver{radio: r, options: buildOptions(opts)}
}

// Statistics returns the live counters.
func (r *Receiver) Statistics() *Statistics { return r.stats }

// Signal returns the most recent link quality report.
func (r *Receiver) Signal() string { return r.signal }

// PollCommand waits briefly for one valid inbound command. Traffic that does
// not decode to a command is logged and dropped.
func (r *Receiver) PollCommand(ctx context.Context) (protocol.Command, bool) {
	mode, ok := r.radio.Mode()
	if !ok {
		return "", false
	}
	t := r.radio.Transport()

	if mode == radio.P2P && !r.listening {
		res := t.Exchange(ctx, "AT+TEST=RXLRPKT", "RX DONE", r.timing.Command)
		if !res.OK {
			r.log.Warnf("could not enter receive mode: %v", res.Err)
			return "", false
		}
		r.listening = true
		for _, hexPayload := range extractPackets(mode, res.Response) {
			if cmd, ok := r.decodeCommand(mode, hexPayload); ok {
				return cmd, true
			}
		}
	}

	var cmd protocol.Command
	_, err := t.WaitFor(ctx, r.timing.Listen, func(line string) bool {
		for _, hexPayload := range extractPackets(mode, line) {
			if c, ok := r.decodeCommand(mode, hexPayload); ok {
				cmd = c
				return true
			}
		}
		return false
	})
	if err != nil {
		return "", false
	}
	return cmd, true
}

// PollCommandWithFallback polls the active mode and, if nothing arrives,
// switches to the other mode once and polls again.
func (r *Receiver) PollCommandWithFallback(ctx context.Context) (protocol.Command, bool) {
	if cmd, ok := r.PollCommand(ctx); ok {
		return cmd, true
	}

	mode, ok := r.radio.Mode()
	if !ok {
		return "", false
	}
	other := mode.Other()
	err := r.radio.SwitchMode(ctx, other)
	// Even a failed switch has sent a mode change.
	r.listening = false
	r.ports = portSelector{}
	if err != nil {
		r.log.Warnf("receiver fallback to %v failed: %v", other, err)
		return "", false
	}
	r.emit(EventModeSwitch, other, fmt.Sprintf("%v -> %v while idle", mode, other))
	return r.PollCommand(ctx)
}

// SendResponse transmits resp in the active mode without waiting for any
// acknowledgment. One retry is made after a failed transmission.
func (r *Receiver) SendResponse(ctx context.Context, resp protocol.Response) error {
	if !protocol.IsValidResponse(string(resp)) {
		return fmt.Errorf("send response %q: %w", resp, linkerr.ErrInvalidResponse)
	}
	mode, ok := r.radio.Mode()
	if !ok {
		err := fmt.Errorf("send response: radio not configured: %w", linkerr.ErrLinkUnavailable)
		r.stats.RecordFailure(err)
		return err
	}

	t := r.radio.Transport()
	command, expect := txCommand(mode, r.radio.Config(), encodePayload(mode, string(resp)))
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			r.stats.RecordRetry()
			t.Sleep(ctx, r.timing.retry(mode))
		}
		if mode == radio.LoRaWAN {
			if err = r.ports.selectPort(ctx, t, portFor(string(resp)), r.timing.Command); err != nil {
				continue
			}
		}
		res := t.Exchange(ctx, command, expect, r.timing.send(mode))
		r.listening = false
		if err = res.Err; res.OK {
			err = checkUplink(mode, res.Response)
		}
		if err == nil {
			r.stats.RecordSuccess(false)
			r.log.Infof("response sent: %s", resp)
			return nil
		}
	}

	r.stats.RecordFailure(err)
	r.emit(EventSendFailed, mode, fmt.Sprintf("response %s: %v", resp, err))
	return fmt.Errorf("send response %s: %w", resp, err)
}

// ServeOnce runs one receive cycle: poll for a command, hand it to h and send
// the reply. It reports whether a command was handled. An idle cycle may
// refresh the link quality report.
func (r *Receiver) ServeOnce(ctx context.Context, h Handler, fallback bool) (bool, error) {
	poll := r.PollCommand
	if fallback {
		poll = r.PollCommandWithFallback
	}

	cmd, ok := poll(ctx)
	if !ok {
		r.refreshSignal(ctx)
		return false, nil
	}

	mode, _ := r.radio.Mode()
	r.log.Infof("received %s", cmd)
	r.emit(EventCommand, mode, string(cmd))

	resp := h.Handle(ctx, cmd)
	if resp == "" {
		return true, nil
	}
	return true, r.SendResponse(ctx, resp)
}

func (r *Receiver) refreshSignal(ctx context.Context) {
	sr, ok := r.radio.(signalReporter)
	if !ok || time.Since(r.lastSignal) < SignalInterval {
		return
	}
	r.lastSignal = time.Now()

	quality, err := sr.SignalQuality(ctx)
	if err != nil {
		r.log.Debugf("signal quality unavailable: %v", err)
		return
	}
	r.signal = quality
	r.log.Infof("signal quality: %s", quality)
	r.listening = false
}

func (r *Receiver) decodeCommand(mode radio.Mode, hexPayload string) (protocol.Command, bool) {
	text, err := decodePacket(mode, hexPayload)
	if err != nil {
		r.log.Debugf("ignoring packet %s: %v", hexPayload, err)
		return "", false
	}
	cmd, err := protocol.ParseCommand(text)
	if err != nil {
		r.log.Warnf("ignoring invalid command: %v", err)
		r.emit(EventInvalidPayload, mode, text)
		return "", false
	}
	return cmd, true
}
