// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"github.com/Thermoquad/stovelink/pkg/protocol"
	"github.com/Thermoquad/stovelink/pkg/radio"
)

// Sender is the controller end of the command channel.
type Sender struct {
	radio Radio
	ports portSelector
	options
}

// NewSender returns a Sender transmitting through r.
func NewSender(r Radio, opts ...Option) *Sender {
	return &Sender{radio: r, options: buildOptions(opts)}
}

// Statistics returns the live counters.
func (s *Sender) Statistics() *Statistics { return s.stats }

// Reset clears the counters.
func (s *Sender) Reset() { s.stats.Reset() }

// Send transmits cmd in the active mode. With confirmed set it waits for a
// valid response and returns it; otherwise a completed transmission returns
// protocol.Sent. The command is attempted 1+maxRetries times before the
// call counts as a failure.
func (s *Sender) Send(ctx context.Context, cmd protocol.Command, confirmed bool, maxRetries int) (protocol.Response, error) {
	if !protocol.IsValidCommand(string(cmd)) {
		err := fmt.Errorf("send %q: %w", cmd, linkerr.ErrInvalidCommand)
		s.stats.LastError = err.Error()
		return "", err
	}

	mode, ok := s.radio.Mode()
	if !ok {
		err := fmt.Errorf("send %s: radio not configured: %w", cmd, linkerr.ErrLinkUnavailable)
		s.stats.RecordFailure(err)
		return "", err
	}

	resp, err := s.deliver(ctx, mode, string(cmd), confirmed, maxRetries)
	if err != nil {
		s.stats.RecordFailure(err)
		s.emit(EventSendFailed, mode, err.Error())
		return "", fmt.Errorf("send %s: %w", cmd, err)
	}
	s.stats.RecordSuccess(confirmed)
	return resp, nil
}

// SendWithFallback sends in the active mode and, if that fails, switches to
// the other mode once and sends there.
func (s *Sender) SendWithFallback(ctx context.Context, cmd protocol.Command, confirmed bool, maxRetries int) (protocol.Response, error) {
	resp, err := s.Send(ctx, cmd, confirmed, maxRetries)
	if err == nil || errors.Is(err, linkerr.ErrInvalidCommand) || ctx.Err() != nil {
		return resp, err
	}

	mode, ok := s.radio.Mode()
	if !ok {
		return "", err
	}
	other := mode.Other()
	s.log.Warnf("%v failed, falling back to %v: %v", mode, other, err)

	if switchErr := s.radio.SwitchMode(ctx, other); switchErr != nil {
		s.stats.LastError = switchErr.Error()
		return "", errors.Join(err, switchErr)
	}
	s.ports = portSelector{}
	s.emit(EventModeSwitch, other, fmt.Sprintf("%v -> %v after %s failed", mode, other, cmd))

	resp, fallbackErr := s.Send(ctx, cmd, confirmed, maxRetries)
	if fallbackErr != nil {
		return "", errors.Join(err, fallbackErr)
	}
	return resp, nil
}

// Ping sends PING and expects PONG. It returns the round-trip time.
func (s *Sender) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	resp, err := s.Send(ctx, protocol.Ping, true, 2)
	if err != nil {
		return 0, err
	}
	if resp != protocol.Pong {
		return 0, fmt.Errorf("ping: got %s: %w", resp, linkerr.ErrUnexpectedResponse)
	}
	return time.Since(start), nil
}

// RequestStatus asks the relay unit for its state.
func (s *Sender) RequestStatus(ctx context.Context) (bool, error) {
	resp, err := s.SendWithFallback(ctx, protocol.StatusRequest, true, 2)
	if err != nil {
		return false, err
	}
	on, ok := resp.StoveState()
	if !ok {
		return false, fmt.Errorf("status: got %s: %w", resp, linkerr.ErrUnexpectedResponse)
	}
	return on, nil
}

// SendRawHex transmits an already encoded payload once without vocabulary
// validation or P2P framing.
func (s *Sender) SendRawHex(ctx context.Context, hexPayload string) error {
	if !protocol.IsHex(hexPayload) {
		return fmt.Errorf("raw payload %q: %w", hexPayload, linkerr.ErrInvalidCommand)
	}
	mode, ok := s.radio.Mode()
	if !ok {
		return fmt.Errorf("send raw: radio not configured: %w", linkerr.ErrLinkUnavailable)
	}
	if _, err := s.transmit(ctx, mode, protocol.PortControl, hexPayload); err != nil {
		s.stats.RecordFailure(err)
		return fmt.Errorf("send raw: %w", err)
	}
	s.stats.RecordSuccess(false)
	return nil
}

// deliver runs the attempt loop for one message.
func (s *Sender) deliver(ctx context.Context, mode radio.Mode, message string, confirmed bool, maxRetries int) (protocol.Response, error) {
	hexPayload := encodePayload(mode, message)
	attempts := linkerr.NewAttempts(linkerr.ErrNoResponse)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			s.stats.RecordRetry()
			s.log.Infof("retrying %s (%d/%d)", message, attempt, maxRetries)
			if !s.radio.Transport().Sleep(ctx, s.timing.retry(mode)) {
				break
			}
		}

		result, err := s.transmit(ctx, mode, portFor(message), hexPayload)
		if err == nil && !confirmed {
			return protocol.Sent, nil
		}
		if err == nil {
			var resp protocol.Response
			if resp, err = s.await(ctx, mode, result); err == nil {
				s.log.Infof("%s -> %s", message, resp)
				return resp, nil
			}
		}

		attempts.Add("attempt %d: %v", attempt+1, err)
		attempts.Escalate(err)
		s.log.Warnf("%s attempt %d failed: %v", message, attempt+1, err)
		if errors.Is(err, linkerr.ErrLinkUnavailable) {
			break
		}
	}
	return "", attempts.Err(fmt.Sprintf("no valid response in %v mode", mode))
}

// transmit sends hexPayload and returns the modem's text for the exchange.
func (s *Sender) transmit(ctx context.Context, mode radio.Mode, port int, hexPayload string) (string, error) {
	t := s.radio.Transport()
	if mode == radio.LoRaWAN {
		if err := s.ports.selectPort(ctx, t, port, s.timing.Command); err != nil {
			return "", err
		}
	}
	command, expect := txCommand(mode, s.radio.Config(), hexPayload)
	res := t.Exchange(ctx, command, expect, s.timing.send(mode))
	if !res.OK {
		return "", res.Err
	}
	if err := checkUplink(mode, res.Response); err != nil {
		return "", err
	}
	return res.Response, nil
}

// await waits for the response packet. A LoRaWAN downlink usually arrives
// inside the uplink report itself, so already is checked first.
func (s *Sender) await(ctx context.Context, mode radio.Mode, already string) (protocol.Response, error) {
	t := s.radio.Transport()

	if mode == radio.P2P {
		res := t.Exchange(ctx, "AT+TEST=RXLRPKT", "RX DONE", s.timing.Command)
		if !res.OK {
			return "", fmt.Errorf("enter receive: %w", res.Err)
		}
		already = res.Response
	}
	for _, hexPayload := range extractPackets(mode, already) {
		if resp, ok := s.decodeResponse(mode, hexPayload); ok {
			return resp, nil
		}
	}

	var resp protocol.Response
	_, err := t.WaitFor(ctx, s.timing.receive(mode), func(line string) bool {
		for _, hexPayload := range extractPackets(mode, line) {
			if r, ok := s.decodeResponse(mode, hexPayload); ok {
				resp = r
				return true
			}
		}
		return false
	})
	if err != nil {
		return "", fmt.Errorf("await response: %w", err)
	}
	return resp, nil
}

func (s *Sender) decodeResponse(mode radio.Mode, hexPayload string) (protocol.Response, bool) {
	text, err := decodePacket(mode, hexPayload)
	if err != nil {
		s.log.Debugf("ignoring packet %s: %v", hexPayload, err)
		return "", false
	}
	resp, err := protocol.ParseResponse(text)
	if err != nil {
		s.log.Warnf("ignoring invalid response: %v", err)
		s.emit(EventInvalidPayload, mode, text)
		return "", false
	}
	return resp, true
}
