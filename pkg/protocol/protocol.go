// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package protocol implements the application wire format spoken between the
// stove controller and the remote relay: a fixed ASCII command and response
// vocabulary carried as uppercase hex, with a short framing prefix on P2P
// packets to separate this application's traffic from other radio users.
//
// Everything in this package is pure; it performs no I/O.
package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Thermoquad/stovelink/pkg/linkerr"
)

// Command is a request from the controller to the relay.
type Command string

// Commands
const (
	StoveOn       Command = "STOVE_ON"
	StoveOff      Command = "STOVE_OFF"
	StatusRequest Command = "STATUS_REQUEST"
	Ping          Command = "PING"
)

// Commands lists the full command vocabulary.
var Commands = []Command{StoveOn, StoveOff, StatusRequest, Ping}

func (c Command) String() string { return string(c) }

// Response is a reply from the relay to the controller.
type Response string

// Responses
const (
	Ack            Response = "ACK"
	Nack           Response = "NACK"
	StoveOnState   Response = "STOVE_ON"
	StoveOnAck     Response = "STOVE_ON_ACK"
	StoveOffState  Response = "STOVE_OFF"
	StoveOffAck    Response = "STOVE_OFF_ACK"
	Pong           Response = "PONG"
	Error          Response = "ERROR"
	SafetyTimeout  Response = "SAFETY_TIMEOUT"
	UnknownCommand Response = "ERROR_UNKNOWN_COMMAND"

	// Sent marks a successful unconfirmed send. It never travels on the wire.
	Sent Response = "SENT"
)

// Responses lists every response that may appear on the wire.
var Responses = []Response{
	Ack, Nack, StoveOnState, StoveOnAck, StoveOffState, StoveOffAck,
	Pong, Error, SafetyTimeout, UnknownCommand,
}

func (r Response) String() string { return string(r) }

// Positive reports whether r confirms the request it answers.
func (r Response) Positive() bool {
	switch r {
	case Nack, Error, UnknownCommand, SafetyTimeout:
		return false
	}
	return r != ""
}

// StoveState reports whether r says the stove is on. ok is false when r
// carries no stove state.
func (r Response) StoveState() (on bool, ok bool) {
	switch r {
	case StoveOnState, StoveOnAck:
		return true, true
	case StoveOffState, StoveOffAck, SafetyTimeout:
		return false, true
	}
	return false, false
}

// StateReplies holds the literals the relay uses to report stove state.
// Paired firmware versions differ here, so they are configurable.
type StateReplies struct {
	On  Response
	Off Response
}

// DefaultStateReplies uses the specific _ACK forms.
var DefaultStateReplies = StateReplies{On: StoveOnAck, Off: StoveOffAck}

// For returns the reply literal for the given stove state.
func (s StateReplies) For(on bool) Response {
	if on {
		return s.On
	}
	return s.Off
}

// FramePrefix marks P2P packets that belong to this application.
const FramePrefix = "STOVE:"

// LoRaWAN application ports
const (
	PortControl = 1
	PortStatus  = 2
	PortPing    = 3
)

// IsValidCommand reports whether s is exactly one of the command literals.
func IsValidCommand(s string) bool {
	for _, c := range Commands {
		if s == string(c) {
			return true
		}
	}
	return false
}

// IsValidResponse reports whether s is exactly one of the response literals.
func IsValidResponse(s string) bool {
	for _, r := range Responses {
		if s == string(r) {
			return true
		}
	}
	return false
}

// ParseCommand validates s against the command vocabulary.
func ParseCommand(s string) (Command, error) {
	if !IsValidCommand(s) {
		return "", fmt.Errorf("%q: %w", s, linkerr.ErrInvalidCommand)
	}
	return Command(s), nil
}

// ParseResponse validates s against the response vocabulary.
func ParseResponse(s string) (Response, error) {
	if !IsValidResponse(s) {
		return "", fmt.Errorf("%q: %w", s, linkerr.ErrInvalidResponse)
	}
	return Response(s), nil
}

// ASCIIToHex encodes every byte of s as two uppercase hex characters.
func ASCIIToHex(s string) string {
	return strings.ToUpper(hex.EncodeToString([]byte(s)))
}

// HexToASCII decodes pairs of hex characters back into bytes. It accepts
// either case and rejects odd lengths and non-hex characters.
func HexToASCII(h string) (string, error) {
	b, err := hex.DecodeString(h)
	if err != nil {
		return "", fmt.Errorf("decode hex payload: %w", err)
	}
	return string(b), nil
}

// IsHex reports whether h is a non-empty, even-length hex string.
func IsHex(h string) bool {
	if h == "" || len(h)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// Frame prepends FramePrefix to message.
func Frame(message string) string {
	return FramePrefix + message
}

// Unframe strips FramePrefix. ok is false for traffic without the prefix.
func Unframe(message string) (string, bool) {
	if !strings.HasPrefix(message, FramePrefix) {
		return "", false
	}
	return message[len(FramePrefix):], true
}
