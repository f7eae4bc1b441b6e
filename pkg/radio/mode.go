// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package radio brings an AT command LoRa modem to a known state and
// configures it into exactly one of two radio modes: raw point-to-point
// packets (P2P) or a managed LoRaWAN session.
package radio

import (
	"fmt"
	"strings"
)

// Mode is a radio mode. Exactly one mode is active on a configured modem.
type Mode uint8

// Radio modes
const (
	P2P Mode = iota + 1
	LoRaWAN
)

func (m Mode) String() string {
	switch m {
	case P2P:
		return "P2P"
	case LoRaWAN:
		return "LoRaWAN"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Other returns the alternate mode used for fallback.
func (m Mode) Other() Mode {
	switch m {
	case P2P:
		return LoRaWAN
	case LoRaWAN:
		return P2P
	default:
		panic(fmt.Sprintf("radio: no alternate for %v", m))
	}
}

// ParseMode parses "p2p" or "lorawan" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p2p":
		return P2P, nil
	case "lorawan":
		return LoRaWAN, nil
	default:
		return 0, fmt.Errorf("unknown radio mode %q (use p2p or lorawan)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case P2P:
		return []byte("p2p"), nil
	case LoRaWAN:
		return []byte("lorawan"), nil
	default:
		return nil, fmt.Errorf("invalid radio mode %d", uint8(m))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// State is the configuration state of one endpoint's modem.
type State uint8

// Configuration states
const (
	Unconfigured State = iota
	P2PActive
	LoRaWANActive
)

func (s State) String() string {
	switch s {
	case P2PActive:
		return "P2P active"
	case LoRaWANActive:
		return "LoRaWAN active"
	default:
		return "unconfigured"
	}
}

// Mode returns the active mode. ok is false while unconfigured.
func (s State) Mode() (Mode, bool) {
	switch s {
	case P2PActive:
		return P2P, true
	case LoRaWANActive:
		return LoRaWAN, true
	default:
		return 0, false
	}
}

func activeState(m Mode) State {
	switch m {
	case P2P:
		return P2PActive
	case LoRaWAN:
		return LoRaWANActive
	default:
		return Unconfigured
	}
}
