// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"fmt"
	"strings"

	"github.com/brocaar/lorawan"
)

// P2PConfig is the fixed RF tuple for raw packet mode. Both ends must match.
type P2PConfig struct {
	Frequency       int // MHz
	SpreadingFactor int // 7-12
	Bandwidth       int // kHz
	CodingRate      int
	Preamble        int
	Power           int // dBm
}

// DefaultP2P returns the US915 defaults.
func DefaultP2P() P2PConfig {
	return P2PConfig{
		Frequency:       915,
		SpreadingFactor: 7,
		Bandwidth:       125,
		CodingRate:      12,
		Preamble:        15,
		Power:           14,
	}
}

// RFConfigCommand is the composite command that pushes the RF tuple.
func (c P2PConfig) RFConfigCommand() string {
	return fmt.Sprintf("AT+TEST=RFCFG,%d,SF%d,%d,%d,%d,%d",
		c.Frequency, c.SpreadingFactor, c.Bandwidth, c.CodingRate, c.Preamble, c.Power)
}

// Validate checks the tuple against the modem's accepted ranges.
func (c P2PConfig) Validate() error {
	if c.Frequency <= 0 {
		return fmt.Errorf("p2p frequency must be positive, got %d", c.Frequency)
	}
	if c.SpreadingFactor < 7 || c.SpreadingFactor > 12 {
		return fmt.Errorf("p2p spreading factor must be SF7-SF12, got SF%d", c.SpreadingFactor)
	}
	switch c.Bandwidth {
	case 125, 250, 500:
	default:
		return fmt.Errorf("p2p bandwidth must be 125, 250 or 500 kHz, got %d", c.Bandwidth)
	}
	return nil
}

// LoRaWANConfig holds the network session parameters. Credentials are
// provisioned out of band and must match the network server.
type LoRaWANConfig struct {
	AppEUI     lorawan.EUI64
	AppKey     lorawan.AES128Key
	Region     string
	DataRate   int
	ADR        bool
	Power      int
	OTAA       bool
	Confirmed  bool
	MaxRetries int
}

// DefaultLoRaWAN returns US915 OTAA defaults with empty credentials.
func DefaultLoRaWAN() LoRaWANConfig {
	return LoRaWANConfig{
		Region:     "US915",
		DataRate:   3,
		ADR:        true,
		Power:      14,
		OTAA:       true,
		Confirmed:  true,
		MaxRetries: 3,
	}
}

// JoinMode returns the AT+MODE token for the activation method.
func (c LoRaWANConfig) JoinMode() string {
	if c.OTAA {
		return "LWOTAA"
	}
	return "LWABP"
}

// ParseAppEUI parses 16 hex characters.
func ParseAppEUI(s string) (lorawan.EUI64, error) {
	var eui lorawan.EUI64
	if err := eui.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return eui, fmt.Errorf("invalid AppEUI %q (want 16 hex characters): %w", s, err)
	}
	return eui, nil
}

// ParseAppKey parses 32 hex characters.
func ParseAppKey(s string) (lorawan.AES128Key, error) {
	var key lorawan.AES128Key
	if err := key.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return key, fmt.Errorf("invalid AppKey (want 32 hex characters): %w", err)
	}
	return key, nil
}

func hexUpper(s fmt.Stringer) string {
	return strings.ToUpper(s.String())
}

// LinkConfig is everything needed to configure either mode. The sender owns
// it; the receiver holds a mirror copy.
type LinkConfig struct {
	Mode    Mode
	P2P     P2PConfig
	LoRaWAN LoRaWANConfig
}

// DefaultLinkConfig prefers P2P.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		Mode:    P2P,
		P2P:     DefaultP2P(),
		LoRaWAN: DefaultLoRaWAN(),
	}
}
