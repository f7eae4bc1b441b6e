// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package channel

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"github.com/Thermoquad/stovelink/pkg/protocol"
	"github.com/Thermoquad/stovelink/pkg/radio"
)

var (
	// +TEST: RX "53544F56453A50494E47"
	p2pPacket = regexp.MustCompile(`\+TEST: RX "([0-9A-Fa-f]+)"`)
	// +MSG: PORT: 1; RX: "504F4E47" or +MSG: Port=1; RX: "504F4E47"
	downlink = regexp.MustCompile(`RX: "([0-9A-Fa-f]+)"`)
)

// extractPackets finds every inbound payload in text for mode.
func extractPackets(mode radio.Mode, text string) []string {
	re := p2pPacket
	if mode == radio.LoRaWAN {
		re = downlink
	}
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// decodePacket turns one hex payload into application text. P2P payloads
// must carry the frame prefix; anything else is foreign traffic.
func decodePacket(mode radio.Mode, hexPayload string) (string, error) {
	text, err := protocol.HexToASCII(hexPayload)
	if err != nil {
		return "", err
	}
	if mode == radio.LoRaWAN {
		return text, nil
	}
	inner, ok := protocol.Unframe(text)
	if !ok {
		return "", fmt.Errorf("foreign traffic %q", text)
	}
	return inner, nil
}

// encodePayload renders message for transmission in mode.
func encodePayload(mode radio.Mode, message string) string {
	if mode == radio.P2P {
		message = protocol.Frame(message)
	}
	return protocol.ASCIIToHex(message)
}

// txCommand is the AT command that transmits hexPayload in mode.
func txCommand(mode radio.Mode, cfg radio.LinkConfig, hexPayload string) (command, expect string) {
	switch mode {
	case radio.LoRaWAN:
		if cfg.LoRaWAN.Confirmed {
			return `AT+CMSGHEX="` + hexPayload + `"`, "Done"
		}
		return `AT+MSGHEX="` + hexPayload + `"`, "Done"
	default:
		return `AT+TEST=TXLRPKT,"` + hexPayload + `"`, "TX DONE"
	}
}

// portFor returns the LoRaWAN application port for message.
func portFor(message string) int {
	switch message {
	case string(protocol.StoveOn), string(protocol.StoveOff):
		return protocol.PortControl
	case string(protocol.Ping), string(protocol.Pong):
		return protocol.PortPing
	default:
		return protocol.PortStatus
	}
}

// portSelector remembers the modem's uplink port so AT+PORT is only sent
// when it changes.
type portSelector struct {
	current int
}

func (p *portSelector) selectPort(ctx context.Context, t *atlink.Transport, port int, timeout time.Duration) error {
	if p.current == port {
		return nil
	}
	res := t.Exchange(ctx, "AT+PORT="+strconv.Itoa(port), "PORT", timeout)
	if !res.OK {
		return fmt.Errorf("select port %d: %w", port, res.Err)
	}
	p.current = port
	return nil
}

// uplinkFailure reports a confirmed uplink the network did not acknowledge.
var uplinkFailure = regexp.MustCompile(`(No ACK|TX Failed|Please join network first|LoRaWAN modem is busy)`)

func checkUplink(mode radio.Mode, response string) error {
	if mode != radio.LoRaWAN {
		return nil
	}
	if m := uplinkFailure.FindString(response); m != "" {
		return fmt.Errorf("uplink: %s: %w", m, linkerr.ErrNoResponse)
	}
	return nil
}
