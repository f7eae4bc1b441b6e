// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/brocaar/lorawan"
)

// DeviceInfo describes the attached modem and its active configuration.
type DeviceInfo struct {
	ID      []string
	Version string
	State   State
	Config  LinkConfig
}

func (d DeviceInfo) String() string {
	var sb strings.Builder
	for _, id := range d.ID {
		fmt.Fprintf(&sb, "Device ID: %s\n", id)
	}
	if d.Version != "" {
		fmt.Fprintf(&sb, "Firmware: %s\n", d.Version)
	}
	fmt.Fprintf(&sb, "State: %v\n", d.State)

	switch mode, _ := d.State.Mode(); mode {
	case LoRaWAN:
		l := d.Config.LoRaWAN
		fmt.Fprintf(&sb, "Region: %s\n", l.Region)
		fmt.Fprintf(&sb, "Data Rate: %d\n", l.DataRate)
		fmt.Fprintf(&sb, "TX Power: %d dBm\n", l.Power)
		if l.OTAA {
			sb.WriteString("Join Mode: OTAA\n")
		} else {
			sb.WriteString("Join Mode: ABP\n")
		}
	case P2P:
		p := d.Config.P2P
		fmt.Fprintf(&sb, "Frequency: %d MHz\n", p.Frequency)
		fmt.Fprintf(&sb, "Spreading Factor: SF%d\n", p.SpreadingFactor)
		fmt.Fprintf(&sb, "Bandwidth: %d kHz\n", p.Bandwidth)
		fmt.Fprintf(&sb, "Power: %d dBm\n", p.Power)
	}
	return sb.String()
}

// DeviceInfo queries identifiers and firmware version.
func (c *Configurator) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	info := DeviceInfo{State: c.state, Config: c.cfg}

	res := c.t.Exchange(ctx, "AT+ID", "+ID", 3*time.Second)
	if !res.OK {
		return info, fmt.Errorf("query device id: %w", res.Err)
	}
	for _, line := range atlink.Lines(res.Response) {
		if strings.HasPrefix(line, "+ID:") {
			info.ID = append(info.ID, strings.TrimSpace(strings.TrimPrefix(line, "+ID:")))
		}
	}

	res = c.t.Exchange(ctx, "AT+VER", "+VER", 3*time.Second)
	if res.OK {
		info.Version = strings.TrimSpace(strings.TrimPrefix(res.Matched, "+VER:"))
	}
	return info, nil
}

// DevAddr returns the device address assigned by the network.
func (c *Configurator) DevAddr(ctx context.Context) (lorawan.DevAddr, error) {
	var addr lorawan.DevAddr
	res := c.t.Exchange(ctx, "AT+ID=DevAddr", "DevAddr", 3*time.Second)
	if !res.OK {
		return addr, fmt.Errorf("query DevAddr: %w", res.Err)
	}
	return parseDevAddr(res.Matched)
}

// parseDevAddr extracts the address from "+ID: DevAddr, 26:0B:1A:2C".
func parseDevAddr(line string) (lorawan.DevAddr, error) {
	var addr lorawan.DevAddr
	i := strings.LastIndex(line, ",")
	if i < 0 {
		return addr, fmt.Errorf("malformed DevAddr line %q", line)
	}
	text := strings.ReplaceAll(strings.TrimSpace(line[i+1:]), ":", "")
	if err := addr.UnmarshalText([]byte(text)); err != nil {
		return addr, fmt.Errorf("malformed DevAddr %q: %w", text, err)
	}
	return addr, nil
}

// IsJoined reports whether the network has assigned a device address.
func (c *Configurator) IsJoined(ctx context.Context) bool {
	if c.state != LoRaWANActive {
		return false
	}
	addr, err := c.DevAddr(ctx)
	return err == nil && addr != (lorawan.DevAddr{})
}

// EnterLowPower puts the modem to sleep until the next wake.
func (c *Configurator) EnterLowPower(ctx context.Context) error {
	if res := c.t.Exchange(ctx, "AT+LOWPOWER", atlink.OK, 3*time.Second); !res.OK {
		return fmt.Errorf("enter low power: %w", res.Err)
	}
	return nil
}

// Wake pulls the modem out of low power and confirms it responds.
func (c *Configurator) Wake(ctx context.Context) error {
	_ = c.t.Send("AT")
	c.t.Sleep(ctx, 100*time.Millisecond)
	if res := c.t.Exchange(ctx, "AT", atlink.OK, 3*time.Second); !res.OK {
		return fmt.Errorf("wake: %w", res.Err)
	}
	return nil
}

// SetAutoLowPower enables or disables automatic sleep between commands.
func (c *Configurator) SetAutoLowPower(ctx context.Context, enable bool) error {
	command := "AT+LOWPOWER=AUTOMODE," + onOff(enable)
	if res := c.t.Exchange(ctx, command, atlink.OK, 3*time.Second); !res.OK {
		return fmt.Errorf("set auto low power: %w", res.Err)
	}
	return nil
}

// SignalQuality returns the modem's RSSI report.
func (c *Configurator) SignalQuality(ctx context.Context) (string, error) {
	res := c.t.Exchange(ctx, "AT+RSSI", "RSSI", 3*time.Second)
	if !res.OK {
		return "", fmt.Errorf("read signal quality: %w", res.Err)
	}
	return res.Matched, nil
}
