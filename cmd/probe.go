// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/pkg/radio"
)

var probeSetup bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Find the modem and report what it is",
	Long: `Search the configured baud rates for a responding modem, disable echo,
reset it and print its identity and firmware version.

With --setup the preferred radio mode is also configured (falling back to the
other mode), and for LoRaWAN the device address and join state are shown.

Examples:
  stovelink probe --port /dev/ttyUSB0
  stovelink probe --port /dev/ttyUSB0 --baud 9600 --setup

Exit codes:
  0 - Modem found
  1 - Modem found but configuration failed
  2 - No modem responded`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeSetup, "setup", false, "Also configure the radio mode")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := newSession(cfg, lg.SugaredLogger)
	if err != nil {
		return err
	}
	defer sess.close()

	fmt.Printf("Stovelink - Modem Probe\n")
	fmt.Printf("Connection: %s\n", sess.info)
	fmt.Printf("Baud rates: %v\n\n", sess.bringup.Bauds)

	baud, err := radio.BringUp(ctx, sess.transport, sess.dialer, sess.bringup, lg.Named("bringup"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bring-up failed: %v\n", err)
		sess.close()
		os.Exit(2)
	}
	fmt.Printf("Modem responding at %d baud\n", baud)

	info, err := sess.radio.DeviceInfo(ctx)
	if err != nil {
		fmt.Printf("Device info unavailable: %v\n", err)
	} else {
		fmt.Printf("%s\n", info)
	}

	if !probeSetup {
		return nil
	}

	fmt.Println()
	if err := sess.radio.Setup(ctx); err != nil {
		fmt.Printf("Configuration failed: %v\n", err)
		sess.close()
		os.Exit(1)
	}
	mode, _ := sess.radio.Mode()
	fmt.Printf("Configured: %v\n", sess.radio.State())

	if mode == radio.LoRaWAN {
		if addr, err := sess.radio.DevAddr(ctx); err == nil {
			fmt.Printf("DevAddr: %s\n", addr)
		}
		fmt.Printf("Joined: %v\n", sess.radio.IsJoined(ctx))
	}
	if quality, err := sess.radio.SignalQuality(ctx); err == nil {
		fmt.Printf("Signal: %s\n", quality)
	}
	return nil
}
