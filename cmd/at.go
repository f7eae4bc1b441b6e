// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/pkg/atlink"
)

var (
	atExpect  string
	atTimeout time.Duration
)

var atCmd = &cobra.Command{
	Use:   "at <command>",
	Short: "Run one raw AT exchange",
	Long: `Send one AT command to the modem and wait for the expected token.

The port is opened at the first configured baud rate without bring-up, so the
modem's state is left as it is. On success the matching line is printed; on
failure the full response and a hex dump are shown.

Examples:
  stovelink at AT --port /dev/ttyUSB0
  stovelink at "AT+ID" --expect DevEui
  stovelink at "AT+TEST=RXLRPKT" --expect "RX DONE" --timeout 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runAT,
}

func init() {
	rootCmd.AddCommand(atCmd)
	atCmd.Flags().StringVar(&atExpect, "expect", atlink.OK, "Token that completes the exchange (empty waits for the timeout)")
	atCmd.Flags().DurationVar(&atTimeout, "timeout", 3*time.Second, "Response timeout")
}

func runAT(cmd *cobra.Command, args []string) error {
	dialer, info, err := newDialer(cfg.Link)
	if err != nil {
		return err
	}
	baud := cfg.Link.Bauds[0]
	port, err := dialer.Dial(baud)
	if err != nil {
		return err
	}

	t := atlink.NewTransport(atlink.WithLogger(lg.Named("at")))
	t.Attach(port)
	defer t.Detach()

	command := strings.TrimSpace(args[0])
	fmt.Printf("Connection: %s @ %d baud\n", info, baud)
	fmt.Printf("TX: %s\n", command)

	res := t.Exchange(cmd.Context(), command, atExpect, atTimeout)
	if res.OK {
		if res.Matched != "" {
			fmt.Printf("RX: %s\n", res.Matched)
		} else {
			fmt.Printf("RX: %s\n", res.Response)
		}
		fmt.Printf("(%v)\n", res.Elapsed.Round(time.Millisecond))
		return nil
	}

	fmt.Printf("FAILED: %v\n", res.Err)
	if res.Response != "" {
		fmt.Printf("Response: %q\n", res.Response)
	}
	if res.HexDump != "" {
		fmt.Printf("Hex: %s\n", res.HexDump)
	}
	t.Detach()
	os.Exit(1)
	return nil
}
