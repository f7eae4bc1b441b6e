// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/pkg/channel"
	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"github.com/Thermoquad/stovelink/pkg/protocol"
)

var (
	sendRaw         bool
	sendUnconfirmed bool
	sendRetries     int
)

var sendCmd = &cobra.Command{
	Use:   "send <COMMAND>",
	Short: "Send one command to the relay unit",
	Long: `Send one command and print the relay unit's response.

COMMAND is one of STOVE_ON, STOVE_OFF, STATUS_REQUEST or PING. The command
is tried in the active radio mode and, if that fails, once more in the other
mode.

With --raw the argument is an already hex encoded payload that is transmitted
once without validation beyond the hex check and without waiting for a reply.

Examples:
  stovelink send STATUS_REQUEST --port /dev/ttyUSB0
  stovelink send stove_off
  stovelink send --raw 53544F56453A50494E47`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVar(&sendRaw, "raw", false, "Argument is a raw hex payload")
	sendCmd.Flags().BoolVar(&sendUnconfirmed, "unconfirmed", false, "Do not wait for a reply")
	sendCmd.Flags().IntVar(&sendRetries, "retries", -1, "Retry bound (default lorawan.max_retries)")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Validate before touching the modem
	var command protocol.Command
	if !sendRaw {
		var err error
		if command, err = protocol.ParseCommand(strings.ToUpper(strings.TrimSpace(args[0]))); err != nil {
			return err
		}
	} else if !protocol.IsHex(args[0]) {
		return fmt.Errorf("raw payload %q: %w", args[0], linkerr.ErrInvalidCommand)
	}

	sess, err := newSession(cfg, lg.SugaredLogger)
	if err != nil {
		return err
	}
	defer sess.close()
	if err := sess.connect(ctx); err != nil {
		return err
	}

	sender := channel.NewSender(sess.radio, channel.WithLogger(lg.Named("sender")))

	if sendRaw {
		if err := sender.SendRawHex(ctx, strings.ToUpper(args[0])); err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", strings.ToUpper(args[0]))
		return nil
	}

	retries := cfg.LoRaWAN.MaxRetries
	if sendRetries >= 0 {
		retries = sendRetries
	}
	resp, err := sender.SendWithFallback(ctx, command, !sendUnconfirmed, retries)
	if err != nil {
		fmt.Printf("%s: %s\n", command, linkerr.Describe(err))
		fmt.Printf("%s\n", sender.Statistics())
		sess.close()
		os.Exit(1)
	}

	mode, _ := sess.radio.Mode()
	if sendUnconfirmed {
		fmt.Printf("%s sent (%v)\n", command, mode)
	} else {
		fmt.Printf("%s -> %s (%v)\n", command, resp, mode)
	}
	return nil
}
