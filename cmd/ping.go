// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/pkg/channel"
	"github.com/Thermoquad/stovelink/pkg/linkerr"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the link to the relay unit with PING",
	Long: `Send PING to the relay unit and wait for PONG.

The modem is brought up and configured first. Each ping is one confirmed
exchange in the active radio mode without fallback, so the round-trip time
reflects that mode alone.

Exit codes:
  0 - All pings answered
  1 - One or more pings failed
  2 - Link error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", time.Second, "Pause between pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := newSession(cfg, lg.SugaredLogger)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Link error: %v\n", err)
		sess.close()
		os.Exit(2)
	}
	mode, _ := sess.radio.Mode()

	fmt.Printf("Stovelink - Ping\n")
	fmt.Printf("Connection: %s @ %d baud, %v mode\n", sess.info, sess.baud, mode)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	sender := channel.NewSender(sess.radio, channel.WithLogger(lg.Named("sender")))
	successCount := 0
	var total time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		rtt, err := sender.Ping(ctx)
		if err != nil {
			fmt.Printf("FAILED (%s): %v\n", linkerr.Describe(err), err)
		} else {
			fmt.Printf("PONG, rtt=%v\n", rtt.Round(time.Millisecond))
			successCount++
			total += rtt
		}

		if i < pingCount && !sess.transport.Sleep(ctx, pingInterval) {
			break
		}
	}

	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(max(pingCount, 1))*100)
	if successCount > 0 {
		fmt.Printf("average rtt %v\n", (total / time.Duration(successCount)).Round(time.Millisecond))
	}
	fmt.Printf("%s\n", sender.Statistics())

	if failCount > 0 {
		sess.close()
		os.Exit(1)
	}
	return nil
}
