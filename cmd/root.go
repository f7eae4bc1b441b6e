// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/internal/config"
	"github.com/Thermoquad/stovelink/internal/logger"
)

var (
	configPath string

	// Serial connection flags
	portName string
	bauds    []int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	logLevel string

	// Set by PersistentPreRunE
	cfg *config.Config
	lg  *logger.Logger
)

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "stovelink",
	Short: "Remote stove control over a LoRa modem link",
	Long: `Stovelink - remote on/off control of a stove over a LoRa radio modem.

The controller reads the room temperature, follows an hourly schedule with
hysteresis and commands the relay unit. The receiver drives the stove relay,
answers every command and forces the stove off when the link goes quiet.

Both ends talk to an AT-command LoRa modem in P2P or LoRaWAN mode and fall
back to the other mode when one stops working.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 19200 --baud 9600]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the STOVELINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lg = logger.Get(logger.InfoLevel)
		if cmd.Annotations[skipConfig] != "" {
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		lg.SetLevel(cfg.Log.Level)
		lg.Debugf("configuration loaded, link mode %s", cfg.Link.Mode)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default "+config.DefaultPath+")")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntSliceVarP(&bauds, "baud", "b", nil, "Baud rates to try, in order (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// applyFlagOverrides lets explicit flags win over the file and environment.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Link.Port = portName
	}
	if flags.Changed("baud") {
		c.Link.Bauds = append([]int(nil), bauds...)
	}
	if flags.Changed("url") {
		c.Link.URL = wsURL
	}
	if flags.Changed("username") {
		c.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Link.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
