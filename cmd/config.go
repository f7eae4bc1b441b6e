// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long: `Write the built-in defaults to --config (default stovelink.yaml).

An existing file is kept unless --force is given. Secrets are left empty;
set lorawan.app_key in the file or STOVELINK_APP_KEY in the environment.`,
	Annotations: map[string]string{skipConfig: "true"},
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath
		}
		if err := config.WriteDefault(path, configForce); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after the file, STOVELINK_* environment
variables and command line flags have been applied. The AppKey is masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.LoRaWAN.AppKey != "" {
			shown.LoRaWAN.AppKey = "********"
		}
		out, err := shown.Encode()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")
}
