// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/espsync/pkg/synchost"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "espsync",
	Short: "ESPSync file sync protocol device and host tool",
	Long: `espsync - A CLI tool for the ESPSync file synchronisation protocol.

Runs the device side of the protocol against a local directory, drives a device
from the host side (ping, time, list, upload, remove, rename, format), and
monitors protocol traffic on a link.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Every flag can also be set from a config file (--config) or from the
environment as ESPSYNC_<FLAG>, for example ESPSYNC_PORT or ESPSYNC_NO_SSL_VERIFY.
Subcommand flags use ESPSYNC_<COMMAND>_<FLAG>, for example ESPSYNC_SERVE_ROOT.

For WebSocket authentication, the password is read from the ESPSYNC_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringP("port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().String("username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Host side
	rootCmd.PersistentFlags().Duration("reply-timeout", synchost.DefaultReplyTimeout, "How long to wait for a device reply")

	for _, name := range []string{"port", "baud", "url", "username", "no-ssl-verify", "reply-timeout"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig wires the environment and the optional config file into viper
func initConfig() error {
	viper.SetEnvPrefix("espsync")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
	}
	return nil
}

// bindFlags exposes a subcommand's local flags through viper under
// "<command>.<flag>", so ESPSYNC_SERVE_ROOT sets serve --root
func bindFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(cmd.Name()+"."+name, cmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
