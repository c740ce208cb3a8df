// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName   string
	baudRate   int
	halfDuplex bool

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// TCP connection flags
	tcpAddr string

	// Ambient flags
	configPath  string
	logLevel    string
	metricsAddr string

	metricsServer *http.Server
)

var rootCmd = &cobra.Command{
	Use:   "cmristat",
	Short: "C/MRI Protocol Analyzer",
	Long: `cmristat - A CLI tool for monitoring, emulating and bridging C/MRI nodes.

Decodes C/MRI frames (FF FF 02 <addr> <type> <payload> 03) from a serial line,
a TCP byte stream or a WebSocket bridge, and can act as a node, a scanner or a
TCP to RS-485 bridge.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600] [--half-duplex]
  TCP:       --tcp host:port
  WebSocket: --url ws://host/path [--username user]

Settings may also be read from a TOML file with --config. Flags given on the
command line always win over the file.

For WebSocket authentication, the password is read from the CMRISTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")
	rootCmd.PersistentFlags().BoolVar(&halfDuplex, "half-duplex", false, "Toggle RTS around each transmitted frame (RS-485, serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// TCP connection flags
	rootCmd.PersistentFlags().StringVar(&tcpAddr, "tcp", "", "Connect to a TCP byte stream (host:port)")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "Serve /metrics and /healthz on this address (e.g. :9100)")
}

// setup runs before every command: config file, logging, metrics
func setup(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		values, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if err := applyConfig(cmd, values); err != nil {
			return err
		}
	}

	if err := initLogger(cmd, logLevel); err != nil {
		return err
	}

	if metricsAddr != "" {
		metricsServer = startMetricsServer(metricsAddr)
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if metricsServer != nil {
		if err := metricsServer.Close(); err != nil {
			log.Debug().Err(err).Msg("metrics server close")
		}
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
