// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Decoded frames go to stdout; diagnostics go through the logger on stderr.
var logOutput io.Writer = os.Stderr

// initLogger configures the global logger. CMRISTAT_LOG_LEVEL applies when
// --log-level was not given.
func initLogger(cmd *cobra.Command, level string) error {
	if f := cmd.Flags().Lookup("log-level"); f != nil && !f.Changed {
		if env := os.Getenv("CMRISTAT_LOG_LEVEL"); env != "" {
			level = env
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	output := zerolog.ConsoleWriter{
		Out:        logOutput,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "cmristat").Logger()
	return nil
}
