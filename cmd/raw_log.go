// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rawLogFilter    int
	rawLogRecord    string
	rawLogShowDrops bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display C/MRI frames as they arrive.

Each frame is shown with timestamp, message type, address, node number and the
decoded payload: node configuration for INIT, bit rows for SET and GET.

Use --filter to show only one address, --show-drops to report discarded
frames, and --record to save frames to a capture file for later replay.

Supports serial, TCP and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().IntVar(&rawLogFilter, "filter", -1, "Only show frames for this address (e.g. 65 for node 0)")
	rawLogCmd.Flags().StringVar(&rawLogRecord, "record", "", "Write frames to a capture file")
	rawLogCmd.Flags().BoolVar(&rawLogShowDrops, "show-drops", false, "Print a line for every discarded frame")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	opts, err := addressFilter(rawLogFilter)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var capture *cmri.CaptureWriter
	if rawLogRecord != "" {
		f, err := os.Create(rawLogRecord)
		if err != nil {
			return fmt.Errorf("create capture: %w", err)
		}
		defer f.Close()
		capture = cmri.NewCaptureWriter(f)
	}

	fmt.Printf("cmristat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	tracker := newLineTracker()
	if rawLogShowDrops {
		tracker.onDrop = func(r cmri.DropReason) {
			if r == cmri.DropAddressFiltered {
				return
			}
			fmt.Printf("[%s] [DROPPED] %s\n", time.Now().Format("15:04:05.000"), r)
		}
	}
	sock := NewSocket(conn, append(opts, tracker.socketOptions()...)...)

	ctx, cancel := signalContext()
	defer cancel()

	err = receiveFrames(ctx, sock, conn, func(m *cmri.Message) error {
		now := time.Now()
		tracker.frame(m)
		fmt.Print(cmri.FormatMessage(m, now))
		if capture != nil {
			if err := capture.Write(now, m); err != nil {
				return err
			}
		}
		return nil
	})

	fmt.Print("\n" + tracker.stats.String())
	if capture != nil {
		log.Info().Str("file", rawLogRecord).Uint64("frames", tracker.stats.Frames).Msg("capture written")
	}
	return err
}
