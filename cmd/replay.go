// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	replaySend     bool
	replayRealtime bool
	replayFilter   int
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture.cbor>",
	Short: "Print or resend frames from a capture file",
	Long: `Read a capture file written by "raw_log --record".

By default the frames are printed with their original timestamps. With --send
they are written to the connection instead, and --realtime keeps the original
spacing between frames.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replaySend, "send", false, "Send frames to the connection")
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Keep the recorded spacing between frames")
	replayCmd.Flags().IntVar(&replayFilter, "filter", -1, "Only replay frames for this address")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	var sock *cmri.Socket
	if replaySend {
		conn, connInfo, err := OpenConnection()
		if err != nil {
			return err
		}
		defer conn.Close()
		fmt.Printf("Connection: %s\n", connInfo)
		sock = NewSocket(conn)
	}

	ctx, cancel := signalContext()
	defer cancel()

	n, err := replayCapture(ctx, cmri.NewCaptureReader(f), replayOptions{
		filter:   replayFilter,
		realtime: replayRealtime,
		out:      os.Stdout,
		send: func(m *cmri.Message) error {
			if sock == nil {
				return nil
			}
			err := sock.Send(m)
			metrics.sent(err)
			return err
		},
	})
	log.Info().Int("frames", n).Str("file", args[0]).Msg("replay finished")
	return err
}

type replayOptions struct {
	filter   int
	realtime bool
	out      io.Writer
	send     func(*cmri.Message) error
}

// replayCapture walks a capture, printing and sending each frame. It returns
// the number of frames replayed.
func replayCapture(ctx context.Context, r *cmri.CaptureReader, opts replayOptions) (int, error) {
	var (
		count int
		last  time.Time
	)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if opts.filter >= 0 && int(rec.Address) != opts.filter {
			continue
		}

		m, err := rec.Message()
		if err != nil {
			log.Warn().Err(err).Time("time", rec.Time).Msg("skipping record")
			continue
		}

		if opts.realtime && !last.IsZero() {
			if gap := rec.Time.Sub(last); gap > 0 {
				select {
				case <-time.After(gap):
				case <-ctx.Done():
					return count, nil
				}
			}
		}
		last = rec.Time

		if ctx.Err() != nil {
			return count, nil
		}

		fmt.Fprint(opts.out, cmri.FormatMessage(m, rec.Time.Local()))
		if opts.send != nil {
			if err := opts.send(m); err != nil {
				return count, err
			}
		}
		count++
	}
}
