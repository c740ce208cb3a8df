// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	dumpListen string
	dumpFilter int
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Listen for TCP clients and print every frame they send",
	Long: `Accept TCP connections and decode the C/MRI frames each client sends.

Every connection gets its own decoder, so a client that disconnects mid-frame
does not affect the others. Point a JMRI "C/MRI Network" connection at this
listener to see exactly what the host software transmits.`,
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVar(&dumpListen, "listen", ":9007", "TCP address to listen on")
	dumpCmd.Flags().IntVar(&dumpFilter, "filter", -1, "Only show frames for this address")
}

func runDump(cmd *cobra.Command, args []string) error {
	if _, err := addressFilter(dumpFilter); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", dumpListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", dumpListen, err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	context.AfterFunc(ctx, func() { ln.Close() })

	fmt.Printf("cmristat - TCP Dump\n")
	fmt.Printf("Listening: %s\n", ln.Addr())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var (
		wg    sync.WaitGroup
		outMu sync.Mutex
	)
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			dumpClient(ctx, c, &outMu)
		}()
	}

	wg.Wait()
	return nil
}

// dumpClient decodes one client's stream until it disconnects
func dumpClient(ctx context.Context, c net.Conn, outMu *sync.Mutex) {
	peer := c.RemoteAddr().String()
	log.Info().Str("peer", peer).Msg("client connected")
	metrics.clients.Inc()
	defer metrics.clients.Dec()
	defer c.Close()

	opts, _ := addressFilter(dumpFilter)
	tracker := newLineTracker()
	sock := cmri.NewSocket(c, cmri.DuplexFull, append(opts, tracker.socketOptions()...)...)

	err := receiveFrames(ctx, sock, c, func(m *cmri.Message) error {
		tracker.frame(m)
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Printf("%s %s", peer, cmri.FormatMessage(m, time.Now()))
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("peer", peer).Msg("client stream failed")
	}

	s := tracker.stats
	log.Info().Str("peer", peer).
		Uint64("bytes", s.Bytes).
		Uint64("frames", s.Frames).
		Uint64("malformed", s.Errors()).
		Msg("client disconnected")
}
