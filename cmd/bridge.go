// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var bridgeListen string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge TCP clients to a C/MRI serial line",
	Long: `Accept TCP connections and relay C/MRI frames to and from the line.

Frames received from any TCP client are decoded, re-encoded and written to the
line one whole frame at a time, with RTS turnaround when --half-duplex is set.
Frames heard on the line are sent to every connected client.

Host software such as JMRI can then drive an RS-485 bus through a
"C/MRI Network" connection:

  cmristat bridge --port /dev/ttyUSB0 --baud 19200 --half-duplex --listen :9007`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", ":9007", "TCP address to listen on")
}

// bridge relays frames between TCP clients and one line socket
type bridge struct {
	line *cmri.Socket

	// lineMu serialises writes to the line so frames never interleave
	lineMu sync.Mutex

	clientsMu sync.Mutex
	clients   map[net.Conn]struct{}
}

func newBridge(line *cmri.Socket) *bridge {
	return &bridge{
		line:    line,
		clients: make(map[net.Conn]struct{}),
	}
}

// toLine writes a frame from a client onto the line
func (b *bridge) toLine(m *cmri.Message) error {
	b.lineMu.Lock()
	defer b.lineMu.Unlock()
	err := b.line.Send(m)
	metrics.sent(err)
	return err
}

// toClients sends a frame from the line to every client. Clients that fail
// are disconnected.
func (b *bridge) toClients(m *cmri.Message) {
	wire, err := cmri.Encode(m)
	if err != nil {
		log.Warn().Err(err).Msg("cannot re-encode line frame")
		return
	}

	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	for c := range b.clients {
		if _, err := c.Write(wire); err != nil {
			log.Warn().Err(err).Str("peer", c.RemoteAddr().String()).Msg("client write failed")
			c.Close()
			delete(b.clients, c)
			metrics.clients.Dec()
		}
	}
}

func (b *bridge) addClient(c net.Conn) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	b.clients[c] = struct{}{}
	metrics.clients.Inc()
}

func (b *bridge) removeClient(c net.Conn) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		metrics.clients.Dec()
	}
	c.Close()
}

// serveClient relays one client's frames to the line until it disconnects
func (b *bridge) serveClient(ctx context.Context, c net.Conn) {
	peer := c.RemoteAddr().String()
	log.Info().Str("peer", peer).Msg("client connected")
	b.addClient(c)
	defer b.removeClient(c)

	sock := cmri.NewSocket(c, cmri.DuplexFull)
	err := receiveFrames(ctx, sock, c, func(m *cmri.Message) error {
		if err := b.toLine(m); err != nil {
			log.Error().Err(err).Str("peer", peer).Msg("line write failed")
		}
		return nil
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn().Err(err).Str("peer", peer).Msg("client stream failed")
	}
	log.Info().Str("peer", peer).Msg("client disconnected")
}

func runBridge(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ln, err := net.Listen("tcp", bridgeListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", bridgeListen, err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	context.AfterFunc(ctx, func() { ln.Close() })

	fmt.Printf("cmristat - TCP Bridge\n")
	fmt.Printf("Line: %s\n", connInfo)
	fmt.Printf("Listening: %s\n", ln.Addr())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	tracker := newLineTracker()
	b := newBridge(NewSocket(conn, tracker.socketOptions()...))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		err := receiveFrames(ctx, b.line, conn, func(m *cmri.Message) error {
			tracker.frame(m)
			b.toClients(m)
			return nil
		})
		if err != nil {
			log.Error().Err(err).Msg("line read failed")
		}
	}()

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
			b.serveClient(ctx, c)
		}()
	}

	wg.Wait()
	fmt.Print("\n" + tracker.stats.String())
	return nil
}
