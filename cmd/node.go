// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	nodeNumber      int
	nodeInputBytes  int
	nodeOutputBytes int
	nodeListen      string
	nodeInputs      string
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Emulate a C/MRI node",
	Long: `Act as a C/MRI node on the line.

The node answers frames addressed to it:
  INIT - records the node type sent by the host
  SET  - latches the payload into the output bank and prints the changes
  POLL - replies with GET carrying the input bank

Use --inputs to preset the input bank (hex). With --listen the node accepts TCP
connections from host software instead of using --port/--tcp/--url; each
connection talks to the same node state.`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().IntVar(&nodeNumber, "node", 0, "Node number (address = 65 + node)")
	nodeCmd.Flags().IntVar(&nodeInputBytes, "input-bytes", cmri.DefaultBankSize, "Size of the input bank in bytes")
	nodeCmd.Flags().IntVar(&nodeOutputBytes, "output-bytes", cmri.DefaultBankSize, "Size of the output bank in bytes")
	nodeCmd.Flags().StringVar(&nodeListen, "listen", "", "Serve the node on a TCP address instead of a connection")
	nodeCmd.Flags().StringVar(&nodeInputs, "inputs", "", "Initial input bank as hex (e.g. \"80 00 01\")")
}

// emulatedNode serialises access to a Node shared by several streams
type emulatedNode struct {
	mu   sync.Mutex
	node *cmri.Node
}

func newEmulatedNode(number, inputBytes, outputBytes int, inputs []byte) (*emulatedNode, error) {
	if number < 0 || number > cmri.MaxNodeNumber {
		return nil, fmt.Errorf("node %d out of range (0-%d)", number, cmri.MaxNodeNumber)
	}
	n := cmri.NewNode(uint8(number), inputBytes, outputBytes)
	for i, b := range inputs {
		n.SetInputByte(i, b)
	}
	return &emulatedNode{node: n}, nil
}

// handle applies m to the node and returns the reply, if any
func (e *emulatedNode) handle(m *cmri.Message) (*cmri.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.node.Outputs()
	reply, err := e.node.Handle(m)
	if err != nil {
		return nil, err
	}

	t, _ := m.Type()
	switch t {
	case cmri.MessageInit:
		nt, _ := e.node.NodeType()
		log.Info().Uint8("node", e.node.Number()).Str("type", nt.String()).Msg("initialised")
	case cmri.MessageSet:
		if after := e.node.Outputs(); !bytes.Equal(before, after) {
			fmt.Printf("Node %d outputs: %s\n", e.node.Number(), cmri.FormatRaw(after))
		}
	case cmri.MessagePoll:
		log.Debug().Uint8("node", e.node.Number()).Msg("poll answered")
	}
	return reply, nil
}

// serve answers frames on one stream until it closes. open builds the socket
// for the stream from the options serve needs.
func (e *emulatedNode) serve(ctx context.Context, conn Connection, open func(...cmri.SocketOption) *cmri.Socket) error {
	tracker := newLineTracker()
	sock := open(append(tracker.socketOptions(), cmri.WithFilter(e.node.Address()))...)
	return receiveFrames(ctx, sock, conn, func(m *cmri.Message) error {
		tracker.frame(m)
		reply, err := e.handle(m)
		if err != nil {
			log.Warn().Err(err).Msg("frame rejected")
			return nil
		}
		if reply == nil {
			return nil
		}
		err = sock.Send(reply)
		metrics.sent(err)
		return err
	})
}

func runNode(cmd *cobra.Command, args []string) error {
	inputs, err := parseHexBytes(nodeInputs)
	if err != nil {
		return fmt.Errorf("--inputs: %w", err)
	}
	en, err := newEmulatedNode(nodeNumber, nodeInputBytes, nodeOutputBytes, inputs)
	if err != nil {
		return err
	}
	addr := en.node.Address()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("cmristat - Node Emulator\n")
	fmt.Printf("Node: %d (address 0x%02X '%c')\n", nodeNumber, addr, addr)

	if nodeListen != "" {
		return en.listen(ctx, nodeListen)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return en.serve(ctx, conn, func(opts ...cmri.SocketOption) *cmri.Socket {
		return NewSocket(conn, opts...)
	})
}

// listen serves the node to every TCP client
func (e *emulatedNode) listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	context.AfterFunc(ctx, func() { ln.Close() })

	fmt.Printf("Listening: %s\n", ln.Addr())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var wg sync.WaitGroup
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
			defer c.Close()
			peer := c.RemoteAddr().String()
			log.Info().Str("peer", peer).Msg("host connected")
			open := func(opts ...cmri.SocketOption) *cmri.Socket {
				return cmri.NewSocket(c, cmri.DuplexFull, opts...)
			}
			if err := e.serve(ctx, c, open); err != nil {
				log.Warn().Err(err).Str("peer", peer).Msg("host stream failed")
			}
			log.Info().Str("peer", peer).Msg("host disconnected")
		}()
	}

	wg.Wait()
	return nil
}
