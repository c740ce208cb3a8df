// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	scanFirst   int
	scanLast    int
	scanTimeout time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Poll a range of nodes and report which ones answer",
	Long: `Send POLL to each node number in a range and wait for its GET reply.

Nodes that answer are listed with the size of their input bank. A node that
has not been initialised may still answer, depending on its firmware.

Exit codes:
  0 - At least one node answered
  1 - No node answered
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanFirst, "first", 0, "First node number")
	scanCmd.Flags().IntVar(&scanLast, "last", 15, "Last node number")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 200*time.Millisecond, "Time to wait for each node")
}

// scanResult is one node that answered a poll
type scanResult struct {
	node    uint8
	latency time.Duration
	inputs  []byte
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFirst < 0 || scanLast > cmri.MaxNodeNumber || scanFirst > scanLast {
		return fmt.Errorf("invalid node range %d-%d (0-%d)", scanFirst, scanLast, cmri.MaxNodeNumber)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("cmristat - Node Scan\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Nodes: %d-%d, %s each\n\n", scanFirst, scanLast, scanTimeout)

	ctx, cancel := signalContext()
	defer cancel()

	sock := NewSocket(conn)
	frames, errc := readFrames(ctx, sock, conn)

	results, err := scanNodes(ctx, sock, frames, uint8(scanFirst), uint8(scanLast), scanTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(2)
	}
	cancel()
	<-errc

	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Nodes found: %d\n", len(results))
	for _, r := range results {
		fmt.Printf("  Node %3d (0x%02X): %d input bytes, %s\n",
			r.node, cmri.NodeAddress(r.node), len(r.inputs), r.latency.Round(time.Millisecond))
	}

	if len(results) == 0 {
		os.Exit(1)
	}
	return nil
}

// scanNodes polls each node in [first, last] and collects the ones that
// answer within timeout. Frames from other addresses are ignored.
func scanNodes(ctx context.Context, sock *cmri.Socket, frames <-chan cmri.Message, first, last uint8, timeout time.Duration) ([]scanResult, error) {
	var results []scanResult

	for n := int(first); n <= int(last); n++ {
		node := uint8(n)
		addr := cmri.NodeAddress(node)
		poll, _ := cmri.NewMessage(addr, cmri.MessagePoll, nil)

		start := time.Now()
		err := sock.Send(poll)
		metrics.sent(err)
		if err != nil {
			return results, err
		}

		timer := time.NewTimer(timeout)
	wait:
		for {
			select {
			case m, ok := <-frames:
				if !ok {
					timer.Stop()
					return results, fmt.Errorf("connection closed during scan")
				}
				a, _ := m.Address()
				t, _ := m.Type()
				if a != addr || t != cmri.MessageGet {
					continue
				}
				r := scanResult{node: node, latency: time.Since(start), inputs: append([]byte(nil), m.Payload.Bytes()...)}
				results = append(results, r)
				fmt.Printf("Node %3d: answered\n", node)
				break wait
			case <-timer.C:
				log.Debug().Uint8("node", node).Msg("no answer")
				break wait
			case <-ctx.Done():
				timer.Stop()
				return results, nil
			}
		}
		timer.Stop()
	}
	return results, nil
}
