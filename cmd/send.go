// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/spf13/cobra"
)

var (
	sendNode    int
	sendAddress int
	sendType    string
	sendPayload string
	sendWait    time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Encode and send a single C/MRI message",
	Long: `Build one C/MRI message from flags, print its wire bytes and send it.

The message type may be given by letter (I, T, R, P) or name (init, set, get,
poll). The payload is hex; spaces and colons are ignored.

Examples:
  cmristat send --port /dev/ttyUSB0 --node 0 --type init --payload "4D 00 00 00"
  cmristat send --tcp localhost:9007 --node 2 --type set --payload 80000001
  cmristat send --tcp localhost:9007 --node 2 --type poll --wait 500ms

With --wait, the command listens for one reply from the same address.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendNode, "node", 0, "Destination node number")
	sendCmd.Flags().IntVar(&sendAddress, "address", -1, "Raw destination address (overrides --node)")
	sendCmd.Flags().StringVar(&sendType, "type", "poll", "Message type (init, set, get, poll)")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "", "Payload as hex")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 0, "Wait this long for a reply")
}

// parseMessageTypeFlag accepts a type letter or name
func parseMessageTypeFlag(s string) (cmri.MessageType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "init", "i":
		return cmri.MessageInit, nil
	case "set", "t":
		return cmri.MessageSet, nil
	case "get", "r":
		return cmri.MessageGet, nil
	case "poll", "p":
		return cmri.MessagePoll, nil
	}
	return 0, fmt.Errorf("%q: %w", s, cmri.ErrInvalidMessageType)
}

// parseHexBytes decodes hex with optional space, colon or 0x separators
func parseHexBytes(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "", ",", "").Replace(s)
	if clean == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

// resolveAddress picks the wire address from --address or --node
func resolveAddress(node, address int) (uint8, error) {
	if address >= 0 {
		if address > 0xFF {
			return 0, fmt.Errorf("address 0x%X out of range", address)
		}
		return uint8(address), nil
	}
	if node < 0 || node > cmri.MaxNodeNumber {
		return 0, fmt.Errorf("node %d out of range (0-%d)", node, cmri.MaxNodeNumber)
	}
	return cmri.NodeAddress(uint8(node)), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	addr, err := resolveAddress(sendNode, sendAddress)
	if err != nil {
		return err
	}
	t, err := parseMessageTypeFlag(sendType)
	if err != nil {
		return err
	}
	payload, err := parseHexBytes(sendPayload)
	if err != nil {
		return err
	}
	m, err := cmri.NewMessage(addr, t, payload)
	if err != nil {
		return err
	}

	wire, err := cmri.Encode(m)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Print(cmri.FormatMessage(m, time.Now()))
	fmt.Printf("  Wire: %s\n", cmri.FormatRaw(wire))

	sock := NewSocket(conn, cmri.WithFilter(addr))
	err = sock.SendRaw(wire)
	metrics.sent(err)
	if err != nil {
		return err
	}

	if sendWait <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendWait)
	defer cancel()
	frames, errc := readFrames(ctx, sock, conn)
	select {
	case reply, ok := <-frames:
		if !ok {
			return <-errc
		}
		fmt.Printf("\nReply:\n")
		fmt.Print(cmri.FormatMessage(&reply, time.Now()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no reply from 0x%02X within %s", addr, sendWait)
	}
}
