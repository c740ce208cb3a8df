// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m *Message, ts time.Time) string {
	timestamp := ts.Format("15:04:05.000")

	addr, hasAddr := m.Address()
	msgType, hasType := m.Type()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", timestamp, FormatMessageType(msgType, hasType))
	if hasType {
		fmt.Fprintf(&b, " (0x%02X)", byte(msgType))
	}
	if hasAddr {
		fmt.Fprintf(&b, " addr=0x%02X", addr)
		if node, ok := NodeNumber(addr); ok {
			fmt.Fprintf(&b, " node=%d", node)
		}
	} else {
		b.WriteString(" addr=none")
	}
	fmt.Fprintf(&b, " len=%d\n", m.Payload.Len())

	if hasType {
		b.WriteString(FormatPayload(msgType, m.Payload.Bytes()))
	} else if m.Payload.Len() > 0 {
		b.WriteString(formatHexDump(m.Payload.Bytes()))
	}

	return b.String()
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(t MessageType, ok bool) string {
	if !ok {
		return "NO_TYPE"
	}
	return t.String()
}

// FormatPayload returns a description of the payload for a message type
func FormatPayload(t MessageType, payload []byte) string {
	switch t {
	case MessagePoll:
		if len(payload) == 0 {
			return "  (no payload)\n"
		}

	case MessageInit:
		if len(payload) >= 4 {
			nodeType := "UNKNOWN"
			if nt, err := ParseNodeType(payload[0]); err == nil {
				nodeType = nt.String()
			}
			delay := uint16(payload[1])<<8 | uint16(payload[2])
			return fmt.Sprintf("  Node type: %s (0x%02X), Delay: %d (x10us), Card sets: %d\n",
				nodeType, payload[0], delay, payload[3]) + formatCardTypes(payload[4:])
		}

	case MessageSet, MessageGet:
		if len(payload) > 0 {
			return formatBitRows(payload)
		}
	}

	if len(payload) == 0 {
		return ""
	}
	return formatHexDump(payload)
}

// formatCardTypes prints the trailing card type bytes of an Init payload
func formatCardTypes(ct []byte) string {
	if len(ct) == 0 {
		return ""
	}
	return "  Card types: " + hexBytes(ct) + "\n"
}

// formatBitRows prints one row per byte, most significant bit first
func formatBitRows(payload []byte) string {
	var b strings.Builder
	for i, v := range payload {
		fmt.Fprintf(&b, "  Byte %3d: %08b (0x%02X)\n", i, v, v)
	}
	return b.String()
}

// formatHexDump prints a payload 16 bytes per line
func formatHexDump(payload []byte) string {
	var b strings.Builder
	b.WriteString("  Payload: ")
	for i, v := range payload {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n           ")
		}
		fmt.Fprintf(&b, "%02X ", v)
	}
	b.WriteString("\n")
	return b.String()
}

func hexBytes(data []byte) string {
	parts := make([]string, len(data))
	for i, v := range data {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}

// FormatRaw renders wire bytes as space separated hex
func FormatRaw(data []byte) string {
	return hexBytes(data)
}
