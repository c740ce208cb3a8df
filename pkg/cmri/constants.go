// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package cmri provides a Go implementation of the C/MRI serial protocol.
//
// C/MRI frames are exchanged between a controller and railroad I/O nodes over
// an RS-485 line or a TCP byte stream. This package provides a byte-at-a-time
// frame decoder, the matching byte-stuffing encoder, a whole-buffer parser
// honouring the same framing rules, and supporting helpers for formatting,
// statistics, node emulation and capture files.
//
// Wire format:
//
//	0xFF 0xFF 0x02 <addr> <type> <payload, STOP/ESCAPE bytes escaped> 0x03
package cmri

// Protocol framing bytes
const (
	PreambleByte = 0xFF
	StartByte    = 0x02
	StopByte     = 0x03
	EscapeByte   = 0x10
)

// Frame size limits
const (
	// MaxPayloadLen is 64 I/O cards at 32 bits each
	MaxPayloadLen = 256

	// TxBufferLen is the worst case encoded frame: two preamble bytes, start,
	// address, type, every payload byte escaped, stop.
	TxBufferLen = 2*MaxPayloadLen + 6

	headerLen = 5 // preamble, preamble, start, address, type
)

// AddressOffset is added to a node number to form its wire address. Node 0 is
// addressed as 'A' (65).
const AddressOffset = 65

// MaxNodeNumber is the highest node number that still fits in an address byte.
const MaxNodeNumber = 0xFF - AddressOffset

// NodeAddress returns the wire address for node number n.
func NodeAddress(n uint8) uint8 {
	return n + AddressOffset
}

// NodeNumber returns the node number for a wire address. ok is false when the
// address lies below AddressOffset.
func NodeNumber(addr uint8) (n uint8, ok bool) {
	if addr < AddressOffset {
		return 0, false
	}
	return addr - AddressOffset, true
}

// needsEscape reports whether a payload byte must be preceded by EscapeByte
func needsEscape(b byte) bool {
	return b == StopByte || b == EscapeByte
}
