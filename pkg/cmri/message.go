// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"bytes"
	"fmt"
)

// MessageType is the single ASCII byte identifying a message on the wire
type MessageType byte

// Message type values
const (
	MessageInit MessageType = 'I' // Controller initialises a node
	MessageSet  MessageType = 'T' // Controller -> node output data
	MessageGet  MessageType = 'R' // Node -> controller input data
	MessagePoll MessageType = 'P' // Controller requests input data from a node
)

// ParseMessageType converts a wire byte to a MessageType. Bytes other than the
// four known codes are rejected.
func ParseMessageType(b byte) (MessageType, error) {
	switch MessageType(b) {
	case MessageInit, MessageSet, MessageGet, MessagePoll:
		return MessageType(b), nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidMessageType, b)
	}
}

// String returns the human-readable name for a message type
func (t MessageType) String() string {
	switch t {
	case MessageInit:
		return "INIT"
	case MessageSet:
		return "SET"
	case MessageGet:
		return "GET"
	case MessagePoll:
		return "POLL"
	default:
		return "UNKNOWN"
	}
}

// NodeType is the node definition parameter carried in the first byte of an
// Init payload
type NodeType byte

// Node type values
const (
	NodeUSIC   NodeType = 'N' // Classic USIC, or SUSIC with 24 bit cards
	NodeSUSIC  NodeType = 'X' // SUSIC with 32 bit cards
	NodeSMINI  NodeType = 'M' // SMINI, fixed 24 inputs and 48 outputs
	NodeCPNODE NodeType = 'C' // CPNODE, 16 to 144 I/O on 8 bit cards
)

// ParseNodeType converts a wire byte to a NodeType
func ParseNodeType(b byte) (NodeType, error) {
	switch NodeType(b) {
	case NodeUSIC, NodeSUSIC, NodeSMINI, NodeCPNODE:
		return NodeType(b), nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidNodeType, b)
	}
}

// String returns the human-readable name for a node type
func (n NodeType) String() string {
	switch n {
	case NodeUSIC:
		return "USIC"
	case NodeSUSIC:
		return "SUSIC"
	case NodeSMINI:
		return "SMINI"
	case NodeCPNODE:
		return "CPNODE"
	default:
		return "UNKNOWN"
	}
}

// Payload is a fixed-capacity message payload. It never grows beyond
// MaxPayloadLen and never allocates.
type Payload struct {
	buf [MaxPayloadLen]byte
	n   int
}

// Push appends one byte. It fails with ErrPayloadOverflow when the payload is
// already full; the payload is left unchanged.
func (p *Payload) Push(b byte) error {
	if p.n == MaxPayloadLen {
		return ErrPayloadOverflow
	}
	p.buf[p.n] = b
	p.n++
	return nil
}

// Clear empties the payload and zeroes the buffer
func (p *Payload) Clear() {
	p.buf = [MaxPayloadLen]byte{}
	p.n = 0
}

// SetBytes replaces the payload with a copy of data
func (p *Payload) SetBytes(data []byte) error {
	if len(data) > MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrDataTooLong, len(data), MaxPayloadLen)
	}
	p.Clear()
	p.n = copy(p.buf[:], data)
	return nil
}

// Bytes returns the valid prefix of the payload. The slice aliases the
// payload buffer.
func (p *Payload) Bytes() []byte {
	return p.buf[:p.n]
}

// Len returns the number of valid payload bytes
func (p *Payload) Len() int {
	return p.n
}

// Message is one C/MRI message. Address and type are unset until assigned.
type Message struct {
	address    uint8
	hasAddress bool
	msgType    MessageType
	hasType    bool

	Payload Payload
}

// NewMessage creates a fully populated message
func NewMessage(address uint8, msgType MessageType, payload []byte) (*Message, error) {
	m := &Message{}
	m.SetAddress(address)
	m.SetType(msgType)
	if err := m.Payload.SetBytes(payload); err != nil {
		return nil, err
	}
	return m, nil
}

// Address returns the message address and whether it has been set
func (m *Message) Address() (uint8, bool) {
	return m.address, m.hasAddress
}

// SetAddress assigns the message address
func (m *Message) SetAddress(addr uint8) {
	m.address = addr
	m.hasAddress = true
}

// Type returns the message type and whether it has been set
func (m *Message) Type() (MessageType, bool) {
	return m.msgType, m.hasType
}

// SetType assigns the message type
func (m *Message) SetType(t MessageType) {
	m.msgType = t
	m.hasType = true
}

// Clear unsets address and type and empties the payload
func (m *Message) Clear() {
	m.address = 0
	m.hasAddress = false
	m.msgType = 0
	m.hasType = false
	m.Payload.Clear()
}

// Equal reports whether two messages carry the same address, type and payload.
// Bytes beyond the payload length are not compared.
func (m *Message) Equal(o *Message) bool {
	return m.hasAddress == o.hasAddress &&
		m.address == o.address &&
		m.hasType == o.hasType &&
		m.msgType == o.msgType &&
		bytes.Equal(m.Payload.Bytes(), o.Payload.Bytes())
}
