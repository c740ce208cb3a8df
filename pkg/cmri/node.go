// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import "fmt"

// DefaultBankSize is the default number of bytes in each I/O bank (64 bits)
const DefaultBankSize = 8

// Node emulates a C/MRI I/O node. Outputs are written by the controller with
// Set messages; inputs are reported back in reply to Poll.
//
// Bits are numbered big-endian: bit 0 is the most significant bit of byte 0.
type Node struct {
	number   uint8
	nodeType NodeType
	inited   bool
	inputs   []byte
	outputs  []byte
}

// NewNode creates a node with the given number and bank sizes in bytes.
// Sizes outside 1..MaxPayloadLen fall back to DefaultBankSize.
func NewNode(number uint8, inputBytes, outputBytes int) *Node {
	if inputBytes <= 0 || inputBytes > MaxPayloadLen {
		inputBytes = DefaultBankSize
	}
	if outputBytes <= 0 || outputBytes > MaxPayloadLen {
		outputBytes = DefaultBankSize
	}
	return &Node{
		number:  number,
		inputs:  make([]byte, inputBytes),
		outputs: make([]byte, outputBytes),
	}
}

// Number returns the node number
func (n *Node) Number() uint8 {
	return n.number
}

// Address returns the node's wire address
func (n *Node) Address() uint8 {
	return NodeAddress(n.number)
}

// NodeType returns the node type sent by the controller's last Init, and
// whether an Init has been received
func (n *Node) NodeType() (NodeType, bool) {
	return n.nodeType, n.inited
}

// Handle processes a message from the controller and returns the reply, if any.
// Messages addressed to other nodes are ignored.
func (n *Node) Handle(m *Message) (*Message, error) {
	addr, ok := m.Address()
	if !ok {
		return nil, ErrMissingAddress
	}
	if addr != n.Address() {
		return nil, nil
	}
	t, ok := m.Type()
	if !ok {
		return nil, ErrMissingType
	}

	payload := m.Payload.Bytes()
	switch t {
	case MessageInit:
		if len(payload) == 0 {
			return nil, fmt.Errorf("init without node type: %w", ErrInvalidNodeType)
		}
		nt, err := ParseNodeType(payload[0])
		if err != nil {
			return nil, err
		}
		n.nodeType = nt
		n.inited = true
		return nil, nil

	case MessageSet:
		clear(n.outputs)
		copy(n.outputs, payload)
		return nil, nil

	case MessagePoll:
		return NewMessage(n.Address(), MessageGet, n.inputs)

	default:
		// Get travels node -> controller only
		return nil, nil
	}
}

// Inputs returns a copy of the input bank
func (n *Node) Inputs() []byte {
	return append([]byte(nil), n.inputs...)
}

// Outputs returns a copy of the output bank
func (n *Node) Outputs() []byte {
	return append([]byte(nil), n.outputs...)
}

// OutputBit returns output bit i. Out of range bits read as false.
func (n *Node) OutputBit(i int) bool {
	return getBit(n.outputs, i)
}

// OutputByte returns output byte i. Out of range bytes read as zero.
func (n *Node) OutputByte(i int) byte {
	if i < 0 || i >= len(n.outputs) {
		return 0
	}
	return n.outputs[i]
}

// InputBit returns input bit i. Out of range bits read as false.
func (n *Node) InputBit(i int) bool {
	return getBit(n.inputs, i)
}

// SetInputBit sets input bit i. Out of range bits are ignored.
func (n *Node) SetInputBit(i int, v bool) {
	if i < 0 || i >= len(n.inputs)*8 {
		return
	}
	mask := byte(0x80) >> (i % 8)
	if v {
		n.inputs[i/8] |= mask
	} else {
		n.inputs[i/8] &^= mask
	}
}

// SetInputByte sets input byte i. Out of range bytes are ignored.
func (n *Node) SetInputByte(i int, v byte) {
	if i < 0 || i >= len(n.inputs) {
		return
	}
	n.inputs[i] = v
}

func getBit(bank []byte, i int) bool {
	if i < 0 || i >= len(bank)*8 {
		return false
	}
	return bank[i/8]&(byte(0x80)>>(i%8)) != 0
}
