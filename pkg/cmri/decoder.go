// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import "fmt"

// State is the framing state of a Decoder
type State int

// Decoder states
const (
	StateIdle   State = iota // waiting for the first preamble byte
	StateAttn                // one preamble byte seen
	StateStart               // two preamble bytes seen, waiting for START
	StateAddr                // next byte is the address
	StateType                // next byte is the message type
	StateData                // accumulating payload
	StateEscape              // next byte is literal payload data
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAttn:
		return "Attn"
	case StateStart:
		return "Start"
	case StateAddr:
		return "Addr"
	case StateType:
		return "Type"
	case StateData:
		return "Data"
	case StateEscape:
		return "Escape"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RxState is the outcome of processing one byte
type RxState int

// Receive outcomes
const (
	// Listening means a frame is in progress or the line is idle
	Listening RxState = iota
	// Complete means Message holds a finished frame
	Complete
	// Dropped means the byte invalidated the frame in progress and the
	// decoder is back in StateIdle. LastDrop says why.
	Dropped
)

// String returns the outcome name
func (r RxState) String() string {
	switch r {
	case Listening:
		return "Listening"
	case Complete:
		return "Complete"
	case Dropped:
		return "Dropped"
	default:
		return fmt.Sprintf("RxState(%d)", int(r))
	}
}

// DropReason says why a frame was discarded
type DropReason int

// Drop reasons
const (
	DropNone            DropReason = iota
	DropStrayPreamble              // single preamble byte not followed by a second
	DropBadStart                   // preamble pair not followed by START
	DropAddressFiltered            // frame addressed to another node
	DropInvalidType                // unrecognised message type byte
	DropOverflow                   // payload exceeded MaxPayloadLen
)

// String returns the drop reason name
func (d DropReason) String() string {
	switch d {
	case DropNone:
		return "none"
	case DropStrayPreamble:
		return "stray preamble"
	case DropBadStart:
		return "bad start byte"
	case DropAddressFiltered:
		return "address filtered"
	case DropInvalidType:
		return "invalid type"
	case DropOverflow:
		return "payload overflow"
	default:
		return fmt.Sprintf("DropReason(%d)", int(d))
	}
}

// Decoder implements the C/MRI receive state machine. It consumes one byte at a
// time and never allocates. A Decoder must not be shared between goroutines
// without external locking.
type Decoder struct {
	state     State
	message   Message
	filter    uint8
	hasFilter bool
	lastDrop  DropReason
}

// NewDecoder creates a decoder in StateIdle with no address filter
func NewDecoder() *Decoder {
	return &Decoder{state: StateIdle}
}

// Filter restricts the decoder to frames addressed to addr. Calling it again
// replaces the previous filter.
func (d *Decoder) Filter(addr uint8) {
	d.filter = addr
	d.hasFilter = true
}

// State returns the current framing state
func (d *Decoder) State() State {
	return d.state
}

// Message returns the completed or in-progress message. After Process returns
// Complete it stays valid until the next frame starts.
func (d *Decoder) Message() *Message {
	return &d.message
}

// LastDrop returns the reason for the most recent Dropped result
func (d *Decoder) LastDrop() DropReason {
	return d.lastDrop
}

// Reset clears the message and returns to StateIdle
func (d *Decoder) Reset() {
	d.message.Clear()
	d.state = StateIdle
}

// drop discards the frame in progress
func (d *Decoder) drop(reason DropReason) RxState {
	d.Reset()
	d.lastDrop = reason
	return Dropped
}

// Process feeds one byte through the state machine.
// Returns Complete when a frame has been terminated, Dropped when the frame in
// progress was discarded, and Listening otherwise. Payload overflow is the only
// error and is returned together with Dropped.
func (d *Decoder) Process(b byte) (RxState, error) {
	switch d.state {
	case StateIdle:
		// Idle fill between frames is ignored
		if b == PreambleByte {
			d.message.Clear()
			d.state = StateAttn
		}

	case StateAttn:
		if b != PreambleByte {
			return d.drop(DropStrayPreamble), nil
		}
		d.state = StateStart

	case StateStart:
		if b != StartByte {
			return d.drop(DropBadStart), nil
		}
		d.state = StateAddr

	case StateAddr:
		if d.hasFilter && b != d.filter {
			return d.drop(DropAddressFiltered), nil
		}
		d.message.SetAddress(b)
		d.state = StateType

	case StateType:
		t, err := ParseMessageType(b)
		if err != nil {
			return d.drop(DropInvalidType), nil
		}
		d.message.SetType(t)
		d.state = StateData

	case StateData:
		switch b {
		case EscapeByte:
			d.state = StateEscape
		case StopByte:
			d.state = StateIdle
			return Complete, nil
		default:
			return d.push(b)
		}

	case StateEscape:
		d.state = StateData
		return d.push(b)

	default:
		return d.drop(DropNone), fmt.Errorf("cmri: invalid decoder state %d", d.state)
	}

	return Listening, nil
}

// push appends a payload byte, aborting the frame on overflow
func (d *Decoder) push(b byte) (RxState, error) {
	if err := d.message.Payload.Push(b); err != nil {
		return d.drop(DropOverflow), err
	}
	return Listening, nil
}
