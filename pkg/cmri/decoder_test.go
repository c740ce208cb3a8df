// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

// feed sends every byte to the decoder and returns the last result
func feed(t *testing.T, d *Decoder, data []byte) RxState {
	t.Helper()
	var rx RxState
	for i, b := range data {
		var err error
		rx, err = d.Process(b)
		if err != nil {
			t.Fatalf("byte %d (0x%02X): unexpected error: %v", i, b, err)
		}
	}
	return rx
}

// decoderInData returns a decoder that has consumed a frame header and is
// accepting payload
func decoderInData(t *testing.T, addr uint8) *Decoder {
	t.Helper()
	d := NewDecoder()
	feed(t, d, []byte{PreambleByte, PreambleByte, StartByte, addr, byte(MessageSet)})
	if d.State() != StateData {
		t.Fatalf("expected StateData, got %s", d.State())
	}
	return d
}

// ============================================================
// State Transition Tests
// ============================================================

func TestNewDecoder(t *testing.T) {
	d := NewDecoder()
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
	if d.Message().Payload.Len() != 0 {
		t.Errorf("expected empty payload, got %d bytes", d.Message().Payload.Len())
	}
	if _, ok := d.Message().Address(); ok {
		t.Error("new decoder message should have no address")
	}
}

func TestDecoder_IgnoresIdleFill(t *testing.T) {
	d := NewDecoder()
	for _, b := range []byte{0x05, 0xFE, StopByte, EscapeByte, StartByte} {
		rx, err := d.Process(b)
		if err != nil || rx != Listening {
			t.Fatalf("byte 0x%02X: got (%s, %v), want (Listening, nil)", b, rx, err)
		}
	}
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
	if d.Message().Payload.Len() != 0 {
		t.Error("idle bytes must not be recorded")
	}

	rx, _ := d.Process(PreambleByte)
	if rx != Listening || d.State() != StateAttn {
		t.Errorf("preamble: got (%s, %s), want (Listening, Attn)", rx, d.State())
	}
}

func TestDecoder_StrayPreamble(t *testing.T) {
	d := NewDecoder()
	d.Process(PreambleByte)
	rx, err := d.Process(0x31)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rx != Dropped {
		t.Errorf("expected Dropped, got %s", rx)
	}
	if d.LastDrop() != DropStrayPreamble {
		t.Errorf("expected DropStrayPreamble, got %s", d.LastDrop())
	}
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
	if d.Message().Payload.Len() != 0 {
		t.Error("expected empty message after stray preamble")
	}
}

func TestDecoder_SecondPreamble(t *testing.T) {
	d := NewDecoder()
	feed(t, d, []byte{PreambleByte, PreambleByte})
	if d.State() != StateStart {
		t.Errorf("expected StateStart, got %s", d.State())
	}
}

func TestDecoder_StartByte(t *testing.T) {
	d := NewDecoder()
	feed(t, d, []byte{PreambleByte, PreambleByte, StartByte})
	if d.State() != StateAddr {
		t.Errorf("expected StateAddr, got %s", d.State())
	}

	d = NewDecoder()
	feed(t, d, []byte{PreambleByte, PreambleByte})
	rx, _ := d.Process(0x32)
	if rx != Dropped || d.LastDrop() != DropBadStart {
		t.Errorf("got (%s, %s), want (Dropped, bad start byte)", rx, d.LastDrop())
	}
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
}

func TestDecoder_ThirdPreambleDoesNotRestart(t *testing.T) {
	// FF FF FF: the third FF arrives in Start and is not a START byte
	d := NewDecoder()
	feed(t, d, []byte{PreambleByte, PreambleByte, PreambleByte})
	if d.State() != StateIdle {
		t.Fatalf("expected StateIdle, got %s", d.State())
	}
	// The following START is idle fill, not a frame
	feed(t, d, []byte{StartByte, 0x41, byte(MessagePoll), StopByte})
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
}

func TestDecoder_InvalidType(t *testing.T) {
	d := NewDecoder()
	feed(t, d, []byte{PreambleByte, PreambleByte, StartByte, 0x41})
	rx, err := d.Process('L')
	if err != nil {
		t.Fatalf("invalid type must not surface as an error: %v", err)
	}
	if rx != Dropped || d.LastDrop() != DropInvalidType {
		t.Errorf("got (%s, %s), want (Dropped, invalid type)", rx, d.LastDrop())
	}
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
	if _, ok := d.Message().Address(); ok {
		t.Error("dropped frame must clear the address")
	}
}

func TestDecoder_AllTypesAccepted(t *testing.T) {
	for _, mt := range []MessageType{MessageInit, MessageSet, MessageGet, MessagePoll} {
		t.Run(mt.String(), func(t *testing.T) {
			d := NewDecoder()
			rx := feed(t, d, []byte{PreambleByte, PreambleByte, StartByte, 0x41, byte(mt), StopByte})
			if rx != Complete {
				t.Fatalf("expected Complete, got %s", rx)
			}
			got, ok := d.Message().Type()
			if !ok || got != mt {
				t.Errorf("type: got %v (%v), want %v", got, ok, mt)
			}
		})
	}
}

func TestDecoder_EscapeByte(t *testing.T) {
	d := decoderInData(t, 0x43)

	rx, _ := d.Process(5)
	if rx != Listening || d.State() != StateData {
		t.Fatalf("data byte: got (%s, %s)", rx, d.State())
	}

	// Escape byte is not stored
	pos := d.Message().Payload.Len()
	d.Process(EscapeByte)
	if d.State() != StateEscape {
		t.Errorf("expected StateEscape, got %s", d.State())
	}
	if d.Message().Payload.Len() != pos {
		t.Error("escape byte must not be pushed")
	}

	// Escaped escape is literal data
	d.Process(EscapeByte)
	if d.State() != StateData {
		t.Errorf("expected StateData, got %s", d.State())
	}
	if d.Message().Payload.Len() != pos+1 {
		t.Errorf("expected %d bytes, got %d", pos+1, d.Message().Payload.Len())
	}

	// Escaped stop is literal data, not a terminator
	pos = d.Message().Payload.Len()
	d.Process(EscapeByte)
	rx, _ = d.Process(StopByte)
	if rx != Listening || d.State() != StateData {
		t.Errorf("escaped stop: got (%s, %s), want (Listening, Data)", rx, d.State())
	}
	if d.Message().Payload.Len() != pos+1 {
		t.Errorf("expected %d bytes, got %d", pos+1, d.Message().Payload.Len())
	}

	want := []byte{5, EscapeByte, StopByte}
	if !bytes.Equal(d.Message().Payload.Bytes(), want) {
		t.Errorf("payload: got % X, want % X", d.Message().Payload.Bytes(), want)
	}
}

func TestDecoder_StopByte(t *testing.T) {
	d := decoderInData(t, 0x05)
	d.Process(5)
	rx, err := d.Process(StopByte)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rx != Complete {
		t.Errorf("expected Complete, got %s", rx)
	}
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := decoderInData(t, 0x41)
	d.Process(0x55)
	d.Reset()
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
	if d.Message().Payload.Len() != 0 {
		t.Error("reset must clear the payload")
	}
	if _, ok := d.Message().Type(); ok {
		t.Error("reset must clear the type")
	}
}

// ============================================================
// Address Filter Tests
// ============================================================

func TestDecoder_AddressFilter(t *testing.T) {
	d := NewDecoder()
	d.Filter(0x64)
	feed(t, d, []byte{PreambleByte, PreambleByte, StartByte})
	rx, _ := d.Process(0x64)
	if rx != Listening || d.State() != StateType {
		t.Errorf("matching address: got (%s, %s), want (Listening, Type)", rx, d.State())
	}

	d = NewDecoder()
	d.Filter(0x64)
	feed(t, d, []byte{PreambleByte, PreambleByte, StartByte})
	rx, _ = d.Process(0x65)
	if rx != Dropped || d.LastDrop() != DropAddressFiltered {
		t.Errorf("other address: got (%s, %s), want (Dropped, address filtered)", rx, d.LastDrop())
	}
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
	if d.Message().Payload.Len() != 0 {
		t.Error("expected empty message after filtered address")
	}
}

func TestDecoder_FilterReplaced(t *testing.T) {
	d := NewDecoder()
	d.Filter(0x41)
	d.Filter(0x42)
	rx := feed(t, d, []byte{PreambleByte, PreambleByte, StartByte, 0x42, byte(MessagePoll), StopByte})
	if rx != Complete {
		t.Errorf("expected frame for replacement filter to complete, got %s", rx)
	}
}

// ============================================================
// Full Frame Tests
// ============================================================

func TestDecoder_FullMessage(t *testing.T) {
	message := []byte{PreambleByte, PreambleByte, StartByte, 0x86, 'I', 0x41, 0x41, 0x41, 0x41, StopByte}
	message2 := []byte{PreambleByte, PreambleByte, StartByte, 0xA2, 'I', 0x41, 0x41, 0x41, 0x41, StopByte}

	d := NewDecoder()
	if rx := feed(t, d, message); rx != Complete {
		t.Fatalf("expected Complete, got %s", rx)
	}

	m := d.Message()
	if addr, _ := m.Address(); addr != 0x86 {
		t.Errorf("address: got 0x%02X, want 0x86", addr)
	}
	if mt, _ := m.Type(); mt != MessageInit {
		t.Errorf("type: got %s, want INIT", mt)
	}
	if !bytes.Equal(m.Payload.Bytes(), []byte{0x41, 0x41, 0x41, 0x41}) {
		t.Errorf("payload: got % X", m.Payload.Bytes())
	}

	// Same frame with a matching filter
	d.Filter(0x86)
	if rx := feed(t, d, message); rx != Complete {
		t.Fatalf("expected Complete with filter, got %s", rx)
	}
	if addr, _ := d.Message().Address(); addr != 0x86 {
		t.Errorf("address: got 0x%02X, want 0x86", addr)
	}

	// A frame for another node clears the previous message
	feed(t, d, message2)
	if d.Message().Payload.Len() != 0 {
		t.Errorf("expected cleared message, got %d bytes", d.Message().Payload.Len())
	}
}

func TestDecoder_EscapedPayload(t *testing.T) {
	wire := []byte{
		0xFF, 0xFF, 0x02, 0xA2, 0x49,
		0x41, 0x41, 0x41, 0x41,
		0x10, 0x03,
		0x42, 0x42, 0x42, 0x42,
		0x10, 0x10,
		0x43, 0x43, 0x43, 0x43,
		0x03,
	}
	want := []byte{0x41, 0x41, 0x41, 0x41, 0x03, 0x42, 0x42, 0x42, 0x42, 0x10, 0x43, 0x43, 0x43, 0x43}

	d := NewDecoder()
	if rx := feed(t, d, wire); rx != Complete {
		t.Fatalf("expected Complete, got %s", rx)
	}
	if addr, _ := d.Message().Address(); addr != 0xA2 {
		t.Errorf("address: got 0x%02X, want 0xA2", addr)
	}
	if !bytes.Equal(d.Message().Payload.Bytes(), want) {
		t.Errorf("payload:\n got % X\nwant % X", d.Message().Payload.Bytes(), want)
	}
}

func TestDecoder_CompletedMessagePersists(t *testing.T) {
	d := NewDecoder()
	feed(t, d, []byte{PreambleByte, PreambleByte, StartByte, 0x41, 'R', 0x01, StopByte})

	// Idle fill after the frame leaves it intact
	feed(t, d, []byte{0x00, 0x7E, StopByte})
	if d.Message().Payload.Len() != 1 {
		t.Fatalf("completed message lost after idle fill")
	}

	// The next preamble starts a new frame
	d.Process(PreambleByte)
	if d.Message().Payload.Len() != 0 {
		t.Error("preamble should clear the previous message")
	}
}

func TestDecoder_EmptyPayload(t *testing.T) {
	d := NewDecoder()
	rx := feed(t, d, []byte{PreambleByte, PreambleByte, StartByte, 0x41, 'P', StopByte})
	if rx != Complete {
		t.Fatalf("expected Complete, got %s", rx)
	}
	if d.Message().Payload.Len() != 0 {
		t.Errorf("expected empty payload, got %d bytes", d.Message().Payload.Len())
	}
}

// ============================================================
// Overflow Tests
// ============================================================

func TestDecoder_PayloadOverflow(t *testing.T) {
	d := decoderInData(t, 0x41)
	for i := 0; i < MaxPayloadLen; i++ {
		rx, err := d.Process(0x55)
		if err != nil || rx != Listening {
			t.Fatalf("byte %d: got (%s, %v)", i, rx, err)
		}
	}

	rx, err := d.Process(0x55)
	if !errors.Is(err, ErrPayloadOverflow) {
		t.Fatalf("expected ErrPayloadOverflow, got %v", err)
	}
	if rx != Dropped || d.LastDrop() != DropOverflow {
		t.Errorf("got (%s, %s), want (Dropped, payload overflow)", rx, d.LastDrop())
	}
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
	if d.Message().Payload.Len() != 0 {
		t.Error("overflow must discard the payload")
	}
}

func TestDecoder_OverflowViaEscape(t *testing.T) {
	d := decoderInData(t, 0x41)
	for i := 0; i < MaxPayloadLen; i++ {
		d.Process(0x55)
	}
	if _, err := d.Process(EscapeByte); err != nil {
		t.Fatalf("escape byte itself must not overflow: %v", err)
	}
	rx, err := d.Process(StopByte)
	if !errors.Is(err, ErrPayloadOverflow) || rx != Dropped {
		t.Errorf("got (%s, %v), want (Dropped, ErrPayloadOverflow)", rx, err)
	}
	if d.State() != StateIdle {
		t.Errorf("expected StateIdle, got %s", d.State())
	}
}

func TestDecoder_MaxPayloadCompletes(t *testing.T) {
	payload := bytes.Repeat([]byte{StopByte}, MaxPayloadLen)
	wire, err := EncodeValues(0x41, MessageSet, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) != TxBufferLen {
		t.Errorf("worst case frame: got %d bytes, want %d", len(wire), TxBufferLen)
	}

	d := NewDecoder()
	if rx := feed(t, d, wire); rx != Complete {
		t.Fatalf("expected Complete, got %s", rx)
	}
	if !bytes.Equal(d.Message().Payload.Bytes(), payload) {
		t.Error("max length payload mismatch")
	}
}

func TestDecoder_RecoversAfterOverflow(t *testing.T) {
	d := decoderInData(t, 0x41)
	for i := 0; i <= MaxPayloadLen; i++ {
		d.Process(0x01)
	}
	rx := feed(t, d, []byte{PreambleByte, PreambleByte, StartByte, 0x42, 'P', StopByte})
	if rx != Complete {
		t.Errorf("expected decoder to resynchronise, got %s", rx)
	}
}

// ============================================================
// Stringer Tests
// ============================================================

func TestStateStrings(t *testing.T) {
	tests := map[State]string{
		StateIdle:   "Idle",
		StateAttn:   "Attn",
		StateStart:  "Start",
		StateAddr:   "Addr",
		StateType:   "Type",
		StateData:   "Data",
		StateEscape: "Escape",
		State(42):   "State(42)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
	if Dropped.String() != "Dropped" || DropOverflow.String() != "payload overflow" {
		t.Error("unexpected RxState/DropReason names")
	}
}
