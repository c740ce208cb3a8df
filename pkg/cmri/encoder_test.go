// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncode_NoEscaping(t *testing.T) {
	m, err := NewMessage(0x58, MessageSet, []byte{0x41, 0x41, 0x43})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	got, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0x02, 0x58, 'T', 0x41, 0x41, 0x43, 0x03}
	if !bytes.Equal(got, want) {
		t.Errorf("got  % X\nwant % X", got, want)
	}
}

func TestEncode_EscapesStopAndEscape(t *testing.T) {
	payload := []byte{0x41, 0x41, 0x41, 0x41, 0x03, 0x42, 0x42, 0x42, 0x42, 0x10, 0x43, 0x43, 0x43, 0x43}
	got, err := EncodeValues(0xA2, MessageInit, payload)
	if err != nil {
		t.Fatalf("EncodeValues: %v", err)
	}
	want := []byte{
		0xFF, 0xFF, 0x02, 0xA2, 0x49,
		0x41, 0x41, 0x41, 0x41,
		0x10, 0x03,
		0x42, 0x42, 0x42, 0x42,
		0x10, 0x10,
		0x43, 0x43, 0x43, 0x43,
		0x03,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got  % X\nwant % X", got, want)
	}
}

func TestEncode_OtherControlBytesPassThrough(t *testing.T) {
	// Preamble and START inside the payload are not escaped
	got, err := EncodeValues(0x41, MessageGet, []byte{PreambleByte, StartByte})
	if err != nil {
		t.Fatalf("EncodeValues: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0x02, 0x41, 'R', 0xFF, 0x02, 0x03}
	if !bytes.Equal(got, want) {
		t.Errorf("got  % X\nwant % X", got, want)
	}
}

func TestEncode_HeaderNotEscaped(t *testing.T) {
	got, err := EncodeValues(StopByte, MessagePoll, nil)
	if err != nil {
		t.Fatalf("EncodeValues: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0x02, 0x03, 'P', 0x03}
	if !bytes.Equal(got, want) {
		t.Errorf("got  % X\nwant % X", got, want)
	}
}

func TestEncode_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		msg  func() *Message
		want error
	}{
		{
			name: "empty message",
			msg:  func() *Message { return &Message{} },
			want: ErrMissingAddress,
		},
		{
			name: "type only",
			msg: func() *Message {
				m := &Message{}
				m.SetType(MessagePoll)
				return m
			},
			want: ErrMissingAddress,
		},
		{
			name: "address only",
			msg: func() *Message {
				m := &Message{}
				m.SetAddress(0x41)
				return m
			},
			want: ErrMissingType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [TxBufferLen]byte
			n, err := EncodeInto(&buf, tt.msg())
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if n != 0 {
				t.Errorf("expected no bytes written, got %d", n)
			}
			if buf != [TxBufferLen]byte{} {
				t.Error("buffer modified on error")
			}
		})
	}
}

func TestEncodeValues_TooLong(t *testing.T) {
	_, err := EncodeValues(0x41, MessageSet, make([]byte, MaxPayloadLen+1))
	if !errors.Is(err, ErrPayloadOverflow) {
		t.Errorf("expected ErrPayloadOverflow, got %v", err)
	}
}

func TestEncoder_ReusesBuffer(t *testing.T) {
	e := NewEncoder()
	m1, _ := NewMessage(0x41, MessagePoll, nil)
	m2, _ := NewMessage(0x42, MessageSet, []byte{1, 2, 3})

	first, err := e.Encode(m1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(first) != 6 {
		t.Errorf("poll frame: got %d bytes, want 6", len(first))
	}

	second, err := e.Encode(m2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if &first[0] != &second[0] {
		t.Error("expected encoder to reuse its buffer")
	}
	if second[3] != 0x42 || len(second) != 9 {
		t.Errorf("unexpected second frame % X", second)
	}
}

func TestMustEncode_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for incomplete message")
		}
	}()
	MustEncode(&Message{})
}

// ============================================================
// Round Trip Tests
// ============================================================

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		address uint8
		msgType MessageType
		payload []byte
	}{
		{"poll no payload", 0x41, MessagePoll, nil},
		{"init smini", 0x42, MessageInit, []byte{'M', 0x00, 0x00, 0x00}},
		{"set with control bytes", 0x43, MessageSet, []byte{StopByte, EscapeByte, PreambleByte, StartByte}},
		{"get all escapes", 0x44, MessageGet, bytes.Repeat([]byte{EscapeByte}, 32)},
		{"max payload", 0xFF, MessageSet, bytes.Repeat([]byte{0xAA}, MaxPayloadLen)},
		{"address equals stop", StopByte, MessagePoll, []byte{0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMessage(tt.address, tt.msgType, tt.payload)
			if err != nil {
				t.Fatalf("NewMessage: %v", err)
			}
			wire, err := Encode(m)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			d := NewDecoder()
			if rx := feed(t, d, wire); rx != Complete {
				t.Fatalf("expected Complete, got %s", rx)
			}
			if !d.Message().Equal(m) {
				t.Errorf("round trip mismatch: got %+v", d.Message().Payload.Bytes())
			}
		})
	}
}
