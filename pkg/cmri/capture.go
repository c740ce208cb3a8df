// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// CaptureRecord is one decoded frame stored in a capture file
type CaptureRecord struct {
	Time    time.Time `cbor:"1,keyasint"`
	Address uint8     `cbor:"2,keyasint"`
	Type    byte      `cbor:"3,keyasint"`
	Payload []byte    `cbor:"4,keyasint"`
}

// Message rebuilds the frame held by the record
func (r CaptureRecord) Message() (*Message, error) {
	t, err := ParseMessageType(r.Type)
	if err != nil {
		return nil, err
	}
	return NewMessage(r.Address, t, r.Payload)
}

// CaptureWriter streams frames to a capture file as a sequence of CBOR records
type CaptureWriter struct {
	enc *cbor.Encoder
}

// NewCaptureWriter creates a writer appending records to w
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{enc: cbor.NewEncoder(w)}
}

// Write appends one message. Incomplete messages are rejected.
func (c *CaptureWriter) Write(ts time.Time, m *Message) error {
	addr, ok := m.Address()
	if !ok {
		return ErrMissingAddress
	}
	t, ok := m.Type()
	if !ok {
		return ErrMissingType
	}
	rec := CaptureRecord{
		Time:    ts.UTC(),
		Address: addr,
		Type:    byte(t),
		Payload: append([]byte(nil), m.Payload.Bytes()...),
	}
	if err := c.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode capture record: %w", err)
	}
	return nil
}

// CaptureReader reads records written by CaptureWriter
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a reader over r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the capture
func (c *CaptureReader) Next() (CaptureRecord, error) {
	var rec CaptureRecord
	if err := c.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return CaptureRecord{}, io.EOF
		}
		return CaptureRecord{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	if len(rec.Payload) > MaxPayloadLen {
		return CaptureRecord{}, fmt.Errorf("capture record: %w", ErrDataTooLong)
	}
	return rec, nil
}
