// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import "fmt"

// Encoder encodes C/MRI messages for transmission.
// It owns a single worst-case transmit buffer that is reused by every call.
type Encoder struct {
	buf [TxBufferLen]byte
}

// NewEncoder creates a new C/MRI message encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode encodes a message into the encoder's buffer and returns the used
// prefix. The slice is overwritten by the next call.
func (e *Encoder) Encode(m *Message) ([]byte, error) {
	n, err := EncodeInto(&e.buf, m)
	if err != nil {
		return nil, err
	}
	return e.buf[:n], nil
}

// EncodeInto writes the wire form of m into dst and returns the number of bytes
// written. Nothing is written when the message is incomplete.
func EncodeInto(dst *[TxBufferLen]byte, m *Message) (int, error) {
	addr, ok := m.Address()
	if !ok {
		return 0, ErrMissingAddress
	}
	msgType, ok := m.Type()
	if !ok {
		return 0, ErrMissingType
	}
	return encodeFrame(dst[:], addr, msgType, m.Payload.Bytes()), nil
}

// Encode returns the wire form of m in a newly allocated slice
func Encode(m *Message) ([]byte, error) {
	var buf [TxBufferLen]byte
	n, err := EncodeInto(&buf, m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// EncodeValues creates a complete wire-formatted frame from raw values.
// Returns the frame bytes ready for transmission, including framing and
// escaping.
func EncodeValues(address uint8, msgType MessageType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadOverflow, len(payload), MaxPayloadLen)
	}
	var buf [TxBufferLen]byte
	n := encodeFrame(buf[:], address, msgType, payload)
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// MustEncode encodes a message, panicking if it is incomplete.
// Use Encode for error handling.
func MustEncode(m *Message) []byte {
	data, err := Encode(m)
	if err != nil {
		panic(fmt.Sprintf("cmri: encode error: %v", err))
	}
	return data
}

// encodeFrame writes one frame into dst, which must hold TxBufferLen bytes.
// Only payload bytes are escaped; address and type are written raw.
func encodeFrame(dst []byte, address uint8, msgType MessageType, payload []byte) int {
	dst[0] = PreambleByte
	dst[1] = PreambleByte
	dst[2] = StartByte
	dst[3] = address
	dst[4] = byte(msgType)

	n := headerLen
	for _, b := range payload {
		if needsEscape(b) {
			dst[n] = EscapeByte
			n++
		}
		dst[n] = b
		n++
	}
	dst[n] = StopByte
	return n + 1
}
