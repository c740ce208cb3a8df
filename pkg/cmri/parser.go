// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"errors"
	"fmt"
)

// Parser extracts frames from a complete buffer. It applies exactly the same
// framing rules as Decoder and exists for callers that already hold a whole
// capture in memory.
type Parser struct {
	filter    uint8
	hasFilter bool
}

// NewParser creates a parser with no address filter
func NewParser() *Parser {
	return &Parser{}
}

// Filter restricts the parser to frames addressed to addr
func (p *Parser) Filter(addr uint8) {
	p.filter = addr
	p.hasFilter = true
}

// ParseAll returns every complete frame in data, in order.
// A frame still open at the end of data is not returned. Each frame aborted by
// payload overflow contributes one error wrapping ErrPayloadOverflow.
func (p *Parser) ParseAll(data []byte) ([]Message, error) {
	var (
		frames []Message
		errs   []error
	)

	i := 0
	for i < len(data) {
		start := i
		if data[i] != PreambleByte {
			i++
			continue
		}
		i++

		if i >= len(data) {
			break
		}
		if data[i] != PreambleByte {
			i++
			continue
		}
		i++

		if i >= len(data) {
			break
		}
		if data[i] != StartByte {
			i++
			continue
		}
		i++

		if i >= len(data) {
			break
		}
		addr := data[i]
		i++
		if p.hasFilter && addr != p.filter {
			continue
		}

		if i >= len(data) {
			break
		}
		msgType, err := ParseMessageType(data[i])
		i++
		if err != nil {
			continue
		}

		var m Message
		m.SetAddress(addr)
		m.SetType(msgType)

		complete, overflow := false, false
		for i < len(data) && !complete && !overflow {
			b := data[i]
			i++
			switch b {
			case StopByte:
				complete = true
				continue
			case EscapeByte:
				if i >= len(data) {
					continue
				}
				b = data[i]
				i++
			}
			if m.Payload.Push(b) != nil {
				overflow = true
			}
		}

		if complete {
			frames = append(frames, m)
		} else if overflow {
			errs = append(errs, fmt.Errorf("frame at offset %d: %w", start, ErrPayloadOverflow))
		}
	}

	return frames, errors.Join(errs...)
}

// ParseAll parses data with no address filter
func ParseAll(data []byte) ([]Message, error) {
	return NewParser().ParseAll(data)
}

// UnstuffPayload removes payload escaping from the bytes between the type byte
// and the STOP byte of a frame. This is the inverse of the encoder's escaping.
func UnstuffPayload(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b)
			escapeNext = false
		} else if b == EscapeByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
