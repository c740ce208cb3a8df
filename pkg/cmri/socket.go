// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// Duplex describes whether a line needs transmit turnaround
type Duplex int

// Duplex modes
const (
	DuplexFull Duplex = iota
	// DuplexHalf lines share one pair for both directions (RS-485). The
	// socket calls its tx switch around every write.
	DuplexHalf
)

// String returns the duplex name
func (d Duplex) String() string {
	if d == DuplexHalf {
		return "half"
	}
	return "full"
}

// Socket sends and receives C/MRI messages over a byte stream.
// Each socket owns its decoder and encoder; use one socket per stream.
// One goroutine may Send while another Receives.
type Socket struct {
	duplex   Duplex
	rw       io.ReadWriter
	reader   *bufio.Reader
	decoder  *Decoder
	encoder  *Encoder
	txSwitch func(bool) error
	onDrop   func(DropReason)
	onByte   func()
}

// SocketOption configures a Socket
type SocketOption func(*Socket)

// WithTxSwitch sets the transmit-enable toggle used in half duplex mode. It is
// called with true before a write and false after the write has drained.
func WithTxSwitch(fn func(bool) error) SocketOption {
	return func(s *Socket) {
		if fn != nil {
			s.txSwitch = fn
		}
	}
}

// WithFilter restricts received frames to one address
func WithFilter(addr uint8) SocketOption {
	return func(s *Socket) {
		s.decoder.Filter(addr)
	}
}

// WithDropHandler registers a callback for every discarded frame
func WithDropHandler(fn func(DropReason)) SocketOption {
	return func(s *Socket) {
		s.onDrop = fn
	}
}

// WithByteHandler registers a callback for every byte read from the stream
func WithByteHandler(fn func()) SocketOption {
	return func(s *Socket) {
		s.onByte = fn
	}
}

// NewSocket wraps a byte stream
func NewSocket(rw io.ReadWriter, duplex Duplex, opts ...SocketOption) *Socket {
	s := &Socket{
		duplex:   duplex,
		rw:       rw,
		reader:   bufio.NewReader(rw),
		decoder:  NewDecoder(),
		encoder:  NewEncoder(),
		txSwitch: func(bool) error { return nil },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Duplex returns the socket's duplex mode
func (s *Socket) Duplex() Duplex {
	return s.duplex
}

// Send encodes m and writes it to the stream in one write
func (s *Socket) Send(m *Message) error {
	data, err := s.encoder.Encode(m)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw writes an already encoded frame, applying transmit turnaround
func (s *Socket) SendRaw(data []byte) error {
	if s.duplex == DuplexHalf {
		if err := s.txSwitch(true); err != nil {
			return fmt.Errorf("tx enable: %w", err)
		}
	}

	_, werr := s.rw.Write(data)
	if werr == nil {
		if f, ok := s.rw.(interface{ Flush() error }); ok {
			werr = f.Flush()
		}
	}

	if s.duplex == DuplexHalf {
		if err := s.txSwitch(false); err != nil && werr == nil {
			return fmt.Errorf("tx disable: %w", err)
		}
	}
	if werr != nil {
		return fmt.Errorf("write frame: %w", werr)
	}
	return nil
}

// Receive reads bytes until a frame completes and returns a copy of it.
// Payload overflow is returned as an error; the socket has already
// resynchronised and may be used again. The context is checked between bytes.
func (s *Socket) Receive(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		b, err := s.reader.ReadByte()
		if err != nil {
			return Message{}, err
		}
		if s.onByte != nil {
			s.onByte()
		}

		rx, err := s.decoder.Process(b)
		switch rx {
		case Complete:
			return *s.decoder.Message(), nil
		case Dropped:
			if s.onDrop != nil {
				s.onDrop(s.decoder.LastDrop())
			}
			if err != nil {
				return Message{}, err
			}
		}
	}
}
