// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// isClosed reports whether err means the stream has gone away for good
func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	var pe *serial.PortError
	return errors.As(err, &pe) && pe.Code() == serial.PortClosed
}

// receiveFrames reads frames from sock until ctx is cancelled or the stream
// closes, calling handle for each. conn is closed when ctx is cancelled to
// unblock a pending read. Overflowed frames are logged and skipped.
func receiveFrames(ctx context.Context, sock *cmri.Socket, conn io.Closer, handle func(*cmri.Message) error) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		m, err := sock.Receive(ctx)
		switch {
		case err == nil:
			if err := handle(&m); err != nil {
				return err
			}
		case errors.Is(err, cmri.ErrPayloadOverflow):
			log.Warn().Int("max", cmri.MaxPayloadLen).Msg("payload overflow, frame discarded")
		case ctx.Err() != nil:
			return nil
		case isClosed(err):
			log.Info().Msg("connection closed")
			return nil
		default:
			// Serial lines report transient errors; keep listening
			log.Warn().Err(err).Msg("read error")
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// readFrames runs receiveFrames in the background. The frame channel is closed
// when reading stops; the error channel then yields the result.
func readFrames(ctx context.Context, sock *cmri.Socket, conn io.Closer) (<-chan cmri.Message, <-chan error) {
	frames := make(chan cmri.Message, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(frames)
		errc <- receiveFrames(ctx, sock, conn, func(m *cmri.Message) error {
			select {
			case frames <- *m:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return frames, errc
}

// addressFilter returns socket options for a --filter style flag. Negative
// values disable filtering.
func addressFilter(addr int) ([]cmri.SocketOption, error) {
	if addr < 0 {
		return nil, nil
	}
	if addr > 0xFF {
		return nil, fmt.Errorf("address 0x%X out of range", addr)
	}
	return []cmri.SocketOption{cmri.WithFilter(uint8(addr))}, nil
}
