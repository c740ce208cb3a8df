// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	monitorShowAll bool
	monitorFilter  int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of line statistics and nodes",
	Long: `Watch a C/MRI line in an interactive terminal UI.

The dashboard shows:
  - Frame counts per message type and frame rate
  - Discarded frames by reason (stray preamble, bad start, invalid type, overflow)
  - Every node address seen on the line, with its traffic
  - A log of recent events

By default only discarded frames are logged. Use --show-all to log every frame.
The monitor reconnects automatically when the connection is lost.

Keys: q quits, r resets statistics, arrow keys move through the node list.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Log every frame, not just discarded ones")
	monitorCmd.Flags().IntVar(&monitorFilter, "filter", -1, "Only decode frames for this address")
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	conn     Connection
	connInfo string
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}
	opts     []cmri.SocketOption
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

func runMonitor(cmd *cobra.Command, args []string) error {
	opts, err := addressFilter(monitorFilter)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	cm := &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		done:     make(chan struct{}),
		opts:     opts,
	}

	m := initialMonitorModel(connInfo, monitorShowAll)
	p := tea.NewProgram(m, tea.WithAltScreen())
	cm.p = p

	go cm.readerLoop()

	_, err = p.Run()
	close(cm.done)
	cm.getConn().Close()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// readerLoop reads from the connection, reconnecting when it is lost
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		cm.readFromConnection()

		select {
		case <-cm.done:
			return
		default:
		}

		cm.p.Send(connectionLostMsg{})
		if !cm.reconnect() {
			return
		}
	}
}

// readFromConnection decodes frames until the connection fails or shutdown
// is requested. Events are batched so the TUI redraws at a fixed rate.
func (cm *connectionManager) readFromConnection() {
	conn := cm.getConn()
	events := make(chan lineEvent, 256)
	var pendingBytes atomic.Int64

	push := func(ev lineEvent) {
		select {
		case events <- ev:
		default:
			// TUI is behind; drop the event rather than the line
		}
	}

	opts := append([]cmri.SocketOption{
		cmri.WithByteHandler(func() {
			metrics.bytesRead.Inc()
			pendingBytes.Add(1)
		}),
		cmri.WithDropHandler(func(r cmri.DropReason) {
			metrics.drop(r)
			push(lineEvent{at: time.Now(), drop: r})
		}),
	}, cm.opts...)
	sock := NewSocket(conn, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-cm.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		receiveFrames(ctx, sock, conn, func(m *cmri.Message) error {
			metrics.frame(m)
			frame := *m
			push(lineEvent{at: time.Now(), frame: &frame})
			return nil
		})
	}()

	flush := func() {
		batch := lineBatchMsg{events: drainEvents(events), bytes: int(pendingBytes.Swap(0))}
		if batch.bytes > 0 || len(batch.events) > 0 {
			cm.p.Send(batch)
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flush()
		case <-readerDone:
			flush()
			return
		}
	}
}

// drainEvents collects every pending event without blocking
func drainEvents(events <-chan lineEvent) []lineEvent {
	var batch []lineEvent
	for {
		select {
		case ev := <-events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
