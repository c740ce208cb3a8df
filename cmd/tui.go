// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// lineEvent is one decoder outcome from the reader goroutine. Exactly one of
// frame or drop is set.
type lineEvent struct {
	at    time.Time
	frame *cmri.Message
	drop  cmri.DropReason
}

// nodeActivity is the traffic seen for one address
type nodeActivity struct {
	address  uint8
	counts   map[cmri.MessageType]uint64
	lastType cmri.MessageType
	lastLen  int
	lastSeen time.Time
	nodeType string
}

func (n *nodeActivity) Title() string {
	if num, ok := cmri.NodeNumber(n.address); ok {
		return fmt.Sprintf("Node %d (0x%02X)", num, n.address)
	}
	return fmt.Sprintf("Address 0x%02X", n.address)
}

func (n *nodeActivity) Description() string {
	desc := fmt.Sprintf("I/T/R/P %d/%d/%d/%d, last %s len=%d",
		n.counts[cmri.MessageInit], n.counts[cmri.MessageSet],
		n.counts[cmri.MessageGet], n.counts[cmri.MessagePoll],
		n.lastType, n.lastLen)
	if n.nodeType != "" {
		desc += ", " + n.nodeType
	}
	return desc
}

func (n *nodeActivity) FilterValue() string {
	return n.Title()
}

// TUI model
type monitorModel struct {
	connInfo      string
	showAll       bool
	connected     bool
	stats         *cmri.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	nodes         map[uint8]*nodeActivity
	nodeList      list.Model
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type lineBatchMsg struct {
	events []lineEvent
	bytes  int
}
type connectionLostMsg struct{}
type reconnectedMsg struct {
	connInfo string
}

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	total := uint64(d / time.Second)

	seconds := total % 60
	minutes := total / 60 % 60
	hours := total / 3600 % 24
	days := total / 86400

	unit := func(n uint64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, unit(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, unit(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, unit(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialMonitorModel(connInfo string, showAll bool) monitorModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true

	nodeList := list.New(nil, delegate, 40, 10)
	nodeList.Title = "Nodes seen"
	nodeList.SetShowHelp(false)
	nodeList.SetFilteringEnabled(false)
	nodeList.SetShowStatusBar(false)

	return monitorModel{
		connInfo:      connInfo,
		showAll:       showAll,
		connected:     true,
		stats:         cmri.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		nodes:         make(map[uint8]*nodeActivity),
		nodeList:      nodeList,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.nodeList.SetSize(m.width/3, m.height-4)

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case connectionLostMsg:
		m.connected = false
		m.addLogEntry("Connection lost, reconnecting...", true)

	case reconnectedMsg:
		m.connected = true
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected: "+msg.connInfo, false)

	case lineBatchMsg:
		m.stats.AddBytes(msg.bytes)
		changed := false
		for _, ev := range msg.events {
			if m.applyEvent(ev) {
				changed = true
			}
		}
		if changed {
			cmd := m.nodeList.SetItems(m.nodeItems())
			return m, cmd
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.nodeList, cmd = m.nodeList.Update(msg)
	return m, cmd
}

// applyEvent updates statistics and the node table. It reports whether the
// node table changed.
func (m *monitorModel) applyEvent(ev lineEvent) bool {
	if ev.frame == nil {
		m.stats.Update(cmri.Dropped, ev.drop, nil)
		if ev.drop != cmri.DropAddressFiltered {
			m.addLogEntryAt(ev.at, "Dropped: "+ev.drop.String(), true)
		}
		return false
	}

	f := ev.frame
	m.stats.Update(cmri.Complete, cmri.DropNone, f)

	addr, _ := f.Address()
	t, _ := f.Type()
	n, ok := m.nodes[addr]
	if !ok {
		n = &nodeActivity{address: addr, counts: make(map[cmri.MessageType]uint64)}
		m.nodes[addr] = n
		m.addLogEntryAt(ev.at, "New address: "+n.Title(), false)
	}
	n.counts[t]++
	n.lastType = t
	n.lastLen = f.Payload.Len()
	n.lastSeen = ev.at
	if t == cmri.MessageInit && f.Payload.Len() > 0 {
		if nt, err := cmri.ParseNodeType(f.Payload.Bytes()[0]); err == nil {
			n.nodeType = nt.String()
		}
	}

	if m.showAll {
		m.addLogEntryAt(ev.at, fmt.Sprintf("%s %s len=%d", n.Title(), t, f.Payload.Len()), false)
	}
	return true
}

// nodeItems returns the node table sorted by address
func (m *monitorModel) nodeItems() []list.Item {
	addrs := make([]int, 0, len(m.nodes))
	for a := range m.nodes {
		addrs = append(addrs, int(a))
	}
	sort.Ints(addrs)

	items := make([]list.Item, len(addrs))
	for i, a := range addrs {
		items[i] = m.nodes[uint8(a)]
	}
	return items
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *monitorModel) addLogEntryAt(ts time.Time, message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: ts,
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("CMRISTAT - LINE MONITOR"))
	s.WriteString("\n")
	mode := "Drops only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Running %s | q quit, r reset",
		m.connInfo, mode, formatElapsed(time.Since(m.stats.StartTime)))))
	s.WriteString("\n\n")

	if !m.connected {
		s.WriteString(warningStyle.Render("Connection lost, reconnecting..."))
		s.WriteString("\n\n")
	}

	// Statistics
	st := m.stats
	var errorPercent float64
	if attempts := st.Frames + st.Errors(); attempts > 0 {
		errorPercent = float64(st.Errors()) * 100.0 / float64(attempts)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Bytes:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Bytes)),
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Frames)),
		statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Errors(), errorPercent)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d   %s %d\n",
		statsLabelStyle.Render("INIT:"), st.InitFrames,
		statsLabelStyle.Render("SET:"), st.SetFrames,
		statsLabelStyle.Render("GET:"), st.GetFrames,
		statsLabelStyle.Render("POLL:"), st.PollFrames,
	))

	if st.Errors() > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Drops:"), errorStyle.Render(fmt.Sprintf("%d", st.Errors())),
			headerStyle.Render("stray preamble"), st.StrayPreambles,
			headerStyle.Render("bad start"), st.BadStarts,
			headerStyle.Render("invalid type"), st.InvalidTypes,
			headerStyle.Render("overflow"), st.Overflows,
		))
	}
	if st.Filtered > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %d\n", statsLabelStyle.Render("Filtered:"), st.Filtered))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))

	left := boxStyle.Render(statsContent.String())

	// Event log
	logHeight := m.height - 14
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	logWidth := m.width*2/3 - 4
	if logWidth < 20 {
		logWidth = 20
	}
	left = lipgloss.JoinVertical(lipgloss.Left,
		left,
		statsLabelStyle.Render("Recent Events:"),
		boxStyle.Width(logWidth).Render(logContent.String()),
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", m.nodeList.View()))
	return s.String()
}
