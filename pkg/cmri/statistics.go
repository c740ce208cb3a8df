// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"fmt"
	"time"
)

// Statistics tracks frame counts, drop reasons and rates for one stream
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Bytes          uint64
	Frames         uint64
	InitFrames     uint64
	SetFrames      uint64
	GetFrames      uint64
	PollFrames     uint64
	StrayPreambles uint64
	BadStarts      uint64
	Filtered       uint64
	InvalidTypes   uint64
	Overflows      uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // malformed frames/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// AddBytes counts raw bytes read from the line
func (s *Statistics) AddBytes(n int) {
	s.Bytes += uint64(n)
}

// Update records the outcome of one Decoder.Process call. m is consulted only
// when rx is Complete.
func (s *Statistics) Update(rx RxState, drop DropReason, m *Message) {
	switch rx {
	case Complete:
		s.Frames++
		if t, ok := m.Type(); ok {
			switch t {
			case MessageInit:
				s.InitFrames++
			case MessageSet:
				s.SetFrames++
			case MessageGet:
				s.GetFrames++
			case MessagePoll:
				s.PollFrames++
			}
		}
	case Dropped:
		switch drop {
		case DropStrayPreamble:
			s.StrayPreambles++
		case DropBadStart:
			s.BadStarts++
		case DropAddressFiltered:
			s.Filtered++
		case DropInvalidType:
			s.InvalidTypes++
		case DropOverflow:
			s.Overflows++
		}
	default:
		return
	}

	s.LastUpdateTime = time.Now()
}

// Errors returns the number of malformed frames. Frames filtered by address
// are not errors.
func (s *Statistics) Errors() uint64 {
	return s.StrayPreambles + s.BadStarts + s.InvalidTypes + s.Overflows
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.Frames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var errorPercent float64
	if attempts := s.Frames + s.Errors(); attempts > 0 {
		errorPercent = float64(s.Errors()) * 100.0 / float64(attempts)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bytes Read:      %8d\n", s.Bytes)
	result += fmt.Sprintf("Frames:          %8d\n", s.Frames)
	if s.Frames > 0 {
		result += fmt.Sprintf("  Init/Set/Get/Poll: %d/%d/%d/%d\n", s.InitFrames, s.SetFrames, s.GetFrames, s.PollFrames)
	}
	if s.Filtered > 0 {
		result += fmt.Sprintf("Filtered:        %8d\n", s.Filtered)
	}
	if s.Errors() > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.Errors(), errorPercent)
		if s.StrayPreambles > 0 {
			result += fmt.Sprintf("  Stray Preamble:   %5d\n", s.StrayPreambles)
		}
		if s.BadStarts > 0 {
			result += fmt.Sprintf("  Bad Start:        %5d\n", s.BadStarts)
		}
		if s.InvalidTypes > 0 {
			result += fmt.Sprintf("  Invalid Type:     %5d\n", s.InvalidTypes)
		}
		if s.Overflows > 0 {
			result += fmt.Sprintf("  Overflow:         %5d\n", s.Overflows)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
