// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import (
	"strings"
	"testing"
)

func TestStatistics_CountsDecoderOutcomes(t *testing.T) {
	var stream []byte
	stream = append(stream, MustEncode(mustMessage(t, 0x41, MessagePoll, nil))...)
	stream = append(stream, MustEncode(mustMessage(t, 0x41, MessageGet, []byte{1}))...)
	stream = append(stream, MustEncode(mustMessage(t, 0x42, MessagePoll, nil))...) // filtered
	stream = append(stream, 0xFF, 0x00)                                             // stray preamble
	stream = append(stream, 0xFF, 0xFF, 0x09)                                       // bad start
	stream = append(stream, 0xFF, 0xFF, 0x02, 0x41, 'Z')                            // invalid type

	d := NewDecoder()
	d.Filter(0x41)
	s := NewStatistics()
	s.AddBytes(len(stream))
	for _, b := range stream {
		rx, _ := d.Process(b)
		s.Update(rx, d.LastDrop(), d.Message())
	}

	if s.Bytes != uint64(len(stream)) {
		t.Errorf("bytes %d", s.Bytes)
	}
	if s.Frames != 2 || s.PollFrames != 1 || s.GetFrames != 1 {
		t.Errorf("frames %d (poll %d get %d)", s.Frames, s.PollFrames, s.GetFrames)
	}
	if s.Filtered != 1 {
		t.Errorf("filtered %d", s.Filtered)
	}
	if s.StrayPreambles != 1 || s.BadStarts != 1 || s.InvalidTypes != 1 {
		t.Errorf("stray %d bad start %d invalid %d", s.StrayPreambles, s.BadStarts, s.InvalidTypes)
	}
	if s.Errors() != 3 {
		t.Errorf("filtered frames must not count as errors: got %d", s.Errors())
	}

	out := s.String()
	for _, want := range []string{"Frames:", "Filtered:", "Malformed:", "Bad Start:"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Overflow:") {
		t.Error("zero counters should be omitted")
	}

	s.Reset()
	if s.Frames != 0 || s.Errors() != 0 || s.Bytes != 0 {
		t.Error("reset should clear counters")
	}
}

func TestStatistics_ListeningIgnored(t *testing.T) {
	s := NewStatistics()
	before := s.LastUpdateTime
	s.Update(Listening, DropNone, nil)
	if s.Frames != 0 || !s.LastUpdateTime.Equal(before) {
		t.Error("listening results should not be recorded")
	}
}
