//
// Copyright 2019 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS-IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
//
package model

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/wcetfuzz/internal/clock"
)

// Part names used within an Input's Parts map (§3 "Input", §6.1): the raw
// fuzz-input bytes the target program reads from, and the encoded interrupt
// arrival-time vector the capture shim decodes before feeding interrupts to
// the emulated core.
const (
	PartBytes      = "bytes"
	PartISRTimes   = "isr_i_times"
)

// MaxInterrupts bounds how many interrupt arrival ticks a PartISRTimes part
// encodes, matching FRET's DO_NUM_INTERRUPT.
const MaxInterrupts = 8

// FirstInterruptFloor is the minimum tick value an interrupt's arrival time
// must exceed to be considered armed; a decoded tick at or below this floor
// is treated as "no interrupt scheduled in this slot" and zeroed (FRET's
// FIRST_INT threshold in input_bytes_to_interrupt_times).
const FirstInterruptFloor clock.Tick = 100

// Input is the multipart fuzz input the corpus stores and the emulator
// consumes: named byte-string parts, conventionally "bytes" (raw memory
// contents) and "isr_i_times" (encoded interrupt arrival ticks).
type Input struct {
	Parts map[string][]byte
}

// NewInput returns an Input with empty "bytes" and "isr_i_times" parts.
func NewInput() *Input {
	return &Input{Parts: map[string][]byte{PartBytes: {}, PartISRTimes: {}}}
}

// Bytes returns the "bytes" part, or nil if absent.
func (in *Input) Bytes() []byte {
	return in.Parts[PartBytes]
}

// SetBytes replaces the "bytes" part.
func (in *Input) SetBytes(b []byte) {
	if in.Parts == nil {
		in.Parts = make(map[string][]byte)
	}
	in.Parts[PartBytes] = b
}

// InterruptTimes decodes the "isr_i_times" part into a sorted, min-inter-
//-arrival-enforced tick vector (§4.5 "Interrupt-shift mutator" invariants),
// mirroring FRET's input_bytes_to_interrupt_times:
//
//  1. Read up to MaxInterrupts little-endian uint32 ticks from the part
//     (fewer if the part is short; missing ticks default to 0).
//  2. Zero any tick at or below FirstInterruptFloor (not yet armed).
//  3. Sort ascending.
//  4. Walk neighbor pairs; where the gap is below minIAT, zero the later
//     tick and re-sort, repeating until stable. This guarantees the
//     sorted + min-inter-arrival-time invariant holds for every value this
//     function returns.
func (in *Input) InterruptTimes(minIAT clock.Tick) []clock.Tick {
	return decodeInterruptTimes(in.Parts[PartISRTimes], minIAT)
}

func decodeInterruptTimes(raw []byte, minIAT clock.Tick) []clock.Tick {
	times := make([]clock.Tick, MaxInterrupts)
	for i := 0; i < MaxInterrupts; i++ {
		off := i * 4
		if off+4 > len(raw) {
			break
		}
		v := clock.Tick(binary.LittleEndian.Uint32(raw[off : off+4]))
		if v <= FirstInterruptFloor {
			v = 0
		}
		times[i] = v
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	enforceMinIAT(times, minIAT)
	return times
}

// enforceMinIAT zeroes and re-sorts until every non-zero neighbor gap is at
// least minIAT, or all but one tick have been zeroed.
func enforceMinIAT(times []clock.Tick, minIAT clock.Tick) {
	for {
		changed := false
		for i := 1; i < len(times); i++ {
			if times[i] == 0 {
				continue
			}
			if times[i]-times[i-1] < minIAT && times[i-1] != 0 {
				times[i] = 0
				changed = true
			}
		}
		if !changed {
			return
		}
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	}
}

// SetInterruptTimes encodes times (padded/truncated to MaxInterrupts) back
// into the "isr_i_times" part as little-endian uint32s, mirroring FRET's
// interrupt_times_to_input_bytes. The caller is responsible for having
// already sorted times and enforced minIAT (InterruptTimes does both on
// read; mutators that synthesize a fresh vector must do the same before
// calling this).
func (in *Input) SetInterruptTimes(times []clock.Tick) {
	if in.Parts == nil {
		in.Parts = make(map[string][]byte)
	}
	in.Parts[PartISRTimes] = encodeInterruptTimes(times)
}

func encodeInterruptTimes(times []clock.Tick) []byte {
	raw := make([]byte, MaxInterrupts*4)
	for i := 0; i < MaxInterrupts && i < len(times); i++ {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], uint32(times[i]))
	}
	return raw
}

// PartForSource returns the Input part name carrying interrupt source i's
// arrival-time vector (§3 "Input": "one per active interrupt source"). A
// single-interrupt-source target can use the fixed PartISRTimes key
// directly via InterruptTimes/SetInterruptTimes; a multi-source target
// addresses each source's part by this name.
func PartForSource(i int) string {
	return fmt.Sprintf("isr_%d_times", i)
}

// InterruptTimesFor decodes the named source's part the same way
// InterruptTimes decodes PartISRTimes (§4.5 step 3).
func (in *Input) InterruptTimesFor(source int, minIAT clock.Tick) []clock.Tick {
	return decodeInterruptTimes(in.Parts[PartForSource(source)], minIAT)
}

// SetInterruptTimesFor encodes times into the named source's part, the
// multi-source analogue of SetInterruptTimes.
func (in *Input) SetInterruptTimesFor(source int, times []clock.Tick) {
	if in.Parts == nil {
		in.Parts = make(map[string][]byte)
	}
	in.Parts[PartForSource(source)] = encodeInterruptTimes(times)
}

// Clone returns a deep copy of the input, used by mutators that must leave
// the original corpus entry untouched.
func (in *Input) Clone() *Input {
	out := &Input{Parts: make(map[string][]byte, len(in.Parts))}
	for k, v := range in.Parts {
		cp := make([]byte, len(v))
		copy(cp, v)
		out.Parts[k] = cp
	}
	return out
}
