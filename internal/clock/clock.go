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
// Package clock converts between the emulator's instruction-count ticks and
// wall-clock durations.  All arithmetic is pinned at 64-bit tick counts;
// conversion to time.Duration happens only at API boundaries.
package clock

import "time"

// ICountShift is the QEMU icount shift the core is always run with: one tick
// is 2^ICountShift host nanoseconds of simulated time.
const ICountShift = 5

// TicksPerSecond is the number of ticks in one second of simulated time at
// ICountShift.
const TicksPerSecond = 1e9 / (1 << ICountShift)

// TicksPerMicrosecond is the number of ticks in one microsecond of simulated
// time at ICountShift.
const TicksPerMicrosecond = TicksPerSecond / 1e6

// Tick is an instruction count as reported by the emulator's icount counter.
type Tick uint64

// ToDuration converts a tick count to a time.Duration, assuming ICountShift.
func (t Tick) ToDuration() time.Duration {
	return time.Duration(uint64(t) << ICountShift)
}

// FromDuration converts a time.Duration to a tick count, assuming
// ICountShift and truncating any fraction of a tick.
func FromDuration(d time.Duration) Tick {
	if d < 0 {
		return 0
	}
	return Tick(uint64(d) >> ICountShift)
}

// MicrosecondsToTicks converts a microsecond interval to ticks, as used by the
// interrupt mutator's minimum inter-arrival-time arithmetic.
func MicrosecondsToTicks(us float64) uint32 {
	if us <= 0 {
		return 0
	}
	return uint32(us * TicksPerMicrosecond)
}

// WallClockTimeout is the hard per-iteration wall-clock budget (§4.8, §7): an
// emulator run that does not reach a breakpoint or crash within this long is
// classified Timeout.
const WallClockTimeout = 10 * time.Second
