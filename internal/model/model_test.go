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
	"testing"

	"github.com/google/wcetfuzz/internal/clock"
)

func TestABBEqualIgnoresInstanceID(t *testing.T) {
	level := CapturePoint{Event: APIStart, Name: "xTaskDelay"}
	a := NewABB(0x1000, []uint32{0x1010, 0x1020}, level, "xTaskDelay", 1)
	b := NewABB(0x1000, []uint32{0x1020, 0x1010}, level, "xTaskDelay", 2)
	if !a.Equal(b) {
		t.Errorf("Equal(%v, %v) = false, want true (InstanceID must not matter, Ends order must not matter)", a, b)
	}
	if a.InstanceEqual(b) {
		t.Errorf("InstanceEqual(%v, %v) = true, want false (differing InstanceID)", a, b)
	}
	if a.Hash() != b.Hash() {
		t.Errorf("Hash(%v) = %d, Hash(%v) = %d, want equal", a, a.Hash(), b, b.Hash())
	}
}

func TestABBNotEqualOnDifferentStart(t *testing.T) {
	level := CapturePoint{Event: APIStart, Name: "xTaskDelay"}
	a := NewABB(0x1000, []uint32{0x1010}, level, "xTaskDelay", 1)
	b := NewABB(0x2000, []uint32{0x1010}, level, "xTaskDelay", 1)
	if a.Equal(b) {
		t.Errorf("Equal(%v, %v) = true, want false", a, b)
	}
}

func TestExecIntervalValidity(t *testing.T) {
	zero := ExecInterval{}
	if zero.IsValid() {
		t.Errorf("zero-value ExecInterval.IsValid() = true, want false")
	}
	iv := ExecInterval{Start: 10, End: 20}
	if !iv.IsValid() {
		t.Errorf("ExecInterval{10,20}.IsValid() = false, want true")
	}
	if got, want := iv.ExecTime(), clock.Tick(10); got != want {
		t.Errorf("ExecTime() = %d, want %d", got, want)
	}
	iv.Invalidate()
	if iv.IsValid() {
		t.Errorf("after Invalidate(), IsValid() = true, want false")
	}
}

func TestJobHashKeyedOnABBSequenceOnly(t *testing.T) {
	level := CapturePoint{Event: APIStart, Name: "f"}
	abb1 := NewABB(0x100, []uint32{0x110}, level, "f", 1)
	abb2 := NewABB(0x200, []uint32{0x210}, level, "g", 1)

	j1 := NewJob("taskA", []JobChunk{{ABB: abb1, Ticks: 5}, {ABB: abb2, Ticks: 7}}, 0, 12)
	j2 := NewJob("taskA", []JobChunk{{ABB: abb1, Ticks: 50}, {ABB: abb2, Ticks: 70}}, 0, 120)

	if !j1.Equal(j2) {
		t.Errorf("jobs with same ABB sequence but different tick counts should be Equal")
	}
	if j1.Hash() != j2.Hash() {
		t.Errorf("Hash() should depend only on ABB sequence, got %d and %d", j1.Hash(), j2.Hash())
	}

	j3 := NewJob("taskA", []JobChunk{{ABB: abb2, Ticks: 5}, {ABB: abb1, Ticks: 7}}, 0, 12)
	if j1.Equal(j3) {
		t.Errorf("jobs with different ABB order should not be Equal")
	}
}

func TestTaskTryUpdateKeepsWorstPerShape(t *testing.T) {
	level := CapturePoint{Event: APIStart, Name: "f"}
	abb := NewABB(0x100, []uint32{0x110}, level, "f", 1)

	small := NewJob("taskA", []JobChunk{{ABB: abb, Ticks: 5}}, 0, 5)
	big := NewJob("taskA", []JobChunk{{ABB: abb, Ticks: 50}}, 0, 50)

	task := NewTaskFromJob(small)
	if !task.TryUpdate(big) {
		t.Errorf("TryUpdate with a strictly worse job of the same shape should report an update")
	}
	if got, want := task.WorstExecTime, clock.Tick(50); got != want {
		t.Errorf("WorstExecTime = %d, want %d", got, want)
	}
	if task.TryUpdate(small) {
		t.Errorf("TryUpdate with a strictly better job of the same shape should not report an update")
	}
	stored := task.WorstJobs[big.Hash()]
	if got, want := stored.ExecTime(), clock.Tick(50); got != want {
		t.Errorf("stored worst job ExecTime = %d, want %d", got, want)
	}
}

func TestTaskMapBytesOntoOnlyOverlaysObservedOffsets(t *testing.T) {
	level := CapturePoint{Event: APIStart, Name: "f"}
	abb := NewABB(0x100, []uint32{0x110}, level, "f", 1)
	worst := NewJob("taskA", []JobChunk{{
		ABB:   abb,
		Ticks: 5,
		Reads: []MemRead{{Addr: 0x2002, Byte: 0xAB}, {Addr: 0x2005, Byte: 0xCD}},
	}}, 0, 5)
	task := NewTaskFromJob(worst)

	dst := make([]byte, 8)
	for i := range dst {
		dst[i] = 0xFF
	}
	task.MapBytesOnto(dst, 0x2000, worst)

	want := []byte{0xFF, 0xFF, 0xAB, 0xFF, 0xFF, 0xCD, 0xFF, 0xFF}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %#x, want %#x (only offsets actually read should change)", i, dst[i], want[i])
		}
	}
}

func TestInputInterruptTimesSortedAndSpaced(t *testing.T) {
	in := NewInput()
	raw := make([]byte, MaxInterrupts*4)
	writeU32LE(raw, 0, 1000)
	writeU32LE(raw, 1, 50) // below FirstInterruptFloor, zeroed
	writeU32LE(raw, 2, 1005)
	in.Parts[PartISRTimes] = raw

	times := in.InterruptTimes(20)
	for i := 1; i < len(times); i++ {
		if times[i] == 0 {
			continue
		}
		if prev := times[i-1]; prev != 0 && times[i]-prev < 20 {
			t.Errorf("times[%d]-times[%d] = %d, want >= 20 (min inter-arrival time)", i, i-1, times[i]-prev)
		}
	}
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			t.Errorf("InterruptTimes() not sorted: %v", times)
		}
	}
}

func TestInputInterruptTimesRoundTrip(t *testing.T) {
	in := NewInput()
	in.SetInterruptTimes([]clock.Tick{200, 400, 600})
	got := in.InterruptTimes(20)
	want := []clock.Tick{0, 0, 0, 0, 0, 200, 400, 600}
	if len(got) != len(want) {
		t.Fatalf("len(InterruptTimes()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d (%v)", i, got[i], want[i], got)
		}
	}
}

func writeU32LE(b []byte, slot int, v uint32) {
	off := slot * 4
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
