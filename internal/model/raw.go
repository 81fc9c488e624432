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

// TCBSnapshot is a raw-capture-time snapshot of a single task control block,
// as the capture layer walked it off a ready/delayed list.
type TCBSnapshot struct {
	// Name holds the task's name, already NUL-trimmed.
	Name string
	// Priority is the task's current (possibly inheritance-boosted)
	// priority; BasePriority is its un-boosted priority. The two differ
	// while the task holds a mutex another, higher-priority task is
	// blocked on.
	Priority     int
	BasePriority int
	// MutexesHeld is the number of mutexes currently held by this task.
	MutexesHeld int
	// NotificationState and NotificationValue are hash-excluded by default
	// (see State.Hash), but are retained here for report/debug output.
	NotificationState int
	NotificationValue uint32
}

// RawRecord is produced by the capture layer (C1) at every classified kernel
// boundary transition. It is the input to the trace refiner (C2).
type RawRecord struct {
	// InstrCount is the emulator's instruction counter at the moment of capture.
	InstrCount uint64
	// CurrentTask is the TCB that was running at capture time, or the zero
	// value if the current-TCB pointer was NULL (in which case the capture
	// layer drops the record entirely rather than emitting it with a zero TCB).
	CurrentTask TCBSnapshot
	// ReadyLists holds one TCB slice per priority level, highest priority
	// first; it is nil when the walks were skipped, and may be partly
	// filled when a walk aborted (ReadInvalid is set in both cases).
	ReadyLists [][]TCBSnapshot
	// DelayedList and OverflowedDelayedList are the two delayed-task lists
	// FreeRTOS maintains (one for the tick counter's current epoch, one for
	// the epoch after a tick-counter overflow).
	DelayedList           []TCBSnapshot
	OverflowedDelayedList []TCBSnapshot
	// SchedulerSuspended and CriticalNesting mirror the kernel's own
	// scheduler-lock and critical-section-nesting counters at capture time.
	SchedulerSuspended bool
	CriticalNesting    int
	// ReadInvalid is set when the capture happened while a list was being
	// mutated (a critical section mid-ISR): the list walks above were
	// skipped or aborted, and must not be trusted.
	ReadInvalid bool
	// FromPC and ToPC are the source and destination of the transition edge
	// that triggered this capture.
	FromPC, ToPC uint32
	// Event and Name classify the transition (§4.1).
	Event CaptureEvent
	Name  string
	// Reads holds every fuzz-input byte read since the previous capture.
	Reads []MemRead
}

// Valid reports whether the record has a usable current-task snapshot. A
// zero current-TCB pointer causes the capture layer to skip the record
// entirely (§4.1), so any RawRecord reaching the refiner should be Valid;
// this is retained as a defensive check for hand-built test fixtures.
func (r *RawRecord) Valid() bool {
	return r.CurrentTask.Name != ""
}

// JobDone is one invocation of the target's job-done marker (§4.3): the
// currently-running task's name and the tick it fired at. The job extractor
// pairs these against task releases to produce Jobs.
type JobDone struct {
	Tick     uint64
	TaskName string
}
