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
	"fmt"

	"github.com/google/wcetfuzz/internal/clock"
)

// ExecInterval is one ABB execution: the refined state the task was in on
// entry, the ABB itself, the tick range it ran for, and the memory reads
// observed during it. It mirrors FRET's ExecInterval (systemstate/mod.rs).
type ExecInterval struct {
	TaskName string
	State    State
	ABB      ABB
	Start    clock.Tick
	End      clock.Tick
	Reads    []MemRead
}

// IsValid reports whether the interval carries real tick bounds. FRET
// invalidates an interval by zeroing both Start and End; a legitimate
// zero-length interval at tick 0 cannot otherwise occur since the first
// capture always follows at least one instruction of startup code.
func (e ExecInterval) IsValid() bool {
	return e.Start != 0 || e.End != 0
}

// Invalidate marks the interval as discarded by zeroing its tick bounds, so
// IsValid reports false and STG.Observe skips it.
func (e *ExecInterval) Invalidate() {
	e.Start, e.End = 0, 0
}

// ExecTime returns the interval's duration in ticks. It returns 0 for an end
// tick at or before the start tick (a malformed or invalidated interval).
func (e ExecInterval) ExecTime() clock.Tick {
	if e.End <= e.Start {
		return 0
	}
	return e.End - e.Start
}

// GetTaskName returns TaskName, falling back to the ABB's instance name when
// the task name was not recorded (interrupt-context intervals sometimes
// carry no task, only the interrupted ISR's instance name).
func (e ExecInterval) GetTaskName() string {
	if e.TaskName != "" {
		return e.TaskName
	}
	return e.ABB.InstanceName
}

func (e ExecInterval) String() string {
	return fmt.Sprintf("Interval{task=%s abb=%s [%d,%d)}", e.GetTaskName(), e.ABB, e.Start, e.End)
}
