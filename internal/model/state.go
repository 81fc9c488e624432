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
	"hash/fnv"
	"sort"
)

// TaskState is the refined, order-independent description of one task as it
// appears in a State: name, current and base priority, and mutex-held count.
// Notification state/value are deliberately absent here (§3 "Refined kernel
// state"): they are high-entropy and would otherwise make nearly every State
// distinct.
type TaskState struct {
	Name         string
	Priority     int
	BasePriority int
	Mutexes      int
}

func newTaskState(t TCBSnapshot) TaskState {
	return TaskState{Name: t.Name, Priority: t.Priority, BasePriority: t.BasePriority, Mutexes: t.MutexesHeld}
}

func (t TaskState) String() string {
	return fmt.Sprintf("%s@%d/%d#%d", t.Name, t.Priority, t.BasePriority, t.Mutexes)
}

// State is the refined kernel state the trace refiner (C2) derives from a
// RawRecord: a state-transition graph node is keyed on (State, ABB). Two
// RawRecords that differ only in notification state/value, instruction
// count, or from/to PC produce equal States.
type State struct {
	CurrentTask TaskState
	// ReadyByPriority holds one slice per ready-list priority level, highest
	// priority first, mirroring RawRecord.ReadyLists in captured list-walk
	// order: FreeRTOS's round-robin rotation at a priority level is real
	// scheduler state, not incidental ordering, so it is never re-sorted.
	ReadyByPriority    [][]TaskState
	Delayed            []TaskState
	SchedulerSuspended bool
	CriticalNesting    int
}

// NewState refines a RawRecord's TCB snapshots into a State. It returns an
// error (rather than a zero State) when r.ReadInvalid is set, since an
// invalid-read record carries no trustworthy list contents to refine.
func NewState(r *RawRecord) (State, error) {
	if r.ReadInvalid {
		return State{}, fmt.Errorf("model: cannot refine state from a record captured mid-mutation (ReadInvalid)")
	}
	ready := make([][]TaskState, len(r.ReadyLists))
	for i, list := range r.ReadyLists {
		ready[i] = taskStates(list)
	}
	return State{
		CurrentTask:        newTaskState(r.CurrentTask),
		ReadyByPriority:    ready,
		Delayed:            sortedTaskStates(r.DelayedList),
		SchedulerSuspended: r.SchedulerSuspended,
		CriticalNesting:    r.CriticalNesting,
	}, nil
}

// taskStates converts list-walk order TCB snapshots to TaskStates without
// reordering them: the ready lists preserve FreeRTOS's real round-robin
// rotation at each priority level, which is itself state that distinguishes
// otherwise-identical kernel states, so it must survive into the State.
func taskStates(list []TCBSnapshot) []TaskState {
	out := make([]TaskState, len(list))
	for i, t := range list {
		out[i] = newTaskState(t)
	}
	return out
}

// sortedTaskStates normalizes a list whose walk order carries no meaning of
// its own (the delay list is ordered by wake time, not by anything the
// scheduler's round-robin rotation would care about) into name order, so
// that two delay lists containing the same tasks hash equal regardless of
// their wake-time ordering.
func sortedTaskStates(list []TCBSnapshot) []TaskState {
	out := taskStates(list)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Hash returns a structural hash of the state, suitable for use as an STG
// node-dedup key (§4.4 step 2). It deliberately excludes nothing further
// beyond what NewState already dropped: notification fields never entered
// State in the first place.
func (s State) Hash() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s", s.CurrentTask)
	for _, lvl := range s.ReadyByPriority {
		fmt.Fprintf(h, "|")
		for _, t := range lvl {
			fmt.Fprintf(h, "%s,", t)
		}
	}
	fmt.Fprintf(h, "#")
	for _, t := range s.Delayed {
		fmt.Fprintf(h, "%s,", t)
	}
	fmt.Fprintf(h, "/%v/%d", s.SchedulerSuspended, s.CriticalNesting)
	return h.Sum64()
}
