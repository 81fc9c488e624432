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

import "github.com/google/wcetfuzz/internal/clock"

// Task is the worst-observed-so-far summary for one RTOS task: the single
// worst Job seen for each distinct ABB sequence (job "shape"), plus the
// task's global worst exec/response times across all shapes. It mirrors
// FRET's RTOSTask (systemstate/mod.rs) and feeds both the report writer and
// the snippet mutator's byte overlay.
type Task struct {
	Name string
	// WorstJobs maps a Job's structural hash (its ABB sequence, see
	// Job.Hash) to the worst job observed with that shape.
	WorstJobs         map[uint64]Job
	WorstExecTime     clock.Tick
	WorstResponseTime clock.Tick
}

// NewTaskFromJob builds a Task whose only observation so far is j.
func NewTaskFromJob(j Job) *Task {
	t := &Task{Name: j.TaskName, WorstJobs: make(map[uint64]Job)}
	t.TryUpdate(j)
	return t
}

// TryUpdate folds in a newly observed job, keeping it (by shape hash) only if
// it is worse than anything previously seen with that shape. It reports
// whether the observation changed any stored state, which the caller (the
// job extractor / feedback loop) uses to decide whether this job is
// "interesting" on the exec-time/response-time axes (§4.3, §8).
func (t *Task) TryUpdate(j Job) bool {
	if t.WorstJobs == nil {
		t.WorstJobs = make(map[uint64]Job)
	}
	updated := false
	h := j.Hash()
	if prev, ok := t.WorstJobs[h]; !ok || j.ExecTime() > prev.ExecTime() {
		t.WorstJobs[h] = j
		updated = true
	}
	if et := j.ExecTime(); et > t.WorstExecTime {
		t.WorstExecTime = et
		updated = true
	}
	if rt := j.ResponseTime(); rt > t.WorstResponseTime {
		t.WorstResponseTime = rt
		updated = true
	}
	return updated
}

// MapBytesOnto overlays this task's worst-observed input bytes onto dst, but
// only at offsets the matching job shape actually read (§4.6 "Snippet
// mutator"): for each byte read recorded against the job with hash
// matching target's shape, if the read address falls within
// [inputAddr, inputAddr+len(dst)), dst is patched with the same byte value
// this task's worst run read there. Bytes the job never touched are left
// untouched in dst, which is the whole point of a "snippet" overlay as
// opposed to replacing the input wholesale.
func (t *Task) MapBytesOnto(dst []byte, inputAddr uint32, target Job) {
	worst, ok := t.WorstJobs[target.Hash()]
	if !ok {
		return
	}
	for _, c := range worst.Chunks {
		for _, r := range c.Reads {
			if r.Addr < inputAddr {
				continue
			}
			off := int(r.Addr - inputAddr)
			if off < len(dst) {
				dst[off] = r.Byte
			}
		}
	}
}
