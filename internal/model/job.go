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

	"github.com/google/wcetfuzz/internal/clock"
)

// JobChunk is the portion of a Job's execution spent in one ABB: the ABB
// itself, the ticks spent in it, and the fuzz-input bytes read during it.
// Chunks are kept in execution order.
type JobChunk struct {
	ABB   ABB
	Ticks clock.Tick
	Reads []MemRead
}

// Job is one release-to-response execution of a task, decomposed into its
// constituent ABB chunks (§3 "Job", §4.3). It mirrors FRET's RTOSJob.
//
// Equal and Hash are keyed solely on the ordered ABB sequence (via ABB.Equal/
// ABB.Hash, which already ignore InstanceID): two jobs that visited the same
// ABBs in the same order are the same Job for STG and corpus-scheduling
// purposes, even if their tick counts or memory reads differ. That worst-
// observed tick/byte data is exactly what Task accumulates per distinct Job.
type Job struct {
	TaskName string
	Chunks   []JobChunk
	Release  clock.Tick
	Response clock.Tick

	hash     uint64
	hashSet  bool
}

// NewJob builds a Job from its ABB chunks, release tick, and response tick.
func NewJob(taskName string, chunks []JobChunk, release, response clock.Tick) Job {
	return Job{TaskName: taskName, Chunks: append([]JobChunk(nil), chunks...), Release: release, Response: response}
}

// ResponseTime is the job's end-to-end release-to-response latency in ticks
// (§3 "RTOSTask.wcrt" numerator).
func (j Job) ResponseTime() clock.Tick {
	if j.Response <= j.Release {
		return 0
	}
	return j.Response - j.Release
}

// ExecTime is the sum of the job's chunk tick counts — the task's actual CPU
// occupancy for this job, as distinct from ResponseTime which also counts
// time spent preempted (§3 "RTOSTask.wcet").
func (j Job) ExecTime() clock.Tick {
	var total clock.Tick
	for _, c := range j.Chunks {
		total += c.Ticks
	}
	return total
}

// Equal reports whether two jobs visited the same ABB sequence, ignoring
// tick counts, memory reads, release/response times, and ABB InstanceID.
func (j Job) Equal(o Job) bool {
	if len(j.Chunks) != len(o.Chunks) {
		return false
	}
	for i := range j.Chunks {
		if !j.Chunks[i].ABB.Equal(o.Chunks[i].ABB) {
			return false
		}
	}
	return true
}

// Hash returns a structural hash of the job's ABB sequence only, memoized
// since a Job's chunk sequence never changes after construction (matching
// FRET's get_hash_cached).
func (j *Job) Hash() uint64 {
	if j.hashSet {
		return j.hash
	}
	h := fnv.New64a()
	for _, c := range j.Chunks {
		fmt.Fprintf(h, "%d,", c.ABB.Hash())
	}
	j.hash = h.Sum64()
	j.hashSet = true
	return j.hash
}

func (j Job) String() string {
	return fmt.Sprintf("Job{task=%s chunks=%d release=%d response=%d}", j.TaskName, len(j.Chunks), j.Release, j.Response)
}
