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
// Package corpus holds one fuzzing campaign's testcases: the multipart
// input, its measured execution time, and the STG node/edge trace metadata
// attached to it by the run-loop orchestrator (C8) after each iteration for
// the mutators (C5/C6) and scheduler (C7) to read.
package corpus

import (
	"time"

	"github.com/google/uuid"

	"github.com/google/wcetfuzz/internal/model"
)

// Metadata is the STG-derived summary of one testcase's most recent run:
// the sequence of STG node/edge indices its trace visited (in execution
// order) plus the underlying intervals and extracted jobs, which the
// interrupt-shift mutator (C5) and snippet mutator (C6) read to decide
// where to mutate next (§4.5, §4.6).
//
// Metadata is refcounted (§12.4, FRET's STGNodeMetadata tcref/HasRefCnt):
// the scheduler's favored-set minimizer (C7) and the corpus entry that
// produced it can share one Metadata value without either copying it or
// needing to coordinate its lifetime explicitly.
type Metadata struct {
	NodeTrace []int
	EdgeTrace []int
	Intervals []model.ExecInterval
	Jobs      []model.Job

	refCount int32
}

// Retain increments the reference count and returns m, for chaining at the
// point a new owner (e.g. the minimizer's top-rated map) starts holding it.
func (m *Metadata) Retain() *Metadata {
	m.refCount++
	return m
}

// Release decrements the reference count.
func (m *Metadata) Release() {
	if m.refCount > 0 {
		m.refCount--
	}
}

// HasRefCnt reports whether any owner besides the corpus entry itself still
// holds this Metadata (FRET's HasRefCnt), which the scheduler uses to avoid
// pruning testcases the minimizer still needs.
func (m *Metadata) HasRefCnt() bool {
	return m.refCount > 0
}

// Entry is one testcase in the corpus: its multipart input, the measured
// exec time and outcome of its most recent run, and the STG metadata that
// run produced.
type Entry struct {
	ID uuid.UUID

	Input *model.Input

	// ExecTime is the wall-clock duration of the testcase's most recent
	// emulator run (§4.7 "Probability weight", §4.8 step 4).
	ExecTime time.Duration

	// Ticks is the worst single-interval tick count observed in the run
	// that produced this entry, used for report/dump purposes distinct
	// from the probability-mass sampler's wall-clock weighting.
	Ticks uint64

	Meta *Metadata

	// Generation counts how many mutation rounds produced this entry from
	// the initial seed, used only for diagnostics/dump ordering.
	Generation int
}

// New constructs a fresh corpus Entry with a newly generated stable ID
// (§12.4, used for dumped `.case` artifacts and crash-directory filenames).
func New(input *model.Input) *Entry {
	return &Entry{ID: uuid.New(), Input: input, Meta: &Metadata{}}
}

// Weight returns the testcase's probability-mass sampling weight (§4.7
// "Probability weight"): proportional to the square of its exec time in
// microseconds.
func (e *Entry) Weight() float64 {
	us := float64(e.ExecTime.Microseconds())
	return us * us
}
