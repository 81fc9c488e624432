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
package mutate

import (
	"sort"

	"github.com/Workiva/go-datastructures/augmentedtree"

	"github.com/google/wcetfuzz/internal/clock"
	"github.com/google/wcetfuzz/internal/model"
)

// intervalSpan adapts a model.ExecInterval's tick range to
// augmentedtree.Interval, following the google-schedviz threadSpan pattern
// (analysis/sched_thread_span.go) of a small id-carrying wrapper type.
type intervalSpan struct {
	idx        int
	start, end int64
}

func (s *intervalSpan) LowAtDimension(d uint64) int64  { return s.start }
func (s *intervalSpan) HighAtDimension(d uint64) int64 { return s.end }

func (s *intervalSpan) OverlapsAtDimension(o augmentedtree.Interval, d uint64) bool {
	return s.HighAtDimension(d) >= o.LowAtDimension(d) && o.HighAtDimension(d) >= s.LowAtDimension(d)
}

func (s *intervalSpan) ID() uint64 { return uint64(s.idx) }

// intervalIndex answers the "which interval contains tick T" / "which
// intervals overlap [lb,ub)" queries the interrupt-shift mutator needs for
// its "target new branches" and "alternative search" passes (§4.5 steps
// 5-6) in better than linear time over one trace's intervals.
type intervalIndex struct {
	tree      augmentedtree.Tree
	intervals []model.ExecInterval
}

func newIntervalIndex(intervals []model.ExecInterval) *intervalIndex {
	t := augmentedtree.New(1)
	for i, iv := range intervals {
		end := int64(iv.End)
		if end <= int64(iv.Start) {
			end = int64(iv.Start) + 1
		}
		t.Add(&intervalSpan{idx: i, start: int64(iv.Start), end: end})
	}
	return &intervalIndex{tree: t, intervals: intervals}
}

// at returns the earliest-starting interval containing tick, if any.
func (x *intervalIndex) at(tick clock.Tick) (model.ExecInterval, int, bool) {
	hits := x.tree.Query(&intervalSpan{start: int64(tick), end: int64(tick) + 1})
	best := -1
	for _, h := range hits {
		idx := int(h.ID())
		if best < 0 || x.intervals[idx].Start < x.intervals[best].Start {
			best = idx
		}
	}
	if best < 0 {
		return model.ExecInterval{}, -1, false
	}
	return x.intervals[best], best, true
}

// overlapping returns the indices of every interval overlapping [lb, ub),
// ordered by start tick.
func (x *intervalIndex) overlapping(lb, ub clock.Tick) []int {
	if ub <= lb {
		return nil
	}
	hits := x.tree.Query(&intervalSpan{start: int64(lb), end: int64(ub)})
	idxs := make([]int, 0, len(hits))
	for _, h := range hits {
		idxs = append(idxs, int(h.ID()))
	}
	sort.Slice(idxs, func(i, j int) bool { return x.intervals[idxs[i]].Start < x.intervals[idxs[j]].Start })
	return idxs
}
