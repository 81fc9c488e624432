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
	"math/rand"

	"github.com/google/wcetfuzz/internal/clock"
	"github.com/google/wcetfuzz/internal/model"
	"github.com/google/wcetfuzz/internal/stg"
)

// InterruptSource is one configured interrupt source (§6.3's interrupt-
// config column): the part index it is encoded under and the minimum
// inter-arrival time its ticks must respect.
type InterruptSource struct {
	Index  int
	MinIAT clock.Tick
}

// InterruptShift implements the interrupt-shift mutator (C5): driven by the
// STG, it reshuffles an input's interrupt arrival-time vector to provoke new
// preemption patterns (§4.5).
//
// The three candidate actions in §4.5 steps 4-6 ("fully randomize", "target
// new branches", "alternative search") are mutually exclusive and chosen by
// two chained uniform draws: the first selects "fully randomize" with
// probability 0.25, and the second selects "target new branches" with
// probability 1/3 of the remaining 0.75, giving an overall split of
// 0.25/0.25/0.5 (resolving an Open Question, recorded in DESIGN.md).
type InterruptShift struct {
	Rand            *rand.Rand
	Sources         []InterruptSource
	STG             *stg.STG
	TickHandlerName string

	avg movingAverage
}

// LoopBound returns the current per-invocation iteration count (§4.5 step 1).
func (m *InterruptShift) LoopBound() int {
	return m.avg.loopBound()
}

// Record folds one mutation round's outcome into the moving average (§4.5
// step 8, §12.2): interesting counts reruns that produced a new STG
// observation, rerun is the total number of reruns attempted this round.
func (m *InterruptShift) Record(interesting, rerun int) {
	ratio := 0.0
	if rerun > 0 {
		ratio = float64(interesting) / float64(rerun)
	}
	m.avg.record(ratio)
}

// Mutate produces up to LoopBound() candidate inputs derived from input by
// reshuffling one randomly chosen configured interrupt source's arrival-time
// vector (§4.5). intervals are the current testcase's most recently observed
// execution intervals, used to drive the "target new branches" and
// "alternative search" passes.
func (m *InterruptShift) Mutate(input *model.Input, intervals []model.ExecInterval) []*model.Input {
	if len(m.Sources) == 0 {
		return nil
	}
	n := m.LoopBound()
	out := make([]*model.Input, 0, n)
	idx := newIntervalIndex(intervals)
	worstTick := m.STG.WorstOverallTicks

	for i := 0; i < n; i++ {
		src := m.Sources[m.Rand.Intn(len(m.Sources))]
		next := input.Clone()
		times := next.InterruptTimesFor(src.Index, src.MinIAT)

		var firstTick clock.Tick
		for _, t := range times {
			if t > 0 {
				firstTick = t
				break
			}
		}

		switch {
		case m.Rand.Float64() < 0.25 || (firstTick > 0 && firstTick > worstTick):
			m.fullyRandomize(times, src, worstTick)
		case m.Rand.Float64() < (0.25 / 0.75):
			m.targetNewBranches(times, src, idx)
		default:
			m.alternativeSearch(times, src, idx)
		}

		next.SetInterruptTimesFor(src.Index, times)
		// Re-decode through the codec so the emitted part is guaranteed
		// sorted and min-iat-filtered regardless of what the branch above
		// computed (§4.5's invariant, §8 round-trip property).
		next.SetInterruptTimesFor(src.Index, next.InterruptTimesFor(src.Index, src.MinIAT))
		out = append(out, next)
	}
	return out
}

// fullyRandomize implements §4.5 step 4: up to
// min(MaxInterrupts, 3*worstTick/(2*minIAT)) fresh ticks uniform in
// [0, worstTick].
func (m *InterruptShift) fullyRandomize(times []clock.Tick, src InterruptSource, worstTick clock.Tick) {
	maxN := model.MaxInterrupts
	if src.MinIAT > 0 {
		bound := int((3 * uint64(worstTick)) / (2 * uint64(src.MinIAT)))
		if bound < maxN {
			maxN = bound
		}
	}
	if maxN < 0 {
		maxN = 0
	}
	for i := range times {
		times[i] = 0
	}
	for i := 0; i < maxN && i < len(times); i++ {
		if worstTick == 0 {
			times[i] = 0
			continue
		}
		times[i] = clock.Tick(m.Rand.Int63n(int64(worstTick) + 1))
	}
}

// targetNewBranches implements §4.5 step 5 / §12.3: for each existing tick,
// look for the earliest interval in the gap to its neighbors whose STG node
// has no outgoing ISR edge for a source other than the tick handler, and
// reschedule into it at the interval's midpoint.
func (m *InterruptShift) targetNewBranches(times []clock.Tick, src InterruptSource, idx *intervalIndex) {
	for k := range times {
		if times[k] == 0 {
			continue
		}
		lb := clock.Tick(0)
		if k > 0 {
			lb = times[k-1] + src.MinIAT
		}
		ub := m.STG.WorstOverallTicks + 1
		if k+1 < len(times) && times[k+1] != 0 {
			ub = times[k+1]
		}
		if ub <= lb {
			continue
		}
		for _, ii := range idx.overlapping(lb, ub) {
			iv := idx.intervals[ii]
			nodeIdx, ok := m.STG.NodeIndex(iv.State, iv.ABB)
			if !ok || !m.STG.CandidateForNewBranch(nodeIdx, m.TickHandlerName) {
				continue
			}
			mid := iv.Start + (iv.End-iv.Start)/2
			if mid < lb {
				mid = lb
			}
			if mid >= ub {
				mid = ub - 1
			}
			times[k] = mid
			if k+1 < len(times) && times[k+1] != 0 && times[k+1]-times[k] < src.MinIAT {
				times[k+1] = 0
			}
			break
		}
	}
}

// intervalClass tags an interval relative to the current interrupt ticks for
// §4.5 step 6's "alternative search".
type intervalClass int

const (
	classFree intervalClass = iota
	classHit
	classHandler
)

// alternativeSearch implements §4.5 step 6: classify intervals as hit
// (contains a current tick), handler (immediately follows a hit), or free;
// relocate each tick into a reachable free interval, preferring one whose
// STG node is unobserved and otherwise taking the first free interval found.
func (m *InterruptShift) alternativeSearch(times []clock.Tick, src InterruptSource, idx *intervalIndex) {
	classes := make([]intervalClass, len(idx.intervals))
	hitIdx := make(map[int]bool)
	for _, t := range times {
		if t == 0 {
			continue
		}
		if _, i, ok := idx.at(t); ok {
			hitIdx[i] = true
		}
	}
	for i := range idx.intervals {
		switch {
		case hitIdx[i]:
			classes[i] = classHit
		case i > 0 && hitIdx[i-1]:
			classes[i] = classHandler
		default:
			classes[i] = classFree
		}
	}

	window := 4 * src.MinIAT
	if window == 0 {
		window = 1
	}

	for k := range times {
		if times[k] == 0 {
			continue
		}
		lb := clock.Tick(0)
		if times[k] > window {
			lb = times[k] - window
		}
		ub := times[k] + window

		var best = -1
		for _, ii := range idx.overlapping(lb, ub) {
			if classes[ii] != classFree {
				continue
			}
			iv := idx.intervals[ii]
			if _, ok := m.STG.NodeIndex(iv.State, iv.ABB); ok {
				// Already-observed node: acceptable fallback candidate.
				if best < 0 {
					best = ii
				}
				continue
			}
			// Unobserved node: preferred, stop searching further.
			best = ii
			break
		}
		if best < 0 {
			continue
		}
		candidate := idx.intervals[best].Start + 1
		if (k == 0 || candidate > times[k-1]+src.MinIAT) && candidate != times[k] {
			times[k] = candidate
		}
	}
}
