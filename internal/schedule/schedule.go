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
// Package schedule implements the testcase scheduler (C7): a probability-
// mass sampler weighted by exec time, wrapped in a per-variant favored-set
// minimizer, plus periodic corpus pruning (§4.7).
package schedule

import (
	"math/rand"

	"github.com/google/wcetfuzz/internal/corpus"
	"github.com/google/wcetfuzz/internal/model"
	"github.com/google/wcetfuzz/internal/stg"
)

// Variant selects which index space the minimizer's favored set is keyed by
// (§4.7 "Minimizer (favored set)").
type Variant int

const (
	// EdgeIndex keys the favored set by STG edge id.
	EdgeIndex Variant = iota
	// PathHash keys the favored set by the hash of the edge sequence.
	PathHash
	// ABBPathHash keys the favored set by the hash of the execution-order
	// ABB sequence.
	ABBPathHash
	// AggregateHash keys the favored set by the order-independent
	// (ABB-hash, highest-occurrence-count) aggregate key.
	AggregateHash
)

// defaultSkipNonFavoredProb implements §4.7's "default 0.95; set to 0.8 for
// the STG scheduler" rule.
func (v Variant) defaultSkipNonFavoredProb() float64 {
	if v == EdgeIndex {
		return 0.8
	}
	return 0.95
}

// Scheduler is a base probability-mass sampler over the live corpus, wrapped
// in a favored-set minimizer and periodic pruning (§4.7).
type Scheduler struct {
	Rand    *rand.Rand
	Variant Variant

	// SkipNonFavoredProb overrides the variant's default when non-zero.
	SkipNonFavoredProb float64

	entries []*corpus.Entry
	favored map[uint64]*corpus.Entry

	current *corpus.Entry
}

// New returns a Scheduler for the given variant with its documented default
// skip probability.
func New(variant Variant, r *rand.Rand) *Scheduler {
	return &Scheduler{
		Rand:               r,
		Variant:            variant,
		SkipNonFavoredProb: variant.defaultSkipNonFavoredProb(),
		favored:            make(map[uint64]*corpus.Entry),
	}
}

// Add registers a new corpus entry with the scheduler (§4.8 step 5
// "scheduler records new entries").
func (s *Scheduler) Add(e *corpus.Entry) {
	s.entries = append(s.entries, e)
	s.updateFavored(e)
}

// Entries returns the scheduler's live corpus, in insertion order.
func (s *Scheduler) Entries() []*corpus.Entry {
	return s.entries
}

// indexKeys returns the set of favored-set index keys e's trace touches,
// under the scheduler's configured Variant (§4.7).
func (s *Scheduler) indexKeys(e *corpus.Entry) []uint64 {
	if e.Meta == nil {
		return nil
	}
	switch s.Variant {
	case EdgeIndex:
		keys := make([]uint64, len(e.Meta.EdgeTrace))
		for i, edgeIdx := range e.Meta.EdgeTrace {
			keys[i] = uint64(edgeIdx)
		}
		return keys
	case PathHash:
		return []uint64{stg.HashEdgeSeq(e.Meta.EdgeTrace)}
	case ABBPathHash:
		return []uint64{stg.HashABBSeq(abbSeqOf(e))}
	case AggregateHash:
		agg, _ := stg.AggregateKey(abbSeqOf(e))
		return []uint64{agg}
	default:
		return nil
	}
}

func abbSeqOf(e *corpus.Entry) []model.ABB {
	seq := make([]model.ABB, len(e.Meta.Intervals))
	for i, iv := range e.Meta.Intervals {
		seq[i] = iv.ABB
	}
	return seq
}

// updateFavored implements the minimizer: for each index key e's trace
// touches, keep e as the favored testcase for that key iff it has the
// highest exec time seen so far for that key (§4.7 "keep the testcase with
// the lowest -exec_time_nanoseconds").
func (s *Scheduler) updateFavored(e *corpus.Entry) {
	for _, k := range s.indexKeys(e) {
		cur, ok := s.favored[k]
		if !ok || e.ExecTime > cur.ExecTime {
			if ok {
				cur.Meta.Release()
			}
			s.favored[k] = e
			e.Meta.Retain()
		}
	}
}

// UpdateFavored re-evaluates e's favored-set membership after its metadata
// has changed (e.g. a fresh measurement on a re-picked entry), without
// re-inserting e into the corpus (it is assumed already present, unlike
// Add).
func (s *Scheduler) UpdateFavored(e *corpus.Entry) {
	s.updateFavored(e)
}

// IsFavored reports whether e is currently the favored testcase for at
// least one index key.
func (s *Scheduler) IsFavored(e *corpus.Entry) bool {
	for _, f := range s.favored {
		if f == e {
			return true
		}
	}
	return false
}

// FavoredCount returns the number of distinct testcases currently favored
// for at least one index key (used by Prune's size thresholds).
func (s *Scheduler) FavoredCount() int {
	seen := make(map[*corpus.Entry]bool)
	for _, e := range s.favored {
		seen[e] = true
	}
	return len(seen)
}

// Pick selects the next testcase to run (§4.8 step 1): favored testcases are
// always eligible; non-favored testcases are skipped with probability
// SkipNonFavoredProb, re-drawing among favored-only candidates when skipped.
// Selection within the eligible set is weighted by Entry.Weight (§4.7
// "Probability weight").
func (s *Scheduler) Pick() *corpus.Entry {
	if len(s.entries) == 0 {
		return nil
	}
	favorSkip := s.Rand.Float64() < s.SkipNonFavoredProb
	pool := s.entries
	if favorSkip && s.FavoredCount() > 0 {
		pool = nil
		for _, e := range s.entries {
			if s.IsFavored(e) {
				pool = append(pool, e)
			}
		}
	}
	e := weightedPick(s.Rand, pool)
	s.current = e
	return e
}

func weightedPick(r *rand.Rand, entries []*corpus.Entry) *corpus.Entry {
	if len(entries) == 0 {
		return nil
	}
	var total float64
	for _, e := range entries {
		w := e.Weight()
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return entries[r.Intn(len(entries))]
	}
	draw := r.Float64() * total
	for _, e := range entries {
		w := e.Weight()
		if w <= 0 {
			w = 1
		}
		if draw < w {
			return e
		}
		draw -= w
	}
	return entries[len(entries)-1]
}

// Prune implements §4.7's periodic pruning: when the corpus exceeds
// max(10*favored_count, 1000), remove the worst-exec-time non-favored,
// non-current testcases down to max(10*favored_count, 100), always
// preserving the testcase matching the global worst observed exec time.
func (s *Scheduler) Prune() {
	favoredCount := s.FavoredCount()
	highWater := 10 * favoredCount
	if highWater < 1000 {
		highWater = 1000
	}
	if len(s.entries) <= highWater {
		return
	}
	lowWater := 10 * favoredCount
	if lowWater < 100 {
		lowWater = 100
	}

	var globalWorst *corpus.Entry
	for _, e := range s.entries {
		if globalWorst == nil || e.ExecTime > globalWorst.ExecTime {
			globalWorst = e
		}
	}

	removable := make([]*corpus.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e == s.current || e == globalWorst || s.IsFavored(e) {
			continue
		}
		removable = append(removable, e)
	}
	sortByExecTimeAsc(removable)

	toRemove := len(s.entries) - lowWater
	if toRemove > len(removable) {
		toRemove = len(removable)
	}
	if toRemove <= 0 {
		return
	}
	drop := make(map[*corpus.Entry]bool, toRemove)
	for _, e := range removable[:toRemove] {
		drop[e] = true
	}

	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if drop[e] {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
}

func sortByExecTimeAsc(es []*corpus.Entry) {
	for i := 1; i < len(es); i++ {
		for j := i; j > 0 && es[j].ExecTime < es[j-1].ExecTime; j-- {
			es[j], es[j-1] = es[j-1], es[j]
		}
	}
}
