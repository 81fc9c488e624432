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
package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/wcetfuzz/internal/corpus"
	"github.com/google/wcetfuzz/internal/model"
)

func newEntry(us int64, edgeTrace []int) *corpus.Entry {
	e := corpus.New(model.NewInput())
	e.ExecTime = time.Duration(us) * time.Microsecond
	e.Meta.EdgeTrace = edgeTrace
	return e
}

func TestSkipNonFavoredProbDefaults(t *testing.T) {
	if got := New(EdgeIndex, rand.New(rand.NewSource(1))).SkipNonFavoredProb; got != 0.8 {
		t.Errorf("EdgeIndex default = %v, want 0.8", got)
	}
	if got := New(PathHash, rand.New(rand.NewSource(1))).SkipNonFavoredProb; got != 0.95 {
		t.Errorf("PathHash default = %v, want 0.95", got)
	}
}

func TestUpdateFavoredKeepsHighestExecTimePerEdge(t *testing.T) {
	s := New(EdgeIndex, rand.New(rand.NewSource(1)))
	low := newEntry(100, []int{1, 2})
	high := newEntry(900, []int{2, 3})
	s.Add(low)
	s.Add(high)
	if !s.IsFavored(low) {
		t.Error("low should be favored for edge 1, which only it touches")
	}
	if !s.IsFavored(high) {
		t.Error("high should be favored for edges 2 and 3")
	}

	// A third entry touching edge 2 with a lower exec time than high must
	// not displace high.
	challenger := newEntry(50, []int{2})
	s.Add(challenger)
	if s.favored[2] != high {
		t.Errorf("favored[2] = %v, want high (higher exec time)", s.favored[2])
	}
}

func TestPickReturnsFromCorpus(t *testing.T) {
	s := New(PathHash, rand.New(rand.NewSource(1)))
	e1 := newEntry(10, []int{1})
	e2 := newEntry(20, []int{2})
	s.Add(e1)
	s.Add(e2)
	for i := 0; i < 20; i++ {
		picked := s.Pick()
		if picked != e1 && picked != e2 {
			t.Fatalf("Pick() = %v, want e1 or e2", picked)
		}
	}
}

func TestPruneKeepsGlobalWorst(t *testing.T) {
	s := New(PathHash, rand.New(rand.NewSource(1)))
	for i := 0; i < 1999; i++ {
		s.Add(newEntry(int64(500+i%400), []int{i % 50}))
	}
	worst := newEntry(10000, []int{999999})
	s.Add(worst)

	s.Prune()

	found := false
	for _, e := range s.Entries() {
		if e == worst {
			found = true
		}
	}
	if !found {
		t.Fatal("Prune() removed the global-worst-exec-time testcase")
	}
}

func TestPruneNoopBelowHighWater(t *testing.T) {
	s := New(PathHash, rand.New(rand.NewSource(1)))
	for i := 0; i < 50; i++ {
		s.Add(newEntry(int64(i), []int{i}))
	}
	before := len(s.Entries())
	s.Prune()
	if len(s.Entries()) != before {
		t.Errorf("Prune() changed corpus size below high-water mark: %d -> %d", before, len(s.Entries()))
	}
}

func TestPrunePreservesCurrent(t *testing.T) {
	s := New(PathHash, rand.New(rand.NewSource(1)))
	for i := 0; i < 2000; i++ {
		s.Add(newEntry(int64(1+i%5), []int{i % 50}))
	}
	current := s.Pick()
	s.current = current
	s.Prune()
	found := false
	for _, e := range s.Entries() {
		if e == current {
			found = true
		}
	}
	if !found {
		t.Fatal("Prune() removed the currently scheduled testcase")
	}
}
