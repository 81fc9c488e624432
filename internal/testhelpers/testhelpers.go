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
// Package testhelpers contains helpers shared by this module's tests:
// structural diffing of traces and STG fragments, adapted from the
// teacher's root-level testhelpers package for this module's proto-free
// data model (§10: go-cmp replaces proto.Equal since there is no proto
// wire type here to compare).
package testhelpers

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/google/wcetfuzz/internal/model"
	"github.com/google/wcetfuzz/internal/stg"
)

// diffOpts are applied to every Diff* helper below: Job carries a memoized,
// unexported hash cache that must never affect equality, and nil/empty
// slices compare equal (refiners and extractors return nil for "no
// intervals", callers often construct []T{} instead).
var diffOpts = []cmp.Option{
	cmpopts.IgnoreUnexported(model.Job{}),
	cmpopts.EquateEmpty(),
}

// DiffIntervals compares two execution-interval slices, ignoring element
// order (the refiner and a hand-built expectation rarely need to agree on
// order to be "the same trace").
func DiffIntervals(t *testing.T, got, want []model.ExecInterval) (diff string, equal bool) {
	t.Helper()
	opts := append(append([]cmp.Option{}, diffOpts...),
		cmpopts.SortSlices(func(a, b model.ExecInterval) bool { return a.Start < b.Start }))
	diff = cmp.Diff(want, got, opts...)
	return diff, diff == ""
}

// DiffJobs compares two job slices, ignoring element order and each Job's
// internal hash cache.
func DiffJobs(t *testing.T, got, want []model.Job) (diff string, equal bool) {
	t.Helper()
	opts := append(append([]cmp.Option{}, diffOpts...),
		cmpopts.SortSlices(func(a, b model.Job) bool { return a.Release < b.Release }))
	diff = cmp.Diff(want, got, opts...)
	return diff, diff == ""
}

// DiffSTGShape compares two STGs' visible shape (nodes, edges, and the
// worst-overall-ticks scalar) while ignoring the STG's internal indexing
// maps, which are a pure function of Nodes/Edges and carry no independent
// information worth diffing.
func DiffSTGShape(t *testing.T, got, want *stg.STG) (diff string, equal bool) {
	t.Helper()
	type shape struct {
		Nodes             []stg.Node
		Edges             []stg.Edge
		WorstOverallTicks interface{}
	}
	g := shape{Nodes: got.Nodes, Edges: got.Edges, WorstOverallTicks: got.WorstOverallTicks}
	w := shape{Nodes: want.Nodes, Edges: want.Edges, WorstOverallTicks: want.WorstOverallTicks}
	opts := append(append([]cmp.Option{}, diffOpts...),
		cmpopts.SortSlices(func(a, b stg.Node) bool { return a.String() < b.String() }))
	diff = cmp.Diff(w, g, opts...)
	return diff, diff == ""
}
