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
// Package stg implements the state-transition graph feedback engine (C4):
// an aggregated, de-duplicated labelled directed graph of (kernel-state,
// ABB) nodes with worst-observed ABB weights on edges, plus the auxiliary
// worst-tick maps the scheduler (C7) and mutators (C5/C6) read (§4.4).
package stg

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/google/wcetfuzz/internal/clock"
	"github.com/google/wcetfuzz/internal/model"
)

// NodeKind distinguishes the two persistent sentinel nodes every graph
// carries from birth from ordinary (state, ABB) nodes (§4.4 invariants:
// "Entry and exit nodes always exist").
type NodeKind int8

const (
	Normal NodeKind = iota
	Entry
	Exit
)

// Node is one (kernel-state, ABB) pair, or one of the two sentinels.
type Node struct {
	Kind  NodeKind
	State model.State
	ABB   model.ABB
}

func (n Node) String() string {
	switch n.Kind {
	case Entry:
		return "<entry>"
	case Exit:
		return "<exit>"
	default:
		return fmt.Sprintf("%s@%#x", n.ABB.InstanceName, n.ABB.Start)
	}
}

type nodeKey [2]uint64

func (n Node) key() nodeKey {
	switch n.Kind {
	case Entry:
		return nodeKey{0, 1}
	case Exit:
		return nodeKey{0, 2}
	default:
		return nodeKey{n.State.Hash(), n.ABB.Hash()}
	}
}

// Edge is a directed transition between two STG nodes, labelled with the
// capture event/name that caused it and the worst-observed (ticks, bytes
// read) seen crossing it (§3 "STG node", §4.4 step 1).
type Edge struct {
	From, To   int
	Event      model.CaptureEvent
	Name       string
	WorstTicks clock.Tick
	WorstReads []model.MemRead
}

type edgeKey [2]int

// Trace is one iteration's refined output, handed to STG.Observe: the
// execution intervals from the refiner (C2) and the jobs extracted from
// them (C3).
type Trace struct {
	Intervals []model.ExecInterval
	Jobs      []model.Job
}

// STG is the long-lived state-transition graph feedback state (§3 "STG
// feedback state"): created once at fuzzer start, growing monotonically
// except for corpus pruning (which never touches the graph itself, only
// which testcases reference it).
type STG struct {
	Nodes []Node
	Edges []Edge

	nodeIndex map[nodeKey]int
	edgeIndex map[edgeKey]int
	edgeHits  []uint16

	EntryIdx, ExitIdx int

	// WorstOverallTicks is the largest single-interval tick count observed
	// across every trace ever fed to Observe.
	WorstOverallTicks clock.Tick

	worstPerPath      map[uint64]clock.Tick
	worstPerABBPath   map[uint64]clock.Tick
	worstPerAggregate map[uint64]clock.Tick
	worstABBExecCount map[uint64]int

	worstPerTask map[string]*model.Task

	// SelectTask, when non-empty, restricts Observe's walk to the
	// sub-sequence of intervals overlapping that task's current worst job's
	// [release, response] window (§4.4 step 6).
	SelectTask string
}

// New returns an STG with its two persistent sentinel nodes already present.
func New() *STG {
	g := &STG{
		nodeIndex:         make(map[nodeKey]int),
		edgeIndex:         make(map[edgeKey]int),
		worstPerPath:      make(map[uint64]clock.Tick),
		worstPerABBPath:   make(map[uint64]clock.Tick),
		worstPerAggregate: make(map[uint64]clock.Tick),
		worstABBExecCount: make(map[uint64]int),
		worstPerTask:      make(map[string]*model.Task),
	}
	entry, _ := g.internNode(Node{Kind: Entry})
	exit, _ := g.internNode(Node{Kind: Exit})
	g.EntryIdx, g.ExitIdx = entry, exit
	return g
}

// Observe updates the graph and worst-tick maps from one refined trace
// (§4.4's per-trace update algorithm) and reports whether anything about
// the trace was interesting (a new node/edge, an improved edge/path/
// aggregate/task worst, or a strict worst-overall improvement) and whether
// any edge, path, aggregate, task or worst-overall value was recorded or
// raised, including the first recording of a new edge or key. A new node or
// a higher per-ABB occurrence count alone sets only interesting.
func (g *STG) Observe(tr Trace) (interesting, updated bool) {
	intervals := tr.Intervals
	if g.SelectTask != "" {
		intervals = g.restrictToSelectedTask(intervals)
	}

	prev := g.EntryIdx
	edgeSeq := make([]int, 0, len(intervals))
	abbSeq := make([]model.ABB, 0, len(intervals))
	var maxTicks clock.Tick

	for _, iv := range intervals {
		if !iv.IsValid() {
			continue
		}
		nodeIdx, isNew := g.internNode(Node{State: iv.State, ABB: iv.ABB})
		if isNew {
			interesting = true
		}
		cp := model.CapturePoint{Event: iv.ABB.Level.Event, Name: iv.ABB.InstanceName}
		edgeIdx, edgeUpdated := g.internEdge(prev, nodeIdx, cp, iv.ExecTime(), iv.Reads)
		if edgeUpdated {
			interesting = true
			updated = true
		}
		g.bumpEdgeHit(edgeIdx)
		edgeSeq = append(edgeSeq, edgeIdx)
		abbSeq = append(abbSeq, iv.ABB)
		if t := iv.ExecTime(); t > maxTicks {
			maxTicks = t
		}
		prev = nodeIdx
	}

	if len(intervals) > 0 {
		if _, edgeUpdated := g.internEdge(prev, g.ExitIdx, model.CapturePoint{Event: model.End, Name: "<exit>"}, 0, nil); edgeUpdated {
			updated = true
		}
	}

	if maxTicks > g.WorstOverallTicks {
		g.WorstOverallTicks = maxTicks
		interesting = true
		updated = true
	}

	if len(edgeSeq) > 0 {
		if tryUpdateWorst(g.worstPerPath, HashEdgeSeq(edgeSeq), maxTicks) {
			interesting, updated = true, true
		}
		if tryUpdateWorst(g.worstPerABBPath, HashABBSeq(abbSeq), maxTicks) {
			interesting, updated = true, true
		}
		aggHash, counts := AggregateKey(abbSeq)
		if tryUpdateWorst(g.worstPerAggregate, aggHash, maxTicks) {
			interesting, updated = true, true
		}
		for abbHash, count := range counts {
			if count > g.worstABBExecCount[abbHash] {
				g.worstABBExecCount[abbHash] = count
				interesting = true
			}
		}
	}

	for _, j := range tr.Jobs {
		if task, ok := g.worstPerTask[j.TaskName]; ok {
			if task.TryUpdate(j) {
				interesting, updated = true, true
			}
			continue
		}
		g.worstPerTask[j.TaskName] = model.NewTaskFromJob(j)
		interesting, updated = true, true
	}

	return interesting, updated
}

// restrictToSelectedTask implements §4.4 step 6: when a select-task is
// configured, only intervals overlapping that task's current worst job's
// [release, response] window are walked.
func (g *STG) restrictToSelectedTask(intervals []model.ExecInterval) []model.ExecInterval {
	task, ok := g.worstPerTask[g.SelectTask]
	if !ok {
		return intervals
	}
	var worst model.Job
	found := false
	for _, j := range task.WorstJobs {
		if !found || j.ResponseTime() > worst.ResponseTime() {
			worst, found = j, true
		}
	}
	if !found {
		return intervals
	}
	out := make([]model.ExecInterval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End > worst.Release && iv.Start <= worst.Response {
			out = append(out, iv)
		}
	}
	return out
}

func (g *STG) internNode(n Node) (int, bool) {
	k := n.key()
	if idx, ok := g.nodeIndex[k]; ok {
		return idx, false
	}
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	g.nodeIndex[k] = idx
	return idx, true
}

func (g *STG) internEdge(from, to int, cp model.CapturePoint, ticks clock.Tick, reads []model.MemRead) (int, bool) {
	k := edgeKey{from, to}
	if idx, ok := g.edgeIndex[k]; ok {
		e := &g.Edges[idx]
		if ticks > e.WorstTicks {
			e.WorstTicks = ticks
			e.WorstReads = append([]model.MemRead(nil), reads...)
			return idx, true
		}
		return idx, false
	}
	idx := len(g.Edges)
	g.Edges = append(g.Edges, Edge{
		From: from, To: to, Event: cp.Event, Name: cp.Name,
		WorstTicks: ticks, WorstReads: append([]model.MemRead(nil), reads...),
	})
	g.edgeIndex[k] = idx
	g.edgeHits = append(g.edgeHits, 0)
	return idx, true
}

// bumpEdgeHit increments the bounded u16 edge-hit counter the corpus
// observer reads as its coverage signal (§4.4 "Edge-index observer map"),
// saturating rather than wrapping.
func (g *STG) bumpEdgeHit(idx int) {
	if g.edgeHits[idx] < math.MaxUint16 {
		g.edgeHits[idx]++
	}
}

// EdgeHits returns a copy of the per-edge traversal-count observer array.
func (g *STG) EdgeHits() []uint16 {
	return append([]uint16(nil), g.edgeHits...)
}

// WorstPerTask returns the worst-observed summary for the named task, and
// whether one has been observed yet (used by the snippet mutator, C6).
func (g *STG) WorstPerTask(taskName string) (*model.Task, bool) {
	t, ok := g.worstPerTask[taskName]
	return t, ok
}

// CandidateForNewBranch implements §4.5 step 5 sharpened by §12.3: a node is
// a candidate for the "target new branches" interrupt-shift mutation iff
// none of its outgoing edges is an ISRStart tagged with a source other than
// tickHandlerName — the node may already carry the periodic tick interrupt,
// but not any other source.
func (g *STG) CandidateForNewBranch(nodeIdx int, tickHandlerName string) bool {
	for _, e := range g.Edges {
		if e.From == nodeIdx && e.Event == model.ISRStart && e.Name != tickHandlerName {
			return false
		}
	}
	return true
}

// NodeIndex returns the node index for (state, abb) if it has already been
// interned, and whether it was found.
func (g *STG) NodeIndex(state model.State, abb model.ABB) (int, bool) {
	idx, ok := g.nodeIndex[Node{State: state, ABB: abb}.key()]
	return idx, ok
}

// EdgeIndex returns the edge index for the (from, to) node pair if it has
// already been interned, and whether it was found. Used by the scheduler
// (C7) to recompute a corpus entry's visited edge sequence for its
// edge-index favored-set key.
func (g *STG) EdgeIndex(from, to int) (int, bool) {
	idx, ok := g.edgeIndex[edgeKey{from, to}]
	return idx, ok
}

// EdgeSeq recomputes the sequence of edge indices a trace's intervals
// visited, in order, skipping any interval whose node/edge was not (or is
// no longer) interned. Every interval in an already-Observed trace always
// resolves, since Observe interns every node/edge it walks.
func (g *STG) EdgeSeq(intervals []model.ExecInterval) []int {
	seq := make([]int, 0, len(intervals))
	prev := g.EntryIdx
	for _, iv := range intervals {
		if !iv.IsValid() {
			continue
		}
		nodeIdx, ok := g.NodeIndex(iv.State, iv.ABB)
		if !ok {
			continue
		}
		if edgeIdx, ok := g.EdgeIndex(prev, nodeIdx); ok {
			seq = append(seq, edgeIdx)
		}
		prev = nodeIdx
	}
	return seq
}

func tryUpdateWorst(m map[uint64]clock.Tick, key uint64, ticks clock.Tick) bool {
	if prev, ok := m[key]; !ok || ticks > prev {
		m[key] = ticks
		return true
	}
	return false
}

// HashEdgeSeq hashes a sequence of edge indices in traversal order, the
// wort_per_stg_path key (§4.4 step 3).
func HashEdgeSeq(seq []int) uint64 {
	h := fnv.New64a()
	for _, v := range seq {
		fmt.Fprintf(h, "%d,", v)
	}
	return h.Sum64()
}

// HashABBSeq hashes ABBs in execution order — the "path-hash" §4.4 step 3's
// wort_per_abb_path key, distinct from the aggregate (order-independent) key
// below (§8 scenario 6: equal aggregate-hash, unequal abb-path-hash for two
// runs differing only in ABB order).
func HashABBSeq(seq []model.ABB) uint64 {
	h := fnv.New64a()
	for _, a := range seq {
		fmt.Fprintf(h, "%d,", a.Hash())
	}
	return h.Sum64()
}

// AggregateKey computes the sorted-multiset-of-ABBs key (order-independent)
// plus the per-ABB occurrence count this run achieved, so the caller can fold
// each into worstABBExecCount via a simple max (§4.4 step 3).
func AggregateKey(seq []model.ABB) (uint64, map[uint64]int) {
	counts := make(map[uint64]int, len(seq))
	for _, a := range seq {
		counts[a.Hash()]++
	}
	hashes := make([]uint64, 0, len(counts))
	for h := range counts {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	h := fnv.New64a()
	for _, hh := range hashes {
		fmt.Fprintf(h, "%d:%d,", hh, counts[hh])
	}
	return h.Sum64(), counts
}
