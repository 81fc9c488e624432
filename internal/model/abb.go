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

// ABB is an atomic basic block: a single-entry, (possibly) multi-exit region
// of kernel code between two capture-event boundaries (§3 "ABB", §4.1).
//
// Equality and Hash deliberately ignore InstanceID: two ABBs reached via
// different call instances of the same code region are the same ABB. Ends
// is kept sorted so construction order never affects comparison.
type ABB struct {
	Start        uint32
	Ends         []uint32
	Level        CapturePoint
	InstanceName string
	// InstanceID distinguishes concurrent instances of a re-entered ABB (for
	// example two nested calls of the same API). It never participates in
	// Equal or Hash; InstanceEqual compares it, and job building and
	// ABBProfile group intervals by it.
	InstanceID uint64
}

// NewABB builds an ABB with Ends sorted, matching FRET's AtomicBasicBlock
// construction (systemstate/mod.rs).
func NewABB(start uint32, ends []uint32, level CapturePoint, instanceName string, instanceID uint64) ABB {
	e := append([]uint32(nil), ends...)
	sort.Slice(e, func(i, j int) bool { return e[i] < e[j] })
	return ABB{Start: start, Ends: e, Level: level, InstanceName: instanceName, InstanceID: instanceID}
}

// Equal reports structural equality, ignoring InstanceID.
func (a ABB) Equal(b ABB) bool {
	if a.Start != b.Start || a.Level != b.Level || a.InstanceName != b.InstanceName {
		return false
	}
	if len(a.Ends) != len(b.Ends) {
		return false
	}
	for i := range a.Ends {
		if a.Ends[i] != b.Ends[i] {
			return false
		}
	}
	return true
}

// InstanceEqual additionally requires matching InstanceID, used when the
// caller needs to distinguish concurrently-live instances of the same ABB
// (FRET's `instance_eq`).
func (a ABB) InstanceEqual(b ABB) bool {
	return a.Equal(b) && a.InstanceID == b.InstanceID
}

// Hash returns a structural hash ignoring InstanceID, suitable as an STG
// node/ABB-dedup key.
func (a ABB) Hash() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s", a.Start, a.Level, a.InstanceName)
	for _, e := range a.Ends {
		fmt.Fprintf(h, ",%d", e)
	}
	return h.Sum64()
}

// Less orders ABBs by (Start, Level, InstanceName) for deterministic dump
// ordering, mirroring FRET's manual Ord impl.
func (a ABB) Less(b ABB) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.Level != b.Level {
		return fmt.Sprint(a.Level) < fmt.Sprint(b.Level)
	}
	return a.InstanceName < b.InstanceName
}

func (a ABB) String() string {
	return fmt.Sprintf("ABB{start=%#x, ends=%v, level=%s, instance=%s#%d}", a.Start, a.Ends, a.Level, a.InstanceName, a.InstanceID)
}
