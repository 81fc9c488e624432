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
package jobtrack

import "github.com/google/wcetfuzz/internal/model"

// ABBStats summarizes one ABB's occurrences within one task's intervals:
// how many separate instances were observed, how many intervals (exec
// events) contributed to them, and the total and worst per-instance exec
// time. It mirrors FRET's abb_profile diagnostic.
type ABBStats struct {
	Instances  int
	ExecEvents int
	TotalTicks uint64
	WorstTicks uint64
}

// ABBProfile groups intervals by task then by ABB start address, producing
// a per-task per-ABB occurrence and timing summary (showmap diagnostic,
// grounded on FRET's abb_profile helper).
func ABBProfile(intervals []model.ExecInterval) map[string]map[uint32]ABBStats {
	out := make(map[string]map[uint32]ABBStats)
	// perInstance accumulates exec time per (task, ABB start, instance id)
	// so that an ABB instance split across multiple intervals (an
	// interruption continuation) is counted once, with its exec time
	// summed across its interval fragments, before folding into ABBStats.
	type key struct {
		task  string
		start uint32
		inst  uint64
	}
	perInstance := make(map[key]uint64)
	order := make(map[string]map[uint32]bool)

	for _, iv := range intervals {
		task := iv.GetTaskName()
		k := key{task: task, start: iv.ABB.Start, inst: iv.ABB.InstanceID}
		perInstance[k] += uint64(iv.ExecTime())
		if order[task] == nil {
			order[task] = make(map[uint32]bool)
		}
		order[task][iv.ABB.Start] = true
	}

	for task, starts := range order {
		out[task] = make(map[uint32]ABBStats)
		for start := range starts {
			var stats ABBStats
			for k, total := range perInstance {
				if k.task != task || k.start != start {
					continue
				}
				stats.Instances++
				stats.TotalTicks += total
				if total > stats.WorstTicks {
					stats.WorstTicks = total
				}
			}
			out[task][start] = stats
		}
	}

	// ExecEvents counts raw intervals (as opposed to merged instances).
	for _, iv := range intervals {
		task := iv.GetTaskName()
		stats := out[task][iv.ABB.Start]
		stats.ExecEvents++
		out[task][iv.ABB.Start] = stats
	}

	return out
}
