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

import (
	"testing"

	"github.com/google/wcetfuzz/internal/clock"
	"github.com/google/wcetfuzz/internal/model"
)

func taskState(name string) model.TaskState {
	return model.TaskState{Name: name, Priority: 1}
}

func stateWithReady(current string, ready ...string) model.State {
	var lvl []model.TaskState
	for _, r := range ready {
		lvl = append(lvl, taskState(r))
	}
	return model.State{CurrentTask: taskState(current), ReadyByPriority: [][]model.TaskState{lvl}}
}

func interval(task string, start, end clock.Tick, s model.State, event model.CaptureEvent) model.ExecInterval {
	return model.ExecInterval{
		TaskName: task,
		State:    s,
		ABB:      model.NewABB(uint32(start), []uint32{uint32(end)}, model.CapturePoint{Event: event, Name: task}, task, 1),
		Start:    start,
		End:      end,
	}
}

func TestDetectReleasesFirstInterval(t *testing.T) {
	first := interval("A", 10, 20, stateWithReady("A", "B", "C"), model.ISREnd)
	releases := detectReleases([]model.ExecInterval{first})

	want := map[string]bool{"B": true, "C": true}
	got := map[string]bool{}
	for _, r := range releases {
		if r.tick != 10 {
			t.Errorf("release %s: got tick %d, want 10", r.task, r.tick)
		}
		got[r.task] = true
	}
	if len(got) != len(want) {
		t.Fatalf("detectReleases: got %v, want %v", got, want)
	}
	for name := range want {
		if !got[name] {
			t.Errorf("detectReleases: missing release for %s", name)
		}
	}
}

func TestDetectReleasesAPIBracketDiff(t *testing.T) {
	first := interval("A", 1, 2, stateWithReady("A"), model.ISREnd)
	apiStart := interval("A", 2, 5, stateWithReady("A"), model.APIStart)
	apiEnd := interval("A", 5, 8, stateWithReady("A", "D"), model.APIEnd)

	releases := detectReleases([]model.ExecInterval{first, apiStart, apiEnd})

	found := false
	for _, r := range releases {
		if r.task == "D" && r.tick == 5 {
			found = true
		}
	}
	if !found {
		t.Errorf("detectReleases: expected a release for D at tick 5 (the APIEnd capture point), got %+v", releases)
	}
}

func TestPairReleasesAndResponsesDirectMatch(t *testing.T) {
	releases := []release{{tick: 10, task: "A"}}
	jobDones := []model.JobDone{{Tick: 50, TaskName: "A"}}

	pairs, needToDebug := pairReleasesAndResponses(releases, jobDones)
	if needToDebug != 0 {
		t.Fatalf("needToDebug = %d, want 0", needToDebug)
	}
	if len(pairs) != 1 || pairs[0].release != 10 || pairs[0].response != 50 {
		t.Fatalf("pairs = %+v, want one pairing (10, 50)", pairs)
	}
}

func TestPairReleasesAndResponsesSpuriousReusesLastResponse(t *testing.T) {
	releases := []release{{tick: 10, task: "A"}}
	jobDones := []model.JobDone{
		{Tick: 50, TaskName: "A"},
		{Tick: 50 + uint64(SpuriousNotificationTolerance) - 1, TaskName: "A"},
	}

	pairs, needToDebug := pairReleasesAndResponses(releases, jobDones)
	if needToDebug != 0 {
		t.Fatalf("needToDebug = %d, want 0, pairs=%+v", needToDebug, pairs)
	}
	if len(pairs) != 2 {
		t.Fatalf("len(pairs) = %d, want 2: %+v", len(pairs), pairs)
	}
	if pairs[1].release != 50 {
		t.Errorf("spurious pairing release = %d, want reused last response 50", pairs[1].release)
	}
}

func TestPairReleasesAndResponsesBeyondToleranceNeedsDebug(t *testing.T) {
	jobDones := []model.JobDone{{Tick: 1000, TaskName: "A"}}

	_, needToDebug := pairReleasesAndResponses(nil, jobDones)
	if needToDebug != 1 {
		t.Fatalf("needToDebug = %d, want 1", needToDebug)
	}
}

func TestBuildJobGroupsByABBInstance(t *testing.T) {
	s := stateWithReady("A")
	abb := model.NewABB(100, []uint32{110}, model.CapturePoint{Event: model.APIStart, Name: "A"}, "A", 1)

	iv1 := model.ExecInterval{TaskName: "A", State: s, ABB: abb, Start: 10, End: 15}
	iv2 := model.ExecInterval{TaskName: "A", State: s, ABB: abb, Start: 15, End: 25}
	other := model.ExecInterval{TaskName: "B", State: s, ABB: abb, Start: 12, End: 14}

	job := buildJob([]model.ExecInterval{iv1, iv2, other}, pairing{task: "A", release: 10, response: 25})

	if len(job.Chunks) != 1 {
		t.Fatalf("len(job.Chunks) = %d, want 1 (merged same-instance chunk)", len(job.Chunks))
	}
	if job.Chunks[0].Ticks != clock.Tick(15) {
		t.Errorf("job.Chunks[0].Ticks = %d, want 15 (5+10)", job.Chunks[0].Ticks)
	}
	if job.ExecTime() != clock.Tick(15) {
		t.Errorf("job.ExecTime() = %d, want 15", job.ExecTime())
	}
	if job.ResponseTime() != clock.Tick(15) {
		t.Errorf("job.ResponseTime() = %d, want 15", job.ResponseTime())
	}
}

func TestExtractEndToEnd(t *testing.T) {
	first := interval("A", 1, 2, stateWithReady("A", "B"), model.ISREnd)
	run := model.ExecInterval{
		TaskName: "B",
		State:    stateWithReady("B"),
		ABB:      model.NewABB(200, []uint32{210}, model.CapturePoint{Event: model.APIStart, Name: "B"}, "B", 1),
		Start:    2,
		End:      9,
	}
	jobDones := []model.JobDone{{Tick: 9, TaskName: "B"}}

	result := Extract([]model.ExecInterval{first, run}, jobDones)
	if result.NeedToDebug != 0 {
		t.Fatalf("NeedToDebug = %d, want 0", result.NeedToDebug)
	}
	if len(result.Jobs) != 1 {
		t.Fatalf("len(result.Jobs) = %d, want 1: %+v", len(result.Jobs), result.Jobs)
	}
	job := result.Jobs[0]
	if job.TaskName != "B" || job.Release != 1 || job.Response != 9 {
		t.Errorf("job = %+v, want task B release 1 response 9", job)
	}
}

func TestABBProfileGroupsByTaskAndABBStart(t *testing.T) {
	s := stateWithReady("A")
	abb1 := model.NewABB(100, []uint32{110}, model.CapturePoint{Event: model.APIStart, Name: "A"}, "A", 1)
	abb2 := model.NewABB(200, []uint32{210}, model.CapturePoint{Event: model.APIStart, Name: "A"}, "A", 2)

	intervals := []model.ExecInterval{
		{TaskName: "A", State: s, ABB: abb1, Start: 0, End: 5},
		{TaskName: "A", State: s, ABB: abb1, Start: 5, End: 15},
		{TaskName: "A", State: s, ABB: abb2, Start: 20, End: 22},
	}

	profile := ABBProfile(intervals)
	taskA, ok := profile["A"]
	if !ok {
		t.Fatalf("ABBProfile: no entry for task A")
	}
	stats1 := taskA[100]
	if stats1.ExecEvents != 2 {
		t.Errorf("abb@100 ExecEvents = %d, want 2", stats1.ExecEvents)
	}
	if stats1.WorstTicks != 15 {
		t.Errorf("abb@100 WorstTicks = %d, want 15", stats1.WorstTicks)
	}
	stats2 := taskA[200]
	if stats2.ExecEvents != 1 || stats2.TotalTicks != 2 {
		t.Errorf("abb@200 stats = %+v, want ExecEvents=1 TotalTicks=2", stats2)
	}
}
