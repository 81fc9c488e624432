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
// Package jobtrack implements the job extractor (C3): it derives task
// release events from ready-list transitions, pairs them against job-done
// marker responses, and groups the intervals between each release/response
// pair into a model.Job (§4.3).
package jobtrack

import (
	"sort"

	"github.com/google/wcetfuzz/internal/clock"
	"github.com/google/wcetfuzz/internal/model"
)

// SpuriousNotificationTolerance is the window within which a job-done
// response with no pending release is assumed to be a spurious
// notification reusing the task's last response tick as its release,
// rather than a desync to flag (§4.3).
var SpuriousNotificationTolerance = clock.Tick(clock.MicrosecondsToTicks(500))

// Result is C3's output: the extracted jobs plus a count of responses that
// could not be paired with any release, even under the spurious-
// notification tolerance (§4.3, §7 "release-response desync beyond
// tolerance").
type Result struct {
	Jobs        []model.Job
	NeedToDebug int
}

// Extract derives releases from intervals' ready-list transitions, pairs
// them against jobDones, and groups each pairing's intervals into a Job.
func Extract(intervals []model.ExecInterval, jobDones []model.JobDone) Result {
	releases := detectReleases(intervals)
	pairs, needToDebug := pairReleasesAndResponses(releases, jobDones)

	jobs := make([]model.Job, 0, len(pairs))
	for _, p := range pairs {
		jobs = append(jobs, buildJob(intervals, p))
	}
	return Result{Jobs: jobs, NeedToDebug: needToDebug}
}

type release struct {
	tick clock.Tick
	task string
}

// readySet flattens a State's ready lists into a set of task names.
func readySet(s model.State) map[string]bool {
	out := make(map[string]bool)
	for _, lvl := range s.ReadyByPriority {
		for _, t := range lvl {
			out[t.Name] = true
		}
	}
	return out
}

// detectReleases implements §4.3's four release rules. Nested ISR blocks
// are handled by only emitting the timer-driven diff when the ISR nesting
// stack returns to empty (the "fast-forward past nested ISRs" rule reduces,
// for ready-list comparison purposes, to comparing the state immediately
// before the outermost ISRStart against the state immediately after the
// outermost ISREnd).
func detectReleases(intervals []model.ExecInterval) []release {
	if len(intervals) == 0 {
		return nil
	}
	var releases []release

	// First release (§4.3): every task ready at the trace's first interval
	// (the context-switch-handler ISREnd refine.Run trims to) is released
	// at that tick.
	first := intervals[0]
	for name := range readySet(first.State) {
		releases = append(releases, release{tick: first.Start, task: name})
	}

	type frame struct {
		startState model.State
		preCurrent string
		isISR      bool
	}
	var stack []frame

	for _, iv := range intervals {
		switch iv.ABB.Level.Event {
		case model.APIStart:
			stack = append(stack, frame{startState: iv.State, preCurrent: iv.State.CurrentTask.Name, isISR: false})
		case model.ISRStart:
			stack = append(stack, frame{startState: iv.State, preCurrent: iv.State.CurrentTask.Name, isISR: true})
		case model.APIEnd:
			if n := len(stack); n > 0 && !stack[n-1].isISR {
				top := stack[n-1]
				stack = stack[:n-1]
				releases = append(releases, diffReadySets(top.startState, iv.State, iv.Start, top.preCurrent, iv.State.CurrentTask.Name)...)
			}
		case model.ISREnd:
			if n := len(stack); n > 0 && stack[n-1].isISR {
				top := stack[n-1]
				stack = stack[:n-1]
				if len(stack) == 0 {
					releases = append(releases, diffReadySets(top.startState, iv.State, iv.Start, top.preCurrent, iv.State.CurrentTask.Name)...)
				}
			}
		}
	}

	sort.SliceStable(releases, func(i, j int) bool { return releases[i].tick < releases[j].tick })
	return releases
}

// diffReadySets returns a release for every task name present in post but
// absent from pre, excluding the pre/post current task (§4.3 "and is not
// the pre/post current task").
func diffReadySets(pre, post model.State, tick clock.Tick, preCurrent, postCurrent string) []release {
	preSet := readySet(pre)
	var out []release
	for name := range readySet(post) {
		if preSet[name] {
			continue
		}
		if name == preCurrent || name == postCurrent {
			continue
		}
		out = append(out, release{tick: tick, task: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].task < out[j].task })
	return out
}

type pairing struct {
	task     string
	release  clock.Tick
	response clock.Tick
}

// pairReleasesAndResponses implements §4.3's two-cursor pairing: releases
// and responses are merged in tick order; a response consumes the earliest
// pending release for its task, or — absent one — reuses the task's last
// response tick as its release if within SpuriousNotificationTolerance,
// or else is dropped and counted toward needToDebug.
func pairReleasesAndResponses(releases []release, jobDones []model.JobDone) ([]pairing, int) {
	type event struct {
		tick     clock.Tick
		task     string
		isRel    bool
		origTick uint64
	}
	events := make([]event, 0, len(releases)+len(jobDones))
	for _, r := range releases {
		events = append(events, event{tick: r.tick, task: r.task, isRel: true})
	}
	for _, d := range jobDones {
		events = append(events, event{tick: clock.Tick(d.Tick), task: d.TaskName, isRel: false})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })

	readySince := make(map[string]clock.Tick)
	lastResponse := make(map[string]clock.Tick)
	var pairs []pairing
	needToDebug := 0

	for _, e := range events {
		if e.isRel {
			if _, ok := readySince[e.task]; !ok {
				readySince[e.task] = e.tick
			}
			continue
		}
		if rel, ok := readySince[e.task]; ok {
			pairs = append(pairs, pairing{task: e.task, release: rel, response: e.tick})
			delete(readySince, e.task)
		} else if lr, ok := lastResponse[e.task]; ok && e.tick-lr <= SpuriousNotificationTolerance {
			pairs = append(pairs, pairing{task: e.task, release: lr, response: e.tick})
		} else {
			needToDebug++
		}
		lastResponse[e.task] = e.tick
	}
	return pairs, needToDebug
}

// buildJob groups the intervals inside [p.release, p.response] whose task
// name matches p.task, chunked by ABB instance id, summing exec ticks and
// concatenating reads per ABB (§4.3 final paragraph).
func buildJob(intervals []model.ExecInterval, p pairing) model.Job {
	var chunks []model.JobChunk
	for _, iv := range intervals {
		if iv.GetTaskName() != p.task {
			continue
		}
		if iv.Start < p.release || iv.End > p.response {
			continue
		}
		if n := len(chunks); n > 0 && chunks[n-1].ABB.InstanceID == iv.ABB.InstanceID {
			chunks[n-1].Ticks += iv.ExecTime()
			chunks[n-1].Reads = append(chunks[n-1].Reads, iv.Reads...)
			continue
		}
		chunks = append(chunks, model.JobChunk{ABB: iv.ABB, Ticks: iv.ExecTime(), Reads: append([]model.MemRead(nil), iv.Reads...)})
	}
	return model.NewJob(p.task, chunks, p.release, p.response)
}
