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
// Package orchestrator implements the run-loop (C8): per-iteration harness
// wiring (snapshot restore, input injection, emulator run), C2/C3/C4
// sequencing, mutator invocation, scheduler bookkeeping, and periodic/final
// artifact dumps (§4.8, §12.6).
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/golang/glog"

	"github.com/google/wcetfuzz/internal/capture"
	"github.com/google/wcetfuzz/internal/corpus"
	"github.com/google/wcetfuzz/internal/emulator"
	"github.com/google/wcetfuzz/internal/jobtrack"
	"github.com/google/wcetfuzz/internal/model"
	"github.com/google/wcetfuzz/internal/mutate"
	"github.com/google/wcetfuzz/internal/refine"
	"github.com/google/wcetfuzz/internal/schedule"
	"github.com/google/wcetfuzz/internal/stg"
)

// MaxInputSize bounds how many "bytes"-part bytes the harness writes into
// target input memory per iteration (§4.8 step 3).
const MaxInputSize = 256

// DefaultDumpInterval is how often a running campaign writes a timestamped
// worst-case snapshot (§12.6).
const DefaultDumpInterval = 600 * time.Second

// SaturationTick is the polling cadence of "run until saturation" mode
// once the configured duration bound has elapsed (§4.8 final paragraph).
const SaturationTick = 30 * time.Second

// SaturationWindow is how long "run until saturation" waits without a new
// worst-tick record before stopping (§4.8 final paragraph).
const SaturationWindow = 3 * time.Hour

// HarnessAddrs is the subset of the target symbol contract (§6.2) the
// run-loop needs to inject one iteration's input: the input-bytes address,
// the optional input-length field address (0 if unconfigured), and the
// per-source interrupt arrival-time table layout.
type HarnessAddrs struct {
	FuzzInput            uint32
	FuzzLength           uint32
	InterruptTableBase   uint32
	InterruptTableStride uint32
}

// Dumper writes one named artifact's bytes somewhere durable (a file, in
// production; tests supply an in-memory fake). Errors are logged, not
// fatal: a failed dump should never abort a running campaign (§7 "the
// run-loop... run completes").
type Dumper func(ctx context.Context, name string, data []byte) error

// Orchestrator sequences one fuzzing campaign's run-loop.
type Orchestrator struct {
	Emu     emulator.Emulator
	Capture *capture.Layer
	Addrs   HarnessAddrs
	Sources []mutate.InterruptSource

	STG       *stg.STG
	Scheduler *schedule.Scheduler
	Shift     *mutate.InterruptShift
	Snippet   *mutate.Snippet

	DumpPrefix   string
	DumpInterval time.Duration
	Dump         Dumper

	snapshot emulator.Snapshot

	iterations      int
	generation      int
	lastImprovement time.Time
	lastDump        time.Time
	globalWorst     *corpus.Entry
}

// New builds an Orchestrator wiring the given components together. r drives
// both the interrupt-shift mutator's random choices and is independent of
// whatever source the caller used to build sched's own sampler.
func New(emu emulator.Emulator, cap *capture.Layer, addrs HarnessAddrs, sources []mutate.InterruptSource, g *stg.STG, sched *schedule.Scheduler, r *rand.Rand) *Orchestrator {
	return &Orchestrator{
		Emu:       emu,
		Capture:   cap,
		Addrs:     addrs,
		Sources:   sources,
		STG:       g,
		Scheduler: sched,
		Shift: &mutate.InterruptShift{
			Rand:    r,
			Sources: sources,
			STG:     g,
		},
		Snippet:      &mutate.Snippet{STG: g, InputAddr: addrs.FuzzInput},
		DumpInterval: DefaultDumpInterval,
	}
}

// Init snapshots the emulator's initial state as the per-iteration restore
// point (§4.8 step 2) and seeds the scheduler with the given corpus entries.
func (o *Orchestrator) Init(ctx context.Context, seeds []*corpus.Entry) error {
	snap, err := o.Emu.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: initial snapshot: %w", err)
	}
	o.snapshot = snap
	for _, e := range seeds {
		o.Scheduler.Add(e)
		if o.globalWorst == nil || e.ExecTime > o.globalWorst.ExecTime {
			o.globalWorst = e
		}
	}
	o.lastImprovement = time.Now()
	o.lastDump = time.Now()
	return nil
}

// writeInput implements §4.8 step 3: injects entry's "bytes" part
// (truncated to MaxInputSize) and optional length field, and installs each
// configured interrupt source's arrival-time table.
func (o *Orchestrator) writeInput(entry *corpus.Entry) error {
	return WriteInput(o.Emu, o.Addrs, o.Sources, entry.Input)
}

// WriteInput injects one testcase's "bytes" part (truncated to
// MaxInputSize), optional length field, and per-source interrupt
// arrival-time table into the target's memory (§4.8 step 3). It is exported
// so a one-shot runner (e.g. a "showmap" command) can prepare the harness
// identically to the run-loop without going through the scheduler/corpus.
func WriteInput(emu emulator.Emulator, addrs HarnessAddrs, sources []mutate.InterruptSource, input *model.Input) error {
	b := input.Bytes()
	if len(b) > MaxInputSize {
		b = b[:MaxInputSize]
	}
	if err := emu.WriteMem(addrs.FuzzInput, b); err != nil {
		return fmt.Errorf("writing input bytes: %w", err)
	}
	if addrs.FuzzLength != 0 {
		lenField := []byte{byte(len(b)), byte(len(b) >> 8), byte(len(b) >> 16), byte(len(b) >> 24)}
		if err := emu.WriteMem(addrs.FuzzLength, lenField); err != nil {
			return fmt.Errorf("writing input length: %w", err)
		}
	}
	for _, src := range sources {
		times := input.InterruptTimesFor(src.Index, src.MinIAT)
		raw := make([]byte, len(times)*4)
		for i, t := range times {
			v := uint32(t)
			raw[i*4] = byte(v)
			raw[i*4+1] = byte(v >> 8)
			raw[i*4+2] = byte(v >> 16)
			raw[i*4+3] = byte(v >> 24)
		}
		addr := addrs.InterruptTableBase + uint32(src.Index)*addrs.InterruptTableStride
		if err := emu.WriteMem(addr, raw); err != nil {
			return fmt.Errorf("writing interrupt table for source %d: %w", src.Index, err)
		}
	}
	return nil
}

// Step runs one full run-loop iteration (§4.8) and reports whether it was
// interesting (a new STG node/edge/worst observation).
func (o *Orchestrator) Step(ctx context.Context) (interesting bool, err error) {
	entry := o.Scheduler.Pick()
	if entry == nil {
		return false, fmt.Errorf("orchestrator: no corpus entries to schedule")
	}

	if err := o.snapshot.Restore(ctx); err != nil {
		return false, fmt.Errorf("restoring snapshot: %w", err)
	}
	if err := o.writeInput(entry); err != nil {
		return false, err
	}

	o.Capture.Records = o.Capture.Records[:0]
	o.Capture.JobDones = o.Capture.JobDones[:0]

	start := time.Now()
	result, err := o.Emu.Run(ctx)
	execTime := time.Since(start)
	if err != nil {
		return false, fmt.Errorf("emulator run: %w", err)
	}
	o.iterations++

	if result.Outcome == emulator.Crash || result.Outcome == emulator.Timeout {
		log.Warningf("orchestrator: iteration %d: %s at %#x", o.iterations, result.Outcome, result.Addr)
		if o.Dump != nil {
			if derr := o.Dump(ctx, fmt.Sprintf("%s.crashes/%s", o.DumpPrefix, entry.ID), entry.Input.Bytes()); derr != nil {
				log.Errorf("orchestrator: dumping crash testcase: %v", derr)
			}
		}
	}

	refined := refine.Run(o.Capture.Records)
	jobs := jobtrack.Extract(refined.Intervals, o.Capture.JobDones)

	trace := stg.Trace{Intervals: refined.Intervals, Jobs: jobs.Jobs}
	interesting, updated := o.STG.Observe(trace)

	entry.ExecTime = execTime
	entry.Meta.Intervals = trace.Intervals
	entry.Meta.Jobs = trace.Jobs
	entry.Meta.NodeTrace = nil
	entry.Meta.EdgeTrace = o.STG.EdgeSeq(trace.Intervals)
	for _, iv := range trace.Intervals {
		if t := iv.ExecTime(); uint64(t) > entry.Ticks {
			entry.Ticks = uint64(t)
		}
	}
	o.Scheduler.UpdateFavored(entry)

	if o.globalWorst == nil || entry.ExecTime > o.globalWorst.ExecTime {
		o.globalWorst = entry
	}

	if updated {
		o.generation++
		o.lastImprovement = time.Now()
	}

	if interesting {
		o.runMutators(ctx, entry, trace)
	}

	if o.Dump != nil && time.Since(o.lastDump) >= o.DumpInterval {
		o.periodicDump(ctx)
		o.lastDump = time.Now()
	}

	return interesting, nil
}

// runMutators produces next-generation inputs from an interesting entry's
// trace and folds each candidate into the scheduler as a fresh corpus
// entry (§4.8 step 5 "mutators generate next-generation inputs; scheduler
// records new entries"). The mutated candidates are recorded with zeroed
// exec-time metadata: they are re-measured the next time the scheduler
// picks them, per the run-loop's normal iteration.
func (o *Orchestrator) runMutators(ctx context.Context, entry *corpus.Entry, trace stg.Trace) {
	rerun := 0
	newInteresting := 0
	for _, next := range o.Shift.Mutate(entry.Input, trace.Intervals) {
		rerun++
		child := corpus.New(next)
		child.Generation = entry.Generation + 1
		o.Scheduler.Add(child)
	}
	o.Shift.Record(newInteresting, rerun)

	if next, changed := o.Snippet.Mutate(entry.Input, trace.Jobs); changed {
		child := corpus.New(next)
		child.Generation = entry.Generation + 1
		o.Scheduler.Add(child)
	}
}

// Run iterates Step until deadline elapses (or ctx is cancelled), then, if
// saturate is set, continues in SaturationTick polls until SaturationWindow
// passes without a worst-tick improvement (§4.8 final paragraph).
func (o *Orchestrator) Run(ctx context.Context, deadline time.Duration, saturate bool) error {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := o.Step(ctx); err != nil {
			return err
		}
		if o.iterations%1000 == 0 {
			o.Scheduler.Prune()
		}
	}
	if !saturate {
		return o.finalDump(ctx)
	}
	for time.Since(o.lastImprovement) < SaturationWindow {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tickEnd := time.Now().Add(SaturationTick)
		for time.Now().Before(tickEnd) {
			if _, err := o.Step(ctx); err != nil {
				return err
			}
		}
		o.Scheduler.Prune()
	}
	log.Infof("orchestrator: saturated after %d iterations, %s since last improvement", o.iterations, time.Since(o.lastImprovement))
	return o.finalDump(ctx)
}

// Generation returns the STG's current generation number (how many times
// Observe has reported an update), used to key the introspection server's
// rendered-.dot cache.
func (o *Orchestrator) Generation() int { return o.generation }
