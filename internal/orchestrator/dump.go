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
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/google/wcetfuzz/internal/introspect"
)

// dumpArtifacts fans concurrent artifact writes out over an errgroup,
// mirroring analysis/sched_analysis.go's per-PID errgroup.Group fan-out
// (§11's home for golang.org/x/sync/errgroup): each artifact is independent
// and none needs to see another's result, so a shared WaitGroup-style
// barrier with first-error propagation is the natural fit.
func (o *Orchestrator) dumpArtifacts(ctx context.Context, prefix string) error {
	if o.Dump == nil {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.dumpTime(ctx, prefix) })
	g.Go(func() error { return o.dumpCase(ctx, prefix) })
	g.Go(func() error { return o.dumpDot(ctx, prefix) })
	g.Go(func() error { return o.dumpTopRated(ctx, prefix) })
	g.Go(func() error { return o.dumpTrace(ctx, prefix) })

	return g.Wait()
}

func (o *Orchestrator) dumpTime(ctx context.Context, prefix string) error {
	line := fmt.Sprintf("%d,%d\n", o.STG.WorstOverallTicks, time.Now().UnixMilli())
	return o.Dump(ctx, prefix+".time", []byte(line))
}

func (o *Orchestrator) dumpCase(ctx context.Context, prefix string) error {
	if o.globalWorst == nil {
		return nil
	}
	data, err := json.Marshal(o.globalWorst.Input)
	if err != nil {
		return fmt.Errorf("marshaling worst testcase: %w", err)
	}
	return o.Dump(ctx, prefix+".case", data)
}

func (o *Orchestrator) dumpDot(ctx context.Context, prefix string) error {
	return o.Dump(ctx, prefix+".dot", []byte(o.STG.Dot()))
}

func (o *Orchestrator) dumpTopRated(ctx context.Context, prefix string) error {
	favored := o.Favored()
	data, err := json.Marshal(favored)
	if err != nil {
		return fmt.Errorf("marshaling favored set: %w", err)
	}
	return o.Dump(ctx, prefix+".toprated", data)
}

func (o *Orchestrator) dumpTrace(ctx context.Context, prefix string) error {
	if o.globalWorst == nil {
		return nil
	}
	data, err := json.Marshal(o.globalWorst.Meta.Intervals)
	if err != nil {
		return fmt.Errorf("marshaling worst trace: %w", err)
	}
	return o.Dump(ctx, prefix+".trace.json", data)
}

// periodicDump implements §12.6's running-campaign snapshot: besides the
// standard-prefix artifacts, it writes a timestamped case/trace pair so a
// long campaign stays inspectable without stopping it.
func (o *Orchestrator) periodicDump(ctx context.Context) {
	if err := o.dumpArtifacts(ctx, o.DumpPrefix); err != nil {
		log.Errorf("orchestrator: periodic dump: %v", err)
		return
	}
	if o.globalWorst == nil {
		return
	}
	stamped := fmt.Sprintf("%s_at_%d", o.DumpPrefix, o.iterations)
	if err := o.dumpCase(ctx, stamped); err != nil {
		log.Errorf("orchestrator: periodic timestamped case dump: %v", err)
	}
	if err := o.dumpTrace(ctx, stamped); err != nil {
		log.Errorf("orchestrator: periodic timestamped trace dump: %v", err)
	}
}

// finalDump writes the end-of-run artifact set (§6.5).
func (o *Orchestrator) finalDump(ctx context.Context) error {
	return o.dumpArtifacts(ctx, o.DumpPrefix)
}

// Stats reports the run-loop's current counters, one of the methods a
// cmd/wcetfuzz-level introspect.Source adapter forwards (the STG field
// itself can't double as that interface's STG() method).
func (o *Orchestrator) Stats() introspect.Stats {
	return introspect.Stats{
		Generation:        o.generation,
		Iterations:        o.iterations,
		WorstOverallTicks: uint64(o.STG.WorstOverallTicks),
		CorpusSize:        len(o.Scheduler.Entries()),
		FavoredCount:      o.Scheduler.FavoredCount(),
	}
}

// Favored returns a map from corpus entry ID to a human-readable summary,
// for every currently-favored testcase.
func (o *Orchestrator) Favored() map[string]string {
	out := make(map[string]string)
	for _, e := range o.Scheduler.Entries() {
		if o.Scheduler.IsFavored(e) {
			out[e.ID.String()] = fmt.Sprintf("exec_time=%s ticks=%d", e.ExecTime, e.Ticks)
		}
	}
	return out
}
