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
// wcetfuzz fuzzes an RTOS kernel image for worst-case execution/response
// time under an instruction-accurate emulator (§6.4).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/golang/glog"

	"github.com/google/wcetfuzz/internal/capture"
	"github.com/google/wcetfuzz/internal/config"
	"github.com/google/wcetfuzz/internal/corpus"
	"github.com/google/wcetfuzz/internal/emulator"
	"github.com/google/wcetfuzz/internal/introspect"
	"github.com/google/wcetfuzz/internal/jobtrack"
	"github.com/google/wcetfuzz/internal/model"
	"github.com/google/wcetfuzz/internal/mutate"
	"github.com/google/wcetfuzz/internal/orchestrator"
	"github.com/google/wcetfuzz/internal/query"
	"github.com/google/wcetfuzz/internal/refine"
	"github.com/google/wcetfuzz/internal/schedule"
	"github.com/google/wcetfuzz/internal/stg"
)

// Exit codes (§6.4): 0 on normal termination or shutdown request; non-zero
// on missing kernel or a requested dump with no --dump-name.
const (
	exitOK              = 0
	exitMissingKernel   = 1
	exitMissingDumpName = 2
	exitUsage           = 3
	exitRunError        = 4
)

// newEmulator constructs the production Emulator binding. The emulator
// itself is an external collaborator out of this module's scope
// (internal/emulator's package doc); this indirection lets tests substitute
// a fake without touching command dispatch logic, following
// server/server.go's `startServer = func(r *mux.Router) {...}` var pattern.
var newEmulator = func(kernelFile string) (emulator.Emulator, error) {
	return nil, fmt.Errorf("no emulator binding configured in this build; see internal/emulator")
}

type flags struct {
	kernel         string
	configFile     string
	dumpName       string
	dumpTimes      bool
	dumpCases      bool
	dumpTraces     bool
	dumpGraph      bool
	selectTask     string
	introspectAddr string
	dumpInterval   time.Duration

	// fuzz-only
	random bool
	seed   int64
	secs   int

	// showmap-only
	input string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: wcetfuzz <showmap|fuzz> [flags]")
		return exitUsage
	}
	cmd := args[0]
	fs, code := parseFlags(cmd, args[1:], stderr)
	if fs == nil {
		return code
	}

	if fs.kernel == "" {
		fmt.Fprintln(stderr, "wcetfuzz: --kernel is required")
		return exitMissingKernel
	}
	if dumpRequested(fs) && fs.dumpName == "" {
		fmt.Fprintln(stderr, "wcetfuzz: a --dump-* flag was set without --dump-name")
		return exitMissingDumpName
	}

	switch cmd {
	case "showmap":
		return runShowmap(fs, stdout, stderr)
	case "fuzz":
		return runFuzz(fs, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "wcetfuzz: unknown command %q\n", cmd)
		return exitUsage
	}
}

func dumpRequested(fs *flags) bool {
	return fs.dumpTimes || fs.dumpCases || fs.dumpTraces || fs.dumpGraph
}

// newFlagSet returns a fresh flag.FlagSet for one subcommand, following
// server/server.go's flag-var style (plain stdlib flag, not a CLI
// framework, per §10).
func newFlagSet(cmd string) *flag.FlagSet {
	return flag.NewFlagSet(cmd, flag.ContinueOnError)
}

func parseFlags(cmd string, args []string, stderr *os.File) (*flags, int) {
	fset := newFlagSet(cmd)
	fs := &flags{}
	fset.StringVar(&fs.kernel, "kernel", "", "kernel image to fuzz")
	fset.StringVar(&fs.configFile, "config", "", "KEY=VALUE or CSV config file (§6.3)")
	fset.StringVar(&fs.dumpName, "dump-name", "", "artifact filename prefix")
	fset.BoolVar(&fs.dumpTimes, "dump-times", false, "append worst-tick history to <dump-name>.time")
	fset.BoolVar(&fs.dumpCases, "dump-cases", false, "write the worst testcase to <dump-name>.case")
	fset.BoolVar(&fs.dumpTraces, "dump-traces", false, "write the worst trace to <dump-name>.trace.json")
	fset.BoolVar(&fs.dumpGraph, "dump-graph", false, "write the STG to <dump-name>.dot")
	fset.StringVar(&fs.selectTask, "select-task", "", "restrict STG feedback to one task's worst job window")
	fset.StringVar(&fs.introspectAddr, "introspect-addr", "", "optional local HTTP introspection address")
	fset.DurationVar(&fs.dumpInterval, "dump-interval", orchestrator.DefaultDumpInterval, "periodic dump cadence")

	switch cmd {
	case "fuzz":
		fset.BoolVar(&fs.random, "random", false, "seed the PRNG from the OS entropy source instead of --seed")
		fset.Int64Var(&fs.seed, "seed", 1, "PRNG seed (ignored if --random)")
		fset.IntVar(&fs.secs, "time", 0, "campaign duration in seconds (0 = run until saturation)")
	case "showmap":
		fset.StringVar(&fs.input, "input", "", "single serialized testcase to run")
	default:
		fmt.Fprintf(stderr, "wcetfuzz: unknown command %q\n", cmd)
		return nil, exitUsage
	}

	if err := fset.Parse(args); err != nil {
		return nil, exitUsage
	}
	if cmd == "showmap" && fs.input == "" {
		fmt.Fprintln(stderr, "wcetfuzz: showmap requires --input")
		return nil, exitUsage
	}
	return fs, exitOK
}

// loadConfig loads the target symbol contract, preferring the CSV form
// (keyed by the kernel file's stem) when the config file parses as CSV,
// falling back to the KEY=VALUE form otherwise (§6.3).
func loadConfig(fs *flags) (*config.Config, error) {
	if fs.configFile == "" {
		return config.ApplyEnvOverrides(&config.Config{
			FuzzMain: config.DefaultFuzzMain, FuzzInput: config.DefaultFuzzInput,
			FuzzInputLen: config.DefaultFuzzInputLen, FuzzLength: config.DefaultFuzzLength,
			FuzzPointer: config.DefaultFuzzPointer, Breakpoint: config.DefaultBreakpoint,
		}), nil
	}
	stem := strings.TrimSuffix(filepath.Base(fs.kernel), filepath.Ext(fs.kernel))
	if c, err := config.LoadCSV(fs.configFile, stem); err == nil {
		return config.ApplyEnvOverrides(c), nil
	}
	c, err := config.LoadKeyValue(fs.configFile)
	if err != nil {
		return nil, err
	}
	return config.ApplyEnvOverrides(c), nil
}

func fileDumper(prefix string) orchestrator.Dumper {
	return func(ctx context.Context, name string, data []byte) error {
		return os.WriteFile(name, data, 0o644)
	}
}

func runShowmap(fs *flags, stdout, stderr *os.File) int {
	cfg, err := loadConfig(fs)
	if err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: loading config: %v\n", err)
		return exitRunError
	}
	emu, err := newEmulator(fs.kernel)
	if err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: %v\n", err)
		return exitRunError
	}

	data, err := os.ReadFile(fs.input)
	if err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: reading --input: %v\n", err)
		return exitRunError
	}
	var input model.Input
	if err := json.Unmarshal(data, &input); err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: parsing --input: %v\n", err)
		return exitRunError
	}

	sym, addrs, err := resolveSymbols(fs.kernel, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: %v\n", err)
		return exitRunError
	}
	layer := capture.NewLayer(emu, sym, capture.DefaultFreeRTOSLayout())
	if err := layer.Install(); err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: installing capture hooks: %v\n", err)
		return exitRunError
	}

	var sources []mutate.InterruptSource
	for _, in := range cfg.Interrupts {
		sources = append(sources, mutate.InterruptSource{Index: in.Source, MinIAT: in.MinIAT})
	}
	if err := orchestrator.WriteInput(emu, addrs, sources, &input); err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: writing input to target: %v\n", err)
		return exitRunError
	}

	result, err := emu.Run(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: emulator run: %v\n", err)
		return exitRunError
	}
	log.Infof("showmap: run ended %s at %#x", result.Outcome, result.Addr)

	refined := refine.Run(layer.Records)
	jobs := jobtrack.Extract(refined.Intervals, layer.JobDones)

	intervals := refined.Intervals
	if fs.selectTask != "" {
		filtered, err := query.Filter(intervals, "task="+fs.selectTask)
		if err != nil {
			fmt.Fprintf(stderr, "wcetfuzz: --select-task: %v\n", err)
			return exitRunError
		}
		intervals = filtered
	}
	for _, iv := range intervals {
		fmt.Fprintln(stdout, iv.String())
	}
	writeABBProfile(stdout, jobtrack.ABBProfile(intervals))

	if dumpRequested(fs) {
		g := stg.New()
		g.Observe(stg.Trace{Intervals: refined.Intervals, Jobs: jobs.Jobs})
		dumpShowmapArtifacts(fs, g)
	}
	return exitOK
}

// writeABBProfile prints showmap's per-task, per-ABB WCET breakdown
// (SPEC_FULL.md §12.5): one line per (task, ABB start address), in a
// stable task-then-address order so the output is diffable run to run.
func writeABBProfile(w io.Writer, profile map[string]map[uint32]jobtrack.ABBStats) {
	tasks := make([]string, 0, len(profile))
	for task := range profile {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)

	for _, task := range tasks {
		byStart := profile[task]
		starts := make([]uint32, 0, len(byStart))
		for start := range byStart {
			starts = append(starts, start)
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

		for _, start := range starts {
			st := byStart[start]
			fmt.Fprintf(w, "abb task=%s start=%#x instances=%d exec_events=%d worst_ticks=%d total_ticks=%d\n",
				task, start, st.Instances, st.ExecEvents, st.WorstTicks, st.TotalTicks)
		}
	}
}

func dumpShowmapArtifacts(fs *flags, g *stg.STG) {
	if fs.dumpGraph {
		if err := os.WriteFile(fs.dumpName+".dot", []byte(g.Dot()), 0o644); err != nil {
			log.Errorf("wcetfuzz: writing %s.dot: %v", fs.dumpName, err)
		}
	}
	if fs.dumpTimes {
		line := fmt.Sprintf("%d,%d\n", g.WorstOverallTicks, time.Now().UnixMilli())
		f, err := os.OpenFile(fs.dumpName+".time", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Errorf("wcetfuzz: opening %s.time: %v", fs.dumpName, err)
			return
		}
		defer f.Close()
		if _, err := f.WriteString(line); err != nil {
			log.Errorf("wcetfuzz: writing %s.time: %v", fs.dumpName, err)
		}
	}
}

func runFuzz(fs *flags, stdout, stderr *os.File) int {
	cfg, err := loadConfig(fs)
	if err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: loading config: %v\n", err)
		return exitRunError
	}
	emu, err := newEmulator(fs.kernel)
	if err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: %v\n", err)
		return exitRunError
	}

	r := seedRand(fs)
	sym, addrs, err := resolveSymbols(fs.kernel, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: %v\n", err)
		return exitRunError
	}
	layer := capture.NewLayer(emu, sym, capture.DefaultFreeRTOSLayout())
	if err := layer.Install(); err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: installing capture hooks: %v\n", err)
		return exitRunError
	}

	g := stg.New()
	g.SelectTask = fs.selectTask

	var sources []mutate.InterruptSource
	for _, in := range cfg.Interrupts {
		sources = append(sources, mutate.InterruptSource{Index: in.Source, MinIAT: in.MinIAT})
	}

	variant := schedule.PathHash
	if fs.selectTask == "" {
		variant = schedule.EdgeIndex
	}
	sched := schedule.New(variant, r)

	o := orchestrator.New(emu, layer, addrs, sources, g, sched, r)
	o.DumpPrefix = fs.dumpName
	o.DumpInterval = fs.dumpInterval
	if dumpRequested(fs) {
		o.Dump = fileDumper(fs.dumpName)
	}

	if err := o.Init(context.Background(), []*corpus.Entry{corpus.New(model.NewInput())}); err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: %v\n", err)
		return exitRunError
	}

	if fs.introspectAddr != "" {
		srv := introspect.New(introspectSource{o})
		go func() {
			if err := srv.ListenAndServe(fs.introspectAddr); err != nil {
				log.Errorf("wcetfuzz: introspection server: %v", err)
			}
		}()
	}

	saturate := fs.secs == 0
	deadline := time.Duration(fs.secs) * time.Second
	if err := o.Run(context.Background(), deadline, saturate); err != nil {
		fmt.Fprintf(stderr, "wcetfuzz: run: %v\n", err)
		return exitRunError
	}
	return exitOK
}

func seedRand(fs *flags) *rand.Rand {
	if fs.random {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return rand.New(rand.NewSource(fs.seed))
}

// introspectSource adapts *orchestrator.Orchestrator to introspect.Source:
// the orchestrator exposes its STG as a field (it's written directly by the
// run-loop), which can't itself satisfy an interface method of the same
// name.
type introspectSource struct {
	o *orchestrator.Orchestrator
}

func (s introspectSource) STG() *stg.STG              { return s.o.STG }
func (s introspectSource) Generation() int            { return s.o.Generation() }
func (s introspectSource) Stats() introspect.Stats     { return s.o.Stats() }
func (s introspectSource) Favored() map[string]string { return s.o.Favored() }
