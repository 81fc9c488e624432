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
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/wcetfuzz/internal/jobtrack"
)

func devNull(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("opening %s: %v", os.DevNull, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestRunNoArgsIsUsageError(t *testing.T) {
	null := devNull(t)
	if got := run(nil, null, null); got != exitUsage {
		t.Errorf("run(nil) = %d, want %d", got, exitUsage)
	}
}

func TestRunUnknownCommandIsUsageError(t *testing.T) {
	null := devNull(t)
	if got := run([]string{"bogus"}, null, null); got != exitUsage {
		t.Errorf("run([bogus]) = %d, want %d", got, exitUsage)
	}
}

func TestRunMissingKernelIsExitMissingKernel(t *testing.T) {
	null := devNull(t)
	if got := run([]string{"fuzz", "--time=1"}, null, null); got != exitMissingKernel {
		t.Errorf("run without --kernel = %d, want %d", got, exitMissingKernel)
	}
}

func TestRunDumpFlagWithoutNameIsExitMissingDumpName(t *testing.T) {
	null := devNull(t)
	args := []string{"fuzz", "--kernel=/tmp/does-not-exist.elf", "--dump-graph"}
	if got := run(args, null, null); got != exitMissingDumpName {
		t.Errorf("run with --dump-graph and no --dump-name = %d, want %d", got, exitMissingDumpName)
	}
}

func TestRunShowmapRequiresInput(t *testing.T) {
	null := devNull(t)
	args := []string{"showmap", "--kernel=/tmp/does-not-exist.elf"}
	if got := run(args, null, null); got != exitUsage {
		t.Errorf("run(showmap without --input) = %d, want %d", got, exitUsage)
	}
}

func TestRunFuzzWithoutEmulatorBindingIsRunError(t *testing.T) {
	null := devNull(t)
	args := []string{"fuzz", "--kernel=/tmp/does-not-exist.elf", "--time=1"}
	if got := run(args, null, null); got != exitRunError {
		t.Errorf("run(fuzz) with no emulator binding = %d, want %d", got, exitRunError)
	}
}

func TestWriteABBProfilePrintsPerTaskPerABBBreakdown(t *testing.T) {
	profile := map[uint32]jobtrack.ABBStats{
		0x100: {Instances: 2, ExecEvents: 3, TotalTicks: 30, WorstTicks: 20},
	}
	var buf bytes.Buffer
	writeABBProfile(&buf, map[string]map[uint32]jobtrack.ABBStats{"task_a": profile})

	got := buf.String()
	for _, want := range []string{"task=task_a", "start=0x100", "instances=2", "exec_events=3", "worst_ticks=20", "total_ticks=30"} {
		if !strings.Contains(got, want) {
			t.Errorf("writeABBProfile() output = %q, want it to contain %q", got, want)
		}
	}
}

func TestParseFlagsDefaultsDumpInterval(t *testing.T) {
	null := devNull(t)
	fs, code := parseFlags("fuzz", []string{"--kernel=k.elf"}, null)
	if code != exitOK || fs == nil {
		t.Fatalf("parseFlags() code = %d, fs = %v", code, fs)
	}
	if fs.dumpInterval <= 0 {
		t.Errorf("dumpInterval = %v, want > 0", fs.dumpInterval)
	}
}

func TestLoadConfigDefaultsWithoutConfigFile(t *testing.T) {
	fs := &flags{kernel: "k.elf"}
	cfg, err := loadConfig(fs)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.FuzzInput == "" {
		t.Errorf("FuzzInput = %q, want a default symbol name", cfg.FuzzInput)
	}
}

func TestLoadConfigFromKeyValueFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wcetfuzz.cfg")
	if err := os.WriteFile(path, []byte("FUZZ_INPUT=my_input\n"), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	fs := &flags{kernel: "k.elf", configFile: path}
	cfg, err := loadConfig(fs)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.FuzzInput != "my_input" {
		t.Errorf("FuzzInput = %q, want %q", cfg.FuzzInput, "my_input")
	}
}
