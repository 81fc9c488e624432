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
// Package config loads the target symbol contract (§6.2) from either a
// KEY=VALUE file or a CSV keyed by kernel file stem (§6.3), and applies the
// environment-variable overrides the symbol contract documents.
package config

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/google/wcetfuzz/internal/clock"
)

// Default symbol names (§6.2), overridden by the environment variables of
// the same name documented there.
const (
	DefaultFuzzMain      = "FUZZ_MAIN"
	DefaultFuzzInput     = "FUZZ_INPUT"
	DefaultFuzzInputLen  = "FUZZ_INPUT_LEN"
	DefaultFuzzLength    = "FUZZ_LENGTH"
	DefaultFuzzPointer   = "FUZZ_POINTER"
	DefaultBreakpoint    = "BREAKPOINT"
	DefaultTriggerDoneFn = "trigger_job_done"
)

// Interrupt is one configured interrupt source, decoded from the
// interrupt-config column (§6.3: "source#min_iat_µs;source#min_iat_µs;...").
type Interrupt struct {
	Source int
	MinIAT clock.Tick
}

// Config is the resolved target symbol contract for one kernel image (§6.2).
type Config struct {
	Stem string

	FuzzMain     string
	FuzzInput    string
	FuzzInputLen string
	FuzzLength   string
	FuzzPointer  string
	Breakpoint   string

	SeedRandom bool
	SeedDir    string
	DumpSeed   string

	Interrupts []Interrupt
}

// defaults returns a Config pre-populated with the documented default
// symbol names (§6.2).
func defaults() *Config {
	return &Config{
		FuzzMain:     DefaultFuzzMain,
		FuzzInput:    DefaultFuzzInput,
		FuzzInputLen: DefaultFuzzInputLen,
		FuzzLength:   DefaultFuzzLength,
		FuzzPointer:  DefaultFuzzPointer,
		Breakpoint:   DefaultBreakpoint,
	}
}

// LoadKeyValue parses a "KEY=VALUE, one pair per line" config file (§6.3).
// Blank lines and lines starting with '#' are skipped.
func LoadKeyValue(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "config: open %q: %v", path, err)
	}
	defer f.Close()

	c := defaults()
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, status.Errorf(codes.Internal, "config: %s:%d: missing '=' in %q", path, lineNo, line)
		}
		if err := c.setField(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, status.Errorf(codes.Internal, "config: %s:%d: %v", path, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, status.Errorf(codes.Internal, "config: read %q: %v", path, err)
	}
	return c, nil
}

// csvColumns is the documented column order for the CSV config form (§6.3):
// "stem, FUZZ_MAIN, FUZZ_INPUT, FUZZ_INPUT_LEN, BREAKPOINT, (unused),
// interrupt-config".
const (
	csvStem = iota
	csvFuzzMain
	csvFuzzInput
	csvFuzzInputLen
	csvBreakpoint
	csvUnused
	csvInterruptConfig
	csvMinColumns
)

// LoadCSV parses the CSV config form (§6.3) and returns the row whose stem
// column matches stem.
func LoadCSV(path, stem string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "config: open %q: %v", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "config: read %q: %v", path, err)
		}
		if len(row) < csvMinColumns || row[csvStem] != stem {
			continue
		}
		c := defaults()
		c.Stem = row[csvStem]
		c.FuzzMain = row[csvFuzzMain]
		c.FuzzInput = row[csvFuzzInput]
		c.FuzzInputLen = row[csvFuzzInputLen]
		c.Breakpoint = row[csvBreakpoint]
		ints, err := parseInterruptConfig(row[csvInterruptConfig])
		if err != nil {
			return nil, status.Errorf(codes.Internal, "config: %q stem %q: %v", path, stem, err)
		}
		c.Interrupts = ints
		return c, nil
	}
	return nil, status.Errorf(codes.NotFound, "config: %q: no row for stem %q", path, stem)
}

// parseInterruptConfig decodes "source#min_iat_µs;source#min_iat_µs;..."
// (§6.3).
func parseInterruptConfig(field string) ([]Interrupt, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	var out []Interrupt
	for _, part := range strings.Split(field, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		srcStr, iatStr, ok := strings.Cut(part, "#")
		if !ok {
			return nil, fmt.Errorf("malformed interrupt-config entry %q", part)
		}
		src, err := strconv.Atoi(srcStr)
		if err != nil {
			return nil, fmt.Errorf("interrupt-config entry %q: bad source: %v", part, err)
		}
		iatUs, err := strconv.ParseFloat(iatStr, 64)
		if err != nil {
			return nil, fmt.Errorf("interrupt-config entry %q: bad min_iat: %v", part, err)
		}
		out = append(out, Interrupt{Source: src, MinIAT: clock.Tick(clock.MicrosecondsToTicks(iatUs))})
	}
	return out, nil
}

// setField assigns one KEY=VALUE pair onto the matching Config field (§6.3).
func (c *Config) setField(key, value string) error {
	switch key {
	case "stem":
		c.Stem = value
	case DefaultFuzzMain:
		c.FuzzMain = value
	case DefaultFuzzInput:
		c.FuzzInput = value
	case DefaultFuzzInputLen:
		c.FuzzInputLen = value
	case DefaultFuzzLength:
		c.FuzzLength = value
	case DefaultFuzzPointer:
		c.FuzzPointer = value
	case DefaultBreakpoint:
		c.Breakpoint = value
	case "SEED_RANDOM":
		c.SeedRandom = value != "" && value != "0" && strings.ToLower(value) != "false"
	case "SEED_DIR":
		c.SeedDir = value
	case "DUMP_SEED":
		c.DumpSeed = value
	case "interrupt-config":
		ints, err := parseInterruptConfig(value)
		if err != nil {
			return err
		}
		c.Interrupts = ints
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// envOverrideKeys lists the environment variables the symbol contract names
// (§6.2's final paragraph), in the order they're applied.
var envOverrideKeys = []string{
	"FUZZ_MAIN", "FUZZ_INPUT", "FUZZ_INPUT_LEN", "FUZZ_LENGTH", "FUZZ_POINTER",
	"BREAKPOINT", "SEED_RANDOM", "SEED_DIR", "DUMP_SEED",
}

// ApplyEnvOverrides mutates c in place with any of envOverrideKeys that are
// set in the process environment, then returns c for chaining.
func ApplyEnvOverrides(c *Config) *Config {
	for _, key := range envOverrideKeys {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		// setField never fails on these fixed keys; error path unreachable.
		_ = c.setField(key, v)
	}
	return c
}
