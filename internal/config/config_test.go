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
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadKeyValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fuzz.conf")
	content := "# comment\nFUZZ_MAIN=my_main\nBREAKPOINT=my_bp\nSEED_RANDOM=1\ninterrupt-config=0#100;1#250\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadKeyValue(path)
	if err != nil {
		t.Fatalf("LoadKeyValue() error = %v", err)
	}
	if c.FuzzMain != "my_main" {
		t.Errorf("FuzzMain = %q, want my_main", c.FuzzMain)
	}
	if c.Breakpoint != "my_bp" {
		t.Errorf("Breakpoint = %q, want my_bp", c.Breakpoint)
	}
	if c.FuzzInput != DefaultFuzzInput {
		t.Errorf("FuzzInput = %q, want default %q", c.FuzzInput, DefaultFuzzInput)
	}
	if !c.SeedRandom {
		t.Error("SeedRandom = false, want true")
	}
	if len(c.Interrupts) != 2 || c.Interrupts[0].Source != 0 || c.Interrupts[1].Source != 1 {
		t.Errorf("Interrupts = %+v, want two entries for sources 0 and 1", c.Interrupts)
	}
}

func TestLoadKeyValueMissingEquals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.conf")
	if err := os.WriteFile(path, []byte("NOT_A_PAIR\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKeyValue(path); err == nil {
		t.Fatal("LoadKeyValue() error = nil, want error for malformed line")
	}
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fuzz.csv")
	content := "stemA,mainA,inputA,lenA,bpA,ignored,0#10;2#20\nstemB,mainB,inputB,lenB,bpB,ignored,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCSV(path, "stemB")
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if c.FuzzMain != "mainB" {
		t.Errorf("FuzzMain = %q, want mainB", c.FuzzMain)
	}
	if len(c.Interrupts) != 0 {
		t.Errorf("Interrupts = %+v, want none for stemB", c.Interrupts)
	}

	c, err = LoadCSV(path, "stemA")
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if len(c.Interrupts) != 2 {
		t.Errorf("Interrupts = %+v, want two entries for stemA", c.Interrupts)
	}
}

func TestLoadCSVUnknownStem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fuzz.csv")
	if err := os.WriteFile(path, []byte("stemA,m,i,l,b,u,\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCSV(path, "missing"); err == nil {
		t.Fatal("LoadCSV() error = nil, want error for unknown stem")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	c := defaults()
	t.Setenv("FUZZ_MAIN", "env_main")
	t.Setenv("SEED_DIR", "/tmp/seeds")
	ApplyEnvOverrides(c)
	if c.FuzzMain != "env_main" {
		t.Errorf("FuzzMain = %q, want env_main", c.FuzzMain)
	}
	if c.SeedDir != "/tmp/seeds" {
		t.Errorf("SeedDir = %q, want /tmp/seeds", c.SeedDir)
	}
}
