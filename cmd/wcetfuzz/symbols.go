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
	"debug/elf"
	"fmt"

	"github.com/google/wcetfuzz/internal/capture"
	"github.com/google/wcetfuzz/internal/config"
	"github.com/google/wcetfuzz/internal/model"
	"github.com/google/wcetfuzz/internal/orchestrator"
)

// interruptTableSymbol names the base of the per-source interrupt
// arrival-time table the harness exposes (§4.8 step 3); it is not part of
// the documented §6.2 symbol contract, so it is resolved the same way as
// the contract's named symbols rather than added as a new config field.
const interruptTableSymbol = "INTERRUPT_TABLE"

// interruptTableStride is the per-source slot size: model.MaxInterrupts
// uint32 arrival-time ticks.
const interruptTableStride = uint32(model.MaxInterrupts * 4)

// symtab reads a kernel ELF image's symbol table into a name->address map.
func symtab(kernelFile string) (map[string]uint32, error) {
	f, err := elf.Open(kernelFile)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", kernelFile, err)
	}
	defer f.Close()
	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("reading symbols from %s: %w", kernelFile, err)
	}
	out := make(map[string]uint32, len(syms))
	for _, s := range syms {
		out[s.Name] = uint32(s.Value)
	}
	return out, nil
}

// lookup resolves name in tab, returning 0 (treated as "absent/optional" by
// capture.Symbols and HarnessAddrs) when name is empty or unresolved.
func lookup(tab map[string]uint32, name string) uint32 {
	if name == "" {
		return 0
	}
	return tab[name]
}

// resolveSymbols maps cfg's named symbol contract (§6.2) onto the kernel
// image's actual addresses, producing both the capture layer's Symbols and
// the run-loop's HarnessAddrs. ISR entry/range discovery requires a
// target-specific vector-table convention this generic resolver doesn't
// know, so Symbols.ISRs is left empty; a production binding would extend
// this function (or supply Symbols directly) per target family.
func resolveSymbols(kernelFile string, cfg *config.Config) (capture.Symbols, orchestrator.HarnessAddrs, error) {
	tab, err := symtab(kernelFile)
	if err != nil {
		return capture.Symbols{}, orchestrator.HarnessAddrs{}, err
	}

	sym := capture.Symbols{
		FuzzMain:       lookup(tab, cfg.FuzzMain),
		FuzzInput:      lookup(tab, cfg.FuzzInput),
		FuzzLength:     lookup(tab, cfg.FuzzLength),
		Breakpoint:     lookup(tab, cfg.Breakpoint),
		TriggerJobDone: lookup(tab, config.DefaultTriggerDoneFn),
		CurrentTCB:     lookup(tab, "pxCurrentTCB"),
	}
	if sym.FuzzInput == 0 {
		return capture.Symbols{}, orchestrator.HarnessAddrs{}, fmt.Errorf("resolving %s: symbol not found in %s", cfg.FuzzInput, kernelFile)
	}

	addrs := orchestrator.HarnessAddrs{
		FuzzInput:            sym.FuzzInput,
		FuzzLength:           sym.FuzzLength,
		InterruptTableBase:   lookup(tab, interruptTableSymbol),
		InterruptTableStride: interruptTableStride,
	}
	return sym, addrs, nil
}
