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
// Package emulator defines the external interface the core fuzzer drives a
// full-system instruction-accurate emulator through (§6.1): breakpoints,
// memory access, register access, fast snapshots, and the three hook classes
// the capture layer installs. The emulator itself — a QEMU-class, icount-mode
// full-system emulator — is an external collaborator and out of this
// module's scope; this package is the seam a real emulator binding, or a test
// fake, implements.
package emulator

import "context"

// Reg names the CPU registers the capture layer reads when reconstructing an
// ISR's real return PC from its exception stack frame (§4.1).
type Reg int

const (
	RegPC Reg = iota
	// RegSP is the currently banked stack pointer register (reg 13): the
	// Main Stack Pointer while running in handler mode.
	RegSP
	RegLR
	// RegPSP is the Process Stack Pointer, banked separately from RegSP and
	// only meaningful when thread-mode code was using it (§4.1's EXC_RETURN
	// decode on ARM Cortex-M).
	RegPSP
)

// Outcome classifies how one Run call ended (§6.1, §7).
type Outcome int

const (
	// Breakpoint means execution stopped at an installed breakpoint address.
	Breakpoint Outcome = iota
	// Timeout means the 10-second host wall-clock budget elapsed first.
	Timeout
	// Crash means the guest exited some way other than the configured end
	// breakpoint (fault, abort, unexpected halt).
	Crash
)

func (o Outcome) String() string {
	switch o {
	case Breakpoint:
		return "Breakpoint"
	case Timeout:
		return "Timeout"
	case Crash:
		return "Crash"
	default:
		return "Unknown"
	}
}

// RunResult is the result of one Run call: the Outcome, and — for Breakpoint
// — the address execution stopped at.
type RunResult struct {
	Outcome Outcome
	Addr    uint32
}

// JumpHook is called synchronously for every control-flow-changing
// instruction the emulator retires, before the capture layer's own
// classification logic runs.
type JumpHook func(src, dst uint32)

// InstrHook is called synchronously whenever the program counter reaches one
// of the addresses it was installed for (used for ISR-entry and job-done
// marker hooks, §4.1).
type InstrHook func(pc uint32)

// MemReadHook is called synchronously for every byte read from an address
// range the hook was installed over.
type MemReadHook func(addr uint32, b byte)

// Snapshot is an opaque handle to a fast emulator state snapshot.
type Snapshot interface {
	// Restore rewinds the emulator to the state captured when this snapshot
	// was created.
	Restore(ctx context.Context) error
}

// CPU exposes the register file of one emulated core.
type CPU interface {
	ReadReg(reg Reg) uint32
}

// Emulator is the capability set the core fuzzer requires of the underlying
// full-system emulator (§6.1). Implementations are expected to be driven
// from a single goroutine: the run-loop orchestrator never calls an
// Emulator method concurrently with another call on the same instance.
type Emulator interface {
	// Init starts (or attaches to) the emulated target with the given
	// argument vector (kernel image path, machine model, etc).
	Init(ctx context.Context, args []string) error

	SetBreakpoint(addr uint32) error
	RemoveBreakpoint(addr uint32) error

	// Run resumes execution until a breakpoint, a crash, or the wall-clock
	// timeout (internal/clock.WallClockTimeout), whichever comes first.
	Run(ctx context.Context) (RunResult, error)

	ReadMem(addr uint32, buf []byte) error
	WriteMem(addr uint32, buf []byte) error

	// CPU returns the i'th emulated core's register file.
	CPU(i int) CPU

	// ICountGetRaw returns the emulator's current instruction counter.
	ICountGetRaw() uint64

	// Snapshot captures the current full machine state for later Restore.
	Snapshot(ctx context.Context) (Snapshot, error)

	// InstallJumpHook installs the capture layer's single jump classifier.
	InstallJumpHook(h JumpHook) error
	// InstallInstrHook installs h to fire whenever pc is reached.
	InstallInstrHook(pc uint32, h InstrHook) error
	// InstallMemReadHook installs h to fire for reads in [start, start+size).
	InstallMemReadHook(start, size uint32, h MemReadHook) error
}
