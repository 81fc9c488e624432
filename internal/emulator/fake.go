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
package emulator

import (
	"context"
	"fmt"
)

// Fake is an in-memory Emulator implementation driven entirely by a
// pre-scripted instruction trace (a sequence of jumps and memory reads to
// replay on each Run). It exists so the capture/refine/jobtrack/stg packages
// can be tested without a real full-system emulator, which is an external
// collaborator outside this module's scope.
type Fake struct {
	mem        map[uint32]byte
	regs       [4][4]uint32
	icount     uint64
	breakpoint map[uint32]bool

	jumpHook  JumpHook
	instrHook map[uint32]InstrHook
	memHooks  []fakeMemHook

	// Script is the fixed sequence of events Run replays, setting icount
	// to each event's Tick and stopping at the first breakpoint address it
	// produces as a jump destination.
	Script []ScriptEvent
	pos    int
}

type fakeMemHook struct {
	start, size uint32
	hook        MemReadHook
}

// ScriptEvent is one step of a Fake's scripted trace: either a classified
// jump or a memory read, each tagged with the icount tick it occurs at.
type ScriptEvent struct {
	Tick     uint64
	Jump     *struct{ Src, Dst uint32 }
	MemRead  *struct {
		Addr uint32
		Byte byte
	}
}

// NewFake returns an empty Fake whose memory is a sparse byte map that reads
// as zero wherever nothing has been written.
func NewFake() *Fake {
	return &Fake{
		mem:        make(map[uint32]byte),
		breakpoint: make(map[uint32]bool),
		instrHook:  make(map[uint32]InstrHook),
	}
}

func (f *Fake) Init(ctx context.Context, args []string) error { return nil }

func (f *Fake) SetBreakpoint(addr uint32) error {
	f.breakpoint[addr] = true
	return nil
}

func (f *Fake) RemoveBreakpoint(addr uint32) error {
	delete(f.breakpoint, addr)
	return nil
}

// Run replays Script from where it left off, firing installed hooks, until a
// jump destination matches an installed breakpoint or the script is
// exhausted (at which point it reports Crash, mirroring "any other exit").
func (f *Fake) Run(ctx context.Context) (RunResult, error) {
	for f.pos < len(f.Script) {
		ev := f.Script[f.pos]
		f.pos++
		f.icount = ev.Tick
		switch {
		case ev.Jump != nil:
			if f.jumpHook != nil {
				f.jumpHook(ev.Jump.Src, ev.Jump.Dst)
			}
			if h, ok := f.instrHook[ev.Jump.Dst]; ok {
				h(ev.Jump.Dst)
			}
			if f.breakpoint[ev.Jump.Dst] {
				return RunResult{Outcome: Breakpoint, Addr: ev.Jump.Dst}, nil
			}
		case ev.MemRead != nil:
			f.mem[ev.MemRead.Addr] = ev.MemRead.Byte
			for _, mh := range f.memHooks {
				if ev.MemRead.Addr >= mh.start && ev.MemRead.Addr < mh.start+mh.size {
					mh.hook(ev.MemRead.Addr, ev.MemRead.Byte)
				}
			}
		}
	}
	return RunResult{Outcome: Crash}, nil
}

func (f *Fake) ReadMem(addr uint32, buf []byte) error {
	for i := range buf {
		buf[i] = f.mem[addr+uint32(i)]
	}
	return nil
}

func (f *Fake) WriteMem(addr uint32, buf []byte) error {
	for i, b := range buf {
		f.mem[addr+uint32(i)] = b
	}
	return nil
}

func (f *Fake) CPU(i int) CPU {
	if i < 0 || i >= len(f.regs) {
		return fakeCPU{}
	}
	return fakeCPU{regs: &f.regs[i]}
}

func (f *Fake) ICountGetRaw() uint64 { return f.icount }

func (f *Fake) Snapshot(ctx context.Context) (Snapshot, error) {
	pos := f.pos
	return fakeSnapshot{restore: func() { f.pos = pos }}, nil
}

func (f *Fake) InstallJumpHook(h JumpHook) error {
	f.jumpHook = h
	return nil
}

func (f *Fake) InstallInstrHook(pc uint32, h InstrHook) error {
	f.instrHook[pc] = h
	return nil
}

func (f *Fake) InstallMemReadHook(start, size uint32, h MemReadHook) error {
	f.memHooks = append(f.memHooks, fakeMemHook{start: start, size: size, hook: h})
	return nil
}

// SetReg sets register reg of core i, for building exception-return test
// fixtures (§4.1's ARM Cortex-M SP/LR reconstruction).
func (f *Fake) SetReg(i int, reg Reg, v uint32) error {
	if i < 0 || i >= len(f.regs) {
		return fmt.Errorf("emulator: core index %d out of range", i)
	}
	f.regs[i][reg] = v
	return nil
}

type fakeCPU struct {
	regs *[4]uint32
}

func (c fakeCPU) ReadReg(reg Reg) uint32 {
	if c.regs == nil {
		return 0
	}
	return c.regs[reg]
}

type fakeSnapshot struct {
	restore func()
}

func (s fakeSnapshot) Restore(ctx context.Context) error {
	s.restore()
	return nil
}
