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
package capture

import (
	"github.com/golang/glog"

	"github.com/google/wcetfuzz/internal/emulator"
	"github.com/google/wcetfuzz/internal/model"
)

// exceptionReturnMagic values a Cortex-M link register takes on exception
// return; the low bit is a reserved/ignored bit the hardware sets.
const (
	excReturnHandlerMSP = 0xFFFFFFF1
	excReturnThreadMSP  = 0xFFFFFFF9
	excReturnThreadPSP  = 0xFFFFFFFD
)

// exceptionFrameRetPCOffset is the byte offset of the saved return PC within
// the automatically-stacked exception frame (r0-r3, r12, lr, pc, xpsr).
const exceptionFrameRetPCOffset = 0x18

// Layer implements the capture layer (C1): it installs the jump, ISR-entry,
// job-done, and memory-read hooks on the emulator, classifies each jump
// per §4.1, and on every classified transition snapshots the kernel's task
// lists into a model.RawRecord appended to Records.
type Layer struct {
	Emu     emulator.Emulator
	Symbols Symbols
	walker  ListWalker

	Records  []model.RawRecord
	JobDones []model.JobDone

	reads []model.MemRead
}

// NewLayer constructs a capture Layer over emu using the given symbol
// contract and kernel list layout.
func NewLayer(emu emulator.Emulator, symbols Symbols, layout KernelLayout) *Layer {
	return &Layer{
		Emu:     emu,
		Symbols: symbols,
		walker:  ListWalker{Layout: layout, Emu: emu},
	}
}

// Install wires the capture layer's hooks onto the emulator (§4.1, §6.1).
// Job-done marker hits are only hooked when the symbol contract names one
// (job tracking is optional, §4.3).
func (l *Layer) Install() error {
	if err := l.Emu.InstallJumpHook(l.onJump); err != nil {
		return err
	}
	if err := l.Emu.InstallMemReadHook(l.Symbols.FuzzInput, fuzzInputWindowSize, l.onMemRead); err != nil {
		return err
	}
	for _, isr := range l.Symbols.ISRs {
		isr := isr
		if err := l.Emu.InstallInstrHook(isr.Entry, func(pc uint32) { l.onISRStart(isr, pc) }); err != nil {
			return err
		}
	}
	if l.Symbols.TriggerJobDone != 0 {
		if err := l.Emu.InstallInstrHook(l.Symbols.TriggerJobDone, l.onJobDone); err != nil {
			return err
		}
	}
	return nil
}

// onJobDone records a job-done marker hit against the currently-running
// task's name (§4.3's response stream).
func (l *Layer) onJobDone(pc uint32) {
	curTCBAddr, err := l.readPtr(l.Symbols.CurrentTCB)
	if err != nil || curTCBAddr == 0 {
		return
	}
	cur, err := l.walker.readTCB(curTCBAddr)
	if err != nil {
		return
	}
	l.JobDones = append(l.JobDones, model.JobDone{Tick: l.Emu.ICountGetRaw(), TaskName: cur.Name})
}

// fuzzInputWindowSize bounds how much of the input region the memory-read
// hook watches; MAX_INPUT_SIZE-sized inputs (§4.8) never exceed it.
const fuzzInputWindowSize = 1 << 16

func (l *Layer) onMemRead(addr uint32, b byte) {
	l.reads = append(l.reads, model.MemRead{Addr: addr, Byte: b})
}

func (l *Layer) onISRStart(isr ISR, pc uint32) {
	l.triggerCollection(pc, pc, model.ISRStart, isr.Name)
}

// onJump classifies one retired jump per §4.1's rules and, for a
// classified transition, triggers a collection.
func (l *Layer) onJump(src, dst uint32) {
	switch {
	case l.Symbols.AppCode.Contains(src) && l.Symbols.APICode.Contains(dst) && !l.Symbols.InAnyISRRange(src):
		l.triggerCollection(src, dst, model.APIStart, l.symbolAt(dst))

	case l.Symbols.APICode.Contains(src) && dst == 0:
		// Ignore returns that land back inside API or ISR code: the core
		// only accounts for the first call depth of API calls from
		// application code, so a nested API-into-API return is
		// suppressed rather than recorded as its own APIEnd/APIStart
		// pair (§4.1 class 2).
		if dest := l.apiReturnDest(); !l.Symbols.APICode.Contains(dest) && !l.Symbols.InAnyISRRange(dest) {
			l.triggerCollection(src, dest, model.APIEnd, l.symbolAt(src))
		}

	case dst == 0:
		if isr, ok := l.Symbols.ISRFor(src); ok {
			realPC := l.reconstructReturnPC()
			l.triggerCollection(src, realPC, model.ISREnd, isr.Name)
		}

	case dst == l.Symbols.Breakpoint:
		l.triggerCollection(src, dst, model.End, "")
	}
}

// symbolAt is a placeholder name resolver for API functions; a real
// binding resolves dst against the loaded symbol table. ISR names come
// directly from Symbols.ISRs; API functions are labelled by address only,
// so this only needs to produce a stable, non-empty label.
func (l *Layer) symbolAt(addr uint32) string {
	return addrLabel(addr)
}

// reconstructReturnPC decodes the link register per the ARM Cortex-M
// exception-return contract (§4.1): a magic EXC_RETURN value in LR selects
// whether the true return PC is stacked above the Main or Process Stack
// Pointer, at a fixed offset into the automatically-stacked exception frame.
func (l *Layer) reconstructReturnPC() uint32 {
	cpu := l.Emu.CPU(0)
	lr := cpu.ReadReg(emulator.RegLR) &^ 1
	var sp uint32
	switch lr | 1 {
	case excReturnThreadPSP:
		sp = cpu.ReadReg(emulator.RegPSP)
	case excReturnThreadMSP, excReturnHandlerMSP:
		sp = cpu.ReadReg(emulator.RegSP)
	default:
		return lr
	}
	var buf [4]byte
	if err := l.Emu.ReadMem(sp+exceptionFrameRetPCOffset, buf[:]); err != nil {
		glog.Warningf("capture: failed to read exception return frame at %#x: %v", sp+exceptionFrameRetPCOffset, err)
		return lr
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// apiReturnDest resolves the real destination of an in-flight API return.
// Unlike an ISR return, an API function returns with an ordinary `bx lr`
// rather than an exception return, so the destination is simply the link
// register's value (with the Thumb bit cleared), no exception-frame walk
// needed.
func (l *Layer) apiReturnDest() uint32 {
	return l.Emu.CPU(0).ReadReg(emulator.RegLR) &^ 1
}

// triggerCollection performs the consistent snapshot described in §4.1: it
// reads the current TCB, decides whether it is safe to walk the task lists,
// and appends one RawRecord to Records. A zero current-TCB pointer causes
// the record to be dropped entirely.
func (l *Layer) triggerCollection(from, to uint32, event model.CaptureEvent, name string) {
	curTCBAddr, err := l.readPtr(l.Symbols.CurrentTCB)
	if err != nil {
		glog.Warningf("capture: failed to read current TCB pointer: %v", err)
		return
	}
	if curTCBAddr == 0 {
		return
	}
	cur, err := l.walker.readTCB(curTCBAddr)
	if err != nil {
		glog.Warningf("capture: failed to read current TCB at %#x: %v", curTCBAddr, err)
		return
	}

	rec := model.RawRecord{
		InstrCount:  l.Emu.ICountGetRaw(),
		CurrentTask: cur,
		FromPC:      from,
		ToPC:        to,
		Event:       event,
		Name:        name,
		Reads:       l.reads,
	}
	l.reads = nil

	critical, _ := l.readPtr(l.Symbols.CriticalNesting)
	suspended, _ := l.readPtr(l.Symbols.SchedulerSuspended)
	safe := event == model.APIStart || event == model.APIEnd || (critical == 0 && suspended == 0)
	if !safe {
		rec.ReadInvalid = true
		l.Records = append(l.Records, rec)
		return
	}

	valid := true
	if delayed, ok := l.walker.Walk(l.Symbols.DelayedList); ok {
		rec.DelayedList = delayed
	} else {
		valid = false
	}
	if overflowed, ok := l.walker.Walk(l.Symbols.OverflowedDelayedList); ok {
		rec.OverflowedDelayedList = overflowed
	} else {
		valid = false
	}
	rec.ReadyLists = make([][]model.TCBSnapshot, l.Symbols.NumPriorities)
	for i := 0; i < l.Symbols.NumPriorities; i++ {
		headAddr := l.Symbols.ReadyListsBase + uint32(i)*l.walker.Layout.ListSize
		list, ok := l.walker.Walk(headAddr)
		if !ok {
			valid = false
			continue
		}
		rec.ReadyLists[i] = list
	}
	rec.ReadInvalid = !valid
	rec.SchedulerSuspended = suspended != 0
	rec.CriticalNesting = int(critical)

	l.Records = append(l.Records, rec)
}

func (l *Layer) readPtr(addr uint32) (uint32, error) {
	var buf [4]byte
	if err := l.Emu.ReadMem(addr, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func addrLabel(addr uint32) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 0, 10)
	b = append(b, '0', 'x')
	for shift := 28; shift >= 0; shift -= 4 {
		b = append(b, hex[(addr>>uint(shift))&0xf])
	}
	return string(b)
}
