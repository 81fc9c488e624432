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
	"encoding/binary"
	"testing"

	"github.com/google/wcetfuzz/internal/emulator"
	"github.com/google/wcetfuzz/internal/model"
)

// writeList lays out a single-item FreeRTOS-style list at headAddr in fe's
// memory: one real ListItem_t whose owner is tcbAddr, preceded by the
// embedded xListEnd sentinel, matching DefaultFreeRTOSLayout.
func writeList(fe *emulator.Fake, layout KernelLayout, headAddr, itemAddr, tcbAddr uint32) {
	putU32 := func(addr, v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		fe.WriteMem(addr, b[:])
	}
	putU32(headAddr+layout.ListNumItemsOff, 1)
	putU32(headAddr+layout.ListIndexOff, itemAddr)

	// xListEnd.pxNext must point at the one real item.
	putU32(headAddr+layout.ListSize-8, itemAddr)

	putU32(itemAddr+layout.ListItemNextOff, headAddr) // wraps back to sentinel
	putU32(itemAddr+layout.ListItemOwnerOff, tcbAddr)
	putU32(itemAddr+layout.ListItemContainerOff, headAddr)
}

func writeTCB(fe *emulator.Fake, layout KernelLayout, addr uint32, name string, prio, base, mutexes int) {
	nameBytes := make([]byte, layout.TCBNameLen)
	copy(nameBytes, name)
	fe.WriteMem(addr+layout.TCBNameOff, nameBytes)
	putU32 := func(off uint32, v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		fe.WriteMem(addr+off, b[:])
	}
	putU32(layout.TCBPriorityOff, uint32(prio))
	putU32(layout.TCBBasePriorityOff, uint32(base))
	putU32(layout.TCBMutexesHeldOff, uint32(mutexes))
}

func TestListWalkerSingleItem(t *testing.T) {
	fe := emulator.NewFake()
	layout := DefaultFreeRTOSLayout()
	const head, item, tcb = 0x1000, 0x1100, 0x2000
	writeList(fe, layout, head, item, tcb)
	writeTCB(fe, layout, tcb, "idle", 0, 0, 0)

	w := ListWalker{Layout: layout, Emu: fe}
	got, ok := w.Walk(head)
	if !ok {
		t.Fatalf("Walk() ok = false, want true")
	}
	if len(got) != 1 {
		t.Fatalf("len(Walk()) = %d, want 1", len(got))
	}
	if got[0].Name != "idle" {
		t.Errorf("Walk()[0].Name = %q, want %q", got[0].Name, "idle")
	}
}

func TestListWalkerDetectsMutation(t *testing.T) {
	fe := emulator.NewFake()
	layout := DefaultFreeRTOSLayout()
	const head, item, tcb = 0x1000, 0x1100, 0x2000
	writeList(fe, layout, head, item, tcb)
	writeTCB(fe, layout, tcb, "idle", 0, 0, 0)

	// Corrupt the item's container pointer, simulating the list being
	// mutated mid-walk by the guest.
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 0xDEADBEEF)
	fe.WriteMem(item+layout.ListItemContainerOff, b[:])

	w := ListWalker{Layout: layout, Emu: fe}
	if _, ok := w.Walk(head); ok {
		t.Errorf("Walk() ok = true, want false (container pointer mismatch must abort)")
	}
}

func TestTriggerCollectionDropsZeroCurrentTCB(t *testing.T) {
	fe := emulator.NewFake()
	layout := DefaultFreeRTOSLayout()
	sym := Symbols{CurrentTCB: 0x3000}
	l := NewLayer(fe, sym, layout)
	// CurrentTCB pointer left at its zero default.
	l.triggerCollection(0, 0, 0, "")
	if len(l.Records) != 0 {
		t.Errorf("len(Records) = %d, want 0 (zero current-TCB must drop the record)", len(l.Records))
	}
}

func TestOnJumpSuppressesNestedAPIReturn(t *testing.T) {
	fe := emulator.NewFake()
	layout := DefaultFreeRTOSLayout()
	sym := Symbols{
		APICode:    AddrRange{Start: 0x8000, End: 0x9000},
		CurrentTCB: 0x3000,
	}
	l := NewLayer(fe, sym, layout)

	const tcbAddr = 0x4000
	var ptrBuf [4]byte
	binary.LittleEndian.PutUint32(ptrBuf[:], tcbAddr)
	fe.WriteMem(sym.CurrentTCB, ptrBuf[:])
	writeTCB(fe, layout, tcbAddr, "task", 1, 1, 0)

	// The link register holds a return address that lands back inside API
	// code: an inner API call returning into its still-executing caller.
	// This must not be recorded as its own APIEnd (call-depth > 1).
	fe.SetReg(0, emulator.RegLR, 0x8500)
	l.onJump(0x8100, 0)
	if len(l.Records) != 0 {
		t.Fatalf("len(Records) = %d, want 0 (nested API-into-API return must be suppressed)", len(l.Records))
	}

	// The link register now holds a return address back into application
	// code: the real call-depth-1 API return, which must be recorded.
	fe.SetReg(0, emulator.RegLR, 0x1000)
	l.onJump(0x8100, 0)
	if len(l.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1 (call-depth-1 API return must be recorded)", len(l.Records))
	}
	if got := l.Records[0].Event; got != model.APIEnd {
		t.Errorf("Records[0].Event = %v, want APIEnd", got)
	}
}

func TestReconstructReturnPCThreadMSP(t *testing.T) {
	fe := emulator.NewFake()
	layout := DefaultFreeRTOSLayout()
	l := NewLayer(fe, Symbols{}, layout)

	fe.SetReg(0, emulator.RegLR, excReturnThreadMSP)
	const sp = 0x4000
	fe.SetReg(0, emulator.RegSP, sp)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 0xABCD1234)
	fe.WriteMem(sp+exceptionFrameRetPCOffset, b[:])

	got := l.reconstructReturnPC()
	if want := uint32(0xABCD1234); got != want {
		t.Errorf("reconstructReturnPC() = %#x, want %#x", got, want)
	}
}

func TestReconstructReturnPCThreadPSP(t *testing.T) {
	fe := emulator.NewFake()
	layout := DefaultFreeRTOSLayout()
	l := NewLayer(fe, Symbols{}, layout)

	fe.SetReg(0, emulator.RegLR, excReturnThreadPSP)
	const psp = 0x5000
	fe.SetReg(0, emulator.RegPSP, psp)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 0x11223344)
	fe.WriteMem(psp+exceptionFrameRetPCOffset, b[:])

	got := l.reconstructReturnPC()
	if want := uint32(0x11223344); got != want {
		t.Errorf("reconstructReturnPC() = %#x, want %#x", got, want)
	}
}
