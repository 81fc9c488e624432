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
	"bytes"
	"encoding/binary"

	"github.com/google/wcetfuzz/internal/emulator"
	"github.com/google/wcetfuzz/internal/model"
)

// KernelLayout gives the byte offsets the list walker and TCB decoder need
// into the target's List_t/ListItem_t/MiniListItem_t/TCB_t structures. The
// defaults below match a typical 32-bit FreeRTOS build; the config file has
// no keys for these offsets, so a target compiled with a different
// configMAX_TASK_NAME_LEN or priority-inheritance settings needs a
// KernelLayout built in code.
type KernelLayout struct {
	// ListSize is sizeof(List_t): the end-of-struct address used to
	// recognize the embedded xListEnd sentinel while walking.
	ListSize uint32
	ListNumItemsOff  uint32
	ListIndexOff     uint32

	ListItemNextOff      uint32
	ListItemOwnerOff     uint32
	ListItemContainerOff uint32

	TCBNameOff         uint32
	TCBNameLen         uint32
	TCBPriorityOff     uint32
	TCBBasePriorityOff uint32
	TCBMutexesHeldOff  uint32
	TCBNotifyStateOff  uint32
	TCBNotifyValueOff  uint32
}

// DefaultFreeRTOSLayout returns the stock offsets, consistent with
// FreeRTOS's stock tskTCB/List_t layout
// on a 32-bit target with configMAX_TASK_NAME_LEN=16 and priority
// inheritance enabled.
func DefaultFreeRTOSLayout() KernelLayout {
	return KernelLayout{
		ListSize:        20, // uxNumberOfItems(4) + pxIndex(4) + xListEnd{value(4)+next(4)+prev(4)}
		ListNumItemsOff: 0,
		ListIndexOff:    4,

		ListItemNextOff:      4,
		ListItemOwnerOff:     12,
		ListItemContainerOff: 16,

		TCBNameOff:         4, // pxTopOfStack(4) then pcTaskName
		TCBNameLen:         16,
		TCBPriorityOff:     20,
		TCBBasePriorityOff: 24,
		TCBMutexesHeldOff:  28,
		TCBNotifyStateOff:  32,
		TCBNotifyValueOff:  33,
	}
}

// ListWalker walks FreeRTOS-style intrusive doubly-linked lists (ready
// lists, delayed list, overflowed delayed list), decoding the TCB owning
// each list item. It detects mid-walk mutation by the same check the
// original capture helper uses: each item's container pointer must still
// equal the list's own address.
type ListWalker struct {
	Layout KernelLayout
	Emu    emulator.Emulator
}

// Walk reads the list whose header lives at headAddr and returns the TCB
// snapshot for every entry, plus false if the walk detected a concurrent
// mutation (§4.1 "detect mutation mid-walk").
func (w *ListWalker) Walk(headAddr uint32) ([]model.TCBSnapshot, bool) {
	numItems, index, err := w.readListHeader(headAddr)
	if err != nil {
		return nil, false
	}
	out := make([]model.TCBSnapshot, 0, numItems)
	nextIndex := index
	end := headAddr + w.Layout.ListSize
	for j := uint32(0); j < numItems; j++ {
		if nextIndex >= headAddr && nextIndex < end {
			// Step over the embedded xListEnd sentinel.
			next, err := w.readU32(nextIndex + w.Layout.ListItemNextOff)
			if err != nil {
				return nil, false
			}
			nextIndex = next
		}
		container, err := w.readU32(nextIndex + w.Layout.ListItemContainerOff)
		if err != nil {
			return nil, false
		}
		if container != headAddr {
			// The list was mutated underneath us (§4.1): abort the walk.
			return nil, false
		}
		owner, err := w.readU32(nextIndex + w.Layout.ListItemOwnerOff)
		if err != nil {
			return nil, false
		}
		tcb, err := w.readTCB(owner)
		if err != nil {
			return nil, false
		}
		out = append(out, tcb)

		next, err := w.readU32(nextIndex + w.Layout.ListItemNextOff)
		if err != nil {
			return nil, false
		}
		nextIndex = next
	}
	return out, true
}

func (w *ListWalker) readListHeader(headAddr uint32) (numItems, index uint32, err error) {
	numItems, err = w.readU32(headAddr + w.Layout.ListNumItemsOff)
	if err != nil {
		return 0, 0, err
	}
	index, err = w.readU32(headAddr + w.Layout.ListIndexOff)
	return numItems, index, err
}

func (w *ListWalker) readU32(addr uint32) (uint32, error) {
	var buf [4]byte
	if err := w.Emu.ReadMem(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (w *ListWalker) readTCB(addr uint32) (model.TCBSnapshot, error) {
	name := make([]byte, w.Layout.TCBNameLen)
	if err := w.Emu.ReadMem(addr+w.Layout.TCBNameOff, name); err != nil {
		return model.TCBSnapshot{}, err
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	prio, err := w.readU32(addr + w.Layout.TCBPriorityOff)
	if err != nil {
		return model.TCBSnapshot{}, err
	}
	base, err := w.readU32(addr + w.Layout.TCBBasePriorityOff)
	if err != nil {
		return model.TCBSnapshot{}, err
	}
	mutexes, err := w.readU32(addr + w.Layout.TCBMutexesHeldOff)
	if err != nil {
		return model.TCBSnapshot{}, err
	}
	var notifyState [1]byte
	if err := w.Emu.ReadMem(addr+w.Layout.TCBNotifyStateOff, notifyState[:]); err != nil {
		return model.TCBSnapshot{}, err
	}
	notifyValue, err := w.readU32(addr + w.Layout.TCBNotifyValueOff)
	if err != nil {
		return model.TCBSnapshot{}, err
	}
	return model.TCBSnapshot{
		Name:              string(name),
		Priority:          int(prio),
		BasePriority:      int(base),
		MutexesHeld:       int(mutexes),
		NotificationState: int(notifyState[0]),
		NotificationValue: notifyValue,
	}, nil
}
