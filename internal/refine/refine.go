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
// Package refine implements the trace refiner (C2): it trims a raw capture
// buffer to the first context-switch-handler ISREnd, refines each remaining
// raw record into a model.State, and emits the execution intervals and ABB
// identities the job extractor (C3) and STG engine (C4) consume.
package refine

import (
	"fmt"

	"github.com/google/wcetfuzz/internal/clock"
	"github.com/google/wcetfuzz/internal/model"
)

// ContextSwitchHandlerName is the ISR name whose first ISREnd marks the end
// of the kernel-start prelude (§4.2): every raw record before it is dropped.
const ContextSwitchHandlerName = "xPortPendSVHandler"

// Result is C2's output: the ordered execution intervals of one run, plus
// whether refinement completed without violating an ABB-identity invariant
// (§4.2 step 5). A false Valid does not discard Intervals — it flags the
// trace for the error feedback's optional dump (§7).
type Result struct {
	Intervals []model.ExecInterval
	Valid     bool
}

// privilegeLevel tracks nesting the way FRET's refiner does: ISRs push an
// incrementing level starting at 2; APIStart/APIEnd toggle the interrupted
// task's own level between 0 (app code) and 1 (kernel API call).
type privilegeLevel struct {
	stack []int
}

func newPrivilegeLevel() *privilegeLevel {
	return &privilegeLevel{stack: []int{0}}
}

func (p *privilegeLevel) current() int {
	return p.stack[len(p.stack)-1]
}

func (p *privilegeLevel) pushISR() {
	p.stack = append(p.stack, p.current()+1)
	if p.current() < 2 {
		p.stack[len(p.stack)-1] = 2
	}
}

func (p *privilegeLevel) popISR() {
	if len(p.stack) > 1 {
		p.stack = p.stack[:len(p.stack)-1]
	}
}

func (p *privilegeLevel) toggleAPI(entering bool) {
	top := len(p.stack) - 1
	if entering {
		p.stack[top] = 1
	} else {
		p.stack[top] = 0
	}
}

// refiner holds the running state of one Run call.
type refiner struct {
	nextInstanceID uint64
	level          *privilegeLevel
	// openByReturnAddr maps a return address a task was interrupted at to
	// the ABB that was executing there, so the ISREnd that resumes
	// execution at that same address re-attaches the following interval to
	// that ABB instead of opening a fresh one (§4.2 step 4).
	openByReturnAddr map[uint32]model.ABB
	// lastABB is the ABB assigned to the most recently emitted interval —
	// the one "currently open" going into the next transition.
	lastABB model.ABB
	valid   bool
}

// Run refines raw into a Result (§4.2). It trims every record before the
// first ISREnd of ContextSwitchHandlerName; if no such record exists the
// trace is too short and Run reports a Result with no intervals and
// Valid=false.
func Run(raw []model.RawRecord) Result {
	start := indexOfFirstContextSwitchEnd(raw)
	if start < 0 {
		return Result{Valid: false}
	}
	raw = raw[start:]

	r := &refiner{
		level:            newPrivilegeLevel(),
		openByReturnAddr: make(map[uint32]model.ABB),
		valid:            true,
	}

	var intervals []model.ExecInterval
	for i := 0; i+1 < len(raw); i++ {
		iv, err := r.emitInterval(raw[i], raw[i+1])
		if err != nil {
			r.valid = false
			continue
		}
		intervals = append(intervals, iv)
	}
	return Result{Intervals: intervals, Valid: r.valid}
}

func indexOfFirstContextSwitchEnd(raw []model.RawRecord) int {
	for i, rec := range raw {
		if rec.Event == model.ISREnd && rec.Name == ContextSwitchHandlerName {
			return i
		}
	}
	return -1
}

// emitInterval produces the ExecInterval spanning [from, to) (§4.2 step 2),
// updating privilege-level and ABB-identity tracking as it goes (steps 3-4).
func (r *refiner) emitInterval(from, to model.RawRecord) (model.ExecInterval, error) {
	state, err := model.NewState(&from)
	if err != nil {
		return model.ExecInterval{}, fmt.Errorf("refine: %w", err)
	}

	abb, err := r.assignABB(from, to)
	if err != nil {
		return model.ExecInterval{}, err
	}
	r.lastABB = abb

	return model.ExecInterval{
		TaskName: from.CurrentTask.Name,
		State:    state,
		ABB:      abb,
		Start:    clock.Tick(from.InstrCount),
		End:      clock.Tick(to.InstrCount),
		Reads:    to.Reads,
	}, nil
}

// assignABB implements §4.2 step 4. An ABB opens at the transition's
// post-event PC whenever an APIStart/APIEnd/ISRStart begins one; an ISREnd
// closes the interrupting ISR's ABB and, if it interrupted an in-flight ABB,
// re-opens (re-attaches to) that interrupted ABB for the continuation.
func (r *refiner) assignABB(from, to model.RawRecord) (model.ABB, error) {
	level := model.CapturePoint{Event: from.Event, Name: from.Name}

	switch from.Event {
	case model.APIStart, model.APIEnd:
		r.level.toggleAPI(from.Event == model.APIStart)
		id := r.newInstanceID()
		return model.NewABB(from.ToPC, []uint32{to.FromPC}, level, from.Name, id), nil

	case model.ISRStart:
		// r.lastABB is whatever was executing right up to this interrupt;
		// remember it under the interrupted PC so the matching ISREnd (which
		// resumes execution at that same PC) can re-attach to it.
		r.openByReturnAddr[from.FromPC] = r.lastABB
		r.level.pushISR()
		id := r.newInstanceID()
		return model.NewABB(from.ToPC, []uint32{to.FromPC}, level, from.Name, id), nil

	case model.ISREnd:
		r.level.popISR()
		if open, ok := r.openByReturnAddr[from.ToPC]; ok {
			delete(r.openByReturnAddr, from.ToPC)
			return model.NewABB(open.Start, append(append([]uint32(nil), open.Ends...), to.FromPC), open.Level, open.InstanceName, open.InstanceID), nil
		}
		// No interrupted ABB to resume: this ISREnd returns straight to an
		// app-level ABB boundary (e.g. the context-switch handler itself).
		id := r.newInstanceID()
		return model.NewABB(from.ToPC, []uint32{to.FromPC}, level, from.Name, id), nil

	case model.End:
		id := r.newInstanceID()
		return model.NewABB(from.ToPC, []uint32{to.FromPC}, level, "End", id), nil

	default:
		return model.ABB{}, fmt.Errorf("refine: unexpected capture event %s starting an interval", from.Event)
	}
}

func (r *refiner) newInstanceID() uint64 {
	r.nextInstanceID++
	return r.nextInstanceID
}
