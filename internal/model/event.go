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
// Package model holds the value types shared by the capture, refine,
// jobtrack, and stg packages: the raw capture record produced at kernel
// boundaries, the refined kernel State used to key the state-transition
// graph, atomic basic blocks, execution intervals, and job records.
package model

import "fmt"

// CaptureEvent tags the kind of kernel-boundary transition that produced a
// raw capture record or that labels an execution interval's endpoints.
type CaptureEvent int8

const (
	// Undefined is the zero value, used before any transition is known.
	Undefined CaptureEvent = iota
	// APIStart marks a call from app code into a kernel API function.
	APIStart
	// APIEnd marks a call-depth-1 return from a kernel API function to app code.
	APIEnd
	// ISRStart marks entry into an interrupt service routine.
	ISRStart
	// ISREnd marks return from an interrupt service routine.
	ISREnd
	// End marks the end-of-run breakpoint.
	End
)

// String renders the CaptureEvent using the short names used in STG dumps.
func (e CaptureEvent) String() string {
	switch e {
	case APIStart:
		return "APIStart"
	case APIEnd:
		return "APIEnd"
	case ISRStart:
		return "ISRStart"
	case ISREnd:
		return "ISREnd"
	case End:
		return "End"
	default:
		return "Undefined"
	}
}

// IsABBEnd reports whether a capture event of this kind always ends an atomic
// basic block (§4.1, §4.4 step 1: every ABB-ending edge is one of these).
func (e CaptureEvent) IsABBEnd() bool {
	switch e {
	case APIStart, APIEnd, ISREnd, End:
		return true
	default:
		return false
	}
}

// CapturePoint names the capture event and symbolic name (API/ISR function,
// or "End") associated with one endpoint of an execution interval.
type CapturePoint struct {
	Event CaptureEvent
	Name  string
}

func (c CapturePoint) String() string {
	return fmt.Sprintf("%s(%s)", c.Event, c.Name)
}

// MemRead is one byte read from the fuzz-input memory region, recorded with
// the guest address it was read from.
type MemRead struct {
	Addr uint32
	Byte byte
}
