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
package query

import (
	"testing"

	"github.com/google/wcetfuzz/internal/model"
)

func testIntervals() []model.ExecInterval {
	abbA := model.NewABB(0x100, []uint32{0x110}, model.CapturePoint{Event: model.APIStart, Name: "vTaskDelay"}, "vTaskDelay", 1)
	abbB := model.NewABB(0x200, []uint32{0x210}, model.CapturePoint{Event: model.ISRStart, Name: "vPortTickHandler"}, "vPortTickHandler", 1)
	return []model.ExecInterval{
		{TaskName: "TaskA", ABB: abbA, Start: 0, End: 100},
		{TaskName: "TaskB", ABB: abbB, Start: 100, End: 250},
	}
}

func TestFilterByTask(t *testing.T) {
	ivs := testIntervals()
	got, err := Filter(ivs, "task=TaskA")
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(got) != 1 || got[0].TaskName != "TaskA" {
		t.Errorf("Filter(task=TaskA) = %+v, want single TaskA interval", got)
	}
}

func TestFilterByEventName(t *testing.T) {
	ivs := testIntervals()
	got, err := Filter(ivs, "name=vPortTickHandler")
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(got) != 1 || got[0].ABB.InstanceName != "vPortTickHandler" {
		t.Errorf("Filter(name=vPortTickHandler) = %+v, want single matching interval", got)
	}
}

func TestFilterByEventKind(t *testing.T) {
	ivs := testIntervals()
	got, err := Filter(ivs, "event=ISRStart")
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Filter(event=ISRStart) = %+v, want one ISRStart interval", got)
	}
}

func TestFilterNoMatches(t *testing.T) {
	ivs := testIntervals()
	got, err := Filter(ivs, "task=TaskZ")
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Filter(task=TaskZ) = %+v, want none", got)
	}
}

func TestFilterInvalidExpression(t *testing.T) {
	ivs := testIntervals()
	if _, err := Filter(ivs, "not a valid expr!!"); err == nil {
		t.Fatal("Filter() error = nil, want error for malformed expression")
	}
}

func TestFilterUnknownAttribute(t *testing.T) {
	ivs := testIntervals()
	if _, err := Filter(ivs, "bogus=value"); err == nil {
		t.Fatal("Filter() error = nil, want error for unknown attribute")
	}
}
