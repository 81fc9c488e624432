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
package mutate

import (
	"github.com/google/wcetfuzz/internal/model"
	"github.com/google/wcetfuzz/internal/stg"
)

// Snippet implements the snippet mutator (C6): it overlays worst-seen input
// bytes per task onto the current input at the offsets the target actually
// read during each job (§4.6).
type Snippet struct {
	STG       *stg.STG
	InputAddr uint32
}

// Mutate returns a copy of input with each of jobs' worst-observed bytes
// overlaid at their originally-read offsets, and whether any byte actually
// changed (the caller reruns only if an edit was made, §4.6 final sentence).
func (s *Snippet) Mutate(input *model.Input, jobs []model.Job) (*model.Input, bool) {
	next := input.Clone()
	dst := next.Bytes()
	changed := false
	for _, j := range jobs {
		task, ok := s.STG.WorstPerTask(j.TaskName)
		if !ok {
			continue
		}
		before := append([]byte(nil), dst...)
		task.MapBytesOnto(dst, s.InputAddr, j)
		if !bytesEqual(before, dst) {
			changed = true
		}
	}
	next.SetBytes(dst)
	return next, changed
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
