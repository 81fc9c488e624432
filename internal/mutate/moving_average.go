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
// Package mutate implements the interrupt-shift mutator (C5) and the
// snippet mutator (C6): input-synthesis stages driven by the STG feedback
// engine's accumulated state (§4.5, §4.6).
package mutate

// movingAverage is a 50-sample simple moving average of interesting/rerun
// ratios (§9 "Moving-average feedback for mutator", §12.2), used to scale
// the interrupt-shift mutator's per-invocation loop bound.
type movingAverage struct {
	samples [50]float64
	next    int
	filled  int
}

func (m *movingAverage) record(ratio float64) {
	m.samples[m.next] = ratio
	m.next = (m.next + 1) % len(m.samples)
	if m.filled < len(m.samples) {
		m.filled++
	}
}

func (m *movingAverage) value() float64 {
	if m.filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < m.filled; i++ {
		sum += m.samples[i]
	}
	return sum / float64(m.filled)
}

// loopBound returns max(1, sma*100), the per-invocation iteration count
// (§4.5 step 1, §12.2).
func (m *movingAverage) loopBound() int {
	b := int(m.value() * 100)
	if b < 1 {
		return 1
	}
	return b
}
