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
package introspect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/wcetfuzz/internal/stg"
)

type fakeSource struct {
	g        *stg.STG
	gen      int
	stats    Stats
	favored  map[string]string
	dotCalls int
}

func (f *fakeSource) STG() *stg.STG {
	f.dotCalls++
	return f.g
}
func (f *fakeSource) Generation() int       { return f.gen }
func (f *fakeSource) Stats() Stats          { return f.stats }
func (f *fakeSource) Favored() map[string]string { return f.favored }

func TestHandleStats(t *testing.T) {
	src := &fakeSource{stats: Stats{Generation: 3, Iterations: 100, WorstOverallTicks: 42, CorpusSize: 10, FavoredCount: 2}}
	srv := New(src)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != src.stats {
		t.Errorf("Stats = %+v, want %+v", got, src.stats)
	}
}

func TestHandleFavored(t *testing.T) {
	src := &fakeSource{favored: map[string]string{"edge-1": "case-a"}}
	srv := New(src)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/favored", nil)
	srv.Router().ServeHTTP(rec, req)
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["edge-1"] != "case-a" {
		t.Errorf("Favored()[edge-1] = %q, want case-a", got["edge-1"])
	}
}

func TestHandleDotCachesPerGeneration(t *testing.T) {
	src := &fakeSource{g: stg.New(), gen: 1}
	srv := New(src)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/stg.dot", nil)
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("iteration %d: status = %d, want 200", i, rec.Code)
		}
	}
	if src.dotCalls != 1 {
		t.Errorf("STG() called %d times for the same generation, want 1 (cached)", src.dotCalls)
	}

	src.gen = 2
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stg.dot", nil)
	srv.Router().ServeHTTP(rec, req)
	if src.dotCalls != 2 {
		t.Errorf("STG() not called again for new generation: calls = %d, want 2", src.dotCalls)
	}
}
