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
// Package introspect serves a small local HTTP introspection surface during
// a fuzzing campaign (`--introspect-addr`, SPEC_FULL.md §11): the current
// STG rendered as Graphviz, run statistics, and the favored-set contents.
// Rendered snapshots are cached by STG generation number so repeated
// requests during a quiet period don't re-render.
package introspect

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"

	log "github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/google/wcetfuzz/internal/stg"
)

// Stats is the snapshot served from /stats.
type Stats struct {
	Generation        int    `json:"generation"`
	Iterations        int    `json:"iterations"`
	WorstOverallTicks uint64 `json:"worst_overall_ticks"`
	CorpusSize        int    `json:"corpus_size"`
	FavoredCount      int    `json:"favored_count"`
}

// Source supplies the live data the introspection server renders. The
// run-loop orchestrator's own state backs it through a thin per-caller
// adapter (its STG is a field, not a method, so it can't implement this
// interface directly).
type Source interface {
	STG() *stg.STG
	Generation() int
	Stats() Stats
	Favored() map[string]string
}

// dotCacheSize bounds the rendered-.dot LRU to a handful of recent
// generations, following server/storage_service.go's newStorageBase sizing
// (a small fixed cache, not proportional to corpus size).
const dotCacheSize = 8

// Server is the optional local HTTP introspection server.
type Server struct {
	src Source

	mu       sync.Mutex
	dotCache *simplelru.LRU
}

// New builds a Server reading from src. It panics only if simplelru.NewLRU
// rejects dotCacheSize, which cannot happen for a positive constant.
func New(src Source) *Server {
	cache, err := simplelru.NewLRU(dotCacheSize, nil)
	if err != nil {
		panic(err)
	}
	return &Server{src: src, dotCache: cache}
}

// Router builds the mux.Router exposing /stg.dot, /stats, and /favored,
// following server/server.go's handle/registerXHandlers route-table pattern.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/stg.dot", s.handleDot)
	r.HandleFunc("/stats", s.handleStats)
	r.HandleFunc("/favored", s.handleFavored)
	return r
}

// ListenAndServe starts the introspection server on addr. It blocks until
// the server stops or errors; callers typically run it in its own
// goroutine alongside the run-loop.
func (s *Server) ListenAndServe(addr string) error {
	log.Infof("introspect: serving on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleDot(w http.ResponseWriter, req *http.Request) {
	gen := s.src.Generation()

	s.mu.Lock()
	if cached, ok := s.dotCache.Get(gen); ok {
		s.mu.Unlock()
		writeDot(w, cached.(string))
		return
	}
	s.mu.Unlock()

	dot := s.src.STG().Dot()

	s.mu.Lock()
	s.dotCache.Add(gen, dot)
	s.mu.Unlock()

	writeDot(w, dot)
}

func writeDot(w http.ResponseWriter, dot string) {
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	fmt.Fprint(w, dot)
}

func (s *Server) handleStats(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.src.Stats()); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleFavored(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.src.Favored()); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
