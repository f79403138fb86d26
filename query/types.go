// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package query is the planner and ranker behind the outward-facing
// search surface: four retrieval modes over the record store's FTS
// index and the vector index, collapsed into one ranked, paged result
// set. See Planner.Search for the mode dispatch and rank.go for the
// scoring math each mode shares.
package query

import (
	"time"

	"github.com/poiesic/memorit/core"
)

// Mode selects which retrieval strategy Search runs.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
	ModeRawFTS   Mode = "raw_fts"
)

// Source reports which retrieval path produced a Result, for callers
// that want to distinguish a keyword hit from a vector hit within a
// blended hybrid result set.
type Source string

const (
	SourceFTS      Source = "fts"
	SourceSemantic Source = "semantic"
	SourceBoth     Source = "both"
)

// Filters narrows a Search or Recent call. A zero value matches
// everything. Kinds and SourceApp are applied after retrieval since
// neither the FTS index nor the vector index carries those dimensions;
// From/To are applied before retrieval wherever a candidate set can be
// scoped by date up front, and checked again on every candidate after
// retrieval, since FTS hits carry no date scoping.
type Filters struct {
	Kinds     []core.CaptureKind
	SourceApp string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// matchesCapture reports whether c passes the filter's kind, source app
// and [From, To) date bounds.
func (f Filters) matchesCapture(c core.Capture) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if c.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SourceApp != "" && c.SourceApp != f.SourceApp {
		return false
	}
	if !f.From.IsZero() && c.CapturedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !c.CapturedAt.Before(f.To) {
		return false
	}
	return true
}

func (f Filters) dateBounds() (time.Time, time.Time) {
	from := f.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := f.To
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}
	return from, to
}

func (f Filters) limit() int {
	if f.Limit <= 0 {
		return 20
	}
	return f.Limit
}

// Result is one ranked hit. Score's meaning depends on the mode that
// produced it: raw BM25-normalized for raw_fts, cosine similarity for
// semantic, the linear blend for hybrid/keyword.
type Result struct {
	Capture core.Capture
	Score   float64
	Source  Source
}

// Stats summarizes the record store's current contents, the query
// surface's read-only complement to the committer's write path.
type Stats struct {
	Total     int
	ByTier    map[core.Tier]int
	ByKind    map[core.CaptureKind]int
	TextBytes int64
}

// Monitor receives callbacks at each stage of a Search call, letting a
// caller observe FTS hits, vector hits, and the merged result set
// without threading instrumentation through the planner itself.
type Monitor interface {
	Start(mode Mode, queryText string)
	AfterFTS(hits []ScoredCapture)
	AfterSemantic(hits []ScoredCapture)
	Finish(results []Result)
}

// ScoredCapture pairs a capture ID with the raw score its retrieval
// path produced, before any cross-mode normalization or blending.
type ScoredCapture struct {
	ID    core.ID
	Score float64
}

type noopMonitor struct{}

func (noopMonitor) Start(Mode, string)             {}
func (noopMonitor) AfterFTS(_ []ScoredCapture)      {}
func (noopMonitor) AfterSemantic(_ []ScoredCapture) {}
func (noopMonitor) Finish(_ []Result)               {}
