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

package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/memorit/config"
	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/store"
	"github.com/poiesic/memorit/vectorindex"
)

// Embedder is the narrow surface Search needs to turn query text into a
// vector for semantic and hybrid modes. embed.BatchingEmbedder's
// EmbedOne satisfies this directly.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Outcome is what Search returns: the ranked, paged results plus
// whether the deadline forced an early cutoff.
type Outcome struct {
	Results   []Result
	Truncated bool
}

// Planner runs the four retrieval modes over the record store's FTS
// index and the vector index, captures a read snapshot per call, and
// blends/paginates the combined result set.
type Planner struct {
	captures *store.CaptureStore
	index    *vectorindex.Index
	embedder Embedder
	cfg      *config.Store
	logger   *slog.Logger
}

// New builds a Planner. embedder may be nil if the caller only runs
// ModeRawFTS, which never embeds the query; ModeSemantic, ModeHybrid
// and ModeKeyword all need a query embedding, so with a nil embedder
// they return ErrEmbedderRequired.
func New(captures *store.CaptureStore, index *vectorindex.Index, embedder Embedder, cfg *config.Store) *Planner {
	return &Planner{
		captures: captures,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default().With("component", "query"),
	}
}

// ErrEmbedderRequired is returned by Search when mode needs a query
// embedding and the Planner was built without one.
var ErrEmbedderRequired = fmt.Errorf("query: mode requires an embedder")

// candidatePoolSize is how many raw hits each retrieval path pulls
// before filters, collapsing, and paging trim the set down. Pulling
// more than limit+offset keeps post-retrieval filters from starving a
// page when many candidates get excluded.
const candidatePoolSize = 200

// Search runs mode against queryText, applies filters, and returns a
// stably-ordered page of results. A nil monitor uses a no-op.
func (p *Planner) Search(ctx context.Context, mode Mode, queryText string, filters Filters, monitor Monitor) (Outcome, error) {
	if monitor == nil {
		monitor = noopMonitor{}
	}
	monitor.Start(mode, queryText)

	if err := ctx.Err(); err != nil {
		return Outcome{}, core.ErrQueryTimeout
	}

	cfg := p.cfg.Get()

	var ftsHits []ScoredCapture
	var semanticHits []ScoredCapture
	var err error

	switch mode {
	case ModeRawFTS:
		ftsHits, err = p.runFTS(queryText)
	case ModeSemantic:
		semanticHits, err = p.runSemantic(ctx, queryText, filters)
	case ModeHybrid, ModeKeyword:
		ftsHits, err = p.runFTS(queryText)
		if err == nil {
			semanticHits, err = p.runSemantic(ctx, queryText, filters)
		}
	default:
		return Outcome{}, fmt.Errorf("query: unknown mode %q", mode)
	}
	if err != nil {
		return Outcome{}, err
	}
	monitor.AfterFTS(ftsHits)
	monitor.AfterSemantic(semanticHits)

	truncated := ctx.Err() != nil

	results, err := p.materialize(mode, ftsHits, semanticHits, filters, cfg)
	if err != nil {
		return Outcome{}, err
	}

	byScoreThenID(results)

	offset := filters.Offset
	limit := filters.limit()
	if offset > len(results) {
		offset = len(results)
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	page := results[offset:end]

	monitor.Finish(page)
	return Outcome{Results: page, Truncated: truncated}, nil
}

func (p *Planner) runFTS(queryText string) ([]ScoredCapture, error) {
	hits, err := p.captures.SearchFTS(queryText, candidatePoolSize)
	if err != nil {
		return nil, fmt.Errorf("query: fts search: %w", err)
	}
	out := make([]ScoredCapture, len(hits))
	for i, h := range hits {
		out[i] = ScoredCapture{ID: h.ID, Score: float64(h.Score)}
	}
	return out, nil
}

func (p *Planner) runSemantic(ctx context.Context, queryText string, filters Filters) ([]ScoredCapture, error) {
	if p.embedder == nil {
		return nil, ErrEmbedderRequired
	}
	vec, err := p.embedder.EmbedOne(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("query: embedding query text: %w", err)
	}

	var vidFilter *vectorindex.Filter
	if !filters.From.IsZero() || !filters.To.IsZero() {
		vidFilter, err = p.dateScopedFilter(filters)
		if err != nil {
			return nil, err
		}
	}

	hits, err := p.index.Search(vec, candidatePoolSize, vidFilter)
	if err != nil {
		return nil, fmt.Errorf("query: vector search: %w", err)
	}
	out := make([]ScoredCapture, 0, len(hits))
	for _, h := range hits {
		cap, err := p.captures.GetByVID(h.VID)
		if err != nil {
			// The ranker tolerates missing vids: the vector index can be
			// one op-log entry ahead of the record store's reverse index.
			p.logger.Debug("search hit a vid with no resolvable capture", "vid", h.VID)
			continue
		}
		out = append(out, ScoredCapture{ID: cap.ID, Score: float64(h.Score)})
	}
	return out, nil
}

// dateScopedFilter builds a vid Filter admitting only vectors belonging
// to captures within filters' date bounds, built on the fly from the
// record store's date index exactly as the vector index's search()
// filter parameter expects.
func (p *Planner) dateScopedFilter(filters Filters) (*vectorindex.Filter, error) {
	from, to := filters.dateBounds()
	captures, err := p.captures.Range(from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("query: scoping search by date range: %w", err)
	}
	filter := vectorindex.NewFilter()
	for _, c := range captures {
		if c.EmbeddingRef != nil {
			filter.Add(*c.EmbeddingRef)
		}
	}
	return filter, nil
}

// materialize resolves every scored ID back into a Capture, applies
// filters.matchesCapture, and for hybrid/keyword collapses duplicate
// capture_ids across the two result sets into one blended-score Result.
func (p *Planner) materialize(mode Mode, ftsHits, semanticHits []ScoredCapture, filters Filters, cfg config.Config) ([]Result, error) {
	tau := cfg.Search.FTSNormalizerTau
	w := cfg.Search.SemanticWeight

	type combined struct {
		capture    core.Capture
		cos        float64
		hasCos     bool
		ftsNorm    float64
		hasFTSNorm bool
	}
	byID := make(map[core.ID]*combined)

	resolve := func(id core.ID) (*combined, bool) {
		if existing, ok := byID[id]; ok {
			return existing, true
		}
		cap, err := p.captures.Get(id)
		if err != nil {
			return nil, false
		}
		if !filters.matchesCapture(cap) {
			return nil, false
		}
		entry := &combined{capture: cap}
		byID[id] = entry
		return entry, true
	}

	for _, h := range ftsHits {
		entry, ok := resolve(h.ID)
		if !ok {
			continue
		}
		entry.ftsNorm = normalizeBM25(h.Score, tau)
		entry.hasFTSNorm = true
	}
	for _, h := range semanticHits {
		entry, ok := resolve(h.ID)
		if !ok {
			continue
		}
		entry.cos = h.Score
		entry.hasCos = true
	}

	results := make([]Result, 0, len(byID))
	for _, entry := range byID {
		var score float64
		var source Source
		switch mode {
		case ModeRawFTS:
			score = entry.ftsNorm
			source = SourceFTS
		case ModeSemantic:
			score = entry.cos
			source = SourceSemantic
		default: // ModeHybrid, ModeKeyword
			switch {
			case entry.hasCos && entry.hasFTSNorm:
				score = blend(entry.cos, entry.ftsNorm, w)
				source = SourceBoth
			case entry.hasCos:
				score = blend(entry.cos, 0, w)
				source = SourceSemantic
			default:
				score = blend(0, entry.ftsNorm, w)
				source = SourceFTS
			}
		}
		results = append(results, Result{Capture: entry.capture, Score: score, Source: source})
	}
	return results, nil
}

// Recent returns captures in filters' date range, newest first, the
// time-descending scan §6.2 names separately from Search.
func (p *Planner) Recent(filters Filters) ([]Result, error) {
	from, to := filters.dateBounds()
	captures, err := p.captures.Range(from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("query: recent scan: %w", err)
	}
	results := make([]Result, 0, len(captures))
	for i := len(captures) - 1; i >= 0; i-- {
		c := captures[i]
		if !filters.matchesCapture(c) {
			continue
		}
		results = append(results, Result{Capture: c, Source: SourceFTS})
	}
	offset := filters.Offset
	limit := filters.limit()
	if offset > len(results) {
		offset = len(results)
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end], nil
}

// Get fetches a single Capture by ID.
func (p *Planner) Get(id core.ID) (core.Capture, error) {
	return p.captures.Get(id)
}

// Stats summarizes the record store's current contents.
func (p *Planner) Stats() (Stats, error) {
	from, to := Filters{}.dateBounds()
	captures, err := p.captures.Range(from, to, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("query: stats scan: %w", err)
	}
	stats := Stats{
		ByTier: make(map[core.Tier]int),
		ByKind: make(map[core.CaptureKind]int),
	}
	for _, c := range captures {
		stats.Total++
		stats.ByTier[c.Tier]++
		stats.ByKind[c.Kind]++
		stats.TextBytes += int64(len(c.Text))
	}
	return stats, nil
}
