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

// Package vectorindex is the approximate-nearest-neighbor index over
// unit-norm vectors: an HNSW graph keyed by vid, persisted as a
// snapshot plus an append-only op-log replayed on open.
package vectorindex

import (
	"math/rand"
	"sort"
	"sync"
)

// Graph tuning constants, the usual HNSW defaults.
const (
	DefaultM              = 16 // max bidirectional connections per layer
	DefaultM0             = 32 // max connections at layer 0
	DefaultEfConstruction = 40
	DefaultEfSearch       = 50
	maxLevelCap           = 16
)

// vectorSource resolves a vid to its stored vector, a narrow seam that
// keeps the graph decoupled from how vectors are actually kept in
// memory.
type vectorSource interface {
	Get(vid uint64) ([]float32, bool)
}

type graphNode struct {
	vid       uint64
	level     int
	neighbors [][]uint64 // neighbors[level] = connected vids, nearest-first not guaranteed
}

// graph is the mutable HNSW structure. All distance computation assumes
// unit-norm vectors, so cosine distance reduces to 1 - dot(a, b).
type graph struct {
	mu sync.RWMutex

	nodes      map[uint64]*graphNode
	tombstones map[uint64]bool

	entryPoint uint64
	maxLevel   int
	empty      bool

	m              int
	m0             int
	efConstruction int
	efSearch       int

	rng *rand.Rand
}

func newGraph(m, m0, efConstruction, efSearch int) *graph {
	return &graph{
		nodes:          make(map[uint64]*graphNode),
		tombstones:     make(map[uint64]bool),
		maxLevel:       -1,
		empty:          true,
		m:              m,
		m0:             m0,
		efConstruction: efConstruction,
		efSearch:       efSearch,
		rng:            rand.New(rand.NewSource(1)),
	}
}

func cosineDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func (g *graph) randomLevel() int {
	level := 0
	for g.rng.Float64() < 0.5 && level < maxLevelCap {
		level++
	}
	return level
}

// insert adds vid with vec into the graph. vectors resolves any other
// vid's vector for distance computation during the search-and-link
// phase.
func (g *graph) insert(vid uint64, vec []float32, vectors vectorSource) {
	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.randomLevel()
	node := &graphNode{vid: vid, level: level, neighbors: make([][]uint64, level+1)}
	g.nodes[vid] = node

	if g.empty {
		g.entryPoint = vid
		g.maxLevel = level
		g.empty = false
		return
	}

	curr := g.entryPoint
	for l := g.maxLevel; l > level; l-- {
		curr, _ = g.searchLayerGreedy(vec, curr, l, vectors)
	}

	for l := min(level, g.maxLevel); l >= 0; l-- {
		candidates := g.searchLayerK(vec, curr, g.efConstruction, l, vectors)

		maxConns := g.m
		if l == 0 {
			maxConns = g.m0
		}
		if len(candidates) > maxConns {
			candidates = candidates[:maxConns]
		}

		ids := make([]uint64, len(candidates))
		for i, c := range candidates {
			ids[i] = c.id
		}
		node.neighbors[l] = ids

		for _, c := range candidates {
			neighbor := g.nodes[c.id]
			if neighbor == nil {
				continue
			}
			neighbor.neighbors[l] = appendUnique(neighbor.neighbors[l], vid)
		}

		if len(ids) > 0 {
			curr = ids[0]
		}
	}

	if level > g.maxLevel {
		g.entryPoint = vid
		g.maxLevel = level
	}
}

func appendUnique(list []uint64, v uint64) []uint64 {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// delete tombstones vid: it stays in the graph for connectivity but is
// excluded from every future search result.
func (g *graph) delete(vid uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tombstones[vid] = true
}

// search returns up to k nearest live vids to vec, optionally scoped by
// filter. filter.Matches is checked after graph traversal rather than
// during it, so a narrow filter never prunes the candidate set before
// the graph has had a chance to find genuinely close neighbors.
func (g *graph) search(vec []float32, k int, vectors vectorSource, filter *Filter) []Result {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.empty {
		return nil
	}

	curr := g.entryPoint
	for l := g.maxLevel; l > 0; l-- {
		curr, _ = g.searchLayerGreedy(vec, curr, l, vectors)
	}

	candidates := g.searchLayerK(vec, curr, g.efSearch, 0, vectors)

	results := make([]Result, 0, k)
	for _, c := range candidates {
		if g.tombstones[c.id] {
			continue
		}
		if filter != nil && !filter.Matches(c.id) {
			continue
		}
		results = append(results, Result{VID: c.id, Score: 1 - c.dist})
		if len(results) >= k {
			break
		}
	}
	return results
}

// searchLayerGreedy walks level l from entry greedily toward vec,
// returning the single closest node reached.
func (g *graph) searchLayerGreedy(vec []float32, entry uint64, level int, vectors vectorSource) (uint64, float32) {
	curr := entry
	currVec, ok := vectors.Get(curr)
	if !ok {
		return curr, 0
	}
	currDist := cosineDistance(vec, currVec)

	changed := true
	for changed {
		changed = false
		node := g.nodes[curr]
		if node == nil || level >= len(node.neighbors) {
			break
		}
		for _, nid := range node.neighbors[level] {
			nVec, ok := vectors.Get(nid)
			if !ok {
				continue
			}
			d := cosineDistance(vec, nVec)
			if d < currDist {
				curr = nid
				currDist = d
				changed = true
			}
		}
	}
	return curr, currDist
}

type candidate struct {
	id   uint64
	dist float32
}

// searchLayerK finds up to k nearest nodes to vec at level, starting
// the traversal from entry.
func (g *graph) searchLayerK(vec []float32, entry uint64, k int, level int, vectors vectorSource) []candidate {
	entryVec, ok := vectors.Get(entry)
	if !ok {
		return nil
	}
	visited := map[uint64]bool{entry: true}
	frontier := []candidate{{entry, cosineDistance(vec, entryVec)}}
	results := []candidate{frontier[0]}

	for len(frontier) > 0 {
		c := frontier[0]
		frontier = frontier[1:]

		if len(results) >= k && c.dist > results[len(results)-1].dist {
			continue
		}

		node := g.nodes[c.id]
		if node == nil || level >= len(node.neighbors) {
			continue
		}
		for _, nid := range node.neighbors[level] {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			nVec, ok := vectors.Get(nid)
			if !ok {
				continue
			}
			d := cosineDistance(vec, nVec)
			if len(results) < k || d < results[len(results)-1].dist {
				cand := candidate{nid, d}
				frontier = append(frontier, cand)
				results = append(results, cand)
				sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
				if len(results) > k {
					results = results[:k]
				}
				sort.Slice(frontier, func(i, j int) bool { return frontier[i].dist < frontier[j].dist })
			}
		}
	}
	return results
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// contains reports whether vid is a live (non-tombstoned) node.
func (g *graph) contains(vid uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.tombstones[vid] {
		return false
	}
	_, ok := g.nodes[vid]
	return ok
}

// maxVID returns the highest vid ever inserted, live or tombstoned, or
// 0 if the graph has never held a node. Index uses this once at Open
// to resume vid allocation past whatever the snapshot and op-log
// already assigned.
func (g *graph) maxVID() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var max uint64
	for vid := range g.nodes {
		if vid > max {
			max = vid
		}
	}
	return max
}

// count returns the number of live nodes.
func (g *graph) count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for vid := range g.nodes {
		if !g.tombstones[vid] {
			n++
		}
	}
	return n
}
