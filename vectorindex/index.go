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

package vectorindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

const (
	snapshotFileName = "snapshot.bin"
	opLogFileName    = "oplog.bin"
	manifestFileName = "manifest.db"

	// defaultSnapshotEvery bounds how many mutations accumulate in the
	// op-log before Index folds them into a fresh snapshot on its own,
	// independent of any caller-driven Snapshot call.
	defaultSnapshotEvery = 500
)

// Result is one scored hit from Search: VID identifies the capture row
// whose embedding this vector belongs to, Score is cosine similarity
// in [-1, 1], higher is closer.
type Result struct {
	VID   uint64
	Score float32
}

// Index is the durable approximate-nearest-neighbor index over a
// single embedding generation's worth of unit-norm vectors. It wires
// together the HNSW graph, the raw vector store, the manifest, and the
// op-log behind a simple insert/delete/search surface; everything
// below this type is an implementation detail of how that surface
// stays durable and recoverable.
type Index struct {
	mu  sync.Mutex
	dir string

	manifest *manifestStore
	man      Manifest

	graph   *graph
	vectors *memVectorStore
	oplog   *opLog

	mutationsSinceSnapshot int
	snapshotEvery          int

	nextVID atomic.Uint64
}

// Open loads or creates the vector index rooted at dir. If a manifest
// already exists and its model_id differs from modelID, the caller is
// signaled via ErrGenerationMismatch so a reembedding migration can be
// driven explicitly rather than silently discarding the old vectors.
func Open(dir string, dim int, modelID string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorindex: creating index directory: %w", err)
	}

	ms, err := openManifestStore(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: opening manifest: %w", err)
	}

	man, found, err := ms.Load()
	if err != nil {
		ms.Close()
		return nil, fmt.Errorf("vectorindex: loading manifest: %w", err)
	}
	if !found {
		man = Manifest{Generation: 1, ModelID: modelID, Dim: dim}
		if err := ms.Save(man); err != nil {
			ms.Close()
			return nil, fmt.Errorf("vectorindex: writing initial manifest: %w", err)
		}
	} else if man.ModelID != modelID || man.Dim != dim {
		ms.Close()
		return nil, &ErrGenerationMismatch{
			CurrentModelID: man.ModelID,
			CurrentDim:     man.Dim,
			WantModelID:    modelID,
			WantDim:        dim,
		}
	}

	g, vecs, _, err := loadSnapshot(filepath.Join(dir, snapshotFileName),
		DefaultM, DefaultM0, DefaultEfConstruction, DefaultEfSearch)
	if err != nil {
		ms.Close()
		return nil, fmt.Errorf("vectorindex: loading snapshot: %w", err)
	}

	store := newMemVectorStore(dim)
	store.LoadMap(vecs)

	oplogPath := filepath.Join(dir, opLogFileName)
	replayErr := replayOpLog(oplogPath, func(op opCode, vid uint64, vec []float32) error {
		switch op {
		case opInsert:
			store.Set(vid, vec)
			g.insert(vid, vec, store)
		case opDelete:
			g.delete(vid)
		}
		return nil
	})
	if replayErr != nil {
		ms.Close()
		return nil, fmt.Errorf("vectorindex: replaying op-log: %w", replayErr)
	}

	log, err := openOpLog(oplogPath)
	if err != nil {
		ms.Close()
		return nil, fmt.Errorf("vectorindex: opening op-log for writes: %w", err)
	}

	idx := &Index{
		dir:           dir,
		manifest:      ms,
		man:           man,
		graph:         g,
		vectors:       store,
		oplog:         log,
		snapshotEvery: defaultSnapshotEvery,
	}
	idx.nextVID.Store(g.maxVID() + 1)
	return idx, nil
}

// ErrGenerationMismatch is returned by Open when the index directory
// already holds vectors for a different model or dimensionality than
// the caller asked for. Resolving it is the reembedding driver's job,
// not this package's.
type ErrGenerationMismatch struct {
	CurrentModelID string
	CurrentDim     int
	WantModelID    string
	WantDim        int
}

func (e *ErrGenerationMismatch) Error() string {
	return fmt.Sprintf("vectorindex: index holds generation for model %q (dim %d), cannot open for model %q (dim %d)",
		e.CurrentModelID, e.CurrentDim, e.WantModelID, e.WantDim)
}

// Generation reports the embedding generation currently live.
func (idx *Index) Generation() uint32 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.man.Generation
}

// ModelID reports the embedding model this index's vectors were
// produced by.
func (idx *Index) ModelID() string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.man.ModelID
}

// Dim reports the vector dimensionality this index was opened with.
func (idx *Index) Dim() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.man.Dim
}

// Insert adds vec under vid, appending it to the op-log before folding
// it into the live graph so a crash between the two still recovers on
// the next Open.
func (idx *Index) Insert(vid uint64, vec []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(vec) != idx.man.Dim {
		return fmt.Errorf("vectorindex: vector has dim %d, index expects %d", len(vec), idx.man.Dim)
	}
	if err := idx.oplog.appendInsert(vid, vec); err != nil {
		return fmt.Errorf("vectorindex: logging insert: %w", err)
	}
	idx.vectors.Set(vid, vec)
	idx.graph.insert(vid, vec, idx.vectors)
	return idx.afterMutationLocked()
}

// InsertAuto embeds vec under a freshly allocated vid and returns it,
// the insert(vector) -> vid form of Insert. The committer does not use
// it: it reserves its vid with ReserveVID before Step A and passes that
// vid to Insert in Step B. Within one open Index an allocated vid is
// never handed out twice, even when its commit later fails. Open
// resumes allocation one past the highest vid in the graph, so a vid
// reserved but never inserted before the index was closed can be
// allocated again.
func (idx *Index) InsertAuto(vec []float32) (uint64, error) {
	vid := idx.ReserveVID()
	if err := idx.Insert(vid, vec); err != nil {
		return 0, err
	}
	return vid, nil
}

// ReserveVID allocates and returns the next vid without inserting
// anything under it. The committer's write-ahead intent row records
// this value as its pending_vid_slot before Step B ever runs, so a
// crash between reservation and insert leaves a slot that recovery can
// unambiguously check for with Contains.
func (idx *Index) ReserveVID() uint64 {
	return idx.nextVID.Add(1) - 1
}

// Delete tombstones vid so it no longer appears in search results.
func (idx *Index) Delete(vid uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.oplog.appendDelete(vid); err != nil {
		return fmt.Errorf("vectorindex: logging delete: %w", err)
	}
	idx.graph.delete(vid)
	return idx.afterMutationLocked()
}

// afterMutationLocked folds the op-log into a fresh snapshot once
// enough mutations have accumulated, bounding how much the op-log
// would need to replay after a crash. Callers must hold idx.mu.
func (idx *Index) afterMutationLocked() error {
	idx.mutationsSinceSnapshot++
	if idx.mutationsSinceSnapshot < idx.snapshotEvery {
		return nil
	}
	return idx.snapshotLocked()
}

// Snapshot forces an immediate snapshot and truncates the op-log, the
// same operation afterMutationLocked triggers automatically.
func (idx *Index) Snapshot() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.snapshotLocked()
}

func (idx *Index) snapshotLocked() error {
	if err := saveSnapshot(filepath.Join(idx.dir, snapshotFileName), idx.graph, idx.vectors.ToMap()); err != nil {
		return fmt.Errorf("vectorindex: saving snapshot: %w", err)
	}
	if err := idx.oplog.truncate(); err != nil {
		return fmt.Errorf("vectorindex: truncating op-log after snapshot: %w", err)
	}
	idx.mutationsSinceSnapshot = 0
	return nil
}

// Search returns up to k nearest live vectors to vec, optionally
// scoped by filter.
func (idx *Index) Search(vec []float32, k int, filter *Filter) ([]Result, error) {
	idx.mu.Lock()
	vectors := idx.vectors
	g := idx.graph
	dim := idx.man.Dim
	idx.mu.Unlock()

	if len(vec) != dim {
		return nil, fmt.Errorf("vectorindex: query vector has dim %d, index expects %d", len(vec), dim)
	}
	return g.search(vec, k, vectors, filter), nil
}

// Contains reports whether vid is a live entry in the index.
func (idx *Index) Contains(vid uint64) bool {
	idx.mu.Lock()
	g := idx.graph
	idx.mu.Unlock()
	return g.contains(vid)
}

// Len returns the number of live vectors in the index.
func (idx *Index) Len() int {
	idx.mu.Lock()
	g := idx.graph
	idx.mu.Unlock()
	return g.count()
}

// Close flushes a final snapshot and releases the manifest and op-log
// file handles.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.snapshotLocked(); err != nil {
		return err
	}
	if err := idx.oplog.close(); err != nil {
		return err
	}
	return idx.manifest.Close()
}
