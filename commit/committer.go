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

// Package commit is the dual-write committer: it writes a Capture into
// the record store and the vector index as if they shared one
// transaction, using a write-ahead intent row to bridge the two
// stores that cannot actually share one. See Committer.Commit for the
// three-step protocol and Recover for the startup reconciliation that
// resolves whatever Step A left behind after a crash.
package commit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/eventbus"
	"github.com/poiesic/memorit/store"
	"github.com/poiesic/memorit/vectorindex"
)

// Committer wires the record store and the vector index behind a
// write-ahead-intent dual-write protocol: a capture's record row and
// its vector are committed in separate transactions, with an Intent
// row bridging the gap so a crash between them is always recoverable.
type Committer struct {
	backend     *store.Backend
	captures    *store.CaptureStore
	intents     *store.IntentStore
	vectorsMeta *store.VectorsMetaStore
	index       *vectorindex.Index
	bus         *eventbus.Bus
	logger      *slog.Logger
}

// New builds a Committer. bus may be nil; events are simply not
// published in that case.
func New(backend *store.Backend, captures *store.CaptureStore, intents *store.IntentStore,
	vectorsMeta *store.VectorsMetaStore, index *vectorindex.Index, bus *eventbus.Bus) *Committer {
	return &Committer{
		backend:     backend,
		captures:    captures,
		intents:     intents,
		vectorsMeta: vectorsMeta,
		index:       index,
		bus:         bus,
		logger:      slog.Default().With("component", "commit"),
	}
}

// Commit runs the three-step protocol for a Capture whose text has
// already been embedded into vector. If vector is nil (empty text, or
// a row kind the embedder never touches), the capture commits with no
// vector-index participation at all: EmbeddingRef stays nil and no
// intent row is ever written for it.
func (c *Committer) Commit(cap core.Capture, vector []float32) (core.Capture, error) {
	if len(vector) == 0 {
		if err := c.captures.Put(cap); err != nil {
			return cap, fmt.Errorf("commit: writing capture without embedding: %w", err)
		}
		c.publishPersisted(cap.ID)
		return cap, nil
	}

	// The vid is reserved before Step A even runs, so the intent row
	// records a slot Step B will later fill rather than a placeholder.
	vid := c.index.ReserveVID()

	// Step A: record row + FTS + intent, one record-store transaction.
	intent := core.Intent{
		CaptureID:      cap.ID,
		PendingVIDSlot: vid,
		ModelID:        c.index.ModelID(),
		Generation:     c.index.Generation(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.backend.WithTx(func(tx *badger.Txn) error {
		if err := c.captures.PutTx(tx, cap); err != nil {
			return err
		}
		if err := c.intents.PutTx(tx, intent); err != nil {
			return err
		}
		return tx.Commit()
	}, true); err != nil {
		return cap, fmt.Errorf("commit: step A: %w", core.ErrStoreBusy)
	}

	// Step B: insert into the vector index, outside any record-store
	// transaction since the two stores cannot share one.
	if err := c.index.Insert(vid, vector); err != nil {
		// The intent row is left behind deliberately: Recover resolves
		// it on next startup rather than this call path trying (and
		// potentially failing twice) to clean up inline.
		return cap, fmt.Errorf("commit: step B: %w", err)
	}

	// Step C: confirm with a vectors_metadata row, replacing the intent.
	if err := c.finalize(cap.ID, vid); err != nil {
		return cap, fmt.Errorf("commit: step C: %w", err)
	}

	cap.EmbeddingRef = &vid
	c.publishPersisted(cap.ID)
	return cap, nil
}

// finalize runs Step C: within one record-store transaction, delete
// the intent row and write the confirmed vectors_metadata row.
func (c *Committer) finalize(captureID core.ID, vid uint64) error {
	meta := core.VectorsMetadata{
		CaptureID:  captureID,
		VID:        vid,
		ModelID:    c.index.ModelID(),
		Generation: c.index.Generation(),
	}
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		if err := c.intents.DeleteTx(tx, captureID); err != nil {
			return err
		}
		if err := c.vectorsMeta.PutTx(tx, meta); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}
	return c.captures.SetEmbeddingRef(captureID, vid)
}

func (c *Committer) publishPersisted(id core.ID) {
	c.bus.Publish(eventbus.Event{Kind: eventbus.KindCapturePersisted, Payload: id})
}
