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

package store

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memorit/core"
)

// CaptureStore is the record store's view over Capture rows: primary
// key lookups, a (captured_at, id) range index, and FTS coverage of
// non-empty text.
type CaptureStore struct {
	backend *Backend
}

// NewCaptureStore binds a CaptureStore to backend.
func NewCaptureStore(backend *Backend) *CaptureStore {
	return &CaptureStore{backend: backend}
}

// Put inserts or replaces a Capture, maintaining the date index and the
// FTS postings for its text. Callers needing FTS-and-vector-metadata
// atomicity together (the dual-write protocol) should use PutTx inside
// their own transaction instead.
func (s *CaptureStore) Put(c core.Capture) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := s.PutTx(tx, c); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// PutTx writes c within an already-open write transaction, without
// committing. If c replaces an existing row with different text, the
// old text's FTS postings are removed first so postings never drift.
func (s *CaptureStore) PutTx(tx *badger.Txn, c core.Capture) error {
	existing, err := getCaptureTx(tx, c.ID)
	textChanged := true
	if err == nil {
		textChanged = existing.Text != c.Text
		if textChanged {
			if err := removeDoc(tx, c.ID, existing.Text); err != nil {
				return fmt.Errorf("store: removing stale fts postings: %w", err)
			}
		}
	} else if err != core.ErrNotFound {
		return err
	}

	buf := make([]byte, core.CaptureMUS.Size(c))
	core.CaptureMUS.Marshal(c, buf)
	if err := tx.Set(makeCaptureKey(c.ID), buf); err != nil {
		return err
	}
	if err := tx.Set(makeCaptureDateKey(c.CapturedAt, c.ID), idBytes(c.ID)); err != nil {
		return err
	}

	if c.Text != "" && textChanged {
		if err := indexDoc(tx, c.ID, c.Text); err != nil {
			return fmt.Errorf("store: indexing fts postings: %w", err)
		}
	}
	return nil
}

// Get fetches a single Capture by ID.
func (s *CaptureStore) Get(id core.ID) (core.Capture, error) {
	var c core.Capture
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		c, err = getCaptureTx(tx, id)
		return err
	}, false)
	return c, err
}

func getCaptureTx(tx *badger.Txn, id core.ID) (core.Capture, error) {
	var c core.Capture
	item, err := tx.Get(makeCaptureKey(id))
	if err == badger.ErrKeyNotFound {
		return c, core.ErrNotFound
	}
	if err != nil {
		return c, err
	}
	err = item.Value(func(val []byte) error {
		var err error
		c, _, err = core.CaptureMUS.Unmarshal(val)
		return err
	})
	return c, err
}

// Delete removes a Capture row, its date-index entry, and its FTS
// postings. It does not touch the vector index; callers coordinate
// that separately (commit.Recover and retention both do).
func (s *CaptureStore) Delete(id core.ID) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		c, err := getCaptureTx(tx, id)
		if err == core.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(makeCaptureKey(id)); err != nil {
			return err
		}
		if err := tx.Delete(makeCaptureDateKey(c.CapturedAt, id)); err != nil {
			return err
		}
		if c.Text != "" {
			if err := removeDoc(tx, id, c.Text); err != nil {
				return err
			}
		}
		if c.EmbeddingRef != nil {
			if err := tx.Delete(makeVIDIndexKey(*c.EmbeddingRef)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// UpdateTier rewrites only the Tier field, leaving text, hashes, and
// FTS postings untouched; tier transitions never create or destroy rows.
func (s *CaptureStore) UpdateTier(id core.ID, tier core.Tier) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		c, err := getCaptureTx(tx, id)
		if err != nil {
			return err
		}
		if c.Tier == tier {
			return tx.Commit()
		}
		c.Tier = tier
		c.UpdatedAt = time.Now().UTC()
		buf := make([]byte, core.CaptureMUS.Size(c))
		core.CaptureMUS.Marshal(c, buf)
		if err := tx.Set(makeCaptureKey(c.ID), buf); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// SetEmbeddingRef records the vector index slot a capture's text was
// embedded into, called by the dual-write committer's Step C. It also
// writes the vid->capture reverse index the query planner uses to turn
// a vector search hit back into a Capture.
func (s *CaptureStore) SetEmbeddingRef(id core.ID, vid uint64) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		c, err := getCaptureTx(tx, id)
		if err != nil {
			return err
		}
		c.EmbeddingRef = &vid
		c.UpdatedAt = time.Now().UTC()
		buf := make([]byte, core.CaptureMUS.Size(c))
		core.CaptureMUS.Marshal(c, buf)
		if err := tx.Set(makeCaptureKey(c.ID), buf); err != nil {
			return err
		}
		if err := tx.Set(makeVIDIndexKey(vid), idBytes(c.ID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetByVID resolves a vector index vid back to its Capture, via the
// reverse index SetEmbeddingRef maintains.
func (s *CaptureStore) GetByVID(vid uint64) (core.Capture, error) {
	var c core.Capture
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeVIDIndexKey(vid))
		if err == badger.ErrKeyNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		var idRaw []byte
		if err := item.Value(func(val []byte) error {
			idRaw = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}
		id, _, err := core.IDMUS.Unmarshal(idRaw)
		if err != nil {
			return err
		}
		c, err = getCaptureTx(tx, id)
		return err
	}, false)
	return c, err
}

// Range scans captures with captured_at in [from, to), ordered
// chronologically. It is used both by the query planner's recent() and
// by the retention sweeper's tier-boundary scans.
func (s *CaptureStore) Range(from, to time.Time, limit int) ([]core.Capture, error) {
	var out []core.Capture
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(captureDatePrefix + ":")
		it := tx.NewIterator(opts)
		defer it.Close()

		lower := makeDateBound(from)
		upper := makeDateBound(to)

		for it.Seek(lower); it.Valid(); it.Next() {
			key := it.Item().Key()
			if bytes.Compare(key, upper) >= 0 {
				break
			}
			var idRaw []byte
			err := it.Item().Value(func(val []byte) error {
				idRaw = append([]byte(nil), val...)
				return nil
			})
			if err != nil {
				return err
			}
			id, _, err := core.IDMUS.Unmarshal(idRaw)
			if err != nil {
				return err
			}
			c, err := getCaptureTx(tx, id)
			if err != nil {
				if err == core.ErrNotFound {
					continue
				}
				return err
			}
			out = append(out, c)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	}, false)
	return out, err
}

// All scans every Capture row in primary-key order, calling fn for each.
// Returning an error from fn aborts the scan and propagates that error.
// It is used by the reembedding migration driver, which needs every
// capture's text regardless of when it was captured.
func (s *CaptureStore) All(fn func(core.Capture) error) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(capturePrefix + ":")
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.Valid(); it.Next() {
			var c core.Capture
			err := it.Item().Value(func(val []byte) error {
				var err error
				c, _, err = core.CaptureMUS.Unmarshal(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(c); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// ClearVIDIndex deletes every vid->capture reverse-lookup entry. The
// reembedding migration driver calls this before inserting into a
// freshly opened generation: vids are small integers assigned in
// insertion order, so a stale entry from the discarded generation
// would otherwise collide with a vid the new generation reassigns to
// an unrelated capture.
func (s *CaptureStore) ClearVIDIndex() error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(vidIndexPrefix + ":")
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.Valid(); it.Next() {
			keys = append(keys, append([]byte(nil), it.Item().Key()...))
		}
		it.Close()
		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// SearchFTS runs a BM25 full-text query over indexed capture text.
func (s *CaptureStore) SearchFTS(query string, limit int) ([]ScoredID, error) {
	var results []ScoredID
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		results, err = searchFTS(tx, query, limit)
		return err
	}, false)
	return results, err
}
