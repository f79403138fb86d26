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
	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memorit/core"
)

// IntentStore holds the write-ahead Step-A rows the dual-write
// committer uses to bridge the record store transaction and the
// separate vector-index insert. A row living here past process restart
// is exactly what commit.Recover's orphan scan resolves.
type IntentStore struct {
	backend *Backend
}

// NewIntentStore binds an IntentStore to backend.
func NewIntentStore(backend *Backend) *IntentStore {
	return &IntentStore{backend: backend}
}

// PutTx writes an Intent row within an already-open write transaction.
func (s *IntentStore) PutTx(tx *badger.Txn, intent core.Intent) error {
	buf := make([]byte, core.IntentMUS.Size(intent))
	core.IntentMUS.Marshal(intent, buf)
	return tx.Set(makeIntentKey(intent.CaptureID), buf)
}

// DeleteTx removes an Intent row, called once Step C confirms it.
func (s *IntentStore) DeleteTx(tx *badger.Txn, captureID core.ID) error {
	return tx.Delete(makeIntentKey(captureID))
}

// Get fetches a single Intent row by capture id.
func (s *IntentStore) Get(captureID core.ID) (core.Intent, error) {
	var intent core.Intent
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeIntentKey(captureID))
		if err == badger.ErrKeyNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			intent, _, err = core.IntentMUS.Unmarshal(val)
			return err
		})
	}, false)
	return intent, err
}

// ScanOrphans lists every Intent row currently persisted, for the
// startup recovery routine to resolve one at a time.
func (s *IntentStore) ScanOrphans() ([]core.Intent, error) {
	var out []core.Intent
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(intentPrefix + ":")
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				intent, _, err := core.IntentMUS.Unmarshal(val)
				if err != nil {
					return err
				}
				out = append(out, intent)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return out, err
}

// VectorsMetaStore holds the confirmed Step-C rows binding a capture to
// the vid its embedding lives at within the vector index.
type VectorsMetaStore struct {
	backend *Backend
}

// NewVectorsMetaStore binds a VectorsMetaStore to backend.
func NewVectorsMetaStore(backend *Backend) *VectorsMetaStore {
	return &VectorsMetaStore{backend: backend}
}

// PutTx writes a VectorsMetadata row within an already-open write
// transaction.
func (s *VectorsMetaStore) PutTx(tx *badger.Txn, meta core.VectorsMetadata) error {
	buf := make([]byte, core.VectorsMetadataMUS.Size(meta))
	core.VectorsMetadataMUS.Marshal(meta, buf)
	return tx.Set(makeVectorsMetaKey(meta.CaptureID), buf)
}

// Get fetches the VectorsMetadata row for a capture, if any.
func (s *VectorsMetaStore) Get(captureID core.ID) (core.VectorsMetadata, error) {
	var meta core.VectorsMetadata
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeVectorsMetaKey(captureID))
		if err == badger.ErrKeyNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			meta, _, err = core.VectorsMetadataMUS.Unmarshal(val)
			return err
		})
	}, false)
	return meta, err
}

// DeleteTx removes a VectorsMetadata row, used by retention when a
// capture's vector entry is tombstoned.
func (s *VectorsMetaStore) DeleteTx(tx *badger.Txn, captureID core.ID) error {
	return tx.Delete(makeVectorsMetaKey(captureID))
}

// ScanAll lists every VectorsMetadata row currently persisted, for
// retention's startup reconciliation pass: a row surviving here whose
// capture no longer exists marks a crash between the record delete and
// the vector index delete that a sweep left behind.
func (s *VectorsMetaStore) ScanAll() ([]core.VectorsMetadata, error) {
	var out []core.VectorsMetadata
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorsMetaPrefix + ":")
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				meta, _, err := core.VectorsMetadataMUS.Unmarshal(val)
				if err != nil {
					return err
				}
				out = append(out, meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return out, err
}
