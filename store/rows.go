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

// SessionStore owns Session row lifecycle. Sessions anchor spans of
// related captures; the core never inspects what's inside one.
type SessionStore struct {
	backend *Backend
}

// NewSessionStore binds a SessionStore to backend.
func NewSessionStore(backend *Backend) *SessionStore {
	return &SessionStore{backend: backend}
}

// Put inserts or replaces a Session.
func (s *SessionStore) Put(sess core.Session) error {
	buf := make([]byte, core.SessionMUS.Size(sess))
	core.SessionMUS.Marshal(sess, buf)
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeSessionKey(sess.SessionID), buf); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Get fetches a Session by ID.
func (s *SessionStore) Get(id core.ID) (core.Session, error) {
	var sess core.Session
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeSessionKey(id))
		if err == badger.ErrKeyNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			sess, _, err = core.SessionMUS.Unmarshal(val)
			return err
		})
	}, false)
	return sess, err
}

// Delete removes a Session row.
func (s *SessionStore) Delete(id core.ID) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeSessionKey(id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// RowStore is the shared CRUD+FTS surface for the four downstream-owned
// row types (TaskRecord, IntentRecord, Summary, Entity): the core
// guarantees identical lifecycle and FTS coverage for all four without
// interpreting their Payload, so one generic implementation, keyed by
// rowKind, serves all of them.
type RowStore struct {
	backend *Backend
	kind    rowKind
}

// NewTaskStore, NewIntentRecordStore, NewSummaryStore, and NewEntityStore
// bind a RowStore to one of the four downstream row collections.
func NewTaskStore(backend *Backend) *RowStore         { return &RowStore{backend: backend, kind: rowKindTask} }
func NewIntentRecordStore(backend *Backend) *RowStore { return &RowStore{backend: backend, kind: rowKindIntentRecord} }
func NewSummaryStore(backend *Backend) *RowStore      { return &RowStore{backend: backend, kind: rowKindSummary} }
func NewEntityStore(backend *Backend) *RowStore       { return &RowStore{backend: backend, kind: rowKindEntity} }

// Put inserts or replaces a row, reindexing its Text for FTS when it
// is non-empty.
func (s *RowStore) Put(row core.OpaqueRow) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		key := makeRowKey(s.kind, row.ID)
		existing, err := getRowTx(tx, key)
		if err == nil && existing.Text != row.Text && existing.Text != "" {
			if err := removeDoc(tx, row.ID, existing.Text); err != nil {
				return err
			}
		} else if err != nil && err != core.ErrNotFound {
			return err
		}

		buf := make([]byte, core.OpaqueRowMUS.Size(row))
		core.OpaqueRowMUS.Marshal(row, buf)
		if err := tx.Set(key, buf); err != nil {
			return err
		}
		if row.Text != "" {
			if err := indexDoc(tx, row.ID, row.Text); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Get fetches a row by ID.
func (s *RowStore) Get(id core.ID) (core.OpaqueRow, error) {
	var row core.OpaqueRow
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		row, err = getRowTx(tx, makeRowKey(s.kind, id))
		return err
	}, false)
	return row, err
}

func getRowTx(tx *badger.Txn, key []byte) (core.OpaqueRow, error) {
	var row core.OpaqueRow
	item, err := tx.Get(key)
	if err == badger.ErrKeyNotFound {
		return row, core.ErrNotFound
	}
	if err != nil {
		return row, err
	}
	err = item.Value(func(val []byte) error {
		var err error
		row, _, err = core.OpaqueRowMUS.Unmarshal(val)
		return err
	})
	return row, err
}

// Delete removes a row and its FTS postings.
func (s *RowStore) Delete(id core.ID) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		key := makeRowKey(s.kind, id)
		row, err := getRowTx(tx, key)
		if err == core.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		if row.Text != "" {
			if err := removeDoc(tx, id, row.Text); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}
