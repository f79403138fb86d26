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
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/mus-format/mus-go/varint"
)

// CurrentSchemaVersion is the latest schema version. Bump this when
// adding a migration step below.
const CurrentSchemaVersion = 1

// migration is one forward-only, idempotent schema step.
type migration struct {
	to   uint32
	name string
	run  func(tx *badger.Txn) error
}

// migrations runs in ascending order of to. There is nothing to do for
// version 1 yet: it establishes the schema_meta row itself. Future
// migrations append here, each bumping to by one.
var migrations = []migration{
	{to: 1, name: "initial schema", run: func(tx *badger.Txn) error { return nil }},
}

// Migrate brings the database from its on-disk schema version up to
// CurrentSchemaVersion, running every migration step in between inside
// its own transaction. Migrations never run backward: a database newer
// than the binary fails closed rather than silently downgrading.
func Migrate(backend *Backend) error {
	version, err := SchemaVersion(backend)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("store: on-disk schema version %d is newer than binary version %d", version, CurrentSchemaVersion)
	}

	for _, m := range migrations {
		if m.to <= version {
			continue
		}
		err := backend.WithTx(func(tx *badger.Txn) error {
			if err := m.run(tx); err != nil {
				return err
			}
			if err := setSchemaVersionTx(tx, m.to); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return fmt.Errorf("store: migration %q to v%d: %w", m.name, m.to, err)
		}
		version = m.to
	}
	return nil
}

// SchemaVersion reads the persisted schema_meta row, returning 0 for a
// brand-new database.
func SchemaVersion(backend *Backend) (uint32, error) {
	var version uint32
	err := backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(schemaMetaKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, _, err := varint.Uint32.Unmarshal(val)
			version = v
			return err
		})
	}, false)
	return version, err
}

func setSchemaVersionTx(tx *badger.Txn, version uint32) error {
	buf := make([]byte, varint.Uint32.Size(version))
	varint.Uint32.Marshal(version, buf)
	return tx.Set([]byte(schemaMetaKey), buf)
}
