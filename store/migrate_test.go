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
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func TestMigrateFreshDatabaseReachesCurrentVersion(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, Migrate(backend))

	version, err := SchemaVersion(backend)
	require.NoError(t, err)
	require.Equal(t, uint32(CurrentSchemaVersion), version)
}

func TestMigrateIsIdempotent(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, Migrate(backend))
	require.NoError(t, Migrate(backend))

	version, err := SchemaVersion(backend)
	require.NoError(t, err)
	require.Equal(t, uint32(CurrentSchemaVersion), version)
}

func TestSchemaVersionIsZeroBeforeAnyMigration(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	version, err := SchemaVersion(backend)
	require.NoError(t, err)
	require.Equal(t, uint32(0), version)
}

func TestMigrateRejectsNewerOnDiskVersion(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.WithTx(func(tx *badger.Txn) error {
		if err := setSchemaVersionTx(tx, CurrentSchemaVersion+1); err != nil {
			return err
		}
		return tx.Commit()
	}, true))

	err = Migrate(backend)
	require.Error(t, err)
}
