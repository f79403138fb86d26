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
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var manifestBucket = []byte("manifest")

var (
	manifestKeyGeneration = []byte("generation")
	manifestKeyModelID    = []byte("model_id")
	manifestKeyDim        = []byte("dim")
)

// Manifest is the vector index's durable identity: the embedding
// generation currently live, the model that produced it, and the
// vector dimensionality all entries must share.
type Manifest struct {
	Generation uint32
	ModelID    string
	Dim        int
}

// manifestStore wraps a bbolt database holding exactly one Manifest in
// a single bucket.
type manifestStore struct {
	db *bbolt.DB
}

func openManifestStore(path string) (*manifestStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(manifestBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &manifestStore{db: db}, nil
}

// Load reads the manifest, returning ok=false if none has been written
// yet (a brand-new index directory).
func (m *manifestStore) Load() (Manifest, bool, error) {
	var man Manifest
	found := false
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(manifestBucket)
		modelID := b.Get(manifestKeyModelID)
		if modelID == nil {
			return nil
		}
		found = true
		man.ModelID = string(modelID)
		if raw := b.Get(manifestKeyGeneration); raw != nil {
			man.Generation = uint32(binary.BigEndian.Uint32(raw))
		}
		if raw := b.Get(manifestKeyDim); raw != nil {
			man.Dim = int(binary.BigEndian.Uint32(raw))
		}
		return nil
	})
	return man, found, err
}

// Save persists man in a single bbolt transaction, overwriting whatever
// manifest existed before: either the whole manifest is written or none
// of it is. Open calls it only for a directory that has no manifest
// yet; a generation cutover installs a different index directory
// rather than rewriting this one.
func (m *manifestStore) Save(man Manifest) error {
	if man.Dim <= 0 {
		return fmt.Errorf("vectorindex: manifest dim must be positive, got %d", man.Dim)
	}
	return m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(manifestBucket)
		var genBuf, dimBuf [4]byte
		binary.BigEndian.PutUint32(genBuf[:], man.Generation)
		binary.BigEndian.PutUint32(dimBuf[:], uint32(man.Dim))
		if err := b.Put(manifestKeyGeneration, genBuf[:]); err != nil {
			return err
		}
		if err := b.Put(manifestKeyDim, dimBuf[:]); err != nil {
			return err
		}
		return b.Put(manifestKeyModelID, []byte(man.ModelID))
	})
}

func (m *manifestStore) Close() error {
	return m.db.Close()
}
