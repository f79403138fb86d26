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

// Repositories bundles every store-level repository a caller typically
// needs, all bound to one shared Backend.
type Repositories struct {
	Backend      *Backend
	Captures     *CaptureStore
	Sessions     *SessionStore
	Tasks        *RowStore
	IntentRecs   *RowStore
	Summaries    *RowStore
	Entities     *RowStore
	Intents      *IntentStore
	VectorsMeta  *VectorsMetaStore
}

// NewMemoryRepositories opens an in-memory Backend and binds every
// repository to it, for tests that want the full store surface without
// touching disk. Callers close Backend when done.
func NewMemoryRepositories() (*Repositories, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	return bindRepositories(backend)
}

// OpenRepositories opens (or creates) the on-disk Backend at dir, runs
// pending migrations, and binds every repository to it. This is the
// entry point the daemon itself uses; NewMemoryRepositories exists
// alongside it only for tests.
func OpenRepositories(dir string) (*Repositories, error) {
	backend, err := OpenBackend(dir, false)
	if err != nil {
		return nil, err
	}
	return bindRepositories(backend)
}

func bindRepositories(backend *Backend) (*Repositories, error) {
	if err := Migrate(backend); err != nil {
		backend.Close()
		return nil, err
	}
	return &Repositories{
		Backend:     backend,
		Captures:    NewCaptureStore(backend),
		Sessions:    NewSessionStore(backend),
		Tasks:       NewTaskStore(backend),
		IntentRecs:  NewIntentRecordStore(backend),
		Summaries:   NewSummaryStore(backend),
		Entities:    NewEntityStore(backend),
		Intents:     NewIntentStore(backend),
		VectorsMeta: NewVectorsMetaStore(backend),
	}, nil
}
