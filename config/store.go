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

package config

import (
	"fmt"
	"sync/atomic"
)

// Store holds the live configuration snapshot behind an atomic
// pointer. Readers call Get and never block; Reload swaps in a new
// snapshot in one atomic store, so a reader mid-Get never observes a
// partially-updated Config.
type Store struct {
	path string
	ptr  atomic.Pointer[Config]
}

// Open loads path and returns a Store primed with the result. path may
// not exist yet, in which case the store starts from Default().
func Open(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.ptr.Store(&cfg)
	return s, nil
}

// Get returns the current snapshot. The returned Config is never
// mutated in place; Reload always installs a fresh value.
func (s *Store) Get() Config {
	return *s.ptr.Load()
}

// Reload re-reads the config file and, if it parses and validates,
// atomically swaps it in. An invalid or unreadable file leaves the
// previous snapshot live and returns the error, matching the
// ConfigInvalid error kind's "never partially apply" contract.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	s.ptr.Store(&cfg)
	return nil
}
