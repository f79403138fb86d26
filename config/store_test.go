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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreOpenOnMissingFileServesDefault(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), s.Get())
}

func TestStoreReloadSwapsInNewSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[search]\nsemantic_weight = 0.5\n"), 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 0.5, s.Get().Search.SemanticWeight)

	require.NoError(t, os.WriteFile(path, []byte("[search]\nsemantic_weight = 0.3\n"), 0o600))
	require.NoError(t, s.Reload())
	require.Equal(t, 0.3, s.Get().Search.SemanticWeight)
}

func TestStoreReloadOnInvalidFileKeepsPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[search]\nsemantic_weight = 0.5\n"), 0o600))

	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not valid toml [[["), 0o600))
	require.Error(t, s.Reload())
	require.Equal(t, 0.5, s.Get().Search.SemanticWeight)
}
