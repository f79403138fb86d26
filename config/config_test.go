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

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOnMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadParsesPartialOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[search]
semantic_weight = 0.5

[storage]
hot_days = 3
warm_days = 10
retention_days = 100
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.5, cfg.Search.SemanticWeight)
	require.Equal(t, 3, cfg.Storage.HotDays)
	require.Equal(t, Default().Pipeline.QueueCapacity, cfg.Pipeline.QueueCapacity)
}

func TestLoadRejectsInvalidTierBoundaries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[storage]
hot_days = 30
warm_days = 10
retention_days = 100
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not [ valid toml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsOutOfRangeSemanticWeight(t *testing.T) {
	cfg := Default()
	cfg.Search.SemanticWeight = 1.5
	require.Error(t, cfg.Validate())
}
