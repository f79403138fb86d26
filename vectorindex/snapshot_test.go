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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSnapshotOnMissingFileReturnsFreshGraph(t *testing.T) {
	g, vecs, ok, err := loadSnapshot(filepath.Join(t.TempDir(), "missing.bin"), 8, 16, 20, 20)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, g.empty)
	require.Empty(t, vecs)
}

func TestSaveSnapshotThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.bin")

	g := newGraph(8, 16, 20, 20)
	store := newMemVectorStore(3)
	for vid, vec := range map[uint64][]float32{
		1: unit([]float32{1, 0, 0}),
		2: unit([]float32{0, 1, 0}),
	} {
		store.Set(vid, vec)
		g.insert(vid, vec, store)
	}
	g.delete(2)

	require.NoError(t, saveSnapshot(path, g, store.ToMap()))

	loadedGraph, loadedVecs, ok, err := loadSnapshot(path, 8, 16, 20, 20)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, loadedVecs, 2)
	require.True(t, loadedGraph.contains(1))
	require.False(t, loadedGraph.contains(2))
}

func TestSaveSnapshotLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.bin")

	g := newGraph(8, 16, 20, 20)
	store := newMemVectorStore(2)
	require.NoError(t, saveSnapshot(path, g, store.ToMap()))

	_, err := os.Stat(path + snapshotTmpSuffix)
	require.True(t, os.IsNotExist(err))
}

func TestLoadSnapshotRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot file at all"), 0o600))

	_, _, _, err := loadSnapshot(path, 8, 16, 20, 20)
	require.Error(t, err)
}
