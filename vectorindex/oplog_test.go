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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type replayedOp struct {
	op  opCode
	vid uint64
	vec []float32
}

func TestOpLogReplayOnMissingFileIsNoop(t *testing.T) {
	var replayed []replayedOp
	err := replayOpLog(filepath.Join(t.TempDir(), "missing.bin"), func(op opCode, vid uint64, vec []float32) error {
		replayed = append(replayed, replayedOp{op, vid, vec})
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, replayed)
}

func TestOpLogAppendThenReplayRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.bin")

	l, err := openOpLog(path)
	require.NoError(t, err)
	require.NoError(t, l.appendInsert(1, []float32{1, 2, 3}))
	require.NoError(t, l.appendInsert(2, []float32{4, 5, 6}))
	require.NoError(t, l.appendDelete(1))
	require.NoError(t, l.close())

	var replayed []replayedOp
	err = replayOpLog(path, func(op opCode, vid uint64, vec []float32) error {
		replayed = append(replayed, replayedOp{op, vid, vec})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, replayed, 3)
	require.Equal(t, opInsert, replayed[0].op)
	require.Equal(t, uint64(1), replayed[0].vid)
	require.Equal(t, []float32{1, 2, 3}, replayed[0].vec)
	require.Equal(t, opDelete, replayed[2].op)
	require.Equal(t, uint64(1), replayed[2].vid)
}

func TestOpLogTruncateDropsPriorEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.bin")

	l, err := openOpLog(path)
	require.NoError(t, err)
	require.NoError(t, l.appendInsert(1, []float32{1}))
	require.NoError(t, l.truncate())
	require.NoError(t, l.appendInsert(2, []float32{2}))
	require.NoError(t, l.close())

	var replayed []replayedOp
	err = replayOpLog(path, func(op opCode, vid uint64, vec []float32) error {
		replayed = append(replayed, replayedOp{op, vid, vec})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	require.Equal(t, uint64(2), replayed[0].vid)
}
