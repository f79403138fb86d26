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

package commit

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/eventbus"
	"github.com/poiesic/memorit/store"
	"github.com/poiesic/memorit/vectorindex"
	"github.com/stretchr/testify/require"
)

func unit(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

func newTestCommitter(t *testing.T) (*Committer, *store.Repositories, *vectorindex.Index) {
	t.Helper()
	repos, err := store.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Backend.Close() })

	idx, err := vectorindex.Open(t.TempDir(), 3, "test-model")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	bus := eventbus.New(8)
	c := New(repos.Backend, repos.Captures, repos.Intents, repos.VectorsMeta, idx, bus)
	return c, repos, idx
}

func newCapture(text string) core.Capture {
	now := time.Now().UTC()
	return core.Capture{
		ID:          core.NewID(now),
		Kind:        core.KindScreenOCR,
		CapturedAt:  now,
		Text:        text,
		LengthChars: len(text),
	}
}

func TestCommitWithVectorWritesAllThreeRows(t *testing.T) {
	c, repos, idx := newTestCommitter(t)

	cap := newCapture("hello world")
	committed, err := c.Commit(cap, unit([]float32{1, 0, 0}))
	require.NoError(t, err)
	require.NotNil(t, committed.EmbeddingRef)

	stored, err := repos.Captures.Get(cap.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EmbeddingRef)
	require.Equal(t, *committed.EmbeddingRef, *stored.EmbeddingRef)

	meta, err := repos.VectorsMeta.Get(cap.ID)
	require.NoError(t, err)
	require.Equal(t, *committed.EmbeddingRef, meta.VID)

	_, err = repos.Intents.Get(cap.ID)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.True(t, idx.Contains(*committed.EmbeddingRef))
}

func TestCommitWithoutVectorSkipsIntentProtocol(t *testing.T) {
	c, repos, _ := newTestCommitter(t)

	cap := newCapture("")
	committed, err := c.Commit(cap, nil)
	require.NoError(t, err)
	require.Nil(t, committed.EmbeddingRef)

	stored, err := repos.Captures.Get(cap.ID)
	require.NoError(t, err)
	require.Nil(t, stored.EmbeddingRef)

	_, err = repos.Intents.Get(cap.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCommitPublishesCapturePersisted(t *testing.T) {
	repos, err := store.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Backend.Close()

	idx, err := vectorindex.Open(t.TempDir(), 3, "test-model")
	require.NoError(t, err)
	defer idx.Close()

	bus := eventbus.New(8)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	c := New(repos.Backend, repos.Captures, repos.Intents, repos.VectorsMeta, idx, bus)
	cap := newCapture("hello")
	_, err = c.Commit(cap, unit([]float32{1, 0, 0}))
	require.NoError(t, err)

	event := <-sub.C
	require.Equal(t, eventbus.KindCapturePersisted, event.Kind)
	require.Equal(t, cap.ID, event.Payload.(core.ID))
}

func TestRecoverFinalizesIntentWhenVectorInsertAlreadySucceeded(t *testing.T) {
	c, repos, idx := newTestCommitter(t)

	cap := newCapture("partial commit")
	require.NoError(t, repos.Captures.Put(cap))

	vid := idx.ReserveVID()
	require.NoError(t, idx.Insert(vid, unit([]float32{0, 1, 0})))

	intent := core.Intent{CaptureID: cap.ID, PendingVIDSlot: vid, ModelID: idx.ModelID(), Generation: idx.Generation(), CreatedAt: time.Now().UTC()}
	require.NoError(t, putIntent(repos, intent))

	report, err := c.Recover(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Finalized)

	meta, err := repos.VectorsMeta.Get(cap.ID)
	require.NoError(t, err)
	require.Equal(t, vid, meta.VID)
}

func TestRecoverNullsEmbeddingWhenReembedderUnavailable(t *testing.T) {
	c, repos, idx := newTestCommitter(t)

	cap := newCapture("never embedded")
	require.NoError(t, repos.Captures.Put(cap))

	vid := idx.ReserveVID()
	intent := core.Intent{CaptureID: cap.ID, PendingVIDSlot: vid, ModelID: idx.ModelID(), Generation: idx.Generation(), CreatedAt: time.Now().UTC()}
	require.NoError(t, putIntent(repos, intent))

	report, err := c.Recover(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Nulled)

	_, err = repos.Intents.Get(cap.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

type fakeReembedder struct {
	vector []float32
}

func (f fakeReembedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func TestRecoverReembedsWhenReembedderProvided(t *testing.T) {
	c, repos, idx := newTestCommitter(t)

	cap := newCapture("re-embed me")
	require.NoError(t, repos.Captures.Put(cap))

	vid := idx.ReserveVID()
	intent := core.Intent{CaptureID: cap.ID, PendingVIDSlot: vid, ModelID: idx.ModelID(), Generation: idx.Generation(), CreatedAt: time.Now().UTC()}
	require.NoError(t, putIntent(repos, intent))

	report, err := c.Recover(context.Background(), fakeReembedder{vector: unit([]float32{0, 0, 1})})
	require.NoError(t, err)
	require.Equal(t, 1, report.ReEmbedded)
	require.True(t, idx.Contains(vid))
}

func putIntent(repos *store.Repositories, intent core.Intent) error {
	return repos.Backend.WithTx(func(tx *badger.Txn) error {
		if err := repos.Intents.PutTx(tx, intent); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
