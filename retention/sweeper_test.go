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

package retention

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/memorit/config"
	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/eventbus"
	"github.com/poiesic/memorit/store"
	"github.com/poiesic/memorit/vectorindex"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(t *testing.T) (*Sweeper, *store.Repositories, *vectorindex.Index) {
	t.Helper()
	repos, err := store.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Backend.Close() })

	idx, err := vectorindex.Open(t.TempDir(), 3, "test-model")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	cfg, err := config.Open(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	bus := eventbus.New(8)
	sw, err := New(repos.Backend, repos.Captures, repos.VectorsMeta, idx, bus, cfg)
	require.NoError(t, err)
	t.Cleanup(sw.pool.Release)

	return sw, repos, idx
}

func putCapture(t *testing.T, repos *store.Repositories, capturedAt time.Time, tier core.Tier) core.Capture {
	t.Helper()
	c := core.Capture{
		ID:         core.NewID(capturedAt),
		Kind:       core.KindScreenOCR,
		CapturedAt: capturedAt,
		Tier:       tier,
		Text:       "",
		InsertedAt: capturedAt,
		UpdatedAt:  capturedAt,
	}
	require.NoError(t, repos.Captures.Put(c))
	return c
}

func TestSweepPromotesHotToWarmPastHotBoundary(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	old := putCapture(t, repos, time.Now().UTC().AddDate(0, 0, -10), core.TierHot)

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.PromotedToWarm)

	got, err := repos.Captures.Get(old.ID)
	require.NoError(t, err)
	require.Equal(t, core.TierWarm, got.Tier)
}

func TestSweepPromotesToColdPastWarmBoundary(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	old := putCapture(t, repos, time.Now().UTC().AddDate(0, 0, -40), core.TierWarm)

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.PromotedToCold)

	got, err := repos.Captures.Get(old.ID)
	require.NoError(t, err)
	require.Equal(t, core.TierCold, got.Tier)
}

func TestSweepDeletesPastRetentionBoundary(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	ancient := putCapture(t, repos, time.Now().UTC().AddDate(0, 0, -400), core.TierCold)

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Deleted)

	_, err = repos.Captures.Get(ancient.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestSweepDeletesVectorIndexEntryAlongWithRecord(t *testing.T) {
	sw, repos, idx := newTestSweeper(t)
	ancient := putCapture(t, repos, time.Now().UTC().AddDate(0, 0, -400), core.TierCold)
	vid, err := idx.InsertAuto(unit([]float32{1, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, repos.Captures.SetEmbeddingRef(ancient.ID, vid))

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Deleted)
	require.False(t, idx.Contains(vid))
}

func TestSweepDryRunDoesNotMutate(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	old := putCapture(t, repos, time.Now().UTC().AddDate(0, 0, -10), core.TierHot)

	report, err := sw.SweepDryRun(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.PromotedToWarm)

	got, err := repos.Captures.Get(old.ID)
	require.NoError(t, err)
	require.Equal(t, core.TierHot, got.Tier)
}

func TestSweepLeavesRecentCapturesUntouched(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	fresh := putCapture(t, repos, time.Now().UTC(), core.TierHot)

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.PromotedToWarm)
	require.Equal(t, 0, report.PromotedToCold)
	require.Equal(t, 0, report.Deleted)

	got, err := repos.Captures.Get(fresh.ID)
	require.NoError(t, err)
	require.Equal(t, core.TierHot, got.Tier)
}

func TestSweepPublishesTierChangedEvent(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	putCapture(t, repos, time.Now().UTC().AddDate(0, 0, -10), core.TierHot)

	sub := sw.bus.Subscribe()
	defer sw.bus.Unsubscribe(sub)

	_, err := sw.Sweep(context.Background())
	require.NoError(t, err)

	event := <-sub.C
	require.Equal(t, eventbus.KindTierChanged, event.Kind)
}

func TestPurgeDeletesMatchingCapturesRegardlessOfAge(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	fresh := putCapture(t, repos, time.Now().UTC(), core.TierHot)

	report, err := sw.Purge(context.Background(), Filters{}, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deleted)

	_, err = repos.Captures.Get(fresh.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestPurgeDryRunDoesNotDelete(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	fresh := putCapture(t, repos, time.Now().UTC(), core.TierHot)

	report, err := sw.Purge(context.Background(), Filters{}, true)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deleted)

	_, err = repos.Captures.Get(fresh.ID)
	require.NoError(t, err)
}

func TestPurgeFiltersByKind(t *testing.T) {
	sw, repos, _ := newTestSweeper(t)
	now := time.Now().UTC()
	matching := putCapture(t, repos, now, core.TierHot)
	other := core.Capture{ID: core.NewID(now.Add(time.Second)), Kind: core.KindAudioTranscript, CapturedAt: now.Add(time.Second)}
	require.NoError(t, repos.Captures.Put(other))

	report, err := sw.Purge(context.Background(), Filters{Kinds: []core.CaptureKind{core.KindScreenOCR}}, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deleted)

	_, err = repos.Captures.Get(matching.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = repos.Captures.Get(other.ID)
	require.NoError(t, err)
}

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
