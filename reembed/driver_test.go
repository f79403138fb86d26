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

package reembed

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/store"
	"github.com/poiesic/memorit/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	dim     int
	failOn  string
	callCnt int
}

func (s *stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	s.callCnt++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if s.failOn != "" && t == s.failOn {
			return nil, errors.New("embedding backend unavailable")
		}
		v := make([]float32, s.dim)
		for j := range v {
			v[j] = float32(len(t)+j) / 10
		}
		out[i] = v
	}
	return out, nil
}

func seedCaptures(t *testing.T, dataDir string, texts []string) {
	t.Helper()
	repos, err := store.OpenRepositories(filepath.Join(dataDir, "engram.db"))
	require.NoError(t, err)
	defer repos.Backend.Close()

	for _, text := range texts {
		c := core.Capture{
			ID:          core.NewID(time.Now()),
			Kind:        core.KindIngestedText,
			CapturedAt:  time.Now(),
			SourceApp:   "com.example.seed",
			Text:        text,
			Tier:        core.TierHot,
			LengthChars: len(text),
			InsertedAt:  time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		require.NoError(t, repos.Captures.Put(c))
	}
}

func TestDriverMigratesEveryCaptureToNewGeneration(t *testing.T) {
	dataDir := t.TempDir()
	seedCaptures(t, dataDir, []string{
		"first capture to migrate",
		"second capture to migrate",
		"",
	})

	driver, err := Open(dataDir, "new-model", 6, &stubEmbedder{dim: 6})
	require.NoError(t, err)
	defer driver.Close()

	report, err := driver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Errored)

	require.NoError(t, driver.Finalize())

	idx, err := vectorindex.Open(filepath.Join(dataDir, "vectors"), 6, "new-model")
	require.NoError(t, err)
	defer idx.Close()
}

func TestDriverLeavesOldGenerationInPlaceOnEmbeddingError(t *testing.T) {
	dataDir := t.TempDir()
	seedCaptures(t, dataDir, []string{
		"this one embeds fine",
		"this one fails to embed",
	})

	driver, err := Open(dataDir, "new-model", 6, &stubEmbedder{dim: 6, failOn: "this one fails to embed"})
	require.NoError(t, err)
	defer driver.Close()

	report, err := driver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, 1, report.Errored)

	_, err = vectorindex.Open(filepath.Join(dataDir, "vectors"), 0, "")
	assert.Error(t, err, "the old generation directory should still be the live one; reopening it blind should fail on the real dim/model")
}

func TestDriverClearsStaleVIDIndexBeforeMigrating(t *testing.T) {
	dataDir := t.TempDir()
	seedCaptures(t, dataDir, []string{"only capture"})

	driver, err := Open(dataDir, "model-a", 4, &stubEmbedder{dim: 4})
	require.NoError(t, err)
	report, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Errored)
	require.NoError(t, driver.Finalize())
	require.NoError(t, driver.Close())

	repos, err := store.OpenRepositories(filepath.Join(dataDir, "engram.db"))
	require.NoError(t, err)
	var firstID core.ID
	require.NoError(t, repos.Captures.All(func(c core.Capture) error {
		firstID = c.ID
		return nil
	}))
	c, err := repos.Captures.Get(firstID)
	require.NoError(t, err)
	require.NotNil(t, c.EmbeddingRef)
	firstVID := *c.EmbeddingRef
	repos.Backend.Close()

	driver2, err := Open(dataDir, "model-b", 4, &stubEmbedder{dim: 4})
	require.NoError(t, err)
	report2, err := driver2.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report2.Errored)
	require.NoError(t, driver2.Finalize())
	require.NoError(t, driver2.Close())

	repos2, err := store.OpenRepositories(filepath.Join(dataDir, "engram.db"))
	require.NoError(t, err)
	defer repos2.Backend.Close()
	c2, err := repos2.Captures.GetByVID(firstVID)
	require.NoError(t, err)
	assert.Equal(t, firstID, c2.ID, "vid reassigned in the new generation should resolve back to the same capture, not a stale alias")
}
