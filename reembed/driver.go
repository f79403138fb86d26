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

// Package reembed drives a generation cutover: every capture's text is
// re-embedded under a new model into a freshly opened vector index,
// and the old index is only retired once every capture has a confirmed
// vector in the new one. The engine must not be running against the
// same data directory while a Driver is active.
package reembed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/memorit/ai"
	"github.com/poiesic/memorit/commit"
	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/embed"
	"github.com/poiesic/memorit/internal/retry"
	"github.com/poiesic/memorit/store"
	"github.com/poiesic/memorit/vectorindex"
)

// Report summarizes one migration run.
type Report struct {
	Total    int
	Embedded int
	Skipped  int // captures with no text, nothing to embed
	Errored  int
}

// Driver runs a one-shot migration for a data directory. Callers build
// one with Open, call Run, then Close regardless of whether Run
// succeeded.
type Driver struct {
	dataDir  string
	repos    *store.Repositories
	newIndex *vectorindex.Index
	embedder *embed.BatchingEmbedder
	logger   *slog.Logger

	newIndexDir string
	liveDir     string
}

// Open prepares a migration to modelID/dim: it opens the record store
// (shared with the eventual live engine) and a brand-new vector index
// at vectors.new inside dataDir, left uncommitted until Run finishes
// and Finalize is called.
func Open(dataDir string, modelID string, dim int, embedder ai.Embedder) (*Driver, error) {
	logger := slog.Default().With("component", "reembed")

	repos, err := store.OpenRepositories(filepath.Join(dataDir, "engram.db"))
	if err != nil {
		return nil, fmt.Errorf("reembed: opening record store: %w", err)
	}

	newIndexDir := filepath.Join(dataDir, "vectors.new")
	if err := os.RemoveAll(newIndexDir); err != nil {
		repos.Backend.Close()
		return nil, fmt.Errorf("reembed: clearing stale migration directory: %w", err)
	}

	newIndex, err := vectorindex.Open(newIndexDir, dim, modelID)
	if err != nil {
		repos.Backend.Close()
		return nil, fmt.Errorf("reembed: opening new generation: %w", err)
	}

	batching := embed.New(embedder, embed.Generation{ModelID: modelID, Dim: dim}, embed.DefaultConfig())

	return &Driver{
		dataDir:     dataDir,
		repos:       repos,
		newIndex:    newIndex,
		embedder:    batching,
		logger:      logger,
		newIndexDir: newIndexDir,
		liveDir:     filepath.Join(dataDir, "vectors"),
	}, nil
}

// Run re-embeds every capture's text into the new generation. Captures
// with empty text are skipped: they never held a vector in the old
// generation either. A per-capture embedding or commit failure is
// retried with backoff and, on exhaustion, counted in Report.Errored
// rather than aborting the whole migration.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	if err := d.repos.Captures.ClearVIDIndex(); err != nil {
		return Report{}, fmt.Errorf("reembed: clearing stale vid index: %w", err)
	}

	committer := commit.New(d.repos.Backend, d.repos.Captures, d.repos.Intents, d.repos.VectorsMeta, d.newIndex, nil)

	var report Report
	err := d.repos.Captures.All(func(cap core.Capture) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.Total++

		if cap.Text == "" {
			report.Skipped++
			return nil
		}

		var vector []float32
		embedErr := retry.WithBackoff(ctx, 3, 100*time.Millisecond, func() error {
			v, err := d.embedder.EmbedOne(ctx, cap.Text)
			if err != nil {
				return err
			}
			vector = v
			return nil
		})
		if embedErr != nil {
			d.logger.Error("re-embedding capture failed", "capture_id", cap.ID.String(), "err", embedErr)
			report.Errored++
			return nil
		}

		commitErr := retry.WithBackoff(ctx, 3, 100*time.Millisecond, func() error {
			_, err := committer.Commit(cap, vector)
			return err
		})
		if commitErr != nil {
			d.logger.Error("committing re-embedded vector failed", "capture_id", cap.ID.String(), "err", commitErr)
			report.Errored++
			return nil
		}
		report.Embedded++
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("reembed: scanning captures: %w", err)
	}

	if err := d.newIndex.Snapshot(); err != nil {
		return report, fmt.Errorf("reembed: snapshotting new generation: %w", err)
	}
	return report, nil
}

// Finalize retires the old generation directory and installs the new
// one in its place. Callers should only call this after Run returns a
// Report with Errored == 0; a non-zero error count means some captures
// still point at vids in the generation about to be discarded.
func (d *Driver) Finalize() error {
	if err := d.newIndex.Close(); err != nil {
		return fmt.Errorf("reembed: closing new generation: %w", err)
	}
	d.newIndex = nil

	backupDir := d.liveDir + ".retired-" + time.Now().UTC().Format("20060102T150405Z")
	if _, err := os.Stat(d.liveDir); err == nil {
		if err := os.Rename(d.liveDir, backupDir); err != nil {
			return fmt.Errorf("reembed: retiring old generation: %w", err)
		}
	}
	if err := os.Rename(d.newIndexDir, d.liveDir); err != nil {
		return fmt.Errorf("reembed: installing new generation: %w", err)
	}
	return nil
}

// Close releases the record store and, if Finalize was never called,
// the still-open new-generation index.
func (d *Driver) Close() error {
	if d.newIndex != nil {
		d.newIndex.Close()
	}
	return d.repos.Backend.Close()
}
