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

// Package retention runs the background tier-transition and deletion
// sweep: captures age from hot to warm to cold and finally out of the
// store entirely, on a schedule driven by storage.hot_days,
// storage.warm_days, and storage.retention_days.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/memorit/config"
	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/eventbus"
	"github.com/poiesic/memorit/store"
	"github.com/poiesic/memorit/vectorindex"
)

// Report summarizes one sweep's effect, returned both by a real sweep
// and by its dry_run twin (whose counts describe what a real sweep
// would do without it having mutated anything).
type Report struct {
	PromotedToWarm int
	PromotedToCold int
	Deleted        int
	Reconciled     int // orphaned vectors_metadata rows cleaned up by Recover
}

// Sweeper owns the background ticker and the pure tier-boundary logic.
// It holds its own single-worker pool, the same ants-backed submission
// style the ingestion pipeline uses for its processing stages, sized to
// exactly one because retention is a single, low-priority worker.
type Sweeper struct {
	backend     *store.Backend
	captures    *store.CaptureStore
	vectorsMeta *store.VectorsMetaStore
	index       *vectorindex.Index
	bus         *eventbus.Bus
	cfg         *config.Store
	pool        *ants.Pool
	logger      *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a Sweeper. bus may be nil; Publish on a nil Bus is a no-op.
func New(backend *store.Backend, captures *store.CaptureStore, vectorsMeta *store.VectorsMetaStore, index *vectorindex.Index,
	bus *eventbus.Bus, cfg *config.Store) (*Sweeper, error) {
	pool, err := ants.NewPool(1)
	if err != nil {
		return nil, fmt.Errorf("retention: starting worker pool: %w", err)
	}
	return &Sweeper{
		backend:     backend,
		captures:    captures,
		vectorsMeta: vectorsMeta,
		index:       index,
		bus:         bus,
		cfg:         cfg,
		pool:        pool,
		logger:      slog.Default().With("component", "retention"),
	}, nil
}

// Start launches the ticker loop in the background, submitting one
// sweep per tick to the worker pool so a slow sweep cannot pile up
// concurrent ones. It returns immediately; call Stop to shut down.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.stop = make(chan struct{})
	sw.done = make(chan struct{})

	go func() {
		defer close(sw.done)
		for {
			interval := time.Duration(sw.cfg.Get().Retention.SweepIntervalSecs) * time.Second
			if interval <= 0 {
				interval = time.Hour
			}
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-sw.stop:
				timer.Stop()
				return
			case <-timer.C:
			}

			done := make(chan struct{})
			if err := sw.pool.Submit(func() {
				defer close(done)
				if _, err := sw.Sweep(ctx); err != nil {
					sw.logger.Error("retention sweep failed", "err", err)
				}
			}); err != nil {
				sw.logger.Error("submitting retention sweep", "err", err)
				close(done)
			}
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
	}()
}

// Stop halts the ticker loop and releases the worker pool. It blocks
// until any in-flight sweep submitted before Stop was called returns.
func (sw *Sweeper) Stop() {
	if sw.stop != nil {
		close(sw.stop)
		<-sw.done
	}
	sw.pool.Release()
}

// Sweep runs one real pass: tier transitions and deletions are
// committed as it goes.
func (sw *Sweeper) Sweep(ctx context.Context) (Report, error) {
	return sw.run(ctx, false)
}

// SweepDryRun runs the same scan and boundary logic as Sweep but never
// calls UpdateTier, Delete, or any vector index mutation; the returned
// Report describes what a real sweep would have done.
func (sw *Sweeper) SweepDryRun(ctx context.Context) (Report, error) {
	return sw.run(ctx, true)
}

func (sw *Sweeper) run(ctx context.Context, dryRun bool) (Report, error) {
	cfg := sw.cfg.Get()
	now := time.Now().UTC()

	hotBoundary := now.AddDate(0, 0, -cfg.Storage.HotDays)
	warmBoundary := now.AddDate(0, 0, -cfg.Storage.WarmDays)
	retentionBoundary := now.AddDate(0, 0, -cfg.Storage.RetentionDays)

	captures, err := sw.captures.Range(time.Unix(0, 0).UTC(), now.Add(time.Second), 0)
	if err != nil {
		return Report{}, fmt.Errorf("retention: scanning captures: %w", err)
	}

	var report Report
	for _, c := range captures {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch {
		case c.CapturedAt.Before(retentionBoundary):
			if !dryRun {
				if err := sw.deleteCapture(c); err != nil {
					sw.logger.Error("deleting expired capture", "capture_id", c.ID.String(), "err", err)
					continue
				}
				sw.publishDeleted(c.ID)
			}
			report.Deleted++
		case c.CapturedAt.Before(warmBoundary):
			if c.Tier != core.TierCold {
				if !dryRun {
					if err := sw.transition(c.ID, c.Tier, core.TierCold); err != nil {
						sw.logger.Error("promoting capture to cold", "capture_id", c.ID.String(), "err", err)
						continue
					}
				}
				report.PromotedToCold++
			}
		case c.CapturedAt.Before(hotBoundary):
			if c.Tier == core.TierHot {
				if !dryRun {
					if err := sw.transition(c.ID, c.Tier, core.TierWarm); err != nil {
						sw.logger.Error("promoting capture to warm", "capture_id", c.ID.String(), "err", err)
						continue
					}
				}
				report.PromotedToWarm++
			}
		}
	}
	return report, nil
}

func (sw *Sweeper) transition(id core.ID, from, to core.Tier) error {
	if err := sw.captures.UpdateTier(id, to); err != nil {
		return err
	}
	sw.publishTierChanged(id, from, to)
	return nil
}

// deleteCapture runs the three-step deletion order: record row and FTS
// row together (CaptureStore.Delete is one record-store transaction),
// then the vector index entry and its metadata row. A crash between
// the two steps leaves a vectors_metadata row with no capture behind
// it; Recover resolves that on the next startup.
func (sw *Sweeper) deleteCapture(c core.Capture) error {
	if err := sw.captures.Delete(c.ID); err != nil {
		return fmt.Errorf("deleting record and fts rows: %w", err)
	}
	if c.EmbeddingRef == nil {
		return nil
	}
	if err := sw.index.Delete(*c.EmbeddingRef); err != nil {
		return fmt.Errorf("deleting vector index entry: %w", err)
	}
	if err := sw.deleteVectorsMeta(c.ID); err != nil {
		return fmt.Errorf("deleting vectors metadata row: %w", err)
	}
	return nil
}

func (sw *Sweeper) deleteVectorsMeta(captureID core.ID) error {
	return sw.backend.WithTx(func(tx *badger.Txn) error {
		if err := sw.vectorsMeta.DeleteTx(tx, captureID); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func (sw *Sweeper) publishTierChanged(id core.ID, from, to core.Tier) {
	sw.bus.Publish(eventbus.Event{Kind: eventbus.KindTierChanged, Payload: eventbus.TierChanged{CaptureID: id, From: from, To: to}})
}

func (sw *Sweeper) publishDeleted(id core.ID) {
	sw.bus.Publish(eventbus.Event{Kind: eventbus.KindCaptureDeleted, Payload: id})
}
