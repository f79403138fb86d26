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

// Package memorit wires the intake queue, safety gate, dedup filter,
// embedder, dual-write committer, query planner, and retention sweeper
// into one daemon-facing Engine. See Open for the persisted layout it
// expects and Push/Search/Recent/Get/Stats/Purge/Subscribe for the
// outward contract described in the Capture Source and
// Query/Subscription interfaces.
package memorit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/memorit/ai"
	"github.com/poiesic/memorit/ai/openai"
	"github.com/poiesic/memorit/commit"
	"github.com/poiesic/memorit/config"
	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/dedup"
	"github.com/poiesic/memorit/embed"
	"github.com/poiesic/memorit/eventbus"
	"github.com/poiesic/memorit/intake"
	"github.com/poiesic/memorit/query"
	"github.com/poiesic/memorit/retention"
	"github.com/poiesic/memorit/safety"
	"github.com/poiesic/memorit/store"
	"github.com/poiesic/memorit/vectorindex"
)

// Engine is the ingestion-and-retrieval core: the pipeline from Push
// through to a persisted, queryable Capture, plus the retention sweep
// that ages rows out behind it.
type Engine struct {
	dataDir string

	cfg   *config.Store
	repos *store.Repositories
	index *vectorindex.Index
	bus   *eventbus.Bus

	gate      *safety.Gate
	dup       *dedup.Filter
	embedder  *embed.BatchingEmbedder
	intakeMgr *intake.Manager
	committer *commit.Committer
	planner   *query.Planner
	sweeper   *retention.Sweeper

	logger *slog.Logger

	readOnly atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine at Open time.
type Option func(*engineOptions)

type engineOptions struct {
	embedder ai.Embedder
	aiConfig *ai.Config
	logger   *slog.Logger
}

// WithEmbedder injects a ready-made embedding backend, bypassing the
// default OpenAI-compatible one Open would otherwise construct. Tests
// use this to supply a deterministic stub.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *engineOptions) { o.embedder = e }
}

// WithAIConfig supplies the configuration Open uses to build its
// default OpenAI-compatible embedding backend.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *engineOptions) { o.aiConfig = cfg }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// Open loads (or initializes) the data directory at dataDir: a record
// store (engram.db), a vector index (vectors/), and a config.toml, all
// under owner-only permissions. If the vector index manifest names a
// different embedding model than the current configuration, Open still
// succeeds but the Engine comes up read-only: a migration
// (cmd/engramd's reembed driver) must run a generation cutover before
// writes resume.
func Open(dataDir string, opts ...Option) (*Engine, error) {
	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("engine: creating data directory: %w", err)
	}

	cfgStore, err := config.Open(filepath.Join(dataDir, "config.toml"))
	if err != nil {
		return nil, fmt.Errorf("engine: loading config: %w", err)
	}
	cfg := cfgStore.Get()

	repos, err := store.OpenRepositories(filepath.Join(dataDir, "engram.db"))
	if err != nil {
		return nil, fmt.Errorf("engine: opening record store: %w", err)
	}

	bus := eventbus.New(cfg.Events.SubscriberBuffer)

	index, readOnly, err := openIndexDegraded(filepath.Join(dataDir, "vectors"), cfg, logger)
	if err != nil {
		repos.Backend.Close()
		return nil, err
	}

	innerEmbedder := options.embedder
	if innerEmbedder == nil {
		aiCfg := options.aiConfig
		if aiCfg == nil {
			aiCfg = ai.DefaultConfig()
			aiCfg.EmbeddingModel = cfg.Embedding.ModelID
		}
		innerEmbedder, err = openai.NewEmbedder(aiCfg)
		if err != nil {
			index.Close()
			repos.Backend.Close()
			return nil, fmt.Errorf("engine: building embedder: %w", err)
		}
	}
	embedder := embed.New(innerEmbedder, embed.Generation{ModelID: cfg.Embedding.ModelID, Dim: cfg.Embedding.Dim}, embed.Config{
		BatchMax:     cfg.Embedding.BatchMax,
		BatchTimeout: time.Duration(cfg.Pipeline.BatchTimeoutMs) * time.Millisecond,
	})

	intakeMgr := intake.NewManager(intake.Config{Capacity: cfg.Pipeline.QueueCapacity})
	committer := commit.New(repos.Backend, repos.Captures, repos.Intents, repos.VectorsMeta, index, bus)
	planner := query.New(repos.Captures, index, embedder, cfgStore)

	sweeper, err := retention.New(repos.Backend, repos.Captures, repos.VectorsMeta, index, bus, cfgStore)
	if err != nil {
		embedder.Close()
		index.Close()
		repos.Backend.Close()
		return nil, fmt.Errorf("engine: starting retention sweeper: %w", err)
	}

	e := &Engine{
		dataDir:   dataDir,
		cfg:       cfgStore,
		repos:     repos,
		index:     index,
		bus:       bus,
		gate:      safety.New(buildSafetyConfig(cfg)),
		dup:       dedup.New(buildDedupConfig(cfg)),
		embedder:  embedder,
		intakeMgr: intakeMgr,
		committer: committer,
		planner:   planner,
		sweeper:   sweeper,
		logger:    logger,
	}
	e.readOnly.Store(readOnly)

	if !readOnly {
		if err := e.recoverOnOpen(); err != nil {
			logger.Error("startup recovery failed", "err", err)
		}
	}

	return e, nil
}

// openIndexDegraded opens the vector index for cfg's current
// model_id/dim. When the on-disk manifest names a different
// generation, it reopens against the manifest's own generation instead
// so queries keep working, and reports that the engine must come up
// read-only pending an explicit migration.
func openIndexDegraded(dir string, cfg config.Config, logger *slog.Logger) (*vectorindex.Index, bool, error) {
	index, err := vectorindex.Open(dir, cfg.Embedding.Dim, cfg.Embedding.ModelID)
	if err == nil {
		return index, false, nil
	}

	var mismatch *vectorindex.ErrGenerationMismatch
	if !errors.As(err, &mismatch) {
		return nil, false, fmt.Errorf("engine: opening vector index: %w", err)
	}

	logger.Warn("embedding model changed since the index was last written; booting read-only pending a migration",
		"index_model", mismatch.CurrentModelID, "index_dim", mismatch.CurrentDim,
		"configured_model", mismatch.WantModelID, "configured_dim", mismatch.WantDim)

	index, err = vectorindex.Open(dir, mismatch.CurrentDim, mismatch.CurrentModelID)
	if err != nil {
		return nil, false, fmt.Errorf("engine: opening vector index at its existing generation: %w", err)
	}
	return index, true, nil
}

func buildSafetyConfig(cfg config.Config) safety.Config {
	enabled := make(map[string]bool, len(cfg.Safety.KindsEnabled))
	for _, k := range cfg.Safety.KindsEnabled {
		enabled[k] = true
	}
	return safety.Config{
		RedactPII:        cfg.Safety.RedactPII,
		DetectCreditCard: enabled["credit_card"],
		DetectSSN:        enabled["ssn"],
		DetectEmail:      enabled["email"],
		DetectPhone:      enabled["phone"],
		LuhnRequired:     cfg.Safety.LuhnRequired,
	}
}

func buildDedupConfig(cfg config.Config) dedup.Config {
	return dedup.Config{
		ExactWindow:   time.Duration(cfg.Dedup.ExactWindowSecs) * time.Second,
		NearRingSize:  cfg.Dedup.NearRingSize,
		NearThreshold: float32(cfg.Search.DedupThreshold),
	}
}

// recoverOnOpen resolves whatever the dual-write committer and the
// retention sweeper left behind after an unclean shutdown, before the
// Engine starts accepting traffic.
func (e *Engine) recoverOnOpen() error {
	commitReport, err := e.committer.Recover(context.Background(), e.embedder)
	if err != nil {
		return fmt.Errorf("recovering orphan intents: %w", err)
	}
	if commitReport != (commit.RecoverReport{}) {
		e.logger.Info("resolved orphan intent rows on startup",
			"finalized", commitReport.Finalized, "re_embedded", commitReport.ReEmbedded,
			"nulled", commitReport.Nulled, "errored", commitReport.Errored)
	}

	retentionReport, err := e.sweeper.Recover()
	if err != nil {
		return fmt.Errorf("recovering orphan vectors_metadata rows: %w", err)
	}
	if retentionReport.Reconciled > 0 {
		e.logger.Info("reconciled orphaned vectors_metadata rows on startup", "count", retentionReport.Reconciled)
	}
	return nil
}

// Start launches the background pipeline workers (one per capture
// kind) and the retention sweeper's ticker. It returns immediately;
// call Close to shut everything down.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for _, kind := range core.ValidKinds {
		kind := kind
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runPipelineWorker(ctx, kind)
		}()
	}
	e.sweeper.Start(ctx)
}

// Close stops the background workers and releases every underlying
// resource: worker pools, the vector index files, and the record store.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
	}
	e.sweeper.Stop()
	e.embedder.Close()

	var firstErr error
	if err := e.index.Close(); err != nil {
		e.logger.Error("closing vector index", "err", err)
		firstErr = err
	}
	if err := e.repos.Backend.Close(); err != nil {
		e.logger.Error("closing record store", "err", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadOnly reports whether the Engine is refusing writes, either
// because the vector index booted against a stale generation or
// because a store-level fatal error marked it read-only mid-run.
func (e *Engine) ReadOnly() bool {
	return e.readOnly.Load()
}

// ReloadConfig re-reads config.toml and atomically swaps the snapshot
// every worker reads from. Already-running workers pick it up at their
// next loop boundary.
func (e *Engine) ReloadConfig() error {
	return e.cfg.Reload()
}

// Subscribe registers a new event stream. Callers must Unsubscribe
// when done.
func (e *Engine) Subscribe() *eventbus.Subscription {
	return e.bus.Subscribe()
}

// Unsubscribe removes a Subscription obtained from Subscribe.
func (e *Engine) Unsubscribe(sub *eventbus.Subscription) {
	e.bus.Unsubscribe(sub)
}

// Search runs one of the four query modes, per the Query/Subscription
// interface.
func (e *Engine) Search(ctx context.Context, mode query.Mode, queryText string, filters query.Filters, monitor query.Monitor) (query.Outcome, error) {
	return e.planner.Search(ctx, mode, queryText, filters, monitor)
}

// Recent returns captures matching filters in reverse-chronological
// order.
func (e *Engine) Recent(filters query.Filters) ([]query.Result, error) {
	return e.planner.Recent(filters)
}

// Get returns one Capture in full.
func (e *Engine) Get(id core.ID) (core.Capture, error) {
	return e.planner.Get(id)
}

// Stats summarizes the record store's current contents.
func (e *Engine) Stats() (query.Stats, error) {
	return e.planner.Stats()
}

// Purge deletes every capture matching filters outright, independent
// of the age-driven retention boundaries.
func (e *Engine) Purge(ctx context.Context, filters retention.Filters, dryRun bool) (retention.Report, error) {
	return e.sweeper.Purge(ctx, filters, dryRun)
}
