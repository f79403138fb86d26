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

// Package embed batches capture text into the underlying embedding
// service and attaches generation identity to the vectors it returns.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/memorit/ai"
	"github.com/poiesic/memorit/core"
)

// ErrUnavailable wraps core.ErrEmbeddingUnavailable with call-site
// context; callers match with errors.Is(err, core.ErrEmbeddingUnavailable).
var ErrUnavailable = core.ErrEmbeddingUnavailable

// Generation identifies a vector space: every vector produced under the
// same Generation is directly comparable to every other one. Changing
// ModelID always opens a new Generation.
type Generation struct {
	ModelID string
	Dim     int
}

// Embedder is the batch-only embedding surface the rest of the pipeline
// depends on. Unlike ai.Embedder's EmbedText/EmbedTexts split, this is
// deliberately single-method: every caller already goes through the
// batching worker, so there is no "single text" fast path to expose.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Generation() Generation
}

// Config tunes the batching worker.
type Config struct {
	BatchMax      int
	BatchTimeout  time.Duration
}

// DefaultConfig returns the batching defaults used when no explicit
// tuning has been configured.
func DefaultConfig() Config {
	return Config{BatchMax: 16, BatchTimeout: 200 * time.Millisecond}
}

type request struct {
	text  string
	reply chan result
}

type result struct {
	vector []float32
	err    error
}

// BatchingEmbedder accumulates individual EmbedOne calls into batches of
// up to cfg.BatchMax texts, or flushes once cfg.BatchTimeout has passed
// since the first unflushed request arrived, matching the same "batch window" shape the intake queue
// uses for its own coalescing. A batch failing means every waiter in
// that batch sees the same error: there is no partial-batch retry.
type BatchingEmbedder struct {
	cfg      Config
	inner    ai.Embedder
	gen      Generation
	logger   *slog.Logger

	mu      sync.Mutex
	pending []request
	timer   *time.Timer
	closed  bool
}

// New wraps inner behind a batching worker. gen is fixed for the
// lifetime of the BatchingEmbedder; callers open a new one when the
// underlying model changes.
func New(inner ai.Embedder, gen Generation, cfg Config) *BatchingEmbedder {
	return &BatchingEmbedder{
		cfg:    cfg,
		inner:  inner,
		gen:    gen,
		logger: slog.Default().With("component", "embed"),
	}
}

// Generation reports the vector space this embedder produces into.
func (b *BatchingEmbedder) Generation() Generation {
	return b.gen
}

// EmbedOne enqueues text and blocks until its batch is flushed, either
// because BatchMax was reached or BatchTimeout elapsed since the first
// unflushed request arrived.
func (b *BatchingEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	req := request{text: text, reply: make(chan result, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("embed: %w", ErrUnavailable)
	}
	b.pending = append(b.pending, req)
	flushNow := len(b.pending) >= b.cfg.BatchMax
	if flushNow {
		batch := b.pending
		b.pending = nil
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.mu.Unlock()
		go b.flush(batch)
	} else {
		if b.timer == nil {
			b.timer = time.AfterFunc(b.cfg.BatchTimeout, b.flushPending)
		}
		b.mu.Unlock()
	}

	select {
	case res := <-req.reply:
		return res.vector, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmbedBatch embeds texts as a single all-or-nothing batch, bypassing
// the coalescing window. Used by reembed's migration driver, which
// already works in large batches and has no reason to wait for strangers
// to join its window.
func (b *BatchingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := b.inner.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w: %w", ErrUnavailable, err)
	}
	return vectors, nil
}

func (b *BatchingEmbedder) flushPending() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

func (b *BatchingEmbedder) flush(batch []request) {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.text
	}

	vectors, err := b.inner.EmbedTexts(context.Background(), texts)
	if err != nil {
		b.logger.Error("batch embedding failed", "size", len(batch), "err", err)
		wrapped := fmt.Errorf("embed: %w: %w", ErrUnavailable, err)
		for _, r := range batch {
			r.reply <- result{err: wrapped}
		}
		return
	}

	if len(vectors) != len(batch) {
		err := errors.New("embed: embedder returned mismatched batch size")
		for _, r := range batch {
			r.reply <- result{err: err}
		}
		return
	}

	for i, r := range batch {
		r.reply <- result{vector: vectors[i]}
	}
}

// Close stops accepting new requests. Requests already pending in the
// current window are still flushed.
func (b *BatchingEmbedder) Close() {
	b.mu.Lock()
	b.closed = true
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}
