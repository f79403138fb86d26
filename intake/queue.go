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

// Package intake holds captures between a Source's push and the
// pipeline worker's next batch, one bounded queue per capture kind.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/memorit/core"
)

// Draft is the post-safety-gate record a Source's push hands to the
// queue: Text has already been through redaction, and PIIFlags carries
// what the gate found so the pipeline worker never has to recompute it
// from text that may no longer contain anything to detect.
type Draft struct {
	ID             core.ID
	Kind           core.CaptureKind
	CapturedAt     time.Time
	SourceApp      string
	Text           string
	PIIFlags       core.PIIFlags
	OriginMetadata map[string]string
	Deadline       time.Time
}

// Config sizes one source kind's queue.
type Config struct {
	Capacity int
}

// DefaultConfig matches pipeline.queue_capacity's default.
func DefaultConfig() Config {
	return Config{Capacity: 256}
}

// Queue is a bounded, channel-backed FIFO for one capture kind. It
// never blocks a producer: TryEnqueue returns immediately, full or not.
type Queue struct {
	ch chan Draft
}

// NewQueue allocates a queue with room for cfg.Capacity drafts.
func NewQueue(cfg Config) *Queue {
	return &Queue{ch: make(chan Draft, cfg.Capacity)}
}

// TryEnqueue admits draft or reports the queue is full. It never
// blocks, matching the backpressure-not-block contract: a full queue is
// an error wrapping core.ErrIngestRejected for the caller, not a wait.
func (q *Queue) TryEnqueue(draft Draft) error {
	select {
	case q.ch <- draft:
		return nil
	default:
		return fmt.Errorf("intake: queue full: %w", core.ErrIngestRejected)
	}
}

// Dequeue drains up to max drafts, waiting at most timeout past the
// first draft it receives for more to arrive. It blocks until at least
// one draft is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context, max int, timeout time.Duration) []Draft {
	var batch []Draft

	select {
	case d := <-q.ch:
		batch = append(batch, d)
	case <-ctx.Done():
		return batch
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for len(batch) < max {
		select {
		case d := <-q.ch:
			batch = append(batch, d)
		case <-deadline.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

// Len reports the number of drafts currently buffered, for metrics and
// tests; not a live guarantee under concurrent use.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Manager owns one Queue per capture kind, lazily created on first use
// so a config that never enables a given kind never allocates for it.
type Manager struct {
	cfg    Config
	queues map[core.CaptureKind]*Queue
}

// NewManager builds a Manager whose queues all share cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, queues: make(map[core.CaptureKind]*Queue)}
}

// QueueFor returns the queue for kind, creating it on first access.
func (m *Manager) QueueFor(kind core.CaptureKind) *Queue {
	if q, ok := m.queues[kind]; ok {
		return q
	}
	q := NewQueue(m.cfg)
	m.queues[kind] = q
	return q
}

// TryEnqueue routes draft to the queue for its kind.
func (m *Manager) TryEnqueue(draft Draft) error {
	return m.QueueFor(draft.Kind).TryEnqueue(draft)
}
