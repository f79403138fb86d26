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

package memorit

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/eventbus"
	"github.com/poiesic/memorit/intake"
	"github.com/poiesic/memorit/internal/retry"
)

// Draft is the outward capture-source contract: a push carries a kind,
// when it was captured, where it came from, and its text. Push assigns
// the ID before the draft reaches a queue; Deadline is optional, and
// its zero value means no deadline.
type Draft struct {
	Kind           core.CaptureKind
	CapturedAt     time.Time
	SourceApp      string
	Text           string
	OriginMetadata map[string]string
	Deadline       time.Time
}

// PushStatus is the three-way outcome a capture source's push call
// resolves to.
type PushStatus string

const (
	PushAccepted     PushStatus = "accepted"
	PushDropped      PushStatus = "dropped"
	PushBackpressure PushStatus = "backpressure"
)

// PushResult is what Push returns. Accepted only means the draft was
// admitted into the intake queue, never that it was persisted — a
// source that needs persistence confirmation subscribes to
// eventbus.KindCapturePersisted for the id Push returned.
type PushResult struct {
	Status       PushStatus
	ID           core.ID
	DropReason   core.DropReason
	RetryAfterMs int
}

// Push runs the two cheap, synchronous stages of the pipeline — the
// safety gate and exact-dedup — inline, so a second push of the same
// text within the dedup window resolves to Dropped in the same call
// rather than only surfacing on the event bus later. Embedding and
// near-dedup need the batched embedder and so stay on the async
// pipeline worker: a call that returns Accepted has only cleared the
// intake queue's door, not reached the record store yet.
func (e *Engine) Push(draft Draft) (PushResult, error) {
	if e.readOnly.Load() {
		return PushResult{}, core.ErrReadOnly
	}
	if !draft.Kind.Valid() {
		return PushResult{}, fmt.Errorf("engine: %w: unrecognized capture kind %q", core.ErrIngestRejected, draft.Kind)
	}

	id := core.NewID(draft.CapturedAt)

	if !draft.Deadline.IsZero() && time.Now().After(draft.Deadline) {
		e.dropDraft(id, core.ReasonDeadline, core.ZeroID)
		return PushResult{Status: PushDropped, ID: id, DropReason: core.ReasonDeadline}, nil
	}

	decision := e.gate.Check(draft.Text)
	if decision.Denied {
		e.dropDraft(id, core.ReasonSafetyError, core.ZeroID)
		return PushResult{Status: PushDropped, ID: id, DropReason: core.ReasonSafetyError}, nil
	}

	textHash := core.CanonicalTextHash(decision.Text)
	if dupID, hit := e.dup.CheckExact(draft.Kind, draft.SourceApp, textHash, id); hit {
		e.dropDraft(id, core.ReasonExactDup, dupID)
		return PushResult{Status: PushDropped, ID: id, DropReason: core.ReasonExactDup}, nil
	}

	d := intake.Draft{
		ID:             id,
		Kind:           draft.Kind,
		CapturedAt:     draft.CapturedAt,
		SourceApp:      draft.SourceApp,
		Text:           decision.Text,
		PIIFlags:       decision.Flags,
		OriginMetadata: draft.OriginMetadata,
		Deadline:       draft.Deadline,
	}

	if err := e.intakeMgr.TryEnqueue(d); err != nil {
		return PushResult{Status: PushBackpressure, ID: id, RetryAfterMs: backpressureRetryAfterMs}, nil
	}
	return PushResult{Status: PushAccepted, ID: id}, nil
}

// backpressureRetryAfterMs is the hint given to a source whose push hit
// a full queue; the queue drains on the pipeline worker's own cadence,
// not on any fixed schedule, so this is a rough suggestion rather than
// a guarantee of anything.
const backpressureRetryAfterMs = 250

// runPipelineWorker drains kind's queue and runs each draft in the
// batch through processDraft. One worker per kind, matching the
// pipeline's one-worker-per-stage concurrency model: batching here is
// purely about amortizing the embedder's batch window, not about
// running drafts concurrently with each other.
func (e *Engine) runPipelineWorker(ctx context.Context, kind core.CaptureKind) {
	queue := e.intakeMgr.QueueFor(kind)
	cfg := e.cfg.Get()
	batchTimeout := time.Duration(cfg.Pipeline.BatchTimeoutMs) * time.Millisecond

	for {
		if ctx.Err() != nil {
			return
		}
		cfg = e.cfg.Get()
		batch := queue.Dequeue(ctx, cfg.Pipeline.BatchMax, batchTimeout)
		for _, d := range batch {
			if ctx.Err() != nil {
				return
			}
			e.processDraft(ctx, d)
		}
	}
}

// processDraft picks up where Push left off: d.Text already passed the
// safety gate and the exact-dedup check there, and d.PIIFlags already
// carries what that one gate pass found. It is not safe to recompute
// PIIFlags by re-running the gate here — a redacted placeholder like
// "[REDACTED:phone]" never matches the PII patterns on a second pass,
// so a fresh Check would silently come back with no flags at all. This
// stage only handles embedding, near-dedup, and the dual-write commit.
// Every rejection path publishes a Dropped event rather than surfacing
// an error to anything: a pipeline worker has no caller left to report
// to once a draft has left Push's hands.
func (e *Engine) processDraft(ctx context.Context, d intake.Draft) {
	if !d.Deadline.IsZero() && time.Now().After(d.Deadline) {
		e.dropDraft(d.ID, core.ReasonDeadline, core.ZeroID)
		return
	}

	cfg := e.cfg.Get()
	text := d.Text
	textHash := core.CanonicalTextHash(text)

	cap := core.Capture{
		ID:             d.ID,
		Kind:           d.Kind,
		CapturedAt:     d.CapturedAt,
		SourceApp:      d.SourceApp,
		Text:           text,
		TextHash:       textHash,
		Tier:           core.TierHot,
		PIIFlags:       d.PIIFlags,
		LengthChars:    len(text),
		OriginMetadata: d.OriginMetadata,
		InsertedAt:     time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	maxAttempts := cfg.Pipeline.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := 50 * time.Millisecond

	var vector []float32
	if text != "" {
		var err error
		vector, err = e.embedWithRetry(ctx, maxAttempts, baseDelay, text)
		if err != nil {
			e.logger.Error("embedding draft failed after retries", "capture_id", d.ID.String(), "err", err)
			e.dropDraft(d.ID, core.ReasonRetryExhausted, core.ZeroID)
			return
		}

		if dupID, _, hit := e.dup.CheckNear(d.Kind, d.SourceApp, d.ID, vector); hit {
			e.dropDraft(d.ID, core.ReasonNearDup, dupID)
			return
		}
	}

	if err := e.commitWithRetry(ctx, maxAttempts, baseDelay, cap, vector); err != nil {
		e.logger.Error("committing draft failed after retries", "capture_id", d.ID.String(), "err", err)
		e.dropDraft(d.ID, core.ReasonRetryExhausted, core.ZeroID)
		return
	}
}

// embedWithRetry retries a transient embedding failure with backoff,
// matching the error-handling design's retryable classification for
// EmbeddingUnavailable.
func (e *Engine) embedWithRetry(ctx context.Context, maxAttempts int, baseDelay time.Duration, text string) ([]float32, error) {
	var vector []float32
	err := retry.WithBackoff(ctx, maxAttempts, baseDelay, func() error {
		v, err := e.embedder.EmbedOne(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	return vector, err
}

// commitWithRetry retries ErrStoreBusy with backoff. A non-transient
// commit error still runs the full retry budget: the commit path has
// no cheap way to distinguish "will never succeed" from "succeeded
// once the contention clears" without inspecting the error more than
// errors.Is affords here, and retries are capped at maxAttempts either
// way.
func (e *Engine) commitWithRetry(ctx context.Context, maxAttempts int, baseDelay time.Duration, cap core.Capture, vector []float32) error {
	return retry.WithBackoff(ctx, maxAttempts, baseDelay, func() error {
		_, err := e.committer.Commit(cap, vector)
		return err
	})
}

func (e *Engine) dropDraft(id core.ID, reason core.DropReason, of core.ID) {
	e.bus.Publish(eventbus.Event{Kind: eventbus.KindDropped, Payload: eventbus.Dropped{Reason: string(reason), Of: of}})
}
