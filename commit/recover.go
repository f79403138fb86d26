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

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memorit/core"
)

// Reembedder reproduces the single embedding Recover needs when Step B
// never ran before a crash. It is satisfied by embed.BatchingEmbedder's
// EmbedBatch, trimmed to the one-text shape recovery actually needs.
type Reembedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// RecoverReport summarizes what the startup recovery routine did with
// each orphaned intent row, for logging and for the stats surface.
type RecoverReport struct {
	Finalized  int // Step B had already succeeded; only Step C was missing
	ReEmbedded int // embedding was redone and the commit completed
	Nulled     int // embedding could not be reproduced; capture kept with no vector
	Errored    int
}

// Recover resolves every orphan intent row left behind by a process
// that crashed between Step A and Step C. reembedder may be nil, in
// which case an intent whose vid was never inserted always falls
// through to the embedding_ref=null branch instead of being retried.
func (c *Committer) Recover(ctx context.Context, reembedder Reembedder) (RecoverReport, error) {
	var report RecoverReport

	intents, err := c.intents.ScanOrphans()
	if err != nil {
		return report, err
	}

	for _, intent := range intents {
		if err := c.recoverOne(ctx, intent, reembedder, &report); err != nil {
			report.Errored++
			c.logger.Error("recovering orphan intent", "capture_id", intent.CaptureID.String(), "err", err)
		}
	}
	return report, nil
}

func (c *Committer) recoverOne(ctx context.Context, intent core.Intent, reembedder Reembedder, report *RecoverReport) error {
	if c.index.Contains(intent.PendingVIDSlot) {
		// Step B already succeeded before the crash; only Step C (the
		// metadata row swap) is missing.
		if err := c.finalize(intent.CaptureID, intent.PendingVIDSlot); err != nil {
			return err
		}
		report.Finalized++
		return nil
	}

	if reembedder != nil {
		cap, err := c.captures.Get(intent.CaptureID)
		if err == nil && cap.Text != "" {
			vectors, embedErr := reembedder.EmbedBatch(ctx, []string{cap.Text})
			if embedErr == nil && len(vectors) == 1 {
				if err := c.index.Insert(intent.PendingVIDSlot, vectors[0]); err == nil {
					if err := c.finalize(intent.CaptureID, intent.PendingVIDSlot); err != nil {
						return err
					}
					report.ReEmbedded++
					return nil
				}
			}
		}
	}

	// The embedding could not be reproduced: drop the intent and leave
	// the capture with no vector, satisfying the invariant's other
	// admissible state (embedding_ref=null, no vector index entry).
	if err := c.backend.WithTx(func(tx *badger.Txn) error {
		if err := c.intents.DeleteTx(tx, intent.CaptureID); err != nil {
			return err
		}
		return tx.Commit()
	}, true); err != nil {
		return err
	}
	report.Nulled++
	return nil
}
