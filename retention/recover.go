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
	"fmt"

	"github.com/poiesic/memorit/core"
)

// Recover resolves vectors_metadata rows a sweep's deletion left behind
// after the record row was already gone but the matching vector index
// entry was not. This is the reverse of the dual-write committer's
// orphan-intent scan: there, a crash leaves an intent with no
// confirmed vid; here, a crash leaves a confirmed vid with no capture.
func (sw *Sweeper) Recover() (Report, error) {
	var report Report

	rows, err := sw.vectorsMeta.ScanAll()
	if err != nil {
		return report, fmt.Errorf("retention: scanning vectors metadata: %w", err)
	}

	for _, row := range rows {
		if _, err := sw.captures.Get(row.CaptureID); err == nil {
			continue // capture still exists; this row is not orphaned
		} else if err != core.ErrNotFound {
			sw.logger.Error("checking capture existence during reconciliation", "capture_id", row.CaptureID.String(), "err", err)
			continue
		}

		if sw.index.Contains(row.VID) {
			if err := sw.index.Delete(row.VID); err != nil {
				sw.logger.Error("deleting orphaned vector index entry", "vid", row.VID, "err", err)
				continue
			}
		}
		if err := sw.deleteVectorsMeta(row.CaptureID); err != nil {
			sw.logger.Error("deleting orphaned vectors metadata row", "capture_id", row.CaptureID.String(), "err", err)
			continue
		}
		report.Reconciled++
	}
	return report, nil
}
