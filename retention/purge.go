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
	"fmt"
	"time"

	"github.com/poiesic/memorit/core"
)

// Filters narrows a Purge call to a subset of captures, independent of
// the age-driven boundaries Sweep uses. A zero value matches everything
// in the scanned date range.
type Filters struct {
	Kinds     []core.CaptureKind
	SourceApp string
	From      time.Time
	To        time.Time
}

func (f Filters) matches(c core.Capture) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if c.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SourceApp != "" && c.SourceApp != f.SourceApp {
		return false
	}
	return true
}

// Purge deletes every capture matching filters outright, bypassing the
// hot/warm/cold age boundaries entirely. With dryRun true it returns the
// count that would have been deleted without mutating anything, the
// operation the outward purge(filters, dry_run) surface calls through to.
func (sw *Sweeper) Purge(ctx context.Context, filters Filters, dryRun bool) (Report, error) {
	from := filters.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := filters.To
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	captures, err := sw.captures.Range(from, to, 0)
	if err != nil {
		return Report{}, fmt.Errorf("retention: purge scan: %w", err)
	}

	var report Report
	for _, c := range captures {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !filters.matches(c) {
			continue
		}
		if !dryRun {
			if err := sw.deleteCapture(c); err != nil {
				sw.logger.Error("purging capture", "capture_id", c.ID.String(), "err", err)
				continue
			}
			sw.publishDeleted(c.ID)
		}
		report.Deleted++
	}
	return report, nil
}
