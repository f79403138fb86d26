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

package query

import "math"

// normalizeBM25 squashes an unbounded BM25 score into [0, 1) so it can
// be linearly blended against cosine similarity. tau controls how
// quickly the curve saturates; a larger tau keeps mid-range BM25 scores
// further from 1.
func normalizeBM25(bm25 float64, tau float64) float64 {
	if tau <= 0 {
		tau = 1
	}
	if bm25 < 0 {
		bm25 = 0
	}
	return 1 - math.Exp(-bm25/tau)
}

// blend combines a semantic cosine score and a normalized FTS score
// into hybrid mode's final ranking score. w is search.semantic_weight;
// w=1 reduces to pure semantic, w=0 to pure normalized FTS.
func blend(cos, ftsNorm, w float64) float64 {
	return w*cos + (1-w)*ftsNorm
}

// byScoreThenID sorts results by descending score, breaking ties by
// ascending ID so paging is stable across calls with identical scores.
func byScoreThenID(results []Result) {
	// insertion sort is adequate: result sets are capped by limit+offset
	// and never large enough to need anything fancier.
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && less(results[j], results[j-1]) {
			results[j], results[j-1] = results[j-1], results[j]
			j--
		}
	}
}

func less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Capture.ID.Compare(b.Capture.ID) < 0
}
