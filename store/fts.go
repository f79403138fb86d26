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

package store

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dgraph-io/badger/v4"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/memorit/core"
)

// BM25 tuning constants, the standard Robertson/Sparck Jones defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// ScoredID is one full-text match.
type ScoredID struct {
	ID    core.ID
	Score float32
}

// tokenize splits text into lowercase alphanumeric runs. It is used
// identically at index time and query time so postings and queries
// always agree on what a "term" is.
func tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

type ftsStats struct {
	docCount    uint64
	totalLength uint64
}

func readFTSStats(tx *badger.Txn) (ftsStats, error) {
	item, err := tx.Get([]byte(ftsStatsKey))
	if err == badger.ErrKeyNotFound {
		return ftsStats{}, nil
	}
	if err != nil {
		return ftsStats{}, err
	}
	var stats ftsStats
	err = item.Value(func(val []byte) error {
		docCount, n, err := varint.Uint64.Unmarshal(val)
		if err != nil {
			return err
		}
		totalLength, _, err := varint.Uint64.Unmarshal(val[n:])
		if err != nil {
			return err
		}
		stats = ftsStats{docCount: docCount, totalLength: totalLength}
		return nil
	})
	return stats, err
}

func writeFTSStats(tx *badger.Txn, stats ftsStats) error {
	buf := make([]byte, varint.Uint64.Size(stats.docCount)+varint.Uint64.Size(stats.totalLength))
	n := varint.Uint64.Marshal(stats.docCount, buf)
	varint.Uint64.Marshal(stats.totalLength, buf[n:])
	return tx.Set([]byte(ftsStatsKey), buf)
}

// indexDoc tokenizes text and writes its postings, doc-length row, and
// updated global stats within tx. Call sites pass the exact text that
// was committed for the capture, so removeDoc can re-derive the same
// term set later.
func indexDoc(tx *badger.Txn, id core.ID, text string) error {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	termFreq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		termFreq[t]++
	}

	for term, freq := range termFreq {
		buf := make([]byte, varint.Int.Size(freq))
		varint.Int.Marshal(freq, buf)
		if err := tx.Set(makeFTSPostingKey(term, id), buf); err != nil {
			return err
		}
	}

	lenBuf := make([]byte, varint.Int.Size(len(tokens)))
	varint.Int.Marshal(len(tokens), lenBuf)
	if err := tx.Set(makeFTSLengthKey(id), lenBuf); err != nil {
		return err
	}

	stats, err := readFTSStats(tx)
	if err != nil {
		return err
	}
	stats.docCount++
	stats.totalLength += uint64(len(tokens))
	return writeFTSStats(tx, stats)
}

// removeDoc deletes id's postings, doc-length row, and rolls back the
// global stats. text must be the same text indexDoc was called with.
func removeDoc(tx *badger.Txn, id core.ID, text string) error {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if err := tx.Delete(makeFTSPostingKey(t, id)); err != nil {
			return err
		}
	}
	if err := tx.Delete(makeFTSLengthKey(id)); err != nil {
		return err
	}

	stats, err := readFTSStats(tx)
	if err != nil {
		return err
	}
	if stats.docCount > 0 {
		stats.docCount--
	}
	if stats.totalLength >= uint64(len(tokens)) {
		stats.totalLength -= uint64(len(tokens))
	}
	return writeFTSStats(tx, stats)
}

func docLength(tx *badger.Txn, id core.ID) (int, error) {
	item, err := tx.Get(makeFTSLengthKey(id))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var length int
	err = item.Value(func(val []byte) error {
		l, _, err := varint.Int.Unmarshal(val)
		length = l
		return err
	})
	return length, err
}

// searchFTS runs a BM25-scored boolean-OR query over tokenize(query)'s
// terms and returns the top results sorted by descending score, tied
// broken by ascending ID.
func searchFTS(tx *badger.Txn, query string, limit int) ([]ScoredID, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	stats, err := readFTSStats(tx)
	if err != nil {
		return nil, err
	}
	if stats.docCount == 0 {
		return nil, nil
	}
	avgDocLen := float64(stats.totalLength) / float64(stats.docCount)

	type accum struct {
		score float64
	}
	scores := make(map[core.ID]*accum)
	docLenCache := make(map[core.ID]int)

	seenTerms := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, ok := seenTerms[term]; ok {
			continue
		}
		seenTerms[term] = struct{}{}

		postings, err := collectPostings(tx, term)
		if err != nil {
			return nil, err
		}
		if len(postings) == 0 {
			continue
		}
		df := len(postings)
		idf := math.Log(1 + (float64(stats.docCount)-float64(df)+0.5)/(float64(df)+0.5))

		for id, tf := range postings {
			dl, ok := docLenCache[id]
			if !ok {
				dl, err = docLength(tx, id)
				if err != nil {
					return nil, err
				}
				docLenCache[id] = dl
			}
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*(float64(dl)/avgDocLen))
			termScore := idf * (float64(tf) * (bm25K1 + 1)) / denom

			a, ok := scores[id]
			if !ok {
				a = &accum{}
				scores[id] = a
			}
			a.score += termScore
		}
	}

	results := make([]ScoredID, 0, len(scores))
	for id, a := range scores {
		results = append(results, ScoredID{ID: id, Score: float32(a.score)})
	}
	sortScoredIDs(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func collectPostings(tx *badger.Txn, term string) (map[core.ID]int, error) {
	prefix := makeFTSPostingPrefix(term)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := tx.NewIterator(opts)
	defer it.Close()

	postings := make(map[core.ID]int)
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.Key()
		if len(key) < 16 {
			continue
		}
		idRaw := key[len(key)-16:]
		id, _, err := core.IDMUS.Unmarshal(idRaw)
		if err != nil {
			continue
		}
		err = item.Value(func(val []byte) error {
			tf, _, err := varint.Int.Unmarshal(val)
			postings[id] = tf
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return postings, nil
}

func sortScoredIDs(results []ScoredID) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID.Compare(results[j].ID) < 0
	})
}
