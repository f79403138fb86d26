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
	"encoding/binary"
	"time"

	"github.com/poiesic/memorit/core"
)

// Key prefixes. All composite keys use BigEndian encodings for their
// numeric components so BadgerDB's lexicographic key order matches the
// intended iteration order.
const (
	capturePrefix     = "cap"
	captureDatePrefix = "capd"
	sessionPrefix     = "sess"
	intentPrefix      = "intent"
	vectorsMetaPrefix = "vm"
	vidIndexPrefix    = "vidx"
	schemaMetaKey     = "schema_meta"

	taskPrefix    = "task"
	intentRecPref = "intentrec"
	summaryPrefix = "summary"
	entityPrefix  = "entity"

	ftsPostingPrefix = "ftsp"
	ftsLengthPrefix  = "ftsl"
	ftsStatsKey      = "ftsstats"
)

func idBytes(id core.ID) []byte {
	buf := make([]byte, 16)
	core.IDMUS.Marshal(id, buf)
	return buf
}

func makeCaptureKey(id core.ID) []byte {
	buf := make([]byte, len(capturePrefix)+1+16)
	n := copy(buf, capturePrefix)
	buf[n] = ':'
	n++
	copy(buf[n:], idBytes(id))
	return buf
}

// makeCaptureDateKey builds the (captured_at, id) composite key used
// for the record store's range scans. capturedAt is encoded as
// microseconds-since-epoch so the byte order sorts chronologically.
func makeCaptureDateKey(capturedAt time.Time, id core.ID) []byte {
	prefix := captureDatePrefix + ":"
	buf := make([]byte, len(prefix)+8+16)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(capturedAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], idBytes(id))
	return buf
}

// makeDateBound builds a date-index key with a zero id suffix, used as
// the lower or upper bound of a range scan.
func makeDateBound(capturedAt time.Time) []byte {
	prefix := captureDatePrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(capturedAt.UnixMicro()))
	return buf
}

func makeSessionKey(id core.ID) []byte {
	buf := make([]byte, len(sessionPrefix)+1+16)
	n := copy(buf, sessionPrefix)
	buf[n] = ':'
	n++
	copy(buf[n:], idBytes(id))
	return buf
}

func makeIntentKey(captureID core.ID) []byte {
	buf := make([]byte, len(intentPrefix)+1+16)
	n := copy(buf, intentPrefix)
	buf[n] = ':'
	n++
	copy(buf[n:], idBytes(captureID))
	return buf
}

func makeVectorsMetaKey(captureID core.ID) []byte {
	buf := make([]byte, len(vectorsMetaPrefix)+1+16)
	n := copy(buf, vectorsMetaPrefix)
	buf[n] = ':'
	n++
	copy(buf[n:], idBytes(captureID))
	return buf
}

// makeVIDIndexKey builds the vid -> capture id reverse-lookup key the
// query planner uses to turn a vector search hit back into a Capture.
func makeVIDIndexKey(vid uint64) []byte {
	prefix := vidIndexPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], vid)
	return buf
}

// rowPrefix returns the key prefix for one of the opaque downstream-row
// collections, selected by kind.
func rowPrefix(kind rowKind) string {
	switch kind {
	case rowKindTask:
		return taskPrefix
	case rowKindIntentRecord:
		return intentRecPref
	case rowKindSummary:
		return summaryPrefix
	case rowKindEntity:
		return entityPrefix
	default:
		return "row"
	}
}

type rowKind int

const (
	rowKindTask rowKind = iota
	rowKindIntentRecord
	rowKindSummary
	rowKindEntity
)

func makeRowKey(kind rowKind, id core.ID) []byte {
	prefix := rowPrefix(kind)
	buf := make([]byte, len(prefix)+1+16)
	n := copy(buf, prefix)
	buf[n] = ':'
	n++
	copy(buf[n:], idBytes(id))
	return buf
}

func makeFTSPostingKey(term string, id core.ID) []byte {
	prefix := ftsPostingPrefix + ":" + term + ":"
	buf := make([]byte, len(prefix)+16)
	n := copy(buf, prefix)
	copy(buf[n:], idBytes(id))
	return buf
}

func makeFTSPostingPrefix(term string) []byte {
	return []byte(ftsPostingPrefix + ":" + term + ":")
}

func makeFTSLengthKey(id core.ID) []byte {
	buf := make([]byte, len(ftsLengthPrefix)+1+16)
	n := copy(buf, ftsLengthPrefix)
	buf[n] = ':'
	n++
	copy(buf[n:], idBytes(id))
	return buf
}
