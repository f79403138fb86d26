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

package core

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a 128-bit opaque identifier, lexicographically sortable by the
// time it was minted. Captures get their ID assigned by the producer,
// before either the record store or the vector index has seen them.
type ID ulid.ULID

// ZeroID is the ID value held by a Capture that has not yet been assigned
// one (should never be observed outside of construction).
var ZeroID ID

// NewID mints an ID whose sort order matches capturedAt.
func NewID(capturedAt time.Time) ID {
	return ID(ulid.MustNew(ulid.Timestamp(capturedAt), rand.Reader))
}

// String renders the canonical base32 form of the ID.
func (id ID) String() string {
	return ulid.ULID(id).String()
}

// Compare orders IDs consistently with their encoded timestamp, then
// their random suffix. Used as the stable tie-break across the query
// planner and ranker.
func (id ID) Compare(other ID) int {
	return ulid.ULID(id).Compare(ulid.ULID(other))
}

// IsZero reports whether id has never been assigned.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return ZeroID, err
	}
	return ID(u), nil
}

// CaptureKind identifies the origin of a Capture.
type CaptureKind string

const (
	KindScreenOCR       CaptureKind = "screen_ocr"
	KindAudioTranscript CaptureKind = "audio_transcript"
	KindDictation       CaptureKind = "dictation"
	KindIngestedText    CaptureKind = "ingested_text"
)

// ValidKinds lists every recognized CaptureKind.
var ValidKinds = []CaptureKind{KindScreenOCR, KindAudioTranscript, KindDictation, KindIngestedText}

// Valid reports whether k is one of the recognized kinds.
func (k CaptureKind) Valid() bool {
	switch k {
	case KindScreenOCR, KindAudioTranscript, KindDictation, KindIngestedText:
		return true
	default:
		return false
	}
}

// Tier is the lifecycle bucket a Capture occupies, derived purely from
// its age. Tier transitions never create or destroy rows.
type Tier uint8

const (
	TierHot Tier = iota
	TierWarm
	TierCold
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	default:
		return "unknown"
	}
}

// PIIFlags is a bitset of the PII kinds the safety gate detected in a
// Capture's text, populated whether or not redaction actually ran.
type PIIFlags uint8

const PIINone PIIFlags = 0

const (
	PIICreditCard PIIFlags = 1 << iota
	PIISSN
	PIIEmail
	PIIPhone
)

// Has reports whether flag is set within f.
func (f PIIFlags) Has(flag PIIFlags) bool {
	return f&flag != 0
}

// Set returns f with flag set.
func (f PIIFlags) Set(flag PIIFlags) PIIFlags {
	return f | flag
}

// Names returns the human-readable kind names present in f, in a stable
// order, for logging and the audit trail.
func (f PIIFlags) Names() []string {
	var names []string
	if f.Has(PIICreditCard) {
		names = append(names, "credit_card")
	}
	if f.Has(PIISSN) {
		names = append(names, "ssn")
	}
	if f.Has(PIIEmail) {
		names = append(names, "email")
	}
	if f.Has(PIIPhone) {
		names = append(names, "phone")
	}
	return names
}

// Capture is the unit of ingestion: a piece of screen, audio, dictation,
// or ingested text along with the metadata the pipeline attaches to it.
type Capture struct {
	ID             ID
	Kind           CaptureKind
	CapturedAt     time.Time // UTC, nanosecond precision
	SourceApp      string    // foreground window / audio device label, optional
	Text           string    // UTF-8, possibly redacted
	TextHash       [32]byte  // BLAKE2b of the canonicalized text
	EmbeddingRef   *uint64   // vector index vid, nil until embedded (or never, for empty text)
	Tier           Tier
	PIIFlags       PIIFlags
	LengthChars    int
	OriginMetadata map[string]string
	InsertedAt     time.Time
	UpdatedAt      time.Time
}

// HasEmbedding reports whether this capture has a live vector index entry.
func (c *Capture) HasEmbedding() bool {
	return c.EmbeddingRef != nil
}

// VectorEntry is the vector index's own record of one embedded capture.
// dim and ModelID are constant within a generation; the vector index
// itself owns the float data, this struct only carries the identifiers
// the record store needs to stay in lock-step with it.
type VectorEntry struct {
	VID        uint64
	CaptureID  ID
	Dim        int
	ModelID    string
	Generation uint32
}

// SessionKind distinguishes the kinds of session the store can anchor
// captures to. The core does not interpret session contents beyond this.
type SessionKind string

const (
	SessionDictation SessionKind = "dictation"
	SessionChat      SessionKind = "chat"
)

// Session anchors a span of related captures (a dictation take, a chat
// thread). Owned opaquely by the core: row lifecycle only.
type Session struct {
	SessionID ID
	Kind      SessionKind
	StartedAt time.Time
	EndedAt   *time.Time
}

// OpaqueRow is the shared shape of the downstream-owned row types
// (TaskRecord, IntentRecord, Summary, Entity): the core persists them
// and, where declared, indexes their Text for FTS, but never interprets
// Payload.
type OpaqueRow struct {
	ID         ID
	Kind       string            // downstream-defined discriminator, e.g. "task", "intent"
	Text       string            // optional: indexed into FTS when non-empty
	Payload    map[string]string // downstream-owned fields, opaque to the core
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TaskRecord, IntentRecord, Summary and Entity are typed aliases over
// OpaqueRow: the core guarantees identical lifecycle and FTS coverage
// for all four, but keeps them as distinct Go types so storage call
// sites read as what they are rather than as an undifferentiated blob.
type (
	TaskRecord   OpaqueRow
	IntentRecord OpaqueRow
	Summary      OpaqueRow
	Entity       OpaqueRow
)

// VectorsMetadata is the confirmed Step-C row of the dual-write intent
// protocol: it binds a capture to the vid the vector index assigned
// it, within the generation that was active at commit time.
type VectorsMetadata struct {
	CaptureID  ID
	VID        uint64
	ModelID    string
	Generation uint32
}

// Intent is the Step-A write-ahead row: it exists between the record
// row being committed and the vector index insert being confirmed.
// An Intent surviving past process restart is what the orphan-scan in
// commit.Recover resolves.
type Intent struct {
	CaptureID      ID
	PendingVIDSlot uint64 // vid reserved before Step A; Step B inserts the vector at this slot
	ModelID        string
	Generation     uint32
	CreatedAt      time.Time
}
