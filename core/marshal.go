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
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// This file hand-writes the byte-level layout that musgen-go would
// otherwise generate. There is no .gen.go companion: the schema is
// small and stable enough that round-tripping it through the generator
// buys nothing the store package doesn't already get from calling
// these marshallers the same way it would call generated ones.

func marshalTime(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(t.UTC().UnixNano(), bs)
}

func sizeTime(t time.Time) int {
	return varint.Int64.Size(t.UTC().UnixNano())
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	nanos, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.Unix(0, nanos).UTC(), n, nil
}

func marshalStringMap(m map[string]string, bs []byte) int {
	n := varint.Uint64.Marshal(uint64(len(m)), bs)
	for k, v := range m {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(v, bs[n:])
	}
	return n
}

func sizeStringMap(m map[string]string) int {
	size := varint.Uint64.Size(uint64(len(m)))
	for k, v := range m {
		size += ord.String.Size(k)
		size += ord.String.Size(v)
	}
	return size
}

func unmarshalStringMap(bs []byte) (map[string]string, int, error) {
	count, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if count == 0 {
		return nil, n, nil
	}
	m := make(map[string]string, count)
	for i := uint64(0); i < count; i++ {
		k, kn, err := ord.String.Unmarshal(bs[n:])
		if err != nil {
			return nil, n + kn, err
		}
		n += kn
		v, vn, err := ord.String.Unmarshal(bs[n:])
		if err != nil {
			return nil, n + vn, err
		}
		n += vn
		m[k] = v
	}
	return m, n, nil
}

// idMarshaller implements mus.Marshaller[ID] over the ULID's raw 16-byte
// form, so index keys built by prefixing a marshalled ID stay sortable.
type idMarshaller struct{}

func (idMarshaller) Marshal(id ID, bs []byte) int {
	copy(bs, id[:])
	return len(id)
}

func (idMarshaller) Size(ID) int { return 16 }

func (idMarshaller) Unmarshal(bs []byte) (ID, int, error) {
	var id ID
	if len(bs) < 16 {
		return id, 0, fmt.Errorf("core: short buffer for ID: have %d bytes, want 16", len(bs))
	}
	copy(id[:], bs[:16])
	return id, 16, nil
}

// IDMUS is the marshaller the store package calls to turn an ID
// into the bytes used both as a standalone value and as a composite-key
// component.
var IDMUS = idMarshaller{}

type captureMarshaller struct{}

func (captureMarshaller) Size(c Capture) int {
	size := IDMUS.Size(c.ID)
	size += ord.String.Size(string(c.Kind))
	size += sizeTime(c.CapturedAt)
	size += ord.String.Size(c.SourceApp)
	size += ord.String.Size(c.Text)
	size += 32 // TextHash
	size += varint.Uint64.Size(boolToUint64(c.EmbeddingRef != nil))
	if c.EmbeddingRef != nil {
		size += varint.Uint64.Size(*c.EmbeddingRef)
	}
	size += 1 // Tier
	size += 1 // PIIFlags
	size += varint.Int.Size(c.LengthChars)
	size += sizeStringMap(c.OriginMetadata)
	size += sizeTime(c.InsertedAt)
	size += sizeTime(c.UpdatedAt)
	return size
}

func (captureMarshaller) Marshal(c Capture, bs []byte) int {
	n := IDMUS.Marshal(c.ID, bs)
	n += ord.String.Marshal(string(c.Kind), bs[n:])
	n += marshalTime(c.CapturedAt, bs[n:])
	n += ord.String.Marshal(c.SourceApp, bs[n:])
	n += ord.String.Marshal(c.Text, bs[n:])
	n += copy(bs[n:], c.TextHash[:])
	hasRef := c.EmbeddingRef != nil
	n += varint.Uint64.Marshal(boolToUint64(hasRef), bs[n:])
	if hasRef {
		n += varint.Uint64.Marshal(*c.EmbeddingRef, bs[n:])
	}
	bs[n] = byte(c.Tier)
	n++
	bs[n] = byte(c.PIIFlags)
	n++
	n += varint.Int.Marshal(c.LengthChars, bs[n:])
	n += marshalStringMap(c.OriginMetadata, bs[n:])
	n += marshalTime(c.InsertedAt, bs[n:])
	n += marshalTime(c.UpdatedAt, bs[n:])
	return n
}

func (captureMarshaller) Unmarshal(bs []byte) (c Capture, n int, err error) {
	c.ID, n, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return c, n, err
	}
	var kind string
	var sz int
	kind, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	c.Kind = CaptureKind(kind)
	n += sz

	c.CapturedAt, sz, err = unmarshalTime(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	n += sz

	c.SourceApp, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	n += sz

	c.Text, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	n += sz

	if len(bs[n:]) < 32 {
		return c, n, fmt.Errorf("core: short buffer for Capture.TextHash")
	}
	copy(c.TextHash[:], bs[n:n+32])
	n += 32

	var hasRef uint64
	hasRef, sz, err = varint.Uint64.Unmarshal(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	n += sz
	if hasRef != 0 {
		var vid uint64
		vid, sz, err = varint.Uint64.Unmarshal(bs[n:])
		if err != nil {
			return c, n + sz, err
		}
		n += sz
		c.EmbeddingRef = &vid
	}

	if len(bs[n:]) < 2 {
		return c, n, fmt.Errorf("core: short buffer for Capture.Tier/PIIFlags")
	}
	c.Tier = Tier(bs[n])
	n++
	c.PIIFlags = PIIFlags(bs[n])
	n++

	c.LengthChars, sz, err = varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	n += sz

	c.OriginMetadata, sz, err = unmarshalStringMap(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	n += sz

	c.InsertedAt, sz, err = unmarshalTime(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	n += sz

	c.UpdatedAt, sz, err = unmarshalTime(bs[n:])
	if err != nil {
		return c, n + sz, err
	}
	n += sz

	return c, n, nil
}

// CaptureMUS is the marshaller for the record store's primary row type.
var CaptureMUS = captureMarshaller{}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

type vectorEntryMarshaller struct{}

func (vectorEntryMarshaller) Size(v VectorEntry) int {
	return varint.Uint64.Size(v.VID) + IDMUS.Size(v.CaptureID) + varint.Int.Size(v.Dim) +
		ord.String.Size(v.ModelID) + varint.Uint32.Size(v.Generation)
}

func (vectorEntryMarshaller) Marshal(v VectorEntry, bs []byte) int {
	n := varint.Uint64.Marshal(v.VID, bs)
	n += IDMUS.Marshal(v.CaptureID, bs[n:])
	n += varint.Int.Marshal(v.Dim, bs[n:])
	n += ord.String.Marshal(v.ModelID, bs[n:])
	n += varint.Uint32.Marshal(v.Generation, bs[n:])
	return n
}

func (vectorEntryMarshaller) Unmarshal(bs []byte) (v VectorEntry, n int, err error) {
	var sz int
	v.VID, sz, err = varint.Uint64.Unmarshal(bs)
	if err != nil {
		return v, sz, err
	}
	n += sz
	v.CaptureID, sz, err = IDMUS.Unmarshal(bs[n:])
	if err != nil {
		return v, n + sz, err
	}
	n += sz
	v.Dim, sz, err = varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return v, n + sz, err
	}
	n += sz
	v.ModelID, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return v, n + sz, err
	}
	n += sz
	v.Generation, sz, err = varint.Uint32.Unmarshal(bs[n:])
	if err != nil {
		return v, n + sz, err
	}
	n += sz
	return v, n, nil
}

// VectorEntryMUS is the marshaller for the vector index's manifest rows.
var VectorEntryMUS = vectorEntryMarshaller{}

type sessionMarshaller struct{}

func (sessionMarshaller) Size(s Session) int {
	size := IDMUS.Size(s.SessionID) + ord.String.Size(string(s.Kind)) + sizeTime(s.StartedAt)
	size += varint.Uint64.Size(boolToUint64(s.EndedAt != nil))
	if s.EndedAt != nil {
		size += sizeTime(*s.EndedAt)
	}
	return size
}

func (sessionMarshaller) Marshal(s Session, bs []byte) int {
	n := IDMUS.Marshal(s.SessionID, bs)
	n += ord.String.Marshal(string(s.Kind), bs[n:])
	n += marshalTime(s.StartedAt, bs[n:])
	hasEnd := s.EndedAt != nil
	n += varint.Uint64.Marshal(boolToUint64(hasEnd), bs[n:])
	if hasEnd {
		n += marshalTime(*s.EndedAt, bs[n:])
	}
	return n
}

func (sessionMarshaller) Unmarshal(bs []byte) (s Session, n int, err error) {
	var sz int
	s.SessionID, sz, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return s, sz, err
	}
	n += sz
	var kind string
	kind, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return s, n + sz, err
	}
	s.Kind = SessionKind(kind)
	n += sz
	s.StartedAt, sz, err = unmarshalTime(bs[n:])
	if err != nil {
		return s, n + sz, err
	}
	n += sz
	var hasEnd uint64
	hasEnd, sz, err = varint.Uint64.Unmarshal(bs[n:])
	if err != nil {
		return s, n + sz, err
	}
	n += sz
	if hasEnd != 0 {
		var ended time.Time
		ended, sz, err = unmarshalTime(bs[n:])
		if err != nil {
			return s, n + sz, err
		}
		n += sz
		s.EndedAt = &ended
	}
	return s, n, nil
}

// SessionMUS is the marshaller for Session rows.
var SessionMUS = sessionMarshaller{}

type opaqueRowMarshaller struct{}

func (opaqueRowMarshaller) Size(r OpaqueRow) int {
	size := IDMUS.Size(r.ID) + ord.String.Size(r.Kind) + ord.String.Size(r.Text)
	size += sizeStringMap(r.Payload)
	size += sizeTime(r.CreatedAt) + sizeTime(r.UpdatedAt)
	return size
}

func (opaqueRowMarshaller) Marshal(r OpaqueRow, bs []byte) int {
	n := IDMUS.Marshal(r.ID, bs)
	n += ord.String.Marshal(r.Kind, bs[n:])
	n += ord.String.Marshal(r.Text, bs[n:])
	n += marshalStringMap(r.Payload, bs[n:])
	n += marshalTime(r.CreatedAt, bs[n:])
	n += marshalTime(r.UpdatedAt, bs[n:])
	return n
}

func (opaqueRowMarshaller) Unmarshal(bs []byte) (r OpaqueRow, n int, err error) {
	var sz int
	r.ID, sz, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return r, sz, err
	}
	n += sz
	r.Kind, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return r, n + sz, err
	}
	n += sz
	r.Text, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return r, n + sz, err
	}
	n += sz
	r.Payload, sz, err = unmarshalStringMap(bs[n:])
	if err != nil {
		return r, n + sz, err
	}
	n += sz
	r.CreatedAt, sz, err = unmarshalTime(bs[n:])
	if err != nil {
		return r, n + sz, err
	}
	n += sz
	r.UpdatedAt, sz, err = unmarshalTime(bs[n:])
	if err != nil {
		return r, n + sz, err
	}
	n += sz
	return r, n, nil
}

// OpaqueRowMUS is the marshaller shared by TaskRecord, IntentRecord,
// Summary and Entity: callers convert to/from OpaqueRow at the call
// site, the same way they convert to/from the typed alias itself.
var OpaqueRowMUS = opaqueRowMarshaller{}

type vectorsMetadataMarshaller struct{}

func (vectorsMetadataMarshaller) Size(v VectorsMetadata) int {
	return IDMUS.Size(v.CaptureID) + varint.Uint64.Size(v.VID) + ord.String.Size(v.ModelID) + varint.Uint32.Size(v.Generation)
}

func (vectorsMetadataMarshaller) Marshal(v VectorsMetadata, bs []byte) int {
	n := IDMUS.Marshal(v.CaptureID, bs)
	n += varint.Uint64.Marshal(v.VID, bs[n:])
	n += ord.String.Marshal(v.ModelID, bs[n:])
	n += varint.Uint32.Marshal(v.Generation, bs[n:])
	return n
}

func (vectorsMetadataMarshaller) Unmarshal(bs []byte) (v VectorsMetadata, n int, err error) {
	var sz int
	v.CaptureID, sz, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return v, sz, err
	}
	n += sz
	v.VID, sz, err = varint.Uint64.Unmarshal(bs[n:])
	if err != nil {
		return v, n + sz, err
	}
	n += sz
	v.ModelID, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return v, n + sz, err
	}
	n += sz
	v.Generation, sz, err = varint.Uint32.Unmarshal(bs[n:])
	if err != nil {
		return v, n + sz, err
	}
	n += sz
	return v, n, nil
}

// VectorsMetadataMUS is the marshaller for the confirmed Step-C row of
// the dual-write intent protocol.
var VectorsMetadataMUS = vectorsMetadataMarshaller{}

type intentMarshaller struct{}

func (intentMarshaller) Size(i Intent) int {
	return IDMUS.Size(i.CaptureID) + varint.Uint64.Size(i.PendingVIDSlot) + ord.String.Size(i.ModelID) +
		varint.Uint32.Size(i.Generation) + sizeTime(i.CreatedAt)
}

func (intentMarshaller) Marshal(i Intent, bs []byte) int {
	n := IDMUS.Marshal(i.CaptureID, bs)
	n += varint.Uint64.Marshal(i.PendingVIDSlot, bs[n:])
	n += ord.String.Marshal(i.ModelID, bs[n:])
	n += varint.Uint32.Marshal(i.Generation, bs[n:])
	n += marshalTime(i.CreatedAt, bs[n:])
	return n
}

func (intentMarshaller) Unmarshal(bs []byte) (i Intent, n int, err error) {
	var sz int
	i.CaptureID, sz, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return i, sz, err
	}
	n += sz
	i.PendingVIDSlot, sz, err = varint.Uint64.Unmarshal(bs[n:])
	if err != nil {
		return i, n + sz, err
	}
	n += sz
	i.ModelID, sz, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return i, n + sz, err
	}
	n += sz
	i.Generation, sz, err = varint.Uint32.Unmarshal(bs[n:])
	if err != nil {
		return i, n + sz, err
	}
	n += sz
	i.CreatedAt, sz, err = unmarshalTime(bs[n:])
	if err != nil {
		return i, n + sz, err
	}
	n += sz
	return i, n, nil
}

// IntentMUS is the marshaller for the write-ahead Step-A row.
var IntentMUS = intentMarshaller{}
