package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDMarshalRoundTrip(t *testing.T) {
	id := NewID(time.Now())
	buf := make([]byte, IDMUS.Size(id))
	n := IDMUS.Marshal(id, buf)
	assert.Equal(t, len(buf), n)

	got, n, err := IDMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, 16, n)
}

func TestCaptureMarshalRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	vid := uint64(7)
	c := Capture{
		ID:          NewID(now),
		Kind:        KindScreenOCR,
		CapturedAt:  now,
		SourceApp:   "com.example.editor",
		Text:        "hello world",
		EmbeddingRef: &vid,
		Tier:        TierHot,
		PIIFlags:    PIIEmail,
		LengthChars: 11,
		OriginMetadata: map[string]string{
			"window_title": "untitled",
		},
		InsertedAt: now,
		UpdatedAt:  now,
	}
	c.TextHash[0] = 0xAB

	buf := make([]byte, CaptureMUS.Size(c))
	n := CaptureMUS.Marshal(c, buf)
	require.Equal(t, len(buf), n)

	got, n, err := CaptureMUS.Unmarshal(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Kind, got.Kind)
	assert.Equal(t, c.CapturedAt.UnixNano(), got.CapturedAt.UnixNano())
	assert.Equal(t, c.SourceApp, got.SourceApp)
	assert.Equal(t, c.Text, got.Text)
	assert.Equal(t, c.TextHash, got.TextHash)
	require.NotNil(t, got.EmbeddingRef)
	assert.Equal(t, *c.EmbeddingRef, *got.EmbeddingRef)
	assert.Equal(t, c.Tier, got.Tier)
	assert.Equal(t, c.PIIFlags, got.PIIFlags)
	assert.Equal(t, c.LengthChars, got.LengthChars)
	assert.Equal(t, c.OriginMetadata, got.OriginMetadata)
}

func TestCaptureMarshalNilEmbeddingRef(t *testing.T) {
	now := time.Now().UTC()
	c := Capture{
		ID:         NewID(now),
		Kind:       KindDictation,
		CapturedAt: now,
		Text:       "no vector yet",
		InsertedAt: now,
		UpdatedAt:  now,
	}

	buf := make([]byte, CaptureMUS.Size(c))
	CaptureMUS.Marshal(c, buf)

	got, _, err := CaptureMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Nil(t, got.EmbeddingRef)
	assert.False(t, got.HasEmbedding())
}

func TestVectorEntryMarshalRoundTrip(t *testing.T) {
	v := VectorEntry{
		VID:        99,
		CaptureID:  NewID(time.Now()),
		Dim:        768,
		ModelID:    "text-embedding-3-small",
		Generation: 2,
	}

	buf := make([]byte, VectorEntryMUS.Size(v))
	VectorEntryMUS.Marshal(v, buf)

	got, _, err := VectorEntryMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestSessionMarshalRoundTripWithAndWithoutEnd(t *testing.T) {
	now := time.Now().UTC()
	s := Session{
		SessionID: NewID(now),
		Kind:      SessionDictation,
		StartedAt: now,
	}

	buf := make([]byte, SessionMUS.Size(s))
	SessionMUS.Marshal(s, buf)
	got, _, err := SessionMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Nil(t, got.EndedAt)

	ended := now.Add(time.Minute)
	s.EndedAt = &ended
	buf = make([]byte, SessionMUS.Size(s))
	SessionMUS.Marshal(s, buf)
	got, _, err = SessionMUS.Unmarshal(buf)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, ended.UnixNano(), got.EndedAt.UnixNano())
}

func TestOpaqueRowMarshalRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	r := OpaqueRow{
		ID:        NewID(now),
		Kind:      "task",
		Text:      "follow up with design review",
		Payload:   map[string]string{"status": "open"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	buf := make([]byte, OpaqueRowMUS.Size(r))
	OpaqueRowMUS.Marshal(r, buf)
	got, _, err := OpaqueRowMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Kind, got.Kind)
	assert.Equal(t, r.Text, got.Text)
	assert.Equal(t, r.Payload, got.Payload)
}

func TestIntentMarshalRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	i := Intent{
		CaptureID:      NewID(now),
		PendingVIDSlot: 0,
		ModelID:        "text-embedding-3-small",
		Generation:     1,
		CreatedAt:      now,
	}

	buf := make([]byte, IntentMUS.Size(i))
	IntentMUS.Marshal(i, buf)
	got, _, err := IntentMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, i.CaptureID, got.CaptureID)
	assert.Equal(t, i.ModelID, got.ModelID)
	assert.Equal(t, i.Generation, got.Generation)
}

func TestVectorsMetadataMarshalRoundTrip(t *testing.T) {
	v := VectorsMetadata{
		CaptureID:  NewID(time.Now()),
		VID:        123,
		ModelID:    "text-embedding-3-small",
		Generation: 3,
	}

	buf := make([]byte, VectorsMetadataMUS.Size(v))
	VectorsMetadataMUS.Marshal(v, buf)
	got, _, err := VectorsMetadataMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}
