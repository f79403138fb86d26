package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDSortsByCapturedAt(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	id1 := NewID(t1)
	id2 := NewID(t2)

	assert.Negative(t, id1.Compare(id2))
	assert.False(t, id1.IsZero())
	assert.True(t, ZeroID.IsZero())
}

func TestParseIDRoundTrip(t *testing.T) {
	id := NewID(time.Now())
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseIDRejectsGarbage(t *testing.T) {
	_, err := ParseID("not-a-ulid")
	assert.Error(t, err)
}

func TestCaptureKindValid(t *testing.T) {
	assert.True(t, KindScreenOCR.Valid())
	assert.True(t, KindDictation.Valid())
	assert.False(t, CaptureKind("bogus").Valid())
}

func TestPIIFlagsBitAllocation(t *testing.T) {
	assert.Equal(t, PIIFlags(1), PIICreditCard)
	assert.Equal(t, PIIFlags(2), PIISSN)
	assert.Equal(t, PIIFlags(4), PIIEmail)
	assert.Equal(t, PIIFlags(8), PIIPhone)
}

func TestPIIFlagsHasAndSet(t *testing.T) {
	f := PIINone
	assert.False(t, f.Has(PIIEmail))

	f = f.Set(PIIEmail).Set(PIISSN)
	assert.True(t, f.Has(PIIEmail))
	assert.True(t, f.Has(PIISSN))
	assert.False(t, f.Has(PIICreditCard))
	assert.Equal(t, []string{"ssn", "email"}, f.Names())
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "hot", TierHot.String())
	assert.Equal(t, "warm", TierWarm.String())
	assert.Equal(t, "cold", TierCold.String())
}

func TestCaptureHasEmbedding(t *testing.T) {
	c := &Capture{}
	assert.False(t, c.HasEmbedding())

	vid := uint64(42)
	c.EmbeddingRef = &vid
	assert.True(t, c.HasEmbedding())
}
