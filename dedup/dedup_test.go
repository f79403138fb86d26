package dedup

import (
	"testing"
	"time"

	"github.com/poiesic/memorit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExactFirstSeenIsMiss(t *testing.T) {
	f := New(DefaultConfig())
	var hash [32]byte
	hash[0] = 1

	id := core.NewID(time.Now())
	_, dup := f.CheckExact(core.KindScreenOCR, "app", hash, id)
	assert.False(t, dup)
}

func TestCheckExactRepeatWithinWindowIsDup(t *testing.T) {
	f := New(DefaultConfig())
	var hash [32]byte
	hash[0] = 2

	first := core.NewID(time.Now())
	f.CheckExact(core.KindScreenOCR, "app", hash, first)

	second := core.NewID(time.Now())
	matched, dup := f.CheckExact(core.KindScreenOCR, "app", hash, second)
	require.True(t, dup)
	assert.Equal(t, first, matched)
}

func TestCheckExactDifferentSourceAppIsNotDup(t *testing.T) {
	f := New(DefaultConfig())
	var hash [32]byte
	hash[0] = 3

	first := core.NewID(time.Now())
	f.CheckExact(core.KindScreenOCR, "app-a", hash, first)

	second := core.NewID(time.Now())
	_, dup := f.CheckExact(core.KindScreenOCR, "app-b", hash, second)
	assert.False(t, dup)
}

func TestCheckExactExpiresAfterWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExactWindow = time.Millisecond
	f := New(cfg)
	var hash [32]byte
	hash[0] = 4

	first := core.NewID(time.Now())
	f.CheckExact(core.KindScreenOCR, "app", hash, first)

	time.Sleep(5 * time.Millisecond)

	second := core.NewID(time.Now())
	_, dup := f.CheckExact(core.KindScreenOCR, "app", hash, second)
	assert.False(t, dup)
}

func TestCheckNearMatchesSimilarVector(t *testing.T) {
	f := New(DefaultConfig())

	first := core.NewID(time.Now())
	vec := []float32{1, 0, 0}
	_, _, dup := f.CheckNear(core.KindAudioTranscript, "mic", first, vec)
	assert.False(t, dup)

	second := core.NewID(time.Now())
	nearVec := []float32{0.999, 0.01, 0}
	matched, score, dup := f.CheckNear(core.KindAudioTranscript, "mic", second, nearVec)
	require.True(t, dup)
	assert.Equal(t, first, matched)
	assert.Greater(t, score, float32(0.97))
}

func TestCheckNearDissimilarVectorIsNotDup(t *testing.T) {
	f := New(DefaultConfig())

	first := core.NewID(time.Now())
	f.CheckNear(core.KindAudioTranscript, "mic", first, []float32{1, 0, 0})

	second := core.NewID(time.Now())
	_, _, dup := f.CheckNear(core.KindAudioTranscript, "mic", second, []float32{0, 1, 0})
	assert.False(t, dup)
}

func TestCheckNearRingEvictsOldestWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NearRingSize = 2
	f := New(cfg)

	a := core.NewID(time.Now())
	b := core.NewID(time.Now())
	c := core.NewID(time.Now())

	f.CheckNear(core.KindDictation, "app", a, []float32{1, 0})
	f.CheckNear(core.KindDictation, "app", b, []float32{0, 1})
	// Ring size 2: this push evicts a's entry.
	f.CheckNear(core.KindDictation, "app", c, []float32{0, -1})

	// a's vector should no longer be in the ring.
	matched, _, dup := f.CheckNear(core.KindDictation, "app", core.NewID(time.Now()), []float32{1, 0})
	assert.NotEqual(t, a, matched)
	_ = dup
}

func TestCosineSimilarityOrthogonalIsZero(t *testing.T) {
	assert.InDelta(t, 0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestCosineSimilarityIdenticalIsOne(t *testing.T) {
	assert.InDelta(t, 1, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-6)
}
