package sampler

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

func TestSampleUnseen_Exhausted(t *testing.T) {
	_, err := SampleUnseen(seq(1, 10), 1, 10, rand.New(rand.NewPCG(1, 2)))
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSampleUnseen_SingleGap(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		id, err := SampleUnseen(seq(1, 9), 1, 10, rng)
		require.NoError(t, err)
		assert.Equal(t, 10, id)
	}
}

func TestSampleUnseen_NeverReturnsSeen(t *testing.T) {
	existing := []int{7, 2, 2, 9, 4, 100, -3, 5}
	rng := rand.New(rand.NewPCG(5, 6))
	want := map[int]bool{1: true, 3: true, 6: true, 8: true, 10: true}

	got := map[int]int{}
	for range 5000 {
		id, err := SampleUnseen(existing, 1, 10, rng)
		require.NoError(t, err)
		require.True(t, want[id], "sampled seen or out-of-range id %d", id)
		got[id]++
	}

	// Every complement member shows up at roughly 1/5 of draws.
	for id := range want {
		assert.InDelta(t, 1000, got[id], 200, "id %d drawn %d times", id, got[id])
	}
}

func TestSampleUnseen_EmptyExisting(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	for range 100 {
		id, err := SampleUnseen(nil, 40000, 49166, rng)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, id, 40000)
		assert.LessOrEqual(t, id, 49166)
	}
}

func TestSampleUnseen_SinglePoint(t *testing.T) {
	id, err := SampleUnseen(nil, 5, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, id)

	_, err = SampleUnseen([]int{5}, 5, 5, nil)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSampleUnseen_InvalidRange(t *testing.T) {
	_, err := SampleUnseen(nil, 10, 1, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestSampleUnseen_DoesNotMutateInput(t *testing.T) {
	existing := []int{9, 3, 3, 1}
	_, err := SampleUnseen(existing, 1, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 3, 3, 1}, existing)
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, 0, Remaining(seq(1, 10), 1, 10))
	assert.Equal(t, 1, Remaining(seq(1, 9), 1, 10))
	assert.Equal(t, 10, Remaining([]int{0, 11}, 1, 10))
	assert.Equal(t, 8, Remaining([]int{2, 2, 3}, 1, 10))
	assert.Equal(t, 0, Remaining(nil, 3, 1))
}
