package syncer

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRandomPacer_StaysInBounds(t *testing.T) {
	p := NewRandomPacer(time.Second, 5*time.Second)
	p.rng = rand.New(rand.NewPCG(7, 7))

	for range 1000 {
		d := p.Next()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestRandomPacer_SwapsBounds(t *testing.T) {
	p := NewRandomPacer(5*time.Second, time.Second)
	assert.Equal(t, time.Second, p.Min)
	assert.Equal(t, 5*time.Second, p.Max)
}

func TestRandomPacer_EqualBounds(t *testing.T) {
	p := NewRandomPacer(2*time.Second, 2*time.Second)
	assert.Equal(t, 2*time.Second, p.Next())
}

func TestFixedPacer(t *testing.T) {
	assert.Equal(t, 3*time.Millisecond, FixedPacer(3*time.Millisecond).Next())
}

func TestSleep(t *testing.T) {
	assert.NoError(t, sleep(context.Background(), 0))
	assert.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleep(ctx, 0), context.Canceled)
}
