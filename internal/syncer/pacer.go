package syncer

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacer decides how long to wait after each fetch attempt.
type Pacer interface {
	Next() time.Duration
}

// RandomPacer draws a delay uniformly from [Min, Max]. It is deliberately
// not adaptive: failures do not slow it down and successes do not speed it
// up.
type RandomPacer struct {
	Min, Max time.Duration
	rng      *rand.Rand
}

// NewRandomPacer returns a RandomPacer. Bounds given in the wrong order are
// swapped.
func NewRandomPacer(lo, hi time.Duration) *RandomPacer {
	if hi < lo {
		lo, hi = hi, lo
	}
	return &RandomPacer{Min: lo, Max: hi}
}

func (p *RandomPacer) Next() time.Duration {
	span := int64(p.Max - p.Min)
	if span <= 0 {
		return p.Min
	}
	var n int64
	if p.rng != nil {
		n = p.rng.Int64N(span + 1)
	} else {
		n = rand.Int64N(span + 1)
	}
	return p.Min + time.Duration(n)
}

// FixedPacer always waits the same duration.
type FixedPacer time.Duration

func (p FixedPacer) Next() time.Duration { return time.Duration(p) }

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
