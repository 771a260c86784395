// Package sampler draws unseen identifiers from a bounded identifier space.
package sampler

import (
	"math/rand/v2"
	"slices"

	"github.com/rotisserie/eris"
)

// ErrExhausted is returned when every identifier in the range is already
// present.
var ErrExhausted = eris.New("sampler: range exhausted")

// SampleUnseen returns an identifier chosen uniformly at random from
// [lo, hi] minus existing. existing may be unsorted, contain duplicates, or
// contain ids outside the range; it is not modified. A nil rng uses the
// package-level source.
func SampleUnseen(existing []int, lo, hi int, rng *rand.Rand) (int, error) {
	if lo > hi {
		return 0, eris.Errorf("sampler: invalid range %d-%d", lo, hi)
	}

	seen := make([]int, 0, len(existing))
	for _, id := range existing {
		if id >= lo && id <= hi {
			seen = append(seen, id)
		}
	}
	slices.Sort(seen)
	seen = slices.Compact(seen)

	free := hi - lo + 1 - len(seen)
	if free <= 0 {
		return 0, ErrExhausted
	}

	var k int
	if rng != nil {
		k = rng.IntN(free)
	} else {
		k = rand.IntN(free)
	}

	// Walk the sorted seen ids, shifting the k-th free slot past each one
	// that sits at or below it.
	id := lo + k
	for _, s := range seen {
		if s > id {
			break
		}
		id++
	}
	return id, nil
}

// Remaining reports how many identifiers in [lo, hi] are not in existing.
func Remaining(existing []int, lo, hi int) int {
	if lo > hi {
		return 0
	}
	seen := make(map[int]struct{}, len(existing))
	for _, id := range existing {
		if id >= lo && id <= hi {
			seen[id] = struct{}{}
		}
	}
	return hi - lo + 1 - len(seen)
}
