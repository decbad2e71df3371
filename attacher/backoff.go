package attacher

import (
	"math/rand"
	"time"
)

// backoff is an exponential parent-fetch retry schedule: 2s, 4s, 8s...
// capped at 60s, with +/-10% jitter so a burst of dependents doesn't
// retry a single missing parent in lockstep.
type backoff struct {
	next time.Duration
}

func newBackoff() *backoff {
	return &backoff{next: backoffStart}
}

// Duration returns the delay to wait before the next fetch attempt and
// advances the schedule.
func (b *backoff) Duration() time.Duration {
	d := b.next
	jitter := time.Duration(float64(d) * backoffJitter * (rand.Float64()*2 - 1))
	delayed := d + jitter
	if delayed < 0 {
		delayed = d
	}

	b.next *= 2
	if b.next > backoffCap {
		b.next = backoffCap
	}
	return delayed
}

// Reset returns the schedule to its initial state, used once a parent is
// finally fetched successfully.
func (b *backoff) Reset() {
	b.next = backoffStart
}
