package gateway

import "time"

// backoff tracks the reconnect delay: starts at initial, doubles on each
// consecutive failure up to max, and resets to initial after an
// authenticated session. Owned by the client; only the connect loop touches
// it, so it needs no locking.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

// Next returns the delay to wait before the next attempt and advances the
// doubling sequence.
func (b *backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset returns the sequence to its initial delay.
func (b *backoff) Reset() {
	b.current = b.initial
}
