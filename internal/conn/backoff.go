package conn

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from Base to Cap
// with full jitter, so a fleet of clients does not redial in lockstep.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	attempt int
}

// Next returns the delay before the next attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	ceiling := b.Cap
	if shifted := b.Base << b.attempt; shifted > 0 && shifted < ceiling {
		ceiling = shifted
	}
	if b.attempt < 63 {
		b.attempt++
	}
	if ceiling <= 0 {
		return 0
	}
	// Full jitter: uniform in [0, ceiling).
	return time.Duration(rand.Int64N(int64(ceiling)))
}

// Reset clears the attempt counter after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}
