package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffStaysUnderCeiling(t *testing.T) {
	req := require.New(t)
	b := Backoff{Base: 500 * time.Millisecond, Cap: 30 * time.Second}

	ceiling := b.Base
	for i := 0; i < 40; i++ {
		d := b.Next()
		req.GreaterOrEqual(d, time.Duration(0))
		req.Less(d, ceiling+1)
		if ceiling < b.Cap {
			ceiling *= 2
		}
		if ceiling > b.Cap {
			ceiling = b.Cap
		}
	}
}

func TestBackoffReset(t *testing.T) {
	req := require.New(t)
	b := Backoff{Base: time.Second, Cap: time.Minute}

	for i := 0; i < 10; i++ {
		b.Next()
	}
	b.Reset()

	// After reset the first delay is again bounded by the base.
	d := b.Next()
	req.Less(d, b.Base+1)
}
