package surface

import (
	"math/rand"
	"time"
)

// backoff produces reconnect delays: exponential growth from an initial delay
// up to a cap, with a random jitter fraction applied to each delay. Reset on
// every successful connect so a healthy link always retries quickly.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64 // fraction of the delay, e.g. 0.2 means +/-20%

	attempt int
	rng     *rand.Rand
}

func newBackoff(initial, max time.Duration, multiplier, jitter float64) *backoff {
	return &backoff{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		jitter:     jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns the delay for the current attempt and advances the counter
func (b *backoff) next() time.Duration {
	delay := float64(b.initial)
	for i := 0; i < b.attempt; i++ {
		delay *= b.multiplier
		if delay >= float64(b.max) {
			delay = float64(b.max)
			break
		}
	}
	b.attempt++

	if b.jitter > 0 {
		// Spread delays in [delay*(1-jitter), delay*(1+jitter)]
		delta := delay * b.jitter
		delay = delay - delta + b.rng.Float64()*2*delta
	}

	d := time.Duration(delay)
	if d < 0 {
		d = b.initial
	}
	if d > b.max {
		d = b.max
	}
	return d
}

// reset restarts the progression after a successful connect
func (b *backoff) reset() {
	b.attempt = 0
}
