// Package backoff provides exponential backoff calculation.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultInitial = 100 * time.Millisecond
	defaultMax     = 5 * time.Second
)

// Policy describes an exponential backoff. Zero values use defaults.
type Policy struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Jitter  float64       // fraction of the delay randomized, in [0, 1]; default 0
}

// Delay returns the wait before the given retry attempt.
// Attempt 1 returns Initial, attempt 2 returns Initial*2, and so on up to Max.
func (p Policy) Delay(attempt int) time.Duration {
	initial, ceiling := p.Initial, p.Max
	if initial <= 0 {
		initial = defaultInitial
	}
	if ceiling <= 0 {
		ceiling = defaultMax
	}
	if attempt < 1 {
		attempt = 1
	}

	d := math.Min(float64(initial)*math.Pow(2, float64(attempt-1)), float64(ceiling))
	if j := math.Min(math.Max(p.Jitter, 0), 1); j > 0 {
		// Spread uniformly over [d*(1-j), d].
		d -= d * j * rand.Float64()
	}
	return time.Duration(d)
}
