// Package backoff computes exponential reconnection delays.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps every computed delay.
	Max time.Duration
	// Factor is the multiplier applied per attempt. Zero means 2.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the
	// base delay. Zero gives exact, reproducible delays.
	Jitter float64
}

// DefaultPolicy returns the reconnection policy used by the push channel:
// 1s base, 30s cap, doubling, no jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:   time.Second,
		Max:    30 * time.Second,
		Factor: 2,
	}
}

// Delay returns min(Base * Factor^attempt, Max) plus jitter. Attempts start
// at 0, so the first retry waits exactly Base.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand is Delay with a caller-supplied random value in [0.0, 1.0).
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	base := float64(p.Base) * math.Pow(factor, float64(attempt))
	if math.IsNaN(base) || math.IsInf(base, 0) {
		base = math.MaxFloat64
	}
	total := base
	if p.Jitter > 0 && randomValue > 0 {
		total += base * p.Jitter * randomValue
	}
	if p.Max > 0 && total > float64(p.Max) {
		total = float64(p.Max)
	}
	if total >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(total)
}

// Sequence returns the first n delays of the policy without jitter.
func (p Policy) Sequence(n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for k := 0; k < n; k++ {
		out = append(out, p.DelayWithRand(k, 0))
	}
	return out
}
