package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff describes a capped exponential delay curve with symmetric jitter.
type Backoff struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration `mapstructure:"initial"`
	// Max caps every delay, jitter included.
	Max time.Duration `mapstructure:"max"`
	// Factor multiplies the delay on each further attempt.
	Factor float64 `mapstructure:"factor"`
	// Jitter is the fraction (0..1) of the delay randomized in both directions.
	Jitter float64 `mapstructure:"jitter"`
}

// DefaultBackoff is 1s doubling up to 30s with 20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2.0,
		Jitter:  0.2,
	}
}

// WithDefaults fills zero fields from DefaultBackoff.
func (b Backoff) WithDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		b.Jitter = d.Jitter
	}
	return b
}

// Next returns the delay after the given failed attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d <= 0 {
		d = float64(b.Initial)
	}
	return time.Duration(d)
}
