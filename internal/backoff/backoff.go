// Package backoff computes exponential, jittered, capped retry delays.
//
// The same Policy drives ChatSender retries and supervisor reconnects.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default policy values.
const (
	DefaultInitial    = time.Second
	DefaultMax        = 60 * time.Second
	DefaultMultiplier = 2.0
	DefaultJitter     = 0.2
)

// Policy describes an exponential backoff.
//
// Delay(n) = min(Initial * Multiplier^n * (1 + U[0, Jitter)), Max)
//
// With Multiplier >= 1 + Jitter consecutive delays strictly increase until
// the cap is reached: the smallest draw for attempt n+1 is never below the
// largest for attempt n.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	// rand returns a value in [0, 1). Nil uses math/rand/v2.
	rand func() float64
}

// New returns a Policy with zero fields replaced by defaults.
func New(initial, maxDelay time.Duration, multiplier, jitter float64) Policy {
	p := Policy{
		Initial:    initial,
		Max:        maxDelay,
		Multiplier: multiplier,
		Jitter:     jitter,
	}
	return p.withDefaults()
}

// WithRand returns a copy of p that draws jitter from fn.
func (p Policy) WithRand(fn func() float64) Policy {
	p.rand = fn
	return p
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = DefaultInitial
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = DefaultJitter
	}
	return p
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}

	base := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if base >= float64(p.Max) {
		return p.Max
	}

	r := rand.Float64
	if p.rand != nil {
		r = p.rand
	}
	d := base * (1 + p.Jitter*r())
	if d >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}
