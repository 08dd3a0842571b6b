package executor

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before retrying a job after its attempt'th
// failure (attempt is 1 for the first retry, spec §4.9/§8: every strategy
// must be monotonically non-decreasing in attempt).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// minDelay is the floor every Strategy's Delay honors regardless of formula
// (spec §4.9: "minimum returned delay is 1 second").
const minDelay = time.Second

func floorDelay(d time.Duration) time.Duration {
	if d < minDelay {
		return minDelay
	}
	return d
}

// Constant retries after the same delay every time (spec §4.9:
// "constant(base=3, jitter=0.15)", the default strategy).
type Constant time.Duration

func (c Constant) Delay(attempt int) time.Duration { return floorDelay(time.Duration(c)) }

// Linear grows the delay proportionally to the attempt number (spec §4.9:
// "linear(attempt*base)").
type Linear struct {
	Base time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return floorDelay(l.Base * time.Duration(attempt))
}

// Exponential grows the delay geometrically, never exceeding Max when Max
// is positive (spec §4.9: "exponential(base * mult^attempt, cap=max,
// optional jitter)"; §8: "backoff(n) ≤ min(base * mult^n, max)").
type Exponential struct {
	Base time.Duration
	Mult float64
	Max  time.Duration // 0 means uncapped
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scaled := float64(e.Base) * math.Pow(e.Mult, float64(attempt))
	d := time.Duration(scaled)
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	return floorDelay(d)
}

// Polynomial grows the delay along the quartic curve spec §4.9 fixes:
// attempt^4 + 2 seconds (§8: "backoff(n) ≥ n^4 + 2"). Its jitter is applied
// by WithJitter like every other strategy, sampled against the full
// attempt^4+2 delay rather than against the attempt^4 term alone.
type Polynomial struct{}

func (Polynomial) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := math.Pow(float64(attempt), 4) + 2
	return floorDelay(time.Duration(seconds * float64(time.Second)))
}

// WithJitter wraps a Strategy, adding uniform random jitter in
// [0, frac*delay] on top of the underlying delay (spec §4.9: "four backoff
// strategies with additive jitter" — jitter only ever adds, it never
// shortens the underlying delay, preserving each strategy's monotonicity
// law in expectation).
func WithJitter(s Strategy, frac float64) Strategy {
	return jittered{s: s, frac: frac}
}

type jittered struct {
	s    Strategy
	frac float64
}

func (j jittered) Delay(attempt int) time.Duration {
	base := j.s.Delay(attempt)
	if j.frac <= 0 || base <= 0 {
		return base
	}
	maxJitter := float64(base) * j.frac
	return base + time.Duration(rand.Float64()*maxJitter)
}
