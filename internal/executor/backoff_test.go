package executor

import (
	"testing"
	"time"
)

func TestConstantBackoffIsFlat(t *testing.T) {
	s := Constant(10 * time.Second)
	if s.Delay(1) != s.Delay(5) {
		t.Fatalf("constant backoff should not vary by attempt")
	}
	if s.Delay(1) != 10*time.Second {
		t.Fatalf("constant backoff should equal its base, got %v", s.Delay(1))
	}
}

func TestLinearBackoffIsAttemptTimesBase(t *testing.T) {
	s := Linear{Base: 2 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		want := time.Duration(attempt) * 2 * time.Second
		if got := s.Delay(attempt); got != want {
			t.Errorf("attempt %d: Delay() = %v, want %v", attempt, got, want)
		}
	}
}

func TestExponentialBackoffCapsAtMax(t *testing.T) {
	s := Exponential{Base: time.Second, Mult: 2, Max: 20 * time.Second}
	prev := s.Delay(1)
	for attempt := 2; attempt <= 20; attempt++ {
		d := s.Delay(attempt)
		if d < prev {
			t.Fatalf("exponential backoff decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > s.Max {
			t.Fatalf("attempt %d: Delay() = %v exceeds Max %v", attempt, d, s.Max)
		}
		prev = d
	}
	if s.Delay(20) != s.Max {
		t.Fatalf("expected a large attempt count to saturate at Max, got %v", s.Delay(20))
	}
}

func TestPolynomialBackoffMeetsQuarticFloor(t *testing.T) {
	s := Polynomial{}
	for attempt := 1; attempt <= 10; attempt++ {
		want := time.Duration(float64(attempt)*float64(attempt)*float64(attempt)*float64(attempt)+2) * time.Second
		if got := s.Delay(attempt); got < want {
			t.Errorf("attempt %d: Delay() = %v, want >= %v (n^4+2)", attempt, got, want)
		}
	}
}

func TestBackoffClampsAttemptBelowOne(t *testing.T) {
	s := Linear{Base: time.Second}
	if s.Delay(0) != s.Delay(1) {
		t.Fatalf("attempt < 1 should clamp to attempt 1's delay")
	}
	if s.Delay(-5) != s.Delay(1) {
		t.Fatalf("negative attempt should clamp to attempt 1's delay")
	}
}

func TestEveryStrategyHonorsOneSecondFloor(t *testing.T) {
	strategies := []Strategy{
		Constant(100 * time.Millisecond),
		Linear{Base: 10 * time.Millisecond},
		Exponential{Base: 10 * time.Millisecond, Mult: 1},
		Polynomial{},
	}
	for _, s := range strategies {
		if got := s.Delay(1); got < time.Second {
			t.Errorf("%#v: Delay(1) = %v, want >= 1s floor", s, got)
		}
	}
}

func TestWithJitterNeverShortensDelay(t *testing.T) {
	base := Constant(time.Second)
	jittered := WithJitter(base, 0.5)
	for attempt := 1; attempt <= 5; attempt++ {
		if jittered.Delay(attempt) < base.Delay(attempt) {
			t.Fatalf("jittered delay shorter than base at attempt %d", attempt)
		}
	}
}

func TestWithJitterZeroFracIsNoop(t *testing.T) {
	base := Linear{Base: 200 * time.Millisecond}
	jittered := WithJitter(base, 0)
	for attempt := 1; attempt <= 5; attempt++ {
		if jittered.Delay(attempt) != base.Delay(attempt) {
			t.Fatalf("zero jitter fraction should not alter the delay")
		}
	}
}

func TestDefaultBackoffIsConstantWithJitter(t *testing.T) {
	for attempt := 1; attempt <= 5; attempt++ {
		d := DefaultBackoff.Delay(attempt)
		if d < 3*time.Second {
			t.Errorf("attempt %d: DefaultBackoff.Delay() = %v, want >= base 3s", attempt, d)
		}
		if d > 3*time.Second+3*time.Second*15/100 {
			t.Errorf("attempt %d: DefaultBackoff.Delay() = %v, exceeds base*1.15 jitter bound", attempt, d)
		}
	}
}
