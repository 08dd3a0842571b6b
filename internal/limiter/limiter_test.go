package limiter

import (
	"testing"

	"github.com/google/uuid"
)

func TestClassConfigPerformLimitFallback(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClassConfig
		want int
	}{
		{"perform limit set wins", ClassConfig{PerformLimit: 3, TotalLimit: 10}, 3},
		{"falls back to total limit", ClassConfig{TotalLimit: 10}, 10},
		{"both zero is unlimited", ClassConfig{}, 0},
	}
	for _, tt := range tests {
		if got := tt.cfg.performLimit(); got != tt.want {
			t.Errorf("%s: performLimit() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{OK, "ok"},
		{LimitExceeded, "limit_exceeded"},
		{ThrottleExceeded, "throttle_exceeded"},
		{LockFailed, "lock_failed"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.o, got, tt.want)
		}
	}
}

func TestLocalSemForReusesAndResizes(t *testing.T) {
	l := New(nil, nil)

	first := l.localSemFor("a", 2)
	if !first.TryAcquire(2) {
		t.Fatalf("expected to acquire 2 of 2")
	}
	if first.TryAcquire(1) {
		t.Fatalf("expected semaphore of size 2 to be exhausted")
	}

	same := l.localSemFor("a", 2)
	if same.TryAcquire(1) {
		t.Fatalf("expected the same semaphore instance to still be exhausted")
	}

	resized := l.localSemFor("a", 5)
	if !resized.TryAcquire(5) {
		t.Fatalf("expected a fresh semaphore after the configured limit changed")
	}
}

func TestCheckEnqueueNoopWithoutKey(t *testing.T) {
	l := New(nil, nil)
	outcome, err := l.CheckEnqueue(nil, nil, "", ClassConfig{EnqueueLimit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OK {
		t.Fatalf("expected OK for empty concurrency key, got %v", outcome)
	}
}

func TestCheckPerformNoopWithoutKey(t *testing.T) {
	l := New(nil, nil)
	outcome, release, err := l.CheckPerform(nil, "", uuid.UUID{}, ClassConfig{PerformLimit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OK {
		t.Fatalf("expected OK for empty concurrency key, got %v", outcome)
	}
	release()
}
