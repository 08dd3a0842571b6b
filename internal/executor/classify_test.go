package executor

import (
	"testing"
	"time"
)

func TestShouldDiscardOnMaxAttempts(t *testing.T) {
	p := ClassPolicy{MaxAttempts: 3}
	if p.shouldDiscard("boom", 2) {
		t.Fatalf("should not discard before max attempts reached")
	}
	if !p.shouldDiscard("boom", 3) {
		t.Fatalf("should discard once attempts reach the configured max")
	}
}

func TestShouldDiscardOnMatcher(t *testing.T) {
	p := ClassPolicy{
		MaxAttempts: 100,
		DiscardOn: []func(string) bool{
			func(reason string) bool { return reason == "permanent" },
		},
	}
	if p.shouldDiscard("transient", 1) {
		t.Fatalf("should not discard a reason the matcher rejects")
	}
	if !p.shouldDiscard("permanent", 1) {
		t.Fatalf("should discard a reason the matcher accepts regardless of attempt count")
	}
}

func TestDefaultPolicyUsesDefaultMaxAttempts(t *testing.T) {
	var p ClassPolicy
	if p.shouldDiscard("x", DefaultMaxAttempts-1) {
		t.Fatalf("zero-value policy should not discard before DefaultMaxAttempts")
	}
	if !p.shouldDiscard("x", DefaultMaxAttempts) {
		t.Fatalf("zero-value policy should discard at DefaultMaxAttempts")
	}
}

func TestPolicyRegistryGetReturnsZeroValueWhenUnset(t *testing.T) {
	r := NewPolicyRegistry()
	p := r.Get("unknown.Class")
	if p.MaxAttempts != 0 {
		t.Fatalf("expected zero-value policy for unregistered class")
	}
}

func TestPolicyRegistrySetAndGet(t *testing.T) {
	r := NewPolicyRegistry()
	r.Set("billing.Charge", ClassPolicy{MaxAttempts: 5})
	p := r.Get("billing.Charge")
	if p.MaxAttempts != 5 {
		t.Fatalf("got MaxAttempts=%d, want 5", p.MaxAttempts)
	}
}

func TestTimeoutResolution(t *testing.T) {
	cases := []struct {
		name   string
		policy ClassPolicy
		want   time.Duration
	}{
		{"zero value uses default", ClassPolicy{}, DefaultTimeout},
		{"explicit timeout is honored", ClassPolicy{Timeout: 30 * time.Second}, 30 * time.Second},
		{"negative disables the timeout", ClassPolicy{Timeout: -1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.timeout(); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}
