package notifier

import (
	"log/slog"
	"testing"
)

func TestPgQuoteIdent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"dispatchq", `"dispatchq"`},
		{`weird"channel`, `"weird""channel"`},
	}
	for _, tt := range tests {
		if got := pgQuoteIdent(tt.in); got != tt.want {
			t.Errorf("pgQuoteIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSubscribeBroadcastUnsubscribe(t *testing.T) {
	n := &Notifier{recipients: make(map[int]Recipient), log: slog.Default()}

	var got []string
	unsubscribe := n.Subscribe(func(queueName string) {
		got = append(got, queueName)
	})

	n.broadcast("default")
	n.broadcast("emails")
	if len(got) != 2 || got[0] != "default" || got[1] != "emails" {
		t.Fatalf("got %v, want [default emails]", got)
	}

	unsubscribe()
	n.broadcast("default")
	if len(got) != 2 {
		t.Fatalf("recipient fired after unsubscribe: %v", got)
	}
}

func TestDegradedTracksFailureStreak(t *testing.T) {
	n := &Notifier{recipients: make(map[int]Recipient), log: slog.Default()}
	for i := 0; i < degradedThreshold-1; i++ {
		n.recordFailure(nil)
	}
	if n.Degraded() {
		t.Fatalf("should not be degraded before threshold")
	}
	n.recordFailure(nil)
	if !n.Degraded() {
		t.Fatalf("should be degraded at threshold")
	}
	n.resetFailures()
	if n.Degraded() {
		t.Fatalf("resetFailures should clear degraded flag")
	}
}
