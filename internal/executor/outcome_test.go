package executor

import (
	"context"
	"testing"
	"time"

	"github.com/civic-os/dispatchq/wire"
)

func TestOutcomeConstructors(t *testing.T) {
	if got := Success(); got.Kind != KindSuccess {
		t.Fatalf("Success() kind = %v, want KindSuccess", got.Kind)
	}
	if got := SuccessValue(42); got.Kind != KindSuccess || got.Value != 42 {
		t.Fatalf("SuccessValue(42) = %+v", got)
	}
	if got := Err("boom"); got.Kind != KindError || got.Reason != "boom" {
		t.Fatalf("Err(\"boom\") = %+v", got)
	}
	if got := Cancel("stopped"); got.Kind != KindCancel || got.Reason != "stopped" {
		t.Fatalf("Cancel(\"stopped\") = %+v", got)
	}
	if got := Discard(); got.Kind != KindDiscard {
		t.Fatalf("Discard() kind = %v, want KindDiscard", got.Kind)
	}
	if got := DiscardReason("bad input"); got.Kind != KindDiscard || got.Reason != "bad input" {
		t.Fatalf("DiscardReason(...) = %+v", got)
	}
	if got := Snooze(30 * time.Second); got.Kind != KindSnooze || got.SnoozeFor != 30*time.Second {
		t.Fatalf("Snooze(30s) = %+v", got)
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("unregistered.Class"); ok {
		t.Fatalf("expected no handler for unregistered class")
	}
	r.Register("billing.Charge", func(ctx context.Context, _ wire.Payload) (Outcome, error) {
		return Success(), nil
	})
	if _, ok := r.Lookup("billing.Charge"); !ok {
		t.Fatalf("expected handler to be found after Register")
	}
}
