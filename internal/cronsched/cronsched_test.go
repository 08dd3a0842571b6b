package cronsched

import (
	"testing"
	"time"
)

func TestRegisterRejectsInvalidExpression(t *testing.T) {
	m := New(nil, time.Hour, nil)
	err := m.Register(Entry{Key: "bad", Expr: "not a cron expression"})
	if err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestRegisterAcceptsNicknames(t *testing.T) {
	m := New(nil, time.Hour, nil)
	for _, expr := range []string{"@daily", "@every 1h", "*/5 * * * *"} {
		if err := m.Register(Entry{Key: expr, Expr: expr}); err != nil {
			t.Errorf("Register(%q) returned error: %v", expr, err)
		}
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	m := New(nil, time.Hour, nil)
	if err := m.Register(Entry{Key: "k", Expr: "@daily"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.snapshot()) != 1 {
		t.Fatalf("expected 1 entry after register")
	}
	m.Unregister("k")
	if len(m.snapshot()) != 0 {
		t.Fatalf("expected 0 entries after unregister")
	}
}

func TestOccurrencesWeeklyRRULE(t *testing.T) {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) // a Monday
	s := RecurringSeries{
		Key:     "weekly-standup",
		RRULE:   "FREQ=WEEKLY;BYDAY=MO",
		DTStart: start,
	}
	until := start.Add(3 * 7 * 24 * time.Hour)
	occs, err := occurrences(s, start, until)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(occs) < 3 {
		t.Fatalf("expected at least 3 weekly occurrences, got %d", len(occs))
	}
	for _, occ := range occs {
		if occ.Weekday() != time.Monday {
			t.Errorf("occurrence %s is not a Monday", occ)
		}
	}
}

func TestOccurrencesRejectsInvalidRRULE(t *testing.T) {
	s := RecurringSeries{Key: "bad", RRULE: "NOT;VALID", DTStart: time.Now()}
	if _, err := occurrences(s, time.Now(), time.Now().Add(time.Hour)); err == nil {
		t.Fatalf("expected error for invalid RRULE")
	}
}
