package store

import (
	"strings"
	"testing"
)

func TestPredicateBuilderRenumbers(t *testing.T) {
	b := &predicateBuilder{}
	b.add("finished_at IS NULL")
	b.add("queue_name = ANY(?)", []string{"a", "b"})
	b.add("priority < ?", 5)

	where, args := b.build(0)
	want := "WHERE finished_at IS NULL AND queue_name = ANY($1) AND priority < $2"
	if where != want {
		t.Fatalf("build() where = %q, want %q", where, want)
	}
	if len(args) != 2 {
		t.Fatalf("build() args = %v, want 2 elements", args)
	}
}

func TestPredicateBuilderEmpty(t *testing.T) {
	b := &predicateBuilder{}
	where, args := b.build(0)
	if where != "" || args != nil {
		t.Fatalf("empty builder should render no clause, got %q %v", where, args)
	}
}

func TestQueueFilterSQLFragment(t *testing.T) {
	tests := []struct {
		name   string
		filter QueueFilter
		want   string
	}{
		{"all", QueueFilter{All: true}, ""},
		{"include", QueueFilter{Include: []string{"a", "b"}}, "queue_name = ANY(?)"},
		{"exclude", QueueFilter{Exclude: []string{"x"}}, "NOT (queue_name = ANY(?))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &predicateBuilder{}
			tt.filter.sqlFragment(b)
			if tt.want == "" {
				if len(b.preds) != 0 {
					t.Fatalf("expected no predicate, got %v", b.preds)
				}
				return
			}
			if len(b.preds) != 1 || b.preds[0].sql != tt.want {
				t.Fatalf("got %v, want single predicate %q", b.preds, tt.want)
			}
		})
	}
}

func TestValidateComposedSQL(t *testing.T) {
	if err := validateComposedSQL("SELECT 1 WHERE finished_at IS NULL"); err != nil {
		t.Fatalf("expected valid select to parse: %v", err)
	}
	if err := validateComposedSQL("SELECT 1; DROP TABLE dispatchq_jobs"); err == nil {
		t.Fatalf("expected multi-statement SQL to be rejected")
	}
	if err := validateComposedSQL("not sql at all ((("); err == nil {
		t.Fatalf("expected malformed SQL to be rejected")
	}
	if !strings.Contains("dispatchq_jobs", "jobs") {
		t.Fatalf("sanity check failed")
	}
}
