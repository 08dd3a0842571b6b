package scheduler

import "testing"

func TestParseQueueExprAll(t *testing.T) {
	e, err := ParseQueueExpr("*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.All {
		t.Fatalf("expected All=true")
	}
	if !e.Accepts("anything") {
		t.Fatalf("* should accept any queue")
	}
}

func TestParseQueueExprInclude(t *testing.T) {
	e, err := ParseQueueExpr("a,b,c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Ordered {
		t.Fatalf("plain include list must not be ordered")
	}
	for _, q := range []string{"a", "b", "c"} {
		if !e.Accepts(q) {
			t.Fatalf("expected include list to accept %q", q)
		}
	}
	if e.Accepts("d") {
		t.Fatalf("include list should not accept queue outside the list")
	}
}

func TestParseQueueExprOrderedInclude(t *testing.T) {
	e, err := ParseQueueExpr("+a,b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.Ordered {
		t.Fatalf("expected Ordered=true for +a,b")
	}
	if len(e.Include) != 2 || e.Include[0] != "a" || e.Include[1] != "b" {
		t.Fatalf("got include list %v", e.Include)
	}
}

func TestParseQueueExprExclude(t *testing.T) {
	e, err := ParseQueueExpr("-a,b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Accepts("a") || e.Accepts("b") {
		t.Fatalf("exclude list should reject excluded queues")
	}
	if !e.Accepts("c") {
		t.Fatalf("exclude list should accept queues outside the list")
	}
}

func TestParseQueueExprWildcardExcludeShorthand(t *testing.T) {
	e, err := ParseQueueExpr("*,!x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Accepts("x") {
		t.Fatalf("*,!x should reject x")
	}
	if !e.Accepts("y") {
		t.Fatalf("*,!x should accept everything else")
	}
}

func TestParseQueueExprRejectsGlobLikePattern(t *testing.T) {
	if _, err := ParseQueueExpr("queue*"); err == nil {
		t.Fatalf("expected error for non-literal wildcard pattern")
	}
}

func TestParsePoolsMultiplePoolsWithSlotCounts(t *testing.T) {
	pools, err := ParsePools("real_time:4;background:2,low_priority")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("got %d pools, want 2", len(pools))
	}
	if pools[0].MaxProcesses != 4 {
		t.Fatalf("pool 0 max processes = %d, want 4", pools[0].MaxProcesses)
	}
	if !pools[0].Expr.Accepts("real_time") {
		t.Fatalf("pool 0 should accept real_time")
	}
	if pools[1].MaxProcesses != 2 {
		t.Fatalf("pool 1 max processes = %d, want 2", pools[1].MaxProcesses)
	}
	if !pools[1].Expr.Accepts("low_priority") {
		t.Fatalf("pool 1 should accept low_priority")
	}
}

func TestParsePoolsWithoutSlotSuffix(t *testing.T) {
	pools, err := ParsePools("*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pools) != 1 || pools[0].MaxProcesses != 0 || !pools[0].Expr.All {
		t.Fatalf("got %+v", pools)
	}
}
