package store

import (
	"fmt"
	"strings"

	pgquery "github.com/pganalyze/pg_query_go/v6"
)

// predicate is one composable WHERE-clause fragment plus its positional
// arguments, numbered relative to the fragment's own start so fragments can
// be joined in any order (spec §4.2: "composable predicates").
type predicate struct {
	sql  string
	args []any
}

// predicateBuilder assembles a sequence of predicates into a single WHERE
// clause with correctly renumbered $N placeholders.
type predicateBuilder struct {
	preds []predicate
}

func (b *predicateBuilder) add(sql string, args ...any) {
	b.preds = append(b.preds, predicate{sql: sql, args: args})
}

// build renders "WHERE p1 AND p2 AND ..." (or "" if empty) starting
// placeholder numbering at startArg+1, and returns the flattened arg list.
func (b *predicateBuilder) build(startArg int) (string, []any) {
	if len(b.preds) == 0 {
		return "", nil
	}
	var clauses []string
	var args []any
	n := startArg
	for _, p := range b.preds {
		sql := p.sql
		for range p.args {
			n++
			sql = strings.Replace(sql, "?", fmt.Sprintf("$%d", n), 1)
		}
		clauses = append(clauses, sql)
		args = append(args, p.args...)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// validateComposedSQL parses the fully-assembled statement with
// pg_query_go and rejects anything that isn't a single well-formed
// statement, mirroring the defensive parse-before-execute step
// consolidated-worker-go's source_code_parser.go performs on SQL it treats
// as trusted input before running it (SPEC_FULL.md §4.12). It is a guard
// against a predicate-builder bug producing malformed or multi-statement
// SQL, not a substitute for the parameterized literals used throughout.
func validateComposedSQL(sql string) error {
	result, err := pgquery.Parse(sql)
	if err != nil {
		return fmt.Errorf("store: composed query failed to parse: %w", err)
	}
	if len(result.Stmts) != 1 {
		return fmt.Errorf("store: composed query must be exactly one statement, got %d", len(result.Stmts))
	}
	return nil
}
