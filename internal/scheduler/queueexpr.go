package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/civic-os/dispatchq/internal/store"
)

// QueueExpr is a parsed queue expression (spec §4.5): "*" for all queues,
// an include list, an ordered include list ("+a,b"), or an exclude list
// ("-a,b" or the "*,!x" shorthand).
type QueueExpr struct {
	All     bool
	Include []string
	Exclude []string
	Ordered bool
}

// Accepts reports whether queueName falls within this expression, used by
// the Poller to filter notifications per scheduler (spec §4.4).
func (e QueueExpr) Accepts(queueName string) bool {
	switch {
	case e.All:
		return true
	case len(e.Include) > 0:
		for _, q := range e.Include {
			if q == queueName {
				return true
			}
		}
		return false
	case len(e.Exclude) > 0:
		for _, q := range e.Exclude {
			if q == queueName {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ToStoreFilter converts the expression to the store package's QueueFilter,
// which the Job Store uses to build dequeue SQL (SPEC_FULL.md §4: kept in
// store to avoid a package cycle).
func (e QueueExpr) ToStoreFilter() store.QueueFilter {
	return store.QueueFilter{
		All:     e.All,
		Include: e.Include,
		Exclude: e.Exclude,
		Ordered: e.Ordered,
	}
}

// ParseQueueExpr parses a single queue expression (no ";" pool separators
// and no trailing ":N" slot-count suffix — see ParsePools for those).
func ParseQueueExpr(s string) (QueueExpr, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return QueueExpr{All: true}, nil
	}

	ordered := false
	switch {
	case strings.HasPrefix(s, "+"):
		ordered = true
		s = s[1:]
	case strings.HasPrefix(s, "-"):
		names, err := splitQueueNames(s[1:])
		if err != nil {
			return QueueExpr{}, err
		}
		return QueueExpr{Exclude: names}, nil
	}

	// "*,!x,!y" shorthand: equivalent to an exclude list.
	if strings.HasPrefix(s, "*,") {
		rest := strings.TrimPrefix(s, "*,")
		parts := strings.Split(rest, ",")
		var excl []string
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if !strings.HasPrefix(p, "!") {
				return QueueExpr{}, fmt.Errorf("scheduler: invalid queue expression %q: expected !queue after *,", s)
			}
			name := strings.TrimPrefix(p, "!")
			if err := validateQueueName(name); err != nil {
				return QueueExpr{}, err
			}
			excl = append(excl, name)
		}
		return QueueExpr{Exclude: excl}, nil
	}

	names, err := splitQueueNames(s)
	if err != nil {
		return QueueExpr{}, err
	}
	return QueueExpr{Include: names, Ordered: ordered}, nil
}

func splitQueueNames(s string) ([]string, error) {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if err := validateQueueName(name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// validateQueueName rejects anything but a literal queue name or the bare
// "*" wildcard (spec §4.5: "the literal * is the only permitted wildcard;
// patterns like queue* are rejected").
func validateQueueName(name string) error {
	if name == "" {
		return fmt.Errorf("scheduler: empty queue name in expression")
	}
	if name == "*" {
		return fmt.Errorf("scheduler: \"*\" is not valid inside an include/exclude list")
	}
	if strings.Contains(name, "*") {
		return fmt.Errorf("scheduler: invalid queue name %q: only a bare \"*\" wildcard is permitted", name)
	}
	return nil
}

// PoolSpec is one scheduler pool parsed from a ";"-separated multi-pool
// configuration string (spec §4.5).
type PoolSpec struct {
	Expr         QueueExpr
	MaxProcesses int // 0 means "use the caller's default"
}

// ParsePools splits s on ";" into one or more pool specs. Within a segment,
// a ":N" suffix on any queue name sets that pool's slot count (spec
// §4.5: "Suffix :N on any queue name sets that pool's slot count").
func ParsePools(s string) ([]PoolSpec, error) {
	segments := strings.Split(s, ";")
	out := make([]PoolSpec, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		exprPart, maxProcs, err := splitSlotSuffix(seg)
		if err != nil {
			return nil, err
		}
		expr, err := ParseQueueExpr(exprPart)
		if err != nil {
			return nil, err
		}
		out = append(out, PoolSpec{Expr: expr, MaxProcesses: maxProcs})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("scheduler: empty queue configuration")
	}
	return out, nil
}

// splitSlotSuffix strips a ":N" suffix from any comma-separated queue name
// in seg, returning the remaining expression text and the parsed N (0 if
// absent). If several names carry a suffix, the last one wins.
func splitSlotSuffix(seg string) (string, int, error) {
	parts := strings.Split(seg, ",")
	n := 0
	for i, p := range parts {
		idx := strings.LastIndex(p, ":")
		if idx == -1 {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(p[idx+1:]))
		if err != nil {
			// Queue names themselves never contain ":", so a non-numeric
			// suffix is always an error.
			return "", 0, fmt.Errorf("scheduler: invalid slot-count suffix in %q: %w", seg, err)
		}
		if v <= 0 {
			return "", 0, fmt.Errorf("scheduler: slot count in %q must be positive", seg)
		}
		n = v
		parts[i] = p[:idx]
	}
	return strings.Join(parts, ","), n, nil
}
