package executor

import "time"

// ClassPolicy configures retry/discard behavior for one job class (spec
// §4.9: "error classification (retry vs discard) with per-class
// discard_on overrides").
type ClassPolicy struct {
	MaxAttempts int      // 0 uses DefaultMaxAttempts
	Backoff     Strategy // defaults to DefaultBackoff if nil
	DiscardOn   []func(reason string) bool
	// Timeout bounds one invocation of the class's handler (spec §4.9 step
	// 5). Zero uses DefaultTimeout; a negative value disables the timeout
	// ("infinity" per spec §4.9).
	Timeout time.Duration
}

// DefaultMaxAttempts applies when a class has no registered policy.
const DefaultMaxAttempts = 25

// DefaultTimeout applies when a class has no registered policy or a policy
// with a zero Timeout.
const DefaultTimeout = 15 * time.Minute

// timeout resolves the effective per-invocation timeout: DefaultTimeout
// when unset, no timeout at all when explicitly negative.
func (p ClassPolicy) timeout() time.Duration {
	if p.Timeout == 0 {
		return DefaultTimeout
	}
	if p.Timeout < 0 {
		return 0
	}
	return p.Timeout
}

// DefaultBackoff applies when a class has no registered policy or a policy
// with a nil Backoff (spec §4.9: "constant(base=3, jitter=0.15) ... to
// match the reference implementation").
var DefaultBackoff Strategy = WithJitter(Constant(3*time.Second), 0.15)

func (p ClassPolicy) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (p ClassPolicy) backoff() Strategy {
	if p.Backoff != nil {
		return p.Backoff
	}
	return DefaultBackoff
}

// shouldDiscard reports whether a KindError outcome with the given reason,
// on the given attempt number, should discard the job outright rather than
// schedule a retry (spec §4.9 step 7).
func (p ClassPolicy) shouldDiscard(reason string, attempt int) bool {
	for _, match := range p.DiscardOn {
		if match != nil && match(reason) {
			return true
		}
	}
	return attempt >= p.maxAttempts()
}

// PolicyRegistry maps job class names to their ClassPolicy (spec §4.9).
// Classes with no entry use the zero-value policy's defaults.
type PolicyRegistry struct {
	policies map[string]ClassPolicy
}

// NewPolicyRegistry builds an empty registry.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{policies: make(map[string]ClassPolicy)}
}

// Set registers (or replaces) the policy for jobClass.
func (r *PolicyRegistry) Set(jobClass string, p ClassPolicy) {
	r.policies[jobClass] = p
}

// Get returns the policy for jobClass, or the zero-value default policy if
// none was registered.
func (r *PolicyRegistry) Get(jobClass string) ClassPolicy {
	if p, ok := r.policies[jobClass]; ok {
		return p
	}
	return ClassPolicy{}
}
