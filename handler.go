package dispatchq

import (
	"context"

	"github.com/civic-os/dispatchq/internal/executor"
	"github.com/civic-os/dispatchq/internal/limiter"
	"github.com/civic-os/dispatchq/wire"
)

// TypedHandler is a job handler expressed in terms of a concrete Go
// argument type instead of the raw wire.Payload (spec §4.9a). Register one
// with RegisterHandler.
type TypedHandler[T any] func(ctx context.Context, arg T) (executor.Outcome, error)

// RegisterHandler binds a TypedHandler to jobClass on e's executor
// registry. The payload's first argument is decoded into T via
// wire.DecodeArgument before h runs; a decode failure is returned as an
// error outcome without ever invoking h (spec §4.9: "handler lookup and
// argument decode happen before the handler is invoked").
func RegisterHandler[T any](e *Engine, jobClass string, h TypedHandler[T]) {
	e.registry.Register(jobClass, func(ctx context.Context, p wire.Payload) (executor.Outcome, error) {
		arg, err := wire.DecodeArgument[T](p)
		if err != nil {
			return executor.Outcome{}, err
		}
		return h(ctx, arg)
	})
}

// RegisterExternalHandler binds a raw executor.Handler to jobClass,
// bypassing TypedHandler's generic argument decode (spec §4.9a
// "external_jobs"). Use this for handlers adapted from another
// ecosystem's native code (internal/handlers.S3Presign,
// internal/handlers.Thumbnail) that already decode their own arguments.
func RegisterExternalHandler(e *Engine, jobClass string, h executor.Handler) {
	e.registry.Register(jobClass, h)
}

// SetClassPolicy overrides the retry/discard policy for jobClass (spec
// §4.9: max_attempts, backoff strategy, discard predicates). Classes with
// no explicit policy fall back to executor.DefaultMaxAttempts and
// executor.DefaultBackoff.
func (e *Engine) SetClassPolicy(jobClass string, policy executor.ClassPolicy) {
	e.policies.Set(jobClass, policy)
}

// SetConcurrencyConfig overrides the concurrency limit/throttle
// configuration applied to jobs of jobClass, keyed at runtime by each
// job's concurrency_key (spec §4.6). Classes with no explicit config are
// unlimited.
func (e *Engine) SetConcurrencyConfig(jobClass string, cfg limiter.ClassConfig) {
	e.concMu.Lock()
	defer e.concMu.Unlock()
	e.concCfg[jobClass] = cfg
}

func (e *Engine) concurrencyConfigFor(jobClass string) limiter.ClassConfig {
	e.concMu.RLock()
	defer e.concMu.RUnlock()
	return e.concCfg[jobClass]
}
