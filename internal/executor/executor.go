package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/dispatchq/internal/batchcoord"
	"github.com/civic-os/dispatchq/internal/limiter"
	"github.com/civic-os/dispatchq/internal/store"
	"github.com/civic-os/dispatchq/model"
	"github.com/civic-os/dispatchq/wire"
)

// Handler runs one job class's business logic and reports an Outcome. A
// non-nil error return (as opposed to Outcome{Kind: KindError, ...}) is
// treated as an unhandled failure — the handler panicked or returned a raw
// Go error rather than classifying its own failure (spec §3's
// error_event: unhandled vs handled).
type Handler func(ctx context.Context, p wire.Payload) (Outcome, error)

// Registry maps job classes to their Handler (SPEC_FULL.md §4.9a).
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for jobClass.
func (r *Registry) Register(jobClass string, h Handler) {
	r.handlers[jobClass] = h
}

// Lookup returns the handler registered for jobClass, if any.
func (r *Registry) Lookup(jobClass string) (Handler, bool) {
	h, ok := r.handlers[jobClass]
	return h, ok
}

// ConcurrencyConfigFunc resolves a job class's limiter.ClassConfig, so the
// Executor can apply the perform-side concurrency check (spec §4.6) right
// before running a claimed job. Returning the zero value disables limiting
// for that class.
type ConcurrencyConfigFunc func(jobClass string) limiter.ClassConfig

// Executor runs claimed jobs (spec §4.9). It implements
// internal/scheduler.Runner.
type Executor struct {
	store             *store.Store
	policies          *PolicyRegistry
	registry          *Registry
	limiter           *limiter.Limiter
	concurrencyConfig ConcurrencyConfigFunc
	batch             *batchcoord.Coordinator
	processID         *uuid.UUID
	log               *slog.Logger
}

// New builds an Executor. limiter, concurrencyConfig, batch and processID
// are all optional (nil/zero disables the corresponding behavior).
func New(st *store.Store, policies *PolicyRegistry, registry *Registry, lim *limiter.Limiter, concurrencyConfig ConcurrencyConfigFunc, batch *batchcoord.Coordinator, processID *uuid.UUID, logger *slog.Logger) *Executor {
	if policies == nil {
		policies = NewPolicyRegistry()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:             st,
		policies:          policies,
		registry:          registry,
		limiter:           lim,
		concurrencyConfig: concurrencyConfig,
		batch:             batch,
		processID:         processID,
		log:               logger.With("component", "executor"),
	}
}

// Run executes a claimed job to completion, satisfying scheduler.Runner.
// It never returns an error. Handler failures end in a
// retry/discard/cancel/snooze state transition on the job row; an error
// from the perform-limit check or from a store write is only logged, with
// no further transition.
func (e *Executor) Run(ctx context.Context, job *model.Job) {
	log := e.log.With("job_id", job.ID, "job_class", job.JobClass)

	release := limiter.Release(func() {})
	if e.limiter != nil && e.concurrencyConfig != nil && job.ConcurrencyKey != nil {
		cfg := e.concurrencyConfig(job.JobClass)
		outcome, rel, err := e.limiter.CheckPerform(ctx, *job.ConcurrencyKey, job.ID, cfg)
		if err != nil {
			log.Error("perform limit check failed", "error", err)
			return
		}
		if outcome != limiter.OK {
			log.Info("perform limit/throttle exceeded, snoozing", "outcome", outcome.String())
			if err := e.store.Snooze(ctx, e.store.Pool(), job.ID, perSnoozeBackoff); err != nil {
				log.Error("snooze after limit exceeded failed", "error", err)
			}
			return
		}
		release = rel
	}
	defer release()

	payload, err := wire.Decode(job.SerializedParams)
	if err != nil {
		e.failUnhandled(ctx, job, nil, fmt.Errorf("decode payload: %w", err), 0)
		return
	}

	handler, ok := e.registry.Lookup(job.JobClass)
	if !ok {
		e.failUnhandled(ctx, job, nil, fmt.Errorf("no handler registered for job class %q", job.JobClass), 0)
		return
	}

	exec, err := e.store.InsertExecution(ctx, e.store.Pool(), &model.Execution{
		ActiveJobID:      job.ActiveJobID,
		JobClass:         job.JobClass,
		QueueName:        job.QueueName,
		SerializedParams: job.SerializedParams,
		ScheduledAt:      job.ScheduledAt,
		ProcessID:        e.processID,
	})
	if err != nil {
		log.Error("insert execution row failed", "error", err)
		return
	}

	// A prior attempt at this logical job may have been interrupted (worker
	// crash) without ever reaching a terminal state; close out any such
	// dangling execution row now rather than leaving the audit trail with
	// an open-ended run (spec §4.9 step 3).
	if n, derr := e.store.FinishDanglingExecutions(ctx, e.store.Pool(), job.ActiveJobID, exec.ID); derr != nil {
		log.Error("sweep dangling executions failed", "error", derr)
	} else if n > 0 {
		log.Warn("closed dangling execution from an interrupted prior attempt", "count", n)
	}

	policy := e.policies.Get(job.JobClass)
	invokeCtx := ctx
	if t := policy.timeout(); t > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	started := time.Now()
	outcome, herr := e.invoke(invokeCtx, handler, payload)
	duration := time.Since(started)
	if herr == nil && invokeCtx.Err() == context.DeadlineExceeded {
		herr = fmt.Errorf("job handler timed out after %s", duration)
	}

	if herr != nil {
		e.failUnhandled(ctx, job, exec, herr, duration)
		return
	}
	e.apply(ctx, job, exec, outcome, duration, log)
}

// perSnoozeBackoff is the fixed delay applied when a perform-side
// limit/throttle rejects a just-claimed job (spec §4.6: reschedule without
// consuming a retry attempt).
const perSnoozeBackoff = 5 * time.Second

func (e *Executor) invoke(ctx context.Context, h Handler, p wire.Payload) (oc Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job handler: %v", r)
		}
	}()
	return h(ctx, p)
}

func (e *Executor) apply(ctx context.Context, job *model.Job, exec *model.Execution, outcome Outcome, duration time.Duration, log *slog.Logger) {
	pool := e.store.Pool()
	switch outcome.Kind {
	case KindSuccess:
		e.finishExecution(ctx, exec, nil, nil, duration, log)
		if err := e.store.FinishSuccess(ctx, pool, job.ID); err != nil {
			log.Error("mark success failed", "error", err)
		}
		e.onBatchFinish(ctx, job, false, log)

	case KindError:
		ev := model.ErrorEventHandled
		e.finishExecution(ctx, exec, &outcome.Reason, &ev, duration, log)
		e.classifyAndResolve(ctx, job, outcome.Reason, log)

	case KindCancel:
		ev := model.ErrorEventCancelled
		e.finishExecution(ctx, exec, &outcome.Reason, &ev, duration, log)
		if err := e.store.FinishTerminal(ctx, pool, job.ID, outcome.Reason, ev); err != nil {
			log.Error("mark cancelled failed", "error", err)
		}
		e.onBatchFinish(ctx, job, true, log)

	case KindDiscard:
		ev := model.ErrorEventDiscarded
		e.finishExecution(ctx, exec, &outcome.Reason, &ev, duration, log)
		if err := e.store.Discard(ctx, pool, job.ID, outcome.Reason); err != nil {
			log.Error("discard failed", "error", err)
		}
		e.onBatchFinish(ctx, job, true, log)

	case KindSnooze:
		ev := model.ErrorEventSnoozed
		e.finishExecution(ctx, exec, nil, &ev, duration, log)
		if err := e.store.Snooze(ctx, pool, job.ID, outcome.SnoozeFor); err != nil {
			log.Error("snooze failed", "error", err)
		}
	}
}

func (e *Executor) failUnhandled(ctx context.Context, job *model.Job, exec *model.Execution, err error, duration time.Duration) {
	log := e.log.With("job_id", job.ID, "job_class", job.JobClass)
	reason := err.Error()
	ev := model.ErrorEventUnhandled
	if exec != nil {
		e.finishExecution(ctx, exec, &reason, &ev, duration, log)
	}
	e.classifyAndResolve(ctx, job, reason, log)
}

func (e *Executor) finishExecution(ctx context.Context, exec *model.Execution, errMsg *string, event *model.ErrorEvent, duration time.Duration, log *slog.Logger) {
	if exec == nil {
		return
	}
	if err := e.store.FinishExecution(ctx, e.store.Pool(), exec.ID, errMsg, event, nil, duration); err != nil {
		log.Error("finish execution row failed", "error", err)
	}
}

// classifyAndResolve decides retry vs discard for a classifiable failure
// (spec §4.9 step 7) and applies it.
func (e *Executor) classifyAndResolve(ctx context.Context, job *model.Job, reason string, log *slog.Logger) {
	pool := e.store.Pool()
	policy := e.policies.Get(job.JobClass)
	if policy.shouldDiscard(reason, job.ExecutionsCount) {
		if err := e.store.Discard(ctx, pool, job.ID, reason); err != nil {
			log.Error("discard after exhausted retries failed", "error", err)
		}
		e.onBatchFinish(ctx, job, true, log)
		return
	}
	delay := policy.backoff().Delay(job.ExecutionsCount)
	if err := e.store.ScheduleRetry(ctx, pool, job.ID, reason, delay); err != nil {
		log.Error("schedule retry failed", "error", err)
	}
}

func (e *Executor) onBatchFinish(ctx context.Context, job *model.Job, failed bool, log *slog.Logger) {
	batchID := job.BatchID
	if batchID == nil {
		batchID = job.BatchCallbackID
	}
	if e.batch == nil || batchID == nil {
		return
	}
	if err := e.batch.OnJobFinished(ctx, job, failed); err != nil {
		log.Error("batch completion check failed", "batch_id", *batchID, "error", err)
	}
}
