package dispatchq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/dispatchq/internal/limiter"
	"github.com/civic-os/dispatchq/internal/store"
	"github.com/civic-os/dispatchq/model"
	"github.com/civic-os/dispatchq/wire"
)

// EnqueueOption customizes a job before it is inserted (spec §4.1,
// §4.2: "the common path is default everything but job_class and
// arguments").
type EnqueueOption func(*model.Job, *enqueueParams)

type enqueueParams struct {
	priority       int
	queue          string
	concurrencyKey string
	labels         []string
	locale         string
	timezone       string
}

// ScheduledAt defers the job's first availability until at (spec §4.1
// "Schedule"); the default is immediate availability.
func ScheduledAt(at time.Time) EnqueueOption {
	return func(j *model.Job, _ *enqueueParams) { j.ScheduledAt = &at }
}

// Priority sets the job's dequeue priority; lower values run first (spec
// §3, §4.5 candidate ordering).
func Priority(p int) EnqueueOption {
	return func(_ *model.Job, ep *enqueueParams) { ep.priority = p }
}

// Queue overrides the job's queue name; the default is "default" (spec
// §3).
func Queue(name string) EnqueueOption {
	return func(_ *model.Job, ep *enqueueParams) { ep.queue = name }
}

// ConcurrencyKey attaches a concurrency key so the Concurrency Limiter and
// any configured unique-job semantics apply (spec §4.6).
func ConcurrencyKey(key string) EnqueueOption {
	return func(_ *model.Job, ep *enqueueParams) { ep.concurrencyKey = key }
}

// Labels attaches free-form labels used by queue filters (spec §4.5
// label predicates).
func Labels(labels ...string) EnqueueOption {
	return func(_ *model.Job, ep *enqueueParams) { ep.labels = labels }
}

// Locale attaches optional locale metadata to the job's wire payload (spec
// §3: "locale, timezone (strings, optional metadata)"). dispatchq does not
// interpret it; handlers read it back via the decoded wire.Payload.
func Locale(locale string) EnqueueOption {
	return func(_ *model.Job, ep *enqueueParams) { ep.locale = locale }
}

// Timezone attaches optional timezone metadata to the job's wire payload
// (spec §3: "locale, timezone (strings, optional metadata)").
func Timezone(tz string) EnqueueOption {
	return func(_ *model.Job, ep *enqueueParams) { ep.timezone = tz }
}

// Batch assigns the job to an existing batch (spec §4.8).
func Batch(batchID uuid.UUID) EnqueueOption {
	return func(j *model.Job, _ *enqueueParams) { j.BatchID = &batchID }
}

// Enqueue inserts a new job of jobClass with the given arguments (spec
// §4.1, §4.2). args become the wire payload's Arguments[0], retrievable
// by a TypedHandler via wire.DecodeArgument / RegisterHandler. If
// jobClass has a registered limiter.ClassConfig and ConcurrencyKey is
// set, the enqueue-side limit and throttle are checked in the same
// transaction as the insert (spec §4.6); a limit or throttle violation
// returns an *EnqueueRejectedError carrying the Outcome so callers can
// distinguish it from a database error.
func (e *Engine) Enqueue(ctx context.Context, jobClass string, args any, opts ...EnqueueOption) (*model.Job, error) {
	job := &model.Job{
		ActiveJobID: uuid.New(),
		JobClass:    jobClass,
	}
	params := enqueueParams{queue: "default"}
	for _, opt := range opts {
		opt(job, &params)
	}
	job.QueueName = params.queue
	job.Priority = params.priority
	job.Labels = params.labels
	if params.concurrencyKey != "" {
		job.ConcurrencyKey = &params.concurrencyKey
	}

	payload := wire.Payload{
		JobClass:       wire.CanonicalClass(jobClass),
		QueueName:      job.QueueName,
		Priority:       job.Priority,
		Arguments:      []any{args},
		EnqueuedAt:     time.Now(),
		ScheduledAt:    job.ScheduledAt,
		Locale:         params.locale,
		Timezone:       params.timezone,
		ConcurrencyKey: params.concurrencyKey,
		Labels:         params.labels,
	}

	var inserted *model.Job
	err := e.withTx(ctx, func(ctx context.Context, tx store.Querier) error {
		if params.concurrencyKey != "" {
			cfg := e.concurrencyConfigFor(jobClass)
			outcome, err := e.limiter.CheckEnqueue(ctx, tx, params.concurrencyKey, cfg)
			if err != nil {
				return fmt.Errorf("dispatchq: enqueue limit check: %w", err)
			}
			if outcome != limiter.OK {
				return &EnqueueRejectedError{Outcome: outcome}
			}
		}

		encoded, err := wire.Encode(payload)
		if err != nil {
			return fmt.Errorf("dispatchq: encode payload: %w", err)
		}
		job.SerializedParams = encoded

		j, err := e.store.Insert(ctx, tx, job)
		if err != nil {
			return fmt.Errorf("dispatchq: insert job: %w", err)
		}
		inserted = j
		return nil
	})
	if err != nil {
		return nil, err
	}

	if inserted.Available(time.Now()) {
		if err := e.notifier.NotifyPool(ctx, inserted.QueueName); err != nil {
			e.log.Warn("notify on enqueue failed, relying on polling", "error", err, "queue", inserted.QueueName)
		}
	}
	return inserted, nil
}

// EnqueueRejectedError reports that Enqueue was refused by the
// Concurrency Limiter's enqueue-side check (spec §4.6).
type EnqueueRejectedError struct {
	Outcome limiter.Outcome
}

func (e *EnqueueRejectedError) Error() string {
	return fmt.Sprintf("dispatchq: enqueue rejected: %s", e.Outcome)
}

// withTx runs fn inside a transaction on e's pool, committing on success
// and rolling back otherwise.
func (e *Engine) withTx(ctx context.Context, fn func(ctx context.Context, tx store.Querier) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispatchq: begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispatchq: commit transaction: %w", err)
	}
	return nil
}
