// Package batchcoord implements the Batch Coordinator (spec §4.8): after
// each job finishes, checks whether its batch (if any) is now complete and,
// exactly once, enqueues the configured on_discard/on_success/on_finish
// callback jobs, finally marking the batch finished once every job
// including those callbacks is terminal. Grounded on the teacher's
// transactional "check all done, then act once" pattern in
// expand_recurring_series_worker.go's schema-drift pause (FOR UPDATE style
// serialization) and generalized to the batch entity spec §4.8 describes,
// since the teacher has no batch concept of its own.
package batchcoord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/dispatchq/internal/store"
	"github.com/civic-os/dispatchq/model"
	"github.com/civic-os/dispatchq/wire"
)

// Coordinator evaluates batch completion against the Job Store.
type Coordinator struct {
	store *store.Store
	log   *slog.Logger
}

// New builds a Coordinator backed by st.
func New(st *store.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: st, log: logger.With("component", "batchcoord")}
}

// OnJobFinished runs the batch completion check for a job that just reached
// a terminal state (spec §4.8). Call this after any job belonging to a
// batch — regular member or callback — finishes, passing failed=true iff
// the job ended with a non-null error (discarded or cancelled). It is
// idempotent: racing callers serialize on the batch row's FOR UPDATE lock,
// and every callback decision is gated by a column nullness check so at
// most one caller ever acts on a given transition.
func (c *Coordinator) OnJobFinished(ctx context.Context, job *model.Job, failed bool) error {
	ref, isCallback := job.BatchID, false
	if ref == nil {
		ref, isCallback = job.BatchCallbackID, true
	}
	if ref == nil {
		return nil
	}
	batchID := *ref

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("batchcoord: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	batch, err := c.store.FindBatchForUpdate(ctx, tx, batchID)
	if err != nil {
		return fmt.Errorf("batchcoord: load batch %s: %w", batchID, err)
	}

	// Step 1 (spec §4.8): on_discard fires on the first terminal failure of
	// any member, independent of whether other members are still running.
	if failed && !isCallback && batch.DiscardedAt == nil {
		if err := c.store.MarkBatchDiscarded(ctx, tx, batch.ID); err != nil {
			return fmt.Errorf("batchcoord: mark discarded: %w", err)
		}
		now := time.Now()
		batch.DiscardedAt = &now
		if batch.OnDiscard != nil {
			if err := c.enqueueCallback(ctx, tx, batch, *batch.OnDiscard); err != nil {
				return fmt.Errorf("batchcoord: enqueue on_discard: %w", err)
			}
		}
		c.log.Info("batch discarded", "batch_id", batch.ID)
	}

	if batch.JobsFinishedAt == nil {
		if err := c.evaluateJobsFinished(ctx, tx, batch); err != nil {
			return err
		}
	}

	if err := c.evaluateBatchFinished(ctx, tx, batch); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("batchcoord: commit: %w", err)
	}
	committed = true
	return nil
}

// RetryBatch clears the batch's discarded_at (if set) and retries every
// discarded member job (spec §4.8 "Retry of a discarded batch"). It does
// not touch jobs_finished_at/finished_at. If they are already set,
// OnJobFinished does not evaluate them again, so the retried jobs'
// completion enqueues no further callbacks; if they are still unset, the
// retried jobs count toward the usual completion check.
func (c *Coordinator) RetryBatch(ctx context.Context, batchID uuid.UUID) error {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("batchcoord: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := c.store.FindBatchForUpdate(ctx, tx, batchID); err != nil {
		return fmt.Errorf("batchcoord: load batch %s: %w", batchID, err)
	}
	if err := c.store.ClearBatchDiscarded(ctx, tx, batchID); err != nil {
		return fmt.Errorf("batchcoord: clear discarded_at: %w", err)
	}

	ids, err := c.store.DiscardedJobIDsInBatch(ctx, tx, batchID)
	if err != nil {
		return fmt.Errorf("batchcoord: list discarded members: %w", err)
	}
	for _, id := range ids {
		if err := c.store.Retry(ctx, tx, id); err != nil {
			return fmt.Errorf("batchcoord: retry member %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("batchcoord: commit: %w", err)
	}
	committed = true
	c.log.Info("batch retried", "batch_id", batchID, "retried_jobs", len(ids))
	return nil
}

// evaluateJobsFinished runs the single, once-only decision pass triggered
// when every regular (non-callback) job in the batch has finished: fire
// on_success iff the batch was never discarded, fire on_finish
// unconditionally, then set jobs_finished_at (spec §4.8 steps 2-3).
func (c *Coordinator) evaluateJobsFinished(ctx context.Context, tx store.Querier, batch *model.Batch) error {
	allFinished, err := c.store.AllJobsFinishedInBatch(ctx, tx, batch.ID)
	if err != nil {
		return fmt.Errorf("batchcoord: check jobs finished: %w", err)
	}
	if !allFinished {
		return nil
	}

	if batch.DiscardedAt == nil && batch.OnSuccess != nil {
		if err := c.enqueueCallback(ctx, tx, batch, *batch.OnSuccess); err != nil {
			return fmt.Errorf("batchcoord: enqueue on_success: %w", err)
		}
	}

	if batch.OnFinish != nil {
		if err := c.enqueueCallback(ctx, tx, batch, *batch.OnFinish); err != nil {
			return fmt.Errorf("batchcoord: enqueue on_finish: %w", err)
		}
	}

	if err := c.store.MarkBatchJobsFinished(ctx, tx, batch.ID); err != nil {
		return fmt.Errorf("batchcoord: mark jobs_finished_at: %w", err)
	}
	now := time.Now()
	batch.JobsFinishedAt = &now
	c.log.Info("batch callbacks evaluated", "batch_id", batch.ID, "discarded", batch.DiscardedAt != nil)
	return nil
}

// evaluateBatchFinished sets finished_at once every job tied to the batch,
// including the callback jobs just enqueued, is terminal (spec §4.8 step
// 4). It is a no-op until jobs_finished_at is set, since callbacks cannot
// exist before that pass runs.
func (c *Coordinator) evaluateBatchFinished(ctx context.Context, tx store.Querier, batch *model.Batch) error {
	if batch.JobsFinishedAt == nil || batch.FinishedAt != nil {
		return nil
	}
	unfinished, err := c.store.UnfinishedCallbacksForBatch(ctx, tx, batch.ID)
	if err != nil {
		return fmt.Errorf("batchcoord: count unfinished callbacks: %w", err)
	}
	if unfinished > 0 {
		return nil
	}
	if err := c.store.MarkBatchFinished(ctx, tx, batch.ID); err != nil {
		return fmt.Errorf("batchcoord: mark finished: %w", err)
	}
	c.log.Info("batch finished", "batch_id", batch.ID)
	return nil
}

// callbackPayload builds the wire payload for a batch callback job class,
// passing the batch id as its sole argument so the callback handler can
// look up batch members (spec §4.8, §6).
func callbackPayload(batch *model.Batch, jobClass string) (uuid.UUID, wire.Payload) {
	activeJobID := uuid.New()
	return activeJobID, wire.Payload{
		JobClass:   wire.CanonicalClass(jobClass),
		JobID:      activeJobID.String(),
		QueueName:  batch.CallbackQueueName,
		Priority:   batch.CallbackPriority,
		Arguments:  []any{map[string]any{"batch_id": batch.ID.String()}},
		EnqueuedAt: time.Now(),
	}
}

func (c *Coordinator) enqueueCallback(ctx context.Context, tx store.Querier, batch *model.Batch, jobClass string) error {
	activeJobID, payload := callbackPayload(batch, jobClass)
	params, err := wire.Encode(payload)
	if err != nil {
		return fmt.Errorf("batchcoord: encode callback payload: %w", err)
	}
	job := &model.Job{
		ActiveJobID:      activeJobID,
		JobClass:         jobClass,
		QueueName:        batch.CallbackQueueName,
		Priority:         batch.CallbackPriority,
		SerializedParams: params,
		BatchCallbackID:  &batch.ID,
	}
	_, err = c.store.Insert(ctx, tx, job)
	return err
}
