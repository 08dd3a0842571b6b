package dispatchq

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/civic-os/dispatchq/model"
)

// BatchOption customizes a batch's callback wiring before it is created
// (spec §4.8).
type BatchOption func(*model.Batch)

// OnSuccess registers jobClass to run once every job in the batch has
// finished with no discards (spec §4.8).
func OnSuccess(jobClass string) BatchOption {
	return func(b *model.Batch) { b.OnSuccess = &jobClass }
}

// OnDiscard registers jobClass to run as soon as any member job of the
// batch is discarded or cancelled, without waiting for the other members
// (spec §4.8).
func OnDiscard(jobClass string) BatchOption {
	return func(b *model.Batch) { b.OnDiscard = &jobClass }
}

// OnFinish registers jobClass to run once every job in the batch has
// finished, regardless of outcome. It is enqueued in the same pass as the
// on_success callback and does not wait for on_success/on_discard
// callbacks to finish (spec §4.8).
func OnFinish(jobClass string) BatchOption {
	return func(b *model.Batch) { b.OnFinish = &jobClass }
}

// BatchDescription attaches a human-readable label to the batch.
func BatchDescription(desc string) BatchOption {
	return func(b *model.Batch) { b.Description = desc }
}

// BatchCallbackQueue overrides the queue callback jobs are enqueued on;
// the default is "default".
func BatchCallbackQueue(name string) BatchOption {
	return func(b *model.Batch) { b.CallbackQueueName = name }
}

// NewBatch creates a batch row for grouping jobs enqueued with the Batch
// option (spec §4.8). Jobs must be enqueued with Batch(id) after the
// batch exists; the Batch Coordinator evaluates completion each time one
// of its member jobs finishes.
func (e *Engine) NewBatch(ctx context.Context, opts ...BatchOption) (*model.Batch, error) {
	b := &model.Batch{CallbackQueueName: "default"}
	for _, opt := range opts {
		opt(b)
	}
	created, err := e.store.InsertBatch(ctx, e.pool, b)
	if err != nil {
		return nil, fmt.Errorf("dispatchq: create batch: %w", err)
	}
	return created, nil
}

// RetryBatch clears a discarded batch's discarded_at and retries every
// discarded member job (spec §4.8 "Retry of a discarded batch").
func (e *Engine) RetryBatch(ctx context.Context, batchID uuid.UUID) error {
	if err := e.batch.RetryBatch(ctx, batchID); err != nil {
		return fmt.Errorf("dispatchq: retry batch %s: %w", batchID, err)
	}
	return nil
}
