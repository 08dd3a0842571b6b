package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civic-os/dispatchq/model"
)

const batchColumns = `id, description, on_finish, on_success, on_discard,
	callback_queue_name, callback_priority, enqueued_at, discarded_at,
	jobs_finished_at, finished_at`

func scanBatch(row pgx.Row) (*model.Batch, error) {
	var b model.Batch
	if err := row.Scan(
		&b.ID, &b.Description, &b.OnFinish, &b.OnSuccess, &b.OnDiscard,
		&b.CallbackQueueName, &b.CallbackPriority, &b.EnqueuedAt, &b.DiscardedAt,
		&b.JobsFinishedAt, &b.FinishedAt,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBatch inserts a new batch row (spec §4.8).
func (s *Store) InsertBatch(ctx context.Context, q Querier, b *model.Batch) (*model.Batch, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO dispatchq_batches (
			description, on_finish, on_success, on_discard,
			callback_queue_name, callback_priority
		) VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+batchColumns,
		b.Description, b.OnFinish, b.OnSuccess, b.OnDiscard,
		b.CallbackQueueName, b.CallbackPriority,
	)
	return scanBatch(row)
}

// FindBatchForUpdate loads a batch row with FOR UPDATE so the completion
// check (spec §4.8) can serialize concurrent evaluators racing to finish
// the same batch.
func (s *Store) FindBatchForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*model.Batch, error) {
	row := q.QueryRow(ctx, `SELECT `+batchColumns+` FROM dispatchq_batches WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// MarkBatchDiscarded sets discarded_at if it is not already set, recording
// that at least one job in the batch has been discarded (spec §4.8). It is
// idempotent: calling it again after discarded_at is set is a no-op.
func (s *Store) MarkBatchDiscarded(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE dispatchq_batches SET discarded_at = now()
		WHERE id = $1 AND discarded_at IS NULL`, id)
	return err
}

// MarkBatchJobsFinished sets jobs_finished_at if it is not already set
// (spec §4.8: gates the single on_discard/on_success/on_finish decision
// pass to run exactly once).
func (s *Store) MarkBatchJobsFinished(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE dispatchq_batches SET jobs_finished_at = now()
		WHERE id = $1 AND jobs_finished_at IS NULL`, id)
	return err
}

// MarkBatchFinished sets finished_at if it is not already set (spec §4.8:
// fires once every job, including callback jobs, in the batch is terminal).
func (s *Store) MarkBatchFinished(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE dispatchq_batches SET finished_at = now()
		WHERE id = $1 AND finished_at IS NULL`, id)
	return err
}

// AnyDiscardedInBatch reports whether any job in batchID carries a
// discarded error_event, used to decide between on_success and on_discard
// (spec §4.8).
func (s *Store) AnyDiscardedInBatch(ctx context.Context, q Querier, batchID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM dispatchq_jobs
			WHERE batch_id = $1 AND error_event = $2
		)`, batchID, string(model.ErrorEventDiscarded)).Scan(&exists)
	return exists, err
}

// AllJobsFinishedInBatch reports whether every non-callback job in batchID
// has a non-null finished_at (spec §4.8 step 1).
func (s *Store) AllJobsFinishedInBatch(ctx context.Context, q Querier, batchID uuid.UUID) (bool, error) {
	var unfinished int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM dispatchq_jobs
		WHERE batch_id = $1 AND finished_at IS NULL`, batchID).Scan(&unfinished)
	if err != nil {
		return false, err
	}
	return unfinished == 0, nil
}

// DiscardedJobIDsInBatch lists the ids of every discarded member job in
// batchID, for RetryBatch (spec §4.8 "Retry of a discarded batch").
func (s *Store) DiscardedJobIDsInBatch(ctx context.Context, q Querier, batchID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `
		SELECT id FROM dispatchq_jobs
		WHERE batch_id = $1 AND error_event = $2`, batchID, string(model.ErrorEventDiscarded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearBatchDiscarded clears discarded_at, for RetryBatch (spec §4.8).
func (s *Store) ClearBatchDiscarded(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE dispatchq_batches SET discarded_at = NULL WHERE id = $1`, id)
	return err
}
