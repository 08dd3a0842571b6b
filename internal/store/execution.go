package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civic-os/dispatchq/model"
)

const executionColumns = `id, active_job_id, job_class, queue_name, serialized_params,
	scheduled_at, finished_at, error, error_event, error_backtrace, process_id,
	duration_ms, created_at`

func scanExecution(row pgx.Row) (*model.Execution, error) {
	var e model.Execution
	var errEvent *string
	var durationMs *int64
	if err := row.Scan(
		&e.ID, &e.ActiveJobID, &e.JobClass, &e.QueueName, &e.SerializedParams,
		&e.ScheduledAt, &e.FinishedAt, &e.Error, &errEvent, &e.ErrorBacktrace, &e.ProcessID,
		&durationMs, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if errEvent != nil {
		ev := model.ErrorEvent(*errEvent)
		e.ErrorEvent = &ev
	}
	if durationMs != nil {
		e.Duration = time.Duration(*durationMs) * time.Millisecond
	}
	return &e, nil
}

// InsertExecution records the start of one attempt at a job (spec §3, §4.9
// step 1: "inserted with a nil finished_at at the start of an attempt").
func (s *Store) InsertExecution(ctx context.Context, q Querier, e *model.Execution) (*model.Execution, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO dispatchq_executions (
			active_job_id, job_class, queue_name, serialized_params,
			scheduled_at, process_id
		) VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+executionColumns,
		e.ActiveJobID, e.JobClass, e.QueueName, e.SerializedParams, e.ScheduledAt, e.ProcessID,
	)
	return scanExecution(row)
}

// InterruptedSentinel is the error string recorded against a dangling
// execution row that FinishDanglingExecutions closes out (spec §4.9 step
// 3: "mark any dangling unfinished execution row ... as finished with an
// 'Interrupted' sentinel error").
const InterruptedSentinel = "Interrupted"

// FinishDanglingExecutions closes out any unfinished execution row for
// activeJobID other than the one currently in progress (spec §4.9 step 3):
// a prior attempt that never reached a terminal state, most often because
// the worker process that held it died mid-handler. It records
// InterruptedSentinel as the error and the elapsed time since the row was
// created as its duration, so the audit trail never shows a run with no
// end. Returns the number of rows closed (normally 0 or 1).
func (s *Store) FinishDanglingExecutions(ctx context.Context, q Querier, activeJobID uuid.UUID, skip uuid.UUID) (int64, error) {
	ev := string(model.ErrorEventUnhandled)
	sentinel := InterruptedSentinel
	tag, err := q.Exec(ctx, `
		UPDATE dispatchq_executions
		SET finished_at = now(),
		    error = $3,
		    error_event = $4,
		    duration_ms = EXTRACT(EPOCH FROM (now() - created_at)) * 1000
		WHERE active_job_id = $1
		  AND id != $2
		  AND finished_at IS NULL`, activeJobID, skip, sentinel, ev)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FinishExecution records the terminal outcome of one attempt (spec §4.9
// step 7): updated exactly once, never mutated afterward.
func (s *Store) FinishExecution(ctx context.Context, q Querier, id uuid.UUID, errMsg *string, event *model.ErrorEvent, backtrace []string, duration time.Duration) error {
	var eventStr *string
	if event != nil {
		s := string(*event)
		eventStr = &s
	}
	_, err := q.Exec(ctx, `
		UPDATE dispatchq_executions
		SET finished_at = now(), error = $2, error_event = $3, error_backtrace = $4, duration_ms = $5
		WHERE id = $1`, id, errMsg, eventStr, backtrace, duration.Milliseconds())
	return err
}
