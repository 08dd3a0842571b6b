// Package store is the Job Store (spec §4.2): the query surface over the
// Job entity, providing composable predicates and the two ordering
// disciplines the rest of the engine depends on. Grounded on the
// teacher's pgxpool-based query style (consolidated-worker-go's
// scheduled_jobs_worker.go and source_code_parser.go).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civic-os/dispatchq/model"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: job not found")

const jobColumns = `id, active_job_id, job_class, queue_name, priority, serialized_params,
	scheduled_at, performed_at, finished_at, error, error_event, executions_count,
	concurrency_key, cron_key, cron_at, batch_id, batch_callback_id, labels,
	locked_by_id, locked_at, retried_good_job_id, created_at`

// Store is the Job Store. All methods take an explicit Querier so callers
// can run a sequence of calls on the same transaction (required by the
// advisory-lock contract in spec §4.1).
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and *pgxpool.Conn.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New builds a Store backed by pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, log: logger.With("component", "store")}
}

// Pool returns the underlying connection pool, for components (notifier,
// process tracker) that need a dedicated connection or a BeginTx of their
// own.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// BeginTx starts a transaction on the pool.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// intervalSeconds formats a time.Duration as a Postgres-compatible interval
// literal. pgx/v5 has no default codec from time.Duration to interval, and
// Go's Duration.String() ("5m0s") isn't valid interval syntax, so every
// "$N::interval" parameter in this package is passed through this instead
// of the bare duration.
func intervalSeconds(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var errEvent *string
	if err := row.Scan(
		&j.ID, &j.ActiveJobID, &j.JobClass, &j.QueueName, &j.Priority, &j.SerializedParams,
		&j.ScheduledAt, &j.PerformedAt, &j.FinishedAt, &j.Error, &errEvent, &j.ExecutionsCount,
		&j.ConcurrencyKey, &j.CronKey, &j.CronAt, &j.BatchID, &j.BatchCallbackID, &j.Labels,
		&j.LockedByID, &j.LockedAt, &j.RetriedGoodJobID, &j.CreatedAt,
	); err != nil {
		return nil, err
	}
	if errEvent != nil {
		ev := model.ErrorEvent(*errEvent)
		j.ErrorEvent = &ev
	}
	return &j, nil
}

// Insert inserts a new job row (spec §4.2: "Enqueue is a transactional
// insert"). Notification is the caller's responsibility (internal/notifier)
// so the insert and the NOTIFY can share one transaction decision.
func (s *Store) Insert(ctx context.Context, q Querier, j *model.Job) (*model.Job, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO dispatchq_jobs (
			active_job_id, job_class, queue_name, priority, serialized_params,
			scheduled_at, concurrency_key, cron_key, cron_at, batch_id,
			batch_callback_id, labels, retried_good_job_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+jobColumns,
		j.ActiveJobID, j.JobClass, j.QueueName, j.Priority, j.SerializedParams,
		j.ScheduledAt, j.ConcurrencyKey, j.CronKey, j.CronAt, j.BatchID,
		j.BatchCallbackID, j.Labels, j.RetriedGoodJobID,
	)
	return scanJob(row)
}

// InsertCron inserts a cron-triggered job, relying on the
// (cron_key, cron_at) unique index to de-duplicate racing managers (spec
// §4.7: "cron_key/cron_at uniqueness for de-dup across racing managers").
// Returns (nil, nil) when a row for this cron_key/cron_at already exists.
func (s *Store) InsertCron(ctx context.Context, q Querier, j *model.Job) (*model.Job, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO dispatchq_jobs (
			active_job_id, job_class, queue_name, priority, serialized_params,
			scheduled_at, concurrency_key, cron_key, cron_at, labels
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (cron_key, cron_at) WHERE cron_key IS NOT NULL DO NOTHING
		RETURNING `+jobColumns,
		j.ActiveJobID, j.JobClass, j.QueueName, j.Priority, j.SerializedParams,
		j.ScheduledAt, j.ConcurrencyKey, j.CronKey, j.CronAt, j.Labels,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// FindByID loads a single job row.
func (s *Store) FindByID(ctx context.Context, q Querier, id uuid.UUID) (*model.Job, error) {
	row := q.QueryRow(ctx, `SELECT `+jobColumns+` FROM dispatchq_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// FindByIDForUpdate loads a job row with FOR UPDATE, for callers (batch
// coordinator) that need to serialize concurrent readers.
func (s *Store) FindByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*model.Job, error) {
	row := q.QueryRow(ctx, `SELECT `+jobColumns+` FROM dispatchq_jobs WHERE id = $1 FOR UPDATE`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// Retry clears a finished job's terminal fields and reschedules it for now
// (spec §3 J5, §4.2).
func (s *Store) Retry(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE dispatchq_jobs
		SET finished_at = NULL, error = NULL, error_event = NULL,
		    performed_at = NULL, locked_by_id = NULL, locked_at = NULL,
		    scheduled_at = now()
		WHERE id = $1`, id)
	return err
}

// Delete removes a job row outright.
func (s *Store) Delete(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM dispatchq_jobs WHERE id = $1`, id)
	return err
}

// QueueFilter describes which queues a scheduler pool consumes, parsed
// from a queue expression (spec §4.5). It lives here rather than in
// internal/scheduler so the store's SQL builder can consume it without a
// package cycle; internal/scheduler owns parsing the expression string
// into this struct.
type QueueFilter struct {
	All     bool
	Include []string // empty + !All means Exclude applies instead
	Exclude []string
	Ordered bool // true for "+a,b" — queue a drains strictly before b
}

func (f QueueFilter) sqlFragment(b *predicateBuilder) {
	switch {
	case f.All:
		return
	case len(f.Include) > 0:
		b.add("queue_name = ANY(?)", f.Include)
	case len(f.Exclude) > 0:
		b.add("NOT (queue_name = ANY(?))", f.Exclude)
	}
}

// ReclaimStale clears the claim markers of jobs whose locked_at predates
// now-window, in the same transaction the caller will use to select
// candidates (spec §4.5). Returns the number of rows reclaimed.
func (s *Store) ReclaimStale(ctx context.Context, q Querier, window time.Duration) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE dispatchq_jobs
		SET locked_by_id = NULL, locked_at = NULL, performed_at = NULL
		WHERE finished_at IS NULL
		  AND locked_by_id IS NOT NULL
		  AND locked_at < now() - $1::interval`, intervalSeconds(window))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Candidates runs the candidate-lookup query (spec §4.2, §4.5): unfinished,
// unlocked-or-stale, queue-filtered, due jobs in dequeue order, limited to
// limit rows. The caller is expected to have run ReclaimStale in the same
// transaction first; this query still re-states the locked_by_id/locked_at
// condition itself (spec §4.5's literal WHERE clause) rather than relying
// solely on that reclaim, since a currently-running job's advisory lock is
// released the moment its claim transaction commits — only this predicate,
// not the lock, keeps it out of a second worker's candidate set.
func (s *Store) Candidates(ctx context.Context, q Querier, filter QueueFilter, staleWindow time.Duration, limit int) ([]*model.Job, error) {
	b := &predicateBuilder{}
	b.add("finished_at IS NULL")
	b.add("(locked_by_id IS NULL OR locked_at < now() - ?::interval)", intervalSeconds(staleWindow))
	filter.sqlFragment(b)
	b.add("(scheduled_at IS NULL OR scheduled_at <= now())")
	where, args := b.build(0)

	order := "priority ASC NULLS LAST, created_at ASC, scheduled_at ASC NULLS FIRST"
	if filter.Ordered && len(filter.Include) > 0 {
		// Ordered queue expressions (spec §4.5 "+a,b") rank earlier queues
		// in the include list ahead of later ones before falling back to
		// the usual priority/created_at/scheduled_at order.
		args = append(args, filter.Include)
		order = fmt.Sprintf("array_position($%d, queue_name), ", len(args)) + order
	}
	args = append(args, limit)

	sql := fmt.Sprintf(`SELECT %s FROM dispatchq_jobs %s ORDER BY %s LIMIT $%d`,
		jobColumns, where, order, len(args))

	if err := validateComposedSQL(sql); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store: candidates query: %w", err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Claim marks a job as claimed by workerID: sets performed_at, locked_by_id,
// locked_at and increments executions_count (spec §4.5 selection
// algorithm). Call only after winning the per-row advisory lock.
func (s *Store) Claim(ctx context.Context, q Querier, id uuid.UUID, workerID uuid.UUID) error {
	tag, err := q.Exec(ctx, `
		UPDATE dispatchq_jobs
		SET performed_at = now(), locked_by_id = $2, locked_at = now(),
		    executions_count = executions_count + 1
		WHERE id = $1`, id, workerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishSuccess marks a job as having succeeded.
func (s *Store) FinishSuccess(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE dispatchq_jobs SET finished_at = now() WHERE id = $1`, id)
	return err
}

// FinishTerminal marks a job finished with a terminal failure
// (cancelled/discarded), per spec §4.9 step 7.
func (s *Store) FinishTerminal(ctx context.Context, q Querier, id uuid.UUID, errMsg string, event model.ErrorEvent) error {
	_, err := q.Exec(ctx, `
		UPDATE dispatchq_jobs
		SET finished_at = now(), error = $2, error_event = $3
		WHERE id = $1`, id, errMsg, string(event))
	return err
}

// Snooze reschedules a job without consuming a retry attempt and clears
// its claim markers (spec §4.9 step 7).
func (s *Store) Snooze(ctx context.Context, q Querier, id uuid.UUID, d time.Duration) error {
	_, err := q.Exec(ctx, `
		UPDATE dispatchq_jobs
		SET scheduled_at = now() + $2::interval, performed_at = NULL,
		    locked_by_id = NULL, locked_at = NULL
		WHERE id = $1`, id, intervalSeconds(d))
	return err
}

// ScheduleRetry reschedules a retryable failure after backoff, recording
// the error, and clears claim markers (spec §4.9 step 7).
func (s *Store) ScheduleRetry(ctx context.Context, q Querier, id uuid.UUID, errMsg string, backoff time.Duration) error {
	_, err := q.Exec(ctx, `
		UPDATE dispatchq_jobs
		SET scheduled_at = now() + $3::interval, error = $2, error_event = $4,
		    performed_at = NULL, locked_by_id = NULL, locked_at = NULL
		WHERE id = $1`, id, errMsg, intervalSeconds(backoff), string(model.ErrorEventHandled))
	return err
}

// Discard marks a job discarded (retries exhausted), per spec §4.9 step 7.
func (s *Store) Discard(ctx context.Context, q Querier, id uuid.UUID, errMsg string) error {
	return s.FinishTerminal(ctx, q, id, errMsg, model.ErrorEventDiscarded)
}

// CountUnfinishedByConcurrencyKey counts unfinished rows sharing key,
// optionally excluding claimed rows (spec §4.6 enqueue-side check).
func (s *Store) CountUnfinishedByConcurrencyKey(ctx context.Context, q Querier, key string, unclaimedOnly bool) (int, error) {
	sql := `SELECT count(*) FROM dispatchq_jobs WHERE concurrency_key = $1 AND finished_at IS NULL`
	if unclaimedOnly {
		sql += ` AND locked_by_id IS NULL`
	}
	var n int
	if err := q.QueryRow(ctx, sql, key).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountClaimedByConcurrencyKey counts claimed-unfinished rows sharing key
// (spec §4.6 perform-side limit when perform_limit is set).
func (s *Store) CountClaimedByConcurrencyKey(ctx context.Context, q Querier, key string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM dispatchq_jobs
		WHERE concurrency_key = $1 AND finished_at IS NULL AND locked_by_id IS NOT NULL`, key).Scan(&n)
	return n, err
}

// CountUnfinishedByConcurrencyKeyExcluding counts unfinished rows sharing
// key other than excludeID (spec §4.6 perform-side limit fallback).
func (s *Store) CountUnfinishedByConcurrencyKeyExcluding(ctx context.Context, q Querier, key string, excludeID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM dispatchq_jobs
		WHERE concurrency_key = $1 AND finished_at IS NULL AND id != $2`, key, excludeID).Scan(&n)
	return n, err
}

// CountCreatedSince counts rows with the given concurrency key created
// within the window ending now (spec §4.6 enqueue-side throttle).
func (s *Store) CountCreatedSince(ctx context.Context, q Querier, key string, window time.Duration) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM dispatchq_jobs
		WHERE concurrency_key = $1 AND created_at >= now() - $2::interval`, key, intervalSeconds(window)).Scan(&n)
	return n, err
}

// CountExecutionsByConcurrencyKeySince counts execution attempts started
// within window for jobs sharing key, excluding executions whose error
// equals the throttle sentinel string (spec §4.6 perform-side throttle:
// "excluding executions whose error equals the throttle sentinel string" —
// a throttle-exceeded outcome never occupies a slot in a later window
// evaluation). The check is evaluated before the current attempt's own
// execution row exists (spec §4.9 step 2 runs before step 4's insert), so
// it simulates "count + 1 > limit" the same way the enqueue-side check
// does, rather than testing the current job's membership in the result.
func (s *Store) CountExecutionsByConcurrencyKeySince(ctx context.Context, q Querier, key string, window time.Duration) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM dispatchq_executions e
		JOIN dispatchq_jobs j ON j.active_job_id = e.active_job_id
		WHERE j.concurrency_key = $1
		  AND e.created_at >= now() - $2::interval
		  AND (e.error IS NULL OR e.error != $3)`, key, intervalSeconds(window), ThrottleSentinel).Scan(&n)
	return n, err
}

// ThrottleSentinel is the execution error string that
// CountExecutionsByConcurrencyKeySince leaves out of its count (spec
// §4.6). The Executor writes no execution row for an attempt the
// perform-side check rejects, so no row it records carries this string.
const ThrottleSentinel = "throttle_exceeded"

// JobsInBatch loads every job belonging to batchID, for the Batch
// Coordinator's completion check (spec §4.8).
func (s *Store) JobsInBatch(ctx context.Context, q Querier, batchID uuid.UUID) ([]*model.Job, error) {
	rows, err := q.Query(ctx, `SELECT `+jobColumns+` FROM dispatchq_jobs WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UnfinishedCallbacksForBatch counts unfinished jobs whose batch_callback_id
// is batchID (spec §4.8 step 3 / B5).
func (s *Store) UnfinishedCallbacksForBatch(ctx context.Context, q Querier, batchID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM dispatchq_jobs
		WHERE batch_callback_id = $1 AND finished_at IS NULL`, batchID).Scan(&n)
	return n, err
}

// DeleteFinishedBefore deletes up to limit finished job rows with
// finished_at older than horizon, oldest first (spec §4.11). If
// includeDiscarded is false, rows with a non-null error are preserved.
func (s *Store) DeleteFinishedBefore(ctx context.Context, q Querier, horizon time.Time, limit int, includeDiscarded bool) (int64, error) {
	sql := `
		DELETE FROM dispatchq_jobs
		WHERE id IN (
			SELECT id FROM dispatchq_jobs
			WHERE finished_at IS NOT NULL AND finished_at < $1`
	if !includeDiscarded {
		sql += ` AND error IS NULL`
	}
	sql += `
			ORDER BY finished_at ASC
			LIMIT $2
		)`
	tag, err := q.Exec(ctx, sql, horizon, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
