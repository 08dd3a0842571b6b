// Package limiter implements the Concurrency Limiter (spec §4.6): per-class
// enqueue-side and perform-side limit and throttle checks backed by
// transactional counts against the Job Store, with a small in-process
// semaphore fast path in front of the round trip. Grounded on the teacher's
// in-process rate gate in notification_worker.go (a sync.Map of per-key
// token buckets guarding outbound webhook calls) generalized here to the
// per-concurrency-key counts spec §4.6 describes.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/civic-os/dispatchq/internal/advisorylock"
	"github.com/civic-os/dispatchq/internal/store"
)

// Outcome is the tagged result of a limit or throttle check (spec §4.6).
type Outcome int

const (
	OK Outcome = iota
	LimitExceeded
	ThrottleExceeded
	// LockFailed means pg_try_advisory_xact_lock(hash(key)) did not acquire
	// because another transaction already holds it for this key (spec §4.6:
	// "if not acquired → lock_failed").
	LockFailed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case LimitExceeded:
		return "limit_exceeded"
	case ThrottleExceeded:
		return "throttle_exceeded"
	case LockFailed:
		return "lock_failed"
	default:
		return "unknown"
	}
}

// Throttle caps how many jobs may be created (or executions started) for a
// concurrency key within Window (spec §4.6).
type Throttle struct {
	Count  int
	Window time.Duration
}

// ClassConfig is the per job-class concurrency configuration (spec §4.6,
// §9(i) open question resolved here: enqueue_limit governs the enqueue-side
// check; PerformLimit is used for the perform-side check when set, falling
// back to TotalLimit otherwise — the two limits are never combined).
type ClassConfig struct {
	EnqueueLimit    int // 0 means unlimited
	PerformLimit    int // 0 means "use TotalLimit"
	TotalLimit      int // 0 means unlimited
	EnqueueThrottle *Throttle
	PerformThrottle *Throttle
}

func (c ClassConfig) performLimit() int {
	if c.PerformLimit > 0 {
		return c.PerformLimit
	}
	return c.TotalLimit
}

// Release must be called exactly once, regardless of outcome, to give back
// any in-process fast-path slot CheckPerform acquired. It is a no-op when no
// slot was acquired (e.g. the config has no perform limit).
type Release func()

var noopRelease Release = func() {}

// Limiter checks concurrency limits and throttles against the Job Store.
type Limiter struct {
	store *store.Store
	lock  *advisorylock.Manager

	mu   sync.Mutex
	sems map[string]*localSem
}

type localSem struct {
	size int64
	sem  *semaphore.Weighted
}

// New builds a Limiter backed by st, using lock to acquire the per-key
// transactional advisory lock spec §4.6 requires on both the enqueue- and
// perform-side checks.
func New(st *store.Store, lock *advisorylock.Manager) *Limiter {
	return &Limiter{store: st, lock: lock, sems: make(map[string]*localSem)}
}

// localSemFor returns (creating if needed, or resizing if the configured
// limit changed) the in-process semaphore for key sized to n.
func (l *Limiter) localSemFor(key string, n int64) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	ls, ok := l.sems[key]
	if !ok || ls.size != n {
		ls = &localSem{size: n, sem: semaphore.NewWeighted(n)}
		l.sems[key] = ls
	}
	return ls.sem
}

// CheckEnqueue applies the enqueue-side limit and throttle (spec §4.6) to a
// candidate job about to be inserted, within the same transaction as the
// insert so the count it reads cannot race with a concurrent enqueue of the
// same key. It first acquires pg_try_advisory_xact_lock(hash(key)) on that
// same transaction (spec §4.6: "in a transaction, acquire
// pg_try_advisory_xact_lock(hash(k)); if not acquired → lock_failed"),
// serializing concurrent enqueues of the same key for the lifetime of the
// caller's transaction.
func (l *Limiter) CheckEnqueue(ctx context.Context, q store.Querier, key string, cfg ClassConfig) (Outcome, error) {
	if key == "" {
		return OK, nil
	}
	acquired, err := l.lock.TryTransactionLockText(ctx, q, key)
	if err != nil {
		return OK, fmt.Errorf("limiter: enqueue advisory lock: %w", err)
	}
	if !acquired {
		return LockFailed, nil
	}
	if cfg.EnqueueLimit > 0 {
		n, err := l.store.CountUnfinishedByConcurrencyKey(ctx, q, key, true)
		if err != nil {
			return OK, fmt.Errorf("limiter: enqueue limit count: %w", err)
		}
		if n >= cfg.EnqueueLimit {
			return LimitExceeded, nil
		}
	}
	if cfg.EnqueueThrottle != nil && cfg.EnqueueThrottle.Count > 0 {
		n, err := l.store.CountCreatedSince(ctx, q, key, cfg.EnqueueThrottle.Window)
		if err != nil {
			return OK, fmt.Errorf("limiter: enqueue throttle count: %w", err)
		}
		if n >= cfg.EnqueueThrottle.Count {
			return ThrottleExceeded, nil
		}
	}
	return OK, nil
}

// CheckPerform applies the perform-side limit and throttle (spec §4.6)
// before a claimed job is handed to the Executor. It first consults an
// in-process semaphore sized to the configured perform limit as a fast
// path; only when that succeeds does it re-verify against the authoritative
// transactional count and per-key advisory lock, since the semaphore alone
// cannot see claims made by other processes. The count/lock check runs in
// its own transaction (checkPerformTxn) rather than the caller's, since the
// caller has none at this point — the job was already claimed and committed
// by the Scheduler before the Executor ever sees it. The returned Release
// must be invoked once the job finishes (success, retry, discard, or
// snooze) to give back the local slot, even when the outcome was not OK.
func (l *Limiter) CheckPerform(ctx context.Context, key string, jobID uuid.UUID, cfg ClassConfig) (Outcome, Release, error) {
	if key == "" {
		return OK, noopRelease, nil
	}

	limit := cfg.performLimit()
	if limit > 0 {
		sem := l.localSemFor(key, int64(limit))
		if !sem.TryAcquire(1) {
			return LimitExceeded, noopRelease, nil
		}
		release := Release(func() { sem.Release(1) })

		outcome, err := l.checkPerformTxn(ctx, key, jobID, limit, cfg)
		if err != nil || outcome != OK {
			release()
			return outcome, noopRelease, err
		}
		return OK, release, nil
	}

	outcome, err := l.checkPerformTxn(ctx, key, jobID, 0, cfg)
	if err != nil || outcome != OK {
		return outcome, noopRelease, err
	}
	return OK, noopRelease, nil
}

// checkPerformTxn runs the advisory-lock-guarded count and throttle checks
// in their own short-lived transaction (spec §4.6: "in a transaction,
// acquire pg_try_advisory_xact_lock(hash(k)); if not acquired →
// lock_failed"). The transaction commits (releasing the lock) before
// CheckPerform returns: the lock only needs to serialize the check itself
// against a concurrent claim/check on the same key from another process, not
// the job's subsequent run.
func (l *Limiter) checkPerformTxn(ctx context.Context, key string, jobID uuid.UUID, limit int, cfg ClassConfig) (Outcome, error) {
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return OK, fmt.Errorf("limiter: begin perform check tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	acquired, err := l.lock.TryTransactionLockText(ctx, tx, key)
	if err != nil {
		return OK, fmt.Errorf("limiter: perform advisory lock: %w", err)
	}
	if !acquired {
		return LockFailed, nil
	}

	if limit > 0 {
		var n int
		var countErr error
		if cfg.PerformLimit > 0 {
			// perform_limit counts every claimed-unfinished row with this
			// key, including the job being checked (spec §4.6).
			n, countErr = l.store.CountClaimedByConcurrencyKey(ctx, tx, key)
		} else {
			n, countErr = l.store.CountUnfinishedByConcurrencyKeyExcluding(ctx, tx, key, jobID)
		}
		if countErr != nil {
			return OK, fmt.Errorf("limiter: perform limit count: %w", countErr)
		}
		if n >= limit {
			return LimitExceeded, nil
		}
	}

	if outcome, err := l.checkPerformThrottle(ctx, tx, key, cfg); err != nil || outcome != OK {
		return outcome, err
	}

	if err := tx.Commit(ctx); err != nil {
		return OK, fmt.Errorf("limiter: commit perform check tx: %w", err)
	}
	committed = true
	return OK, nil
}

// checkPerformThrottle evaluates the sliding window over execution rows
// (spec §4.6), excluding executions the throttle itself already rejected
// (store.ThrottleSentinel) so a throttle-exceeded outcome never occupies a
// slot in a later evaluation.
func (l *Limiter) checkPerformThrottle(ctx context.Context, q store.Querier, key string, cfg ClassConfig) (Outcome, error) {
	if cfg.PerformThrottle == nil || cfg.PerformThrottle.Count <= 0 {
		return OK, nil
	}
	n, err := l.store.CountExecutionsByConcurrencyKeySince(ctx, q, key, cfg.PerformThrottle.Window)
	if err != nil {
		return OK, fmt.Errorf("limiter: perform throttle count: %w", err)
	}
	if n >= cfg.PerformThrottle.Count {
		return ThrottleExceeded, nil
	}
	return OK, nil
}
