// Package scheduler implements the Scheduler (spec §4.5): one pool per
// queue expression, each owning a worker-slot budget and the candidate
// selection / advisory-lock dequeue loop. Grounded on the teacher's River
// pool configuration (consolidated-worker-go/main.go's
// map[string]river.QueueConfig{"queue": {MaxWorkers: N}}) reimplemented
// here as the actual selection loop River's own internals would run,
// since dispatchq does not depend on River (DESIGN.md).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/civic-os/dispatchq/internal/advisorylock"
	"github.com/civic-os/dispatchq/internal/pause"
	"github.com/civic-os/dispatchq/internal/store"
	"github.com/civic-os/dispatchq/model"
)

// StaleClaimWindow is the age beyond which a job's locked_by_id/locked_at
// claim markers are reclaimed by the next selection pass (spec §4.5,
// §5: "60 s without commit").
const StaleClaimWindow = 60 * time.Second

// DefaultQueueSelectLimit bounds how many candidate rows a single
// selection transaction considers (spec §4.5).
const DefaultQueueSelectLimit = 1000

// Runner executes a claimed job. Implemented by internal/executor.Executor;
// kept as an interface here so scheduler never imports executor (executor
// needs to call back into the Batch Coordinator and limiter, not the other
// way around).
type Runner interface {
	Run(ctx context.Context, job *model.Job)
}

// ShutdownOutcome is the result of Shutdown (spec §4.5).
type ShutdownOutcome string

const (
	ShutdownOK      ShutdownOutcome = "ok"
	ShutdownTimeout ShutdownOutcome = "timeout"
)

// Config configures one Scheduler pool.
type Config struct {
	Expr             QueueExpr
	MaxProcesses     int
	QueueSelectLimit int // default DefaultQueueSelectLimit if 0
	StaleWindow      time.Duration // default StaleClaimWindow if 0
	WorkerID         uuid.UUID
	Pause            *pause.Checker // nil disables pause checks
}

// Scheduler owns one queue expression, a worker-slot budget, and the
// candidate selection / advisory-lock dequeue loop (spec §4.5).
type Scheduler struct {
	store  *store.Store
	lock   *advisorylock.Manager
	runner Runner
	log    *slog.Logger

	expr             QueueExpr
	filter           store.QueueFilter
	queueSelectLimit int
	staleWindow      time.Duration
	workerID         uuid.UUID
	pause            *pause.Checker

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu           sync.Mutex
	shuttingDown bool
}

// New builds a Scheduler pool.
func New(st *store.Store, lock *advisorylock.Manager, runner Runner, cfg Config, logger *slog.Logger) *Scheduler {
	limit := cfg.QueueSelectLimit
	if limit == 0 {
		limit = DefaultQueueSelectLimit
	}
	stale := cfg.StaleWindow
	if stale == 0 {
		stale = StaleClaimWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:            st,
		lock:             lock,
		runner:           runner,
		expr:             cfg.Expr,
		filter:           cfg.Expr.ToStoreFilter(),
		queueSelectLimit: limit,
		staleWindow:      stale,
		workerID:         cfg.WorkerID,
		pause:            cfg.Pause,
		sem:              semaphore.NewWeighted(int64(cfg.MaxProcesses)),
		log:              logger.With("component", "scheduler", "queue_expr", exprString(cfg.Expr)),
	}
}

func exprString(e QueueExpr) string {
	switch {
	case e.All:
		return "*"
	case len(e.Include) > 0:
		return fmt.Sprintf("include(%v,ordered=%v)", e.Include, e.Ordered)
	case len(e.Exclude) > 0:
		return fmt.Sprintf("exclude(%v)", e.Exclude)
	default:
		return "none"
	}
}

// Accepts implements poller.Wakeable: whether queueName falls inside this
// pool's queue expression (spec §4.4).
func (s *Scheduler) Accepts(queueName string) bool { return s.expr.Accepts(queueName) }

func (s *Scheduler) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// Poll implements poller.Wakeable. It attempts to claim and dispatch one
// job; if a slot remains afterward it immediately polls again to drain
// under load (spec §4.5: "If a candidate is found and slots remain,
// schedule the next poll immediately"). If no candidate locks, it returns
// and waits for the next external tick or notification.
func (s *Scheduler) Poll(ctx context.Context, immediate bool) {
	for {
		if s.isShuttingDown() || ctx.Err() != nil {
			return
		}
		if !s.sem.TryAcquire(1) {
			return
		}

		job, err := s.selectAndClaim(ctx)
		if err != nil {
			s.sem.Release(1)
			s.log.Error("candidate selection failed", "error", err)
			return
		}
		if job == nil {
			s.sem.Release(1)
			return
		}

		runCtx := context.WithoutCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.runner.Run(runCtx, job)
		}()

		// A slot may remain; drain rather than waiting for the next tick
		// (spec §4.5: "If a candidate is found and slots remain, schedule
		// the next poll immediately").
	}
}

// selectAndClaim runs one selection transaction (spec §4.5): reclaim stale
// claims, list ordered candidates, and attempt the per-row transaction
// advisory lock on each until one succeeds. Returns (nil, nil) if no
// candidate could be locked.
func (s *Scheduler) selectAndClaim(ctx context.Context) (*model.Job, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: begin selection tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := s.store.ReclaimStale(ctx, tx, s.staleWindow); err != nil {
		return nil, fmt.Errorf("scheduler: reclaim stale claims: %w", err)
	}

	candidates, err := s.store.Candidates(ctx, tx, s.filter, s.staleWindow, s.queueSelectLimit)
	if err != nil {
		return nil, fmt.Errorf("scheduler: select candidates: %w", err)
	}

	paused, err := s.pause.Load(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load pause snapshot: %w", err)
	}

	for _, candidate := range candidates {
		if paused.Paused(candidate.QueueName, candidate.JobClass) {
			continue // spec §8: a paused queue/class selects no jobs
		}
		acquired, err := s.lock.TryTransactionLockUUID(ctx, tx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("scheduler: advisory lock attempt: %w", err)
		}
		if !acquired {
			continue // another worker holds this row; try the next candidate
		}
		if err := s.store.Claim(ctx, tx, candidate.ID, s.workerID); err != nil {
			return nil, fmt.Errorf("scheduler: claim job %s: %w", candidate.ID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("scheduler: commit claim: %w", err)
		}
		committed = true
		workerID := s.workerID
		candidate.PerformedAt = timePtr()
		candidate.LockedByID = &workerID
		candidate.LockedAt = timePtr()
		candidate.ExecutionsCount++
		return candidate, nil
	}

	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("scheduler: rollback empty selection: %w", err)
	}
	committed = true
	return nil, nil
}

func timePtr() *time.Time {
	t := time.Now()
	return &t
}

// Shutdown marks the scheduler as shutting down (refusing new polls) and
// waits up to timeout for in-flight tasks to finish (spec §4.5). timeout
// < 0 waits forever; timeout == 0 returns immediately without waiting.
func (s *Scheduler) Shutdown(ctx context.Context, timeout time.Duration) ShutdownOutcome {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	if timeout == 0 {
		return ShutdownTimeout
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if timeout < 0 {
		<-done
		return ShutdownOK
	}

	select {
	case <-done:
		return ShutdownOK
	case <-time.After(timeout):
		return ShutdownTimeout
	}
}
