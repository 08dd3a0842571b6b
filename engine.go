// Package dispatchq is a durable, concurrent job queue backed by a single
// PostgreSQL database (spec §1). Producers enqueue jobs with Enqueue;
// workers run an Engine, which dequeues jobs under advisory-lock
// protection, invokes handlers registered with RegisterHandler, and
// persists execution outcomes. Embedding code owns the database
// connection pool, configuration loading, and admin surface (spec §1
// Non-goals); dispatchq owns the dispatch engine itself.
package dispatchq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civic-os/dispatchq/internal/advisorylock"
	"github.com/civic-os/dispatchq/internal/batchcoord"
	"github.com/civic-os/dispatchq/internal/cleanup"
	"github.com/civic-os/dispatchq/internal/cronsched"
	"github.com/civic-os/dispatchq/internal/executor"
	"github.com/civic-os/dispatchq/internal/limiter"
	"github.com/civic-os/dispatchq/internal/notifier"
	"github.com/civic-os/dispatchq/internal/pause"
	"github.com/civic-os/dispatchq/internal/poller"
	"github.com/civic-os/dispatchq/internal/proctracker"
	"github.com/civic-os/dispatchq/internal/scheduler"
	"github.com/civic-os/dispatchq/internal/store"
	"github.com/civic-os/dispatchq/model"
)

// Engine wires every dispatch-engine component (spec §2) onto one
// database connection pool. Build one with NewEngine, register handlers
// and policies, then call Start.
type Engine struct {
	cfg      Config
	workerID uuid.UUID
	log      *slog.Logger

	pool  *pgxpool.Pool
	store *store.Store
	lock  *advisorylock.Manager

	notifier *notifier.Notifier
	poller   *poller.Poller
	pause    *pause.Checker

	limiter *limiter.Limiter
	concMu  sync.RWMutex
	concCfg map[string]limiter.ClassConfig

	registry *executor.Registry
	policies *executor.PolicyRegistry
	executor *executor.Executor
	batch    *batchcoord.Coordinator

	schedulers []*scheduler.Scheduler
	cron       *cronsched.Manager
	proc       *proctracker.Tracker
	cleanup    *cleanup.Cleanup

	cancel context.CancelFunc
	runWg  sync.WaitGroup
}

// NewEngine builds an Engine backed by pool. It does not start any
// background loop — call Start for that.
func NewEngine(pool *pgxpool.Pool, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Queues == "" {
		cfg.Queues = "*"
	}
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = 1
	}

	pools, err := scheduler.ParsePools(cfg.Queues)
	if err != nil {
		return nil, fmt.Errorf("dispatchq: parse queues %q: %w", cfg.Queues, err)
	}

	st := store.New(pool, logger)
	lock := advisorylock.New(logger)
	pauseChecker := pause.New(st, cfg.EnablePauses)
	lim := limiter.New(st, lock)
	registry := executor.NewRegistry()
	policies := executor.NewPolicyRegistry()
	batch := batchcoord.New(st, logger)
	workerID := uuid.New()

	e := &Engine{
		cfg:      cfg,
		workerID: workerID,
		log:      logger.With("component", "dispatchq", "worker_id", workerID),
		pool:     pool,
		store:    st,
		lock:     lock,
		pause:    pauseChecker,
		limiter:  lim,
		concCfg:  make(map[string]limiter.ClassConfig),
		registry: registry,
		policies: policies,
		batch:    batch,
	}

	e.notifier = notifier.New(pool, notifier.Config{
		Channel: cfg.NotifierChannel,
		Enabled: cfg.EnableListenNotify,
	}, logger)
	e.poller = poller.New(cfg.PollInterval, logger)

	e.executor = executor.New(st, policies, registry, lim, e.concurrencyConfigFor, batch, &workerID, logger)

	for _, ps := range pools {
		maxProcs := ps.MaxProcesses
		if maxProcs <= 0 {
			maxProcs = cfg.MaxProcesses
		}
		sched := scheduler.New(st, lock, e.executor, scheduler.Config{
			Expr:             ps.Expr,
			MaxProcesses:     maxProcs,
			QueueSelectLimit: cfg.QueueSelectLimit,
			WorkerID:         workerID,
			Pause:            pauseChecker,
		}, logger)
		e.schedulers = append(e.schedulers, sched)
	}

	if cfg.EnableCron {
		e.cron = cronsched.New(st, cfg.CronGracefulRestartPeriod, logger).WithPause(pauseChecker)
	}

	lockType := model.LockTypeHeartbeat
	if cfg.AdvisoryLockHeartbeat {
		lockType = model.LockTypeAdvisory
	}
	e.proc = proctracker.New(st, lock, workerID, lockType, e.processState, logger)

	if !cfg.PreserveJobRecords {
		e.cleanup = cleanup.New(st, cleanup.Config{
			Horizon:          cfg.cleanupHorizon(),
			IncludeDiscarded: cfg.CleanupDiscardedJobs,
			Interval:         cfg.CleanupInterval,
		}, logger)
	}

	return e, nil
}

// WorkerID is this engine's process identity, recorded on every job it
// claims and execution it records (spec §3 locked_by_id, §4.10).
func (e *Engine) WorkerID() uuid.UUID { return e.workerID }

// Store exposes the Job Store for callers (admin surfaces, tests) that
// need direct read access beyond Enqueue/RegisterHandler (spec §1
// Non-goals: the admin surface is an external collaborator).
func (e *Engine) Store() *store.Store { return e.store }

// Pause exposes the pause Checker so embedders can pause/unpause queues
// and classes (spec §6 "enable_pauses").
func (e *Engine) Pause() *pause.Checker { return e.pause }

// CronManager exposes the Cron Manager for Register/Unregister calls, or
// nil if Config.EnableCron is false.
func (e *Engine) CronManager() *cronsched.Manager { return e.cron }

func (e *Engine) processState() map[string]any {
	state := map[string]any{"queues": e.cfg.Queues}
	return state
}

// Start runs every background component (notifier, poller, schedulers,
// cron manager, process tracker, cleanup) until ctx is cancelled or
// Shutdown is called (spec §2 dependency order: leaves first).
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.proc.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("dispatchq: start process tracker: %w", err)
	}

	for _, s := range e.schedulers {
		e.poller.Register(s)
	}
	unsubscribe := e.notifier.Subscribe(func(queueName string) {
		e.poller.NotifyQueue(runCtx, queueName)
	})

	e.spawn(func() { e.notifier.Run(runCtx) })
	e.spawn(func() { e.poller.Run(runCtx) })
	e.spawn(func() { e.proc.Run(runCtx) })
	if e.cron != nil {
		e.spawn(func() { e.cron.Run(runCtx) })
	}
	if e.cleanup != nil {
		e.spawn(func() { e.cleanup.Run(runCtx) })
	}

	e.spawn(func() {
		<-runCtx.Done()
		unsubscribe()
	})

	e.log.Info("engine started", "queues", e.cfg.Queues, "pools", len(e.schedulers))
	return nil
}

func (e *Engine) spawn(fn func()) {
	e.runWg.Add(1)
	go func() {
		defer e.runWg.Done()
		fn()
	}()
}

// Shutdown stops accepting new work on every scheduler pool, waits up to
// Config.ShutdownTimeout for in-flight jobs, then cancels every
// background loop (spec §4.5, §5: "cooperative shutdown").
func (e *Engine) Shutdown(ctx context.Context) error {
	timeout := e.cfg.shutdownTimeout()
	for _, s := range e.schedulers {
		if outcome := s.Shutdown(ctx, timeout); outcome == scheduler.ShutdownTimeout {
			e.log.Warn("scheduler shutdown timed out", "timeout", timeout)
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.runWg.Wait()
	return nil
}
