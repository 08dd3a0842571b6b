// Package proctracker implements the Process Tracker (spec §4.10): creates
// a process row for this worker when Start runs (creation is not deferred
// to first use), refreshes it
// every 30s, and optionally backs its liveness with a held session
// advisory lock rather than a heartbeat timestamp. Grounded on the
// teacher's ScheduledJobScheduler ticker loop (consolidated-worker-go/
// scheduled_jobs_worker.go) reused here for the heartbeat cadence instead
// of due-job polling, and on internal/advisorylock's session-lock pair for
// the advisory liveness mode.
package proctracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civic-os/dispatchq/internal/advisorylock"
	"github.com/civic-os/dispatchq/internal/store"
	"github.com/civic-os/dispatchq/model"
)

// HeartbeatInterval is how often the tracker refreshes its process row
// (spec §4.10).
const HeartbeatInterval = 30 * time.Second

// HeartbeatStaleWindow is how far behind a heartbeat-type process's
// updated_at may fall before another process's reaper considers it dead
// (spec §4.10).
const HeartbeatStaleWindow = 5 * time.Minute

// StateFunc returns the current state payload to publish on each
// heartbeat, e.g. queue pool occupancy.
type StateFunc func() map[string]any

// Tracker maintains this worker's process row.
type Tracker struct {
	store    *store.Store
	lock     *advisorylock.Manager
	id       uuid.UUID
	lockType model.LockType
	state    StateFunc
	log      *slog.Logger
	sessConn *pgxpool.Conn
	sessKey  int64
}

// New builds a Tracker for process id. lockType selects heartbeat-based or
// advisory-lock-based liveness (spec §3, §4.10); state may be nil.
func New(st *store.Store, lock *advisorylock.Manager, id uuid.UUID, lockType model.LockType, state StateFunc, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if state == nil {
		state = func() map[string]any { return nil }
	}
	return &Tracker{
		store:    st,
		lock:     lock,
		id:       id,
		lockType: lockType,
		state:    state,
		log:      logger.With("component", "proctracker", "process_id", id),
	}
}

// Start creates (or refreshes) the process row up front rather than on
// first use and, for advisory lock type, acquires a dedicated connection
// and holds the session lock on hashtext(id) on it for the tracker's
// lifetime (spec §4.10).
func (t *Tracker) Start(ctx context.Context) error {
	if _, err := t.store.InsertProcess(ctx, t.store.Pool(), t.id, t.lockType, t.state()); err != nil {
		return err
	}
	if t.lockType != model.LockTypeAdvisory {
		return nil
	}

	conn, err := t.store.Pool().Acquire(ctx)
	if err != nil {
		return err
	}
	var key int64
	if err := conn.QueryRow(ctx, `SELECT hashtext($1)::bigint`, t.id.String()).Scan(&key); err != nil {
		conn.Release()
		return err
	}
	acquired, err := t.lock.TrySessionLock(ctx, conn.Conn(), key)
	if err != nil {
		conn.Release()
		return err
	}
	if !acquired {
		conn.Release()
		t.log.Warn("advisory liveness lock already held by another connection for this process id")
		return nil
	}
	t.sessConn = conn
	t.sessKey = key
	return nil
}

// Run heartbeats every HeartbeatInterval until ctx is cancelled, then
// deletes the process row on the way out (spec §4.10: clean shutdown).
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.store.Heartbeat(ctx, t.store.Pool(), t.id, t.state()); err != nil {
				t.log.Error("heartbeat failed", "error", err)
			}
		case <-ctx.Done():
			t.Stop(context.WithoutCancel(ctx))
			return
		}
	}
}

// Stop releases the advisory session lock (if held) and deletes the
// process row.
func (t *Tracker) Stop(ctx context.Context) {
	if t.sessConn != nil {
		if err := t.lock.ReleaseSessionLock(ctx, t.sessConn.Conn(), t.sessKey); err != nil {
			t.log.Error("release session lock failed", "error", err)
		}
		t.sessConn.Release()
		t.sessConn = nil
	}
	if err := t.store.DeleteProcess(ctx, t.store.Pool(), t.id); err != nil {
		t.log.Error("delete process row failed", "error", err)
	}
}

// ReapStaleHeartbeats deletes heartbeat-type process rows whose heartbeat
// has gone stale (spec §4.10), as observed by any other running process —
// not just the one that owns a given row.
func ReapStaleHeartbeats(ctx context.Context, st *store.Store, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stale, err := st.StaleHeartbeatProcesses(ctx, st.Pool(), HeartbeatStaleWindow)
	if err != nil {
		return 0, err
	}
	for _, p := range stale {
		if err := st.DeleteProcess(ctx, st.Pool(), p.ID); err != nil {
			logger.Error("reap stale process failed", "process_id", p.ID, "error", err)
			continue
		}
	}
	return len(stale), nil
}
