// Package advisorylock wraps Postgres advisory locks (spec §4.1): a
// 64-bit-keyspace mutex that cooperates with ordinary SQL transactions.
// Grounded on the leader-election lock in the retrieval pack's swig
// package (pg_try_advisory_lock/pg_advisory_unlock around a leader row)
// generalized here to per-key transaction and session locks.
package advisorylock

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so callers can
// acquire a lock either on a pool connection or on a transaction they
// already hold.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
}

// Manager issues transaction- and session-scoped advisory lock attempts.
type Manager struct {
	log *slog.Logger
}

// New builds a Manager. logger may be nil, in which case slog.Default() is
// used.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{log: logger.With("component", "advisorylock")}
}

// KeyForText is a convenience for logging and tests only: the authoritative
// key used by every real lock attempt is computed server-side by
// hashtext($1) (spec §4.1), issued as part of the SQL in
// TryTransactionLockText/store queries, so that a Go-side hash mismatch can
// never diverge from what Postgres actually locked.
func KeyForText(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	// reinterpret the 64-bit FNV-1a sum as a signed int64; this is not the
	// value Postgres's hashtext() computes for s.
	return int64(h.Sum64())
}

// TryTransactionLock attempts pg_try_advisory_xact_lock(key) on tx. The
// lock is released automatically on commit or rollback; callers must issue
// the attempt and perform the guarded work on the very same transaction
// (spec §4.1 contract). Returning (false, nil) means "another worker holds
// this" and is not an error.
func (m *Manager) TryTransactionLock(ctx context.Context, tx Querier, key int64) (bool, error) {
	var acquired bool
	err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, key).Scan(&acquired)
	if err != nil {
		m.log.Error("transaction lock attempt failed", "key", key, "error", err)
		return false, nil
	}
	return acquired, nil
}

// TryTransactionLockText attempts pg_try_advisory_xact_lock(hashtext(key)),
// letting Postgres derive the integer key so it can never diverge from the
// lock Postgres actually takes (spec §4.1: "given a text key, the integer
// key is hashtext(text)").
func (m *Manager) TryTransactionLockText(ctx context.Context, tx Querier, key string) (bool, error) {
	var acquired bool
	err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, key).Scan(&acquired)
	if err != nil {
		m.log.Error("transaction lock attempt failed", "key", key, "error", err)
		return false, nil
	}
	return acquired, nil
}

// TryTransactionLockUUID attempts the transaction lock for a job UUID,
// deriving its bigint key the same way as TryTransactionLockText (spec
// §4.1: "given a job UUID the same hashing derives a stable bigint").
func (m *Manager) TryTransactionLockUUID(ctx context.Context, tx Querier, id fmt.Stringer) (bool, error) {
	return m.TryTransactionLockText(ctx, tx, id.String())
}

// TrySessionLock attempts pg_try_advisory_lock(key) on conn. The caller
// owns conn for the lifetime of the lock and must call ReleaseSessionLock
// on the same connection to unlock it.
func (m *Manager) TrySessionLock(ctx context.Context, conn Querier, key int64) (bool, error) {
	var acquired bool
	err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired)
	if err != nil {
		m.log.Error("session lock attempt failed", "key", key, "error", err)
		return false, nil
	}
	return acquired, nil
}

// ReleaseSessionLock releases a session-scoped advisory lock previously
// acquired with TrySessionLock, on the same connection.
func (m *Manager) ReleaseSessionLock(ctx context.Context, conn Querier, key int64) error {
	_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
	return err
}

// WithConn runs fn with a single checked-out pool connection, so session
// locks (which are connection-scoped) are acquired and released on the
// same physical connection. This mirrors the dedicated-connection pattern
// the teacher uses for the notifier (spec §4.3, §5).
func WithConn(ctx context.Context, pool *pgxpool.Pool, fn func(conn *pgxpool.Conn) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}
