package model

import (
	"time"

	"github.com/google/uuid"
)

// LockType selects how a Process record's liveness is established (spec §3).
type LockType int

const (
	// LockTypeHeartbeat treats the process as active while UpdatedAt is
	// within the last five minutes.
	LockTypeHeartbeat LockType = 0
	// LockTypeAdvisory treats the process as active while it holds a
	// session advisory lock on hash(id).
	LockTypeAdvisory LockType = 1
)

// Process is one row per running worker process (spec §3).
type Process struct {
	ID        uuid.UUID
	State     map[string]any
	LockType  LockType
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports liveness per spec §3: an advisory-lock process is active
// iff it holds the lock (the caller must check pg_locks separately); a
// heartbeat process is active iff its heartbeat is recent.
func (p *Process) Active(now time.Time, heartbeatWindow time.Duration, advisoryHeld bool) bool {
	if p.LockType == LockTypeAdvisory {
		return advisoryHeld
	}
	return now.Sub(p.UpdatedAt) <= heartbeatWindow
}
