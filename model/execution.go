package model

import (
	"time"

	"github.com/google/uuid"
)

// Execution is an immutable audit row per job attempt (spec §3). It is
// inserted with a nil FinishedAt at the start of an attempt and updated
// exactly once with terminal fields; it is never mutated afterward.
type Execution struct {
	ID               uuid.UUID
	ActiveJobID      uuid.UUID
	JobClass         string
	QueueName        string
	SerializedParams []byte
	ScheduledAt      *time.Time
	FinishedAt       *time.Time
	Error            *string
	ErrorEvent       *ErrorEvent
	ErrorBacktrace   []string
	ProcessID        *uuid.UUID
	Duration         time.Duration
	CreatedAt        time.Time
}
