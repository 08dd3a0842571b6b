package model

import (
	"time"

	"github.com/google/uuid"
)

// Batch groups jobs for aggregate callbacks (spec §3). OnFinish, OnSuccess
// and OnDiscard each name a handler class, enqueued as callback jobs by
// the Batch Coordinator (spec §4.8); the class is resolved to a handler
// only when the Executor runs the callback job.
type Batch struct {
	ID                 uuid.UUID
	Description        string
	OnFinish           *string
	OnSuccess          *string
	OnDiscard          *string
	CallbackQueueName  string
	CallbackPriority   int
	EnqueuedAt         time.Time
	DiscardedAt        *time.Time
	JobsFinishedAt     *time.Time
	FinishedAt         *time.Time
}
