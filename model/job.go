// Package model defines the persistent entities of the dispatch engine: Job,
// Execution, Batch, Process and Setting (spec §3). It has no database
// dependency of its own — internal/store owns the SQL — so it can be
// imported both by the root dispatchq package and by every internal
// subsystem without creating an import cycle.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ErrorEvent discriminates how a job's terminal (or retryable) failure
// should be interpreted. It is stored alongside Job.Error as
// job.error_event in spec §3.
type ErrorEvent string

const (
	ErrorEventHandled   ErrorEvent = "handled"
	ErrorEventUnhandled ErrorEvent = "unhandled"
	ErrorEventCancelled ErrorEvent = "cancelled"
	ErrorEventDiscarded ErrorEvent = "discarded"
	ErrorEventSnoozed   ErrorEvent = "snoozed"
)

// State is the derived (never stored) lifecycle state of a Job, computed
// per spec §3 from its timestamp and error columns.
type State string

const (
	StateScheduled State = "scheduled"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateDiscarded State = "discarded"
	StateRetryable State = "retryable"
)

// Job is a unit of scheduled work (spec §3).
type Job struct {
	ID               uuid.UUID
	ActiveJobID      uuid.UUID
	JobClass         string
	QueueName        string
	Priority         int
	SerializedParams []byte // opaque JSON payload, see wire.Payload
	ScheduledAt      *time.Time
	PerformedAt      *time.Time
	FinishedAt       *time.Time
	Error            *string
	ErrorEvent       *ErrorEvent
	ExecutionsCount  int
	ConcurrencyKey   *string
	CronKey          *string
	CronAt           *time.Time
	BatchID          *uuid.UUID
	BatchCallbackID  *uuid.UUID
	Labels           []string
	LockedByID       *uuid.UUID
	LockedAt         *time.Time
	RetriedGoodJobID *uuid.UUID
	CreatedAt        time.Time
}

// State derives the job's lifecycle state per spec §3. It is a pure
// function of the row's columns; no state is stored directly.
func (j *Job) State(now time.Time) State {
	switch {
	case j.FinishedAt == nil && j.PerformedAt == nil && j.ScheduledAt != nil && j.ScheduledAt.After(now):
		return StateScheduled
	case j.FinishedAt == nil && j.PerformedAt != nil:
		return StateRunning
	case j.FinishedAt == nil:
		return StateQueued
	case j.Error == nil:
		return StateSucceeded
	case j.ErrorEvent != nil && *j.ErrorEvent == ErrorEventDiscarded:
		return StateDiscarded
	default:
		return StateRetryable
	}
}

// Available reports whether the job is eligible for dequeue right now:
// unfinished, unperformed, and either unscheduled or due.
func (j *Job) Available(now time.Time) bool {
	if j.FinishedAt != nil || j.PerformedAt != nil {
		return false
	}
	return j.ScheduledAt == nil || !j.ScheduledAt.After(now)
}

// StaleClaim reports whether the job's advisory claim markers are older
// than the reclaim window (spec §4.5, default 60s) and should be cleared
// by the next scheduler selection pass.
func (j *Job) StaleClaim(now time.Time, window time.Duration) bool {
	return j.LockedAt != nil && now.Sub(*j.LockedAt) >= window
}
