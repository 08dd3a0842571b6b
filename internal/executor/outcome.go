// Package executor implements the Executor (spec §4.9): runs a claimed
// job's registered handler, normalizes whatever it returns into one of a
// small set of outcomes, and drives the job's (and its execution row's)
// terminal state accordingly — success, retryable error, discard, cancel,
// or snooze. Grounded on the teacher's ScheduledJobExecuteWorker (
// consolidated-worker-go/scheduled_jobs_worker.go's Work method), which
// records a run row before dispatch and a terminal update after, adapted
// here to dispatchq's own five-way outcome instead of River's plain
// error-or-nil worker contract.
package executor

import "time"

// Kind discriminates an Outcome (spec §4.9's outcome taxonomy).
type Kind int

const (
	KindSuccess Kind = iota
	KindError
	KindCancel
	KindDiscard
	KindSnooze
)

// Outcome is the tagged union a Handler returns to report what happened
// (spec §4.9): success (optionally carrying a value for the caller's own
// bookkeeping), a classifiable error, an unconditional cancel, an
// unconditional discard, or a snooze that reschedules without consuming a
// retry attempt.
type Outcome struct {
	Kind      Kind
	Value     any           // set on KindSuccess when the handler wants to return data
	Reason    string        // set on KindError/KindCancel/KindDiscard
	SnoozeFor time.Duration // set on KindSnooze
}

// Success reports the job completed with no result value.
func Success() Outcome { return Outcome{Kind: KindSuccess} }

// SuccessValue reports the job completed, carrying an arbitrary result.
func SuccessValue(v any) Outcome { return Outcome{Kind: KindSuccess, Value: v} }

// Err reports a classifiable failure; the Executor decides retry vs
// discard by consulting the job class's ClassPolicy (spec §4.9).
func Err(reason string) Outcome { return Outcome{Kind: KindError, Reason: reason} }

// Cancel reports the job should stop permanently without being treated as
// a failure for retry-count purposes, recorded with error_event=cancelled.
func Cancel(reason string) Outcome { return Outcome{Kind: KindCancel, Reason: reason} }

// Discard reports the job should stop permanently regardless of remaining
// attempts, with no particular reason recorded.
func Discard() Outcome { return Outcome{Kind: KindDiscard} }

// DiscardReason is Discard with an explanatory reason attached.
func DiscardReason(reason string) Outcome { return Outcome{Kind: KindDiscard, Reason: reason} }

// Snooze reschedules the job after d without consuming a retry attempt or
// recording an error (spec §4.9 step 7).
func Snooze(d time.Duration) Outcome { return Outcome{Kind: KindSnooze, SnoozeFor: d} }
