package dispatchq

import "time"

// Config configures an Engine. dispatchq never reads the environment
// itself (spec §1 Non-goals: "configuration loading" is an external
// collaborator); cmd/dispatchqd loads these fields from the process
// environment the way consolidated-worker-go/main.go loads its own.
type Config struct {
	// Queues is a queue expression, optionally multiple ";"-separated
	// pools (spec §4.5). "*" (the default) means one pool covering every
	// queue.
	Queues string
	// MaxProcesses is the default slot count for a pool whose expression
	// has no trailing ":N" suffix.
	MaxProcesses int

	// PollInterval is the poller's wake period (spec §4.4, §6):
	// positive means tick every interval, negative means continuous
	// (re-poll immediately), zero means notify-only (polling disabled).
	PollInterval time.Duration
	// EnableListenNotify turns on the LISTEN/NOTIFY notifier (spec §4.3).
	EnableListenNotify bool
	// NotifierChannel overrides the default LISTEN/NOTIFY channel name.
	NotifierChannel string

	// EnableCron turns on the Cron Manager's ticker (spec §4.7).
	EnableCron bool
	// CronGracefulRestartPeriod bounds how far back the Cron Manager
	// looks for missed occurrences on startup (spec §4.7). Zero disables
	// catch-up beyond the manager's default one-hour lookback.
	CronGracefulRestartPeriod time.Duration

	// QueueSelectLimit bounds how many candidate rows one selection pass
	// considers (spec §4.5). Zero uses scheduler.DefaultQueueSelectLimit.
	QueueSelectLimit int

	// EnablePauses turns on queue/class pause and cron disabled-key
	// checks against the setting store (spec §6).
	EnablePauses bool
	// AdvisoryLockHeartbeat selects advisory-lock-backed process liveness
	// instead of plain heartbeat timestamps (spec §3, §4.10).
	AdvisoryLockHeartbeat bool

	// CleanupInterval is how often Cleanup sweeps (spec §4.11). Zero uses
	// cleanup.Cleanup's one-hour default.
	CleanupInterval time.Duration
	// CleanupPreservedJobsBefore is the horizon: finished rows older than
	// this are eligible for deletion (spec §4.11). Zero uses a 14-day
	// default, matching the spec's stated default horizon.
	CleanupPreservedJobsBefore time.Duration
	// CleanupDiscardedJobs additionally deletes discarded (errored) rows;
	// otherwise they are preserved for forensics (spec §4.11).
	CleanupDiscardedJobs bool
	// PreserveJobRecords disables the Cleanup loop entirely when true.
	PreserveJobRecords bool

	// ShutdownTimeout bounds how long Shutdown waits for in-flight jobs
	// (spec §4.5, §5). Negative waits forever; zero uses
	// DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// DefaultCleanupHorizon is the spec's stated default cleanup horizon
// (spec §4.11: "default 14 days").
const DefaultCleanupHorizon = 14 * 24 * time.Hour

// DefaultShutdownTimeout matches the teacher's own River shutdown timeout
// (consolidated-worker-go/main.go: "30 second timeout").
const DefaultShutdownTimeout = 30 * time.Second

func (c Config) cleanupHorizon() time.Duration {
	if c.CleanupPreservedJobsBefore > 0 {
		return c.CleanupPreservedJobsBefore
	}
	return DefaultCleanupHorizon
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout != 0 {
		return c.ShutdownTimeout
	}
	return DefaultShutdownTimeout
}
