// Package poller implements the Poller (spec §4.4): a timer that wakes
// registered schedulers on a fixed interval, and filters notifier messages
// by each scheduler's queue expression before forwarding them. Grounded on
// the teacher's time.Ticker-driven loop in scheduled_jobs_worker.go's
// ScheduledJobScheduler (run-once-then-tick, done channel, ctx.Done()).
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Wakeable is implemented by internal/scheduler.Scheduler; kept as a small
// interface here so poller does not import scheduler.
type Wakeable interface {
	// Poll is invoked on every wake tick and on every notification this
	// scheduler's queue expression accepts. immediate is true when the
	// caller wants the next poll scheduled with zero delay (draining).
	Poll(ctx context.Context, immediate bool)
	// Accepts reports whether queueName is within this scheduler's queue
	// expression, so the poller can filter notifier fan-out per spec §4.4.
	Accepts(queueName string) bool
}

// Poller broadcasts :poll wake signals to every registered scheduler and
// relays filtered notifications.
type Poller struct {
	interval time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	schedulers map[int]Wakeable
	nextID     int
}

// New builds a Poller. A positive interval ticks at that period, a
// negative interval re-polls immediately (continuous), and zero disables
// polling entirely (notify-only mode, spec §4.4); Mode below classifies
// the three cases.
func New(interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		interval:   interval,
		log:        logger.With("component", "poller"),
		schedulers: make(map[int]Wakeable),
	}
}

// PollMode classifies the configured poll_interval (spec §4.4, §6).
type PollMode int

const (
	PollModeInterval   PollMode = iota // positive interval
	PollModeContinuous                 // negative interval: re-poll immediately
	PollModeDisabled                   // zero: notify-only
)

// Mode classifies interval into a PollMode.
func Mode(interval time.Duration) PollMode {
	switch {
	case interval < 0:
		return PollModeContinuous
	case interval == 0:
		return PollModeDisabled
	default:
		return PollModeInterval
	}
}

// Register adds a scheduler to receive wake ticks and filtered
// notifications. The returned func unregisters it.
func (p *Poller) Register(s Wakeable) (unregister func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.schedulers[id] = s
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.schedulers, id)
		p.mu.Unlock()
	}
}

// NotifyQueue relays a notifier message to every registered scheduler whose
// queue expression accepts queueName (spec §4.4: "filters notifier messages
// by the scheduler's queue expression before forwarding").
func (p *Poller) NotifyQueue(ctx context.Context, queueName string) {
	for _, s := range p.snapshot() {
		if s.Accepts(queueName) {
			s.Poll(ctx, false)
		}
	}
}

func (p *Poller) snapshot() []Wakeable {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Wakeable, 0, len(p.schedulers))
	for _, s := range p.schedulers {
		out = append(out, s)
	}
	return out
}

// Run drives the wake-tick loop until ctx is cancelled. In continuous mode
// it polls back-to-back with no sleep; in disabled mode it returns
// immediately without ticking (notify-only).
func (p *Poller) Run(ctx context.Context) {
	switch Mode(p.interval) {
	case PollModeDisabled:
		p.log.Info("polling disabled, notify-only mode")
		return
	case PollModeContinuous:
		for ctx.Err() == nil {
			p.tick(ctx)
		}
		return
	default:
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	for _, s := range p.snapshot() {
		s.Poll(ctx, false)
	}
}
