// Package notifier implements the Notifier (spec §4.3): a single long-lived
// connection LISTENing on a configurable channel, fanning out decoded
// notifications to subscribed recipients. Grounded on the teacher's
// dedicated-pool-connection style (consolidated-worker-go/main.go sizes
// its pgxpool explicitly) and the trigger-driven pg_notify payload in the
// retrieval pack's swig package ("swig_jobs" NOTIFY channel with a
// {id, queue, kind} JSON body) generalized to dispatchq's {queue_name}
// contract (spec §6).
package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civic-os/dispatchq/wire"
)

// DefaultChannel is the channel name used when configuration omits one
// (spec §4.3: default "good_job", generalized here to this engine's name).
const DefaultChannel = "dispatchq"

// degradedThreshold is the number of consecutive reconnect failures after
// which the notifier logs a single warning and flips to "degraded" until
// the next successful notification (spec §4.3).
const degradedThreshold = 6

// Recipient receives decoded notifications. Subscribers register with
// Subscribe and unregister with the returned cancel func; dispatchq calls
// unregister itself when a recipient goroutine exits.
type Recipient func(queueName string)

// Notifier is disabled (inert) when Enabled is false; recipients then rely
// on polling alone (spec §4.3, §4.4).
type Notifier struct {
	pool    *pgxpool.Pool
	channel string
	enabled bool
	log     *slog.Logger

	mu         sync.Mutex
	recipients map[int]Recipient
	nextID     int
	degraded   bool
	failures   int
}

// Config configures the Notifier.
type Config struct {
	Channel string
	Enabled bool
}

// New builds a Notifier. It does not connect until Run is called.
func New(pool *pgxpool.Pool, cfg Config, logger *slog.Logger) *Notifier {
	ch := cfg.Channel
	if ch == "" {
		ch = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pool:       pool,
		channel:    ch,
		enabled:    cfg.Enabled,
		log:        logger.With("component", "notifier", "channel", ch),
		recipients: make(map[int]Recipient),
	}
}

// Subscribe registers r to receive every decoded notification. The
// returned func unsubscribes r; callers must call it when they stop
// listening (spec §4.3: "unsubscribe on death").
func (n *Notifier) Subscribe(r Recipient) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.recipients[id] = r
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.recipients, id)
		n.mu.Unlock()
	}
}

// NotifyPool publishes pg_notify(channel, payload) using the pool directly.
// Call this right after a transaction that inserted an immediately-eligible
// job commits (spec §4.2).
func (n *Notifier) NotifyPool(ctx context.Context, queueName string) error {
	payload, err := wire.EncodeNotification(queueName)
	if err != nil {
		return err
	}
	_, err = n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, payload)
	return err
}

// Run listens on the dedicated connection until ctx is cancelled. It
// reconnects with unbounded retry on connection loss (spec §4.3). If
// disabled, Run returns immediately and recipients rely on polling alone.
func (n *Notifier) Run(ctx context.Context) {
	if !n.enabled {
		n.log.Info("listen/notify disabled, recipients rely on polling")
		return
	}
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.listenOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			n.recordFailure(err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (n *Notifier) recordFailure(err error) {
	n.mu.Lock()
	n.failures++
	if n.failures == degradedThreshold && !n.degraded {
		n.degraded = true
		n.log.Warn("notifier degraded after repeated reconnect failures", "failures", n.failures, "error", err)
	}
	n.mu.Unlock()
}

func (n *Notifier) resetFailures() {
	n.mu.Lock()
	n.failures = 0
	n.degraded = false
	n.mu.Unlock()
}

// Degraded reports whether the notifier is in its sticky degraded state.
func (n *Notifier) Degraded() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.degraded
}

func (n *Notifier) listenOnce(ctx context.Context) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+pgQuoteIdent(n.channel)); err != nil {
		return err
	}
	n.log.Info("listening")

	for {
		notif, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		n.resetFailures()
		payload, err := wire.DecodeNotification(notif.Payload)
		if err != nil {
			n.log.Error("failed to decode notification payload", "error", err, "payload", notif.Payload)
			continue
		}
		n.broadcast(payload.QueueName)
	}
}

func (n *Notifier) broadcast(queueName string) {
	n.mu.Lock()
	recipients := make([]Recipient, 0, len(n.recipients))
	for _, r := range n.recipients {
		recipients = append(recipients, r)
	}
	n.mu.Unlock()

	for _, r := range recipients {
		r(queueName)
	}
}

// pgQuoteIdent double-quotes an identifier for use in LISTEN/UNLISTEN,
// which do not accept parameter placeholders.
func pgQuoteIdent(ident string) string {
	out := make([]byte, 0, len(ident)+2)
	out = append(out, '"')
	for i := 0; i < len(ident); i++ {
		if ident[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, ident[i])
	}
	out = append(out, '"')
	return string(out)
}
