package cronsched

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/civic-os/dispatchq/internal/store"
	"github.com/civic-os/dispatchq/model"
	"github.com/civic-os/dispatchq/wire"
)

// RecurringSeries is an RRULE-based schedule (SPEC_FULL.md §4.7a, supplementing
// spec §4.7's plain cron entries): a series enqueues one job per occurrence
// between its last expansion point and ExpandHorizon, the same expand-ahead
// pattern as a cron entry's catch-up window but driven by RFC 5545 RRULE
// syntax instead of a 5-field expression. Grounded on the teacher's
// ExpandRecurringSeriesWorker (consolidated-worker-go/
// expand_recurring_series_worker.go), which parses an RRULE string with
// teambition/rrule-go and expands it in the series' own timezone for
// wall-clock DST-aware occurrences.
type RecurringSeries struct {
	Key           string // cron_key, one row per occurrence like a cron Entry
	RRULE         string // e.g. "FREQ=WEEKLY;BYDAY=MO"
	DTStart       time.Time
	Timezone      *time.Location // nil means UTC
	JobClass      string
	QueueName     string
	Priority      int
	Labels        []string
	Args          any
	ExpandHorizon time.Duration // how far past "now" to expand on each pass
}

// occurrences returns every RRULE occurrence in [since, until], expanded in
// the series' configured timezone and converted back to UTC for storage,
// mirroring the teacher's generateOccurrences/convertToUTC pair.
func occurrences(s RecurringSeries, since, until time.Time) ([]time.Time, error) {
	loc := s.Timezone
	if loc == nil {
		loc = time.UTC
	}

	localStart := s.DTStart.In(loc)
	localSince := since.In(loc)
	localUntil := until.In(loc)
	if localSince.Before(localStart) {
		localSince = localStart
	}

	rule, err := rrule.StrToRRule(s.RRULE)
	if err != nil {
		return nil, fmt.Errorf("cronsched: invalid RRULE %q for series %q: %w", s.RRULE, s.Key, err)
	}
	rule.DTStart(localStart)

	local := rule.Between(localSince, localUntil, true)
	out := make([]time.Time, len(local))
	for i, t := range local {
		wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
		out[i] = wall.UTC()
	}
	return out, nil
}

// ExpandRecurringSeries inserts one job per RRULE occurrence between
// now-s.ExpandHorizon and now+s.ExpandHorizon (24h when unset), relying on
// the same (cron_key, cron_at) unique index as plain cron entries to
// de-duplicate across repeated expansion passes. cron_key is s.Key for
// every occurrence and cron_at is the occurrence instant, so every
// occurrence gets its own unique pair.
func ExpandRecurringSeries(ctx context.Context, st *store.Store, s RecurringSeries, now time.Time) (int, error) {
	horizon := s.ExpandHorizon
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}
	occs, err := occurrences(s, now.Add(-horizon), now.Add(horizon))
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, occ := range occs {
		at := occ
		activeJobID := uuid.New()
		payload := wire.Payload{
			JobClass:    wire.CanonicalClass(s.JobClass),
			JobID:       activeJobID.String(),
			QueueName:   s.QueueName,
			Priority:    s.Priority,
			Arguments:   []any{s.Args},
			EnqueuedAt:  now,
			ScheduledAt: &at,
			Labels:      s.Labels,
		}
		params, err := wire.Encode(payload)
		if err != nil {
			return queued, fmt.Errorf("cronsched: encode payload for series %q at %s: %w", s.Key, at, err)
		}
		job := &model.Job{
			ActiveJobID:      activeJobID,
			JobClass:         s.JobClass,
			QueueName:        s.QueueName,
			Priority:         s.Priority,
			SerializedParams: params,
			ScheduledAt:      &at,
			CronKey:          &s.Key,
			CronAt:           &at,
			Labels:           s.Labels,
		}
		inserted, err := st.InsertCron(ctx, st.Pool(), job)
		if err != nil {
			return queued, fmt.Errorf("cronsched: insert occurrence for series %q at %s: %w", s.Key, at, err)
		}
		if inserted != nil {
			queued++
		}
	}
	return queued, nil
}
