// Package wire implements the cross-runtime serialized job payload (spec
// §6): the JSON shape that lets a job enqueued by one ecosystem be executed
// by another, so long as both agree on this contract.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload is the on-disk / on-wire contract for a job's serialized_params
// column (spec §6). Field order mirrors the spec's bullet list.
type Payload struct {
	JobClass             string         `json:"job_class"`
	JobID                string         `json:"job_id"`
	QueueName            string         `json:"queue_name"`
	Priority             int            `json:"priority"`
	Arguments            []any          `json:"arguments"`
	Executions           int            `json:"executions"`
	ExceptionExecutions  map[string]int `json:"exception_executions,omitempty"`
	EnqueuedAt           time.Time      `json:"enqueued_at"`
	ScheduledAt          *time.Time     `json:"scheduled_at,omitempty"`
	Locale               string         `json:"locale,omitempty"`
	Timezone             string         `json:"timezone,omitempty"`
	ConcurrencyKey       string         `json:"concurrency_key,omitempty"`
	Labels               []string       `json:"labels,omitempty"`
}

// CanonicalClass rewrites a native module-form class name (e.g. Go's
// "billing.ChargeCard") into the cross-runtime canonical form using "::"
// separators, per spec §6 ("job_class in serialized_params uses ::
// separators; the job_class column may use the native module form").
func CanonicalClass(native string) string {
	replacer := strings.NewReplacer(".", "::", "/", "::")
	return replacer.Replace(native)
}

// Encode marshals a Payload to its wire JSON form.
func Encode(p Payload) ([]byte, error) {
	if p.Arguments == nil {
		p.Arguments = []any{}
	}
	if p.Labels == nil {
		p.Labels = []string{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}
	return b, nil
}

// Decode parses a wire JSON payload back into a Payload. Integer-in-string
// coercion (used by throttle query parameters elsewhere in the engine) is
// not performed here; Decode is the strict half of the round-trip property
// in spec §8 ("decode(encode(x)) = x up to documented normalization").
func Decode(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("wire: decode payload: %w", err)
	}
	if p.Arguments == nil {
		p.Arguments = []any{}
	}
	if p.Labels == nil {
		p.Labels = []string{}
	}
	return p, nil
}

// DecodeArgument re-marshals p.Arguments[0] into T. Arguments is a []any
// decoded from JSON (spec §6), so its first element is already
// map[string]any-shaped; a marshal/unmarshal round trip is the simplest
// way to bind it to a concrete Go struct without hand-writing per-field
// extraction. Used by every typed handler registration (dispatchq's
// RegisterHandler[T] and the sample handlers in internal/handlers).
func DecodeArgument[T any](p Payload) (T, error) {
	var out T
	if len(p.Arguments) == 0 {
		return out, fmt.Errorf("wire: expected at least one argument, got none")
	}
	b, err := json.Marshal(p.Arguments[0])
	if err != nil {
		return out, fmt.Errorf("wire: re-marshal argument: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("wire: decode argument: %w", err)
	}
	return out, nil
}

// NotificationPayload is the JSON object sent over pg_notify on the
// notifier channel (spec §6).
type NotificationPayload struct {
	QueueName string `json:"queue_name"`
}

// EncodeNotification marshals a NotificationPayload for pg_notify.
func EncodeNotification(queueName string) (string, error) {
	b, err := json.Marshal(NotificationPayload{QueueName: queueName})
	if err != nil {
		return "", fmt.Errorf("wire: encode notification: %w", err)
	}
	return string(b), nil
}

// DecodeNotification parses a notifier channel payload.
func DecodeNotification(s string) (NotificationPayload, error) {
	var n NotificationPayload
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return NotificationPayload{}, fmt.Errorf("wire: decode notification: %w", err)
	}
	return n, nil
}
