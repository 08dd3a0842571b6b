package wire

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	sched := now.Add(2 * time.Second)

	tests := []struct {
		name string
		in   Payload
	}{
		{
			name: "minimal",
			in: Payload{
				JobClass:   "billing::ChargeCard",
				JobID:      "11111111-1111-1111-1111-111111111111",
				QueueName:  "default",
				Priority:   0,
				Arguments:  []any{},
				EnqueuedAt: now,
			},
		},
		{
			name: "full",
			in: Payload{
				JobClass:            "billing::ChargeCard",
				JobID:               "22222222-2222-2222-2222-222222222222",
				QueueName:           "payments",
				Priority:            5,
				Arguments:           []any{map[string]any{"amount": float64(100)}},
				Executions:          2,
				ExceptionExecutions: map[string]int{"ArgumentError": 1},
				EnqueuedAt:          now,
				ScheduledAt:         &sched,
				Locale:              "en",
				Timezone:            "UTC",
				ConcurrencyKey:      "user:42",
				Labels:              []string{"urgent", "retry-ok"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.JobClass != tt.in.JobClass || decoded.JobID != tt.in.JobID ||
				decoded.QueueName != tt.in.QueueName || decoded.Priority != tt.in.Priority {
				t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, tt.in)
			}
			if len(decoded.Labels) != len(tt.in.Labels) {
				t.Fatalf("labels mismatch: got %v, want %v", decoded.Labels, tt.in.Labels)
			}
		})
	}
}

func TestCanonicalClass(t *testing.T) {
	tests := []struct{ native, want string }{
		{"billing.ChargeCard", "billing::ChargeCard"},
		{"app/jobs/send_email", "app::jobs::send_email"},
		{"already::canonical", "already::canonical"},
	}
	for _, tt := range tests {
		if got := CanonicalClass(tt.native); got != tt.want {
			t.Errorf("CanonicalClass(%q) = %q, want %q", tt.native, got, tt.want)
		}
	}
}

func TestNotificationPayloadRoundTrip(t *testing.T) {
	s, err := EncodeNotification("default")
	if err != nil {
		t.Fatalf("EncodeNotification: %v", err)
	}
	n, err := DecodeNotification(s)
	if err != nil {
		t.Fatalf("DecodeNotification: %v", err)
	}
	if n.QueueName != "default" {
		t.Fatalf("got queue_name %q, want %q", n.QueueName, "default")
	}
}
