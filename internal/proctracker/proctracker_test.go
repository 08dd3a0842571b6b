package proctracker

import (
	"testing"

	"github.com/google/uuid"

	"github.com/civic-os/dispatchq/model"
)

func TestNewDefaultsNilStateFunc(t *testing.T) {
	tr := New(nil, nil, uuid.New(), model.LockTypeHeartbeat, nil, nil)
	if tr.state == nil {
		t.Fatalf("expected a non-nil default state func")
	}
	if got := tr.state(); got != nil {
		t.Fatalf("default state func should return nil, got %v", got)
	}
}

func TestHeartbeatIntervalShorterThanStaleWindow(t *testing.T) {
	if HeartbeatInterval*2 >= HeartbeatStaleWindow {
		t.Fatalf("heartbeat interval must comfortably undercut the stale window to avoid false reaps")
	}
}
