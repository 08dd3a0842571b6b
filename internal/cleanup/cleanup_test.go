package cleanup

import (
	"testing"
	"time"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := New(nil, Config{Horizon: time.Hour}, nil)
	if c.cfg.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want default %d", c.cfg.BatchSize, DefaultBatchSize)
	}
	if c.cfg.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h default", c.cfg.Interval)
	}
}

func TestNewPreservesExplicitConfig(t *testing.T) {
	c := New(nil, Config{Horizon: 24 * time.Hour, BatchSize: 50, Interval: 5 * time.Minute, IncludeDiscarded: true}, nil)
	if c.cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", c.cfg.BatchSize)
	}
	if c.cfg.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", c.cfg.Interval)
	}
	if !c.cfg.IncludeDiscarded {
		t.Errorf("IncludeDiscarded should be preserved as true")
	}
}
