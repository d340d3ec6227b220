package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRules_MissingFileReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	rules, err := LoadRules(filepath.Join(tmpDir, "pulseloop.yaml"))
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rules.QueueSize != 10000 {
		t.Errorf("QueueSize = %d, want default 10000", rules.QueueSize)
	}
	if rules.LatencyTarget != 16*time.Millisecond {
		t.Errorf("LatencyTarget = %v, want 16ms", rules.LatencyTarget)
	}
}

func TestLoadRules_ReadsYAMLDocument(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "pulseloop.yaml")
	doc := `
queue_size: 500
latency_target: 32ms
aggregation:
  filesystem:
    window: 2s
    max_batch_size: 10
monitors:
  cursor: 20ms
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rules.QueueSize != 500 {
		t.Errorf("QueueSize = %d, want 500", rules.QueueSize)
	}
	if rules.LatencyTarget != 32*time.Millisecond {
		t.Errorf("LatencyTarget = %v, want 32ms", rules.LatencyTarget)
	}
	rule, ok := rules.Aggregation["filesystem"]
	if !ok {
		t.Fatal("expected filesystem aggregation rule")
	}
	if rule.MaxBatchSize != 10 {
		t.Errorf("MaxBatchSize = %d, want 10", rule.MaxBatchSize)
	}
	if rules.Monitors.Cursor != 20*time.Millisecond {
		t.Errorf("Monitors.Cursor = %v, want 20ms", rules.Monitors.Cursor)
	}
}
