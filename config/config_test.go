package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/vasterr"
	"github.com/vastdb/vast/vtype"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vast.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadInjectsDefaults(t *testing.T) {
	path := writeSettings(t, `
database:
  path: /var/lib/vast
partition:
  capacity: 1000000
eraser:
  retention:
    since_seconds: 3600
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Partition.CacheSize != defaultCacheSize {
		t.Fatalf("CacheSize = %d, want default %d", s.Partition.CacheSize, defaultCacheSize)
	}
	if s.DiskMonitor.ScanIntervalSeconds != defaultScanIntervalSeconds {
		t.Fatalf("ScanIntervalSeconds = %d, want default %d", s.DiskMonitor.ScanIntervalSeconds, defaultScanIntervalSeconds)
	}
	if s.Eraser.IntervalSeconds != defaultEraserIntervalSeconds {
		t.Fatalf("Eraser.IntervalSeconds = %d, want default %d", s.Eraser.IntervalSeconds, defaultEraserIntervalSeconds)
	}
	if s.Eraser.Retention.Field != defaultRetentionField {
		t.Fatalf("Retention.Field = %q, want %q", s.Eraser.Retention.Field, defaultRetentionField)
	}
	if s.Eraser.Retention.Op != defaultRetentionOp {
		t.Fatalf("Retention.Op = %q, want %q", s.Eraser.Retention.Op, defaultRetentionOp)
	}

	eng := s.EngineOptions()
	if eng.PartitionCapacity != 1000000 {
		t.Fatalf("EngineOptions().PartitionCapacity = %d, want 1000000", eng.PartitionCapacity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !vasterr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestEraserOptionsBuildsRetentionPredicate(t *testing.T) {
	path := writeSettings(t, `
eraser:
  interval_seconds: 30
  retention:
    field: import_time
    op: ">="
    since_seconds: 86400
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	opts, err := s.EraserOptions(now)
	if err != nil {
		t.Fatalf("EraserOptions: %v", err)
	}
	if opts.Interval != 30*time.Second {
		t.Fatalf("Interval = %v, want 30s", opts.Interval)
	}
	pred, ok := opts.Query.(expr.Predicate)
	if !ok {
		t.Fatalf("opts.Query = %T, want expr.Predicate", opts.Query)
	}
	if pred.Field != "import_time" || pred.Op != vtype.GreaterEqual {
		t.Fatalf("pred = %+v, want field import_time op >=", pred)
	}
}

func TestEraserOptionsRejectsZeroRetention(t *testing.T) {
	path := writeSettings(t, `
eraser:
  retention:
    field: import_time
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.EraserOptions(time.Now()); !vasterr.IsInvalidQuery(err) {
		t.Fatalf("expected InvalidQuery, got %v", err)
	}
}

func TestParseOpRejectsUnknown(t *testing.T) {
	if _, err := parseOp("~="); !vasterr.IsInvalidQuery(err) {
		t.Fatalf("expected InvalidQuery, got %v", err)
	}
}
