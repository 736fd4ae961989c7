// Package config loads the YAML/JSON settings document a vastd process is
// started with and turns it into the typed Options structs that engine,
// diskmonitor and eraser each take: a single typed struct decoded from
// the raw document, then validated and given defaults. Environment
// variable overrides (VAST_-prefixed) are layered on with spf13/viper.
package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vastdb/vast/diskmonitor"
	"github.com/vastdb/vast/engine"
	"github.com/vastdb/vast/eraser"
	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/partition"
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vasterr"
	"github.com/vastdb/vast/vtype"
)

const envPrefix = "vast"

// Settings is the on-disk settings document.
type Settings struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Partition struct {
		Capacity         uint64 `yaml:"capacity"`
		MaxSegmentSize   int64  `yaml:"max_segment_size"`
		IdleFlushSeconds int    `yaml:"idle_flush_seconds"`
		CacheSize        int    `yaml:"cache_size"`
	} `yaml:"partition"`

	DiskMonitor struct {
		HighWaterMarkBytes  int64 `yaml:"high_water_mark_bytes"`
		LowWaterMarkBytes   int64 `yaml:"low_water_mark_bytes"`
		ScanIntervalSeconds int   `yaml:"scan_interval_seconds"`
	} `yaml:"disk_monitor"`

	Eraser struct {
		IntervalSeconds int             `yaml:"interval_seconds"`
		Retention       RetentionPolicy `yaml:"retention"`
	} `yaml:"eraser"`
}

// RetentionPolicy describes the eraser's keep-rule: keep every row where
// Field Op (now - SinceSeconds) holds, drop the rest. This is deliberately
// narrower than a general query language (out of scope), but covers the
// common "drop anything older than N" retention rule.
type RetentionPolicy struct {
	Field        string `yaml:"field"`
	Op           string `yaml:"op"`
	SinceSeconds int64  `yaml:"since_seconds"`
}

const (
	defaultCacheSize             = 16
	defaultScanIntervalSeconds   = 60
	defaultEraserIntervalSeconds = 300
	defaultRetentionField        = "import_time"
	defaultRetentionOp           = ">="
)

// Load reads the settings document at path, decodes it with yaml.v3,
// layers any VAST_-prefixed environment variable overrides on top with
// viper, and injects defaults for whatever the document left unset.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, vasterr.New(vasterr.NotFound, "config: read %s: %v", path, err)
	}

	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, vasterr.New(vasterr.InvalidQuery, "config: parse %s: %v", path, err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	applyEnvOverrides(&s, v)
	injectDefaults(&s)
	return &s, nil
}

// applyEnvOverrides lets a handful of scalar settings be overridden at
// process start without touching the settings file on disk, the same role
// env.go's viper binding plays for OPA's CLI flags.
func applyEnvOverrides(s *Settings, v *viper.Viper) {
	if v.IsSet("partition_capacity") {
		s.Partition.Capacity = v.GetUint64("partition_capacity")
	}
	if v.IsSet("disk_monitor_high_water_mark_bytes") {
		s.DiskMonitor.HighWaterMarkBytes = v.GetInt64("disk_monitor_high_water_mark_bytes")
	}
	if v.IsSet("disk_monitor_low_water_mark_bytes") {
		s.DiskMonitor.LowWaterMarkBytes = v.GetInt64("disk_monitor_low_water_mark_bytes")
	}
	if v.IsSet("eraser_interval_seconds") {
		s.Eraser.IntervalSeconds = v.GetInt("eraser_interval_seconds")
	}
}

func injectDefaults(s *Settings) {
	if s.Partition.CacheSize <= 0 {
		s.Partition.CacheSize = defaultCacheSize
	}
	if s.DiskMonitor.ScanIntervalSeconds <= 0 {
		s.DiskMonitor.ScanIntervalSeconds = defaultScanIntervalSeconds
	}
	if s.Eraser.IntervalSeconds <= 0 {
		s.Eraser.IntervalSeconds = defaultEraserIntervalSeconds
	}
	if s.Eraser.Retention.Field == "" {
		s.Eraser.Retention.Field = defaultRetentionField
	}
	if s.Eraser.Retention.Op == "" {
		s.Eraser.Retention.Op = defaultRetentionOp
	}
}

// EngineOptions builds an engine.Options from the settings document.
func (s Settings) EngineOptions() engine.Options {
	return engine.Options{
		PartitionDir:      "index",
		SynopsisDir:       "index",
		Active:            partition.ActiveOptions{MaxSegmentSize: s.Partition.MaxSegmentSize},
		PartitionCapacity: s.Partition.Capacity,
		IdleFlushInterval: time.Duration(s.Partition.IdleFlushSeconds) * time.Second,
		CacheSize:         s.Partition.CacheSize,
	}
}

// DiskMonitorOptions builds a diskmonitor.Options from the settings document.
func (s Settings) DiskMonitorOptions() diskmonitor.Options {
	return diskmonitor.Options{
		HighWaterMark: s.DiskMonitor.HighWaterMarkBytes,
		LowWaterMark:  s.DiskMonitor.LowWaterMarkBytes,
		ScanInterval:  time.Duration(s.DiskMonitor.ScanIntervalSeconds) * time.Second,
	}
}

// EraserOptions builds an eraser.Options from the settings document, with
// the retention policy's relative cutoff resolved against now.
func (s Settings) EraserOptions(now time.Time) (eraser.Options, error) {
	q, err := s.RetentionQuery(now)
	if err != nil {
		return eraser.Options{}, err
	}
	return eraser.Options{
		Query:    q,
		Interval: time.Duration(s.Eraser.IntervalSeconds) * time.Second,
	}, nil
}

// RetentionQuery turns the settings document's retention policy into the
// predicate expression rows must satisfy to be kept.
func (s Settings) RetentionQuery(now time.Time) (expr.Expression, error) {
	r := s.Eraser.Retention
	if r.SinceSeconds <= 0 {
		return nil, vasterr.New(vasterr.InvalidQuery, "config: eraser.retention.since_seconds must be positive")
	}
	op, err := parseOp(r.Op)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-time.Duration(r.SinceSeconds) * time.Second)
	return expr.Predicate{Field: r.Field, Op: op, Value: value.OfTime(cutoff)}, nil
}

func parseOp(s string) (vtype.Op, error) {
	switch s {
	case ">=":
		return vtype.GreaterEqual, nil
	case ">":
		return vtype.Greater, nil
	case "<=":
		return vtype.LessEqual, nil
	case "<":
		return vtype.Less, nil
	case "==", "=":
		return vtype.Equal, nil
	case "!=":
		return vtype.NotEqual, nil
	default:
		return 0, vasterr.New(vasterr.InvalidQuery, "config: unknown retention operator %q", s)
	}
}
