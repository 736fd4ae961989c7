// Package diskmonitor implements the disk-size-triggered oldest-partition
// deletion loop: on a fixed scan interval, check the database
// directory's total size and, if it exceeds a high-water mark, repeatedly
// delete the oldest partition until usage falls back under a low-water
// mark.
package diskmonitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/logging"
	"github.com/vastdb/vast/metrics"
	"github.com/vastdb/vast/vfs"
)

// Options configures a Monitor.
type Options struct {
	// HighWaterMark is the total database size, in bytes, that triggers a
	// purge.
	HighWaterMark int64
	// LowWaterMark is the size a purge runs down to before stopping.
	LowWaterMark int64
	// ScanInterval is how often Run's background loop checks disk usage.
	ScanInterval time.Duration
}

// Index is the narrow view of engine.Index a Monitor needs: the ability to
// delete a whole partition by id, returning the erased row-id bitmap.
type Index interface {
	DeletePartition(id uuid.UUID) (*ids.Bitmap, error)
}

// Monitor watches a database directory's size and purges the oldest
// partitions when it grows past HighWaterMark.
type Monitor struct {
	fs      *vfs.Filesystem
	idx     Index
	partDir string
	opts    Options

	logger  logging.Logger
	metrics metrics.Metrics

	mu      sync.Mutex
	purging bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Monitor. logger and m may be nil.
func New(fs *vfs.Filesystem, idx Index, partDir string, opts Options, logger logging.Logger, m metrics.Metrics) *Monitor {
	if logger == nil {
		logger = logging.NoOp()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Monitor{fs: fs, idx: idx, partDir: partDir, opts: opts, logger: logger, metrics: m, stop: make(chan struct{})}
}

// Run starts the background scan loop; a no-op if ScanInterval is <= 0.
func (mon *Monitor) Run(ctx context.Context) {
	if mon.opts.ScanInterval <= 0 {
		return
	}
	mon.wg.Add(1)
	go mon.loop(ctx)
}

func (mon *Monitor) loop(ctx context.Context) {
	defer mon.wg.Done()
	ticker := time.NewTicker(mon.opts.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := mon.Tick(); err != nil {
				mon.logger.Warnf("diskmonitor: tick failed: %v", err)
			}
		case <-mon.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the background loop, if running, and waits for it to exit.
func (mon *Monitor) Close() error {
	select {
	case <-mon.stop:
	default:
		close(mon.stop)
	}
	mon.wg.Wait()
	return nil
}

// Tick checks the database directory's size and purges the oldest
// partitions if it exceeds HighWaterMark. If a purge is already in
// progress (only possible when Tick is also called manually while Run's
// loop is active) this call is a no-op, mirroring disk_monitor.cpp's
// `purging` guard; the guard is cleared on every exit path via defer, the
// Go analogue of its `shared_guard`.
func (mon *Monitor) Tick() error {
	mon.mu.Lock()
	if mon.purging {
		mon.mu.Unlock()
		mon.logger.Debug("diskmonitor: ignoring tick, a purge is already in progress")
		return nil
	}
	mon.purging = true
	mon.mu.Unlock()
	defer func() {
		mon.mu.Lock()
		mon.purging = false
		mon.mu.Unlock()
	}()

	size, err := mon.fs.DirSize(".")
	if err != nil {
		return fmt.Errorf("diskmonitor: compute db-directory size: %w", err)
	}
	if size <= mon.opts.HighWaterMark {
		return nil
	}
	mon.logger.WithField("bytes", size).Info("diskmonitor: above high water mark, purging oldest partitions")
	return mon.purgeUntilLow()
}

func (mon *Monitor) purgeUntilLow() error {
	for {
		size, err := mon.fs.DirSize(".")
		if err != nil {
			return fmt.Errorf("diskmonitor: compute db-directory size: %w", err)
		}
		if size <= mon.opts.LowWaterMark {
			return nil
		}

		id, ok, err := mon.oldestPartition()
		if err != nil {
			return fmt.Errorf("diskmonitor: find oldest partition: %w", err)
		}
		if !ok {
			mon.logger.Warn("diskmonitor: no partitions left to purge but still above low water mark")
			return nil
		}

		mon.logger.WithField("partition", id.String()).Info("diskmonitor: erasing oldest partition")
		erased, err := mon.idx.DeletePartition(id)
		if err != nil {
			return fmt.Errorf("diskmonitor: delete partition %s: %w", id, err)
		}
		mon.metrics.Counter("diskmonitor.partitions_purged").Incr()
		mon.metrics.Counter("diskmonitor.rows_purged").Add(erased.Count())
	}
}

// oldestPartition returns the id of the partition artifact under partDir
// with the oldest modification time.
func (mon *Monitor) oldestPartition() (uuid.UUID, bool, error) {
	entries, err := mon.fs.ListDir(mon.partDir)
	if err != nil {
		return uuid.UUID{}, false, err
	}

	var oldest vfs.DirEntry
	var oldestID uuid.UUID
	found := false
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name, ".part")
		if !ok {
			continue
		}
		id, err := uuid.Parse(name)
		if err != nil {
			continue
		}
		if !found || e.ModTime.Before(oldest.ModTime) {
			oldest = e
			oldestID = id
			found = true
		}
	}
	return oldestID, found, nil
}

// Status reports the Monitor's current state for introspection. The
// monitor holds no event data of its own, so MemoryUsage is always zero.
type Status struct {
	Name          string
	MemoryUsage   uint64
	Purging       bool
	HighWaterMark int64
	LowWaterMark  int64
}

func (mon *Monitor) Status() Status {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return Status{Name: "disk-monitor", Purging: mon.purging, HighWaterMark: mon.opts.HighWaterMark, LowWaterMark: mon.opts.LowWaterMark}
}
