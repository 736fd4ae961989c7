// Package eraser implements the retention sweep: on a fixed interval,
// resolve a retention query's candidate partitions through the catalog
// and erase every row that does not satisfy it.
package eraser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vastdb/vast/catalog"
	"github.com/vastdb/vast/engine"
	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/logging"
	"github.com/vastdb/vast/metrics"
	"github.com/vastdb/vast/vasterr"
)

// Options configures an Eraser.
type Options struct {
	// Query is the retention predicate: rows satisfying it are kept,
	// everything else is erased.
	Query expr.Expression
	// Interval is how often Run's background loop calls Tick. 0 disables
	// the background loop; Tick can still be invoked manually.
	Interval time.Duration
}

// Eraser periodically drops every row outside its retention query.
type Eraser struct {
	cat  *catalog.Catalog
	idx  *engine.Index
	opts Options

	logger  logging.Logger
	metrics metrics.Metrics

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Eraser. logger and m may be nil.
func New(cat *catalog.Catalog, idx *engine.Index, opts Options, logger logging.Logger, m metrics.Metrics) (*Eraser, error) {
	if opts.Query == nil {
		return nil, vasterr.New(vasterr.InvalidQuery, "eraser: retention query must not be empty")
	}
	if logger == nil {
		logger = logging.NoOp()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Eraser{cat: cat, idx: idx, opts: opts, logger: logger, metrics: m, stop: make(chan struct{})}, nil
}

// Run starts the background sweep loop; a no-op if Interval is <= 0.
func (e *Eraser) Run(ctx context.Context) {
	if e.opts.Interval <= 0 {
		return
	}
	e.wg.Add(1)
	go e.loop(ctx)
}

func (e *Eraser) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.Tick(); err != nil {
				e.logger.Warnf("eraser: tick failed: %v", err)
			}
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the background loop, if running, and waits for it to exit.
func (e *Eraser) Close() error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.wg.Wait()
	return nil
}

// Tick runs one retention sweep: build a drop transform from the
// retention query's negation, resolve that drop expression's candidate
// partitions via the catalog, then apply the transform to exactly those
// candidates, keeping the partition in place (keepOriginal=false) the way
// eraser.cpp always does.
func (e *Eraser) Tick() error {
	step := engine.TransformStep{Drop: expr.Not(e.opts.Query)}
	res := e.cat.Resolve(step.Drop)
	if len(res.Candidates) == 0 {
		e.logger.Debug("eraser: retention query resolved to no candidate partitions")
		return nil
	}

	report, err := e.idx.ApplyTransform(step, res.Candidates, false)
	if err != nil {
		return fmt.Errorf("eraser: apply transform: %w", err)
	}
	for _, perr := range report.Errors {
		e.logger.Warnf("eraser: partition sweep error: %v", perr)
	}
	e.metrics.Counter("eraser.rows_dropped").Add(report.Dropped)
	e.logger.WithFields(logging.Fields{
		"dropped":    report.Dropped,
		"partitions": len(report.Partitions),
	}).Info("eraser: retention sweep complete")
	return nil
}

// Status reports the Eraser's configuration for introspection. The
// eraser holds no event data of its own, so MemoryUsage is always zero.
type Status struct {
	Name        string
	MemoryUsage uint64
	Interval    time.Duration
}

func (e *Eraser) Status() Status {
	return Status{Name: "eraser", Interval: e.opts.Interval}
}
