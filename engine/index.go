// Package engine implements the Index: the single active partition
// accepting writes, a bounded LRU cache of recently-used passive
// partitions, and the query-routing algorithm that fans a query out
// across the active partition and the catalog's resolved candidates.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vastdb/vast/catalog"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/logging"
	"github.com/vastdb/vast/metrics"
	"github.com/vastdb/vast/partition"
	"github.com/vastdb/vast/query"
	"github.com/vastdb/vast/tableslice"
	"github.com/vastdb/vast/vasterr"
	"github.com/vastdb/vast/vfs"
)

// Options configures an Index.
type Options struct {
	// PartitionDir and SynopsisDir are the directories (relative to the
	// vfs.Filesystem root) partitions and synopsis sidecars are persisted
	// under.
	PartitionDir string
	SynopsisDir  string

	// Active configures every active partition the Index creates,
	// including the one replacing a just-rotated one.
	Active partition.ActiveOptions

	// PartitionCapacity is the event count that triggers rotation; 0
	// disables size-triggered rotation (only idle-flush rotates).
	PartitionCapacity uint64

	// IdleFlushInterval is how long the active partition may sit with
	// unflushed events before Run's background loop force-rotates it; 0
	// disables idle-flush rotation entirely.
	IdleFlushInterval time.Duration

	// CacheSize bounds the number of passive partitions kept mmap'd at
	// once. Defaults to 16 if <= 0.
	CacheSize int
}

// Index is the single owner of the current active partition and the
// bounded cache of passive partitions it has rotated out or reopened.
// Safe for concurrent use.
type Index struct {
	fs  *vfs.Filesystem
	cat *catalog.Catalog

	opts    Options
	logger  logging.Logger
	metrics metrics.Metrics

	mu         sync.Mutex
	active     *partition.Active
	lastAppend time.Time
	cache      *lru.Cache[uuid.UUID, *partition.Passive]

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Index with a fresh active partition. logger and m may
// be nil, in which case a no-op logger and an in-process Metrics are used.
func New(fs *vfs.Filesystem, cat *catalog.Catalog, opts Options, logger logging.Logger, m metrics.Metrics) (*Index, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 16
	}
	if logger == nil {
		logger = logging.NoOp()
	}
	if m == nil {
		m = metrics.New()
	}

	idx := &Index{
		fs:      fs,
		cat:     cat,
		opts:    opts,
		logger:  logger,
		metrics: m,
		stop:    make(chan struct{}),
	}

	cache, err := lru.NewWithEvict[uuid.UUID, *partition.Passive](opts.CacheSize, idx.onEvict)
	if err != nil {
		return nil, fmt.Errorf("engine: new lru cache: %w", err)
	}
	idx.cache = cache
	idx.recoverCatalog()

	active, err := idx.newActiveLocked()
	if err != nil {
		return nil, err
	}
	idx.active = active
	idx.lastAppend = time.Now()
	return idx, nil
}

func (idx *Index) newActiveLocked() (*partition.Active, error) {
	a, err := partition.NewActive(idx.opts.Active)
	if err != nil {
		return nil, fmt.Errorf("engine: new active partition: %w", err)
	}
	a.WithMetrics(idx.metrics)
	return a, nil
}

func (idx *Index) onEvict(id uuid.UUID, p *partition.Passive) {
	if err := p.Close(); err != nil {
		idx.logger.Warnf("engine: closing evicted partition %s: %v", id, err)
	}
}

// Append ingests one table slice into the active partition, rotating it
// into a passive partition once its event count reaches
// PartitionCapacity.
func (idx *Index) Append(s tableslice.Slice) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.active.Append(s); err != nil {
		return fmt.Errorf("engine: append: %w", err)
	}
	idx.lastAppend = time.Now()

	if idx.opts.PartitionCapacity > 0 && idx.active.Events() >= idx.opts.PartitionCapacity {
		return idx.rotateLocked()
	}
	return nil
}

// rotateLocked persists the current active partition, registers its
// synopsis in the catalog, seeds the passive-partition cache with it, and
// replaces it with a fresh active partition. A no-op if the active
// partition is empty.
func (idx *Index) rotateLocked() error {
	if idx.active.Events() == 0 {
		return nil
	}
	id := idx.active.ID()
	syn, err := idx.active.Persist(idx.fs, idx.opts.PartitionDir, idx.opts.SynopsisDir)
	if err != nil {
		return fmt.Errorf("engine: rotate partition %s: %w", id, err)
	}
	idx.cat.Register(id, syn)
	idx.saveCatalogSnapshot()

	passive := partition.NewPassive(idx.fs, idx.opts.PartitionDir, idx.opts.SynopsisDir, id, syn)
	passive.WithMetrics(idx.metrics)
	idx.cache.Add(id, passive)

	next, err := idx.newActiveLocked()
	if err != nil {
		return fmt.Errorf("engine: start replacement active partition after rotating %s: %w", id, err)
	}
	idx.active = next

	idx.logger.WithField("partition", id.String()).Info("rotated active partition")
	idx.metrics.Counter("partition.rotate").Incr()
	return nil
}

// Flush force-rotates the active partition regardless of its event count,
// used by the idle-flush loop and by callers that need a consistent
// on-disk snapshot (e.g. before shutdown).
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.rotateLocked()
}

// Run starts the idle-flush background loop: every IdleFlushInterval it
// checks whether the active partition has gone that long without an
// Append and, if so, rotates it. A no-op if IdleFlushInterval is <= 0. Run
// returns immediately; cancel ctx or call Close to stop the loop.
func (idx *Index) Run(ctx context.Context) {
	if idx.opts.IdleFlushInterval <= 0 {
		return
	}
	idx.wg.Add(1)
	go idx.idleFlushLoop(ctx)
}

func (idx *Index) idleFlushLoop(ctx context.Context) {
	defer idx.wg.Done()
	ticker := time.NewTicker(idx.opts.IdleFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			idx.mu.Lock()
			due := idx.active.Events() > 0 && time.Since(idx.lastAppend) >= idx.opts.IdleFlushInterval
			idx.mu.Unlock()
			if due {
				if err := idx.Flush(); err != nil {
					idx.logger.Warnf("engine: idle flush failed: %v", err)
				}
			}
		case <-idx.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// closeFlushRetries bounds the final-flush watchdog: a persist that keeps
// failing this many times is abandoned and its error surfaced, rather
// than delaying shutdown forever.
const closeFlushRetries = 3

const closeFlushRetryDelay = 250 * time.Millisecond

// Close stops the idle-flush loop, if running, then persists any events
// still buffered in the active partition so a termination signal never
// drops ingested data. A failing persist is retried with a short delay,
// bounded by a watchdog; PersistError keeps the partition's in-memory
// state intact between attempts.
func (idx *Index) Close() error {
	select {
	case <-idx.stop:
	default:
		close(idx.stop)
	}
	idx.wg.Wait()

	var err error
	for attempt := 1; attempt <= closeFlushRetries; attempt++ {
		if err = idx.Flush(); err == nil {
			return nil
		}
		idx.logger.Warnf("engine: close: flush attempt %d/%d: %v", attempt, closeFlushRetries, err)
		time.Sleep(closeFlushRetryDelay)
	}
	return fmt.Errorf("engine: close: persist aborted: %w", err)
}

// getPassive returns the Passive partition for id, pulling it from the LRU
// cache or lazily reopening it from disk (cheap: only the `.mdx` sidecar
// is read, per partition.OpenPassive) and inserting it into the cache,
// whose eviction then closes whichever entry it displaces.
func (idx *Index) getPassive(id uuid.UUID) (*partition.Passive, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if p, ok := idx.cache.Get(id); ok {
		return p, nil
	}
	if _, ok := idx.cat.Lookup(id); !ok {
		return nil, vasterr.New(vasterr.NotFound, "partition %s is not catalogued", id)
	}
	p := partition.OpenPassive(idx.fs, idx.opts.PartitionDir, idx.opts.SynopsisDir, id)
	p.WithMetrics(idx.metrics)
	idx.cache.Add(id, p)
	return p, nil
}

// PartitionError records one partition's query-evaluation failure within
// an otherwise successful Query call: a single partition's error never
// fails the overall query, it is recorded here and the query completes
// with the union of the successful partitions' results.
type PartitionError struct {
	PartitionID uuid.UUID
	Err         error
}

func (e PartitionError) Error() string {
	return fmt.Sprintf("partition %s: %v", e.PartitionID, e.Err)
}

// Query evaluates q against the active partition and every catalog
// candidate for q.Expr. The active partition is always queried in full
// (it has no published synopsis yet), while passive partitions are
// pruned by catalog.Resolve first. A per-partition query error — active
// or passive — is logged, recorded, and skipped rather than aborting the
// whole call, so one damaged partition doesn't blind every other one; the
// returned total is the union of every partition that did succeed.
func (idx *Index) Query(q query.Query) (uint64, []PartitionError, error) {
	idx.mu.Lock()
	active := idx.active
	idx.mu.Unlock()

	var total uint64
	var errs []PartitionError

	n, err := active.Query(q)
	if err != nil {
		idx.logger.Warnf("engine: query: active partition %s: %v", active.ID(), err)
		errs = append(errs, PartitionError{PartitionID: active.ID(), Err: err})
	} else {
		total += n
	}

	res := idx.cat.Resolve(q.Expr)
	for _, id := range res.Candidates {
		p, err := idx.getPassive(id)
		if err != nil {
			idx.logger.Warnf("engine: query: loading candidate partition %s: %v", id, err)
			errs = append(errs, PartitionError{PartitionID: id, Err: err})
			continue
		}
		delegated := q
		delegated.Expr = res.Tailored
		n, err := p.Query(delegated)
		if err != nil {
			idx.logger.Warnf("engine: query: partition %s: %v", id, err)
			errs = append(errs, PartitionError{PartitionID: id, Err: err})
			continue
		}
		total += n
	}
	return total, errs, nil
}

// DeletePartition unconditionally erases every row of a catalogued
// partition and removes it from the catalog and cache, used by
// diskmonitor.Monitor's oldest-partition purge. The returned bitmap
// holds exactly the erased row ids.
func (idx *Index) DeletePartition(id uuid.UUID) (*ids.Bitmap, error) {
	p, err := idx.getPassive(id)
	if err != nil {
		return nil, err
	}
	universe, err := p.Ids()
	if err != nil {
		return nil, fmt.Errorf("engine: delete partition %s: %w", id, err)
	}
	if _, err := p.Erase(universe); err != nil {
		return nil, fmt.Errorf("engine: delete partition %s: %w", id, err)
	}
	idx.cat.Remove(id)
	idx.mu.Lock()
	idx.cache.Remove(id)
	idx.mu.Unlock()
	idx.saveCatalogSnapshot()
	return universe, nil
}

// Status is the introspection record the Index reports, like every
// other long-lived component.
type Status struct {
	Name        string
	MemoryUsage uint64

	ActivePartitionID   uuid.UUID
	ActiveEvents        uint64
	CataloguedPartition int
	CachedPartitions    int
}

// Status returns the Index's current state for introspection.
func (idx *Index) Status() Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return Status{
		Name:                "index",
		MemoryUsage:         idx.active.MemoryUsage(),
		ActivePartitionID:   idx.active.ID(),
		ActiveEvents:        idx.active.Events(),
		CataloguedPartition: idx.cat.Len(),
		CachedPartitions:    idx.cache.Len(),
	}
}
