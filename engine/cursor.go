package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/partition"
	"github.com/vastdb/vast/query"
	"github.com/vastdb/vast/tableslice"
)

// Cursor is the Index's caller-paced extract surface: instead of pushing
// every matching slice at once the way Query does, a cursor delivers up
// to the number of rows the caller asked for and then parks until the
// next Extract call, evaluating pending partitions lazily as its slice
// cache drains.
type Cursor struct {
	idx      *Index
	orig     expr.Expression
	tailored expr.Expression
	policy   query.ExtractPolicy

	mu        sync.Mutex
	active    *partition.Active // snapshot at open time; nil once evaluated
	pending   []uuid.UUID       // catalog candidates not yet evaluated
	cache     []tableslice.Slice
	requested uint64
	delivered uint64
	errs      []PartitionError
}

// OpenCursor resolves e's candidate partitions through the catalog and
// returns a parked cursor over them plus the current active partition.
// Nothing is evaluated until the first Extract call.
func (idx *Index) OpenCursor(e expr.Expression, policy query.ExtractPolicy) *Cursor {
	if e == nil {
		e = expr.Literal(true)
	}
	idx.mu.Lock()
	active := idx.active
	idx.mu.Unlock()
	res := idx.cat.Resolve(e)
	return &Cursor{
		idx:      idx,
		orig:     e,
		tailored: res.Tailored,
		policy:   policy,
		active:   active,
		pending:  res.Candidates,
	}
}

// Extract delivers up to n more rows to sink and reports how many rows it
// actually delivered, plus whether the cursor is exhausted. A slice
// straddling the n-row boundary is split: the head is delivered now, the
// tail re-queued for the next call. Once done is true, further calls
// deliver nothing.
func (c *Cursor) Extract(n uint64, sink query.Sink) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested += n

	var delivered uint64
	for delivered < n {
		if len(c.cache) == 0 && !c.refillLocked() {
			break
		}
		s := c.cache[0]
		c.cache = c.cache[1:]

		remaining := n - delivered
		if s.Rows() <= remaining {
			sink.Slice(s)
			delivered += s.Rows()
			continue
		}

		all := s.Ids().ToSlice()
		head := tableslice.Select(s, ids.FromSorted(all[:remaining]...))
		tail := tableslice.Select(s, ids.FromSorted(all[remaining:]...))
		if head != nil {
			sink.Slice(head)
			delivered += head.Rows()
		}
		if tail != nil {
			c.cache = append([]tableslice.Slice{tail}, c.cache...)
		}
	}
	c.delivered += delivered
	done := len(c.cache) == 0 && c.active == nil && len(c.pending) == 0
	return delivered, done
}

// refillLocked evaluates pending partitions until the slice cache is
// non-empty or every source is exhausted, reporting whether any slices
// are now available. The active partition is drained first, then catalog
// candidates in resolve order; a failing partition is recorded and
// skipped, matching Query's per-partition error policy.
func (c *Cursor) refillLocked() bool {
	for len(c.cache) == 0 {
		if c.active != nil {
			p := c.active
			c.active = nil
			c.runLocked(p.ID(), p, c.orig)
			continue
		}
		if len(c.pending) == 0 {
			return false
		}
		id := c.pending[0]
		c.pending = c.pending[1:]
		p, err := c.idx.getPassive(id)
		if err != nil {
			c.idx.logger.Warnf("engine: cursor: loading partition %s: %v", id, err)
			c.errs = append(c.errs, PartitionError{PartitionID: id, Err: err})
			continue
		}
		c.runLocked(id, p, c.tailored)
	}
	return true
}

func (c *Cursor) runLocked(id uuid.UUID, p interface {
	Query(query.Query) (uint64, error)
}, e expr.Expression) {
	sink := &sliceCollector{}
	q := query.New(e, nil, query.Extract{Policy: c.policy, Sink: sink})
	if _, err := p.Query(q); err != nil {
		c.idx.logger.Warnf("engine: cursor: partition %s: %v", id, err)
		c.errs = append(c.errs, PartitionError{PartitionID: id, Err: err})
		return
	}
	c.cache = append(c.cache, sink.slices...)
}

// Progress reports how many rows have been requested across every
// Extract call so far, and how many were actually delivered.
func (c *Cursor) Progress() (requested, delivered uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested, c.delivered
}

// Errors returns the per-partition failures recorded so far, in the
// order they occurred.
func (c *Cursor) Errors() []PartitionError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PartitionError(nil), c.errs...)
}
