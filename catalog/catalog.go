// Package catalog implements the in-memory map from partition id to
// partition synopsis, and the resolve() operation that prunes candidate
// partitions for a query without loading them.
package catalog

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/synopsis"
	"github.com/vastdb/vast/vtype"
)

// Catalog is single-owner, serialized state; readers get stable
// snapshots of individual PartitionSynopsis values rather than the whole
// map. A registered synopsis is never mutated in place, so handing out
// the pointer is safe.
type Catalog struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*synopsis.PartitionSynopsis
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{entries: map[uuid.UUID]*synopsis.PartitionSynopsis{}}
}

// Register publishes a partition's synopsis, normally called right after
// partition.Active.Persist hands its shrunken synopsis to the engine.
func (c *Catalog) Register(id uuid.UUID, syn *synopsis.PartitionSynopsis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = syn
}

// Remove drops a partition's entry, called once it has been fully
// retired (disk-monitor deletion, or an eraser sweep that emptied it).
func (c *Catalog) Remove(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Lookup returns the synopsis registered for id, if any.
func (c *Catalog) Lookup(id uuid.UUID) (*synopsis.PartitionSynopsis, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	syn, ok := c.entries[id]
	return syn, ok
}

// Len reports how many partitions are currently catalogued.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IDs returns every catalogued partition id, in no particular order.
func (c *Catalog) IDs() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

// Result pairs the candidate partition ids for an expression with the
// expression itself, pruned of whatever Resolve already decided.
type Result struct {
	Candidates []uuid.UUID
	Tailored   expr.Expression
}

// Resolve evaluates e's per-field predicates against each partition's
// synopsis and its meta-predicates against synopsis metadata (only
// import_time, checked against the min/max import time; other meta names
// are treated as maybe): a synopsis
// returning definitely-no removes the partition from the candidate set;
// maybe-yes keeps it. The returned expression has already-resolved meta
// predicates pruned (replaced with the vacuously-true literal) so
// per-partition evaluation doesn't redo that work; field predicates are
// left untouched here since only the partition itself knows its own
// schema (expr.Tailor handles that step once a candidate is loaded).
func (c *Catalog) Resolve(e expr.Expression) Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	resolvedMeta := resolvableMetaNames(e)
	var candidates []uuid.UUID
	for id, syn := range c.entries {
		if mightMatch(e, syn) {
			candidates = append(candidates, id)
		}
	}
	return Result{Candidates: candidates, Tailored: pruneMeta(e, resolvedMeta)}
}

// resolvableMetaNames collects every Meta predicate name in e; the
// catalog can resolve "import_time" (against min/max import time) and
// leaves any other meta name for the partition to interpret.
func resolvableMetaNames(e expr.Expression) map[string]bool {
	out := map[string]bool{}
	var walk func(expr.Expression)
	walk = func(n expr.Expression) {
		switch v := n.(type) {
		case expr.Meta:
			if v.Name == "import_time" {
				out[v.Name] = true
			}
		case expr.Conjunction:
			for _, o := range v.Operands {
				walk(o)
			}
		case expr.Disjunction:
			for _, o := range v.Operands {
				walk(o)
			}
		case expr.Negation:
			walk(v.Operand)
		}
	}
	walk(e)
	return out
}

// pruneMeta replaces every resolved Meta predicate with Literal(true),
// mirroring expr.Tailor's meta-pruning half without requiring a concrete
// per-partition schema (field predicates are left as-is: only the
// partition knows whether its schema has that field).
func pruneMeta(e expr.Expression, resolved map[string]bool) expr.Expression {
	switch n := e.(type) {
	case expr.Meta:
		if resolved[n.Name] {
			return expr.Literal(true)
		}
		return n
	case expr.Conjunction:
		ops := make([]expr.Expression, len(n.Operands))
		for i, o := range n.Operands {
			ops[i] = pruneMeta(o, resolved)
		}
		return expr.And(ops...)
	case expr.Disjunction:
		ops := make([]expr.Expression, len(n.Operands))
		for i, o := range n.Operands {
			ops[i] = pruneMeta(o, resolved)
		}
		return expr.Or(ops...)
	case expr.Negation:
		return expr.Not(pruneMeta(n.Operand, resolved))
	default:
		return e
	}
}

// mightMatch conservatively evaluates e against a partition's synopsis:
// false means the partition definitely cannot contribute a matching row
// (the candidate is dropped); true means "maybe" and the partition is
// kept for full per-column evaluation. No false negatives: when in doubt
// (unrecognized meta name, negation of a non-trivial operand) this
// always returns true.
func mightMatch(e expr.Expression, syn *synopsis.PartitionSynopsis) bool {
	switch n := e.(type) {
	case expr.Literal:
		return bool(n)
	case expr.Predicate:
		return syn.MightContain(n.Field, n.Op, n.Value)
	case expr.Meta:
		return metaMightMatch(n, syn)
	case expr.Conjunction:
		for _, o := range n.Operands {
			if !mightMatch(o, syn) {
				return false
			}
		}
		return true
	case expr.Disjunction:
		for _, o := range n.Operands {
			if mightMatch(o, syn) {
				return true
			}
		}
		return len(n.Operands) == 0
	case expr.Negation:
		// A synopsis answers "could this partition contain a row
		// matching P?", not "could it contain a row failing P?"; proving
		// definitely-no for a negation would require the opposite
		// guarantee, which synopses don't offer. Conservatively keep.
		return true
	default:
		return true
	}
}

// metaMightMatch resolves a Meta predicate against the partition-level
// metadata carried by every synopsis (min/max import time, offset,
// events). Only "import_time" is interpreted; any other meta name is
// treated as "maybe" so the partition gets a chance to interpret it.
func metaMightMatch(m expr.Meta, syn *synopsis.PartitionSynopsis) bool {
	if m.Name != "import_time" || m.Value.Kind != vtype.Time {
		return true
	}
	t := m.Value.Time
	min, max := syn.MinImportTime, syn.MaxImportTime
	switch m.Op {
	case vtype.Equal:
		return !t.Before(min) && !t.After(max)
	case vtype.NotEqual:
		return true
	case vtype.Less:
		return min.Before(t)
	case vtype.LessEqual:
		return !min.After(t)
	case vtype.Greater:
		return max.After(t)
	case vtype.GreaterEqual:
		return !max.Before(t)
	default:
		return true
	}
}
