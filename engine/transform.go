package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/partition"
	"github.com/vastdb/vast/query"
	"github.com/vastdb/vast/tableslice"
)

// TransformStep names the rows a transform drops from each candidate
// partition. The retention sweep is the only current user, but the step
// is kept generic (a predicate rather than a hard-coded erase) so other
// partition-rewriting transforms can reuse ApplyTransform.
type TransformStep struct {
	// Drop selects the rows removed from a partition: the rows for which
	// Drop evaluates true are the ones erased.
	Drop expr.Expression
}

// TransformReport summarizes one ApplyTransform call.
type TransformReport struct {
	// Partitions lists every candidate partition a transform actually
	// touched (matched at least one row).
	Partitions []uuid.UUID
	// Created lists any brand-new partitions written by a keepOriginal
	// transform (empty when keepOriginal is false).
	Created []uuid.UUID
	// Dropped is the total number of rows removed across all partitions.
	Dropped uint64
	// Errors collects one error per candidate partition that failed,
	// without aborting the rest of the sweep.
	Errors []error
}

// idSink collects the union of row ids from every slice it is handed,
// used to turn a predicate into the row-id set it matches.
type idSink struct{ hits *ids.Bitmap }

func (s *idSink) Count(uint64)             {}
func (s *idSink) Slice(sl tableslice.Slice) { s.hits = ids.Union(s.hits, sl.Ids()) }

func matchingIds(p interface{ Query(query.Query) (uint64, error) }, e expr.Expression) (*ids.Bitmap, error) {
	sink := &idSink{hits: ids.New()}
	q := query.New(e, nil, query.Extract{Policy: query.PreserveIDs, Sink: sink})
	if _, err := p.Query(q); err != nil {
		return nil, err
	}
	return sink.hits, nil
}

// ApplyTransform applies step to every partition in candidateIDs.
// When keepOriginal is false (the only mode the eraser uses)
// a candidate is rewritten in place via partition.Passive.Erase,
// preserving its partition id; when true, the kept rows are instead
// written out as a brand-new partition and the original is left
// untouched, for transforms that must not destroy their input.
func (idx *Index) ApplyTransform(step TransformStep, candidateIDs []uuid.UUID, keepOriginal bool) (TransformReport, error) {
	var report TransformReport
	for _, id := range candidateIDs {
		p, err := idx.getPassive(id)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("partition %s: %w", id, err))
			continue
		}

		drop, err := matchingIds(p, step.Drop)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("partition %s: resolve drop set: %w", id, err))
			continue
		}
		if drop.IsEmpty() {
			continue
		}

		if !keepOriginal {
			n, err := p.Erase(drop)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("partition %s: erase: %w", id, err))
				continue
			}
			idx.refreshCatalogAfterErase(id, p)
			report.Partitions = append(report.Partitions, id)
			report.Dropped += n
			continue
		}

		newID, n, err := idx.writeReplacementPartition(p, drop)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("partition %s: write replacement: %w", id, err))
			continue
		}
		if n > 0 {
			report.Partitions = append(report.Partitions, id)
			report.Created = append(report.Created, newID)
			report.Dropped += n
		}
	}
	if len(report.Partitions) > 0 || len(report.Created) > 0 {
		idx.saveCatalogSnapshot()
	}
	return report, nil
}

// refreshCatalogAfterErase re-registers the partition's synopsis after a
// partial erase (stale bounds are possible but stay conservative: a
// synopsis built over a superset of the remaining rows never yields a
// false definitely-no), or
// drops it from the catalog and cache entirely if the erase deleted the
// whole partition.
func (idx *Index) refreshCatalogAfterErase(id uuid.UUID, p *partition.Passive) {
	// A whole-partition erase deletes the artifact, so reloading the ids
	// fails; the cached synopsis alone cannot tell the two cases apart.
	if _, err := p.Ids(); err == nil {
		if syn, err := p.Synopsis(); err == nil {
			idx.cat.Register(id, syn)
			return
		}
	}
	idx.cat.Remove(id)
	idx.mu.Lock()
	idx.cache.Remove(id)
	idx.mu.Unlock()
}

// writeReplacementPartition builds a fresh partition containing every row
// of p except those in drop, by replaying p's full contents through a new
// Active partition and keeping only the rows outside drop.
func (idx *Index) writeReplacementPartition(p *partition.Passive, drop *ids.Bitmap) (uuid.UUID, uint64, error) {
	universe, err := p.Ids()
	if err != nil {
		return uuid.UUID{}, 0, err
	}
	keep := ids.Difference(universe, drop)
	if keep.IsEmpty() {
		return uuid.UUID{}, 0, nil
	}

	sink := &sliceCollector{}
	q := query.New(nil, keep, query.Extract{Policy: query.PreserveIDs, Sink: sink})
	if _, err := p.Query(q); err != nil {
		return uuid.UUID{}, 0, err
	}
	kept := sink.slices

	replacement, err := idx.newActiveLocked()
	if err != nil {
		return uuid.UUID{}, 0, err
	}
	var n uint64
	for _, s := range kept {
		if err := replacement.Append(s); err != nil {
			return uuid.UUID{}, 0, fmt.Errorf("replay kept rows: %w", err)
		}
		n += s.Rows()
	}

	syn, err := replacement.Persist(idx.fs, idx.opts.PartitionDir, idx.opts.SynopsisDir)
	if err != nil {
		return uuid.UUID{}, 0, err
	}
	idx.cat.Register(replacement.ID(), syn)

	passive := partition.NewPassive(idx.fs, idx.opts.PartitionDir, idx.opts.SynopsisDir, replacement.ID(), syn)
	passive.WithMetrics(idx.metrics)
	idx.mu.Lock()
	idx.cache.Add(replacement.ID(), passive)
	idx.mu.Unlock()

	return replacement.ID(), drop.Count(), nil
}

// sliceCollector gathers every slice an Extract command hands it, used by
// writeReplacementPartition to materialize the kept rows of a partition.
type sliceCollector struct{ slices []tableslice.Slice }

func (c *sliceCollector) Count(uint64)            {}
func (c *sliceCollector) Slice(s tableslice.Slice) { c.slices = append(c.slices, s) }
