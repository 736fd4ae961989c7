package partition

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/metrics"
	"github.com/vastdb/vast/query"
	"github.com/vastdb/vast/segment"
	"github.com/vastdb/vast/synopsis"
	"github.com/vastdb/vast/valueindex"
	"github.com/vastdb/vast/vfs"
	"github.com/vastdb/vast/vtype"
)

// Passive is a read-only, mmap-backed partition reconstructed from a
// persisted artifact. Its indexers and segment store are loaded lazily on
// first use: a freshly started
// catalog knows a passive partition's identity and synopsis without
// paying for a full load until a query actually needs it.
type Passive struct {
	fs          *vfs.Filesystem
	partDir     string
	synopsisDir string
	id          uuid.UUID

	mu     sync.Mutex
	loaded bool

	syn            *synopsis.PartitionSynopsis
	synFromSidecar bool

	schema   vtype.Schema
	offset   ids.ID
	events   uint64
	indexers map[string]*valueindex.Indexer

	segPath string
	seg     *segment.Segment
	handle  *vfs.Handle

	metrics metrics.Metrics
}

// WithMetrics attaches the `partition.lookup.runtime`/`partition.lookup.hits`
// recorder used by Query; see Active.WithMetrics. A nil Metrics (the
// default) disables recording.
func (p *Passive) WithMetrics(m metrics.Metrics) *Passive {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
	return p
}

// NewPassive constructs a passive partition the caller already knows the
// synopsis for (the value Active.Persist just returned), skipping the
// sidecar read entirely.
func NewPassive(fs *vfs.Filesystem, partDir, synopsisDir string, id uuid.UUID, syn *synopsis.PartitionSynopsis) *Passive {
	return &Passive{fs: fs, partDir: partDir, synopsisDir: synopsisDir, id: id, syn: syn}
}

// OpenPassive reconstructs a passive partition purely from what's on disk,
// used when the catalog rescans the partition directory at startup. It
// opportunistically reads the `.mdx` sidecar for a cheap synopsis without
// touching the (larger) artifact or segment file; this value is
// provisional and is replaced by the embedded synopsis the first time
// the partition is actually loaded.
func OpenPassive(fs *vfs.Filesystem, partDir, synopsisDir string, id uuid.UUID) *Passive {
	p := &Passive{fs: fs, partDir: partDir, synopsisDir: synopsisDir, id: id}
	if data, err := fs.Read(synopsisSidecarPath(synopsisDir, id)); err == nil {
		if syn, err := synopsis.Deserialize(data); err == nil {
			p.syn = syn
			p.synFromSidecar = true
		}
	}
	return p
}

// ID returns the partition's identity.
func (p *Passive) ID() uuid.UUID { return p.id }

// ProvisionalSynopsis returns the cheapest synopsis available: the
// sidecar-sourced value when one was read at OpenPassive time, falling
// back to a full artifact load only when no sidecar existed. Intended
// for catalog warm-up at startup, where the sidecar's whole purpose is
// avoiding an mmap-scan of every partition; callers that need the
// authoritative embedded copy use Synopsis instead.
func (p *Passive) ProvisionalSynopsis() (*synopsis.PartitionSynopsis, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syn != nil {
		return p.syn, nil
	}
	if err := p.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return p.syn, nil
}

// Synopsis returns the partition's synopsis, loading the full artifact if
// necessary (e.g. if only the sidecar had been read so far, or if the
// partition was constructed via OpenPassive and never warmed).
func (p *Passive) Synopsis() (*synopsis.PartitionSynopsis, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syn != nil && !p.synFromSidecar {
		return p.syn, nil
	}
	if err := p.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return p.syn, nil
}

func (p *Passive) ensureLoadedLocked() error {
	if p.loaded {
		return nil
	}
	data, err := p.fs.Read(artifactPath(p.partDir, p.id))
	if err != nil {
		return fmt.Errorf("partition: load artifact %s: %w", p.id, err)
	}
	artifact, err := DecodeArtifact(data)
	if err != nil {
		return err
	}

	indexers := make(map[string]*valueindex.Indexer, len(artifact.IndexerChunks))
	for _, c := range artifact.IndexerChunks {
		ix, err := valueindex.Deserialize(c.Chunk)
		if err != nil {
			return fmt.Errorf("partition: load indexer %q: %w", c.Field, err)
		}
		indexers[c.Field] = ix
	}

	syn, err := synopsis.Deserialize(artifact.Synopsis)
	if err != nil {
		return fmt.Errorf("partition: load embedded synopsis: %w", err)
	}

	hdr, err := decodeStoreHeader(artifact.StoreHeader)
	if err != nil {
		return err
	}
	handle, err := p.fs.Mmap(hdr.Path)
	if err != nil {
		return fmt.Errorf("partition: mmap segment %s: %w", hdr.Path, err)
	}

	p.schema = artifact.Schema
	p.offset = artifact.Offset
	p.events = artifact.Events
	p.indexers = indexers
	p.syn = syn
	p.synFromSidecar = false
	p.segPath = hdr.Path
	p.seg = segment.Open(p.id, hdr.Entries, handle)
	p.handle = handle
	p.loaded = true
	return nil
}

func (p *Passive) indexMapLocked() map[string]expr.FieldIndex {
	out := make(map[string]expr.FieldIndex, len(p.indexers))
	for name, ix := range p.indexers {
		out[name] = ix
	}
	return out
}

// Ids returns the partition's full row-id set.
func (p *Passive) Ids() (*ids.Bitmap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return p.seg.Ids(), nil
}

// Query evaluates q against the partition: a non-empty query.Ids
// bypasses the indexers and goes
// straight to the segment store; otherwise the expression is tailored to
// the partition's schema and evaluated through the loaded indexers first,
// and only the resulting hit set is handed to the segment store.
func (p *Passive) Query(q query.Query) (uint64, error) {
	m := p.metrics
	var timer metrics.Timer
	if m != nil {
		timer = m.Timer("partition.lookup.runtime")
		timer.Start()
	}
	n, err := p.queryLocked(q)
	if m != nil {
		timer.Stop()
		m.Counter("partition.lookup.hits").Add(n)
	}
	return n, err
}

func (p *Passive) queryLocked(q query.Query) (uint64, error) {
	p.mu.Lock()
	if err := p.ensureLoadedLocked(); err != nil {
		p.mu.Unlock()
		return 0, err
	}

	// Pin the mapping before dropping the mutex: a concurrent Erase may
	// release the partition's own handle, and this extra reference is
	// what keeps the mapped region valid (and the pre-erase snapshot
	// readable) until seg.Lookup below has finished.
	ref := p.handle.Retain()
	seg := p.seg
	universe := seg.Ids()
	schema := p.schema
	idxMap := p.indexMapLocked()
	p.mu.Unlock()
	defer ref.Release()

	var hits *ids.Bitmap
	if q.Ids != nil && !q.Ids.IsEmpty() {
		hits = q.Ids
	} else {
		tailored := expr.Tailor(q.Expr, schema, nil)
		var err error
		hits, err = expr.Evaluate(tailored, idxMap, universe)
		if err != nil {
			return 0, err
		}
	}
	if c, ok := q.Cmd.(query.Count); ok && c.Mode == query.CountEstimate {
		n := hits.Count()
		if c.Sink != nil {
			c.Sink.Count(n)
		}
		return n, nil
	}
	slices, err := seg.Lookup(hits)
	if err != nil {
		return 0, err
	}
	delegated := q
	delegated.Ids = hits
	return query.HandleLookup(delegated, slices)
}

// Erase permanently removes every row in xs from the partition: if xs
// is a superset of the partition's own ids the whole partition is
// deleted outright; otherwise the segment is rewritten without those
// rows and atomically swapped into place via rename, so existing
// readers keep their consistent view of the old file until they release
// it.
func (p *Passive) Erase(xs *ids.Bitmap) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoadedLocked(); err != nil {
		return 0, err
	}

	universe := p.seg.Ids()
	if ids.IsSubset(universe, xs) {
		n := universe.Count()
		if p.handle != nil {
			if err := p.handle.Release(); err != nil {
				return 0, err
			}
			p.handle = nil
		}
		if err := p.fs.Erase(p.segPath); err != nil {
			return 0, fmt.Errorf("partition: erase segment %s: %w", p.segPath, err)
		}
		if err := p.fs.Erase(artifactPath(p.partDir, p.id)); err != nil {
			return 0, fmt.Errorf("partition: erase artifact %s: %w", p.id, err)
		}
		_ = p.fs.Erase(synopsisSidecarPath(p.synopsisDir, p.id))
		p.loaded = false
		p.seg = nil
		return n, nil
	}

	newSeg, raw, entries, err := segment.CopyWithoutBytes(p.seg, xs)
	if err != nil {
		return 0, fmt.Errorf("partition: copy_without: %w", err)
	}
	removed := universe.Count() - newSeg.Ids().Count()

	nextPath := p.segPath + ".next"
	if err := p.fs.Write(nextPath, raw); err != nil {
		return 0, fmt.Errorf("partition: write rewritten segment: %w", err)
	}
	if err := p.fs.Rename(nextPath, p.segPath); err != nil {
		return 0, fmt.Errorf("partition: swap rewritten segment into place: %w", err)
	}

	// Drop the now-stale mapping; the next query re-mmaps the renamed file.
	if p.handle != nil {
		_ = p.handle.Release()
		p.handle = nil
	}
	handle, err := p.fs.Mmap(p.segPath)
	if err != nil {
		return 0, fmt.Errorf("partition: remap rewritten segment: %w", err)
	}
	p.handle = handle
	p.seg = segment.Open(newSeg.ID, entries, handle)
	return removed, nil
}

// Status reports the partition's current state for introspection. A
// partition that has never been loaded reports zero events and zero
// memory usage; the record reflects only what is cheaply known, it never forces
// an artifact load.
func (p *Passive) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var mem uint64
	if p.loaded && p.seg != nil {
		mem = uint64(p.seg.Size())
	}
	return Status{
		Name:        "passive-partition",
		MemoryUsage: mem,
		ID:          p.id,
		Events:      p.events,
		Persisted:   true,
	}
}

// Close releases the partition's mmap handle, used when the owning
// engine's passive-partition cache evicts this entry.
func (p *Passive) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return nil
	}
	err := p.handle.Release()
	p.handle = nil
	p.loaded = false
	return err
}
