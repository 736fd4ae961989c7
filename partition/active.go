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
	"github.com/vastdb/vast/tableslice"
	"github.com/vastdb/vast/valueindex"
	"github.com/vastdb/vast/vfs"
	"github.com/vastdb/vast/vtype"
)

// ActiveOptions configures a fresh active partition.
type ActiveOptions struct {
	// MaxSegmentSize caps the compressed segment payload, mirroring
	// `max_segment_size`; 0 means unlimited.
	MaxSegmentSize int64
}

// FlushListener is notified once a partition finishes persisting,
// receiving the shrunken synopsis handed to the catalog. Supplements the
// spec's persist algorithm with the original implementation's flush
// notification hook used by downstream components (e.g. the catalog and
// metrics).
type FlushListener func(id uuid.UUID, syn *synopsis.PartitionSynopsis)

// Active is the exclusive-writer, in-memory partition state: it accepts
// table slices in non-decreasing offset order, feeds per-column
// indexers, a synopsis aggregator, and a segment builder, and persists
// atomically to become a Passive partition.
type Active struct {
	mu sync.Mutex

	id     uuid.UUID
	offset ids.ID
	hasOffset bool
	events uint64

	fields     []vtype.Field
	fieldSeen  map[string]bool

	typeIds map[string]*ids.Bitmap

	indexers     map[string]*valueindex.Indexer
	indexerOrder []string

	synopsis *synopsis.PartitionSynopsis
	builder  *segment.Builder

	opts ActiveOptions

	persisted bool
	listeners []FlushListener

	metrics metrics.Metrics
}

// NewActive starts a fresh active partition.
func NewActive(opts ActiveOptions) (*Active, error) {
	b, err := segment.NewBuilder(opts.MaxSegmentSize)
	if err != nil {
		return nil, fmt.Errorf("partition: new active: %w", err)
	}
	return &Active{
		id:        uuid.New(),
		offset:    ids.Invalid,
		fieldSeen: map[string]bool{},
		typeIds:   map[string]*ids.Bitmap{},
		indexers:  map[string]*valueindex.Indexer{},
		synopsis:  synopsis.NewPartitionSynopsis(),
		builder:   b,
		opts:      opts,
	}, nil
}

// ID returns the partition's identity.
func (a *Active) ID() uuid.UUID { return a.id }

// WithMetrics attaches the `partition.lookup.runtime`/`partition.lookup.hits`
// recorder used by Query, mirroring the accountant messages
// active_partition.cpp sends on every lookup. A nil Metrics (the default)
// disables recording.
func (a *Active) WithMetrics(m metrics.Metrics) *Active {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = m
	return a
}

// OnFlush registers a listener invoked after Persist succeeds.
func (a *Active) OnFlush(fn FlushListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Events reports how many rows have been ingested so far, the value the
// owning Index compares against `partition_capacity` to decide rotation.
func (a *Active) Events() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events
}

// MemoryUsage approximates the partition's resident footprint as the
// segment builder's accumulated payload bytes; indexer and synopsis
// overhead grows proportionally and is not tracked separately.
func (a *Active) MemoryUsage() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(len(a.builder.Bytes()))
}

// Status is the introspection record an active partition reports.
type Status struct {
	Name        string
	MemoryUsage uint64
	ID          uuid.UUID
	Events      uint64
	Persisted   bool
}

// Status reports the partition's current state for introspection.
func (a *Active) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Name:        "active-partition",
		MemoryUsage: uint64(len(a.builder.Bytes())),
		ID:          a.id,
		Events:      a.events,
		Persisted:   a.persisted,
	}
}

// Append ingests one table slice: it widens the import-time window,
// extends the per-type row bitmap, feeds every column's synopsis and
// value index, and hands the payload to the segment builder. Slices
// must arrive with monotonically non-decreasing offset per type.
func (a *Active) Append(s tableslice.Slice) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.persisted {
		return fmt.Errorf("partition: append to persisted partition %s", a.id)
	}

	// Step 1: import time range.
	a.synopsis.ObserveImportTime(s.ImportTime())

	// Step 2: type-ids bitmap, zero-padded up to the slice's offset.
	typeName := s.Schema().Name()
	tb, ok := a.typeIds[typeName]
	if !ok {
		tb = ids.New()
		a.typeIds[typeName] = tb
	}
	if s.Offset() < tb.Len() {
		return fmt.Errorf("partition: slice offset %d precedes type bitmap length %d for type %q", s.Offset(), tb.Len(), typeName)
	}
	if pad := s.Offset() - tb.Len(); pad > 0 {
		tb.AppendBits(false, pad)
	}
	tb.AppendBits(true, s.Rows())

	// Step 3: partition offset/events bookkeeping.
	if !a.hasOffset || s.Offset() < a.offset {
		a.offset = s.Offset()
		a.hasOffset = true
	}
	a.events += s.Rows()

	// Steps 4-5: synopsis and per-column indexers.
	for c, f := range s.Schema().Fields() {
		col := s.Column(c)
		if !a.fieldSeen[f.Name] {
			a.fieldSeen[f.Name] = true
			a.fields = append(a.fields, f)
		}
		sc, ok := a.synopsis.Columns[f.Name]
		if !ok {
			sc = synopsis.NewColumn(f.Type, s.Rows())
			a.synopsis.Columns[f.Name] = sc
		}
		sc.Add(col)

		ix, ok := a.indexers[f.Name]
		if !ok {
			ix = valueindex.New(f.Type)
			a.indexers[f.Name] = ix
			a.indexerOrder = append(a.indexerOrder, f.Name)
		}
		if err := ix.Append(col, s.Offset()); err != nil {
			return fmt.Errorf("partition: index field %q: %w", f.Name, err)
		}
	}

	// Step 6: segment payload.
	ok2, err := a.builder.Add(s)
	if err != nil {
		return fmt.Errorf("partition: segment add: %w", err)
	}
	if !ok2 {
		return fmt.Errorf("partition: segment capacity exceeded, partition should have rotated before this append")
	}
	return nil
}

// Ids returns the union of every contained type's row-id bitmap, which by
// the type-ids exhaustiveness invariant equals the partition's full
// row-id set.
func (a *Active) Ids() *ids.Bitmap {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idsLocked()
}

func (a *Active) idsLocked() *ids.Bitmap {
	out := ids.New()
	for _, b := range a.typeIds {
		out = ids.Union(out, b)
	}
	return out
}

func (a *Active) schemaLocked() vtype.Schema {
	return vtype.NewSchema("", a.fields...)
}

func (a *Active) indexMapLocked() map[string]expr.FieldIndex {
	out := make(map[string]expr.FieldIndex, len(a.indexers))
	for name, ix := range a.indexers {
		out[name] = ix
	}
	return out
}

// Query evaluates q against the partition's in-memory indexers and
// segment builder. Active and passive partitions share this algorithm;
// an active partition simply reads its live indexers instead of ones
// loaded from a chunk.
func (a *Active) Query(q query.Query) (uint64, error) {
	m := a.metrics
	var timer metrics.Timer
	if m != nil {
		timer = m.Timer("partition.lookup.runtime")
		timer.Start()
	}
	n, err := a.queryLocked(q)
	if m != nil {
		timer.Stop()
		m.Counter("partition.lookup.hits").Add(n)
	}
	return n, err
}

func (a *Active) queryLocked(q query.Query) (uint64, error) {
	a.mu.Lock()
	universe := a.idsLocked()
	var hits *ids.Bitmap
	if q.Ids != nil && !q.Ids.IsEmpty() {
		hits = q.Ids
	} else {
		tailored := expr.Tailor(q.Expr, a.schemaLocked(), nil)
		var err error
		hits, err = expr.Evaluate(tailored, a.indexMapLocked(), universe)
		if err != nil {
			a.mu.Unlock()
			return 0, err
		}
	}
	if c, ok := q.Cmd.(query.Count); ok && c.Mode == query.CountEstimate {
		n := hits.Count()
		a.mu.Unlock()
		if c.Sink != nil {
			c.Sink.Count(n)
		}
		return n, nil
	}
	snapshot := a.builder.Finish()
	a.mu.Unlock()

	slices, err := snapshot.Lookup(hits)
	if err != nil {
		return 0, err
	}
	delegated := q
	delegated.Ids = hits
	return query.HandleLookup(delegated, slices)
}

// Persist freezes the partition onto disk: snapshot indexers, shrink
// the synopsis, serialize the combined schema
// and artifact, write the segment file, the synopsis sidecar, and the
// artifact itself, in that order, then hand the shrunken synopsis to the
// caller (normally the catalog).
func (a *Active) Persist(fs *vfs.Filesystem, partDir, synopsisDir string) (*synopsis.PartitionSynopsis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.persisted {
		return nil, fmt.Errorf("partition: %s already persisted", a.id)
	}

	// Step 2: snapshot every indexer, preserving field insertion order.
	chunks := make([]indexerChunk, 0, len(a.indexerOrder))
	for _, name := range a.indexerOrder {
		data, err := a.indexers[name].Serialize()
		if err != nil {
			return nil, fmt.Errorf("partition: serialize indexer %q: %w", name, err)
		}
		chunks = append(chunks, indexerChunk{Field: name, Chunk: data})
	}

	// Step 3: shrink and stamp the synopsis.
	a.synopsis.Shrink()
	a.synopsis.Offset = uint64(a.offset)
	a.synopsis.Events = a.events

	// Step 4: combined schema.
	schema := a.schemaLocked()

	// Type-ids map.
	typeIds := make(map[string][]byte, len(a.typeIds))
	for name, b := range a.typeIds {
		data, err := b.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("partition: marshal type-ids %q: %w", name, err)
		}
		typeIds[name] = data
	}

	synBytes, err := a.synopsis.Serialize()
	if err != nil {
		return nil, fmt.Errorf("partition: serialize synopsis: %w", err)
	}

	// Step 6: write the segment file.
	segPath := segmentPath(partDir, a.id)
	if err := fs.Write(segPath, a.builder.Bytes()); err != nil {
		return nil, PersistError{Reason: fmt.Sprintf("write segment: %v", err)}
	}
	storeHeader, err := encodeStoreHeader(segPath, a.builder.Entries())
	if err != nil {
		return nil, PersistError{Reason: fmt.Sprintf("encode store header: %v", err)}
	}

	// Step 7: synopsis sidecar, failure is non-fatal.
	_ = fs.Write(synopsisSidecarPath(synopsisDir, a.id), synBytes)

	// Step 5+8: serialize and write the partition artifact.
	artifact := Artifact{
		ID:            a.id,
		Offset:        a.offset,
		Events:        a.events,
		IndexerChunks: chunks,
		Schema:        schema,
		TypeIds:       typeIds,
		Synopsis:      synBytes,
		StoreHeader:   storeHeader,
	}
	encoded, err := EncodeArtifact(artifact)
	if err != nil {
		return nil, PersistError{Reason: err.Error()}
	}
	if err := fs.Write(artifactPath(partDir, a.id), encoded); err != nil {
		return nil, PersistError{Reason: fmt.Sprintf("write artifact: %v", err)}
	}

	a.persisted = true
	result := a.synopsis
	for _, l := range a.listeners {
		l(a.id, result)
	}
	return result, nil
}

// PersistError is returned on any fatal write error during Persist; the
// partition retains its in-memory data so a retry is possible.
type PersistError struct{ Reason string }

func (e PersistError) Error() string { return fmt.Sprintf("partition: persist failed: %s", e.Reason) }
