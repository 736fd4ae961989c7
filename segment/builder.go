package segment

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/tableslice"
)

// Builder accumulates table slices into a growing in-memory segment. It
// has a single writer and is capped at maxSize bytes of compressed
// payload, mirroring the active store's `max_segment_size` bound.
type Builder struct {
	id      uuid.UUID
	maxSize int64

	buf     []byte
	entries []Entry
	size    int64

	enc *zstd.Encoder
}

// NewBuilder starts a builder for a fresh segment, capped at maxSize
// bytes of compressed payload.
func NewBuilder(maxSize int64) (*Builder, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("segment: new zstd writer: %w", err)
	}
	return &Builder{id: uuid.New(), maxSize: maxSize, enc: enc}, nil
}

// Add appends one slice to the segment, compressing its encoded bytes.
// Returns false (without modifying the builder) if accepting the slice
// would exceed maxSize — the caller must rotate the partition to a fresh
// segment in that case. The first slice of an empty builder is always
// accepted, even when it alone exceeds maxSize.
func (b *Builder) Add(s tableslice.Slice) (bool, error) {
	raw, err := tableslice.Encode(s)
	if err != nil {
		return false, fmt.Errorf("segment: encode slice: %w", err)
	}
	compressed := b.enc.EncodeAll(raw, nil)
	if b.maxSize > 0 && b.size+int64(len(compressed)) > b.maxSize && len(b.entries) > 0 {
		return false, nil
	}

	rows := s.Rows()
	if rows == 0 {
		return true, nil
	}
	sliceIDs := s.Ids()
	entry := Entry{
		Min:    sliceIDs.Min(),
		Max:    sliceIDs.Max(),
		IDs:    sliceIDs,
		Offset: b.size,
		Length: int64(len(compressed)),
	}
	b.buf = append(b.buf, compressed...)
	b.entries = append(b.entries, entry)
	b.size += int64(len(compressed))
	return true, nil
}

// Ids returns the row-id union of every slice added so far.
func (b *Builder) Ids() *ids.Bitmap {
	bitmaps := make([]*ids.Bitmap, len(b.entries))
	for i, e := range b.entries {
		bitmaps[i] = e.IDs
	}
	return ids.Union(bitmaps...)
}

// Size reports the current compressed payload size in bytes.
func (b *Builder) Size() int64 { return b.size }

// Entries returns a copy of the row-id-range -> byte-range index built up
// so far, used by the partition persist algorithm to frame the segment
// file's store header.
func (b *Builder) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// NumSlices reports how many slices have been added so far.
func (b *Builder) NumSlices() int { return len(b.entries) }

// Finish freezes the builder into an immutable, in-memory Segment. The
// builder must not be reused afterward.
func (b *Builder) Finish() *Segment {
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return Open(b.id, entries, &MemBacking{Data: b.buf})
}

// Bytes returns the raw concatenated, compressed payload, suitable for
// writing to disk by the filesystem facade alongside a serialized index.
func (b *Builder) Bytes() []byte { return b.buf }

// CopyWithout rebuilds seg with every row in xs removed, the Go analogue
// of `segment::copy_without` used by the eraser and by passive-partition
// erase. Slices left empty after filtering are dropped entirely.
func CopyWithout(seg *Segment, xs *ids.Bitmap) (*Segment, error) {
	b, err := rebuildWithout(seg, xs)
	if err != nil {
		return nil, err
	}
	return b.Finish(), nil
}

// CopyWithoutBytes behaves like CopyWithout but also returns the rebuilt
// segment's raw compressed payload and entry index, for callers (e.g. the
// passive partition's erase path) that must write the result to disk
// through the filesystem facade rather than keep it in memory.
func CopyWithoutBytes(seg *Segment, xs *ids.Bitmap) (*Segment, []byte, []Entry, error) {
	b, err := rebuildWithout(seg, xs)
	if err != nil {
		return nil, nil, nil, err
	}
	return b.Finish(), b.Bytes(), b.Entries(), nil
}

func rebuildWithout(seg *Segment, xs *ids.Bitmap) (*Builder, error) {
	b, err := NewBuilder(0)
	if err != nil {
		return nil, err
	}
	b.id = seg.ID
	slices, err := seg.All()
	if err != nil {
		return nil, err
	}
	for _, s := range slices {
		keep := ids.Difference(s.Ids(), xs)
		if keep.IsEmpty() {
			continue
		}
		trimmed := tableslice.Select(s, keep)
		if trimmed == nil {
			continue
		}
		if _, err := b.Add(trimmed); err != nil {
			return nil, err
		}
	}
	return b, nil
}
