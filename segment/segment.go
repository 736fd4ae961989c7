// Package segment implements the row-oriented blob store holding the
// event payload for one partition: a concatenation of zstd-compressed
// table slices, plus an index mapping row-id ranges to byte ranges. The
// index is not part of the payload bytes; a persisted partition keeps it
// in its artifact's store header.
package segment

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/tableslice"
)

// Entry records where one slice's compressed bytes live within a
// segment's backing store. Min/Max bound the row ids the slice covers
// (used only as a cheap pre-decode overlap filter, see overlaps below) —
// IDs holds the slice's actual, possibly non-contiguous, row-id set, since
// a slice produced by erasing a punctured subset of an original run (see
// tableslice.Select) cannot be represented as a single [Min, Max] range.
type Entry struct {
	Min, Max ids.ID      // inclusive bound on the row ids covered by this slice
	IDs      *ids.Bitmap // exact row-id set covered by this slice
	Offset   int64       // byte offset into the backing store
	Length   int64       // compressed byte length
}

// Segment is an immutable sequence of table slices belonging to a single
// partition. Slice offsets inside a segment are disjoint; Ids() equals the
// union of the slices' row-id ranges.
type Segment struct {
	ID      uuid.UUID
	entries []Entry
	backing Backing
}

// Open wraps a backing store and its index into a queryable Segment. Used
// both by Builder.Finish (in-memory) and by a passive partition
// loading a persisted segment file.
func Open(id uuid.UUID, entries []Entry, backing Backing) *Segment {
	return &Segment{ID: id, entries: entries, backing: backing}
}

// NumSlices returns how many table slices this segment holds.
func (s *Segment) NumSlices() int { return len(s.entries) }

// Size returns the backing store's total byte length.
func (s *Segment) Size() int64 { return s.backing.Size() }

// Ids returns the union of every contained slice's exact row-id set.
func (s *Segment) Ids() *ids.Bitmap {
	bitmaps := make([]*ids.Bitmap, len(s.entries))
	for i, e := range s.entries {
		bitmaps[i] = e.IDs
	}
	return ids.Union(bitmaps...)
}

// Lookup returns every slice (trimmed to the requested ids where
// necessary) that overlaps xs. A slice entirely disjoint from
// xs is skipped without ever being decompressed.
func (s *Segment) Lookup(xs *ids.Bitmap) ([]tableslice.Slice, error) {
	var out []tableslice.Slice
	for _, e := range s.entries {
		if !overlaps(e, xs) {
			continue
		}
		slice, err := s.decode(e)
		if err != nil {
			return nil, err
		}
		if trimmed := tableslice.Select(slice, xs); trimmed != nil {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// All decodes and returns every contained slice, used by full-partition
// scans (e.g. the eraser's rewrite-without path before filtering).
func (s *Segment) All() ([]tableslice.Slice, error) {
	out := make([]tableslice.Slice, 0, len(s.entries))
	for _, e := range s.entries {
		slice, err := s.decode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, slice)
	}
	return out, nil
}

func (s *Segment) decode(e Entry) (tableslice.Slice, error) {
	compressed := make([]byte, e.Length)
	if _, err := s.backing.ReadAt(compressed, e.Offset); err != nil {
		return nil, fmt.Errorf("segment: read entry [%d,%d]: %w", e.Min, e.Max, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("segment: new zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("segment: decompress entry [%d,%d]: %w", e.Min, e.Max, err)
	}
	return tableslice.Decode(raw)
}

func overlaps(e Entry, xs *ids.Bitmap) bool {
	// Conservative overlap check: any member of xs within [Min, Max].
	// Bitmap.Rank gives count of members <= x; range is non-empty iff
	// rank(Max) > rank(Min-1).
	if e.Min == 0 {
		return xs.Rank(e.Max) > 0
	}
	return xs.Rank(e.Max) > xs.Rank(e.Min-1)
}
