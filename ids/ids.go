// Package ids defines the row-id universe used throughout the storage
// engine and the compressed bitmap type used to represent sets of rows.
package ids

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ID is a globally monotonic row identifier within a deployment.
type ID = uint64

// Invalid is the reserved sentinel row id. It is the maximum representable
// value and therefore sorts last; it must never be used as a valid row id.
const Invalid ID = ^ID(0)

// Bitmap is a compressed set of row ids. The zero value is not usable; use
// New to construct one.
type Bitmap struct {
	rb *roaring64.Bitmap
	// maxLen tracks the logical length of the bitmap's domain (one past the
	// highest offset ever appended via AppendBits), since a trailing run of
	// unset bits would otherwise be invisible to the roaring representation.
	maxLen uint64
}

// New returns an empty bitmap.
func New() *Bitmap {
	return &Bitmap{rb: roaring64.New()}
}

// FromSorted builds a bitmap containing exactly the given ids.
func FromSorted(values ...ID) *Bitmap {
	b := New()
	for _, v := range values {
		b.rb.Add(v)
	}
	return b
}

// Clone returns an independent copy of b.
func (b *Bitmap) Clone() *Bitmap {
	if b == nil {
		return New()
	}
	return &Bitmap{rb: b.rb.Clone(), maxLen: b.maxLen}
}

// Add inserts a single id.
func (b *Bitmap) Add(x ID) {
	b.rb.Add(x)
}

// AppendBits appends n consecutive bits of the given value starting right
// after the bitmap's current highest bit, i.e. at position Len(). This
// mirrors the C++ original's `ids.append_bits(value, n)` used while
// streaming table slices into an active partition's type_ids map.
func (b *Bitmap) AppendBits(value bool, n uint64) {
	if n == 0 {
		return
	}
	start := b.Len()
	if value {
		b.rb.AddRange(start, start+n)
	}
	// false bits simply extend the conceptual length; roaring bitmaps do
	// not need explicit storage for unset bits, but Len() must still grow.
	// The roaring set itself is left unchanged by an all-false run (the
	// add-then-remove of start+n-1 is a net no-op); the new length is
	// recorded in maxLen, which Len() reports.
	if !value {
		b.rb.Add(start + n - 1)
		b.rb.Remove(start + n - 1)
		b.maxLen = start + n
	} else {
		if start+n > b.maxLen {
			b.maxLen = start + n
		}
	}
}

// Len returns one past the highest bit ever appended via AppendBits (the
// logical length of the domain), which may exceed the highest set bit.
func (b *Bitmap) Len() uint64 {
	if b.maxLen > 0 {
		return b.maxLen
	}
	if b.rb.IsEmpty() {
		return 0
	}
	return b.rb.Maximum() + 1
}

// Contains reports whether x is a member of b.
func (b *Bitmap) Contains(x ID) bool {
	return b.rb.Contains(x)
}

// Rank returns the number of members of b that are less than or equal to x
// (popcount up to and including x).
func (b *Bitmap) Rank(x ID) uint64 {
	return b.rb.Rank(x)
}

// Count returns the total number of members (equivalent to Rank(Invalid)).
func (b *Bitmap) Count() uint64 {
	return b.rb.GetCardinality()
}

// IsEmpty reports whether b has no members.
func (b *Bitmap) IsEmpty() bool {
	return b.rb.IsEmpty()
}

// Min returns the smallest member of b. Panics if b is empty; callers must
// check IsEmpty first.
func (b *Bitmap) Min() ID {
	return b.rb.Minimum()
}

// Max returns the largest member of b. Panics if b is empty; callers must
// check IsEmpty first.
func (b *Bitmap) Max() ID {
	return b.rb.Maximum()
}

// Union returns a new bitmap containing the union of a and b.
func Union(bitmaps ...*Bitmap) *Bitmap {
	out := New()
	for _, b := range bitmaps {
		if b == nil {
			continue
		}
		out.rb.Or(b.rb)
		if b.Len() > out.maxLen {
			out.maxLen = b.Len()
		}
	}
	return out
}

// Intersect returns a new bitmap containing the intersection of a and b.
func Intersect(a, b *Bitmap) *Bitmap {
	out := a.Clone()
	out.rb.And(b.rb)
	out.maxLen = minU64(a.Len(), b.Len())
	return out
}

// Difference returns a new bitmap containing members of a that are not in b.
func Difference(a, b *Bitmap) *Bitmap {
	out := a.Clone()
	out.rb.AndNot(b.rb)
	out.maxLen = a.Len()
	return out
}

// Complement returns the set of ids in [0, universe) that are not in b.
func Complement(b *Bitmap, universe uint64) *Bitmap {
	out := New()
	if universe == 0 {
		return out
	}
	out.rb.AddRange(0, universe)
	out.rb.AndNot(b.rb)
	out.maxLen = universe
	return out
}

// IsSubset reports whether every member of a is also a member of b.
func IsSubset(a, b *Bitmap) bool {
	diff := a.rb.Clone()
	diff.AndNot(b.rb)
	return diff.IsEmpty()
}

// ToSlice materializes b as a sorted slice of ids. Intended for small
// result sets (tests, status reporting); query hot paths should iterate.
func (b *Bitmap) ToSlice() []ID {
	return b.rb.ToArray()
}

// Iterate calls fn for every member of b in ascending order, stopping early
// if fn returns false.
func (b *Bitmap) Iterate(fn func(ID) bool) {
	it := b.rb.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}

// RunOptimize compacts the internal representation; analogous to the
// synopsis/segment "shrink to optimal size" step performed on persist.
func (b *Bitmap) RunOptimize() {
	b.rb.RunOptimize()
}

// MarshalBinary serializes the bitmap for the partition artifact framing.
func (b *Bitmap) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.rb.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("ids: marshal bitmap: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a bitmap previously produced by MarshalBinary.
func (b *Bitmap) UnmarshalBinary(data []byte) error {
	rb := roaring64.New()
	if _, err := rb.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("ids: unmarshal bitmap: %w", err)
	}
	b.rb = rb
	return nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
