// Package synopsis implements the per-column and per-partition compact
// summaries used to prune partition candidates without loading their full
// indexes: bloom filters for address-like columns and min/max ranges for
// ordered/time columns, plus the aggregate PartitionSynopsis.
package synopsis

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/vastdb/vast/vtype"
)

// Bloom is a fixed-size bloom filter over byte-serializable column values.
// It never produces a false negative: Lookup only ever returns "maybe" or
// "definitely-no". Double hashing over a single xxhash seed derives the
// k probe positions.
type Bloom struct {
	bits []uint64 // bit-packed, b.bits[i/64] bit (i%64)
	m    uint64   // number of bits
	k    uint32   // number of hash rounds
}

// NewBloom sizes a filter for n expected elements at false-positive rate
// p, using the standard optimal-parameter formulas.
func NewBloom(n uint64, p float64) *Bloom {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := optimalBits(n, p)
	k := optimalHashes(m, n)
	return &Bloom{
		bits: make([]uint64, (m+63)/64),
		m:    m,
		k:    k,
	}
}

func optimalBits(n uint64, p float64) uint64 {
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	bits := uint64(math.Ceil(m))
	if bits < 64 {
		bits = 64
	}
	return bits
}

func optimalHashes(m, n uint64) uint32 {
	k := uint32(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	return k
}

// Add records b as present. Uses double hashing (Kirsch-Mitzenmacher) to
// derive k index functions from two xxhash digests of the input bytes.
func (b *Bloom) Add(key []byte) {
	h1, h2 := b.hashPair(key)
	for i := uint32(0); i < b.k; i++ {
		idx := (h1 + uint64(i)*h2) % b.m
		b.setBit(idx)
	}
}

// Contains reports whether key is possibly present. A false return is a
// definite "not present"; a true return means "maybe present".
func (b *Bloom) Contains(key []byte) bool {
	h1, h2 := b.hashPair(key)
	for i := uint32(0); i < b.k; i++ {
		idx := (h1 + uint64(i)*h2) % b.m
		if !b.getBit(idx) {
			return false
		}
	}
	return true
}

func (b *Bloom) hashPair(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)
	// Second digest derived by hashing the first digest's bytes alongside
	// the original key, avoiding a second independent hash function.
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h1)
	h2 := xxhash.Sum64(append(buf[:], key...))
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func (b *Bloom) setBit(i uint64) {
	b.bits[i/64] |= 1 << (i % 64)
}

func (b *Bloom) getBit(i uint64) bool {
	return b.bits[i/64]&(1<<(i%64)) != 0
}

// Lookup adapts Contains to the shared (op, value) synopsis contract. A
// bloom filter only carries membership information, so only equality
// narrows the result; inequality and every other operator are reported
// as "maybe".
func (b *Bloom) Lookup(op vtype.Op, key []byte) bool {
	switch op {
	case vtype.Equal:
		return b.Contains(key)
	case vtype.NotEqual:
		return true
	default:
		return true
	}
}

// Shrink is a no-op for the fixed-size bit-vector representation; it
// exists to satisfy the synopsis `shrink()` contract uniformly across
// synopsis kinds (MinMax.Shrink has real work to do; Bloom does not since
// its size is fixed at construction).
func (b *Bloom) Shrink() {}

// MarshalBinary serializes the filter's parameters and bit vector.
func (b *Bloom) MarshalBinary() ([]byte, error) {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint64(header[0:8], b.m)
	binary.LittleEndian.PutUint32(header[8:12], b.k)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(b.bits)))
	out := make([]byte, 0, len(header)+8*len(b.bits))
	out = append(out, header...)
	for _, w := range b.bits {
		var wb [8]byte
		binary.LittleEndian.PutUint64(wb[:], w)
		out = append(out, wb[:]...)
	}
	return out, nil
}

// UnmarshalBinary restores a filter previously produced by MarshalBinary.
func (b *Bloom) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return errShortBloom
	}
	b.m = binary.LittleEndian.Uint64(data[0:8])
	b.k = binary.LittleEndian.Uint32(data[8:12])
	n := binary.LittleEndian.Uint32(data[12:16])
	data = data[16:]
	b.bits = make([]uint64, n)
	for i := uint32(0); i < n; i++ {
		off := i * 8
		if off+8 > uint32(len(data)) {
			return errShortBloom
		}
		b.bits[i] = binary.LittleEndian.Uint64(data[off : off+8])
	}
	return nil
}
