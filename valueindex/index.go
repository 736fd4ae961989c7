// Package valueindex implements per-column value indexes: an exact
// inverted index from a column's distinct values to the row-id bitmap of
// rows holding that value, plus relational/pattern/subnet lookups layered
// on top.
package valueindex

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"regexp"
	"sort"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// Indexer is a single-writer, many-reader per-column value index. It is
// owned by exactly one partition.
type Indexer struct {
	fieldType vtype.Type

	// buckets maps a canonical value key to the bitmap of row ids holding
	// that value. Built incrementally via Append.
	buckets map[string]*ids.Bitmap

	// order records insertion order of distinct keys paired with the
	// value that produced them, needed for relational (<, <=, >, >=)
	// lookups over ordered columns and for deterministic serialization.
	order []orderedEntry
}

type orderedEntry struct {
	key string
	val value.Data
}

// New creates an empty indexer for a field of the given type.
func New(fieldType vtype.Type) *Indexer {
	return &Indexer{fieldType: fieldType, buckets: map[string]*ids.Bitmap{}}
}

// Append folds one slice's column into the index. baseOffset is the
// slice's absolute row offset; column[i] corresponds to row id
// baseOffset+i. Null entries are skipped: lookups never match null cells.
func (ix *Indexer) Append(column []value.Data, baseOffset ids.ID) error {
	for i, v := range column {
		if v.Null {
			continue
		}
		key := canonicalKey(v)
		b, ok := ix.buckets[key]
		if !ok {
			b = ids.New()
			ix.buckets[key] = b
			ix.order = append(ix.order, orderedEntry{key: key, val: v})
		}
		b.Add(baseOffset + ids.ID(i))
	}
	return nil
}

// Lookup returns the bitmap of rows satisfying `op value`: for every
// indexed row r, r is in the result iff relation(col[r], op, v) holds.
func (ix *Indexer) Lookup(op vtype.Op, v value.Data) (*ids.Bitmap, error) {
	switch op {
	case vtype.Equal:
		if b, ok := ix.buckets[canonicalKey(v)]; ok {
			return b.Clone(), nil
		}
		return ids.New(), nil
	case vtype.NotEqual:
		key := canonicalKey(v)
		out := ids.New()
		for k, b := range ix.buckets {
			if k != key {
				out = ids.Union(out, b)
			}
		}
		return out, nil
	case vtype.Less, vtype.LessEqual, vtype.Greater, vtype.GreaterEqual:
		return ix.relational(op, v)
	case vtype.Match:
		return ix.match(v)
	case vtype.In, vtype.NotIn:
		return ix.subnetMembership(op, v)
	default:
		return nil, fmt.Errorf("valueindex: unsupported operator %s", op)
	}
}

func (ix *Indexer) relational(op vtype.Op, v value.Data) (*ids.Bitmap, error) {
	out := ids.New()
	for _, e := range ix.order {
		cmp := e.val.Compare(v)
		keep := false
		switch op {
		case vtype.Less:
			keep = cmp < 0
		case vtype.LessEqual:
			keep = cmp <= 0
		case vtype.Greater:
			keep = cmp > 0
		case vtype.GreaterEqual:
			keep = cmp >= 0
		}
		if keep {
			out = ids.Union(out, ix.buckets[e.key])
		}
	}
	return out, nil
}

func (ix *Indexer) match(v value.Data) (*ids.Bitmap, error) {
	re, err := regexp.Compile(v.Str)
	if err != nil {
		return nil, fmt.Errorf("valueindex: invalid pattern %q: %w", v.Str, err)
	}
	out := ids.New()
	for _, e := range ix.order {
		if e.val.Kind == vtype.String || e.val.Kind == vtype.Pattern || e.val.Kind == vtype.Enum {
			if re.MatchString(e.val.Str) {
				out = ids.Union(out, ix.buckets[e.key])
			}
		}
	}
	return out, nil
}

func (ix *Indexer) subnetMembership(op vtype.Op, v value.Data) (*ids.Bitmap, error) {
	out := ids.New()
	for _, e := range ix.order {
		if e.val.Kind != vtype.Address {
			continue
		}
		member := v.Subnet.Contains(e.val.Addr)
		if op == vtype.NotIn {
			member = !member
		}
		if member {
			out = ids.Union(out, ix.buckets[e.key])
		}
	}
	return out, nil
}

// canonicalKey renders a value to a byte-stable map key. Two scalar
// values compare equal (value.Data.Equal) iff their canonical keys match;
// list, map and record values render as their kind alone, so all values
// of one composite kind share a key.
func canonicalKey(v value.Data) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d|", v.Kind)
	switch v.Kind {
	case vtype.Bool:
		fmt.Fprintf(&buf, "%v", v.Bool)
	case vtype.Int:
		fmt.Fprintf(&buf, "%d", v.Int)
	case vtype.Uint, vtype.Port:
		fmt.Fprintf(&buf, "%d", v.Uint|uint64(v.Port))
	case vtype.Real:
		fmt.Fprintf(&buf, "%g", v.Real)
	case vtype.String, vtype.Pattern, vtype.Enum:
		buf.WriteString(v.Str)
	case vtype.Address:
		buf.WriteString(v.Addr.String())
	case vtype.Subnet:
		buf.WriteString(v.Subnet.String())
	case vtype.Duration:
		fmt.Fprintf(&buf, "%d", v.Dur)
	case vtype.Time:
		fmt.Fprintf(&buf, "%d", v.Time.UnixNano())
	}
	return buf.String()
}

// gobEntry is the wire form of one distinct value and its row-id bitmap,
// used by Serialize/Deserialize.
type gobEntry struct {
	Val    value.Data
	Bitmap []byte
}

// Serialize snapshots the indexer into a self-contained chunk, used when
// an active partition persists and when a passive partition loads one
// lazily from disk.
func (ix *Indexer) Serialize() ([]byte, error) {
	entries := make([]gobEntry, 0, len(ix.order))
	for _, e := range ix.order {
		b, err := ix.buckets[e.key].MarshalBinary()
		if err != nil {
			return nil, err
		}
		entries = append(entries, gobEntry{Val: e.val, Bitmap: b})
	}
	sort.Slice(entries, func(i, j int) bool { return canonicalKey(entries[i].Val) < canonicalKey(entries[j].Val) })
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(struct {
		FieldType vtype.Type
		Entries   []gobEntry
	}{FieldType: ix.fieldType, Entries: entries}); err != nil {
		return nil, fmt.Errorf("valueindex: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize loads an indexer previously produced by Serialize.
func Deserialize(data []byte) (*Indexer, error) {
	var wire struct {
		FieldType vtype.Type
		Entries   []gobEntry
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("valueindex: deserialize: %w", err)
	}
	ix := New(wire.FieldType)
	for _, e := range wire.Entries {
		b := ids.New()
		if err := b.UnmarshalBinary(e.Bitmap); err != nil {
			return nil, err
		}
		key := canonicalKey(e.Val)
		ix.buckets[key] = b
		ix.order = append(ix.order, orderedEntry{key: key, val: e.Val})
	}
	return ix, nil
}
