package synopsis

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// Column is the per-column synopsis contract: add a batch of values,
// answer a conservative (op, value) lookup, and shrink once the column is
// done growing. Implementations must never produce a false negative.
// Kind/Marshal back PartitionSynopsis (de)serialization, since the
// underlying Bloom/MinMax types carry unexported state that plain gob
// reflection cannot reach.
type Column interface {
	Add(column []value.Data)
	Lookup(op vtype.Op, v value.Data) bool
	Shrink()
	Kind() string
	Marshal() ([]byte, error)
}

type bloomColumn struct{ b *Bloom }

func (c *bloomColumn) Add(column []value.Data) {
	for _, v := range column {
		if v.Null {
			continue
		}
		c.b.Add(keyBytes(v))
	}
}
func (c *bloomColumn) Lookup(op vtype.Op, v value.Data) bool { return c.b.Lookup(op, keyBytes(v)) }
func (c *bloomColumn) Shrink()                               { c.b.Shrink() }
func (c *bloomColumn) Kind() string                          { return "bloom" }
func (c *bloomColumn) Marshal() ([]byte, error)               { return c.b.MarshalBinary() }

type minMaxColumn struct{ m *MinMax }

func (c *minMaxColumn) Add(column []value.Data)              { c.m.Add(column) }
func (c *minMaxColumn) Lookup(op vtype.Op, v value.Data) bool { return c.m.Lookup(op, v) }
func (c *minMaxColumn) Shrink()                               { c.m.Shrink() }
func (c *minMaxColumn) Kind() string                          { return "minmax" }
func (c *minMaxColumn) Marshal() ([]byte, error)               { return c.m.MarshalBinary() }

// unmarshalColumn rehydrates a Column from the (kind, data) pair Marshal
// produced, used when a passive partition loads a persisted synopsis.
func unmarshalColumn(kind string, data []byte) (Column, error) {
	switch kind {
	case "bloom":
		b := &Bloom{}
		if err := b.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return &bloomColumn{b: b}, nil
	case "minmax":
		m := &MinMax{}
		if err := m.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return &minMaxColumn{m: m}, nil
	default:
		return nil, fmt.Errorf("synopsis: unknown column kind %q", kind)
	}
}

// NewColumn picks the default synopsis kind for a field's type: bloom for
// address-like columns (address, subnet, string with a "hash" attribute),
// min/max for ordered/time columns.
func NewColumn(t vtype.Type, expectedRows uint64) Column {
	if _, hashed := t.Attribute("index"); hashed || isAddressLike(t.Kind) {
		return &bloomColumn{b: NewBloom(expectedRows, 0.01)}
	}
	if isOrdered(t.Kind) {
		return &minMaxColumn{m: NewMinMax()}
	}
	return &bloomColumn{b: NewBloom(expectedRows, 0.01)}
}

func isAddressLike(k vtype.Kind) bool {
	return k == vtype.Address || k == vtype.Subnet
}

func isOrdered(k vtype.Kind) bool {
	switch k {
	case vtype.Int, vtype.Uint, vtype.Real, vtype.Port, vtype.Duration, vtype.Time:
		return true
	default:
		return false
	}
}

// PartitionSynopsis aggregates every column synopsis for one partition
// along with the bookkeeping the catalog needs to prune candidates:
// the import-time window plus the partition's offset and event count.
type PartitionSynopsis struct {
	MinImportTime time.Time
	MaxImportTime time.Time
	Offset        uint64
	Events        uint64

	// Columns maps a qualified field name (e.g. "info.host") to its
	// column synopsis.
	Columns map[string]Column
}

// NewPartitionSynopsis returns an empty aggregate synopsis.
func NewPartitionSynopsis() *PartitionSynopsis {
	return &PartitionSynopsis{Columns: map[string]Column{}}
}

// ObserveImportTime folds one slice's import timestamp into the running
// (min, max) range.
func (p *PartitionSynopsis) ObserveImportTime(t time.Time) {
	if p.MinImportTime.IsZero() || t.Before(p.MinImportTime) {
		p.MinImportTime = t
	}
	if t.After(p.MaxImportTime) {
		p.MaxImportTime = t
	}
}

// Shrink compacts every column synopsis; called once after a partition
// stops accepting writes, before it is handed to the catalog.
func (p *PartitionSynopsis) Shrink() {
	for _, c := range p.Columns {
		c.Shrink()
	}
}

// columnWire is one field's serialized column synopsis.
type columnWire struct {
	Field string
	Kind  string
	Data  []byte
}

// synopsisWire is the on-disk form of a PartitionSynopsis, written as the
// `.mdx` sidecar file and embedded inside the partition artifact.
type synopsisWire struct {
	MinImportTime time.Time
	MaxImportTime time.Time
	Offset        uint64
	Events        uint64
	Columns       []columnWire
}

// Serialize snapshots the aggregate synopsis, used both for the `.mdx`
// sidecar (step 7 of the active partition's persist algorithm) and for
// the embedded copy inside the partition artifact.
func (p *PartitionSynopsis) Serialize() ([]byte, error) {
	wire := synopsisWire{
		MinImportTime: p.MinImportTime,
		MaxImportTime: p.MaxImportTime,
		Offset:        p.Offset,
		Events:        p.Events,
	}
	for field, c := range p.Columns {
		data, err := c.Marshal()
		if err != nil {
			return nil, fmt.Errorf("synopsis: marshal column %q: %w", field, err)
		}
		wire.Columns = append(wire.Columns, columnWire{Field: field, Kind: c.Kind(), Data: data})
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, fmt.Errorf("synopsis: marshal partition synopsis: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize restores a PartitionSynopsis previously produced by
// Serialize.
func Deserialize(data []byte) (*PartitionSynopsis, error) {
	var wire synopsisWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("synopsis: unmarshal partition synopsis: %w", err)
	}
	p := &PartitionSynopsis{
		MinImportTime: wire.MinImportTime,
		MaxImportTime: wire.MaxImportTime,
		Offset:        wire.Offset,
		Events:        wire.Events,
		Columns:       map[string]Column{},
	}
	for _, cw := range wire.Columns {
		c, err := unmarshalColumn(cw.Kind, cw.Data)
		if err != nil {
			return nil, fmt.Errorf("synopsis: unmarshal column %q: %w", cw.Field, err)
		}
		p.Columns[cw.Field] = c
	}
	return p, nil
}

// MightContain reports whether the partition could possibly hold a row
// satisfying `field op value`. An unknown field is treated as "maybe",
// since the catalog's candidate resolution pass should let partition-
// local tailoring make the final call on field absence.
func (p *PartitionSynopsis) MightContain(field string, op vtype.Op, v value.Data) bool {
	c, ok := p.Columns[field]
	if !ok {
		return true
	}
	return c.Lookup(op, v)
}
