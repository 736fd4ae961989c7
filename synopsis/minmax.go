package synopsis

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// MinMax is a per-column range synopsis for ordered scalar columns (time,
// numeric, port, duration). It answers lookups conservatively: any value
// outside [min, max] is reported as definitely absent, and anything else
// (including values that the column never actually held) is "maybe".
type MinMax struct {
	min, max value.Data
	set      bool
}

// NewMinMax creates an empty range synopsis.
func NewMinMax() *MinMax { return &MinMax{} }

// Add folds every value in the column into the running range. Null values
// are skipped; they carry no ordering information.
func (m *MinMax) Add(column []value.Data) {
	for _, v := range column {
		if v.Null {
			continue
		}
		if !m.set {
			m.min, m.max = v, v
			m.set = true
			continue
		}
		if v.Compare(m.min) < 0 {
			m.min = v
		}
		if v.Compare(m.max) > 0 {
			m.max = v
		}
	}
}

// Lookup reports whether a row satisfying `op value` could possibly exist
// in the summarized column. Returning false is a guarantee of absence.
func (m *MinMax) Lookup(op vtype.Op, v value.Data) bool {
	if !m.set {
		return false
	}
	switch op {
	case vtype.Equal:
		return v.Compare(m.min) >= 0 && v.Compare(m.max) <= 0
	case vtype.NotEqual:
		// A column could always hold some other value than v unless it is
		// a single constant equal to v.
		return !(m.min.Equal(m.max) && m.min.Equal(v))
	case vtype.Less:
		return m.min.Compare(v) < 0
	case vtype.LessEqual:
		return m.min.Compare(v) <= 0
	case vtype.Greater:
		return m.max.Compare(v) > 0
	case vtype.GreaterEqual:
		return m.max.Compare(v) >= 0
	default:
		// Non-orderable operators (pattern match, subnet membership) carry
		// no range information: always maybe.
		return true
	}
}

// Shrink is a no-op: a min/max pair is already minimal.
func (m *MinMax) Shrink() {}

// minMaxWire is the exported mirror of MinMax's unexported fields, needed
// because gob cannot traverse unexported struct fields directly.
type minMaxWire struct {
	Min, Max value.Data
	Set      bool
}

// MarshalBinary serializes the range for the partition synopsis sidecar.
func (m *MinMax) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(minMaxWire{Min: m.min, Max: m.max, Set: m.set}); err != nil {
		return nil, fmt.Errorf("synopsis: marshal minmax: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a range previously produced by MarshalBinary.
func (m *MinMax) UnmarshalBinary(data []byte) error {
	var w minMaxWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("synopsis: unmarshal minmax: %w", err)
	}
	m.min, m.max, m.set = w.Min, w.Max, w.Set
	return nil
}

// Min and Max expose the current range, used by the partition synopsis'
// (min_import_time, max_import_time) bookkeeping which is itself just a
// MinMax over timestamps.
func (m *MinMax) Min() value.Data { return m.min }
func (m *MinMax) Max() value.Data { return m.max }
func (m *MinMax) Empty() bool     { return !m.set }
