package synopsis

import (
	"encoding/binary"
	"math"

	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// keyBytes renders a value.Data into a stable byte key for bloom hashing.
// It only needs to be injective enough to avoid spurious collisions
// between distinct values of the same column, not human-readable.
func keyBytes(v value.Data) []byte {
	if v.Null {
		return []byte{0}
	}
	switch v.Kind {
	case vtype.Bool:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	case vtype.Int:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Int))
		return buf[:]
	case vtype.Uint, vtype.Port:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v.Uint|uint64(v.Port))
		return buf[:]
	case vtype.Real:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Real))
		return buf[:]
	case vtype.String, vtype.Pattern, vtype.Enum:
		return []byte(v.Str)
	case vtype.Address:
		return []byte(v.Addr)
	case vtype.Subnet:
		return []byte(v.Subnet.String())
	case vtype.Duration:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Dur))
		return buf[:]
	case vtype.Time:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Time.UnixNano()))
		return buf[:]
	default:
		return nil
	}
}
