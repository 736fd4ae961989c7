// Package value defines the runtime data representation stored inside
// table slice columns and produced by synopses, value indexes, and the
// expression evaluator.
package value

import (
	"fmt"
	"net"
	"time"

	"github.com/vastdb/vast/vtype"
)

// Data is the tagged union of runtime values. Only one field is ever
// meaningful, selected by Kind (which mirrors vtype.Kind for scalars; List,
// Map and Record values hold their children in List/Fields).
type Data struct {
	Kind vtype.Kind

	Bool   bool
	Int    int64
	Uint   uint64
	Real   float64
	Str    string   // String, Pattern, Enum (symbol name)
	Addr   net.IP   // Address
	Subnet net.IPNet // Subnet
	Port   uint16
	Dur    time.Duration // Duration
	Time   time.Time

	List   []Data
	Map    []MapEntry
	Fields map[string]Data

	Null bool // true if this value is absent/unset
}

// MapEntry is a single key/value pair of a Map value.
type MapEntry struct {
	Key   Data
	Value Data
}

// NullOf returns the null/absent sentinel for a given kind.
func NullOf(k vtype.Kind) Data { return Data{Kind: k, Null: true} }

// OfBool, OfInt, ... are convenience constructors used by table slice
// builders and tests.
func OfBool(b bool) Data         { return Data{Kind: vtype.Bool, Bool: b} }
func OfInt(i int64) Data         { return Data{Kind: vtype.Int, Int: i} }
func OfUint(u uint64) Data       { return Data{Kind: vtype.Uint, Uint: u} }
func OfReal(r float64) Data      { return Data{Kind: vtype.Real, Real: r} }
func OfString(s string) Data     { return Data{Kind: vtype.String, Str: s} }
func OfPattern(p string) Data    { return Data{Kind: vtype.Pattern, Str: p} }
func OfAddress(ip net.IP) Data   { return Data{Kind: vtype.Address, Addr: ip} }
func OfSubnet(n net.IPNet) Data  { return Data{Kind: vtype.Subnet, Subnet: n} }
func OfPort(p uint16) Data       { return Data{Kind: vtype.Port, Port: p} }
func OfDuration(d time.Duration) Data { return Data{Kind: vtype.Duration, Dur: d} }
func OfTime(t time.Time) Data    { return Data{Kind: vtype.Time, Time: t} }
func OfEnum(symbol string) Data  { return Data{Kind: vtype.Enum, Str: symbol} }

// Equal compares two values for equality; incomparable kinds (e.g.
// mismatched Kind) are never equal.
func (d Data) Equal(other Data) bool {
	if d.Null != other.Null {
		return false
	}
	if d.Null {
		return d.Kind == other.Kind
	}
	if d.Kind != other.Kind {
		return false
	}
	switch d.Kind {
	case vtype.Bool:
		return d.Bool == other.Bool
	case vtype.Int:
		return d.Int == other.Int
	case vtype.Uint, vtype.Port:
		return d.Uint == other.Uint && d.Port == other.Port
	case vtype.Real:
		return d.Real == other.Real
	case vtype.String, vtype.Pattern, vtype.Enum:
		return d.Str == other.Str
	case vtype.Address:
		return d.Addr.Equal(other.Addr)
	case vtype.Subnet:
		return d.Subnet.String() == other.Subnet.String()
	case vtype.Duration:
		return d.Dur == other.Dur
	case vtype.Time:
		return d.Time.Equal(other.Time)
	case vtype.List:
		if len(d.List) != len(other.List) {
			return false
		}
		for i := range d.List {
			if !d.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case vtype.Record:
		if len(d.Fields) != len(other.Fields) {
			return false
		}
		for k, v := range d.Fields {
			ov, ok := other.Fields[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values of the same kind; it panics if the kinds
// differ, matching the evaluator's contract that relational operators are
// only ever applied after schema tailoring has confirmed the field's type.
// Returns -1, 0, or 1.
func (d Data) Compare(other Data) int {
	if d.Kind != other.Kind {
		panic(fmt.Sprintf("value: cannot compare %s with %s", d.Kind, other.Kind))
	}
	switch d.Kind {
	case vtype.Int:
		return cmpInt64(d.Int, other.Int)
	case vtype.Uint:
		return cmpUint64(d.Uint, other.Uint)
	case vtype.Port:
		return cmpUint64(uint64(d.Port), uint64(other.Port))
	case vtype.Real:
		return cmpFloat64(d.Real, other.Real)
	case vtype.Duration:
		return cmpInt64(int64(d.Dur), int64(other.Dur))
	case vtype.Time:
		if d.Time.Before(other.Time) {
			return -1
		}
		if d.Time.After(other.Time) {
			return 1
		}
		return 0
	case vtype.String, vtype.Pattern, vtype.Enum:
		switch {
		case d.Str < other.Str:
			return -1
		case d.Str > other.Str:
			return 1
		default:
			return 0
		}
	default:
		panic(fmt.Sprintf("value: %s is not orderable", d.Kind))
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
