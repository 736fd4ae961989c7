// Package vtype implements the VAST value type lattice: the fixed set of
// primitive and composite types that a table slice's schema is built from.
package vtype

import (
	"fmt"
	"strings"
)

// Kind enumerates the primitive and composite type constructors the
// schema system supports.
type Kind int

const (
	Bool Kind = iota
	Int
	Uint
	Real
	String
	Pattern
	Address
	Subnet
	Port
	Duration
	Time
	Enum
	List
	Map
	Record
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Uint:
		return "uint"
	case Real:
		return "real"
	case String:
		return "string"
	case Pattern:
		return "pattern"
	case Address:
		return "address"
	case Subnet:
		return "subnet"
	case Port:
		return "port"
	case Duration:
		return "duration"
	case Time:
		return "time"
	case Enum:
		return "enumeration"
	case List:
		return "list"
	case Map:
		return "map"
	case Record:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type is a value-equal description of a field's type. Two Types are equal
// (see Equal) iff their Kind, Name, sub-structure and Attributes agree.
type Type struct {
	Kind Kind

	// Name carries the record's type name for Record (may be empty for
	// anonymous records); an Enum's symbols live in Fields, not here.
	Name string

	// Elem is the element type for List and the value type for Map.
	Elem *Type
	// Key is the key type for Map.
	Key *Type
	// Fields is the field list for Record, and the symbol table for Enum
	// (only Field.Name is meaningful for Enum fields).
	Fields []Field

	// Attributes carries indexing hints such as {"index": "hash"}.
	Attributes map[string]string
}

// Field is a named, typed member of a Record.
type Field struct {
	Name string
	Type Type
}

// New constructs a leaf (non-composite) type of the given kind.
func New(k Kind) Type {
	return Type{Kind: k}
}

// WithAttribute returns a copy of t with the given attribute set.
func (t Type) WithAttribute(key, value string) Type {
	cpy := t
	cpy.Attributes = cloneAttrs(t.Attributes)
	if cpy.Attributes == nil {
		cpy.Attributes = map[string]string{}
	}
	cpy.Attributes[key] = value
	return cpy
}

// Attribute returns the named attribute and whether it was set.
func (t Type) Attribute(key string) (string, bool) {
	if t.Attributes == nil {
		return "", false
	}
	v, ok := t.Attributes[key]
	return v, ok
}

func cloneAttrs(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cpy := make(map[string]string, len(m))
	for k, v := range m {
		cpy[k] = v
	}
	return cpy
}

// NewEnum builds an enumeration type over the given symbols, in order.
func NewEnum(symbols ...string) Type {
	fields := make([]Field, len(symbols))
	for i, s := range symbols {
		fields[i] = Field{Name: s}
	}
	return Type{Kind: Enum, Fields: fields}
}

// NewList builds a list type with the given element type.
func NewList(elem Type) Type {
	e := elem
	return Type{Kind: List, Elem: &e}
}

// NewMap builds a map type with the given key and value types.
func NewMap(key, value Type) Type {
	k, v := key, value
	return Type{Kind: Map, Key: &k, Elem: &v}
}

// NewRecord builds a record (named tuple) type from an ordered field list.
func NewRecord(name string, fields ...Field) Type {
	return Type{Kind: Record, Name: name, Fields: fields}
}

// Equal reports value equality: identical Kind, Name, sub-structure and
// Attributes, with fields compared in order (schemas are NOT unordered
// sets of fields: field order distinguishes two otherwise-identical
// schemas).
func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind || t.Name != other.Name {
		return false
	}
	if !attrsEqual(t.Attributes, other.Attributes) {
		return false
	}
	switch t.Kind {
	case List:
		return t.Elem != nil && other.Elem != nil && t.Elem.Equal(*other.Elem)
	case Map:
		return t.Key != nil && other.Key != nil && t.Key.Equal(*other.Key) &&
			t.Elem != nil && other.Elem != nil && t.Elem.Equal(*other.Elem)
	case Record, Enum:
		if len(t.Fields) != len(other.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != other.Fields[i].Name {
				return false
			}
			if t.Kind == Record && !t.Fields[i].Type.Equal(other.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func attrsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Leaves returns every non-Record leaf field reachable from a record type,
// paired with its fully qualified dotted name, in depth-first field order.
// This mirrors `record_type::leaves()`; expression tailoring uses it to
// resolve predicate field names against a schema.
func (t Type) Leaves() []QualifiedField {
	var out []QualifiedField
	t.collectLeaves("", &out)
	return out
}

// QualifiedField names a leaf field by its dotted path within a schema.
type QualifiedField struct {
	Name string
	Type Type
}

func (t Type) collectLeaves(prefix string, out *[]QualifiedField) {
	if t.Kind != Record {
		*out = append(*out, QualifiedField{Name: prefix, Type: t})
		return
	}
	for _, f := range t.Fields {
		name := f.Name
		if prefix != "" {
			name = prefix + "." + f.Name
		}
		f.Type.collectLeaves(name, out)
	}
}

// Schema is a named record type describing a table slice's columns.
type Schema struct {
	Record Type
}

// NewSchema builds a record type from name and fields and wraps it as a
// schema.
func NewSchema(name string, fields ...Field) Schema {
	return Schema{Record: NewRecord(name, fields...)}
}

// Name returns the schema's type name.
func (s Schema) Name() string { return s.Record.Name }

// Fields returns the schema's top-level fields.
func (s Schema) Fields() []Field { return s.Record.Fields }

// Leaves returns the qualified leaf fields of the schema.
func (s Schema) Leaves() []QualifiedField { return s.Record.Leaves() }

// Equal reports whether two schemas have identical fields in identical
// order and equal metadata.
func (s Schema) Equal(other Schema) bool { return s.Record.Equal(other.Record) }

// Op enumerates the relational operators a predicate may apply between a
// field and a literal value. Synopses and value indexes are parameterized
// by Op so that `lookup(op, value)` has one shared vocabulary across the
// catalog, the per-column indexers, and the expression evaluator.
type Op int

const (
	Equal Op = iota
	NotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
	Match  // regex/pattern match, string and pattern columns only
	In     // subnet/prefix membership, address and subnet columns only
	NotIn
)

func (op Op) String() string {
	switch op {
	case Equal:
		return "=="
	case NotEqual:
		return "!="
	case Less:
		return "<"
	case LessEqual:
		return "<="
	case Greater:
		return ">"
	case GreaterEqual:
		return ">="
	case Match:
		return "~"
	case In:
		return "in"
	case NotIn:
		return "not in"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Negate returns the logically negated operator. Match has no negated
// form and is returned unchanged.
func (op Op) Negate() Op {
	switch op {
	case Equal:
		return NotEqual
	case NotEqual:
		return Equal
	case Less:
		return GreaterEqual
	case GreaterEqual:
		return Less
	case Greater:
		return LessEqual
	case LessEqual:
		return Greater
	case In:
		return NotIn
	case NotIn:
		return In
	default:
		return op
	}
}

// String renders a compact, human-readable type signature, used in status
// reports and error messages.
func (t Type) String() string {
	switch t.Kind {
	case List:
		return "list<" + t.Elem.String() + ">"
	case Map:
		return "map<" + t.Key.String() + "," + t.Elem.String() + ">"
	case Enum:
		names := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			names[i] = f.Name
		}
		return "enum{" + strings.Join(names, ",") + "}"
	case Record:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		n := t.Name
		if n == "" {
			n = "record"
		}
		return n + "{" + strings.Join(parts, ",") + "}"
	default:
		return t.Kind.String()
	}
}
