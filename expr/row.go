package expr

import (
	"regexp"

	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// Row is a single record's fields, keyed by qualified field name, as used
// by the segment store's lookup path to re-check a predicate
// against materialized slice contents (as opposed to Evaluate, which
// answers via per-column indexes and produces whole-partition bitmaps).
type Row map[string]value.Data

// EvalRow evaluates expr against a single row, implementing
// `relation(col[r], op, v)` for every leaf and the same conjunction
// =AND / disjunction=OR / negation=NOT semantics as Evaluate.
func EvalRow(e Expression, row Row) bool {
	switch n := e.(type) {
	case Literal:
		return bool(n)
	case Predicate:
		v, ok := row[n.Field]
		if !ok || v.Null {
			return false
		}
		ok2, _ := Relation(n.Op, v, n.Value)
		return ok2
	case Meta:
		return true
	case Conjunction:
		for _, o := range n.Operands {
			if !EvalRow(o, row) {
				return false
			}
		}
		return true
	case Disjunction:
		for _, o := range n.Operands {
			if EvalRow(o, row) {
				return true
			}
		}
		return false
	case Negation:
		return !EvalRow(n.Operand, row)
	default:
		return false
	}
}

// Relation implements `relation(col[r], op, v)` for a single cell,
// matching the operator set a value index supports.
func Relation(op vtype.Op, col, v value.Data) (bool, error) {
	switch op {
	case vtype.Equal:
		return col.Equal(v), nil
	case vtype.NotEqual:
		return !col.Equal(v), nil
	case vtype.Less:
		return col.Compare(v) < 0, nil
	case vtype.LessEqual:
		return col.Compare(v) <= 0, nil
	case vtype.Greater:
		return col.Compare(v) > 0, nil
	case vtype.GreaterEqual:
		return col.Compare(v) >= 0, nil
	case vtype.Match:
		re, err := regexp.Compile(v.Str)
		if err != nil {
			return false, err
		}
		return re.MatchString(col.Str), nil
	case vtype.In:
		return v.Subnet.Contains(col.Addr), nil
	case vtype.NotIn:
		return !v.Subnet.Contains(col.Addr), nil
	default:
		return false, nil
	}
}
