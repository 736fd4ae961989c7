package expr

import (
	"fmt"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/vtype"
	"github.com/vastdb/vast/value"
)

// FieldIndex is the lookup surface an evaluator needs from a per-column
// value index. valueindex.Indexer satisfies this.
type FieldIndex interface {
	Lookup(op vtype.Op, v value.Data) (*ids.Bitmap, error)
}

// Evaluate walks expr post-order: a leaf predicate calls
// its field's indexer; conjunction is intersection, disjunction is union,
// negation is complement over universe (normally partition.ids).
// Evaluation short-circuits to an empty bitmap as soon as a conjunction
// branch is known to be empty.
func Evaluate(e Expression, indexers map[string]FieldIndex, universe *ids.Bitmap) (*ids.Bitmap, error) {
	switch n := e.(type) {
	case Literal:
		if n {
			return universe.Clone(), nil
		}
		return ids.New(), nil
	case Predicate:
		idx, ok := indexers[n.Field]
		if !ok {
			// Tailoring strips predicates on absent fields before
			// evaluation; a surviving one matches nothing.
			return ids.New(), nil
		}
		hits, err := idx.Lookup(n.Op, n.Value)
		if err != nil {
			return nil, fmt.Errorf("expr: evaluate field %q: %w", n.Field, err)
		}
		return hits, nil
	case Meta:
		// Meta predicates are resolved by the catalog before an
		// expression ever reaches a partition's evaluator; a surviving
		// one is treated as already-satisfied.
		return universe.Clone(), nil
	case Conjunction:
		acc := universe.Clone()
		for _, o := range n.Operands {
			hits, err := Evaluate(o, indexers, universe)
			if err != nil {
				return nil, err
			}
			acc = ids.Intersect(acc, hits)
			if acc.IsEmpty() {
				return acc, nil
			}
		}
		return acc, nil
	case Disjunction:
		acc := ids.New()
		for _, o := range n.Operands {
			hits, err := Evaluate(o, indexers, universe)
			if err != nil {
				return nil, err
			}
			acc = ids.Union(acc, hits)
		}
		return acc, nil
	case Negation:
		inner, err := Evaluate(n.Operand, indexers, universe)
		if err != nil {
			return nil, err
		}
		return ids.Difference(universe, inner), nil
	default:
		return nil, fmt.Errorf("expr: unknown expression node %T", e)
	}
}
