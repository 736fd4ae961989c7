package expr

import "github.com/vastdb/vast/vtype"

// Tailor resolves an expression against a concrete schema: predicates on
// fields the schema doesn't have are stripped (replaced with the
// vacuously-true Literal), and meta-predicates whose name appears in
// resolvedMeta — because the catalog already used them to prune
// candidates — are pruned the same way.
func Tailor(e Expression, schema vtype.Schema, resolvedMeta map[string]bool) Expression {
	fields := fieldSet(schema)
	return tailor(e, fields, resolvedMeta)
}

func fieldSet(schema vtype.Schema) map[string]bool {
	out := map[string]bool{}
	for _, f := range schema.Leaves() {
		out[f.Name] = true
	}
	return out
}

func tailor(e Expression, fields map[string]bool, resolvedMeta map[string]bool) Expression {
	switch n := e.(type) {
	case Predicate:
		if !fields[n.Field] {
			return Literal(true)
		}
		return n
	case Meta:
		if resolvedMeta[n.Name] {
			return Literal(true)
		}
		return n
	case Conjunction:
		operands := make([]Expression, len(n.Operands))
		for i, o := range n.Operands {
			operands[i] = tailor(o, fields, resolvedMeta)
		}
		return simplifyConjunction(operands)
	case Disjunction:
		operands := make([]Expression, len(n.Operands))
		for i, o := range n.Operands {
			operands[i] = tailor(o, fields, resolvedMeta)
		}
		return simplifyDisjunction(operands)
	case Negation:
		return Negation{Operand: tailor(n.Operand, fields, resolvedMeta)}
	default:
		return e
	}
}

func simplifyConjunction(operands []Expression) Expression {
	kept := operands[:0]
	for _, o := range operands {
		if lit, ok := o.(Literal); ok {
			if !bool(lit) {
				return Literal(false)
			}
			continue // drop trivially-true operands
		}
		kept = append(kept, o)
	}
	if len(kept) == 0 {
		return Literal(true)
	}
	return And(kept...)
}

func simplifyDisjunction(operands []Expression) Expression {
	kept := operands[:0]
	for _, o := range operands {
		if lit, ok := o.(Literal); ok {
			if bool(lit) {
				return Literal(true)
			}
			continue // drop trivially-false operands
		}
		kept = append(kept, o)
	}
	if len(kept) == 0 {
		return Literal(false)
	}
	return Or(kept...)
}
