// Package expr implements the expression tree used to describe VAST
// queries — conjunctions, disjunctions, negations, and field predicates —
// along with the intra-partition evaluator and the schema-tailoring
// pass.
package expr

import (
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// Expression is any node of the predicate tree.
type Expression interface {
	isExpression()
}

// Predicate tests one field against a literal value.
type Predicate struct {
	Field string
	Op    vtype.Op
	Value value.Data
}

func (Predicate) isExpression() {}

// Meta is a partition-level predicate over synopsis metadata (e.g.
// `#import_time > T`), resolved by the catalog during candidate
// resolution rather than by a per-column indexer.
type Meta struct {
	Name  string // "import_time", "offset", "events"
	Op    vtype.Op
	Value value.Data
}

func (Meta) isExpression() {}

// Conjunction is the logical AND of its operands (intersection of hits).
type Conjunction struct {
	Operands []Expression
}

func (Conjunction) isExpression() {}

// Disjunction is the logical OR of its operands (union of hits).
type Disjunction struct {
	Operands []Expression
}

func (Disjunction) isExpression() {}

// Negation is the logical NOT of its operand (complement over the
// partition's row-id universe).
type Negation struct {
	Operand Expression
}

func (Negation) isExpression() {}

// Literal is a resolved boolean identity node produced by tailoring: True
// for predicates that no longer constrain anything in this partition
// (absent field, already-resolved meta-predicate), False for predicates
// that can never match.
type Literal bool

func (Literal) isExpression() {}

// And is a convenience constructor that flattens a single-operand
// conjunction down to that operand.
func And(operands ...Expression) Expression {
	if len(operands) == 1 {
		return operands[0]
	}
	return Conjunction{Operands: operands}
}

// Or is the disjunction analogue of And.
func Or(operands ...Expression) Expression {
	if len(operands) == 1 {
		return operands[0]
	}
	return Disjunction{Operands: operands}
}

// Not wraps an expression in a negation.
func Not(e Expression) Expression { return Negation{Operand: e} }

// Fields returns every field name referenced by a leaf Predicate in the
// tree, in depth-first order (duplicates included).
func Fields(e Expression) []string {
	var out []string
	walk(e, func(p Predicate) { out = append(out, p.Field) })
	return out
}

func walk(e Expression, visit func(Predicate)) {
	switch n := e.(type) {
	case Predicate:
		visit(n)
	case Conjunction:
		for _, o := range n.Operands {
			walk(o, visit)
		}
	case Disjunction:
		for _, o := range n.Operands {
			walk(o, visit)
		}
	case Negation:
		walk(n.Operand, visit)
	}
}
