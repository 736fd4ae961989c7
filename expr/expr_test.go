package expr

import (
	"testing"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

type fakeIndex struct {
	equals map[string]*ids.Bitmap
}

func (f *fakeIndex) Lookup(op vtype.Op, v value.Data) (*ids.Bitmap, error) {
	if op != vtype.Equal {
		return ids.New(), nil
	}
	if b, ok := f.equals[v.Str]; ok {
		return b.Clone(), nil
	}
	return ids.New(), nil
}

func TestEvaluateConjunctionAndDisjunction(t *testing.T) {
	universe := ids.FromSorted(1, 2, 3, 4, 5)
	indexers := map[string]FieldIndex{
		"proto":  &fakeIndex{equals: map[string]*ids.Bitmap{"tcp": ids.FromSorted(1, 2, 3)}},
		"status": &fakeIndex{equals: map[string]*ids.Bitmap{"ok": ids.FromSorted(2, 3, 4)}},
	}
	e := Conjunction{Operands: []Expression{
		Predicate{Field: "proto", Op: vtype.Equal, Value: value.OfString("tcp")},
		Predicate{Field: "status", Op: vtype.Equal, Value: value.OfString("ok")},
	}}
	got, err := Evaluate(e, indexers, universe)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Count() != 2 || !got.Contains(2) || !got.Contains(3) {
		t.Fatalf("unexpected conjunction result: %v", got.ToSlice())
	}

	or := Disjunction{Operands: []Expression{
		Predicate{Field: "proto", Op: vtype.Equal, Value: value.OfString("tcp")},
		Predicate{Field: "status", Op: vtype.Equal, Value: value.OfString("ok")},
	}}
	gotOr, err := Evaluate(or, indexers, universe)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if gotOr.Count() != 4 {
		t.Fatalf("unexpected disjunction result: %v", gotOr.ToSlice())
	}
}

func TestEvaluateNegation(t *testing.T) {
	universe := ids.FromSorted(1, 2, 3)
	indexers := map[string]FieldIndex{
		"proto": &fakeIndex{equals: map[string]*ids.Bitmap{"tcp": ids.FromSorted(1)}},
	}
	e := Negation{Operand: Predicate{Field: "proto", Op: vtype.Equal, Value: value.OfString("tcp")}}
	got, err := Evaluate(e, indexers, universe)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Count() != 2 || got.Contains(1) {
		t.Fatalf("unexpected negation result: %v", got.ToSlice())
	}
}

func TestTailorStripsAbsentField(t *testing.T) {
	schema := vtype.NewSchema("conn", vtype.Field{Name: "proto", Type: vtype.New(vtype.String)})
	e := Conjunction{Operands: []Expression{
		Predicate{Field: "proto", Op: vtype.Equal, Value: value.OfString("tcp")},
		Predicate{Field: "missing", Op: vtype.Equal, Value: value.OfString("x")},
	}}
	got := Tailor(e, schema, nil)
	if _, ok := got.(Predicate); !ok {
		t.Fatalf("expected absent-field predicate to be stripped, leaving a single Predicate; got %T", got)
	}
}

func TestTailorPrunesResolvedMeta(t *testing.T) {
	schema := vtype.NewSchema("conn")
	e := Meta{Name: "import_time", Op: vtype.Greater, Value: value.OfInt(0)}
	got := Tailor(e, schema, map[string]bool{"import_time": true})
	if lit, ok := got.(Literal); !ok || !bool(lit) {
		t.Fatalf("expected resolved meta predicate to prune to Literal(true), got %#v", got)
	}
}
