package query

import (
	"testing"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/tableslice"
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

type recordingSink struct {
	counts []uint64
	slices []tableslice.Slice
}

func (s *recordingSink) Count(n uint64)            { s.counts = append(s.counts, n) }
func (s *recordingSink) Slice(sl tableslice.Slice)  { s.slices = append(s.slices, sl) }

func testSchema() vtype.Schema {
	return vtype.NewSchema("conn",
		vtype.Field{Name: "proto", Type: vtype.New(vtype.String)},
	)
}

func buildSlice(t *testing.T, offset uint64, protos ...string) tableslice.Slice {
	t.Helper()
	b := tableslice.NewBuilder(testSchema(), offset, tableslice.Columnar)
	for _, p := range protos {
		if err := b.Add(value.OfString(p)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return b.Finish()
}

func TestHandleLookupCount(t *testing.T) {
	s := buildSlice(t, 0, "tcp", "udp", "tcp")
	sink := &recordingSink{}
	q := Query{
		Expr: expr.Predicate{Field: "proto", Op: vtype.Equal, Value: value.OfString("tcp")},
		Ids:  ids.New(),
		Cmd:  Count{Mode: CountExact, Sink: sink},
	}
	n, err := HandleLookup(q, []tableslice.Slice{s})
	if err != nil {
		t.Fatalf("HandleLookup: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 matches, got %d", n)
	}
	if len(sink.counts) != 1 || sink.counts[0] != 2 {
		t.Fatalf("unexpected sink counts: %v", sink.counts)
	}
}

func TestHandleLookupExtractDropIDs(t *testing.T) {
	s := buildSlice(t, 10, "tcp", "udp", "tcp")
	sink := &recordingSink{}
	q := Query{
		Expr: expr.Predicate{Field: "proto", Op: vtype.Equal, Value: value.OfString("tcp")},
		Ids:  ids.New(),
		Cmd:  Extract{Policy: DropIDs, Sink: sink},
	}
	n, err := HandleLookup(q, []tableslice.Slice{s})
	if err != nil {
		t.Fatalf("HandleLookup: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 matches, got %d", n)
	}
	if len(sink.slices) != 1 || sink.slices[0].Rows() != 2 {
		t.Fatalf("unexpected extracted slices: %v", sink.slices)
	}
	if sink.slices[0].Offset() != 0 {
		t.Fatalf("expected drop_ids output rebased to offset 0, got %d", sink.slices[0].Offset())
	}
}

func TestHandleLookupExtractPreserveIDs(t *testing.T) {
	s := buildSlice(t, 100, "tcp", "udp", "tcp")
	sink := &recordingSink{}
	q := Query{
		Expr: expr.Predicate{Field: "proto", Op: vtype.Equal, Value: value.OfString("tcp")},
		Ids:  ids.New(),
		Cmd:  Extract{Policy: PreserveIDs, Sink: sink},
	}
	_, err := HandleLookup(q, []tableslice.Slice{s})
	if err != nil {
		t.Fatalf("HandleLookup: %v", err)
	}
	if len(sink.slices) != 1 {
		t.Fatalf("expected one extracted slice, got %d", len(sink.slices))
	}
	if sink.slices[0].Offset() != 100 {
		t.Fatalf("expected preserve_ids output to keep original offset, got %d", sink.slices[0].Offset())
	}
}

func TestHandleLookupIdsRestriction(t *testing.T) {
	s := buildSlice(t, 0, "tcp", "tcp", "tcp")
	sink := &recordingSink{}
	q := Query{
		Expr: nil,
		Ids:  ids.FromSorted(0, 1),
		Cmd:  Count{Mode: CountExact, Sink: sink},
	}
	n, err := HandleLookup(q, []tableslice.Slice{s})
	if err != nil {
		t.Fatalf("HandleLookup: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected restriction to limit count to 2, got %d", n)
	}
}
