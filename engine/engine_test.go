package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vastdb/vast/catalog"
	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/query"
	"github.com/vastdb/vast/tableslice"
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vfs"
	"github.com/vastdb/vast/vtype"
)

func testSchema() vtype.Schema {
	return vtype.NewSchema("conn",
		vtype.Field{Name: "id", Type: vtype.New(vtype.Int)},
		vtype.Field{Name: "host", Type: vtype.New(vtype.String)},
	)
}

func buildSlice(t *testing.T, offset ids.ID, hosts ...string) tableslice.Slice {
	t.Helper()
	b := tableslice.NewBuilder(testSchema(), offset, tableslice.Columnar)
	for i, h := range hosts {
		if err := b.Add(value.OfInt(int64(offset)+int64(i)), value.OfString(h)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return b.Finish()
}

func newTestIndex(t *testing.T, opts Options) *Index {
	t.Helper()
	fs, err := vfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	opts.PartitionDir = "partitions"
	opts.SynopsisDir = "synopsis"
	idx, err := New(fs, catalog.New(), opts, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return idx
}

type countingSink struct{ n uint64 }

func (s *countingSink) Count(n uint64)            { s.n += n }
func (s *countingSink) Slice(_ tableslice.Slice) {}

func TestAppendRotatesOnCapacity(t *testing.T) {
	idx := newTestIndex(t, Options{PartitionCapacity: 2})
	firstActive := idx.Status().ActivePartitionID

	if err := idx.Append(buildSlice(t, 0, "a.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx.Status().CataloguedPartition != 0 {
		t.Fatalf("expected no rotation yet")
	}
	if err := idx.Append(buildSlice(t, 1, "b.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	st := idx.Status()
	if st.CataloguedPartition != 1 {
		t.Fatalf("CataloguedPartition = %d, want 1", st.CataloguedPartition)
	}
	if st.ActivePartitionID == firstActive {
		t.Fatalf("expected a new active partition after rotation")
	}
	if st.ActiveEvents != 0 {
		t.Fatalf("ActiveEvents = %d, want 0 right after rotation", st.ActiveEvents)
	}
}

func TestQuerySpansActiveAndPassive(t *testing.T) {
	idx := newTestIndex(t, Options{PartitionCapacity: 2})
	for i, h := range []string{"a.example.com", "b.example.com", "a.example.com"} {
		if err := idx.Append(buildSlice(t, ids.ID(i), h)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// One partition (2 rows) has rotated; one row remains active.
	pred := expr.Predicate{Field: "host", Op: vtype.Equal, Value: value.OfString("a.example.com")}
	sink := &countingSink{}
	q := query.New(pred, nil, query.Count{Mode: query.CountExact, Sink: sink})
	n, partErrs, err := idx.Query(q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(partErrs) != 0 {
		t.Fatalf("Query partition errors = %v, want none", partErrs)
	}
	if n != 2 {
		t.Fatalf("Query count = %d, want 2", n)
	}
}

func TestFlushAndIdleLoop(t *testing.T) {
	idx := newTestIndex(t, Options{IdleFlushInterval: 20 * time.Millisecond})
	if err := idx.Append(buildSlice(t, 0, "a.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	idx.Run(ctx)
	defer idx.Close()

	deadline := time.After(2 * time.Second)
	for {
		if idx.Status().CataloguedPartition == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("idle flush never rotated the active partition")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDeletePartition(t *testing.T) {
	idx := newTestIndex(t, Options{PartitionCapacity: 1})
	if err := idx.Append(buildSlice(t, 0, "a.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	id := idx.cat.IDs()[0]
	erased, err := idx.DeletePartition(id)
	if err != nil {
		t.Fatalf("DeletePartition: %v", err)
	}
	if erased.Count() != 1 {
		t.Fatalf("erased bitmap count = %d, want 1", erased.Count())
	}
	if idx.Status().CataloguedPartition != 0 {
		t.Fatalf("expected catalog to drop the deleted partition")
	}
}

func TestApplyTransformErasesMatchingRows(t *testing.T) {
	idx := newTestIndex(t, Options{PartitionCapacity: 3})
	if err := idx.Append(buildSlice(t, 0, "a.example.com", "b.example.com", "a.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	id := idx.cat.IDs()[0]

	step := TransformStep{Drop: expr.Predicate{Field: "host", Op: vtype.Equal, Value: value.OfString("a.example.com")}}
	report, err := idx.ApplyTransform(step, []uuid.UUID{id}, false)
	if err != nil {
		t.Fatalf("ApplyTransform: %v", err)
	}
	if report.Dropped != 2 {
		t.Fatalf("Dropped = %d, want 2", report.Dropped)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
}

type collectSink struct{ slices []tableslice.Slice }

func (s *collectSink) Count(uint64)              {}
func (s *collectSink) Slice(sl tableslice.Slice) { s.slices = append(s.slices, sl) }

func TestCursorDeliversInRequestedBatches(t *testing.T) {
	idx := newTestIndex(t, Options{PartitionCapacity: 2})
	for i := 0; i < 5; i++ {
		if err := idx.Append(buildSlice(t, ids.ID(i), "a.example.com")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Two rotated partitions of two rows each; one row still active.
	cur := idx.OpenCursor(expr.Literal(true), query.PreserveIDs)

	sink := &collectSink{}
	var total uint64
	for i := 0; ; i++ {
		n, done := cur.Extract(2, sink)
		if n > 2 {
			t.Fatalf("Extract delivered %d rows, requested at most 2", n)
		}
		total += n
		if done {
			break
		}
		if n == 0 {
			t.Fatalf("cursor stalled without reporting done")
		}
		if i > 10 {
			t.Fatalf("cursor never reported done")
		}
	}
	if total != 5 {
		t.Fatalf("cursor delivered %d rows in total, want 5", total)
	}
	if errs := cur.Errors(); len(errs) != 0 {
		t.Fatalf("cursor errors = %v, want none", errs)
	}
	seen := ids.New()
	for _, s := range sink.slices {
		seen = ids.Union(seen, s.Ids())
	}
	if seen.Count() != 5 {
		t.Fatalf("cursor delivered %d distinct row ids, want 5", seen.Count())
	}
}

func TestCursorExhaustedStaysDone(t *testing.T) {
	idx := newTestIndex(t, Options{})
	cur := idx.OpenCursor(expr.Literal(true), query.PreserveIDs)
	sink := &collectSink{}
	n, done := cur.Extract(10, sink)
	if n != 0 || !done {
		t.Fatalf("Extract on empty index = (%d, %v), want (0, true)", n, done)
	}
	if n, done = cur.Extract(10, sink); n != 0 || !done {
		t.Fatalf("second Extract = (%d, %v), want (0, true)", n, done)
	}
}

func TestRecoverCatalogAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	opts := Options{PartitionDir: "partitions", SynopsisDir: "synopsis", PartitionCapacity: 1}

	fs, err := vfs.New(dir)
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	idx, err := New(fs, catalog.New(), opts, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Append(buildSlice(t, 0, "a.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := idx.Append(buildSlice(t, 1, "b.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh engine over the same directory rebuilds the catalog from the
	// snapshot file.
	fs2, err := vfs.New(dir)
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	idx2, err := New(fs2, catalog.New(), opts, nil, nil)
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	if got := idx2.Status().CataloguedPartition; got != 2 {
		t.Fatalf("recovered %d partitions from snapshot, want 2", got)
	}
	pred := expr.Predicate{Field: "host", Op: vtype.Equal, Value: value.OfString("a.example.com")}
	sink := &countingSink{}
	n, partErrs, err := idx2.Query(query.New(pred, nil, query.Count{Mode: query.CountExact, Sink: sink}))
	if err != nil || len(partErrs) != 0 {
		t.Fatalf("Query after restart: n=%d errs=%v err=%v", n, partErrs, err)
	}
	if n != 1 {
		t.Fatalf("Query after restart = %d, want 1", n)
	}

	// Without the snapshot the directory rescan recovers the same state.
	if err := fs2.Erase("partitions/index.cat"); err != nil {
		t.Fatalf("Erase snapshot: %v", err)
	}
	idx3, err := New(fs2, catalog.New(), opts, nil, nil)
	if err != nil {
		t.Fatalf("New after snapshot loss: %v", err)
	}
	if got := idx3.Status().CataloguedPartition; got != 2 {
		t.Fatalf("recovered %d partitions by rescan, want 2", got)
	}
}

func TestCloseFlushesBufferedEvents(t *testing.T) {
	dir := t.TempDir()
	opts := Options{PartitionDir: "index", SynopsisDir: "index", PartitionCapacity: 100}

	fs, err := vfs.New(dir)
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	idx, err := New(fs, catalog.New(), opts, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := idx.Append(buildSlice(t, ids.ID(i), "a.example.com")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if idx.Status().CataloguedPartition != 0 {
		t.Fatalf("expected no rotation below capacity")
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fs2, err := vfs.New(dir)
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	idx2, err := New(fs2, catalog.New(), opts, nil, nil)
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	sink := &countingSink{}
	pred := expr.Predicate{Field: "host", Op: vtype.Equal, Value: value.OfString("a.example.com")}
	n, partErrs, err := idx2.Query(query.New(pred, nil, query.Count{Mode: query.CountExact, Sink: sink}))
	if err != nil || len(partErrs) != 0 {
		t.Fatalf("Query after restart: n=%d errs=%v err=%v", n, partErrs, err)
	}
	if n != 5 {
		t.Fatalf("Query after restart = %d, want 5 rows persisted by Close", n)
	}
}
