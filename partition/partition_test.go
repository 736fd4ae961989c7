package partition

import (
	"testing"

	"github.com/google/uuid"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/query"
	"github.com/vastdb/vast/synopsis"
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

type countingSink struct{ n uint64 }

func (s *countingSink) Count(n uint64)             { s.n += n }
func (s *countingSink) Slice(_ tableslice.Slice) {}

func TestActiveAppendAndQuery(t *testing.T) {
	a, err := NewActive(ActiveOptions{})
	if err != nil {
		t.Fatalf("NewActive: %v", err)
	}
	if err := a.Append(buildSlice(t, 0, "a.example.com", "b.example.com", "a.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := a.Append(buildSlice(t, 3, "c.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := a.Events(); got != 4 {
		t.Fatalf("Events() = %d, want 4", got)
	}

	pred := expr.Predicate{Field: "host", Op: vtype.Equal, Value: value.OfString("a.example.com")}
	sink := &countingSink{}
	q := query.New(pred, nil, query.Count{Mode: query.CountExact, Sink: sink})
	n, err := a.Query(q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if n != 2 || sink.n != 2 {
		t.Fatalf("Query count = %d (sink %d), want 2", n, sink.n)
	}
}

func TestActivePersistAndPassiveQuery(t *testing.T) {
	dir := t.TempDir()
	fs, err := vfs.New(dir)
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}

	a, err := NewActive(ActiveOptions{})
	if err != nil {
		t.Fatalf("NewActive: %v", err)
	}
	if err := a.Append(buildSlice(t, 0, "a.example.com", "b.example.com", "a.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var flushed int
	a.OnFlush(func(_ uuid.UUID, _ *synopsis.PartitionSynopsis) { flushed++ })

	syn, err := a.Persist(fs, "partitions", "synopsis")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if syn.Events != 3 {
		t.Fatalf("synopsis events = %d, want 3", syn.Events)
	}
	if flushed != 1 {
		t.Fatalf("flush listener fired %d times, want 1", flushed)
	}

	if _, err := a.Persist(fs, "partitions", "synopsis"); err == nil {
		t.Fatalf("expected error persisting an already-persisted partition")
	}

	passive := NewPassive(fs, "partitions", "synopsis", a.ID(), syn)
	pred := expr.Predicate{Field: "host", Op: vtype.Equal, Value: value.OfString("a.example.com")}
	sink := &countingSink{}
	q := query.New(pred, nil, query.Count{Mode: query.CountExact, Sink: sink})
	n, err := passive.Query(q)
	if err != nil {
		t.Fatalf("passive Query: %v", err)
	}
	if n != 2 || sink.n != 2 {
		t.Fatalf("passive query count = %d (sink %d), want 2", n, sink.n)
	}

	reopened := OpenPassive(fs, "partitions", "synopsis", a.ID())
	gotSyn, err := reopened.Synopsis()
	if err != nil {
		t.Fatalf("Synopsis: %v", err)
	}
	if gotSyn.Events != 3 {
		t.Fatalf("reopened synopsis events = %d, want 3", gotSyn.Events)
	}
}

func TestPassiveErasePartial(t *testing.T) {
	dir := t.TempDir()
	fs, err := vfs.New(dir)
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}

	a, err := NewActive(ActiveOptions{})
	if err != nil {
		t.Fatalf("NewActive: %v", err)
	}
	if err := a.Append(buildSlice(t, 0, "a.example.com", "b.example.com", "c.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	syn, err := a.Persist(fs, "partitions", "synopsis")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	passive := NewPassive(fs, "partitions", "synopsis", a.ID(), syn)
	removed, err := passive.Erase(ids.FromSorted(1))
	if err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	remaining, err := passive.Ids()
	if err != nil {
		t.Fatalf("Ids: %v", err)
	}
	if remaining.Count() != 2 || remaining.Contains(1) {
		t.Fatalf("unexpected remaining ids after erase: count=%d contains(1)=%v", remaining.Count(), remaining.Contains(1))
	}
}

func TestPassiveEraseWholePartition(t *testing.T) {
	dir := t.TempDir()
	fs, err := vfs.New(dir)
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}

	a, err := NewActive(ActiveOptions{})
	if err != nil {
		t.Fatalf("NewActive: %v", err)
	}
	if err := a.Append(buildSlice(t, 0, "a.example.com", "b.example.com")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	syn, err := a.Persist(fs, "partitions", "synopsis")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	passive := NewPassive(fs, "partitions", "synopsis", a.ID(), syn)
	removed, err := passive.Erase(ids.FromSorted(0, 1))
	if err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if fs.Exists(segmentPath("partitions", a.ID())) {
		t.Fatalf("segment file should have been deleted")
	}
	if fs.Exists(artifactPath("partitions", a.ID())) {
		t.Fatalf("artifact file should have been deleted")
	}
}
