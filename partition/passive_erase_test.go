package partition

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/query"
	"github.com/vastdb/vast/vfs"
)

// persistedPassive builds a partition holding rows 0..n-1 and hands it
// back reopened as a passive partition, already warmed so the tests
// below race queries against erases rather than against the lazy load.
func persistedPassive(t *testing.T, n int) *Passive {
	t.Helper()
	fs, err := vfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	a, err := NewActive(ActiveOptions{})
	if err != nil {
		t.Fatalf("NewActive: %v", err)
	}
	hosts := make([]string, n)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("host-%d.example.com", i)
	}
	if err := a.Append(buildSlice(t, 0, hosts...)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	syn, err := a.Persist(fs, "partitions", "synopsis")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	p := NewPassive(fs, "partitions", "synopsis", a.ID(), syn)
	if _, err := p.Ids(); err != nil {
		t.Fatalf("warm load: %v", err)
	}
	return p
}

func idRange(lo, hi ids.ID) *ids.Bitmap {
	out := ids.New()
	for i := lo; i < hi; i++ {
		out.Add(i)
	}
	return out
}

// A query that pinned the pre-erase segment must keep reading a
// consistent snapshot while a concurrent partial erase rewrites and
// renames the segment file out from under it. Run with -race.
func TestConcurrentQueryDuringPartialErase(t *testing.T) {
	p := persistedPassive(t, 100)
	survivors := idRange(50, 100)

	errc := make(chan error, 1)
	report := func(err error) {
		select {
		case errc <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < 200; i++ {
			sink := &countingSink{}
			q := query.New(nil, survivors.Clone(), query.Count{Mode: query.CountExact, Sink: sink})
			n, err := p.Query(q)
			if err != nil {
				report(fmt.Errorf("query during erase: %w", err))
				return
			}
			// The queried ids all survive the erase, so the count must
			// be exact against both the pre- and post-erase segment.
			if n != 50 {
				report(fmt.Errorf("query during erase returned %d rows, want 50", n))
				return
			}
		}
	}()

	close(start)
	removed, err := p.Erase(idRange(0, 50))
	if err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if removed != 50 {
		t.Fatalf("removed = %d, want 50", removed)
	}
	wg.Wait()
	select {
	case err := <-errc:
		t.Fatal(err)
	default:
	}

	remaining, err := p.Ids()
	if err != nil {
		t.Fatalf("Ids: %v", err)
	}
	if remaining.Count() != 50 || remaining.Contains(49) || !remaining.Contains(50) {
		t.Fatalf("unexpected remaining ids: count=%d", remaining.Count())
	}
}

// A whole-partition erase may land between two queries; each query must
// then either observe the full pre-erase partition or fail to load the
// retired one — never crash or return a torn count. Run with -race.
func TestConcurrentQueryDuringWholeErase(t *testing.T) {
	p := persistedPassive(t, 100)
	universe := idRange(0, 100)

	errc := make(chan error, 1)
	report := func(err error) {
		select {
		case errc <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < 200; i++ {
			sink := &countingSink{}
			q := query.New(nil, universe.Clone(), query.Count{Mode: query.CountExact, Sink: sink})
			n, err := p.Query(q)
			if err != nil {
				// The partition was retired mid-loop; every later query
				// fails the artifact reload the same way.
				if strings.Contains(err.Error(), "load artifact") {
					return
				}
				report(fmt.Errorf("query during whole erase: %w", err))
				return
			}
			if n != 100 {
				report(fmt.Errorf("query during whole erase returned %d rows, want 100", n))
				return
			}
		}
	}()

	close(start)
	removed, err := p.Erase(universe.Clone())
	if err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if removed != 100 {
		t.Fatalf("removed = %d, want 100", removed)
	}
	wg.Wait()
	select {
	case err := <-errc:
		t.Fatal(err)
	default:
	}
}
