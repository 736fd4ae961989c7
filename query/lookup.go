package query

import (
	"fmt"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/tableslice"
	"github.com/vastdb/vast/value"
)

// HandleLookup implements the handle-lookup algorithm shared by active
// and passive partitions: for every slice the segment
// store returned for query.Ids, tailor query.Expr to that slice's
// schema, apply the resulting checker, and route matching rows to the
// command's sink. It returns the total number of matched rows across all
// slices.
func HandleLookup(q Query, slices []tableslice.Slice) (uint64, error) {
	var numHits uint64
	for _, s := range slices {
		checker := q.Expr
		if checker != nil {
			checker = expr.Tailor(checker, s.Schema(), nil)
		} else {
			checker = expr.Literal(true)
		}

		switch cmd := q.Cmd.(type) {
		case Count:
			n := countMatches(s, checker, q.Ids)
			numHits += n
			if cmd.Sink != nil {
				cmd.Sink.Count(n)
			}
		case Extract:
			switch cmd.Policy {
			case PreserveIDs:
				restricted := tableslice.Select(s, restrictOrAll(q.Ids, s))
				if restricted == nil {
					continue
				}
				if lit, ok := checker.(expr.Literal); ok && bool(lit) {
					numHits += restricted.Rows()
					if cmd.Sink != nil {
						cmd.Sink.Slice(restricted)
					}
					continue
				}
				hits := matchingIds(restricted, checker)
				out := tableslice.Select(restricted, hits)
				if out != nil {
					numHits += out.Rows()
					if cmd.Sink != nil {
						cmd.Sink.Slice(out)
					}
				}
			case DropIDs:
				out, n := filterDropIDs(s, checker, q.Ids)
				numHits += n
				if out != nil && cmd.Sink != nil {
					cmd.Sink.Slice(out)
				}
			default:
				return numHits, fmt.Errorf("query: unknown extract policy %d", cmd.Policy)
			}
		case Erase:
			// Erase is handled by the partition directly against the
			// segment store; HandleLookup is not invoked for erase
			// commands.
		default:
			return numHits, fmt.Errorf("query: unknown command %T", q.Cmd)
		}
	}
	return numHits, nil
}

func restrictOrAll(restrict *ids.Bitmap, s tableslice.Slice) *ids.Bitmap {
	if restrict == nil || restrict.IsEmpty() {
		return s.Ids()
	}
	return restrict
}

func countMatches(s tableslice.Slice, checker expr.Expression, restrict *ids.Bitmap) uint64 {
	restricted := restrictOrAll(restrict, s)
	var n uint64
	for r := uint64(0); r < s.Rows(); r++ {
		id := tableslice.IDAt(s, int(r))
		if !restricted.Contains(id) {
			continue
		}
		if expr.EvalRow(checker, tableslice.RowFields(s, int(r))) {
			n++
		}
	}
	return n
}

func matchingIds(s tableslice.Slice, checker expr.Expression) *ids.Bitmap {
	out := ids.New()
	for r := uint64(0); r < s.Rows(); r++ {
		if expr.EvalRow(checker, tableslice.RowFields(s, int(r))) {
			out.Add(tableslice.IDAt(s, int(r)))
		}
	}
	return out
}

// filterDropIDs applies `filter(slice, checker, query.ids)`: rows that
// pass both the restriction bitmap and the checker are copied into a
// fresh slice, renumbered from 0 rather than keeping their source ids.
func filterDropIDs(s tableslice.Slice, checker expr.Expression, restrict *ids.Bitmap) (tableslice.Slice, uint64) {
	restricted := restrictOrAll(restrict, s)
	fields := s.Schema().Fields()
	b := tableslice.NewBuilder(s.Schema(), 0, s.Encoding())
	var n uint64
	for r := uint64(0); r < s.Rows(); r++ {
		id := tableslice.IDAt(s, int(r))
		if !restricted.Contains(id) {
			continue
		}
		row := tableslice.RowFields(s, int(r))
		if !expr.EvalRow(checker, row) {
			continue
		}
		vals := make([]value.Data, len(fields))
		for i, f := range fields {
			vals[i] = row[f.Name]
		}
		if err := b.Add(vals...); err != nil {
			continue
		}
		n++
	}
	if n == 0 {
		return nil, 0
	}
	return b.Finish(), n
}
