// Package tableslice implements the immutable columnar batch of events:
// a (schema, rows, offset, import_time, encoding) tuple shared by
// reference between a single writer (Builder) and many readers.
package tableslice

import (
	"time"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// Encoding names the physical layout a Slice stores its rows in.
type Encoding int

const (
	// Columnar stores one slice of value.Data per column (fast for
	// per-column indexing and synopsis construction).
	Columnar Encoding = iota
	// CompactRow stores one slice of value.Data per row (fast for
	// extracting whole records, e.g. JSON/Arrow writers downstream).
	CompactRow
)

// Slice is an immutable, reference-counted columnar batch of events.
type Slice interface {
	Schema() vtype.Schema
	Offset() ids.ID
	Rows() uint64
	ImportTime() time.Time
	Encoding() Encoding

	// At returns the value at (row, col), where row is relative to the
	// slice (0..Rows()-1) and col indexes Schema().Fields() (top-level
	// fields only; nested record fields are addressed through the parent
	// field's Data.Fields map).
	At(row int, col int) value.Data

	// Column returns every value of the given top-level column, in row
	// order. Used by synopsis construction and value indexers, which
	// process a whole column at a time.
	Column(col int) []value.Data

	// Ids returns the absolute row ids covered by this slice as a bitmap.
	// For a freshly built or decoded slice this is the contiguous range
	// [Offset(), Offset()+Rows()), but a slice produced by Select over a
	// non-contiguous id set reports exactly the ids it retained, not a
	// reconstructed range. Used by segment lookups and erase operations.
	Ids() *ids.Bitmap
}

// columnarSlice is the Columnar-encoded implementation.
type columnarSlice struct {
	schema     vtype.Schema
	offset     ids.ID
	rows       uint64
	importTime time.Time
	columns    [][]value.Data // len(columns) == len(schema.Fields()); len(columns[i]) == rows
}

func (s *columnarSlice) Schema() vtype.Schema    { return s.schema }
func (s *columnarSlice) Offset() ids.ID          { return s.offset }
func (s *columnarSlice) Rows() uint64            { return s.rows }
func (s *columnarSlice) ImportTime() time.Time   { return s.importTime }
func (s *columnarSlice) Encoding() Encoding      { return Columnar }
func (s *columnarSlice) At(row, col int) value.Data {
	return s.columns[col][row]
}
func (s *columnarSlice) Column(col int) []value.Data {
	return s.columns[col]
}
func (s *columnarSlice) Ids() *ids.Bitmap {
	return rangeBitmap(s.offset, s.rows)
}

// compactRowSlice is the CompactRow-encoded implementation: one []value.Data
// per row instead of per column.
type compactRowSlice struct {
	schema     vtype.Schema
	offset     ids.ID
	importTime time.Time
	rowsData   [][]value.Data // len(rowsData) == rows; len(rowsData[i]) == len(schema.Fields())

	// rowIDs holds the absolute row id of each entry of rowsData, in the
	// same order, when the slice's rows are not a contiguous range starting
	// at offset (the output of Select over a punctured id set). nil means
	// "contiguous starting at offset", the common ingest/decode case.
	rowIDs []ids.ID
}

func (s *compactRowSlice) Schema() vtype.Schema  { return s.schema }
func (s *compactRowSlice) Offset() ids.ID        { return s.offset }
func (s *compactRowSlice) Rows() uint64          { return uint64(len(s.rowsData)) }
func (s *compactRowSlice) ImportTime() time.Time { return s.importTime }
func (s *compactRowSlice) Encoding() Encoding     { return CompactRow }
func (s *compactRowSlice) At(row, col int) value.Data {
	return s.rowsData[row][col]
}
func (s *compactRowSlice) Column(col int) []value.Data {
	out := make([]value.Data, len(s.rowsData))
	for i, row := range s.rowsData {
		out[i] = row[col]
	}
	return out
}
func (s *compactRowSlice) Ids() *ids.Bitmap {
	if s.rowIDs != nil {
		return ids.FromSorted(s.rowIDs...)
	}
	return rangeBitmap(s.offset, uint64(len(s.rowsData)))
}

func rangeBitmap(offset ids.ID, n uint64) *ids.Bitmap {
	b := ids.New()
	for i := uint64(0); i < n; i++ {
		b.Add(offset + i)
	}
	return b
}

// IDAt returns the absolute row id of row r (0..Rows()-1) within s. Callers
// that need a row's id — rather than its contents via At/Column — must use
// this instead of assuming Offset()+r: a slice produced by Select over a
// non-contiguous id set (see compactRowSlice.rowIDs) stores each row's real
// id explicitly, since Offset()+r would recompute a fabricated, generally
// wrong, contiguous id for it.
func IDAt(s Slice, r int) ids.ID {
	if cr, ok := s.(*compactRowSlice); ok && cr.rowIDs != nil {
		return cr.rowIDs[r]
	}
	return s.Offset() + uint64(r)
}

// RowFields returns one row's top-level fields keyed by field name, for
// callers (e.g. the query package's handle-lookup algorithm) that need to
// re-check a predicate against materialized row contents rather than a
// column index.
func RowFields(s Slice, row int) map[string]value.Data {
	fields := s.Schema().Fields()
	out := make(map[string]value.Data, len(fields))
	for c, f := range fields {
		out[f.Name] = s.At(row, c)
	}
	return out
}

// Select returns a new slice view containing only the rows whose absolute
// row id is a member of xs. It is the Go analogue of `select(slice, ids)`
// used throughout §4.3/§4.4's lookup and erase algorithms. xs need not
// select a contiguous run of the source slice's rows (a partial erase or an
// `id in {...}` restriction normally won't); the returned slice records
// each kept row's actual absolute id rather than assuming one, so its
// Ids() reports exactly the retained ids instead of a fabricated range.
func Select(s Slice, xs *ids.Bitmap) Slice {
	n := s.Rows()
	var keptRows []uint64
	var keptIDs []ids.ID
	for r := uint64(0); r < n; r++ {
		id := IDAt(s, int(r))
		if xs.Contains(id) {
			keptRows = append(keptRows, r)
			keptIDs = append(keptIDs, id)
		}
	}
	if len(keptRows) == 0 {
		return nil
	}
	schema := s.Schema()
	cols := len(schema.Fields())
	rowsData := make([][]value.Data, len(keptRows))
	for i, r := range keptRows {
		row := make([]value.Data, cols)
		for c := 0; c < cols; c++ {
			row[c] = s.At(int(r), c)
		}
		rowsData[i] = row
	}

	// A contiguous kept run (the common case: no rows dropped, or a
	// leading/trailing trim) doesn't need the explicit id list — rowIDs
	// stays nil and Ids() falls back to the cheaper contiguous-range form.
	contiguous := true
	for i := 1; i < len(keptIDs); i++ {
		if keptIDs[i] != keptIDs[i-1]+1 {
			contiguous = false
			break
		}
	}
	out := &compactRowSlice{
		schema:     schema,
		offset:     keptIDs[0],
		importTime: s.ImportTime(),
		rowsData:   rowsData,
	}
	if !contiguous {
		out.rowIDs = keptIDs
	}
	return out
}
