package tableslice

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// wireSlice is the on-disk representation of a Slice: always row-major,
// regardless of the in-memory encoding it was built with. Segments decide
// independently how to store the encoded bytes (compression, placement);
// this type only fixes the logical layout.
type wireSlice struct {
	Schema     vtype.Schema
	Offset     ids.ID
	ImportTime time.Time
	Encoding   Encoding
	Rows       [][]value.Data

	// RowIDs holds each row's absolute id, in row order, when the slice is
	// not a contiguous range starting at Offset (the output of Select over
	// a punctured id set). nil means "contiguous starting at Offset".
	// Without this, a persisted-then-reloaded punctured slice would decode
	// back into a slice that silently reports the wrong ids via Offset+row.
	RowIDs []ids.ID
}

// Encode serializes a slice for storage inside a segment.
func Encode(s Slice) ([]byte, error) {
	rows := make([][]value.Data, s.Rows())
	cols := len(s.Schema().Fields())
	for r := range rows {
		row := make([]value.Data, cols)
		for c := 0; c < cols; c++ {
			row[c] = s.At(r, c)
		}
		rows[r] = row
	}
	w := wireSlice{
		Schema:     s.Schema(),
		Offset:     s.Offset(),
		ImportTime: s.ImportTime(),
		Encoding:   s.Encoding(),
		Rows:       rows,
		RowIDs:     explicitRowIDs(s),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, fmt.Errorf("tableslice: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// explicitRowIDs returns s's per-row absolute ids if s is a punctured
// compactRowSlice (the output of Select over a non-contiguous id set), or
// nil if s's rows form a contiguous range starting at s.Offset().
func explicitRowIDs(s Slice) []ids.ID {
	cr, ok := s.(*compactRowSlice)
	if !ok {
		return nil
	}
	return cr.rowIDs
}

// Decode restores a slice previously produced by Encode, reconstructing
// the original encoding (columnar or compact row).
func Decode(data []byte) (Slice, error) {
	var w wireSlice
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("tableslice: decode: %w", err)
	}
	switch w.Encoding {
	case Columnar:
		cols := len(w.Schema.Fields())
		columns := make([][]value.Data, cols)
		for c := 0; c < cols; c++ {
			col := make([]value.Data, len(w.Rows))
			for r, row := range w.Rows {
				col[r] = row[c]
			}
			columns[c] = col
		}
		return &columnarSlice{
			schema:     w.Schema,
			offset:     w.Offset,
			rows:       uint64(len(w.Rows)),
			importTime: w.ImportTime,
			columns:    columns,
		}, nil
	default:
		return &compactRowSlice{
			schema:     w.Schema,
			offset:     w.Offset,
			importTime: w.ImportTime,
			rowsData:   w.Rows,
			rowIDs:     w.RowIDs,
		}, nil
	}
}
