package tableslice

import (
	"fmt"
	"time"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

// Builder accumulates rows for a single schema and yields an immutable
// Slice on Finish. A Builder has exactly one writer; it is not safe for
// concurrent use.
type Builder struct {
	schema   vtype.Schema
	offset   ids.ID
	enc      Encoding
	rows     [][]value.Data
	finished bool
}

// NewBuilder starts a builder for rows beginning at the given absolute
// row id, encoding rows in the requested physical layout.
func NewBuilder(schema vtype.Schema, offset ids.ID, enc Encoding) *Builder {
	return &Builder{schema: schema, offset: offset, enc: enc}
}

// Add appends one row. vals must align 1:1 with schema.Fields() in order.
func (b *Builder) Add(vals ...value.Data) error {
	if b.finished {
		return fmt.Errorf("tableslice: builder already finished")
	}
	if len(vals) != len(b.schema.Fields()) {
		return fmt.Errorf("tableslice: row has %d values, schema has %d fields", len(vals), len(b.schema.Fields()))
	}
	row := make([]value.Data, len(vals))
	copy(row, vals)
	b.rows = append(b.rows, row)
	return nil
}

// Rows reports how many rows have been added so far.
func (b *Builder) Rows() int { return len(b.rows) }

// Finish freezes the builder's rows into an immutable Slice. The builder
// must not be reused afterward.
func (b *Builder) Finish() Slice {
	b.finished = true
	now := time.Now()
	switch b.enc {
	case Columnar:
		cols := len(b.schema.Fields())
		columns := make([][]value.Data, cols)
		for c := 0; c < cols; c++ {
			col := make([]value.Data, len(b.rows))
			for r, row := range b.rows {
				col[r] = row[c]
			}
			columns[c] = col
		}
		return &columnarSlice{
			schema:     b.schema,
			offset:     b.offset,
			rows:       uint64(len(b.rows)),
			importTime: now,
			columns:    columns,
		}
	default:
		return &compactRowSlice{
			schema:     b.schema,
			offset:     b.offset,
			importTime: now,
			rowsData:   b.rows,
		}
	}
}
