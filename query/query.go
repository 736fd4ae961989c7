// Package query implements the Query value and the handle-lookup
// algorithm shared by active and passive partitions when delegating to
// the segment store.
package query

import (
	"github.com/google/uuid"

	"github.com/vastdb/vast/expr"
	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/tableslice"
)

// CountMode selects whether a count command must be exact or may return a
// fast upper-bound estimate (e.g. straight from a catalog synopsis).
type CountMode int

const (
	CountExact CountMode = iota
	CountEstimate
)

// ExtractPolicy controls whether an extract command keeps original row
// ids in its output slices or renumbers them away.
type ExtractPolicy int

const (
	PreserveIDs ExtractPolicy = iota
	DropIDs
)

// Sink receives a query's output: running counts for count commands,
// matching sub-slices for extract commands.
type Sink interface {
	Count(n uint64)
	Slice(s tableslice.Slice)
}

// Command is one of Count, Extract, or Erase.
type Command interface {
	isCommand()
}

// Count asks for the number of matching rows.
type Count struct {
	Mode CountMode
	Sink Sink
}

func (Count) isCommand() {}

// Extract asks for the matching rows themselves.
type Extract struct {
	Policy ExtractPolicy
	Sink   Sink
}

func (Extract) isCommand() {}

// Erase asks for the matching rows to be permanently removed.
type Erase struct{}

func (Erase) isCommand() {}

// Query is a single request routed through the Index to candidate
// partitions. An empty Ids bitmap means "unrestricted": the full
// partition universe is in scope.
type Query struct {
	ID   uuid.UUID
	Expr expr.Expression
	Ids  *ids.Bitmap
	Cmd  Command
}

// New builds a query with a freshly generated id.
func New(e expr.Expression, restrict *ids.Bitmap, cmd Command) Query {
	if restrict == nil {
		restrict = ids.New()
	}
	return Query{ID: uuid.New(), Expr: e, Ids: restrict, Cmd: cmd}
}
