// Package vasterr implements the storage engine's error taxonomy: a
// small set of error kinds shared across every component, plus
// IsNotFound-style predicate helpers for the kinds callers branch on.
package vasterr

import "fmt"

// Code classifies an error by kind rather than by origin.
type Code int

const (
	// Parse indicates malformed input: a query string or an on-disk
	// artifact that failed to decode.
	Parse Code = iota
	// Version indicates an on-disk artifact tagged with an unsupported
	// framing version.
	Version
	// NotFound indicates an unknown partition id, UUID, or path.
	NotFound
	// Filesystem indicates an I/O failure surfaced by the vfs facade.
	Filesystem
	// LogicError indicates a contract violation, e.g. erasing rows from
	// an active (still write-accepting) partition.
	LogicError
	// Timeout indicates a caller-visible deadline expired.
	Timeout
	// Conflict indicates a persist already in progress, or another
	// concurrent, incompatible operation.
	Conflict
	// Cancelled indicates the owning component is shutting down.
	Cancelled
	// InvalidQuery indicates a query parsed but is semantically
	// unacceptable (e.g. references an unsupported operator).
	InvalidQuery
)

func (c Code) String() string {
	switch c {
	case Parse:
		return "parse"
	case Version:
		return "version"
	case NotFound:
		return "not_found"
	case Filesystem:
		return "filesystem"
	case LogicError:
		return "logic_error"
	case Timeout:
		return "timeout"
	case Conflict:
		return "conflict"
	case Cancelled:
		return "cancelled"
	case InvalidQuery:
		return "invalid_query"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the error type returned by storage-engine components.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("vast error (%s): %s", e.Code, e.Message)
}

// New constructs an Error of the given kind.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

// IsNotFound reports whether err is a NotFound-kind Error.
func IsNotFound(err error) bool { return hasCode(err, NotFound) }

// IsTimeout reports whether err is a Timeout-kind Error.
func IsTimeout(err error) bool { return hasCode(err, Timeout) }

// IsConflict reports whether err is a Conflict-kind Error.
func IsConflict(err error) bool { return hasCode(err, Conflict) }

// IsCancelled reports whether err is a Cancelled-kind Error.
func IsCancelled(err error) bool { return hasCode(err, Cancelled) }

// IsVersion reports whether err is a Version-kind Error.
func IsVersion(err error) bool { return hasCode(err, Version) }

// IsInvalidQuery reports whether err is an InvalidQuery-kind Error.
func IsInvalidQuery(err error) bool { return hasCode(err, InvalidQuery) }
