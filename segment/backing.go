package segment

// Backing abstracts the byte storage a Segment reads slice payloads from:
// an in-memory buffer for an active (not-yet-persisted) segment, or a
// filesystem-backed mmap region for a passive one. Keeping this as an
// interface lets the segment package stay independent of how the
// filesystem facade chooses to map a file into memory.
type Backing interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
}

// MemBacking is a Backing over an in-memory byte slice, used by active
// segments and by tests.
type MemBacking struct {
	Data []byte
}

func (m *MemBacking) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.Data[off:])
	return n, nil
}

func (m *MemBacking) Size() int64 { return int64(len(m.Data)) }
