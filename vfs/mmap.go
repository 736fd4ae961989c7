package vfs

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/exp/mmap"
)

// Handle is one reference to a memory-mapped file. It satisfies
// segment.Backing (ReadAt/Size), so a passive segment can read directly
// from it. Every Handle must be paired with exactly one Release; the
// underlying mapping is only closed once the last reference on its entry
// is released. A goroutine may read through any handle of an entry as
// long as it holds at least one unreleased reference to that entry —
// that reference is what keeps the mapped region valid for the duration
// of the read.
type Handle struct {
	fs    *Filesystem
	path  string
	entry *mmapEntry

	mu       sync.Mutex
	released bool
}

// ReadAt reads len(p) bytes starting at off from the mapped file. The
// caller must hold an unreleased reference to the handle's entry for the
// whole call.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	h.fs.mu.Lock()
	closed := h.entry.refs == 0
	h.fs.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("vfs: mmap for %s already closed", h.path)
	}
	return h.entry.reader.ReadAt(p, off)
}

// Size returns the mapped file's length in bytes.
func (h *Handle) Size() int64 {
	h.fs.mu.Lock()
	closed := h.entry.refs == 0
	h.fs.mu.Unlock()
	if closed {
		return 0
	}
	return int64(h.entry.reader.Len())
}

// Retain takes an additional reference on the handle's mapping and
// returns a new Handle for it. Used by readers that must keep the
// mapping valid across a window where the owner of h may Release it (a
// query pinning a segment while a concurrent erase swaps the partition's
// own handle out from under it).
func (h *Handle) Retain() *Handle {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.entry.refs++
	return &Handle{fs: h.fs, path: h.path, entry: h.entry}
}

// Mmap opens (or shares the currently-open) memory mapping of path. Each
// call must be paired with a Release.
func (fs *Filesystem) Mmap(path string) (*Handle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, ok := fs.mmaps[path]
	if !ok {
		r, err := mmap.Open(fs.abs(path))
		if err != nil {
			return nil, fmt.Errorf("vfs: mmap %s: %w", path, err)
		}
		e = &mmapEntry{reader: r}
		fs.mmaps[path] = e
	}
	e.refs++
	return &Handle{fs: fs, path: path, entry: e}, nil
}

// Release drops this handle's reference to its mapping. Once the last
// reference is released, the underlying mapping is closed; if an Erase
// was requested while references were outstanding, the file is deleted
// now instead. Releasing a handle twice is a no-op.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	h.fs.mu.Lock()
	e := h.entry
	e.refs--
	if e.refs > 0 {
		h.fs.mu.Unlock()
		return nil
	}
	if h.fs.mmaps[h.path] == e {
		delete(h.fs.mmaps, h.path)
	}
	pendingErase := e.pendingErase
	h.fs.mu.Unlock()

	if err := e.reader.Close(); err != nil {
		return fmt.Errorf("vfs: close mmap %s: %w", h.path, err)
	}
	if pendingErase {
		if err := os.Remove(h.fs.abs(h.path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("vfs: deferred erase %s: %w", h.path, err)
		}
	}
	return nil
}

// detachLocked removes path's current mapping entry from the lookup map
// without closing it: outstanding handles keep reading their (now
// anonymous) snapshot until they release, while the next Mmap of path
// opens the file as it exists in the directory now. Callers hold fs.mu.
func (fs *Filesystem) detachLocked(path string) {
	delete(fs.mmaps, path)
}

// Erase deletes path. If the file is currently mmap'd with outstanding
// handles, the OS-level unlink is deferred until the last reference is
// released; readers holding a handle keep observing a consistent
// snapshot in the meantime. The path must not be re-created before those
// references drain, or the deferred unlink would remove the new file —
// replacement of a live file goes through Rename instead.
func (fs *Filesystem) Erase(path string) error {
	fs.mu.Lock()
	if e, ok := fs.mmaps[path]; ok && e.refs > 0 {
		e.pendingErase = true
		fs.detachLocked(path)
		fs.mu.Unlock()
		return nil
	}
	fs.mu.Unlock()

	if err := os.Remove(fs.abs(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vfs: erase %s: %w", path, err)
	}
	return nil
}
