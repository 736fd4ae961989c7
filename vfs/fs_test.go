package vfs

import (
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Write("foo.bin", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := fs.Read("foo.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want %q", data, "hello")
	}
}

func TestMmapReadAndRelease(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Write("seg.bin", []byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	h, err := fs.Mmap("seg.bin")
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := h.ReadAt(buf, 3); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "3456" {
		t.Fatalf("got %q, want %q", buf, "3456")
	}
	if h.Size() != 10 {
		t.Fatalf("Size = %d, want 10", h.Size())
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestEraseDeferredUntilHandleReleased(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Write("part.bin", []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	h, err := fs.Mmap("part.bin")
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	if err := fs.Erase("part.bin"); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if !fs.Exists("part.bin") {
		t.Fatalf("expected file to still exist while a handle is outstanding")
	}

	buf := make([]byte, 4)
	if _, err := h.ReadAt(buf, 0); err != nil {
		t.Fatalf("existing handle should still read fine after Erase: %v", err)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if fs.Exists("part.bin") {
		t.Fatalf("expected file to be removed after last handle released")
	}
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Write("old.bin", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Rename("old.bin", "new.bin"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if fs.Exists("old.bin") || !fs.Exists("new.bin") {
		t.Fatalf("rename did not move the file")
	}
}

func TestRetainKeepsMappingAliveAcrossRelease(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Write("seg.bin", []byte("abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	h, err := fs.Mmap("seg.bin")
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	ref := h.Retain()

	// Releasing the original handle must not close the mapping while the
	// retained reference is outstanding.
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := ref.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt through retained reference: %v", err)
	}
	if string(buf) != "abc" {
		t.Fatalf("got %q, want %q", buf, "abc")
	}
	if err := ref.Release(); err != nil {
		t.Fatalf("Release retained: %v", err)
	}
	if _, err := ref.ReadAt(buf, 0); err == nil {
		t.Fatalf("expected ReadAt to fail once the last reference is gone")
	}
}

func TestRenameOverMappedFileDetachesOldMapping(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Write("seg.bin", []byte("old-bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	old, err := fs.Mmap("seg.bin")
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	if err := fs.Write("seg.bin.next", []byte("new-bytes")); err != nil {
		t.Fatalf("Write next: %v", err)
	}
	if err := fs.Rename("seg.bin.next", "seg.bin"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	// The outstanding handle keeps reading the replaced file's snapshot.
	buf := make([]byte, 9)
	if _, err := old.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt through pre-rename handle: %v", err)
	}
	if string(buf) != "old-bytes" {
		t.Fatalf("pre-rename handle read %q, want %q", buf, "old-bytes")
	}

	// A fresh Mmap of the same path maps the renamed-in file.
	fresh, err := fs.Mmap("seg.bin")
	if err != nil {
		t.Fatalf("Mmap after rename: %v", err)
	}
	if _, err := fresh.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt through fresh handle: %v", err)
	}
	if string(buf) != "new-bytes" {
		t.Fatalf("fresh handle read %q, want %q", buf, "new-bytes")
	}
	if err := old.Release(); err != nil {
		t.Fatalf("Release old: %v", err)
	}
	if err := fresh.Release(); err != nil {
		t.Fatalf("Release fresh: %v", err)
	}
}
