package partition

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vastdb/vast/segment"
)

// segmentPath returns the on-disk path of a partition's segment file,
// relative to the vfs.Filesystem root.
func segmentPath(partDir string, id uuid.UUID) string {
	return filepath.Join(partDir, id.String()+".seg")
}

// artifactPath returns the on-disk path of a partition's artifact file.
func artifactPath(partDir string, id uuid.UUID) string {
	return filepath.Join(partDir, id.String()+".part")
}

// synopsisSidecarPath returns the on-disk path of a partition's `.mdx`
// synopsis sidecar, written as a latency optimization for catalog
// warm-up.
func synopsisSidecarPath(synopsisDir string, id uuid.UUID) string {
	return filepath.Join(synopsisDir, id.String()+".mdx")
}

// storeHeader is the opaque framing a passive partition needs to open its
// segment file: the path it was written to and the row-id-range ->
// byte-range index built while the active partition was accumulating
// slices.
type storeHeader struct {
	Path    string
	Entries []segment.Entry
}

func encodeStoreHeader(path string, entries []segment.Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(storeHeader{Path: path, Entries: entries}); err != nil {
		return nil, fmt.Errorf("partition: encode store header: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeStoreHeader(data []byte) (storeHeader, error) {
	var h storeHeader
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&h); err != nil {
		return storeHeader{}, fmt.Errorf("partition: decode store header: %w", err)
	}
	return h, nil
}
