// Package partition implements the active (in-memory, writable) and
// passive (mmap-backed, read-only) partition lifecycle: ingest, persist,
// query, and erase.
package partition

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/google/uuid"

	"github.com/vastdb/vast/ids"
	"github.com/vastdb/vast/vtype"
)

// artifactVersion is bumped whenever the wire layout changes; loading an
// unrecognized version is a hard error rather than a best-effort guess.
const artifactVersion = 1

// ErrUnsupportedVersion is returned by DecodeArtifact when a partition
// file was written by an incompatible version of this codec.
type ErrUnsupportedVersion struct{ Got int }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("partition: unsupported artifact version %d (want %d)", e.Got, artifactVersion)
}

// indexerChunk pairs a qualified field name with its serialized value
// index. Chunks are stored in field insertion order so a reloaded
// partition reconstructs its indexers deterministically.
type indexerChunk struct {
	Field string
	Chunk []byte
}

// Artifact is the self-describing binary blob persisted for one
// partition: everything a passive partition needs to reconstruct its
// in-memory view without re-scanning the segment file.
type Artifact struct {
	Version       int
	ID            uuid.UUID
	Offset        ids.ID
	Events        uint64
	IndexerChunks []indexerChunk
	Schema        vtype.Schema
	TypeIds       map[string][]byte // type name -> marshaled row-id bitmap
	Synopsis      []byte            // embedded synopsis.PartitionSynopsis.Serialize()
	StoreHeader   []byte            // opaque bytes identifying the segment file path scheme
}

// EncodeArtifact serializes a partition artifact for writing to disk.
func EncodeArtifact(a Artifact) ([]byte, error) {
	a.Version = artifactVersion
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, fmt.Errorf("partition: encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeArtifact parses a partition artifact previously produced by
// EncodeArtifact.
func DecodeArtifact(data []byte) (Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return Artifact{}, fmt.Errorf("partition: decode artifact: %w", err)
	}
	if a.Version != artifactVersion {
		return Artifact{}, ErrUnsupportedVersion{Got: a.Version}
	}
	return a, nil
}
