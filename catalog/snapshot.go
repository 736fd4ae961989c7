package catalog

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/google/uuid"

	"github.com/vastdb/vast/synopsis"
	"github.com/vastdb/vast/vasterr"
)

// snapshotVersion tags the catalog snapshot framing; bumped whenever the
// layout changes, and refused on mismatch like the partition artifact's
// own version field.
const snapshotVersion = 1

type snapshotEntry struct {
	ID       uuid.UUID
	Synopsis []byte
}

type snapshot struct {
	Version int
	Entries []snapshotEntry
}

// Snapshot serializes the catalog's current contents — every partition id
// plus its synopsis — for the snapshot file kept alongside the partition
// artifacts. A deployment restarting from this snapshot skips re-reading
// every partition's sidecar or artifact just to rebuild the catalog.
func (c *Catalog) Snapshot() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := snapshot{Version: snapshotVersion, Entries: make([]snapshotEntry, 0, len(c.entries))}
	for id, syn := range c.entries {
		data, err := syn.Serialize()
		if err != nil {
			return nil, fmt.Errorf("catalog: snapshot partition %s: %w", id, err)
		}
		snap.Entries = append(snap.Entries, snapshotEntry{ID: id, Synopsis: data})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("catalog: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadSnapshot decodes a snapshot previously produced by Snapshot,
// returning its entries so the caller can register them (and reconcile
// against what's actually on disk).
func LoadSnapshot(data []byte) (map[uuid.UUID]*synopsis.PartitionSynopsis, error) {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, vasterr.New(vasterr.Parse, "catalog: decode snapshot: %v", err)
	}
	if snap.Version != snapshotVersion {
		return nil, vasterr.New(vasterr.Version, "catalog: unsupported snapshot version %d (want %d)", snap.Version, snapshotVersion)
	}

	out := make(map[uuid.UUID]*synopsis.PartitionSynopsis, len(snap.Entries))
	for _, e := range snap.Entries {
		syn, err := synopsis.Deserialize(e.Synopsis)
		if err != nil {
			return nil, fmt.Errorf("catalog: decode snapshot synopsis for %s: %w", e.ID, err)
		}
		out[e.ID] = syn
	}
	return out, nil
}
