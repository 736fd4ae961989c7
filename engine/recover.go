package engine

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vastdb/vast/catalog"
	"github.com/vastdb/vast/partition"
)

// catalogSnapshotName is the catalog snapshot file, written next to the
// partition artifacts.
const catalogSnapshotName = "index.cat"

func (idx *Index) catalogSnapshotPath() string {
	return filepath.Join(idx.opts.PartitionDir, catalogSnapshotName)
}

// saveCatalogSnapshot writes the catalog's current contents to the
// snapshot file. Failure is non-fatal: like the synopsis sidecar, the
// snapshot is a startup optimization that can always be rebuilt by
// rescanning the partition directory.
func (idx *Index) saveCatalogSnapshot() {
	data, err := idx.cat.Snapshot()
	if err != nil {
		idx.logger.Warnf("engine: serialize catalog snapshot: %v", err)
		return
	}
	if err := idx.fs.Write(idx.catalogSnapshotPath(), data); err != nil {
		idx.logger.Warnf("engine: write catalog snapshot: %v", err)
	}
}

// recoverCatalog rebuilds the catalog from a previous run's on-disk
// state: first from the catalog snapshot if one is present and readable,
// then by rescanning the partition directory for artifacts the snapshot
// missed (a rotation that landed after the last snapshot write, or no
// snapshot at all). A snapshot entry whose artifact no longer exists is
// dropped; a partition found only by the rescan is registered with the
// synopsis recovered from its `.mdx` sidecar or, failing that, from the
// embedded copy inside its artifact.
func (idx *Index) recoverCatalog() {
	if data, err := idx.fs.Read(idx.catalogSnapshotPath()); err == nil {
		entries, err := catalog.LoadSnapshot(data)
		if err != nil {
			idx.logger.Warnf("engine: ignoring catalog snapshot: %v", err)
		} else {
			for id, syn := range entries {
				if idx.fs.Exists(filepath.Join(idx.opts.PartitionDir, id.String()+".part")) {
					idx.cat.Register(id, syn)
				}
			}
		}
	}

	dirEntries, err := idx.fs.ListDir(idx.opts.PartitionDir)
	if err != nil {
		return
	}
	recovered := 0
	for _, e := range dirEntries {
		name, ok := strings.CutSuffix(e.Name, ".part")
		if !ok {
			continue
		}
		id, err := uuid.Parse(name)
		if err != nil {
			continue
		}
		if _, ok := idx.cat.Lookup(id); ok {
			continue
		}
		p := partition.OpenPassive(idx.fs, idx.opts.PartitionDir, idx.opts.SynopsisDir, id)
		syn, err := p.ProvisionalSynopsis()
		if err != nil {
			idx.logger.Warnf("engine: skip unrecoverable partition %s: %v", id, err)
			continue
		}
		_ = p.Close()
		idx.cat.Register(id, syn)
		recovered++
	}
	if recovered > 0 {
		idx.logger.WithField("partitions", recovered).Info("engine: recovered partitions not covered by the catalog snapshot")
	}
}
