package ingest

import (
	"os"
	"path/filepath"

	"github.com/grovetools/slidesync/config"
	apperrors "github.com/grovetools/slidesync/errors"
)

// Disposition is what happens to a source after a fresh ingest.
type Disposition string

const (
	Deleted  Disposition = "deleted"
	Archived Disposition = "archived"
	Kept     Disposition = "kept"
)

// dispositionFor reports the policy for snap.
func dispositionFor(snap *config.Snapshot) Disposition {
	switch {
	case !snap.Preprocessing.KeepOriginals:
		return Deleted
	case snap.Preprocessing.ArchivePath != "":
		return Archived
	default:
		return Kept
	}
}

// disposeOriginal applies the keep/archive/delete policy to src. An archived
// file replaces any earlier archive of the same name.
func disposeOriginal(snap *config.Snapshot, src string) (Disposition, error) {
	d := dispositionFor(snap)
	switch d {
	case Deleted:
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			return d, apperrors.TransientIO("remove", src, err)
		}
	case Archived:
		dir := snap.Resolve(snap.Preprocessing.ArchivePath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return d, apperrors.TransientIO("create archive dir", dir, err)
		}
		dst := filepath.Join(dir, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return d, apperrors.TransientIO("archive", src, err)
		}
	}
	return d, nil
}
