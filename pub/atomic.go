package pub

import (
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to a temp file beside path and renames it
// into place, so a reader never observes a partially-written lock or
// package-configuration file — the same temp-then-rename idiom the
// package cache uses to install a freshly extracted archive (spec §5
// "writes are atomic: download to temp, rename"), simplified from the
// teacher's SafeWriter (which additionally backs up and restores the
// previous file on failure) since the coordinator has nothing else to
// roll back alongside a single file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".pub-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
