// Package pub implements component H, the entrypoint coordinator: it loads
// a root project's pubspec and lock file, decides whether the lock is
// stale, and if so drives the solver and writes back an up-to-date lock
// file and package-configuration file.
//
// Grounded on the teacher's project.go (the Project{AbsRoot, Manifest,
// Lock} aggregate and findProjectRoot/checkGopkgFilenames loading
// discipline) and ensure.go (solve-then-write control flow), generalized
// from dep's Gopkg.toml/Gopkg.lock/vendor trio to pub's pubspec.yaml/
// pubspec.lock/package_config.json trio.
package pub

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigurdm/pub/lockfile"
	"github.com/sigurdm/pub/pubspec"
	"github.com/sigurdm/pub/source"
)

// Filenames and paths fixed by spec §6.
const (
	PubspecFilename      = "pubspec.yaml"
	LockFilename         = "pubspec.lock"
	PackageConfigRelPath = ".dart_tool/package_config.json"
)

// Project bundles a root directory with its parsed manifest and (if
// present) lock file — the aggregate EnsureUpToDate operates on, mirroring
// the teacher's Project struct without the vendor/RootPackageTree fields
// that have no analogue here.
type Project struct {
	AbsRoot string
	Pubspec *pubspec.Pubspec
	Lock    *lockfile.LockFile
}

// LoadProject reads pubspec.yaml (required) and pubspec.lock (optional)
// from absRoot. reg resolves each locked package's source-specific
// description, per lockfile.Parse's contract.
func LoadProject(absRoot string, reg *source.Registry) (*Project, error) {
	pubspecPath := filepath.Join(absRoot, PubspecFilename)
	data, err := os.ReadFile(pubspecPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pubspecPath, err)
	}
	ps, err := pubspec.Parse(data, os.Getenv("PUB_HOSTED_URL"))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pubspecPath, err)
	}

	proj := &Project{AbsRoot: absRoot, Pubspec: ps}

	lockPath := filepath.Join(absRoot, LockFilename)
	lockData, err := os.ReadFile(lockPath)
	switch {
	case err == nil:
		lf, err := lockfile.Parse(lockData, absRoot, reg)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", lockPath, err)
		}
		proj.Lock = lf
	case errors.Is(err, os.ErrNotExist):
		// No lock yet; EnsureUpToDate treats this project as stale.
	default:
		return nil, fmt.Errorf("reading %s: %w", lockPath, err)
	}
	return proj, nil
}
