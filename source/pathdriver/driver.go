// Package pathdriver implements source.Driver for spec §3's path
// dependency kind: a package that already lives on local disk, with no
// version to fetch and exactly one version to offer (whatever its own
// pubspec.yaml declares).
//
// Grounded on the teacher's handling of the root project as a degenerate,
// non-fetchable ProjectIdentifier (rootdata.go); a path dependency is the
// same idea applied to a non-root package.
package pathdriver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigurdm/pub/pubspec"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/source"
)

// Driver serves source.KindPath. BaseDir resolves a relative path
// description; pub only ever declares a path dependency relative to the
// pubspec that names it, and in practice that is always the root project
// being resolved, so a single BaseDir (the root's directory) is enough —
// a path dependency declared by a non-root package would need its own
// containing directory threaded through, which the solver's Driver
// interface has no room for.
type Driver struct {
	BaseDir string
}

// New builds a path Driver resolving relative paths against baseDir.
func New(baseDir string) *Driver {
	return &Driver{BaseDir: baseDir}
}

func (d *Driver) Kind() source.Kind { return source.KindPath }

func (d *Driver) resolve(desc source.Description) string {
	if desc.Relative {
		return filepath.Join(d.BaseDir, desc.Path)
	}
	return desc.Path
}

func (d *Driver) readSpec(ref source.PackageRef) (*pubspec.Pubspec, string, error) {
	dir := d.resolve(ref.Description)
	data, err := os.ReadFile(filepath.Join(dir, "pubspec.yaml"))
	if err != nil {
		return nil, dir, fmt.Errorf("reading pubspec.yaml for path dependency %s: %w", ref.Name, err)
	}
	ps, err := pubspec.Parse(data, "")
	if err != nil {
		return nil, dir, fmt.Errorf("parsing pubspec.yaml for path dependency %s: %w", ref.Name, err)
	}
	return ps, dir, nil
}

// ListVersions implements source.Driver: a path dependency offers exactly
// the one version its own pubspec.yaml currently declares.
func (d *Driver) ListVersions(_ context.Context, ref source.PackageRef) ([]source.PackageId, error) {
	ps, _, err := d.readSpec(ref)
	if err != nil {
		return nil, err
	}
	v := semver.Zero
	if ps.Version != nil {
		v = *ps.Version
	}
	return []source.PackageId{{Ref: ref, Version: v}}, nil
}

func (d *Driver) Describe(_ context.Context, id source.PackageId) (source.Spec, error) {
	ps, _, err := d.readSpec(id.Ref)
	if err != nil {
		return nil, err
	}
	return ps, nil
}

// Download implements source.Driver: the package is already on disk, so
// this only resolves its directory.
func (d *Driver) Download(_ context.Context, id source.PackageId) (string, source.PackageId, error) {
	_, dir, err := d.readSpec(id.Ref)
	return dir, id, err
}

// ParseID implements source.Driver, reconstructing a path PackageId from
// the lock file's `description: {path, relative}` block.
func (d *Driver) ParseID(name, version string, rawDescription map[string]interface{}, _ string) (source.PackageId, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return source.PackageId{}, err
	}
	path, _ := rawDescription["path"].(string)
	relative, _ := rawDescription["relative"].(bool)
	ref := source.PackageRef{
		Name:        name,
		Description: source.Description{Kind: source.KindPath, Path: path, Relative: relative},
	}
	return source.PackageId{Ref: ref, Version: v}, nil
}

// SerializeForLockfile implements source.Driver.
func (d *Driver) SerializeForLockfile(id source.PackageId) map[string]interface{} {
	return map[string]interface{}{
		"path":     id.Ref.Description.Path,
		"relative": id.Ref.Description.Relative,
	}
}
