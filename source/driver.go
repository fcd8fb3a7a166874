package source

import (
	"context"

	"github.com/sigurdm/pub/semver"
)

// Spec is the minimal contract a package manifest must satisfy for the
// solver and lock file to read its dependency graph. pubspec.Pubspec
// implements this; keeping the interface here (rather than depending on
// the pubspec package directly) avoids a source<->pubspec import cycle,
// mirroring the teacher's gps.Manifest interface which dep.Manifest
// satisfies without gps importing dep.
type Spec interface {
	PackageName() string
	Dependencies() []PackageRange
	DevDependencies() []PackageRange
	Overrides() []PackageRange
	SDKConstraints() map[string]semver.Constraint
}

// Driver is the capability set a source kind must provide, per spec §4.B:
// listVersions, describe, download, parseId, serializeForLockfile. Not
// every driver needs every capability meaningfully (Path has no remote
// versions to list beyond the one on disk; SDK and Root never download);
// drivers that don't support an operation return ErrUnsupported.
type Driver interface {
	// Kind identifies which Description variant this driver serves.
	Kind() Kind

	// ListVersions returns every non-retracted version known for ref, in
	// ascending order.
	ListVersions(ctx context.Context, ref PackageRef) ([]PackageId, error)

	// Describe returns the manifest for a specific version. Must be
	// idempotent and safe to call repeatedly (the caller is expected to
	// cache).
	Describe(ctx context.Context, id PackageId) (Spec, error)

	// Download fetches (or locates, for Path) id's contents and returns
	// the absolute path to its directory, plus the PackageId with any
	// newly-learned resolved metadata (content hash, commit) filled in.
	Download(ctx context.Context, id PackageId) (dir string, resolved PackageId, err error)

	// ParseID is the inverse of SerializeForLockfile: given a package
	// name, version string, and the lock file's raw description map, it
	// reconstructs a PackageId. containingDir is the lock file's
	// directory, used to resolve relative path descriptions.
	ParseID(name, version string, rawDescription map[string]interface{}, containingDir string) (PackageId, error)

	// SerializeForLockfile renders id's resolved description into the map
	// form the lock file persists under `packages.<name>.description`.
	SerializeForLockfile(id PackageId) map[string]interface{}
}

// ErrUnsupported is returned by a Driver method that a source kind does not
// implement (e.g. Download on the SDK pseudo-source).
type ErrUnsupported struct {
	Kind Kind
	Op   string
}

func (e ErrUnsupported) Error() string {
	return e.Kind.String() + " source does not support " + e.Op
}
