package pub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigurdm/pub/lockfile"
	"github.com/sigurdm/pub/pubcache"
	"github.com/sigurdm/pub/pubspec"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/solver"
	"github.com/sigurdm/pub/source"
)

// ResolutionFailure reports that EnsureUpToDate could not find a
// resolution, carrying the solver's rendered blame chain (spec §4.H
// "reported as a ResolutionFailure carrying the solver's explanation").
type ResolutionFailure struct {
	Explanation string
}

func (e *ResolutionFailure) Error() string {
	return "version solving failed:\n" + e.Explanation
}

// Coordinator holds the collaborators EnsureUpToDate needs to resolve and
// persist a project: the source registry (to drive the solver and parse
// lock entries) and the package cache (to fill in content hashes at
// serialize time and to locate each resolved package's files on disk).
type Coordinator struct {
	Registry *source.Registry
	Cache    *pubcache.Cache
}

// EnsureUpToDate implements the spec §4.H entry point: load the root
// pubspec (already done by LoadProject); if the lock is missing or stale,
// solve with Get and write back the lock file and package-configuration
// file. Returns the lock file now current on disk (proj.Lock's new value)
// and updates proj.Lock in place.
func (co *Coordinator) EnsureUpToDate(ctx context.Context, proj *Project) (*lockfile.LockFile, error) {
	stale, err := co.isStale(proj)
	if err != nil {
		return nil, fmt.Errorf("checking lock staleness: %w", err)
	}
	if !stale {
		return proj.Lock, nil
	}

	result, err := co.solve(ctx, proj)
	if err != nil {
		return nil, err
	}

	lf := buildLockFile(proj.Pubspec, result)

	data, err := lf.Serialize(co.Cache, co.Registry)
	if err != nil {
		return nil, fmt.Errorf("serializing %s: %w", LockFilename, err)
	}
	lockPath := filepath.Join(proj.AbsRoot, LockFilename)
	if err := writeFileAtomic(lockPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", lockPath, err)
	}

	cfgData, err := buildPackageConfig(ctx, proj, result, co.Registry).marshal()
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", PackageConfigRelPath, err)
	}
	cfgPath := filepath.Join(proj.AbsRoot, PackageConfigRelPath)
	if err := writeFileAtomic(cfgPath, cfgData, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", cfgPath, err)
	}

	proj.Lock = lf
	return lf, nil
}

// solve runs the solver against proj's root pubspec with SolveType Get,
// the "use the lock as-is wherever possible" mode spec §4.H calls for.
func (co *Coordinator) solve(ctx context.Context, proj *Project) (*solver.Result, error) {
	rootVersion := semver.Zero
	if proj.Pubspec.Version != nil {
		rootVersion = *proj.Pubspec.Version
	}

	result, err := solver.Solve(ctx, solver.Params{
		Type:        solver.Get,
		Root:        proj.Pubspec,
		RootName:    proj.Pubspec.PackageName(),
		RootVersion: rootVersion,
		Lock:        proj.Lock,
		Registry:    co.Registry,
	})
	if err != nil {
		if failure, ok := err.(*solver.Failure); ok {
			return nil, &ResolutionFailure{Explanation: failure.Explain()}
		}
		return nil, fmt.Errorf("resolving dependencies for %s: %w", proj.Pubspec.PackageName(), err)
	}
	return result, nil
}

// isStale implements spec §4.H's "missing or stale (pubspec mtime newer,
// or constraint incompatibility detected)" test.
func (co *Coordinator) isStale(proj *Project) (bool, error) {
	if proj.Lock == nil {
		return true, nil
	}

	pubspecInfo, err := os.Stat(filepath.Join(proj.AbsRoot, PubspecFilename))
	if err != nil {
		return false, err
	}
	lockInfo, err := os.Stat(filepath.Join(proj.AbsRoot, LockFilename))
	if err != nil {
		return false, err
	}
	if pubspecInfo.ModTime().After(lockInfo.ModTime()) {
		return true, nil
	}

	return constraintsIncompatible(proj.Pubspec, proj.Lock), nil
}

// constraintsIncompatible reports whether any direct dependency declared
// in ps is absent from lf, or is present but no longer allowed by its
// pubspec constraint — the "constraint incompatibility detected" half of
// the staleness test.
func constraintsIncompatible(ps *pubspec.Pubspec, lf *lockfile.LockFile) bool {
	for _, list := range [][]source.PackageRange{ps.Dependencies(), ps.DevDependencies(), ps.Overrides()} {
		for _, d := range list {
			locked, ok := lf.Packages[d.Ref.Name]
			if !ok {
				return true
			}
			if !locked.Ref.Equal(d.Ref) {
				return true
			}
			if !d.Constraint.Allows(locked.Version) {
				return true
			}
		}
	}
	for name, c := range ps.SDKConstraints() {
		locked, ok := lf.SDK[name]
		if !ok {
			continue
		}
		if lv, ok := locked.ExactVersion(); ok && !c.Allows(lv) {
			return true
		}
	}
	return false
}

// buildLockFile assembles the new lock file from a solved Result,
// classifying each package's Dependency kind against the root pubspec and
// carrying forward SDK constraints, per spec §3 LockFile.
func buildLockFile(ps *pubspec.Pubspec, result *solver.Result) *lockfile.LockFile {
	lf := lockfile.New()

	for name, c := range ps.SDKConstraints() {
		lf.SDK[name] = c
	}

	kinds := map[string]lockfile.Dependency{}
	for _, d := range ps.Dependencies() {
		kinds[d.Ref.Name] = lockfile.DirectMain
	}
	for _, d := range ps.DevDependencies() {
		kinds[d.Ref.Name] = lockfile.DirectDev
	}
	for _, d := range ps.Overrides() {
		kinds[d.Ref.Name] = lockfile.DirectOverridden
	}

	for _, id := range result.Packages {
		lf.Packages[id.Ref.Name] = id
		lf.Dependency[id.Ref.Name] = kinds[id.Ref.Name]
	}

	return lf
}
