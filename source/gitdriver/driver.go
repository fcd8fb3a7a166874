// Package gitdriver implements source.Driver for spec §3's git dependency
// kind: a package checked out from a git repository at a ref, with a
// subdirectory path selecting where inside the repo the package actually
// lives.
//
// Grounded on the teacher's vcs_source.go/vcs_repo.go (checkout-then-read
// manifest flow over github.com/Masterminds/vcs), adapted from dep's
// Go-import-path repos to pub's (url, path, ref) git dependency shape;
// pub's git driver checks out directly into its own cache directory
// rather than dep's export-then-vendor-prune flow, so the teacher's
// go-shutil-based CopyTree has no analogue here (see DESIGN.md "Dropped
// teacher dependencies").
package gitdriver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	vcs "github.com/Masterminds/vcs"

	"github.com/sigurdm/pub/pubspec"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/source"
)

// Driver serves source.KindGit. CacheRoot is the directory git checkouts
// are cloned into, one subdirectory per (url, ref) pair — the same
// content-addressed-by-coordinates convention pubcache.Cache uses for
// hosted archives, but git needs its own working tree rather than a
// cache.Cache-managed extraction target, so it is not literally
// pubcache.Cache-backed.
type Driver struct {
	CacheRoot string
}

// New builds a git Driver cloning into subdirectories of cacheRoot.
func New(cacheRoot string) *Driver {
	return &Driver{CacheRoot: cacheRoot}
}

func (d *Driver) Kind() source.Kind { return source.KindGit }

func (d *Driver) checkoutDir(desc source.Description) string {
	ref := desc.GitRef
	if ref == "" {
		ref = "HEAD"
	}
	return filepath.Join(d.CacheRoot, sanitize(desc.GitURL)+"-"+sanitize(ref))
}

// ensureCheckout clones (if not already present) and checks out ref's
// git dependency, returning the package's directory (the repo root, or
// desc.GitPath within it) and the commit it resolved to.
func (d *Driver) ensureCheckout(ref source.PackageRef) (dir string, commit string, err error) {
	desc := ref.Description
	repoDir := d.checkoutDir(desc)

	if _, statErr := os.Stat(repoDir); os.IsNotExist(statErr) {
		if err := os.MkdirAll(filepath.Dir(repoDir), 0o755); err != nil {
			return "", "", fmt.Errorf("creating git cache directory: %w", err)
		}
		repo, err := vcs.NewGitRepo(desc.GitURL, repoDir)
		if err != nil {
			return "", "", fmt.Errorf("preparing git checkout of %s: %w", desc.GitURL, err)
		}
		if err := repo.Get(); err != nil {
			return "", "", fmt.Errorf("cloning %s: %w", desc.GitURL, err)
		}
		if desc.GitRef != "" {
			if err := repo.UpdateVersion(desc.GitRef); err != nil {
				return "", "", fmt.Errorf("checking out %s@%s: %w", desc.GitURL, desc.GitRef, err)
			}
		}
	}

	repo, err := vcs.NewGitRepo(desc.GitURL, repoDir)
	if err != nil {
		return "", "", fmt.Errorf("reopening git checkout of %s: %w", desc.GitURL, err)
	}
	commit, err = repo.Version()
	if err != nil {
		return "", "", fmt.Errorf("resolving commit for %s: %w", ref.Name, err)
	}

	pkgDir := repoDir
	if desc.GitPath != "" {
		pkgDir = filepath.Join(repoDir, desc.GitPath)
	}
	return pkgDir, commit, nil
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (d *Driver) readSpec(pkgDir string) (*pubspec.Pubspec, error) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "pubspec.yaml"))
	if err != nil {
		return nil, fmt.Errorf("reading pubspec.yaml: %w", err)
	}
	return pubspec.Parse(data, "")
}

// ListVersions implements source.Driver: a git dependency offers exactly
// the one version its pubspec.yaml declares at the pinned ref.
func (d *Driver) ListVersions(_ context.Context, ref source.PackageRef) ([]source.PackageId, error) {
	pkgDir, commit, err := d.ensureCheckout(ref)
	if err != nil {
		return nil, err
	}
	ps, err := d.readSpec(pkgDir)
	if err != nil {
		return nil, err
	}
	v := semver.Zero
	if ps.Version != nil {
		v = *ps.Version
	}
	id := source.PackageId{Ref: ref, Version: v}
	id.Resolved.Description = ref.Description
	id.Resolved.ResolvedCommit = commit
	return []source.PackageId{id}, nil
}

func (d *Driver) Describe(_ context.Context, id source.PackageId) (source.Spec, error) {
	pkgDir, _, err := d.ensureCheckout(id.Ref)
	if err != nil {
		return nil, err
	}
	return d.readSpec(pkgDir)
}

// Download implements source.Driver.
func (d *Driver) Download(_ context.Context, id source.PackageId) (string, source.PackageId, error) {
	pkgDir, commit, err := d.ensureCheckout(id.Ref)
	if err != nil {
		return "", id, err
	}
	resolved := id
	resolved.Resolved.Description = id.Ref.Description
	resolved.Resolved.ResolvedCommit = commit
	return pkgDir, resolved, nil
}

// ParseID implements source.Driver, reconstructing a git PackageId from
// the lock file's `description: {url, path, ref, resolved-ref}` block.
func (d *Driver) ParseID(name, version string, rawDescription map[string]interface{}, _ string) (source.PackageId, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return source.PackageId{}, err
	}
	url, _ := rawDescription["url"].(string)
	path, _ := rawDescription["path"].(string)
	gitRef, _ := rawDescription["ref"].(string)
	resolvedRef, _ := rawDescription["resolved-ref"].(string)

	desc := source.Description{Kind: source.KindGit, GitURL: url, GitPath: path, GitRef: gitRef}
	id := source.PackageId{
		Ref:     source.PackageRef{Name: name, Description: desc},
		Version: v,
	}
	id.Resolved.Description = desc
	id.Resolved.ResolvedCommit = resolvedRef
	return id, nil
}

// SerializeForLockfile implements source.Driver.
func (d *Driver) SerializeForLockfile(id source.PackageId) map[string]interface{} {
	return map[string]interface{}{
		"url":          id.Ref.Description.GitURL,
		"path":         id.Ref.Description.GitPath,
		"ref":          id.Ref.Description.GitRef,
		"resolved-ref": id.Resolved.ResolvedCommit,
	}
}
