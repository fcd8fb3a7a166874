// Package pubcache implements the system cache (spec §4.C): a
// content-addressed on-disk store of downloaded package archives, keyed by
// (source, name, version), with a recorded sha256 per hosted entry and a
// bounded-concurrency gate shared with the fetch pipeline.
//
// Grounded on the teacher's source_cache.go (in-memory memoization of
// per-revision package info), generalized to on-disk persistence per spec
// §6 "Persisted state", plus download deduplication via an on-disk flock
// as spec §5 "Shared resources" requires.
package pubcache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	flock "github.com/theckman/go-flock"
	"golang.org/x/sync/semaphore"

	"github.com/sigurdm/pub/fetch"
	"github.com/sigurdm/pub/source"
)

// Cache is the system cache: one per pub invocation, rooted at a directory
// (conventionally $PUB_CACHE or ~/.pub-cache).
type Cache struct {
	Root string
	HTTP *fetch.HttpConfig

	// Gate is the same 16-slot semaphore HTTP uses; spec §5 specifies one
	// shared gate, not a per-component one.
	Gate *semaphore.Weighted
}

// New constructs a Cache rooted at root, sharing cfg's gate.
func New(root string, cfg *fetch.HttpConfig) *Cache {
	return &Cache{Root: root, HTTP: cfg, Gate: cfg.Gate}
}

// packageDir returns the directory a hosted package's unpacked contents
// live in: hosted/<host>/<name>-<version>/ (spec §6).
func (c *Cache) packageDir(id source.PackageId) string {
	switch id.Ref.Description.Kind {
	case source.KindHosted:
		host := hostDirName(id.Ref.Description.HostedURL)
		return filepath.Join(c.Root, "hosted", host, fmt.Sprintf("%s-%s", id.Ref.Name, id.Version))
	case source.KindGit:
		return filepath.Join(c.Root, "git", fmt.Sprintf("%s-%s", sanitize(id.Ref.Description.GitURL), id.Resolved.ResolvedCommit))
	default:
		return ""
	}
}

func hostDirName(rawURL string) string {
	u := rawURL
	if i := indexAfterScheme(u); i >= 0 {
		u = u[i:]
	}
	return sanitize(u)
}

func indexAfterScheme(u string) int {
	for i := 0; i+2 < len(u); i++ {
		if u[i] == ':' && u[i+1] == '/' && u[i+2] == '/' {
			return i + 3
		}
	}
	return -1
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

func hashSidecarPath(dir string) string { return dir + ".sha256" }
func lockPath(dir string) string        { return dir + ".lock" }

// Sha256FromCache returns the recorded content hash for id, if the archive
// has already been downloaded.
func (c *Cache) Sha256FromCache(id source.PackageId) ([]byte, bool) {
	dir := c.packageDir(id)
	if dir == "" {
		return nil, false
	}
	b, err := os.ReadFile(hashSidecarPath(dir))
	if err != nil || len(b) != sha256.Size {
		return nil, false
	}
	return b, true
}

// DownloadPackage fetches id's archive (for hosted sources) via archiveURL,
// extracts it into the content-addressed directory, and returns the
// updated PackageId carrying the sha256 computed from the downloaded
// bytes. The only integrity check made here is the fetch pipeline's CRC32C
// check, when the server sends an x-goog-hash header; no size limit is
// applied, and the computed sha256 is not compared with a hash id may
// already carry. Concurrent downloads of the same (source, name, version) are
// deduplicated via an on-disk flock (spec §5), and the extraction target
// is written atomically (download to a temp dir, rename into place).
//
// Per the Open Question resolution in DESIGN.md, the hash is always
// computed from the downloaded bytes — legacy servers that omit
// archive_sha256 from version listings learn it this way, and it is
// promoted into the lock file at serialize time rather than requiring a
// separate remove-and-refill pass.
func (c *Cache) DownloadPackage(ctx context.Context, id source.PackageId, archiveURL string) (source.PackageId, error) {
	dir := c.packageDir(id)
	if dir == "" {
		return id, fmt.Errorf("package %s has no cacheable directory (unsupported source kind)", id)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return id, fmt.Errorf("creating cache directory: %w", err)
	}

	fl := flock.NewFlock(lockPath(dir))
	if err := fl.Lock(); err != nil {
		return id, fmt.Errorf("acquiring cache lock for %s: %w", id, err)
	}
	defer fl.Unlock()

	if hash, ok := c.Sha256FromCache(id); ok {
		resolved := id
		resolved.Resolved.Sha256 = hash
		return resolved, nil
	}

	sum, err := downloadAndExtract(ctx, c.HTTP, archiveURL, dir)
	if err != nil {
		return id, err
	}

	if err := os.WriteFile(hashSidecarPath(dir), sum, 0o644); err != nil {
		return id, fmt.Errorf("writing cache hash sidecar: %w", err)
	}

	resolved := id
	resolved.Resolved.Sha256 = sum
	return resolved, nil
}

// PackageDir exposes the on-disk path for an already-downloaded package,
// for callers (solver, planner) that need to read a dependency's files
// rather than just its pubspec.
func (c *Cache) PackageDir(id source.PackageId) (string, error) {
	dir := c.packageDir(id)
	if dir == "" {
		return "", fmt.Errorf("package %s has no cache directory", id)
	}
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("package %s is not downloaded: %w", id, err)
	}
	return dir, nil
}

// Size walks the cache root with godirwalk, which is significantly faster
// than filepath.Walk for the wide, shallow directory trees a populated
// pub cache accumulates (one directory per package version).
func (c *Cache) Size() (int64, error) {
	var total int64
	err := godirwalk.Walk(c.Root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			fi, err := os.Lstat(path)
			if err != nil {
				return nil
			}
			total += fi.Size()
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
