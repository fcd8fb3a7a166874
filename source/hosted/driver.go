// Package hosted implements source.Driver for spec §4.B's default source
// kind: a package pulled from a pub-protocol registry over HTTP.
//
// Grounded on the teacher's remote.go (deducing and fetching remote
// project metadata), generalized from dep's Go-import-path deduction to
// the literal hosted registry protocol spec §6 fixes: `GET
// /api/packages/<name>` for version listings, then a cached archive
// download (component C) to read a version's pubspec.yaml, since the
// listing response carries no inline dependency data.
package hosted

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sigurdm/pub/fetch"
	"github.com/sigurdm/pub/pubcache"
	"github.com/sigurdm/pub/pubspec"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/source"
)

// Driver serves source.KindHosted.
type Driver struct {
	HTTP  *fetch.HttpConfig
	Cache *pubcache.Cache

	mu       sync.Mutex
	archives map[string]versionEntry // keyed by "<url>|<name>|<version>"
}

// New builds a hosted Driver sharing http's retry/gate configuration and
// cache's on-disk archive store.
func New(http *fetch.HttpConfig, cache *pubcache.Cache) *Driver {
	return &Driver{HTTP: http, Cache: cache, archives: map[string]versionEntry{}}
}

func (d *Driver) Kind() source.Kind { return source.KindHosted }

type versionEntry struct {
	Version       string `json:"version"`
	ArchiveURL    string `json:"archive_url"`
	ArchiveSha256 string `json:"archive_sha256"`
}

type versionListing struct {
	Versions []versionEntry `json:"versions"`
}

func decodeJSON[T any](_ http.Header, body io.Reader) (T, error) {
	var v T
	dec := json.NewDecoder(body)
	err := dec.Decode(&v)
	return v, err
}

func (d *Driver) registryURL(ref source.PackageRef) string {
	u := ref.Description.HostedURL
	if u == "" {
		u = d.HTTP.HostedURL
	}
	return u
}

func (d *Driver) archiveKey(url, name, version string) string {
	return url + "|" + name + "|" + version
}

// ListVersions implements source.Driver, hitting spec §6's `GET
// /api/packages/<name>` endpoint and caching each listed archive URL for
// the Describe/Download calls that typically follow for the chosen
// version.
func (d *Driver) ListVersions(ctx context.Context, ref source.PackageRef) ([]source.PackageId, error) {
	url := d.registryURL(ref)
	listing, err := fetch.Fetch(ctx, d.HTTP, fetch.Request{
		URL:       strings.TrimRight(url, "/") + "/api/packages/" + ref.Name,
		PubAccept: true,
	}, decodeJSON[versionListing])
	if err != nil {
		return nil, fmt.Errorf("listing versions for %s: %w", ref.Name, err)
	}

	out := make([]source.PackageId, 0, len(listing.Versions))
	d.mu.Lock()
	for _, entry := range listing.Versions {
		v, err := semver.Parse(entry.Version)
		if err != nil {
			continue // ignore versions the registry published in a form we can't parse
		}
		d.archives[d.archiveKey(url, ref.Name, entry.Version)] = entry
		out = append(out, source.PackageId{
			Ref:     source.HostedRef(ref.Name, url),
			Version: v,
		})
	}
	d.mu.Unlock()
	return out, nil
}

func (d *Driver) archiveFor(ctx context.Context, id source.PackageId) (versionEntry, error) {
	url := d.registryURL(id.Ref)
	key := d.archiveKey(url, id.Ref.Name, id.Version.String())

	d.mu.Lock()
	entry, ok := d.archives[key]
	d.mu.Unlock()
	if ok {
		return entry, nil
	}

	// Describe/Download reached before ListVersions (e.g. after a lock
	// file round trip) — repopulate from the registry.
	if _, err := d.ListVersions(ctx, id.Ref); err != nil {
		return versionEntry{}, err
	}
	d.mu.Lock()
	entry, ok = d.archives[key]
	d.mu.Unlock()
	if !ok {
		return versionEntry{}, fmt.Errorf("registry at %s has no version %s of %s", url, id.Version, id.Ref.Name)
	}
	return entry, nil
}

func (d *Driver) fetchArchive(ctx context.Context, id source.PackageId) (string, source.PackageId, error) {
	entry, err := d.archiveFor(ctx, id)
	if err != nil {
		return "", id, err
	}
	resolved, err := d.Cache.DownloadPackage(ctx, id, entry.ArchiveURL)
	if err != nil {
		return "", id, fmt.Errorf("downloading %s: %w", id, err)
	}
	dir, err := d.Cache.PackageDir(resolved)
	if err != nil {
		return "", id, err
	}
	return dir, resolved, nil
}

// Describe implements source.Driver by downloading id's archive (if not
// already cached) and parsing the pubspec.yaml it contains.
func (d *Driver) Describe(ctx context.Context, id source.PackageId) (source.Spec, error) {
	dir, _, err := d.fetchArchive(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "pubspec.yaml"))
	if err != nil {
		return nil, fmt.Errorf("reading pubspec.yaml for %s: %w", id, err)
	}
	ps, err := pubspec.Parse(data, id.Ref.Description.HostedURL)
	if err != nil {
		return nil, fmt.Errorf("parsing pubspec.yaml for %s: %w", id, err)
	}
	return ps, nil
}

// Download implements source.Driver.
func (d *Driver) Download(ctx context.Context, id source.PackageId) (string, source.PackageId, error) {
	return d.fetchArchive(ctx, id)
}

// ParseID implements source.Driver, reconstructing a hosted PackageId from
// a lock file's `description: {name, url}` block plus its recorded
// content hash, if any.
func (d *Driver) ParseID(name, version string, rawDescription map[string]interface{}, _ string) (source.PackageId, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return source.PackageId{}, err
	}
	url, _ := rawDescription["url"].(string)

	id := source.PackageId{
		Ref:     source.HostedRef(name, url),
		Version: v,
	}
	id.Resolved.Description = id.Ref.Description
	if sha, ok := rawDescription["sha256"].(string); ok && sha != "" {
		sum, err := hex.DecodeString(sha)
		if err != nil {
			return source.PackageId{}, fmt.Errorf("package %q has an invalid sha256: %w", name, err)
		}
		id.Resolved.Sha256 = sum
	}
	return id, nil
}

// SerializeForLockfile implements source.Driver, rendering the
// `description: {name, url}` block spec §6 expects; the sha256 sidecar is
// promoted onto id.Resolved by lockfile.Serialize before this is called.
func (d *Driver) SerializeForLockfile(id source.PackageId) map[string]interface{} {
	m := map[string]interface{}{
		"name": id.Ref.Name,
		"url":  id.Ref.Description.HostedURL,
	}
	if len(id.Resolved.Sha256) == 32 {
		m["sha256"] = hex.EncodeToString(id.Resolved.Sha256)
	}
	return m
}
