package hosted

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/sync/semaphore"

	"github.com/sigurdm/pub/fetch"
	"github.com/sigurdm/pub/pubcache"
	"github.com/sigurdm/pub/source"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func newTestDriver(t *testing.T, srv *httptest.Server) *Driver {
	t.Helper()
	cfg := &fetch.HttpConfig{MaxRetries: 2, Gate: semaphore.NewWeighted(fetch.GateSlots), CI: true, HostedURL: srv.URL}
	cache := pubcache.New(t.TempDir(), cfg)
	return New(cfg, cache)
}

func TestListVersionsParsesRegistryResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/packages/foo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"versions":[{"version":"1.0.0","archive_url":"/archives/foo-1.0.0.tar.gz"},{"version":"1.1.0","archive_url":"/archives/foo-1.1.0.tar.gz"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDriver(t, srv)
	ref := source.HostedRef("foo", srv.URL)

	versions, err := d.ListVersions(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Version.String() != "1.0.0" || versions[1].Version.String() != "1.1.0" {
		t.Fatalf("unexpected versions: %+v", versions)
	}
}

func TestDescribeDownloadsArchiveAndParsesPubspec(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"pubspec.yaml": "name: foo\nversion: 1.0.0\ndependencies:\n  bar: ^2.0.0\n",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/archives/foo-1.0.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/api/packages/foo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"versions":[{"version":"1.0.0","archive_url":"` + srv.URL + `/archives/foo-1.0.0.tar.gz"}]}`))
	})

	d := newTestDriver(t, srv)
	ref := source.HostedRef("foo", srv.URL)

	versions, err := d.ListVersions(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	id := versions[0]

	spec, err := d.Describe(context.Background(), id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if spec.PackageName() != "foo" {
		t.Fatalf("expected package name foo, got %s", spec.PackageName())
	}
	deps := spec.Dependencies()
	if len(deps) != 1 || deps[0].Ref.Name != "bar" {
		t.Fatalf("expected a single bar dependency, got %+v", deps)
	}
}

func TestSerializeAndParseIDRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	defer srv.Close()
	d := newTestDriver(t, srv)
	id := source.PackageId{
		Ref: source.HostedRef("foo", "https://pub.dev"),
	}
	id.Resolved.Sha256 = make([]byte, 32)
	for i := range id.Resolved.Sha256 {
		id.Resolved.Sha256[i] = byte(i)
	}

	raw := d.SerializeForLockfile(id)
	parsed, err := d.ParseID("foo", "1.0.0", raw, "")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if parsed.Ref.Description.HostedURL != "https://pub.dev" {
		t.Fatalf("expected hosted url to round-trip, got %+v", parsed.Ref.Description)
	}
	if len(parsed.Resolved.Sha256) != 32 {
		t.Fatalf("expected sha256 to round-trip, got %d bytes", len(parsed.Resolved.Sha256))
	}
}
