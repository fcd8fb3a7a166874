package pubcache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sync/semaphore"

	"github.com/sigurdm/pub/fetch"
	"github.com/sigurdm/pub/semver"
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

func TestDownloadPackageExtractsAndRecordsHash(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"pubspec.yaml": "name: foo\nversion: 1.0.0\n",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := &fetch.HttpConfig{MaxRetries: 2, Gate: semaphore.NewWeighted(fetch.GateSlots), CI: true}
	cache := New(dir, cfg)

	id := source.PackageId{
		Ref:     source.HostedRef("foo", "https://pub.dev"),
		Version: semver.MustParse("1.0.0"),
	}

	resolved, err := cache.DownloadPackage(context.Background(), id, srv.URL)
	if err != nil {
		t.Fatalf("DownloadPackage: %v", err)
	}
	if len(resolved.Resolved.Sha256) != 32 {
		t.Fatalf("expected 32-byte sha256, got %d bytes", len(resolved.Resolved.Sha256))
	}

	pkgDir, err := cache.PackageDir(id)
	if err != nil {
		t.Fatalf("PackageDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(pkgDir, "pubspec.yaml")); err != nil {
		t.Fatalf("expected extracted pubspec.yaml: %v", err)
	}

	if hash, ok := cache.Sha256FromCache(id); !ok || len(hash) != 32 {
		t.Fatalf("expected cached hash to be retrievable, got ok=%v len=%d", ok, len(hash))
	}
}
