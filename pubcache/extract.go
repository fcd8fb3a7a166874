package pubcache

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/sigurdm/pub/fetch"
)

// downloadAndExtract streams archiveURL (an application/octet-stream
// tar.gz per spec §6) through the fetch pipeline — which enforces the
// stall/size limits and CRC32C validation of spec §4.E — into a fresh
// temporary directory, then renames it into place at dir so a failed or
// concurrent extraction never leaves a partially-written package visible.
// Returns the sha256 of the raw archive bytes.
func downloadAndExtract(ctx context.Context, cfg *fetch.HttpConfig, archiveURL, dir string) ([]byte, error) {
	tmp, err := os.MkdirTemp(filepath.Dir(dir), ".pub-download-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp extraction dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	decode := func(_ http.Header, body io.Reader) ([]byte, error) {
		h := sha256.New()
		tee := io.TeeReader(body, h)
		if err := extractTarGz(tee, tmp); err != nil {
			return nil, err
		}
		// The tar reader stops at the end-of-archive marker; read the rest
		// so the hash (and the fetch CRC check) cover every archive byte.
		if _, err := io.Copy(io.Discard, tee); err != nil {
			return nil, err
		}
		return h.Sum(nil), nil
	}

	req := fetch.Request{URL: archiveURL, Method: "GET"}
	sum, err := fetch.Fetch(ctx, cfg, req, decode)
	if err != nil {
		return nil, fmt.Errorf("downloading archive: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clearing stale cache directory: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return nil, fmt.Errorf("installing downloaded package: %w", err)
	}

	return sum, nil
}

// extractTarGz unpacks a gzip-compressed tar stream into dir, rejecting
// any entry whose name would escape dir (the pub archive format never
// contains such entries, but a corrupted or malicious upload could).
func extractTarGz(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("invalid gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("invalid tar stream: %w", err)
		}

		target := filepath.Join(dir, hdr.Name)
		if !withinDir(dir, target) {
			return fmt.Errorf("archive entry %q escapes extraction directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and other special entries are not meaningful for a
			// package archive's contents; skip rather than fail.
		}
	}
}

func withinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel))
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

func fileMode(m int64) os.FileMode {
	if m <= 0 {
		return 0o644
	}
	return os.FileMode(m) & 0o777
}
