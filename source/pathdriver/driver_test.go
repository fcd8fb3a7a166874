package pathdriver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sigurdm/pub/source"
)

func writePubspec(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "pubspec.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListVersionsReadsTheOnDiskPubspec(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "packages", "foo")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writePubspec(t, pkgDir, "name: foo\nversion: 2.3.4\n")

	d := New(root)
	ref := source.PackageRef{
		Name:        "foo",
		Description: source.Description{Kind: source.KindPath, Path: "packages/foo", Relative: true},
	}

	versions, err := d.ListVersions(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version.String() != "2.3.4" {
		t.Fatalf("expected a single 2.3.4 version, got %+v", versions)
	}
}

func TestDescribeReturnsDependenciesFromDisk(t *testing.T) {
	root := t.TempDir()
	writePubspec(t, root, "name: foo\nversion: 1.0.0\ndependencies:\n  bar: ^1.0.0\n")

	d := New(root)
	ref := source.PackageRef{
		Name:        "foo",
		Description: source.Description{Kind: source.KindPath, Path: ".", Relative: true},
	}
	id := source.PackageId{Ref: ref}

	spec, err := d.Describe(context.Background(), id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	deps := spec.Dependencies()
	if len(deps) != 1 || deps[0].Ref.Name != "bar" {
		t.Fatalf("expected a single bar dependency, got %+v", deps)
	}
}

func TestSerializeAndParseIDRoundTrip(t *testing.T) {
	d := New("/root")
	id := source.PackageId{
		Ref: source.PackageRef{
			Name:        "foo",
			Description: source.Description{Kind: source.KindPath, Path: "../foo", Relative: true},
		},
	}

	raw := d.SerializeForLockfile(id)
	parsed, err := d.ParseID("foo", "1.0.0", raw, "")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if parsed.Ref.Description.Path != "../foo" || !parsed.Ref.Description.Relative {
		t.Fatalf("expected path description to round-trip, got %+v", parsed.Ref.Description)
	}
}
