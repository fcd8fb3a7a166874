package pub

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sigurdm/pub/fetch"
	"github.com/sigurdm/pub/pubcache"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/source"
)

// memPackage/memSpec/memDriver mirror the in-memory registry harness in
// deps/planner_test.go, reimplemented here since that one is unexported
// to its own package.
type memPackage struct {
	deps []source.PackageRange
}

type memSpec struct {
	name string
	pkg  memPackage
}

func (m memSpec) PackageName() string                         { return m.name }
func (m memSpec) Dependencies() []source.PackageRange          { return m.pkg.deps }
func (m memSpec) DevDependencies() []source.PackageRange       { return nil }
func (m memSpec) Overrides() []source.PackageRange             { return nil }
func (m memSpec) SDKConstraints() map[string]semver.Constraint { return nil }

type memDriver struct {
	versions map[string]map[string]memPackage
}

func newMemDriver() *memDriver { return &memDriver{versions: map[string]map[string]memPackage{}} }

func (d *memDriver) add(name, version string, pkg memPackage) {
	if d.versions[name] == nil {
		d.versions[name] = map[string]memPackage{}
	}
	d.versions[name][version] = pkg
}

func (d *memDriver) Kind() source.Kind { return source.KindHosted }

func (d *memDriver) ListVersions(_ context.Context, ref source.PackageRef) ([]source.PackageId, error) {
	var out []source.PackageId
	for vs := range d.versions[ref.Name] {
		out = append(out, source.PackageId{Ref: ref, Version: semver.MustParse(vs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version.Less(out[j].Version) })
	return out, nil
}

func (d *memDriver) Describe(_ context.Context, id source.PackageId) (source.Spec, error) {
	return memSpec{name: id.Ref.Name, pkg: d.versions[id.Ref.Name][id.Version.String()]}, nil
}

func (d *memDriver) Download(_ context.Context, id source.PackageId) (string, source.PackageId, error) {
	return "", id, nil
}

func (d *memDriver) ParseID(name, version string, desc map[string]interface{}, _ string) (source.PackageId, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return source.PackageId{}, err
	}
	url, _ := desc["url"].(string)
	return source.PackageId{Ref: source.HostedRef(name, url), Version: v}, nil
}

func (d *memDriver) SerializeForLockfile(id source.PackageId) map[string]interface{} {
	return map[string]interface{}{"url": id.Ref.Description.HostedURL}
}

func newTestRegistry(d *memDriver) *source.Registry {
	reg := source.NewRegistry()
	reg.Register(d)
	return reg
}

func newTestCoordinator(d *memDriver) *Coordinator {
	cfg := &fetch.HttpConfig{Gate: semaphore.NewWeighted(16)}
	return &Coordinator{
		Registry: newTestRegistry(d),
		Cache:    pubcache.New("", cfg),
	}
}

func writeProjectFiles(t *testing.T, dir, pubspecYAML string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, PubspecFilename), []byte(pubspecYAML), 0o644); err != nil {
		t.Fatal(err)
	}
}

const simplePubspec = `
name: myapp
dependencies:
  foo: ^1.0.0
`

func TestEnsureUpToDateWritesLockAndPackageConfigWhenMissing(t *testing.T) {
	d := newMemDriver()
	d.add("foo", "1.2.0", memPackage{})

	dir := t.TempDir()
	writeProjectFiles(t, dir, simplePubspec)

	co := newTestCoordinator(d)
	proj, err := LoadProject(dir, co.Registry)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if proj.Lock != nil {
		t.Fatal("expected no lock before EnsureUpToDate")
	}

	lf, err := co.EnsureUpToDate(context.Background(), proj)
	if err != nil {
		t.Fatalf("EnsureUpToDate: %v", err)
	}
	if lf.Packages["foo"].Version.String() != "1.2.0" {
		t.Fatalf("expected foo@1.2.0, got %+v", lf.Packages["foo"])
	}

	if _, err := os.Stat(filepath.Join(dir, LockFilename)); err != nil {
		t.Fatalf("expected %s to be written: %v", LockFilename, err)
	}

	cfgPath := filepath.Join(dir, PackageConfigRelPath)
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("expected %s to be written: %v", PackageConfigRelPath, err)
	}
	var cfg packageConfig
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		t.Fatalf("invalid package configuration JSON: %v", err)
	}
	if cfg.ConfigVersion != 2 {
		t.Fatalf("expected configVersion 2, got %d", cfg.ConfigVersion)
	}
	var names []string
	for _, p := range cfg.Packages {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "foo" || names[1] != "myapp" {
		t.Fatalf("expected package configuration entries for myapp and foo, got %v", names)
	}
}

func TestEnsureUpToDateSkipsSolvingWhenLockIsFresh(t *testing.T) {
	d := newMemDriver()
	d.add("foo", "1.2.0", memPackage{})

	dir := t.TempDir()
	writeProjectFiles(t, dir, simplePubspec)

	co := newTestCoordinator(d)
	proj, err := LoadProject(dir, co.Registry)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if _, err := co.EnsureUpToDate(context.Background(), proj); err != nil {
		t.Fatalf("first EnsureUpToDate: %v", err)
	}

	lockPath := filepath.Join(dir, LockFilename)
	before, err := os.Stat(lockPath)
	if err != nil {
		t.Fatal(err)
	}

	// Reload fresh from disk (as a second invocation of the tool would)
	// and make the lock's mtime comfortably newer than the pubspec's so
	// staleness is decided purely by constraint compatibility.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(lockPath, future, future); err != nil {
		t.Fatal(err)
	}

	proj2, err := LoadProject(dir, co.Registry)
	if err != nil {
		t.Fatalf("LoadProject (reload): %v", err)
	}
	if _, err := co.EnsureUpToDate(context.Background(), proj2); err != nil {
		t.Fatalf("second EnsureUpToDate: %v", err)
	}

	after, err := os.Stat(lockPath)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(future) {
		t.Fatalf("expected lock file to be left untouched at its forced mtime %v, got %v (originally %v)", future, after.ModTime(), before.ModTime())
	}
}

func TestEnsureUpToDateResolvesAgainWhenConstraintNoLongerSatisfied(t *testing.T) {
	d := newMemDriver()
	d.add("foo", "1.2.0", memPackage{})
	d.add("foo", "2.0.0", memPackage{})

	dir := t.TempDir()
	writeProjectFiles(t, dir, simplePubspec)

	co := newTestCoordinator(d)
	proj, err := LoadProject(dir, co.Registry)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if _, err := co.EnsureUpToDate(context.Background(), proj); err != nil {
		t.Fatalf("first EnsureUpToDate: %v", err)
	}

	// Move the pubspec's constraint (^1.0.0 to ^2.0.0) past the locked version without
	// touching the lock file's own mtime ordering; constraint
	// incompatibility, not mtime, must be what triggers the re-solve.
	writeProjectFiles(t, dir, `
name: myapp
dependencies:
  foo: ^2.0.0
`)
	lockPath := filepath.Join(dir, LockFilename)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(lockPath, future, future); err != nil {
		t.Fatal(err)
	}

	proj2, err := LoadProject(dir, co.Registry)
	if err != nil {
		t.Fatalf("LoadProject (reload): %v", err)
	}
	lf, err := co.EnsureUpToDate(context.Background(), proj2)
	if err != nil {
		t.Fatalf("EnsureUpToDate: %v", err)
	}
	if lf.Packages["foo"].Version.String() != "2.0.0" {
		t.Fatalf("expected foo to resolve to 2.0.0, got %+v", lf.Packages["foo"])
	}
}

func TestEnsureUpToDateSurfacesSolveFailureAsResolutionFailure(t *testing.T) {
	d := newMemDriver()
	d.add("a", "1.0.0", memPackage{deps: []source.PackageRange{hostedDep("c", "^1.0.0")}})
	d.add("b", "1.0.0", memPackage{deps: []source.PackageRange{hostedDep("c", "^2.0.0")}})
	d.add("c", "1.0.0", memPackage{})
	d.add("c", "2.0.0", memPackage{})

	dir := t.TempDir()
	writeProjectFiles(t, dir, `
name: myapp
dependencies:
  a: ^1.0.0
  b: ^1.0.0
`)

	co := newTestCoordinator(d)
	proj, err := LoadProject(dir, co.Registry)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}

	_, err = co.EnsureUpToDate(context.Background(), proj)
	if err == nil {
		t.Fatal("expected a resolution failure")
	}
	rf, ok := err.(*ResolutionFailure)
	if !ok {
		t.Fatalf("expected *ResolutionFailure, got %T: %v", err, err)
	}
	if rf.Explanation == "" {
		t.Fatal("expected a non-empty explanation")
	}

	if _, statErr := os.Stat(filepath.Join(dir, LockFilename)); statErr == nil {
		t.Fatal("expected no lock file to be written on failure")
	}
}

func hostedDep(name, constraint string) source.PackageRange {
	c, err := semver.ParseConstraint(constraint)
	if err != nil {
		panic(err)
	}
	return source.PackageRange{Ref: source.HostedRef(name, ""), Constraint: c}
}
