package solver

import (
	"context"
	"sort"
	"testing"

	"github.com/sigurdm/pub/lockfile"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/source"
)

func fakeLock(versions map[string]string) *lockfile.LockFile {
	lf := lockfile.New()
	for name, v := range versions {
		lf.Packages[name] = source.PackageId{Ref: source.HostedRef(name, ""), Version: semver.MustParse(v)}
	}
	return lf
}

// memPackage is one version's worth of fake registry data: its
// dependencies and SDK constraints.
type memPackage struct {
	deps []source.PackageRange
	sdk  map[string]semver.Constraint
}

type memSpec struct {
	name string
	pkg  memPackage
}

func (m memSpec) PackageName() string                         { return m.name }
func (m memSpec) Dependencies() []source.PackageRange          { return m.pkg.deps }
func (m memSpec) DevDependencies() []source.PackageRange       { return nil }
func (m memSpec) Overrides() []source.PackageRange             { return nil }
func (m memSpec) SDKConstraints() map[string]semver.Constraint { return m.pkg.sdk }

// memDriver is an in-memory hosted-like driver for tests, grounded on the
// same shape as hosted.Driver but backed by a map instead of HTTP.
type memDriver struct {
	versions map[string]map[string]memPackage // name -> version string -> package
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

func (d *memDriver) ParseID(name, version string, _ map[string]interface{}, _ string) (source.PackageId, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return source.PackageId{}, err
	}
	return source.PackageId{Ref: source.HostedRef(name, ""), Version: v}, nil
}

func (d *memDriver) SerializeForLockfile(id source.PackageId) map[string]interface{} { return nil }

func dep(name, constraint string) source.PackageRange {
	c, err := semver.ParseConstraint(constraint)
	if err != nil {
		panic(err)
	}
	return source.PackageRange{Ref: source.HostedRef(name, ""), Constraint: c}
}

func newTestRegistry(d *memDriver) *source.Registry {
	reg := source.NewRegistry()
	reg.Register(d)
	return reg
}

func TestSolveSingleHostedDepExcludesPreRelease(t *testing.T) {
	d := newMemDriver()
	d.add("foo", "1.2.0", memPackage{})
	d.add("foo", "1.2.1", memPackage{})
	d.add("foo", "2.0.0-pre", memPackage{})

	root := memSpec{name: "myapp", pkg: memPackage{deps: []source.PackageRange{dep("foo", "^1.2.0")}}}

	res, err := Solve(context.Background(), Params{
		Type:        Get,
		Root:        root,
		RootName:    "myapp",
		RootVersion: semver.MustParse("0.0.0"),
		Registry:    newTestRegistry(d),
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(res.Packages) != 1 || res.Packages[0].Version.String() != "1.2.1" {
		t.Fatalf("unexpected result: %+v", res.Packages)
	}
}

func TestSolveEmptyPubspecYieldsNoPackages(t *testing.T) {
	root := memSpec{name: "myapp"}
	res, err := Solve(context.Background(), Params{
		Type:        Get,
		Root:        root,
		RootName:    "myapp",
		RootVersion: semver.MustParse("0.0.0"),
		Registry:    newTestRegistry(newMemDriver()),
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(res.Packages) != 0 {
		t.Fatalf("expected no packages, got %+v", res.Packages)
	}
}

func TestSolveConflictingTransitiveConstraintsFails(t *testing.T) {
	d := newMemDriver()
	d.add("a", "1.0.0", memPackage{deps: []source.PackageRange{dep("c", "^1.0.0")}})
	d.add("b", "1.0.0", memPackage{deps: []source.PackageRange{dep("c", "^2.0.0")}})
	d.add("c", "1.0.0", memPackage{})
	d.add("c", "2.0.0", memPackage{})

	root := memSpec{name: "myapp", pkg: memPackage{deps: []source.PackageRange{dep("a", "^1.0.0"), dep("b", "^1.0.0")}}}

	_, err := Solve(context.Background(), Params{
		Type:        Get,
		Root:        root,
		RootName:    "myapp",
		RootVersion: semver.MustParse("0.0.0"),
		Registry:    newTestRegistry(d),
	})
	if err == nil {
		t.Fatal("expected a solve failure")
	}
	if _, ok := err.(*Failure); !ok {
		t.Fatalf("expected *Failure, got %T (%v)", err, err)
	}
}

func TestSolveUpgradeSinglePreservesUnrelatedPins(t *testing.T) {
	d := newMemDriver()
	d.add("foo", "1.2.0", memPackage{})
	d.add("foo", "1.3.0", memPackage{})
	d.add("bar", "1.0.0", memPackage{})
	d.add("bar", "1.1.0", memPackage{})

	root := memSpec{name: "myapp", pkg: memPackage{deps: []source.PackageRange{dep("foo", "any"), dep("bar", "any")}}}

	reg := newTestRegistry(d)
	lock := fakeLock(map[string]string{"foo": "1.2.0", "bar": "1.0.0"})

	res, err := Solve(context.Background(), Params{
		Type:        Upgrade,
		Root:        root,
		RootName:    "myapp",
		RootVersion: semver.MustParse("0.0.0"),
		Lock:        lock,
		Unlock:      map[string]bool{"foo": true},
		Registry:    reg,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	versions := map[string]string{}
	for _, id := range res.Packages {
		versions[id.Ref.Name] = id.Version.String()
	}
	if versions["foo"] != "1.3.0" {
		t.Fatalf("expected foo upgraded to 1.3.0, got %s", versions["foo"])
	}
	if versions["bar"] != "1.0.0" {
		t.Fatalf("expected bar kept at its locked 1.0.0, got %s", versions["bar"])
	}
}
