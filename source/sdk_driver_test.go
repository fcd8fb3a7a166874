package source

import (
	"context"
	"testing"

	"github.com/sigurdm/pub/semver"
)

func TestSDKDriverReportsOverrideVersion(t *testing.T) {
	d := NewSDKDriver()
	d.Versions["dart"] = semver.MustParse("3.1.0")

	versions, err := d.ListVersions(context.Background(), SDKRef("dart"))
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version.String() != "3.1.0" {
		t.Fatalf("expected the overridden 3.1.0, got %+v", versions)
	}
}

func TestSDKDriverFallsBackToDefaultVersion(t *testing.T) {
	d := NewSDKDriver()

	versions, err := d.ListVersions(context.Background(), SDKRef("flutter"))
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if !versions[0].Version.Equal(DefaultSDKVersion) {
		t.Fatalf("expected the default version, got %v", versions[0].Version)
	}
}

func TestSDKDriverDescribeHasNoDependencies(t *testing.T) {
	d := NewSDKDriver()
	spec, err := d.Describe(context.Background(), PackageId{Ref: SDKRef("dart")})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(spec.Dependencies()) != 0 {
		t.Fatalf("expected no dependencies, got %+v", spec.Dependencies())
	}
}

func TestSDKDriverParseIDStripsPrefix(t *testing.T) {
	d := NewSDKDriver()
	id, err := d.ParseID("sdk:dart", "3.0.0", nil, "")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if id.Ref.Description.SDKName != "dart" {
		t.Fatalf("expected sdk name dart, got %q", id.Ref.Description.SDKName)
	}
}
