package source

import (
	"context"
	"os"

	"github.com/sigurdm/pub/semver"
)

// sdkSpec is the empty manifest every SDK pseudo-package describes: SDK
// pseudo-packages never declare dependencies of their own, so the solver
// only ever uses them as a leaf the root (or a dependency) can constrain
// against, per spec §4.F "SDK constraints on a selected version produce
// derived incompatibilities referencing the SDK pseudo-package."
type sdkSpec struct {
	name string
}

func (s sdkSpec) PackageName() string                         { return s.name }
func (s sdkSpec) Dependencies() []PackageRange                { return nil }
func (s sdkSpec) DevDependencies() []PackageRange              { return nil }
func (s sdkSpec) Overrides() []PackageRange                    { return nil }
func (s sdkSpec) SDKConstraints() map[string]semver.Constraint { return nil }


// SDKDriver serves the KindSDK pseudo-source: a single reported version per
// SDK name standing in for the locally installed toolchain, the same role
// the teacher's rootdata.go gives the root project as a degenerate,
// non-fetchable ProjectIdentifier.
//
// There is no bundled Dart/Flutter toolchain to interrogate here, so the
// reported version comes from PUB_SDK_VERSION_<NAME> (upper-cased), falling
// back to DefaultSDKVersion. A real pub client instead shells out to the
// running SDK; exec'ing an external binary is out of scope for this driver.
type SDKDriver struct {
	// Versions overrides the reported version for a given SDK name (e.g.
	// "dart", "flutter"). Unset names fall back to the environment lookup,
	// then DefaultSDKVersion.
	Versions map[string]semver.Version
}

// DefaultSDKVersion is reported for any SDK name with no explicit override
// and no PUB_SDK_VERSION_<NAME> environment variable set.
var DefaultSDKVersion = semver.MustParse("3.4.0")

// NewSDKDriver builds an SDKDriver with no overrides; callers may populate
// Versions before first use.
func NewSDKDriver() *SDKDriver {
	return &SDKDriver{Versions: map[string]semver.Version{}}
}

func (d *SDKDriver) Kind() Kind { return KindSDK }

func (d *SDKDriver) version(ref PackageRef) semver.Version {
	name := ref.Description.SDKName
	if v, ok := d.Versions[name]; ok {
		return v
	}
	if raw := os.Getenv("PUB_SDK_VERSION_" + upper(name)); raw != "" {
		if v, err := semver.Parse(raw); err == nil {
			return v
		}
	}
	return DefaultSDKVersion
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func (d *SDKDriver) ListVersions(_ context.Context, ref PackageRef) ([]PackageId, error) {
	return []PackageId{{Ref: ref, Version: d.version(ref)}}, nil
}

func (d *SDKDriver) Describe(_ context.Context, id PackageId) (Spec, error) {
	return sdkSpec{name: id.Ref.Name}, nil
}

func (d *SDKDriver) Download(_ context.Context, id PackageId) (string, PackageId, error) {
	return "", id, ErrUnsupported{Kind: KindSDK, Op: "download"}
}

func (d *SDKDriver) ParseID(name, version string, _ map[string]interface{}, _ string) (PackageId, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return PackageId{}, err
	}
	sdkName := name
	if len(sdkName) > 4 && sdkName[:4] == "sdk:" {
		sdkName = sdkName[4:]
	}
	return PackageId{Ref: SDKRef(sdkName), Version: v}, nil
}

func (d *SDKDriver) SerializeForLockfile(id PackageId) map[string]interface{} {
	return map[string]interface{}{"name": id.Ref.Description.SDKName}
}
