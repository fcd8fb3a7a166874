// Package semver implements the version and constraint algebra used to
// evaluate package dependencies: a semver 2.0 Version type, and a
// VersionConstraint that models a union of disjoint VersionRanges (or the
// degenerate "any"/"empty" constraints).
//
// The precedence and range semantics follow the semver 2.0 spec exactly as
// Masterminds/semver implements them; this package adds the disjoint-union
// algebra (intersect/union/difference) and the pub-specific notions of
// "compatible with" and "next breaking" that a single-range library does not
// model.
package semver

import (
	"fmt"

	mmsemver "github.com/Masterminds/semver/v3"
)

// Version is an immutable semantic version: major.minor.patch plus an
// optional pre-release and build metadata string.
type Version struct {
	v *mmsemver.Version
}

// Parse parses a semver 2.0 version string. Leading "v" is tolerated, as is
// a 2-component "major.minor" shorthand (promoted to major.minor.0), since
// pubspecs in the wild contain both.
func Parse(s string) (Version, error) {
	v, err := mmsemver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// compile-time constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Zero is the "0.0.0" version, used as the implicit floor of unbounded
// ranges.
var Zero = MustParse("0.0.0")

func (v Version) String() string {
	if v.v == nil {
		return "0.0.0"
	}
	return v.v.String()
}

// Compare returns -1, 0 or 1 if v is less than, equal to, or greater than
// other, using full semver precedence (pre-release versions sort before
// their corresponding release).
func (v Version) Compare(other Version) int {
	return v.raw().Compare(other.raw())
}

func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }
func (v Version) Less(other Version) bool  { return v.Compare(other) < 0 }

func (v Version) Major() uint64 { return v.raw().Major() }
func (v Version) Minor() uint64 { return v.raw().Minor() }
func (v Version) Patch() uint64 { return v.raw().Patch() }

// Prerelease returns the pre-release identifier, or "" if this is a release
// version.
func (v Version) Prerelease() string { return v.raw().Prerelease() }

// IsPreRelease reports whether v carries a pre-release tag.
func (v Version) IsPreRelease() bool { return v.Prerelease() != "" }

func (v Version) raw() *mmsemver.Version {
	if v.v == nil {
		return Zero.v
	}
	return v.v
}

// sameTriple reports whether v and other share (major, minor, patch),
// ignoring pre-release/build. Used by the pre-release-visibility rule in
// §4.A: a pre-release version is excluded from a range unless the range's
// bound is a pre-release of the same triple.
func (v Version) sameTriple(other Version) bool {
	return v.Major() == other.Major() && v.Minor() == other.Minor() && v.Patch() == other.Patch()
}

// NextBreaking returns the next version after v that would be considered a
// breaking change, per §4.A:
//
//	major > 0: (major+1, 0, 0)
//	minor > 0: (0, minor+1, 0)
//	else:      (0, 0, patch+1)
func (v Version) NextBreaking() Version {
	switch {
	case v.Major() > 0:
		return mustBuild(v.Major()+1, 0, 0)
	case v.Minor() > 0:
		return mustBuild(0, v.Minor()+1, 0)
	default:
		return mustBuild(0, 0, v.Patch()+1)
	}
}

// FirstPreRelease returns the lowest possible pre-release version sharing
// v's (major, minor, patch) triple. Pre-release identifiers sort
// lexically/numerically, and "0" sorts before any other numeric or
// alphanumeric identifier a real package would use, so "<triple>-0" is the
// first pre-release of that triple.
func (v Version) FirstPreRelease() Version {
	s := fmt.Sprintf("%d.%d.%d-0", v.Major(), v.Minor(), v.Patch())
	return MustParse(s)
}

func mustBuild(major, minor, patch uint64) Version {
	return MustParse(fmt.Sprintf("%d.%d.%d", major, minor, patch))
}

// CompatibleRange returns [v, v.NextBreaking().FirstPreRelease()), the
// range spec §4.A calls compatibleWith(v).
func (v Version) CompatibleRange() Range {
	return Range{
		hasMin: true, min: v, minIncl: true,
		hasMax: true, max: v.NextBreaking().FirstPreRelease(), maxIncl: false,
	}
}
