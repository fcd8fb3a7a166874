// Package source defines the package-identity data model (PackageRef,
// PackageRange, PackageId, and the tagged Description variants) and the
// Driver capability interface that the hosted/git/path/sdk/root source
// kinds implement. This is component B of the core, generalized from the
// teacher's single Source/ProjectIdentifier pair into a small sum type per
// spec §3/§4.B.
package source

import (
	"fmt"

	"github.com/sigurdm/pub/semver"
)

// Kind tags which Description variant a value holds.
type Kind uint8

const (
	KindHosted Kind = iota
	KindGit
	KindPath
	KindSDK
	KindRoot
)

func (k Kind) String() string {
	switch k {
	case KindHosted:
		return "hosted"
	case KindGit:
		return "git"
	case KindPath:
		return "path"
	case KindSDK:
		return "sdk"
	case KindRoot:
		return "root"
	default:
		return "unknown"
	}
}

// Description is the tagged union `{Hosted{name,url} | Git{url,path,ref} |
// Path{path,relative}}` from spec §3, extended with the pseudo-sources SDK
// and Root needed to drive the solver over SDK constraints and the root
// project itself.
//
// Exactly one of the Hosted/Git/Path/SDK fields is meaningful, selected by
// Kind. This mirrors the teacher's tagged-variant guidance in §9 (Design
// Notes): a sum type with per-variant fields, rather than a class
// hierarchy.
type Description struct {
	Kind Kind

	// Hosted
	HostedName string
	HostedURL  string

	// Git
	GitURL  string
	GitPath string
	GitRef  string

	// Path
	Path     string
	Relative bool

	// SDK
	SDKName string
}

// Equal reports whether d and o are structurally equal, per spec §3
// "PackageRef ... Two refs are equal iff both name and description
// components are structurally equal."
func (d Description) Equal(o Description) bool {
	if d.Kind != o.Kind {
		return false
	}
	switch d.Kind {
	case KindHosted:
		return d.HostedName == o.HostedName && d.HostedURL == o.HostedURL
	case KindGit:
		return d.GitURL == o.GitURL && d.GitPath == o.GitPath && d.GitRef == o.GitRef
	case KindPath:
		return d.Path == o.Path && d.Relative == o.Relative
	case KindSDK:
		return d.SDKName == o.SDKName
	case KindRoot:
		return true
	}
	return false
}

func (d Description) String() string {
	switch d.Kind {
	case KindHosted:
		return fmt.Sprintf("hosted(%s @ %s)", d.HostedName, d.HostedURL)
	case KindGit:
		return fmt.Sprintf("git(%s#%s)", d.GitURL, d.GitRef)
	case KindPath:
		return fmt.Sprintf("path(%s)", d.Path)
	case KindSDK:
		return fmt.Sprintf("sdk(%s)", d.SDKName)
	case KindRoot:
		return "root"
	}
	return "unknown"
}

// PackageRef is a (name, description) pair identifying where a package
// comes from, independent of any particular version.
type PackageRef struct {
	Name        string
	Description Description
}

// Equal reports whether r and o refer to the same package source.
func (r PackageRef) Equal(o PackageRef) bool {
	return r.Name == o.Name && r.Description.Equal(o.Description)
}

func (r PackageRef) String() string { return r.Name + " " + r.Description.String() }

// Features is the set of enabled optional package features a PackageRange
// requests.
type Features map[string]bool

// PackageRange is a PackageRef together with the VersionConstraint and
// feature set the dependent package requested.
type PackageRange struct {
	Ref        PackageRef
	Constraint semver.Constraint
	Features   Features
}

func (r PackageRange) String() string {
	return fmt.Sprintf("%s %s", r.Ref, r.Constraint)
}

// ResolvedDescription augments a Description with source-specific resolved
// data filled in once a concrete version has been chosen: a content hash
// for hosted packages, a resolved commit for git packages.
type ResolvedDescription struct {
	Description

	// Sha256 is the hosted archive's content hash, nil until the archive
	// has been downloaded at least once (spec §3 "filled lazily").
	Sha256 []byte

	// ResolvedCommit is the git source's commit the ref resolved to.
	ResolvedCommit string
}

// PackageId is a PackageRef together with a concrete Version and resolved
// description.
type PackageId struct {
	Ref      PackageRef
	Version  semver.Version
	Resolved ResolvedDescription
}

func (id PackageId) String() string {
	return fmt.Sprintf("%s@%s", id.Ref.Name, id.Version)
}

// Equal compares two PackageIds by ref and version; resolved metadata
// (hash, commit) is not part of identity.
func (id PackageId) Equal(o PackageId) bool {
	return id.Ref.Equal(o.Ref) && id.Version.Equal(o.Version)
}

// HostedRef builds the common case of a hosted PackageRef against the
// default registry.
func HostedRef(name, url string) PackageRef {
	return PackageRef{Name: name, Description: Description{Kind: KindHosted, HostedName: name, HostedURL: url}}
}

// RootRef is the distinguished reference for the project being resolved.
func RootRef(name string) PackageRef {
	return PackageRef{Name: name, Description: Description{Kind: KindRoot}}
}

// SDKRef builds a pseudo-package reference for an SDK constraint (e.g.
// "dart", "flutter"), used by the solver to derive incompatibilities from
// a selected version's SDK requirements (spec §4.F "Source-aware rules").
func SDKRef(name string) PackageRef {
	return PackageRef{Name: "sdk:" + name, Description: Description{Kind: KindSDK, SDKName: name}}
}
