// Package lockfile implements component D: parsing, validating, and
// serializing the YAML lock file that pins every transitive dependency to
// a single version, plus content-hash enforcement against the system
// cache, per spec §4.D/§6.
//
// Grounded on the teacher's lock.go (rawLock/Lock two-struct pattern,
// SortedLockedProjects for stable serialization order) and txn_writer.go
// for atomic writes, generalized from dep's JSON revision-pinning format
// to pub's YAML name-to-PackageId map with source-specific description
// blocks.
package lockfile

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sigurdm/pub/pubcache"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/source"
)

// Dependency records how a locked package relates to the root package, per
// spec §3 LockFile invariant tracking main/dev/overridden/transitive.
type Dependency uint8

const (
	Transitive Dependency = iota
	DirectMain
	DirectDev
	DirectOverridden
)

func (d Dependency) String() string {
	switch d {
	case DirectMain:
		return "direct main"
	case DirectDev:
		return "direct dev"
	case DirectOverridden:
		return "direct overridden"
	default:
		return "transitive"
	}
}

func parseDependency(s string) (Dependency, error) {
	switch s {
	case "", "transitive":
		return Transitive, nil
	case "direct main":
		return DirectMain, nil
	case "direct dev":
		return DirectDev, nil
	case "direct overridden":
		return DirectOverridden, nil
	default:
		return Transitive, fmt.Errorf("unrecognized dependency annotation %q", s)
	}
}

// LockFile is the parsed, in-memory form of the lock document (spec §3).
// Invariant L1 ("no entry is the root package") is maintained by callers:
// the entrypoint coordinator never adds the root's own name to Packages.
type LockFile struct {
	Packages   map[string]source.PackageId
	Dependency map[string]Dependency
	SDK        map[string]semver.Constraint

	// headerComment is preserved verbatim across parse/serialize round
	// trips (spec §4.D "Header comment is preserved on write").
	headerComment string

	// crlf records the file's majority newline convention as observed at
	// parse time, so Serialize can preserve it (spec §4.D).
	crlf bool
}

// New builds an empty lock file with the implicit dart:any SDK
// constraint, the starting point before any package is added.
func New() *LockFile {
	return &LockFile{
		Packages:   map[string]source.PackageId{},
		Dependency: map[string]Dependency{},
		SDK:        map[string]semver.Constraint{"dart": semver.Any()},
	}
}

type rawLockFile struct {
	SDKs     map[string]string             `yaml:"sdks,omitempty"`
	SDK      string                        `yaml:"sdk,omitempty"` // legacy single-SDK form
	Packages map[string]rawLockedPackage   `yaml:"packages,omitempty"`
}

type rawLockedPackage struct {
	Version     string                 `yaml:"version"`
	Source      string                 `yaml:"source"`
	Description map[string]interface{} `yaml:"description"`
	Dependency  string                 `yaml:"dependency,omitempty"`
}

// Parse decodes a lock file document. containingDir is used to resolve
// relative path-dependency descriptions; reg looks up the driver for each
// package's declared source to parse its description block (spec §4.D
// "The source registry is invoked to parse each description").
func Parse(data []byte, containingDir string, reg *source.Registry) (*LockFile, error) {
	lf := New()
	lf.headerComment = extractHeaderComment(data)
	lf.crlf = isMajorityCRLF(data)

	if len(bytes.TrimSpace(data)) == 0 {
		return lf, nil
	}

	var raw rawLockFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &FormatError{Detail: err.Error()}
	}

	lf.SDK = map[string]semver.Constraint{}
	if raw.SDK != "" {
		c, err := semver.ParseConstraint(raw.SDK)
		if err != nil {
			return nil, &FormatError{Detail: fmt.Sprintf("invalid legacy sdk constraint: %v", err)}
		}
		lf.SDK["dart"] = c
	}
	for name, v := range raw.SDKs {
		c, err := semver.ParseConstraint(v)
		if err != nil {
			return nil, &FormatError{Detail: fmt.Sprintf("invalid sdk constraint for %q: %v", name, err)}
		}
		lf.SDK[name] = c
	}
	if _, ok := lf.SDK["dart"]; !ok {
		lf.SDK["dart"] = semver.Any()
	}

	for name, entry := range raw.Packages {
		if entry.Version == "" {
			return nil, &FormatError{Detail: fmt.Sprintf("package %q is missing required field \"version\"", name)}
		}
		if entry.Source == "" {
			return nil, &FormatError{Detail: fmt.Sprintf("package %q is missing required field \"source\"", name)}
		}
		kind, err := kindOf(entry.Source)
		if err != nil {
			return nil, &FormatError{Detail: err.Error()}
		}
		drv, err := reg.For(kind)
		if err != nil {
			return nil, &FormatError{Detail: fmt.Sprintf("package %q: %v", name, err)}
		}
		id, err := drv.ParseID(name, entry.Version, entry.Description, containingDir)
		if err != nil {
			return nil, &FormatError{Detail: fmt.Sprintf("package %q: %v", name, err)}
		}
		lf.Packages[name] = id

		dep, err := parseDependency(entry.Dependency)
		if err != nil {
			return nil, &FormatError{Detail: fmt.Sprintf("package %q: %v", name, err)}
		}
		lf.Dependency[name] = dep
	}

	return lf, nil
}

func kindOf(s string) (source.Kind, error) {
	switch s {
	case "hosted":
		return source.KindHosted, nil
	case "git":
		return source.KindGit, nil
	case "path":
		return source.KindPath, nil
	case "sdk":
		return source.KindSDK, nil
	default:
		return 0, fmt.Errorf("unrecognized source %q", s)
	}
}

func sourceName(k source.Kind) string {
	switch k {
	case source.KindHosted:
		return "hosted"
	case source.KindGit:
		return "git"
	case source.KindPath:
		return "path"
	case source.KindSDK:
		return "sdk"
	default:
		return "unknown"
	}
}

// Serialize renders lf to its on-disk YAML form, in stable alphabetical
// order by package name (spec §4.D). cache supplies each hosted package's
// learned content hash; if lf already carried a conflicting hash for a
// package, Serialize fails with *HashMismatchError unless the prior entry
// had none (the Open Question resolution in DESIGN.md: legacy listings
// upgrade silently, genuine disagreement is fatal).
func (lf *LockFile) Serialize(cache *pubcache.Cache, reg *source.Registry) ([]byte, error) {
	names := make([]string, 0, len(lf.Packages))
	for name := range lf.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	raw := rawLockFile{
		SDKs:     map[string]string{},
		Packages: make(map[string]rawLockedPackage, len(names)),
	}
	for name, c := range lf.SDK {
		raw.SDKs[name] = c.String()
	}

	for _, name := range names {
		id := lf.Packages[name]
		drv, err := reg.DriverFor(id.Ref)
		if err != nil {
			return nil, err
		}

		if id.Ref.Description.Kind == source.KindHosted {
			if hash, ok := cache.Sha256FromCache(id); ok {
				if len(id.Resolved.Sha256) == 32 && !bytes.Equal(id.Resolved.Sha256, hash) {
					return nil, &HashMismatchError{Package: name}
				}
				id.Resolved.Sha256 = hash
			}
		}

		desc := drv.SerializeForLockfile(id)
		raw.Packages[name] = rawLockedPackage{
			Version:     id.Version.String(),
			Source:      sourceName(id.Ref.Description.Kind),
			Description: desc,
			Dependency:  depString(lf.Dependency[name]),
		}
	}

	var body bytes.Buffer
	enc := yaml.NewEncoder(&body)
	enc.SetIndent(2)
	if err := enc.Encode(raw); err != nil {
		return nil, err
	}
	enc.Close()

	out := lf.headerComment + body.String()
	if lf.crlf {
		out = toCRLF(out)
	}
	return []byte(out), nil
}

func depString(d Dependency) string {
	if d == Transitive {
		return ""
	}
	return d.String()
}

// extractHeaderComment returns the leading run of "# " comment lines, kept
// verbatim so Serialize can reproduce it (spec §4.D).
func extractHeaderComment(data []byte) string {
	var header strings.Builder
	lines := strings.SplitAfter(string(data), "\n")
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		header.WriteString(line)
	}
	return header.String()
}

// isMajorityCRLF reports whether more of data's line endings are CRLF than
// bare LF, so Serialize can preserve the convention (spec §4.D).
func isMajorityCRLF(data []byte) bool {
	crlf := bytes.Count(data, []byte("\r\n"))
	lf := bytes.Count(data, []byte("\n")) - crlf
	return crlf > lf
}

func toCRLF(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

// Equivalent reports whether lf and other pin the same set of packages to
// the same versions and sources, per spec §3 invariant L2 ("if two lock
// files have equal PackageId maps they are considered equivalent for
// reuse"). Hash and dependency-kind annotations are not part of identity.
func (lf *LockFile) Equivalent(other *LockFile) bool {
	if lf == nil || other == nil {
		return lf == other
	}
	if len(lf.Packages) != len(other.Packages) {
		return false
	}
	for name, id := range lf.Packages {
		o, ok := other.Packages[name]
		if !ok || !id.Equal(o) {
			return false
		}
	}
	return true
}

// PackageDiff is the before/after snapshot of one package's lock entry,
// grounded on the teacher's LockedProjectDiff: fields are only meaningful
// according to which of Previous/Current is the zero value.
type PackageDiff struct {
	Name     string
	Previous *source.PackageId
	Current  *source.PackageId
}

// Diff computes the added, removed, and changed entries between prev (the
// previous lock) and next (the new one), for rendering upgrade reports
// (component G consumes this to classify per-package outcomes).
func Diff(prev, next *LockFile) (added, removed, changed []PackageDiff) {
	if prev == nil {
		prev = New()
	}
	if next == nil {
		next = New()
	}
	for name, id := range next.Packages {
		id := id
		if old, ok := prev.Packages[name]; ok {
			if !old.Equal(id) {
				old := old
				changed = append(changed, PackageDiff{Name: name, Previous: &old, Current: &id})
			}
		} else {
			added = append(added, PackageDiff{Name: name, Current: &id})
		}
	}
	for name, id := range prev.Packages {
		if _, ok := next.Packages[name]; !ok {
			id := id
			removed = append(removed, PackageDiff{Name: name, Previous: &id})
		}
	}
	sortDiffs(added)
	sortDiffs(removed)
	sortDiffs(changed)
	return added, removed, changed
}

func sortDiffs(d []PackageDiff) {
	sort.Slice(d, func(i, j int) bool { return d[i].Name < d[j].Name })
}

// FormatError reports a malformed lock file, per spec §7
// ManifestFormatError.
type FormatError struct {
	Detail string
}

func (e *FormatError) Error() string { return "bad lock file: " + e.Detail }

// HashMismatchError reports a content-hash disagreement between a lock
// file's recorded hash and the system cache's, per spec §7.
type HashMismatchError struct {
	Package string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("the content hash recorded for %q no longer matches the cached archive; delete the lock file and re-resolve", e.Package)
}
