// Package pubspec parses and represents a package's declarative manifest:
// name, optional version, dependency maps, and SDK constraints, per spec
// §3 "Pubspec" and §4.B. Grounded on the teacher's manifest.go
// (readManifest/rawManifest/possibleProps two-struct pattern), generalized
// from dep's three-way branch/revision/version properties to pub's
// four-way hosted/git/path/sdk dependency shapes and re-targeted at YAML
// instead of JSON.
package pubspec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/source"
)

// Pubspec is a package's immutable manifest, loaded once per directory
// (spec §3 Lifecycle).
type Pubspec struct {
	Name    string
	Version *semver.Version

	deps      map[string]source.PackageRange
	devDeps   map[string]source.PackageRange
	overrides map[string]source.PackageRange
	sdk       map[string]semver.Constraint
}

// PackageName implements source.Spec.
func (p *Pubspec) PackageName() string { return p.Name }

// Dependencies implements source.Spec.
func (p *Pubspec) Dependencies() []source.PackageRange { return rangesOf(p.deps) }

// DevDependencies implements source.Spec.
func (p *Pubspec) DevDependencies() []source.PackageRange { return rangesOf(p.devDeps) }

// Overrides implements source.Spec.
func (p *Pubspec) Overrides() []source.PackageRange { return rangesOf(p.overrides) }

// SDKConstraints implements source.Spec.
func (p *Pubspec) SDKConstraints() map[string]semver.Constraint { return p.sdk }

func rangesOf(m map[string]source.PackageRange) []source.PackageRange {
	out := make([]source.PackageRange, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}

// rawPubspec is the on-the-wire YAML shape. Dependency values are decoded
// lazily via yaml.Node since a dependency entry may be a bare version
// string or a nested map selecting a non-hosted source.
type rawPubspec struct {
	Name          string              `yaml:"name"`
	Version       string              `yaml:"version,omitempty"`
	Dependencies  map[string]yaml.Node `yaml:"dependencies,omitempty"`
	DevDeps       map[string]yaml.Node `yaml:"dev_dependencies,omitempty"`
	Overrides     map[string]yaml.Node `yaml:"dependency_overrides,omitempty"`
	Environment   map[string]string   `yaml:"environment,omitempty"`
}

// rawDependencyProps is the nested map form of a dependency entry:
// hosted ({hosted: {name, url}, version: constraint}), git ({git: {url,
// ref, path}}), path ({path: dir}), or sdk ({sdk: name}).
type rawDependencyProps struct {
	Version string `yaml:"version,omitempty"`

	Hosted *struct {
		Name string `yaml:"name,omitempty"`
		URL  string `yaml:"url,omitempty"`
	} `yaml:"hosted,omitempty"`

	Git *struct {
		URL  string `yaml:"url"`
		Ref  string `yaml:"ref,omitempty"`
		Path string `yaml:"path,omitempty"`
	} `yaml:"git,omitempty"`

	Path string `yaml:"path,omitempty"`
	SDK  string `yaml:"sdk,omitempty"`
}

// DefaultHostedURL is used when a dependency entry doesn't specify one
// explicitly, overridable via PUB_HOSTED_URL per spec §6.
const DefaultHostedURL = "https://pub.dev"

// Parse decodes a pubspec.yaml document. hostedURL is the default registry
// origin for bare-constraint dependencies (spec §6 PUB_HOSTED_URL).
func Parse(data []byte, hostedURL string) (*Pubspec, error) {
	if hostedURL == "" {
		hostedURL = DefaultHostedURL
	}

	var raw rawPubspec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &FormatError{Detail: err.Error()}
	}
	if raw.Name == "" {
		return nil, &FormatError{Detail: "pubspec is missing required field \"name\""}
	}

	p := &Pubspec{
		Name:      raw.Name,
		deps:      map[string]source.PackageRange{},
		devDeps:   map[string]source.PackageRange{},
		overrides: map[string]source.PackageRange{},
		sdk:       map[string]semver.Constraint{},
	}

	if raw.Version != "" {
		v, err := semver.Parse(raw.Version)
		if err != nil {
			return nil, &FormatError{Detail: fmt.Sprintf("invalid version %q: %v", raw.Version, err)}
		}
		p.Version = &v
	}

	var err error
	if p.deps, err = toRanges(raw.Dependencies, hostedURL); err != nil {
		return nil, err
	}
	if p.devDeps, err = toRanges(raw.DevDeps, hostedURL); err != nil {
		return nil, err
	}
	if p.overrides, err = toRanges(raw.Overrides, hostedURL); err != nil {
		return nil, err
	}

	// Dependency names must be unique across dependencies and
	// dev_dependencies combined (spec §3 invariant); overrides shadow
	// both and are exempt.
	for name := range p.deps {
		if _, dup := p.devDeps[name]; dup {
			return nil, &FormatError{Detail: fmt.Sprintf("%q is listed in both dependencies and dev_dependencies", name)}
		}
	}

	for sdkName, v := range raw.Environment {
		c, err := semver.ParseConstraint(v)
		if err != nil {
			return nil, &FormatError{Detail: fmt.Sprintf("invalid SDK constraint for %q: %v", sdkName, err)}
		}
		p.sdk[sdkName] = c
	}
	if _, ok := p.sdk["dart"]; !ok {
		p.sdk["dart"] = semver.Any()
	}

	return p, nil
}

func toRanges(m map[string]yaml.Node, hostedURL string) (map[string]source.PackageRange, error) {
	out := make(map[string]source.PackageRange, len(m))
	for name, node := range m {
		pr, err := toRange(name, node, hostedURL)
		if err != nil {
			return nil, err
		}
		out[name] = pr
	}
	return out, nil
}

func toRange(name string, node yaml.Node, hostedURL string) (source.PackageRange, error) {
	// Bare scalar: a version constraint string against the default
	// hosted registry.
	if node.Kind == yaml.ScalarNode {
		var constraintStr string
		if err := node.Decode(&constraintStr); err != nil {
			return source.PackageRange{}, &FormatError{Detail: err.Error()}
		}
		c, err := semver.ParseConstraint(constraintStr)
		if err != nil {
			return source.PackageRange{}, &FormatError{Detail: fmt.Sprintf("dependency %q: %v", name, err)}
		}
		return source.PackageRange{
			Ref:        source.HostedRef(name, hostedURL),
			Constraint: c,
		}, nil
	}

	var props rawDependencyProps
	if err := node.Decode(&props); err != nil {
		return source.PackageRange{}, &FormatError{Detail: err.Error()}
	}

	switch {
	case props.Git != nil:
		ref := source.PackageRef{
			Name: name,
			Description: source.Description{
				Kind: source.KindGit, GitURL: props.Git.URL, GitPath: props.Git.Path, GitRef: props.Git.Ref,
			},
		}
		return source.PackageRange{Ref: ref, Constraint: semver.Any()}, nil

	case props.Path != "":
		ref := source.PackageRef{
			Name: name,
			Description: source.Description{Kind: source.KindPath, Path: props.Path, Relative: true},
		}
		return source.PackageRange{Ref: ref, Constraint: semver.Any()}, nil

	case props.SDK != "":
		ref := source.PackageRef{
			Name:        name,
			Description: source.Description{Kind: source.KindSDK, SDKName: props.SDK},
		}
		return source.PackageRange{Ref: ref, Constraint: semver.Any()}, nil

	default:
		url := hostedURL
		hname := name
		if props.Hosted != nil {
			if props.Hosted.URL != "" {
				url = props.Hosted.URL
			}
			if props.Hosted.Name != "" {
				hname = props.Hosted.Name
			}
		}
		c := semver.Any()
		if props.Version != "" {
			var err error
			c, err = semver.ParseConstraint(props.Version)
			if err != nil {
				return source.PackageRange{}, &FormatError{Detail: fmt.Sprintf("dependency %q: %v", name, err)}
			}
		}
		return source.PackageRange{Ref: source.HostedRef(hname, url), Constraint: c}, nil
	}
}

// FormatError reports a malformed pubspec, per spec §7 ManifestFormatError.
type FormatError struct {
	Detail string
}

func (e *FormatError) Error() string { return "bad pubspec: " + e.Detail }
