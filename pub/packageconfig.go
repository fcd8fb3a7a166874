package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/solver"
	"github.com/sigurdm/pub/source"
)

// packageConfig is the JSON shape spec §6 names: "version 2 document with
// an ordered array of {name, rootUri, packageUri, languageVersion}
// entries plus a generation timestamp and generator identifier".
type packageConfig struct {
	ConfigVersion int                  `json:"configVersion"`
	Packages      []packageConfigEntry `json:"packages"`
	Generated     string               `json:"generated"`
	Generator     string               `json:"generator"`
}

type packageConfigEntry struct {
	Name            string `json:"name"`
	RootURI         string `json:"rootUri"`
	PackageURI      string `json:"packageUri"`
	LanguageVersion string `json:"languageVersion,omitempty"`
}

func (c *packageConfig) marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// buildPackageConfig lists the root package (rootUri "../", relative to
// .dart_tool/) followed by every resolved dependency in name order, each
// pointing at the directory its source driver resolves it to.
func buildPackageConfig(ctx context.Context, proj *Project, result *solver.Result, reg *source.Registry) *packageConfig {
	cfg := &packageConfig{
		ConfigVersion: 2,
		Generated:     time.Now().UTC().Format(time.RFC3339),
		Generator:     "pub",
	}

	cfg.Packages = append(cfg.Packages, packageConfigEntry{
		Name:            proj.Pubspec.PackageName(),
		RootURI:         "../",
		PackageURI:      "lib/",
		LanguageVersion: languageVersionOf(proj.Pubspec.SDKConstraints()),
	})

	names := make([]string, 0, len(result.Packages))
	byName := make(map[string]source.PackageId, len(result.Packages))
	for _, id := range result.Packages {
		if id.Ref.Description.Kind == source.KindSDK {
			continue
		}
		names = append(names, id.Ref.Name)
		byName[id.Ref.Name] = id
	}
	sort.Strings(names)

	rootLanguageVersion := cfg.Packages[0].LanguageVersion
	for _, name := range names {
		id := byName[name]
		dir, err := packageDirFor(ctx, id, reg)
		if err != nil {
			// A package whose directory can't be located yet (not fetched)
			// still gets an entry, written with an empty rootUri; nothing
			// rewrites that entry later.
			dir = ""
		}

		lv := rootLanguageVersion
		if spec, ok := result.Specs[name]; ok {
			if declared := languageVersionOf(spec.SDKConstraints()); declared != "" {
				lv = declared
			}
		}

		cfg.Packages = append(cfg.Packages, packageConfigEntry{
			Name:            name,
			RootURI:         fileURI(dir),
			PackageURI:      "lib/",
			LanguageVersion: lv,
		})
	}

	return cfg
}

// packageDirFor locates the on-disk directory id resolves to by asking its
// source driver — Download is documented as idempotent and safe to call
// repeatedly, and by this point in EnsureUpToDate every resolved package
// has already been fetched at least once during solving (Describe reads
// each candidate's pubspec.yaml off the same path), so this is expected
// to be a cache hit rather than a fresh fetch.
func packageDirFor(ctx context.Context, id source.PackageId, reg *source.Registry) (string, error) {
	drv, err := reg.DriverFor(id.Ref)
	if err != nil {
		return "", err
	}
	dir, _, err := drv.Download(ctx, id)
	if err != nil {
		return "", err
	}
	return dir, nil
}

func fileURI(dir string) string {
	if dir == "" {
		return ""
	}
	p := filepath.ToSlash(dir)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return "file://" + p
}

// languageVersionOf reports "major.minor" of the dart SDK constraint's
// lower bound, the floor a package declared it was written against.
func languageVersionOf(sdk map[string]semver.Constraint) string {
	c, ok := sdk["dart"]
	if !ok {
		return ""
	}
	v, ok := c.LowerBound()
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}
