package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Parser converts manifest files into domain packages.
type Parser struct {
	logger        ports.Logger
	registryIndex func(name string) (string, error)
}

// NewParser creates a new Parser with the given logger.
func NewParser(logger ports.Logger) *Parser {
	return &Parser{logger: logger}
}

// SetRegistryLookup installs the resolver for named registries declared
// on dependency edges. Without one, any `registry` key fails to parse.
func (p *Parser) SetRegistryLookup(fn func(name string) (string, error)) {
	p.registryIndex = fn
}

// document is one decoded manifest: the raw sections plus the package it
// declares, nil for virtual workspace manifests.
type document struct {
	raw *manifestTOML
	pkg *domain.Package
}

// ParsePackage loads the manifest at path. The manifest must declare a
// package section.
func (p *Parser) ParsePackage(path string) (*domain.Package, error) {
	doc, err := p.parseDocument(path, nil)
	if err != nil {
		return nil, err
	}
	if doc.pkg == nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrVirtualManifest, "manifest declares only a workspace"), "path", path)
	}
	return doc.pkg, nil
}

// parseDocument decodes and validates one manifest. ws is the root
// workspace context consulted for dependency inheritance, nil outside a
// workspace.
func (p *Parser) parseDocument(path string, ws *workspaceInfo) (*document, error) {
	raw, err := decodeManifest(path)
	if err != nil {
		return nil, err
	}

	doc := &document{raw: raw}
	if raw.Package == nil {
		if raw.Workspace == nil {
			return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "manifest has neither a package nor a workspace section"), "path", path)
		}
		return doc, nil
	}

	pkg, err := p.buildPackage(path, raw, ws)
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}
	doc.pkg = pkg
	return doc, nil
}

// decodeManifest reads and decodes a manifest without any validation.
func decodeManifest(path string) (*manifestTOML, error) {
	data, err := os.ReadFile(path) //nolint:gosec // manifest path from discovery
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrManifest, err.Error()), "path", path)
	}
	var raw manifestTOML
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrManifest, err.Error()), "path", path)
	}
	return &raw, nil
}

func (p *Parser) buildPackage(path string, raw *manifestTOML, ws *workspaceInfo) (*domain.Package, error) {
	section := raw.Package
	if err := validatePackageName(section.Name); err != nil {
		return nil, err
	}
	if section.Version == "" {
		return nil, zerr.Wrap(domain.ErrManifest, "package version is required")
	}
	version, err := semver.NewVersion(section.Version)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "invalid package version"), "version", section.Version)
	}

	edition := domain.DefaultEdition
	if section.Edition != "" {
		edition, err = domain.ParseEdition(section.Edition)
		if err != nil {
			return nil, err
		}
	}

	var rustVersion *semver.Version
	if section.RustVersion != "" {
		rustVersion, err = semver.NewVersion(section.RustVersion)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "invalid rust-version"), "rust-version", section.RustVersion)
		}
	}

	dir := filepath.Dir(path)
	id := domain.NewPackageID(section.Name, version, domain.PathSource(dir))

	deps, err := p.collectDependencies(dir, raw, ws)
	if err != nil {
		return nil, err
	}

	summary, err := domain.NewSummary(id, deps, raw.Features, section.Links, rustVersion)
	if err != nil {
		return nil, err
	}

	targets, err := discoverTargets(dir, raw, section, edition)
	if err != nil {
		return nil, err
	}

	profiles, err := parseProfiles(raw.Profile)
	if err != nil {
		return nil, err
	}

	return &domain.Package{
		ID:           id,
		ManifestPath: path,
		Edition:      edition,
		Authors:      section.Authors,
		Description:  section.Description,
		Links:        section.Links,
		RustVersion:  rustVersion,
		DefaultRun:   section.DefaultRun,
		Targets:      targets,
		Summary:      summary,
		Profiles:     profiles,
	}, nil
}

// collectDependencies flattens the plain and target-gated dependency
// tables into one edge list.
func (p *Parser) collectDependencies(dir string, raw *manifestTOML, ws *workspaceInfo) ([]domain.Dependency, error) {
	base := depContext{
		dir:           dir,
		workspace:     ws,
		registryIndex: p.registryIndex,
	}

	var deps []domain.Dependency
	appendTable := func(table map[string]any, kind domain.DepKind, platform *domain.Platform) error {
		ctx := base
		ctx.kind = kind
		ctx.platform = platform
		for name, entry := range table {
			dep, err := parseDependency(name, entry, ctx)
			if err != nil {
				return err
			}
			deps = append(deps, dep)
		}
		return nil
	}

	if err := appendTable(raw.Dependencies, domain.DepKindNormal, nil); err != nil {
		return nil, err
	}
	if err := appendTable(raw.BuildDependencies, domain.DepKindBuild, nil); err != nil {
		return nil, err
	}
	if err := appendTable(raw.DevDependencies, domain.DepKindDev, nil); err != nil {
		return nil, err
	}

	for key, gated := range raw.Target {
		platform, err := domain.ParsePlatform(key)
		if err != nil {
			return nil, zerr.With(err, "target", key)
		}
		if err := appendTable(gated.Dependencies, domain.DepKindNormal, platform); err != nil {
			return nil, err
		}
		if err := appendTable(gated.BuildDependencies, domain.DepKindBuild, platform); err != nil {
			return nil, err
		}
		if err := appendTable(gated.DevDependencies, domain.DepKindDev, platform); err != nil {
			return nil, err
		}
	}
	return deps, nil
}

func parseProfiles(sections map[string]profileTOML) (domain.ProfileOverrides, error) {
	if len(sections) == 0 {
		return nil, nil
	}
	overrides := make(domain.ProfileOverrides, len(sections))
	for name, section := range sections {
		modifier, err := section.toModifier()
		if err != nil {
			return nil, zerr.With(err, "profile", name)
		}
		overrides[name] = modifier
	}
	return overrides, nil
}

func validatePackageName(name string) error {
	if name == "" {
		return zerr.Wrap(domain.ErrManifest, "package name is required")
	}
	for i, r := range name {
		ok := r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9' && i > 0)
		if !ok {
			return zerr.With(zerr.Wrap(domain.ErrManifest, "invalid character in package name"), "name", name)
		}
	}
	return nil
}

// crateName is the target name derived from a package name.
func crateName(pkgName string) string {
	return strings.ReplaceAll(pkgName, "-", "_")
}
