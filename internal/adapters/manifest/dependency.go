package manifest

import (
	"path/filepath"
	"strconv"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// workspaceInfo is the root workspace context consulted while parsing a
// member: its dependency table and the root directory that table's path
// entries resolve against.
type workspaceInfo struct {
	deps map[string]any
	dir  string
}

// depContext carries everything a dependency entry needs besides its own
// table: the manifest directory for path resolution, the workspace
// dependency table for inheritance and the registry name lookup.
type depContext struct {
	dir           string
	workspace     *workspaceInfo
	registryIndex func(name string) (string, error)
	platform      *domain.Platform
	kind          domain.DepKind
}

// parseDependency converts one entry of a dependency table. raw is the
// bare version string or the detail table.
func parseDependency(name string, raw any, ctx depContext) (domain.Dependency, error) {
	switch value := raw.(type) {
	case string:
		req, err := domain.NewVersionReq(value)
		if err != nil {
			return domain.Dependency{}, zerr.With(err, "dependency", name)
		}
		dep := domain.NewDependency(name, domain.DefaultRegistry(), req)
		dep.Kind = ctx.kind
		dep.Platform = ctx.platform
		return dep, nil
	case map[string]any:
		return parseDependencyTable(name, value, ctx)
	}
	return domain.Dependency{}, zerr.With(zerr.Wrap(domain.ErrManifest, "dependency must be a version string or a table"), "dependency", name)
}

func parseDependencyTable(name string, table map[string]any, ctx depContext) (domain.Dependency, error) {
	fail := func(msg string) (domain.Dependency, error) {
		return domain.Dependency{}, zerr.With(zerr.Wrap(domain.ErrManifest, msg), "dependency", name)
	}

	if tableBool(table, "workspace") {
		inherited, err := inheritWorkspaceDep(name, table, ctx)
		if err != nil {
			return domain.Dependency{}, err
		}
		return inherited, nil
	}

	packageName := name
	explicitRename := false
	if renamed := tableString(table, "package"); renamed != "" {
		packageName = renamed
		explicitRename = true
	}

	source, err := dependencySource(table, ctx)
	if err != nil {
		return domain.Dependency{}, zerr.With(err, "dependency", name)
	}

	req := domain.AnyVersionReq()
	if version := tableString(table, "version"); version != "" {
		req, err = domain.NewVersionReq(version)
		if err != nil {
			return domain.Dependency{}, zerr.With(err, "dependency", name)
		}
	} else if source.IsRegistry() {
		return fail("registry dependencies require a version")
	}

	optional := tableBool(table, "optional")
	if optional && ctx.kind == domain.DepKindDev {
		return domain.Dependency{}, zerr.With(domain.ErrOptionalDevDependency, "dependency", name)
	}

	dep := domain.Dependency{
		Name:            domain.NewInternedString(name),
		PackageName:     domain.NewInternedString(packageName),
		Source:          source,
		Req:             req,
		Kind:            ctx.kind,
		Optional:        optional,
		DefaultFeatures: defaultFeatures(table),
		Features:        domain.NewInternedStrings(tableStringList(table, "features")),
		Platform:        ctx.platform,
		Public:          tableBool(table, "public"),
		ExplicitRename:  explicitRename,
	}

	if kinds := tableStringList(table, "artifact"); len(kinds) > 0 {
		artifact, err := domain.ParseArtifact(kinds, tableBool(table, "lib"), tableString(table, "target"))
		if err != nil {
			return domain.Dependency{}, zerr.With(err, "dependency", name)
		}
		dep.Artifact = artifact
	} else if tableBool(table, "lib") {
		return fail("lib is only valid together with artifact")
	}
	return dep, nil
}

// inheritWorkspaceDep resolves a `workspace = true` entry against the
// root [workspace.dependencies] table. The member entry may add features
// and flip the optional and default-features flags.
func inheritWorkspaceDep(name string, member map[string]any, ctx depContext) (domain.Dependency, error) {
	if ctx.workspace == nil {
		return domain.Dependency{}, zerr.With(zerr.Wrap(domain.ErrManifest, "workspace dependency used outside a workspace"), "dependency", name)
	}
	lookup := name
	if renamed := tableString(member, "package"); renamed != "" {
		lookup = renamed
	}
	raw, ok := ctx.workspace.deps[lookup]
	if !ok {
		return domain.Dependency{}, zerr.With(zerr.Wrap(domain.ErrManifest, "dependency is not declared in workspace.dependencies"), "dependency", name)
	}

	// The workspace table's path entries resolve against the root.
	base := ctx
	base.dir = ctx.workspace.dir
	base.workspace = nil
	dep, err := parseDependency(lookup, raw, base)
	if err != nil {
		return domain.Dependency{}, err
	}

	dep.Name = domain.NewInternedString(name)
	dep.ExplicitRename = name != dep.PackageName.String()
	dep.Features = append(dep.Features, domain.NewInternedStrings(tableStringList(member, "features"))...)
	if _, set := member["default-features"]; set {
		dep.DefaultFeatures = tableBool(member, "default-features")
	}
	if tableBool(member, "optional") {
		if ctx.kind == domain.DepKindDev {
			return domain.Dependency{}, zerr.With(domain.ErrOptionalDevDependency, "dependency", name)
		}
		dep.Optional = true
	}
	return dep, nil
}

// dependencySource picks the source from the table keys. Path wins over
// version for local development, git keys are mutually exclusive.
func dependencySource(table map[string]any, ctx depContext) (domain.SourceID, error) {
	if repo := tableString(table, "git"); repo != "" {
		branch := tableString(table, "branch")
		tag := tableString(table, "tag")
		rev := tableString(table, "rev")
		set := 0
		for _, v := range []string{branch, tag, rev} {
			if v != "" {
				set++
			}
		}
		if set > 1 {
			return domain.SourceID{}, zerr.Wrap(domain.ErrManifest, "only one of branch, tag or rev may be set")
		}
		ref := domain.GitReference{}
		switch {
		case branch != "":
			ref = domain.GitReference{Kind: domain.GitReferenceBranch, Value: domain.NewInternedString(branch)}
		case tag != "":
			ref = domain.GitReference{Kind: domain.GitReferenceTag, Value: domain.NewInternedString(tag)}
		case rev != "":
			ref = domain.GitReference{Kind: domain.GitReferenceRev, Value: domain.NewInternedString(rev)}
		}
		return domain.GitSource(repo, ref), nil
	}

	if dir := tableString(table, "path"); dir != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(ctx.dir, dir)
		}
		return domain.PathSource(filepath.Clean(dir)), nil
	}

	if registry := tableString(table, "registry"); registry != "" {
		if ctx.registryIndex == nil {
			return domain.SourceID{}, zerr.With(zerr.Wrap(domain.ErrManifest, "named registry is not configured"), "registry", registry)
		}
		index, err := ctx.registryIndex(registry)
		if err != nil {
			return domain.SourceID{}, err
		}
		return domain.RegistrySource(index), nil
	}
	return domain.DefaultRegistry(), nil
}

func defaultFeatures(table map[string]any) bool {
	if _, set := table["default-features"]; set {
		return tableBool(table, "default-features")
	}
	// Accepted legacy spelling.
	if _, set := table["default_features"]; set {
		return tableBool(table, "default_features")
	}
	return true
}

func tableString(table map[string]any, key string) string {
	s, _ := table[key].(string)
	return s
}

func tableBool(table map[string]any, key string) bool {
	b, _ := table[key].(bool)
	return b
}

func tableStringList(table map[string]any, key string) []string {
	raw, ok := table[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, isString := v.(string); isString {
			out = append(out, s)
		}
	}
	return out
}

// toModifier converts a raw profile section to the domain override type.
func (p profileTOML) toModifier() (*domain.ProfileModifier, error) {
	m := &domain.ProfileModifier{
		Inherits:        p.Inherits,
		DebugAssertions: p.DebugAssert,
		OverflowChecks:  p.OverflowChecks,
		CodegenUnits:    p.CodegenUnits,
		Incremental:     p.Incremental,
		Strip:           p.Strip,
		Rpath:           p.Rpath,
	}

	if p.OptLevel != nil {
		level, err := optLevelString(p.OptLevel)
		if err != nil {
			return nil, err
		}
		m.OptLevel = &level
	}
	if p.Debug != nil {
		debug, err := debugLevel(p.Debug)
		if err != nil {
			return nil, err
		}
		m.Debug = &debug
	}
	if p.Lto != nil {
		lto, err := ltoSetting(p.Lto)
		if err != nil {
			return nil, err
		}
		m.Lto = &lto
	}
	if p.Panic != "" {
		switch strategy := domain.PanicStrategy(p.Panic); strategy {
		case domain.PanicUnwind, domain.PanicAbort:
			m.Panic = &strategy
		default:
			return nil, zerr.With(zerr.Wrap(domain.ErrProfile, "unknown panic strategy"), "panic", p.Panic)
		}
	}

	if len(p.Package) > 0 {
		m.Package = make(map[string]*domain.ProfileModifier, len(p.Package))
		for name, section := range p.Package {
			sub, err := section.toModifier()
			if err != nil {
				return nil, zerr.With(err, "package", name)
			}
			m.Package[name] = sub
		}
	}
	if p.BuildOverride != nil {
		sub, err := p.BuildOverride.toModifier()
		if err != nil {
			return nil, err
		}
		m.BuildOverride = sub
	}
	return m, nil
}

// optLevelString accepts the integer and string spellings of opt-level.
func optLevelString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		switch v {
		case "0", "1", "2", "3", "s", "z":
			return v, nil
		}
	case int64:
		if v >= 0 && v <= 3 {
			return strconv.FormatInt(v, 10), nil
		}
	}
	return "", zerr.With(zerr.Wrap(domain.ErrProfile, "invalid opt-level"), "opt-level", raw)
}

// debugLevel accepts the boolean and integer spellings of debug.
func debugLevel(raw any) (uint32, error) {
	switch v := raw.(type) {
	case bool:
		if v {
			return 2, nil
		}
		return 0, nil
	case int64:
		if v >= 0 && v <= 2 {
			return uint32(v), nil
		}
	}
	return 0, zerr.With(zerr.Wrap(domain.ErrProfile, "invalid debug level"), "debug", raw)
}

// ltoSetting accepts the boolean and string spellings of lto.
func ltoSetting(raw any) (domain.LtoSetting, error) {
	switch v := raw.(type) {
	case bool:
		if v {
			return domain.LtoFat, nil
		}
		return domain.LtoNone, nil
	case string:
		switch setting := domain.LtoSetting(v); setting {
		case domain.LtoOff, domain.LtoThin, domain.LtoFat:
			return setting, nil
		case domain.LtoNone:
			return domain.LtoNone, nil
		}
	}
	return "", zerr.With(zerr.Wrap(domain.ErrProfile, "invalid lto setting"), "lto", raw)
}
