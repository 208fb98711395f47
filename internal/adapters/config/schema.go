package config

import "freight.build/freight/internal/core/domain"

// Schema is the typed shape of a merged configuration tree. Fields are
// pointers so a later (lower precedence) layer can tell "unset" from
// "set to the zero value" during merging.
type Schema struct {
	Build      BuildSchema               `toml:"build"`
	Target     map[string]TargetSchema   `toml:"target"`
	Host       *HostSchema               `toml:"host"`
	Profile    map[string]*ProfileSchema `toml:"profile"`
	Net        NetSchema                 `toml:"net"`
	HTTP       HTTPSchema                `toml:"http"`
	Registries map[string]RegistrySchema `toml:"registries"`
	Registry   RegistryDefaultSchema     `toml:"registry"`
	Env        map[string]EnvEntrySchema `toml:"env"`
	Unstable   map[string]bool           `toml:"unstable"`
}

// BuildSchema is the [build] table.
type BuildSchema struct {
	Jobs                  *int     `toml:"jobs"`
	Target                []string `toml:"target"`
	TargetDir             *string  `toml:"target-dir"`
	Rustc                 *string  `toml:"rustc"`
	Rustdoc               *string  `toml:"rustdoc"`
	Rustflags             []string `toml:"rustflags"`
	Rustdocflags          []string `toml:"rustdocflags"`
	Incremental           *bool    `toml:"incremental"`
	DepInfoBasedir        *string  `toml:"dep-info-basedir"`
	RustcWrapper          *string  `toml:"rustc-wrapper"`
	RustcWorkspaceWrapper *string  `toml:"rustc-workspace-wrapper"`
}

// TargetSchema is one [target.<triple-or-cfg>] table. Keys that are not
// recognized settings are native link metadata tables consulted when a
// package with a matching links token is built; they are preserved in
// Links by the loader.
type TargetSchema struct {
	Linker    *string                   `toml:"linker"`
	Runner    []string                  `toml:"runner"`
	Rustflags []string                  `toml:"rustflags"`
	Links     map[string]map[string]any `toml:"-"`
}

// HostSchema is the [host] table: target settings applied to host units
// when target-applies-to-host is disabled, with optional per-triple
// refinements.
type HostSchema struct {
	TargetSchema
	PerTriple map[string]TargetSchema `toml:"-"`
}

// ProfileSchema mirrors the manifest [profile.<name>] section.
type ProfileSchema struct {
	Inherits       string                    `toml:"inherits"`
	OptLevel       *string                   `toml:"opt-level"`
	Debug          *uint32                   `toml:"debug"`
	DebugAssert    *bool                     `toml:"debug-assertions"`
	OverflowChecks *bool                     `toml:"overflow-checks"`
	Lto            *string                   `toml:"lto"`
	CodegenUnits   *uint32                   `toml:"codegen-units"`
	Panic          *string                   `toml:"panic"`
	Incremental    *bool                     `toml:"incremental"`
	Strip          *string                   `toml:"strip"`
	Rpath          *bool                     `toml:"rpath"`
	Package        map[string]*ProfileSchema `toml:"package"`
	BuildOverride  *ProfileSchema            `toml:"build-override"`
}

// NetSchema is the [net] table.
type NetSchema struct {
	Retry           *int  `toml:"retry"`
	Offline         *bool `toml:"offline"`
	GitFetchWithCLI *bool `toml:"git-fetch-with-cli"`
}

// HTTPSchema is the [http] table.
type HTTPSchema struct {
	Proxy        *string `toml:"proxy"`
	Timeout      *int    `toml:"timeout"`
	Multiplexing *bool   `toml:"multiplexing"`
	CAInfo       *string `toml:"cainfo"`
	SSLVersion   *string `toml:"ssl-version"`
}

// RegistrySchema is one [registries.<name>] table.
type RegistrySchema struct {
	Index *string `toml:"index"`
	Token *string `toml:"token"`
}

// RegistryDefaultSchema is the [registry] table.
type RegistryDefaultSchema struct {
	Default *string `toml:"default"`
}

// EnvEntrySchema is one [env] entry after normalization.
type EnvEntrySchema struct {
	Value    string `toml:"value"`
	Force    bool   `toml:"force"`
	Relative bool   `toml:"relative"`
}

// ToModifier converts a profile section to the domain override type.
func (p *ProfileSchema) ToModifier() *domain.ProfileModifier {
	if p == nil {
		return nil
	}
	m := &domain.ProfileModifier{
		Inherits:        p.Inherits,
		OptLevel:        p.OptLevel,
		Debug:           p.Debug,
		DebugAssertions: p.DebugAssert,
		OverflowChecks:  p.OverflowChecks,
		CodegenUnits:    p.CodegenUnits,
		Incremental:     p.Incremental,
		Strip:           p.Strip,
		Rpath:           p.Rpath,
	}
	if p.Lto != nil {
		lto := domain.LtoSetting(*p.Lto)
		m.Lto = &lto
	}
	if p.Panic != nil {
		strategy := domain.PanicStrategy(*p.Panic)
		m.Panic = &strategy
	}
	if len(p.Package) > 0 {
		m.Package = make(map[string]*domain.ProfileModifier, len(p.Package))
		for name, section := range p.Package {
			m.Package[name] = section.ToModifier()
		}
	}
	if p.BuildOverride != nil {
		m.BuildOverride = p.BuildOverride.ToModifier()
	}
	return m
}

// TargetFor returns the settings for a triple, folding '-' and '_'
// together so entries written through the environment overlay match.
func (s *Schema) TargetFor(triple string) (TargetSchema, bool) {
	if entry, ok := s.Target[triple]; ok {
		return entry, true
	}
	folded := FoldTripleKey(triple)
	for key, entry := range s.Target {
		if FoldTripleKey(key) == folded {
			return entry, true
		}
	}
	return TargetSchema{}, false
}

// ProfileOverrides converts every profile section to domain overrides.
func (s *Schema) ProfileOverrides() domain.ProfileOverrides {
	if len(s.Profile) == 0 {
		return nil
	}
	overrides := make(domain.ProfileOverrides, len(s.Profile))
	for name, section := range s.Profile {
		overrides[name] = section.ToModifier()
	}
	return overrides
}
