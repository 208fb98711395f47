// Package manifest parses Cargo.toml documents into domain packages and
// discovers workspaces from a starting directory.
package manifest

// manifestTOML is the raw decoded shape of a manifest. Dependency tables
// decode as any because an entry is either a bare version string or a
// detail table.
type manifestTOML struct {
	Package           *packageTOML              `toml:"package"`
	Workspace         *workspaceTOML            `toml:"workspace"`
	Dependencies      map[string]any            `toml:"dependencies"`
	DevDependencies   map[string]any            `toml:"dev-dependencies"`
	BuildDependencies map[string]any            `toml:"build-dependencies"`
	Target            map[string]targetDepsTOML `toml:"target"`
	Features          map[string][]string       `toml:"features"`
	Profile           map[string]profileTOML    `toml:"profile"`
	Lib               *targetTOML               `toml:"lib"`
	Bin               []targetTOML              `toml:"bin"`
	Example           []targetTOML              `toml:"example"`
	Test              []targetTOML              `toml:"test"`
	Bench             []targetTOML              `toml:"bench"`
}

// packageTOML is the [package] section. Build is string, bool or absent.
type packageTOML struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Edition     string `toml:"edition"`
	RustVersion string `toml:"rust-version"`
	Authors     []string `toml:"authors"`
	Description string `toml:"description"`
	Homepage    string `toml:"homepage"`
	Repository  string `toml:"repository"`
	License     string `toml:"license"`
	Links       string `toml:"links"`
	Build       any    `toml:"build"`
	DefaultRun  string `toml:"default-run"`
	Resolver    string `toml:"resolver"`
	Metadata    any    `toml:"metadata"`
}

// workspaceTOML is the [workspace] section.
type workspaceTOML struct {
	Members        []string       `toml:"members"`
	Exclude        []string       `toml:"exclude"`
	DefaultMembers []string       `toml:"default-members"`
	Resolver       string         `toml:"resolver"`
	Dependencies   map[string]any `toml:"dependencies"`
}

// targetDepsTOML holds the dependency tables gated on one platform key.
type targetDepsTOML struct {
	Dependencies      map[string]any `toml:"dependencies"`
	DevDependencies   map[string]any `toml:"dev-dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
}

// targetTOML is one [lib] / [[bin]] / [[example]] / [[test]] / [[bench]]
// section. Pointer fields distinguish "absent" from "set to false".
type targetTOML struct {
	Name             string   `toml:"name"`
	Path             string   `toml:"path"`
	CrateType        []string `toml:"crate-type"`
	ProcMacro        *bool    `toml:"proc-macro"`
	Edition          string   `toml:"edition"`
	Test             *bool    `toml:"test"`
	Doctest          *bool    `toml:"doctest"`
	Bench            *bool    `toml:"bench"`
	Doc              *bool    `toml:"doc"`
	Harness          *bool    `toml:"harness"`
	RequiredFeatures []string `toml:"required-features"`
}

// profileTOML is one [profile.<name>] section. Debug is bool or integer,
// Lto is bool or string, so both decode as any.
type profileTOML struct {
	Inherits       string                 `toml:"inherits"`
	OptLevel       any                    `toml:"opt-level"`
	Debug          any                    `toml:"debug"`
	DebugAssert    *bool                  `toml:"debug-assertions"`
	OverflowChecks *bool                  `toml:"overflow-checks"`
	Lto            any                    `toml:"lto"`
	CodegenUnits   *uint32                `toml:"codegen-units"`
	Panic          string                 `toml:"panic"`
	Incremental    *bool                  `toml:"incremental"`
	Strip          *string                `toml:"strip"`
	Rpath          *bool                  `toml:"rpath"`
	Package        map[string]profileTOML `toml:"package"`
	BuildOverride  *profileTOML           `toml:"build-override"`
}
