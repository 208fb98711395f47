package domain

import (
	"sort"
	"strings"
	"sync"
)

// Unit is one node of the build plan: a target of a package compiled with
// a concrete profile, for a concrete machine, in a concrete mode, with a
// concrete feature set. Units are interned; pointer equality is unit
// equality.
type Unit struct {
	// Pkg is the package the unit compiles.
	Pkg *Package

	// Target is the compiled target within Pkg.
	Target *Target

	// Profile holds the resolved compiler settings.
	Profile Profile

	// Kind is the machine the unit is compiled for.
	Kind CompileKind

	// Mode is what the compiler does with the unit.
	Mode CompileMode

	// Features is the sorted feature set active for the compilation.
	Features []InternedString

	// Artifact is the artifact kind when the unit exists to satisfy an
	// artifact dependency, e.g. "bin:tool". Empty for ordinary units.
	Artifact string
}

// IsLocal reports whether the unit compiles a path package.
func (u *Unit) IsLocal() bool {
	return u.Pkg.ID.Source().IsPath()
}

// BuildScriptRun reports whether the unit executes a build script.
func (u *Unit) BuildScriptRun() bool {
	return u.Mode.IsRunCustomBuild()
}

// BuildScriptCompile reports whether the unit compiles a build script.
func (u *Unit) BuildScriptCompile() bool {
	return u.Target.IsCustomBuild() && u.Mode == ModeBuild
}

// String renders the unit for plan output and diagnostics.
func (u *Unit) String() string {
	var b strings.Builder
	b.WriteString(u.Pkg.ID.SpecString())
	b.WriteByte(' ')
	b.WriteString(u.Target.Kind.String())
	b.WriteByte('/')
	b.WriteString(u.Target.Name.String())
	b.WriteByte(' ')
	b.WriteString(u.Mode.String())
	if !u.Kind.IsHost() {
		b.WriteString(" (")
		b.WriteString(u.Kind.String())
		b.WriteByte(')')
	}
	return b.String()
}

// FeaturesKey returns the canonical comma-joined feature list.
func (u *Unit) FeaturesKey() string {
	return featuresKey(u.Features)
}

func featuresKey(features []InternedString) string {
	parts := make([]string, len(features))
	for i, f := range features {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}

type unitKey struct {
	pkg      *Package
	target   *Target
	profile  Profile
	kind     CompileKind
	mode     CompileMode
	features InternedString
	artifact string
}

// UnitInterner deduplicates units. Two Intern calls with equal parts
// return the same pointer.
type UnitInterner struct {
	mu    sync.Mutex
	units map[unitKey]*Unit
}

// NewUnitInterner returns an empty interner.
func NewUnitInterner() *UnitInterner {
	return &UnitInterner{units: make(map[unitKey]*Unit)}
}

// Intern returns the canonical unit for the given parts. The feature
// slice is sorted and deduplicated.
func (in *UnitInterner) Intern(pkg *Package, target *Target, profile Profile, kind CompileKind, mode CompileMode, features []InternedString, artifact string) *Unit {
	sorted := normalizeFeatures(features)
	key := unitKey{
		pkg:      pkg,
		target:   target,
		profile:  profile,
		kind:     kind,
		mode:     mode,
		features: NewInternedString(featuresKey(sorted)),
		artifact: artifact,
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if u, ok := in.units[key]; ok {
		return u
	}
	u := &Unit{
		Pkg:      pkg,
		Target:   target,
		Profile:  profile,
		Kind:     kind,
		Mode:     mode,
		Features: sorted,
		Artifact: artifact,
	}
	in.units[key] = u
	return u
}

func normalizeFeatures(features []InternedString) []InternedString {
	if len(features) == 0 {
		return nil
	}
	parts := make([]string, len(features))
	for i, f := range features {
		parts[i] = f.String()
	}
	sort.Strings(parts)
	out := parts[:0]
	for i, p := range parts {
		if i == 0 || parts[i-1] != p {
			out = append(out, p)
		}
	}
	return NewInternedStrings(out)
}

// UnitDep is one edge of the unit graph.
type UnitDep struct {
	// Unit is the depended-on unit.
	Unit *Unit

	// ExternName is the name the depending compilation uses to import
	// the dependency.
	ExternName InternedString

	// Public marks the dependency as part of the depender's public API.
	Public bool

	// NoImplicitImport suppresses automatic importing, used for build
	// script execution edges and artifact-only edges.
	NoImplicitImport bool
}

// UnitGraph is the complete build plan: every unit and its dependencies.
type UnitGraph struct {
	// Roots are the units the requested operation asked for.
	Roots []*Unit

	// Deps maps every unit to its dependency edges. Every unit reachable
	// from Roots has an entry, possibly empty.
	Deps map[*Unit][]UnitDep
}

// Units returns every unit in deterministic order.
func (g *UnitGraph) Units() []*Unit {
	units := make([]*Unit, 0, len(g.Deps))
	for u := range g.Deps {
		units = append(units, u)
	}
	SortUnits(units)
	return units
}

// Len returns the number of units in the graph.
func (g *UnitGraph) Len() int {
	return len(g.Deps)
}

// DepsOf returns the dependency edges of a unit in deterministic order.
func (g *UnitGraph) DepsOf(u *Unit) []UnitDep {
	deps := append([]UnitDep(nil), g.Deps[u]...)
	sort.SliceStable(deps, func(i, j int) bool {
		return compareUnits(deps[i].Unit, deps[j].Unit) < 0
	})
	return deps
}

// SortUnits orders units by package, target, mode and kind for stable
// output.
func SortUnits(units []*Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		return compareUnits(units[i], units[j]) < 0
	})
}

func compareUnits(a, b *Unit) int {
	if c := ComparePackageIDs(a.Pkg.ID, b.Pkg.ID); c != 0 {
		return c
	}
	if c := int(a.Target.Kind) - int(b.Target.Kind); c != 0 {
		return c
	}
	if c := strings.Compare(a.Target.Name.String(), b.Target.Name.String()); c != 0 {
		return c
	}
	if c := int(a.Mode) - int(b.Mode); c != 0 {
		return c
	}
	if c := strings.Compare(a.Kind.String(), b.Kind.String()); c != 0 {
		return c
	}
	if c := strings.Compare(a.FeaturesKey(), b.FeaturesKey()); c != 0 {
		return c
	}
	return strings.Compare(a.Artifact, b.Artifact)
}
