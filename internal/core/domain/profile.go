package domain

import (
	"go.trai.ch/zerr"
)

// ErrProfile is returned for invalid profile configuration.
var ErrProfile = zerr.New("invalid profile")

// PanicStrategy selects the unwinding behavior compiled into a unit.
type PanicStrategy string

const (
	PanicUnwind PanicStrategy = "unwind"
	PanicAbort  PanicStrategy = "abort"
)

// LtoSetting is the link time optimization level.
type LtoSetting string

const (
	LtoOff  LtoSetting = "off"
	LtoNone LtoSetting = "false"
	LtoThin LtoSetting = "thin"
	LtoFat  LtoSetting = "fat"
)

// Profile is the fully resolved set of compiler tuning knobs for one unit.
// It is a comparable value so units carrying different profiles stay
// distinct in the unit graph.
type Profile struct {
	// Name is the profile the settings were resolved from.
	Name string

	// OptLevel is the optimization level: "0" to "3", "s" or "z".
	OptLevel string

	// Debug is the debuginfo level, 0 to 2.
	Debug uint32

	// DebugAssertions enables debug assertions and cfg(debug_assertions).
	DebugAssertions bool

	// OverflowChecks enables integer overflow panics.
	OverflowChecks bool

	// Lto is the link time optimization setting.
	Lto LtoSetting

	// CodegenUnits caps parallel codegen, 0 meaning the compiler default.
	CodegenUnits uint32

	// Panic is the unwinding strategy.
	Panic PanicStrategy

	// Incremental enables incremental compilation for the unit.
	Incremental bool

	// Strip removes debuginfo or symbols from final artifacts: "none",
	// "debuginfo" or "symbols".
	Strip string

	// Rpath embeds library search paths into executables.
	Rpath bool
}

// DefaultDevProfile returns the built-in dev profile.
func DefaultDevProfile() Profile {
	return Profile{
		Name:            "dev",
		OptLevel:        "0",
		Debug:           2,
		DebugAssertions: true,
		OverflowChecks:  true,
		Lto:             LtoNone,
		Panic:           PanicUnwind,
		Incremental:     true,
		Strip:           "none",
	}
}

// DefaultReleaseProfile returns the built-in release profile.
func DefaultReleaseProfile() Profile {
	return Profile{
		Name:     "release",
		OptLevel: "3",
		Debug:    0,
		Lto:      LtoNone,
		Panic:    PanicUnwind,
		Strip:    "none",
	}
}

// ProfileModifier is one [profile.*] override section. Nil fields keep the
// inherited value.
type ProfileModifier struct {
	Inherits        string
	OptLevel        *string
	Debug           *uint32
	DebugAssertions *bool
	OverflowChecks  *bool
	Lto             *LtoSetting
	CodegenUnits    *uint32
	Panic           *PanicStrategy
	Incremental     *bool
	Strip           *string
	Rpath           *bool

	// Package holds per-package overrides, keyed by package name with
	// "*" matching every non-member dependency.
	Package map[string]*ProfileModifier

	// BuildOverride applies to build scripts, proc-macros and their
	// dependencies.
	BuildOverride *ProfileModifier
}

// Apply overlays the modifier's set fields onto p.
func (m *ProfileModifier) Apply(p *Profile) {
	if m == nil {
		return
	}
	if m.OptLevel != nil {
		p.OptLevel = *m.OptLevel
	}
	if m.Debug != nil {
		p.Debug = *m.Debug
	}
	if m.DebugAssertions != nil {
		p.DebugAssertions = *m.DebugAssertions
	}
	if m.OverflowChecks != nil {
		p.OverflowChecks = *m.OverflowChecks
	}
	if m.Lto != nil {
		p.Lto = *m.Lto
	}
	if m.CodegenUnits != nil {
		p.CodegenUnits = *m.CodegenUnits
	}
	if m.Panic != nil {
		p.Panic = *m.Panic
	}
	if m.Incremental != nil {
		p.Incremental = *m.Incremental
	}
	if m.Strip != nil {
		p.Strip = *m.Strip
	}
	if m.Rpath != nil {
		p.Rpath = *m.Rpath
	}
}

// ProfileOverrides maps profile names to their override sections, merged
// from workspace manifest and configuration.
type ProfileOverrides map[string]*ProfileModifier

// ProfileFor distinguishes the profile context of a unit.
type ProfileFor uint8

const (
	// ProfileForTarget is the ordinary context of libraries and binaries
	// built for the compile target.
	ProfileForTarget ProfileFor = iota

	// ProfileForHost is the context of build scripts, proc-macros and
	// everything they depend on.
	ProfileForHost
)

// Profiles resolves concrete unit profiles for one requested profile name.
type Profiles struct {
	requested string
	base      Profile
	dirName   string
	overrides ProfileOverrides
	chain     []*ProfileModifier
}

// NewProfiles builds the resolver for the requested profile name. The
// built-in names dev, release, test and bench are always available; other
// names must be declared in overrides with an inherits chain ending at a
// built-in.
func NewProfiles(requested string, overrides ProfileOverrides) (*Profiles, error) {
	base, dirName, chainNames, err := resolveBase(requested, overrides)
	if err != nil {
		return nil, err
	}
	chain := make([]*ProfileModifier, 0, len(chainNames))
	for _, name := range chainNames {
		if m := overrides[name]; m != nil {
			chain = append(chain, m)
		}
	}
	return &Profiles{
		requested: requested,
		base:      base,
		dirName:   dirName,
		overrides: overrides,
		chain:     chain,
	}, nil
}

// resolveBase walks the inherits chain from the requested name down to a
// built-in profile. It returns the built-in base, the output directory
// name, and the chain of override names from base to requested.
func resolveBase(requested string, overrides ProfileOverrides) (Profile, string, []string, error) {
	var names []string
	name := requested
	for range 16 {
		names = append(names, name)
		switch name {
		case "dev":
			return withName(DefaultDevProfile(), requested), "debug", reverse(names), nil
		case "release":
			return withName(DefaultReleaseProfile(), requested), "release", reverse(names), nil
		case "test":
			name = "dev"
			continue
		case "bench":
			name = "release"
			continue
		}
		m, ok := overrides[name]
		if !ok {
			return Profile{}, "", nil, zerr.With(zerr.Wrap(ErrProfile, "profile is not defined"), "profile", name)
		}
		if m.Inherits == "" {
			return Profile{}, "", nil, zerr.With(zerr.Wrap(ErrProfile, "custom profiles must set inherits"), "profile", name)
		}
		name = m.Inherits
	}
	return Profile{}, "", nil, zerr.With(zerr.Wrap(ErrProfile, "inherits chain is too deep or cyclic"), "profile", requested)
}

func withName(p Profile, name string) Profile {
	p.Name = name
	return p
}

func reverse(s []string) []string {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return s
}

// RequestedName returns the profile name resolution was built for.
func (ps *Profiles) RequestedName() string { return ps.requested }

// DirName returns the output directory name under the target directory.
// The dev and test profiles share "debug"; release and bench share
// "release"; custom profiles use their own name.
func (ps *Profiles) DirName() string {
	switch ps.requested {
	case "dev", "test":
		return "debug"
	case "release", "bench":
		return "release"
	}
	return ps.requested
}

// Get resolves the profile for one package in the given context.
func (ps *Profiles) Get(pkg PackageID, isMember bool, pfor ProfileFor) Profile {
	p := ps.base
	for _, m := range ps.chain {
		m.Apply(&p)
	}
	if pfor == ProfileForHost {
		// Host units always unwind and never build incrementally.
		p.Panic = PanicUnwind
		p.Incremental = false
		for _, m := range ps.chain {
			m.BuildOverride.Apply(&p)
		}
		return p
	}
	for _, m := range ps.chain {
		if !isMember {
			if wild := m.Package["*"]; wild != nil {
				wild.Apply(&p)
			}
		}
		if exact := m.Package[pkg.Name()]; exact != nil {
			exact.Apply(&p)
		}
	}
	if ps.requested == "test" || ps.requested == "bench" {
		// The test harness requires unwinding.
		p.Panic = PanicUnwind
	}
	return p
}
