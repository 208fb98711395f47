package domain

import (
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"
)

// Edition selects the language edition a target is compiled under.
type Edition string

const (
	Edition2015 Edition = "2015"
	Edition2018 Edition = "2018"
	Edition2021 Edition = "2021"
	Edition2024 Edition = "2024"

	// DefaultEdition applies when a manifest does not declare one.
	DefaultEdition = Edition2015
)

// ParseEdition validates an edition string from a manifest.
func ParseEdition(s string) (Edition, error) {
	switch Edition(s) {
	case Edition2015, Edition2018, Edition2021, Edition2024:
		return Edition(s), nil
	}
	return "", zerr.With(zerr.Wrap(ErrManifest, "unknown edition"), "edition", s)
}

// CrateType is the artifact form a target compiles to.
type CrateType string

const (
	CrateTypeBin       CrateType = "bin"
	CrateTypeLib       CrateType = "lib"
	CrateTypeRlib      CrateType = "rlib"
	CrateTypeDylib     CrateType = "dylib"
	CrateTypeCdylib    CrateType = "cdylib"
	CrateTypeStaticlib CrateType = "staticlib"
	CrateTypeProcMacro CrateType = "proc-macro"
)

// IsLinkable reports whether an artifact of this type can be named as an
// upstream dependency of another compilation.
func (c CrateType) IsLinkable() bool {
	switch c {
	case CrateTypeLib, CrateTypeRlib, CrateTypeDylib, CrateTypeProcMacro:
		return true
	}
	return false
}

// TargetKind classifies the targets of a package.
type TargetKind uint8

const (
	TargetKindLib TargetKind = iota
	TargetKindBin
	TargetKindExample
	TargetKindTest
	TargetKindBench
	TargetKindCustomBuild
)

// String returns the manifest section name for the kind.
func (k TargetKind) String() string {
	switch k {
	case TargetKindLib:
		return "lib"
	case TargetKindBin:
		return "bin"
	case TargetKindExample:
		return "example"
	case TargetKindTest:
		return "test"
	case TargetKindBench:
		return "bench"
	case TargetKindCustomBuild:
		return "custom-build"
	}
	return "unknown"
}

// Target is one compilable source of a package.
type Target struct {
	// Kind classifies the target.
	Kind TargetKind

	// Name is the target name, also the default artifact stem.
	Name InternedString

	// SrcPath is the absolute path of the root source file.
	SrcPath string

	// CrateTypes lists the artifact forms to produce.
	CrateTypes []CrateType

	// Edition the target is compiled under.
	Edition Edition

	// Doc includes the target in documentation builds.
	Doc bool

	// Doctest runs the target's documentation examples as tests.
	Doctest bool

	// Tested includes the target when building in test mode.
	Tested bool

	// Benched includes the target when building benchmarks.
	Benched bool

	// Harness wraps the target in the default test harness.
	Harness bool

	// RequiredFeatures skips the target unless all named features are
	// active.
	RequiredFeatures []string
}

// IsLib reports whether the target is the package library.
func (t *Target) IsLib() bool { return t.Kind == TargetKindLib }

// IsBin reports whether the target is a binary.
func (t *Target) IsBin() bool { return t.Kind == TargetKindBin }

// IsExample reports whether the target is an example.
func (t *Target) IsExample() bool { return t.Kind == TargetKindExample }

// IsTest reports whether the target is an integration test.
func (t *Target) IsTest() bool { return t.Kind == TargetKindTest }

// IsBench reports whether the target is a benchmark.
func (t *Target) IsBench() bool { return t.Kind == TargetKindBench }

// IsCustomBuild reports whether the target is the build script.
func (t *Target) IsCustomBuild() bool { return t.Kind == TargetKindCustomBuild }

// IsProcMacro reports whether the target compiles to a proc-macro.
func (t *Target) IsProcMacro() bool {
	for _, ct := range t.CrateTypes {
		if ct == CrateTypeProcMacro {
			return true
		}
	}
	return false
}

// IsLinkable reports whether any produced artifact can be depended on.
func (t *Target) IsLinkable() bool {
	for _, ct := range t.CrateTypes {
		if ct.IsLinkable() {
			return true
		}
	}
	return false
}

// IsExecutable reports whether the target produces a runnable binary
// artifact (binaries and binary examples).
func (t *Target) IsExecutable() bool {
	for _, ct := range t.CrateTypes {
		if ct == CrateTypeBin {
			return true
		}
	}
	return false
}

// CanDoctest reports whether documentation tests can run against the
// target. Only library targets with an rlib or plain lib form qualify.
func (t *Target) CanDoctest() bool {
	if t.Kind != TargetKindLib {
		return false
	}
	for _, ct := range t.CrateTypes {
		if ct == CrateTypeLib || ct == CrateTypeRlib {
			return true
		}
	}
	return false
}

// Package is a fully loaded package: identity, targets, dependency edges
// and the derived summary.
type Package struct {
	// ID identifies the package version. Its source is the path source
	// of the containing directory for local packages.
	ID PackageID

	// ManifestPath is the absolute path of the manifest file.
	ManifestPath string

	// Edition is the package default edition.
	Edition Edition

	// Authors lists the declared package authors.
	Authors []string

	// Description is the declared one-line package description.
	Description string

	// Links is the claimed native library token, or empty.
	Links string

	// RustVersion is the declared minimum toolchain version, or nil.
	RustVersion *semver.Version

	// DefaultRun names the binary "run" uses when several exist.
	DefaultRun string

	// Targets lists every compilable target including the build script.
	Targets []Target

	// Summary is the resolver view derived from the manifest.
	Summary *Summary

	// Profiles holds the manifest's profile override sections.
	Profiles ProfileOverrides
}

// Dependencies returns the package's declared dependency edges.
func (p *Package) Dependencies() []Dependency {
	return p.Summary.Dependencies
}

// Library returns the library target, or nil when the package has none.
func (p *Package) Library() *Target {
	for i := range p.Targets {
		if p.Targets[i].IsLib() {
			return &p.Targets[i]
		}
	}
	return nil
}

// CustomBuild returns the build script target, or nil.
func (p *Package) CustomBuild() *Target {
	for i := range p.Targets {
		if p.Targets[i].IsCustomBuild() {
			return &p.Targets[i]
		}
	}
	return nil
}

// HasCustomBuild reports whether the package has a build script.
func (p *Package) HasCustomBuild() bool {
	return p.CustomBuild() != nil
}

// TargetsOfKind returns the targets of one kind in declaration order.
func (p *Package) TargetsOfKind(kind TargetKind) []*Target {
	var res []*Target
	for i := range p.Targets {
		if p.Targets[i].Kind == kind {
			res = append(res, &p.Targets[i])
		}
	}
	return res
}

// Root returns the directory containing the manifest.
func (p *Package) Root() string {
	return filepath.Dir(p.ManifestPath)
}
