package domain

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// PackageID uniquely identifies a package: name, exact version and source.
// It is a small comparable value; versions are canonicalized on
// construction so two identifiers for the same package compare equal
// with ==.
type PackageID struct {
	name    InternedString
	version semver.Version
	source  SourceID
}

// NewPackageID builds an identifier from its parts.
func NewPackageID(name string, version *semver.Version, source SourceID) PackageID {
	canonical := semver.New(version.Major(), version.Minor(), version.Patch(), version.Prerelease(), version.Metadata())
	return PackageID{
		name:    NewInternedString(name),
		version: *canonical,
		source:  source,
	}
}

// Name returns the package name.
func (p PackageID) Name() string { return p.name.String() }

// InternedName returns the package name as an interned handle.
func (p PackageID) InternedName() InternedString { return p.name }

// Version returns the exact package version.
func (p PackageID) Version() *semver.Version {
	v := p.version
	return &v
}

// Source returns the package source.
func (p PackageID) Source() SourceID { return p.source }

// IsZero reports whether the identifier is the zero value.
func (p PackageID) IsZero() bool { return p == PackageID{} }

// String renders the identifier for human output, e.g. "serde v1.0.200".
// Packages outside the default registry include their source.
func (p PackageID) String() string {
	var b strings.Builder
	b.WriteString(p.name.String())
	b.WriteString(" v")
	b.WriteString(p.version.String())
	if !p.source.IsDefaultRegistry() {
		b.WriteString(" (")
		b.WriteString(p.source.String())
		b.WriteString(")")
	}
	return b.String()
}

// SpecString renders the identifier in spec form, e.g. "serde@1.0.200".
func (p PackageID) SpecString() string {
	return p.name.String() + "@" + p.version.String()
}

// ComparePackageIDs orders identifiers by name, then version, then source.
// It provides the stable order used for lockfiles and diagnostics.
func ComparePackageIDs(a, b PackageID) int {
	if c := strings.Compare(a.name.String(), b.name.String()); c != 0 {
		return c
	}
	if c := a.version.Compare(&b.version); c != 0 {
		return c
	}
	return strings.Compare(a.source.String(), b.source.String())
}
