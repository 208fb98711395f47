package domain

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"
)

// Summary is the resolver's view of one package version: its identity,
// dependency edges and feature map, without any of the build information a
// full manifest carries. Registry queries return summaries.
type Summary struct {
	// ID identifies the package version.
	ID PackageID

	// Dependencies lists every declared edge, all kinds and platforms.
	Dependencies []Dependency

	// Features maps each feature to its activation list, including the
	// implicit features of optional dependencies.
	Features FeatureMap

	// Links is the native library token claimed by the package, or empty.
	Links InternedString

	// RustVersion is the minimum supported toolchain version, or nil.
	RustVersion *semver.Version

	// Checksum is the hex digest of the package archive for registry
	// packages, empty otherwise.
	Checksum string

	// Yanked marks a registry version that must not be selected unless a
	// lockfile already pins it.
	Yanked bool
}

// NewSummary validates the declared feature set against the dependency
// edges and builds the complete feature map.
func NewSummary(id PackageID, deps []Dependency, declared map[string][]string, links string, rustVersion *semver.Version) (*Summary, error) {
	features, err := buildFeatureMap(declared, deps)
	if err != nil {
		return nil, zerr.With(err, "package", id.String())
	}
	return &Summary{
		ID:           id,
		Dependencies: deps,
		Features:     features,
		Links:        NewInternedString(links),
		RustVersion:  rustVersion,
	}, nil
}

// HasLinks reports whether the package claims a native library token.
func (s *Summary) HasLinks() bool {
	return !s.Links.IsEmpty()
}

// buildFeatureMap parses the declared features, adds the implicit feature
// of every optional dependency that is not referenced through a "dep:"
// entry, and validates every reference.
func buildFeatureMap(declared map[string][]string, deps []Dependency) (FeatureMap, error) {
	depsByName := make(map[InternedString][]*Dependency, len(deps))
	for i := range deps {
		d := &deps[i]
		depsByName[d.Name] = append(depsByName[d.Name], d)
	}
	anyOptional := func(name InternedString) bool {
		for _, d := range depsByName[name] {
			if d.Optional {
				return true
			}
		}
		return false
	}

	features := make(FeatureMap, len(declared)+len(deps))
	for name, values := range declared {
		if strings.HasPrefix(name, "dep:") {
			return nil, zerr.With(zerr.Wrap(ErrManifest, "feature names may not start with dep:"), "feature", name)
		}
		if strings.Contains(name, "/") {
			return nil, zerr.With(zerr.Wrap(ErrManifest, "feature names may not contain slashes"), "feature", name)
		}
		parsed := make([]FeatureValue, len(values))
		for i, v := range values {
			parsed[i] = ParseFeatureValue(v)
		}
		features[NewInternedString(name)] = parsed
	}

	explicitlyListed := make(map[InternedString]struct{})
	for _, values := range features {
		for _, v := range values {
			if v.Kind == FeatureValueDep {
				explicitlyListed[v.DepName] = struct{}{}
			}
		}
	}
	for _, d := range deps {
		if !d.Optional {
			continue
		}
		if features.Has(d.Name) {
			continue
		}
		if _, listed := explicitlyListed[d.Name]; listed {
			continue
		}
		features[d.Name] = []FeatureValue{{Kind: FeatureValueDep, DepName: d.Name}}
	}

	for name, values := range features {
		for _, v := range values {
			switch v.Kind {
			case FeatureValueFeature:
				if !features.Has(v.Feature) {
					return nil, zerr.With(zerr.With(ErrUnknownFeature, "feature", name.String()), "includes", v.String())
				}
			case FeatureValueDep:
				if len(depsByName[v.DepName]) == 0 || !anyOptional(v.DepName) {
					return nil, zerr.With(zerr.With(zerr.Wrap(ErrManifest, "dep: entries must name an optional dependency"), "feature", name.String()), "includes", v.String())
				}
			case FeatureValueDepFeature:
				if len(depsByName[v.DepName]) == 0 {
					return nil, zerr.With(zerr.With(zerr.Wrap(ErrManifest, "entry names an unknown dependency"), "feature", name.String()), "includes", v.String())
				}
				if v.Weak && !anyOptional(v.DepName) {
					return nil, zerr.With(zerr.With(zerr.Wrap(ErrManifest, "weak entries require an optional dependency"), "feature", name.String()), "includes", v.String())
				}
			}
		}
	}

	for name := range declared {
		interned := NewInternedString(name)
		if len(depsByName[interned]) == 0 {
			continue
		}
		if !anyOptional(interned) {
			return nil, zerr.With(ErrFeatureCollidesWithDep, "name", name)
		}
	}
	return features, nil
}
