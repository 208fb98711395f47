package domain

import "strings"

// FeatureNameDefault is the feature activated unless default features are
// disabled.
var FeatureNameDefault = NewInternedString("default")

// FeatureValueKind distinguishes the three forms a feature activation
// entry can take.
type FeatureValueKind uint8

const (
	// FeatureValueFeature activates another feature of the same package.
	FeatureValueFeature FeatureValueKind = iota

	// FeatureValueDep activates an optional dependency ("dep:name").
	FeatureValueDep

	// FeatureValueDepFeature activates a feature of a dependency
	// ("name/feat"), optionally weakly ("name?/feat").
	FeatureValueDepFeature
)

// FeatureValue is one entry in a feature's activation list.
type FeatureValue struct {
	Kind FeatureValueKind

	// Feature is the activated feature name. Unset for FeatureValueDep.
	Feature InternedString

	// DepName is the dependency being activated. Unset for
	// FeatureValueFeature.
	DepName InternedString

	// Weak marks a "name?/feat" entry: the dependency feature applies
	// only if the dependency was activated by some other entry.
	Weak bool
}

// ParseFeatureValue parses one activation entry.
func ParseFeatureValue(raw string) FeatureValue {
	if dep, ok := strings.CutPrefix(raw, "dep:"); ok {
		return FeatureValue{Kind: FeatureValueDep, DepName: NewInternedString(dep)}
	}
	if dep, feat, found := strings.Cut(raw, "/"); found {
		weak := false
		if trimmed, ok := strings.CutSuffix(dep, "?"); ok {
			dep = trimmed
			weak = true
		}
		return FeatureValue{
			Kind:    FeatureValueDepFeature,
			Feature: NewInternedString(feat),
			DepName: NewInternedString(dep),
			Weak:    weak,
		}
	}
	return FeatureValue{Kind: FeatureValueFeature, Feature: NewInternedString(raw)}
}

// String returns the entry in manifest syntax.
func (v FeatureValue) String() string {
	switch v.Kind {
	case FeatureValueDep:
		return "dep:" + v.DepName.String()
	case FeatureValueDepFeature:
		if v.Weak {
			return v.DepName.String() + "?/" + v.Feature.String()
		}
		return v.DepName.String() + "/" + v.Feature.String()
	}
	return v.Feature.String()
}

// FeatureMap maps each feature of a package to the entries it activates.
type FeatureMap map[InternedString][]FeatureValue

// Has reports whether the feature is declared.
func (m FeatureMap) Has(name InternedString) bool {
	_, ok := m[name]
	return ok
}
