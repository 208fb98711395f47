package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// MessageFormat selects how compiler results are reported.
type MessageFormat string

const (
	MessageFormatHuman MessageFormat = "human"
	MessageFormatJSON  MessageFormat = "json"
)

// ParseMessageFormat validates a --message-format value.
func ParseMessageFormat(s string) (MessageFormat, error) {
	switch MessageFormat(s) {
	case MessageFormatHuman, MessageFormatJSON:
		return MessageFormat(s), nil
	}
	return "", zerr.With(zerr.New("unknown message format"), "format", s)
}

// FeatureSelection carries the feature flags of a request.
type FeatureSelection struct {
	// Features are the individually requested features of the selected
	// packages.
	Features []InternedString

	// AllFeatures activates every declared feature.
	AllFeatures bool

	// NoDefaultFeatures disables the default feature.
	NoDefaultFeatures bool
}

// ParseFeatureList splits --features values on commas and whitespace.
func ParseFeatureList(values []string) []InternedString {
	var out []InternedString
	for _, v := range values {
		for _, f := range strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		}) {
			out = append(out, NewInternedString(f))
		}
	}
	return out
}

// PackageSpec selects packages by name and optional version requirement,
// parsed from "name" or "name@req".
type PackageSpec struct {
	Name string
	Req  VersionReq
}

// ParsePackageSpec parses a -p/--package value.
func ParsePackageSpec(s string) (PackageSpec, error) {
	name, reqStr, found := strings.Cut(s, "@")
	if name == "" {
		return PackageSpec{}, zerr.With(zerr.New("invalid package spec"), "spec", s)
	}
	if !found {
		return PackageSpec{Name: name, Req: AnyVersionReq()}, nil
	}
	req, err := NewVersionReq(reqStr)
	if err != nil {
		return PackageSpec{}, zerr.With(err, "spec", s)
	}
	return PackageSpec{Name: name, Req: req}, nil
}

// Matches reports whether the spec selects the package.
func (s PackageSpec) Matches(id PackageID) bool {
	return s.Name == id.Name() && s.Req.Matches(id.Version())
}

// String returns the spec in source syntax.
func (s PackageSpec) String() string {
	if s.Req.IsAny() {
		return s.Name
	}
	return s.Name + "@" + s.Req.String()
}

// PackageSelection carries the package flags of a request.
type PackageSelection struct {
	// Specs are the explicitly requested packages.
	Specs []PackageSpec

	// Workspace selects every member.
	Workspace bool

	// Exclude removes members from a --workspace selection.
	Exclude []string
}

// TargetFilter carries the target selection flags of a request. The zero
// value selects the default target set of each package.
type TargetFilter struct {
	Lib         bool
	Bins        []string
	AllBins     bool
	Examples    []string
	AllExamples bool
	Tests       []string
	AllTests    bool
	Benches     []string
	AllBenches  bool
	AllTargets  bool
}

// IsEmpty reports whether no explicit filter was given.
func (f TargetFilter) IsEmpty() bool {
	return !f.Lib && !f.AllBins && !f.AllExamples && !f.AllTests && !f.AllBenches && !f.AllTargets &&
		len(f.Bins) == 0 && len(f.Examples) == 0 && len(f.Tests) == 0 && len(f.Benches) == 0
}

// BuildRequest is one fully parsed operation request.
type BuildRequest struct {
	// Mode is the requested operation.
	Mode CompileMode

	// ProfileName is the requested profile.
	ProfileName string

	// Jobs caps build parallelism. Zero means the number of CPUs.
	Jobs int

	// KeepGoing continues independent work after a unit fails.
	KeepGoing bool

	// Targets are the requested compile kinds. Empty means host only.
	Targets []CompileKind

	// Features is the feature selection.
	Features FeatureSelection

	// Packages is the package selection.
	Packages PackageSelection

	// Filter is the target selection.
	Filter TargetFilter

	// Locked fails resolution if the lockfile would change.
	Locked bool

	// Frozen implies Locked and Offline.
	Frozen bool

	// Offline forbids network access.
	Offline bool

	// NoRun builds test or bench harnesses without executing them.
	NoRun bool

	// UnitGraphOnly emits the unit graph as JSON instead of building.
	UnitGraphOnly bool

	// MessageFormat selects diagnostic rendering.
	MessageFormat MessageFormat
}

// EffectiveLocked reports whether lockfile changes are forbidden.
func (r *BuildRequest) EffectiveLocked() bool {
	return r.Locked || r.Frozen
}

// EffectiveOffline reports whether network access is forbidden.
func (r *BuildRequest) EffectiveOffline() bool {
	return r.Offline || r.Frozen
}

// RequestedKinds returns the compile kinds, defaulting to host.
func (r *BuildRequest) RequestedKinds() []CompileKind {
	if len(r.Targets) == 0 {
		return []CompileKind{CompileKindHost()}
	}
	return r.Targets
}
