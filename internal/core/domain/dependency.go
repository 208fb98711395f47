package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// DepKind classifies a dependency edge.
type DepKind uint8

const (
	// DepKindNormal links the dependency into the depending library or
	// binary.
	DepKindNormal DepKind = iota

	// DepKindBuild makes the dependency available to the build script,
	// compiled for the host.
	DepKindBuild

	// DepKindDev makes the dependency available to tests, examples and
	// benchmarks only. Dev edges are never transitive.
	DepKindDev
)

// String returns the manifest section name for the kind.
func (k DepKind) String() string {
	switch k {
	case DepKindNormal:
		return "dependencies"
	case DepKindBuild:
		return "build-dependencies"
	case DepKindDev:
		return "dev-dependencies"
	}
	return "unknown"
}

// Dependency is one declared dependency edge of a package.
type Dependency struct {
	// Name is the name the depending package uses to refer to the
	// dependency. It differs from PackageName when the edge is renamed.
	Name InternedString

	// PackageName is the name of the dependency in its source.
	PackageName InternedString

	// Source is where the dependency comes from.
	Source SourceID

	// Req constrains acceptable versions.
	Req VersionReq

	// Kind is the edge classification.
	Kind DepKind

	// Optional marks the edge as activated only through a feature.
	Optional bool

	// DefaultFeatures activates the dependency's default feature set.
	DefaultFeatures bool

	// Features lists extra features to activate on the dependency.
	Features []InternedString

	// Platform restricts the edge to a target platform, or nil for all.
	Platform *Platform

	// Artifact requests compiled artifacts instead of (or in addition
	// to) the library, or nil for a plain library edge.
	Artifact *Artifact

	// Public exposes the dependency through the depender's public API.
	Public bool

	// ExplicitRename records that Name was set by a rename in the
	// manifest rather than defaulting to PackageName.
	ExplicitRename bool
}

// NewDependency returns a dependency edge on name from source with the
// given requirement and otherwise default settings.
func NewDependency(name string, source SourceID, req VersionReq) Dependency {
	interned := NewInternedString(name)
	return Dependency{
		Name:            interned,
		PackageName:     interned,
		Source:          source,
		Req:             req,
		DefaultFeatures: true,
	}
}

// MatchesSummary reports whether the candidate satisfies this edge: same
// package name, same source and an accepted version.
func (d Dependency) MatchesSummary(s *Summary) bool {
	return d.MatchesID(s.ID)
}

// MatchesID reports whether the package identifier satisfies this edge.
func (d Dependency) MatchesID(id PackageID) bool {
	return d.PackageName == id.InternedName() &&
		d.Source.SameAs(id.Source()) &&
		d.Req.Matches(id.Version())
}

// IsTransitive reports whether the edge is followed for packages other
// than the one declaring it.
func (d Dependency) IsTransitive() bool {
	return d.Kind != DepKindDev
}

// Platform restricts a dependency to a compile target, either by exact
// triple or by a cfg expression.
type Platform struct {
	raw string
	cfg *CfgExpr
}

// ParsePlatform parses a [target.'...'] key from a manifest.
func ParsePlatform(raw string) (*Platform, error) {
	if expr, ok := strings.CutPrefix(raw, "cfg("); ok {
		expr, ok = strings.CutSuffix(expr, ")")
		if !ok {
			return nil, zerr.With(ErrCfgExpr, "expression", raw)
		}
		cfg, err := ParseCfgExpr(expr)
		if err != nil {
			return nil, err
		}
		return &Platform{raw: raw, cfg: cfg}, nil
	}
	return &Platform{raw: raw}, nil
}

// Matches reports whether the platform selects the given compile target.
func (p *Platform) Matches(info PlatformInfo) bool {
	if p == nil {
		return true
	}
	if p.cfg != nil {
		return p.cfg.Eval(info)
	}
	return p.raw == info.Triple
}

// String returns the platform in manifest syntax.
func (p *Platform) String() string {
	if p == nil {
		return ""
	}
	return p.raw
}

// ArtifactKind names one compiled artifact a dependency edge can request.
type ArtifactKind struct {
	// Kind is "bin", "staticlib" or "cdylib".
	Kind string

	// BinName narrows a "bin" kind to a single named binary.
	BinName string
}

// String returns the manifest syntax for the kind.
func (k ArtifactKind) String() string {
	if k.BinName != "" {
		return k.Kind + ":" + k.BinName
	}
	return k.Kind
}

// Artifact describes the artifact settings of a dependency edge.
type Artifact struct {
	// Kinds lists the requested artifact kinds. Never empty.
	Kinds []ArtifactKind

	// IncludeLib additionally links the dependency's library.
	IncludeLib bool

	// Target overrides the compile target for the artifacts: empty for
	// the depender's target, "target" to force the build-target even on
	// a build edge, or an explicit triple.
	Target string
}

// ParseArtifact validates and builds the artifact settings from manifest
// fields.
func ParseArtifact(kinds []string, lib bool, target string) (*Artifact, error) {
	if len(kinds) == 0 {
		return nil, ErrEmptyArtifact
	}
	parsed := make([]ArtifactKind, 0, len(kinds))
	for _, k := range kinds {
		switch {
		case k == "bin" || k == "staticlib" || k == "cdylib":
			parsed = append(parsed, ArtifactKind{Kind: k})
		case strings.HasPrefix(k, "bin:"):
			name := strings.TrimPrefix(k, "bin:")
			if name == "" {
				return nil, zerr.With(ErrEmptyArtifact, "kind", k)
			}
			parsed = append(parsed, ArtifactKind{Kind: "bin", BinName: name})
		default:
			return nil, zerr.With(zerr.New("unknown artifact kind"), "kind", k)
		}
	}
	return &Artifact{Kinds: parsed, IncludeLib: lib, Target: target}, nil
}
