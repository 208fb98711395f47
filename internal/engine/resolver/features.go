package resolver

import (
	"sort"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// Behavior selects how feature activations propagate through the graph.
type Behavior uint8

const (
	// BehaviorClassic unions every activation of a package into a single
	// set, no matter where in the graph the activation originates.
	BehaviorClassic Behavior = iota

	// BehaviorIsolating keeps host-facing activations (build dependencies
	// and their closure) separate from target-facing ones, and ignores
	// dev dependencies of non-members.
	BehaviorIsolating
)

// Scope is the activation partition a feature set belongs to. Classic
// resolution uses ScopeTarget exclusively.
type Scope uint8

const (
	// ScopeTarget covers code compiled for the requested targets.
	ScopeTarget Scope = iota

	// ScopeHost covers build scripts and their dependency closure.
	ScopeHost
)

// FeatureRequest carries the inputs of one feature unification.
type FeatureRequest struct {
	// Behavior selects classic or isolating propagation.
	Behavior Behavior

	// Selection is the user's feature flags, applied to every member.
	Selection domain.FeatureSelection

	// DevDeps follows the dev edges of workspace members. Enabled for
	// test and bench requests.
	DevDeps bool

	// HostInfo describes the build host for platform-gated edges.
	HostInfo domain.PlatformInfo

	// TargetInfos describe the requested compile targets. An edge gated
	// on a platform is followed if any of these (or the host) match.
	TargetInfos []domain.PlatformInfo
}

// ActivatedFeatures is the result of feature unification: the feature
// set of every selected package per scope, and which optional
// dependencies were switched on.
type ActivatedFeatures struct {
	features map[featKey][]domain.InternedString
	deps     map[depKey]struct{}
}

// Features returns the sorted activated features of a package in one
// scope.
func (a *ActivatedFeatures) Features(id domain.PackageID, scope Scope) []domain.InternedString {
	return a.features[featKey{id: id, scope: scope}]
}

// Union returns the sorted union of a package's activations across both
// scopes.
func (a *ActivatedFeatures) Union(id domain.PackageID) []domain.InternedString {
	seen := make(map[domain.InternedString]struct{})
	var out []domain.InternedString
	for _, scope := range []Scope{ScopeTarget, ScopeHost} {
		for _, f := range a.features[featKey{id: id, scope: scope}] {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// DepActivated reports whether an optional dependency of the package was
// activated in the scope.
func (a *ActivatedFeatures) DepActivated(id domain.PackageID, scope Scope, dep domain.InternedString) bool {
	_, ok := a.deps[depKey{key: featKey{id: id, scope: scope}, dep: dep}]
	return ok
}

// Unify computes the activated features of every package in the resolve,
// starting from the user's selection on the workspace members. The
// resolve must carry summaries, i.e. come from resolution rather than a
// bare lockfile.
func Unify(resolve *domain.Resolve, members []*domain.Summary, req FeatureRequest) (*ActivatedFeatures, error) {
	u := &unifier{
		resolve:  resolve,
		req:      req,
		members:  make(map[domain.PackageID]struct{}, len(members)),
		features: make(map[featKey]map[domain.InternedString]struct{}),
		deps:     make(map[depKey]struct{}),
		deferred: make(map[depKey][]domain.InternedString),
		visited:  make(map[featKey]struct{}),
	}
	for _, m := range members {
		u.members[m.ID] = struct{}{}
	}
	for _, m := range members {
		values, err := u.requestedValues(m)
		if err != nil {
			return nil, err
		}
		if err := u.activatePkg(m.ID, ScopeTarget, nil); err != nil {
			return nil, err
		}
		for _, v := range values {
			if err := u.activateValue(m.ID, ScopeTarget, v); err != nil {
				return nil, err
			}
		}
	}
	return u.finish(), nil
}

type featKey struct {
	id    domain.PackageID
	scope Scope
}

type depKey struct {
	key featKey
	dep domain.InternedString
}

type unifier struct {
	resolve  *domain.Resolve
	req      FeatureRequest
	members  map[domain.PackageID]struct{}
	features map[featKey]map[domain.InternedString]struct{}
	deps     map[depKey]struct{}

	// deferred holds weak "dep?/feat" activations waiting for the
	// optional dependency to be switched on by another path.
	deferred map[depKey][]domain.InternedString

	// visited marks (package, scope) pairs whose non-optional edges were
	// walked at least once.
	visited map[featKey]struct{}
}

// requestedValues translates the user's feature flags into activation
// entries for one member.
func (u *unifier) requestedValues(m *domain.Summary) ([]domain.FeatureValue, error) {
	var values []domain.FeatureValue
	if u.req.Selection.AllFeatures {
		names := make([]domain.InternedString, 0, len(m.Features))
		for name := range m.Features {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })
		for _, name := range names {
			values = append(values, domain.FeatureValue{Kind: domain.FeatureValueFeature, Feature: name})
		}
		return values, nil
	}
	if !u.req.Selection.NoDefaultFeatures && m.Features.Has(domain.FeatureNameDefault) {
		values = append(values, domain.FeatureValue{Kind: domain.FeatureValueFeature, Feature: domain.FeatureNameDefault})
	}
	for _, f := range u.req.Selection.Features {
		v := domain.ParseFeatureValue(f.String())
		if v.Kind == domain.FeatureValueFeature && !m.Features.Has(v.Feature) {
			return nil, zerr.With(zerr.With(
				domain.ErrUnknownFeature,
				"feature", v.Feature.String()),
				"package", m.ID.String())
		}
		values = append(values, v)
	}
	return values, nil
}

func (u *unifier) summary(id domain.PackageID) (*domain.Summary, error) {
	s := u.resolve.Summary(id)
	if s == nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrResolution, "resolve carries no summary for package"), "package", id.String())
	}
	return s, nil
}

func (u *unifier) scopeFor(parent Scope, kind domain.DepKind) Scope {
	if u.req.Behavior == BehaviorClassic {
		return ScopeTarget
	}
	if kind == domain.DepKindBuild {
		return ScopeHost
	}
	return parent
}

// edgeAllowed reports whether an edge participates in activation: dev
// edges only for members with dev deps requested, platform-gated edges
// only when some requested platform matches.
func (u *unifier) edgeAllowed(parent domain.PackageID, e domain.Dependency) bool {
	if e.Kind == domain.DepKindDev {
		if _, member := u.members[parent]; !member || !u.req.DevDeps {
			return false
		}
	}
	if e.Platform == nil {
		return true
	}
	if e.Platform.Matches(u.req.HostInfo) {
		return true
	}
	for _, info := range u.req.TargetInfos {
		if e.Platform.Matches(info) {
			return true
		}
	}
	return false
}

// activatePkg activates the given features on a package and, when
// anything new was activated, walks its non-optional edges. Optional
// edges are walked by activateDependency when their switch flips.
func (u *unifier) activatePkg(id domain.PackageID, scope Scope, features []domain.InternedString) error {
	key := featKey{id: id, scope: scope}
	changed := false
	for _, f := range features {
		if u.hasFeature(key, f) {
			continue
		}
		if err := u.activateFeature(id, scope, f); err != nil {
			return err
		}
		changed = true
	}
	if _, seen := u.visited[key]; !seen {
		u.visited[key] = struct{}{}
		changed = true
	}
	if !changed {
		return nil
	}
	for _, rd := range u.resolve.Deps(id) {
		for _, e := range rd.Edges {
			if e.Optional || !u.edgeAllowed(id, e) {
				continue
			}
			if err := u.activateEdge(rd.ID, scope, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// activateEdge activates a dependency package through one declared edge,
// carrying the edge's feature list and default-features flag.
func (u *unifier) activateEdge(depID domain.PackageID, parentScope Scope, e domain.Dependency) error {
	scope := u.scopeFor(parentScope, e.Kind)
	features := make([]domain.InternedString, 0, len(e.Features)+1)
	features = append(features, e.Features...)
	if e.DefaultFeatures {
		summary, err := u.summary(depID)
		if err != nil {
			return err
		}
		if summary.Features.Has(domain.FeatureNameDefault) {
			features = append(features, domain.FeatureNameDefault)
		}
	}
	return u.activatePkg(depID, scope, features)
}

func (u *unifier) hasFeature(key featKey, name domain.InternedString) bool {
	_, ok := u.features[key][name]
	return ok
}

func (u *unifier) activateFeature(id domain.PackageID, scope Scope, name domain.InternedString) error {
	key := featKey{id: id, scope: scope}
	if u.hasFeature(key, name) {
		return nil
	}
	summary, err := u.summary(id)
	if err != nil {
		return err
	}
	values, declared := summary.Features[name]
	if !declared {
		return zerr.With(zerr.With(
			domain.ErrUnknownFeature,
			"feature", name.String()),
			"package", id.String())
	}
	if u.features[key] == nil {
		u.features[key] = make(map[domain.InternedString]struct{})
	}
	u.features[key][name] = struct{}{}
	for _, v := range values {
		if err := u.activateValue(id, scope, v); err != nil {
			return err
		}
	}
	return nil
}

func (u *unifier) activateValue(id domain.PackageID, scope Scope, v domain.FeatureValue) error {
	switch v.Kind {
	case domain.FeatureValueFeature:
		return u.activateFeature(id, scope, v.Feature)
	case domain.FeatureValueDep:
		return u.activateDependency(id, scope, v.DepName)
	case domain.FeatureValueDepFeature:
		return u.activateDepFeature(id, scope, v)
	}
	return nil
}

// activateDependency flips an optional dependency on: the matching edges
// are walked and any deferred weak features are applied.
func (u *unifier) activateDependency(id domain.PackageID, scope Scope, depName domain.InternedString) error {
	dk := depKey{key: featKey{id: id, scope: scope}, dep: depName}
	if _, active := u.deps[dk]; active {
		return nil
	}
	u.deps[dk] = struct{}{}
	pending := u.deferred[dk]
	delete(u.deferred, dk)

	for _, rd := range u.resolve.Deps(id) {
		for _, e := range rd.Edges {
			if e.Name != depName || !e.Optional || !u.edgeAllowed(id, e) {
				continue
			}
			if err := u.activateEdge(rd.ID, scope, e); err != nil {
				return err
			}
			depScope := u.scopeFor(scope, e.Kind)
			for _, f := range pending {
				if err := u.activateFeature(rd.ID, depScope, f); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// activateDepFeature handles "dep/feat" and "dep?/feat" entries. The
// strong form also activates an optional dependency; the weak form is
// deferred until the dependency is activated by another entry.
func (u *unifier) activateDepFeature(id domain.PackageID, scope Scope, v domain.FeatureValue) error {
	dk := depKey{key: featKey{id: id, scope: scope}, dep: v.DepName}
	optional := u.hasOptionalEdge(id, v.DepName)

	if v.Weak {
		if _, active := u.deps[dk]; !active && optional {
			u.deferred[dk] = append(u.deferred[dk], v.Feature)
			return nil
		}
	} else if optional {
		if err := u.activateDependency(id, scope, v.DepName); err != nil {
			return err
		}
	}

	for _, rd := range u.resolve.Deps(id) {
		for _, e := range rd.Edges {
			if e.Name != v.DepName || !u.edgeAllowed(id, e) {
				continue
			}
			if err := u.activateFeature(rd.ID, u.scopeFor(scope, e.Kind), v.Feature); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *unifier) hasOptionalEdge(id domain.PackageID, depName domain.InternedString) bool {
	for _, rd := range u.resolve.Deps(id) {
		for _, e := range rd.Edges {
			if e.Name == depName && e.Optional {
				return true
			}
		}
	}
	return false
}

func (u *unifier) finish() *ActivatedFeatures {
	out := &ActivatedFeatures{
		features: make(map[featKey][]domain.InternedString, len(u.features)),
		deps:     u.deps,
	}
	for key, set := range u.features {
		names := make([]domain.InternedString, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })
		out.features[key] = names
	}
	return out
}
