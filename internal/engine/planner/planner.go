// Package planner turns a resolved dependency graph plus a build request
// into the unit graph the scheduler executes. Planning is pure: no
// filesystem access, no subprocesses.
package planner

import (
	"context"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
	"freight.build/freight/internal/engine/resolver"
)

// Planner builds unit graphs.
type Planner struct {
	logger ports.Logger
	tracer ports.Tracer
}

// New creates a new Planner.
func New(logger ports.Logger, tracer ports.Tracer) *Planner {
	return &Planner{logger: logger, tracer: tracer}
}

// Request carries the inputs of one planning run.
type Request struct {
	// Resolve is the selected package graph.
	Resolve *domain.Resolve

	// Activated is the feature unification result for the same resolve.
	Activated *resolver.ActivatedFeatures

	// Packages maps every reachable package id to its loaded package.
	Packages map[domain.PackageID]*domain.Package

	// Roots are the selected workspace packages.
	Roots []*domain.Package

	// Members is the full workspace member set, used for profile and
	// dev-dependency decisions.
	Members map[domain.PackageID]struct{}

	// Mode is the requested operation.
	Mode domain.CompileMode

	// Profiles resolves concrete profiles for the requested name.
	Profiles *domain.Profiles

	// Kinds are the requested compile kinds, never empty.
	Kinds []domain.CompileKind

	// Filter selects targets inside the root packages.
	Filter domain.TargetFilter

	// HostInfo describes the build host for platform-gated edges.
	HostInfo domain.PlatformInfo

	// TargetInfo returns the platform description of an explicit compile
	// kind. Nil falls back to triple comparison only.
	TargetInfo func(domain.CompileKind) domain.PlatformInfo

	// Interner deduplicates units. Nil creates a private one.
	Interner *domain.UnitInterner
}

// Plan builds the unit graph for the request.
func (p *Planner) Plan(ctx context.Context, req Request) (*domain.UnitGraph, error) {
	ctx, span := p.tracer.Start(ctx, "plan")
	defer span.End()

	if req.Interner == nil {
		req.Interner = domain.NewUnitInterner()
	}
	s := &state{
		req:  req,
		deps: make(map[*domain.Unit][]domain.UnitDep),
		done: make(map[*domain.Unit]struct{}),
	}

	roots, err := s.rootUnits()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, root := range roots {
		if err := s.compute(root, resolver.ScopeTarget, domain.ProfileForTarget); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	graph := &domain.UnitGraph{Roots: roots, Deps: s.deps}
	span.SetAttribute("units", graph.Len())
	return graph, nil
}

type state struct {
	req  Request
	deps map[*domain.Unit][]domain.UnitDep
	done map[*domain.Unit]struct{}
}

// scopedDep pairs a graph edge with the feature scope and profile facet
// its subtree is planned under.
type scopedDep struct {
	dep   domain.UnitDep
	scope resolver.Scope
	pfor  domain.ProfileFor
}

func (s *state) isMember(id domain.PackageID) bool {
	_, ok := s.req.Members[id]
	return ok
}

func (s *state) pkg(id domain.PackageID) (*domain.Package, error) {
	pkg, ok := s.req.Packages[id]
	if !ok {
		return nil, zerr.With(zerr.Wrap(domain.ErrResolution, "resolved package was not loaded"), "package", id.String())
	}
	return pkg, nil
}

// activationScope maps a planning scope to the feature partition. Classic
// unification stores everything under the target scope.
func (s *state) activationScope(scope resolver.Scope) resolver.Scope {
	if s.req.Activated == nil {
		return resolver.ScopeTarget
	}
	return scope
}

func (s *state) features(id domain.PackageID, scope resolver.Scope) []domain.InternedString {
	if s.req.Activated == nil {
		return s.req.Resolve.Features(id)
	}
	if f := s.req.Activated.Features(id, scope); len(f) > 0 {
		return f
	}
	// Classic unification keeps one partition; fall back to it.
	return s.req.Activated.Features(id, resolver.ScopeTarget)
}

func (s *state) depActivated(id domain.PackageID, scope resolver.Scope, name domain.InternedString) bool {
	if s.req.Activated == nil {
		return true
	}
	return s.req.Activated.DepActivated(id, scope, name) ||
		s.req.Activated.DepActivated(id, resolver.ScopeTarget, name)
}

func (s *state) platformInfo(kind domain.CompileKind) domain.PlatformInfo {
	if kind.IsHost() || s.req.TargetInfo == nil {
		return s.req.HostInfo
	}
	return s.req.TargetInfo(kind)
}

func (s *state) edgeAllowed(e domain.Dependency, kind domain.CompileKind) bool {
	if e.Platform == nil {
		return true
	}
	return e.Platform.Matches(s.platformInfo(kind))
}

// rootUnits creates the units the request directly asks for.
func (s *state) rootUnits() ([]*domain.Unit, error) {
	var roots []*domain.Unit
	for _, pkg := range s.req.Roots {
		targets, err := s.selectTargets(pkg)
		if err != nil {
			return nil, err
		}
		features := s.features(pkg.ID, resolver.ScopeTarget)
		profile := s.req.Profiles.Get(pkg.ID, true, domain.ProfileForTarget)
		for _, kind := range s.req.Kinds {
			for _, target := range targets {
				mode := s.rootMode(target)
				roots = append(roots, s.req.Interner.Intern(pkg, target, profile, kind, mode, features, ""))
				if s.req.Mode == domain.ModeTest && target.Doctest && target.CanDoctest() {
					roots = append(roots, s.req.Interner.Intern(pkg, target, profile, kind, domain.ModeDoctest, features, ""))
				}
			}
		}
	}
	if len(roots) == 0 {
		return nil, domain.ErrTargetNotFound
	}
	domain.SortUnits(roots)
	return roots, nil
}

// rootMode maps the requested operation onto one selected target.
// Integration tests and benchmarks always build their harness; everything
// else follows the request.
func (s *state) rootMode(target *domain.Target) domain.CompileMode {
	switch {
	case target.IsTest():
		return domain.ModeTest
	case target.IsBench():
		return domain.ModeBench
	}
	return s.req.Mode
}

// selectTargets applies the target filter (or the mode's default target
// set) to one root package.
func (s *state) selectTargets(pkg *domain.Package) ([]*domain.Target, error) {
	var targets []*domain.Target
	add := func(t *domain.Target) {
		if t != nil && s.requiredFeaturesMet(pkg, t) {
			targets = append(targets, t)
		}
	}

	f := s.req.Filter
	if f.IsEmpty() {
		switch s.req.Mode {
		case domain.ModeTest:
			if lib := pkg.Library(); lib != nil && lib.Tested {
				add(lib)
			}
			for _, t := range pkg.TargetsOfKind(domain.TargetKindBin) {
				if t.Tested {
					add(t)
				}
			}
			for _, t := range pkg.TargetsOfKind(domain.TargetKindTest) {
				add(t)
			}
		case domain.ModeBench:
			if lib := pkg.Library(); lib != nil && lib.Benched {
				add(lib)
			}
			for _, t := range pkg.TargetsOfKind(domain.TargetKindBench) {
				add(t)
			}
		case domain.ModeDoc:
			if lib := pkg.Library(); lib != nil && lib.Doc {
				add(lib)
			}
			for _, t := range pkg.TargetsOfKind(domain.TargetKindBin) {
				if t.Doc {
					add(t)
				}
			}
		default:
			add(pkg.Library())
			for _, t := range pkg.TargetsOfKind(domain.TargetKindBin) {
				add(t)
			}
		}
		return targets, nil
	}

	if f.AllTargets {
		add(pkg.Library())
		for _, kind := range []domain.TargetKind{
			domain.TargetKindBin, domain.TargetKindExample,
			domain.TargetKindTest, domain.TargetKindBench,
		} {
			for _, t := range pkg.TargetsOfKind(kind) {
				add(t)
			}
		}
		return targets, nil
	}

	if f.Lib {
		lib := pkg.Library()
		if lib == nil {
			return nil, zerr.With(domain.ErrTargetNotFound, "package", pkg.ID.String())
		}
		add(lib)
	}
	named := func(kind domain.TargetKind, names []string, all bool) error {
		if all {
			for _, t := range pkg.TargetsOfKind(kind) {
				add(t)
			}
			return nil
		}
		for _, name := range names {
			found := false
			for _, t := range pkg.TargetsOfKind(kind) {
				if t.Name.String() == name {
					add(t)
					found = true
				}
			}
			if !found {
				return zerr.With(zerr.With(domain.ErrTargetNotFound, "target", name), "package", pkg.ID.String())
			}
		}
		return nil
	}
	if err := named(domain.TargetKindBin, f.Bins, f.AllBins); err != nil {
		return nil, err
	}
	if err := named(domain.TargetKindExample, f.Examples, f.AllExamples); err != nil {
		return nil, err
	}
	if err := named(domain.TargetKindTest, f.Tests, f.AllTests); err != nil {
		return nil, err
	}
	if err := named(domain.TargetKindBench, f.Benches, f.AllBenches); err != nil {
		return nil, err
	}
	return targets, nil
}

func (s *state) requiredFeaturesMet(pkg *domain.Package, t *domain.Target) bool {
	if len(t.RequiredFeatures) == 0 {
		return true
	}
	active := make(map[string]struct{})
	for _, f := range s.features(pkg.ID, resolver.ScopeTarget) {
		active[f.String()] = struct{}{}
	}
	for _, needed := range t.RequiredFeatures {
		if _, ok := active[needed]; !ok {
			return false
		}
	}
	return true
}

// compute fills the dependency edges of a unit and recurses into them.
func (s *state) compute(u *domain.Unit, scope resolver.Scope, pfor domain.ProfileFor) error {
	if _, ok := s.done[u]; ok {
		return nil
	}
	s.done[u] = struct{}{}

	var edges []scopedDep
	var err error
	switch {
	case u.BuildScriptRun():
		edges, err = s.scriptRunDeps(u, scope)
	case u.Mode == domain.ModeDoctest:
		edges, err = s.doctestDeps(u, scope)
	default:
		edges, err = s.unitDeps(u, scope, pfor)
	}
	if err != nil {
		return err
	}

	s.deps[u] = dedupEdges(edges)
	for _, e := range edges {
		if err := s.compute(e.dep.Unit, e.scope, e.pfor); err != nil {
			return err
		}
	}
	return nil
}

// unitDeps computes the edges of a compile unit: library dependencies,
// artifact dependencies and the package's own build script run.
func (s *state) unitDeps(u *domain.Unit, scope resolver.Scope, pfor domain.ProfileFor) ([]scopedDep, error) {
	depMode := domain.ModeBuild
	if u.Mode == domain.ModeCheck {
		depMode = domain.ModeCheck
	}

	// A build script compile links the package's build dependencies;
	// everything else links the normal (and member dev) dependencies.
	wantKind := domain.DepKindNormal
	if u.BuildScriptCompile() {
		wantKind = domain.DepKindBuild
	}
	followDev := u.Mode.IsAnyTest() && s.isMember(u.Pkg.ID)

	var edges []scopedDep
	for _, rd := range s.req.Resolve.Deps(u.Pkg.ID) {
		for _, e := range rd.Edges {
			if e.Kind != wantKind && !(followDev && e.Kind == domain.DepKindDev) {
				continue
			}
			if !s.edgeAllowed(e, u.Kind) {
				continue
			}
			if e.Optional && !s.depActivated(u.Pkg.ID, s.activationScope(scope), e.Name) {
				continue
			}
			depPkg, err := s.pkg(rd.ID)
			if err != nil {
				return nil, err
			}
			depEdges, err := s.edgeUnits(u, e, depPkg, scope, pfor, depMode)
			if err != nil {
				return nil, err
			}
			edges = append(edges, depEdges...)
		}
	}

	// Binaries, examples, tests and benches link their own library.
	if lib := u.Pkg.Library(); lib != nil && lib.IsLinkable() &&
		!u.Target.IsLib() && !u.Target.IsCustomBuild() {
		profile := s.req.Profiles.Get(u.Pkg.ID, s.isMember(u.Pkg.ID), pfor)
		unit := s.req.Interner.Intern(u.Pkg, lib, profile, u.Kind, depMode, u.Features, "")
		edges = append(edges, scopedDep{
			dep:   domain.UnitDep{Unit: unit, ExternName: lib.Name},
			scope: scope,
			pfor:  pfor,
		})
	}

	if u.Pkg.HasCustomBuild() && !u.Target.IsCustomBuild() {
		run, err := s.scriptRunUnit(u, scope)
		if err != nil {
			return nil, err
		}
		edges = append(edges, scopedDep{
			dep:   domain.UnitDep{Unit: run, NoImplicitImport: true},
			scope: scope,
			pfor:  domain.ProfileForHost,
		})
	}
	return edges, nil
}

// edgeUnits maps one declared edge onto unit dependencies: the library
// unit (unless the edge is artifact-only) plus any artifact units.
func (s *state) edgeUnits(u *domain.Unit, e domain.Dependency, depPkg *domain.Package, scope resolver.Scope, pfor domain.ProfileFor, depMode domain.CompileMode) ([]scopedDep, error) {
	var edges []scopedDep

	lib := depPkg.Library()
	wantLib := e.Artifact == nil || e.Artifact.IncludeLib
	if lib != nil && lib.IsLinkable() && wantLib {
		depKind := u.Kind
		depScope := scope
		depPfor := pfor
		if e.Kind == domain.DepKindBuild || lib.IsProcMacro() {
			depKind = domain.CompileKindHost()
			depScope = resolver.ScopeHost
			depPfor = domain.ProfileForHost
		}
		mode := depMode
		if lib.IsProcMacro() {
			// Proc-macros must link, check mode cannot stop at metadata.
			mode = domain.ModeBuild
		}
		profile := s.req.Profiles.Get(depPkg.ID, s.isMember(depPkg.ID), depPfor)
		features := s.features(depPkg.ID, s.activationScope(depScope))
		unit := s.req.Interner.Intern(depPkg, lib, profile, depKind, mode, features, "")
		edges = append(edges, scopedDep{
			dep:   domain.UnitDep{Unit: unit, ExternName: e.Name, Public: e.Public},
			scope: depScope,
			pfor:  depPfor,
		})
	}

	if e.Artifact != nil {
		artifactEdges, err := s.artifactUnits(u, e, depPkg, scope, pfor)
		if err != nil {
			return nil, err
		}
		edges = append(edges, artifactEdges...)
	}
	return edges, nil
}

// artifactUnits creates the units satisfying an artifact dependency.
func (s *state) artifactUnits(u *domain.Unit, e domain.Dependency, depPkg *domain.Package, scope resolver.Scope, pfor domain.ProfileFor) ([]scopedDep, error) {
	depKind := u.Kind
	depScope := scope
	depPfor := pfor
	if e.Kind == domain.DepKindBuild {
		depKind = domain.CompileKindHost()
		depScope = resolver.ScopeHost
		depPfor = domain.ProfileForHost
	}
	switch e.Artifact.Target {
	case "":
	case "target":
		// Force the build target even when the edge itself is host-facing.
		depKind = u.Kind
	default:
		depKind = domain.CompileKindTarget(e.Artifact.Target)
	}

	profile := s.req.Profiles.Get(depPkg.ID, s.isMember(depPkg.ID), depPfor)
	features := s.features(depPkg.ID, s.activationScope(depScope))

	var edges []scopedDep
	for _, ak := range e.Artifact.Kinds {
		targets, err := artifactTargets(depPkg, ak)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			unit := s.req.Interner.Intern(depPkg, t, profile, depKind, domain.ModeBuild, features, ak.String())
			edges = append(edges, scopedDep{
				dep:   domain.UnitDep{Unit: unit, ExternName: e.Name, NoImplicitImport: true},
				scope: depScope,
				pfor:  depPfor,
			})
		}
	}
	return edges, nil
}

func artifactTargets(pkg *domain.Package, ak domain.ArtifactKind) ([]*domain.Target, error) {
	switch ak.Kind {
	case "bin":
		var out []*domain.Target
		for _, t := range pkg.TargetsOfKind(domain.TargetKindBin) {
			if ak.BinName == "" || t.Name.String() == ak.BinName {
				out = append(out, t)
			}
		}
		if len(out) == 0 {
			return nil, zerr.With(zerr.With(domain.ErrTargetNotFound, "artifact", ak.String()), "package", pkg.ID.String())
		}
		return out, nil
	case "cdylib", "staticlib":
		lib := pkg.Library()
		if lib != nil {
			for _, ct := range lib.CrateTypes {
				if string(ct) == ak.Kind {
					return []*domain.Target{lib}, nil
				}
			}
		}
		return nil, zerr.With(zerr.With(domain.ErrTargetNotFound, "artifact", ak.String()), "package", pkg.ID.String())
	}
	return nil, zerr.With(domain.ErrEmptyArtifact, "kind", ak.Kind)
}

// scriptRunUnit returns the build script execution unit serving one
// compile unit. The run is per compile kind: cross and host builds of the
// same package run the script separately.
func (s *state) scriptRunUnit(u *domain.Unit, scope resolver.Scope) (*domain.Unit, error) {
	cb := u.Pkg.CustomBuild()
	profile := s.req.Profiles.Get(u.Pkg.ID, s.isMember(u.Pkg.ID), domain.ProfileForHost)
	features := s.features(u.Pkg.ID, s.activationScope(scope))
	return s.req.Interner.Intern(u.Pkg, cb, profile, u.Kind, domain.ModeRunCustomBuild, features, ""), nil
}

// scriptRunDeps wires a script run to its compiled binary and to the
// script runs of linked dependencies, whose metadata it may read through
// the DEP_<LINKS>_<KEY> environment.
func (s *state) scriptRunDeps(u *domain.Unit, scope resolver.Scope) ([]scopedDep, error) {
	profile := s.req.Profiles.Get(u.Pkg.ID, s.isMember(u.Pkg.ID), domain.ProfileForHost)
	compile := s.req.Interner.Intern(u.Pkg, u.Target, profile, domain.CompileKindHost(), domain.ModeBuild, u.Features, "")
	edges := []scopedDep{{
		dep:   domain.UnitDep{Unit: compile, NoImplicitImport: true},
		scope: resolver.ScopeHost,
		pfor:  domain.ProfileForHost,
	}}

	for _, rd := range s.req.Resolve.Deps(u.Pkg.ID) {
		for _, e := range rd.Edges {
			if e.Kind != domain.DepKindNormal || !s.edgeAllowed(e, u.Kind) {
				continue
			}
			if e.Optional && !s.depActivated(u.Pkg.ID, s.activationScope(scope), e.Name) {
				continue
			}
			depPkg, err := s.pkg(rd.ID)
			if err != nil {
				return nil, err
			}
			if depPkg.Links == "" || !depPkg.HasCustomBuild() {
				continue
			}
			depProfile := s.req.Profiles.Get(depPkg.ID, s.isMember(depPkg.ID), domain.ProfileForHost)
			depFeatures := s.features(depPkg.ID, s.activationScope(scope))
			run := s.req.Interner.Intern(depPkg, depPkg.CustomBuild(), depProfile, u.Kind, domain.ModeRunCustomBuild, depFeatures, "")
			edges = append(edges, scopedDep{
				dep:   domain.UnitDep{Unit: run, NoImplicitImport: true},
				scope: scope,
				pfor:  domain.ProfileForHost,
			})
		}
	}
	return edges, nil
}

// doctestDeps wires a doctest unit to its library build; the doc tool
// loads the library's artifacts instead of compiling the sources again.
func (s *state) doctestDeps(u *domain.Unit, scope resolver.Scope) ([]scopedDep, error) {
	lib := s.req.Interner.Intern(u.Pkg, u.Target, u.Profile, u.Kind, domain.ModeBuild, u.Features, "")
	return []scopedDep{{
		dep:   domain.UnitDep{Unit: lib, ExternName: u.Target.Name},
		scope: scope,
		pfor:  domain.ProfileForTarget,
	}}, nil
}

// dedupEdges collapses duplicate edges onto the same unit, keeping the
// first occurrence's import settings.
func dedupEdges(edges []scopedDep) []domain.UnitDep {
	seen := make(map[*domain.Unit]struct{}, len(edges))
	out := make([]domain.UnitDep, 0, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.dep.Unit]; ok {
			continue
		}
		seen[e.dep.Unit] = struct{}{}
		out = append(out, e.dep)
	}
	return out
}
