package resolver_test

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"freight.build/freight/internal/adapters/telemetry"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
	"freight.build/freight/internal/core/ports/mocks"
	"freight.build/freight/internal/engine/resolver"
)

var testRegistry = domain.DefaultRegistry()

func mkSummary(t *testing.T, name, version string, deps []domain.Dependency, features map[string][]string, links string) *domain.Summary {
	t.Helper()
	id := domain.NewPackageID(name, semver.MustParse(version), testRegistry)
	s, err := domain.NewSummary(id, deps, features, links, nil)
	require.NoError(t, err)
	return s
}

func mkMember(t *testing.T, name string, deps []domain.Dependency, features map[string][]string) *domain.Summary {
	t.Helper()
	id := domain.NewPackageID(name, semver.MustParse("0.1.0"), domain.PathSource("/ws/"+name))
	s, err := domain.NewSummary(id, deps, features, "", nil)
	require.NoError(t, err)
	return s
}

func dep(name, req string) domain.Dependency {
	return domain.NewDependency(name, testRegistry, domain.MustVersionReq(req))
}

func newResolver(t *testing.T, index ...*domain.Summary) *resolver.Resolver {
	t.Helper()
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockRegistry(ctrl)
	reg.EXPECT().Query(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d domain.Dependency, kind ports.QueryKind) ([]*domain.Summary, error) {
			var out []*domain.Summary
			for _, s := range index {
				if !d.MatchesSummary(s) {
					continue
				}
				if s.Yanked && kind == ports.QueryNormal {
					continue
				}
				out = append(out, s)
			}
			return out, nil
		}).AnyTimes()
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Verbose(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	return resolver.New(reg, log, telemetry.NewNoOpTracer())
}

func previousWith(ids ...domain.PackageID) *domain.Resolve {
	graph := make(map[domain.PackageID][]domain.ResolvedDep, len(ids))
	for _, id := range ids {
		graph[id] = nil
	}
	return domain.NewResolve(graph, nil, nil, nil, domain.DefaultLockfileVersion)
}

func selected(t *testing.T, resolve *domain.Resolve, name string) domain.PackageID {
	t.Helper()
	ids := resolve.QueryByName(domain.NewInternedString(name))
	require.Len(t, ids, 1, "expected exactly one selected version of %s", name)
	return ids[0]
}

func TestResolve_PicksNewestMatching(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("log", "^0.4")}, nil)
	r := newResolver(t,
		mkSummary(t, "log", "0.4.1", nil, nil, ""),
		mkSummary(t, "log", "0.4.8", nil, nil, ""),
		mkSummary(t, "log", "0.3.9", nil, nil, ""),
	)

	resolve, err := r.Resolve(t.Context(), resolver.Request{Members: []*domain.Summary{member}})
	require.NoError(t, err)

	assert.Equal(t, "0.4.8", selected(t, resolve, "log").Version().String())
	assert.Equal(t, 2, resolve.Len())
}

func TestResolve_PrefersLockedVersion(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("log", "^0.4")}, nil)
	locked := domain.NewPackageID("log", semver.MustParse("0.4.1"), testRegistry)
	r := newResolver(t,
		mkSummary(t, "log", "0.4.1", nil, nil, ""),
		mkSummary(t, "log", "0.4.8", nil, nil, ""),
	)

	resolve, err := r.Resolve(t.Context(), resolver.Request{
		Members:  []*domain.Summary{member},
		Previous: previousWith(member.ID, locked),
	})
	require.NoError(t, err)

	assert.Equal(t, "0.4.1", selected(t, resolve, "log").Version().String())
}

func TestResolve_YankedOnlyWhenLocked(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("log", "^0.4")}, nil)
	yanked := mkSummary(t, "log", "0.4.8", nil, nil, "")
	yanked.Yanked = true
	index := []*domain.Summary{yanked, mkSummary(t, "log", "0.4.1", nil, nil, "")}

	resolve, err := newResolver(t, index...).Resolve(t.Context(), resolver.Request{
		Members: []*domain.Summary{member},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.4.1", selected(t, resolve, "log").Version().String())

	resolve, err = newResolver(t, index...).Resolve(t.Context(), resolver.Request{
		Members:  []*domain.Summary{member},
		Previous: previousWith(member.ID, yanked.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.4.8", selected(t, resolve, "log").Version().String())
}

func TestResolve_MajorsCoexist(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("a", "^1"), dep("b", "^1")}, nil)
	r := newResolver(t,
		mkSummary(t, "a", "1.0.0", []domain.Dependency{dep("x", "^1")}, nil, ""),
		mkSummary(t, "b", "1.0.0", []domain.Dependency{dep("x", "^2")}, nil, ""),
		mkSummary(t, "x", "1.5.0", nil, nil, ""),
		mkSummary(t, "x", "2.3.0", nil, nil, ""),
	)

	resolve, err := r.Resolve(t.Context(), resolver.Request{Members: []*domain.Summary{member}})
	require.NoError(t, err)

	assert.Len(t, resolve.QueryByName(domain.NewInternedString("x")), 2)
	assert.Equal(t, 5, resolve.Len())
}

func TestResolve_BacktracksAcrossSubtrees(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("a", "^1"), dep("b", "^1")}, nil)
	r := newResolver(t,
		// The newest a pins x to a version b cannot accept.
		mkSummary(t, "a", "1.1.0", []domain.Dependency{dep("x", "=1.0.0")}, nil, ""),
		mkSummary(t, "a", "1.0.0", []domain.Dependency{dep("x", "=1.1.0")}, nil, ""),
		mkSummary(t, "b", "1.0.0", []domain.Dependency{dep("x", "=1.1.0")}, nil, ""),
		mkSummary(t, "x", "1.0.0", nil, nil, ""),
		mkSummary(t, "x", "1.1.0", nil, nil, ""),
	)

	resolve, err := r.Resolve(t.Context(), resolver.Request{Members: []*domain.Summary{member}})
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", selected(t, resolve, "a").Version().String())
	assert.Equal(t, "1.1.0", selected(t, resolve, "x").Version().String())
}

func TestResolve_LinksCollision(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("a", "^1"), dep("b", "^1")}, nil)
	r := newResolver(t,
		mkSummary(t, "a", "1.0.0", nil, nil, "z"),
		mkSummary(t, "b", "1.0.0", nil, nil, "z"),
	)

	_, err := r.Resolve(t.Context(), resolver.Request{Members: []*domain.Summary{member}})
	require.ErrorIs(t, err, domain.ErrLinksCollision)
}

func TestResolve_NoMatchingVersion(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("ghost", "^1")}, nil)
	r := newResolver(t)

	_, err := r.Resolve(t.Context(), resolver.Request{Members: []*domain.Summary{member}})
	require.ErrorIs(t, err, domain.ErrNoMatchingVersion)
	assert.Contains(t, err.Error(), "app")
}

func TestResolve_CycleDetected(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("a", "^1")}, nil)
	r := newResolver(t,
		mkSummary(t, "a", "1.0.0", []domain.Dependency{dep("b", "^1")}, nil, ""),
		mkSummary(t, "b", "1.0.0", []domain.Dependency{dep("a", "^1")}, nil, ""),
	)

	_, err := r.Resolve(t.Context(), resolver.Request{Members: []*domain.Summary{member}})
	require.ErrorIs(t, err, domain.ErrCyclicDependency)
}

func TestResolve_LockedDetectsDrift(t *testing.T) {
	member := mkMember(t, "app", []domain.Dependency{dep("log", "^0.4")}, nil)
	gone := domain.NewPackageID("log", semver.MustParse("0.4.1"), testRegistry)
	r := newResolver(t, mkSummary(t, "log", "0.4.8", nil, nil, ""))

	_, err := r.Resolve(t.Context(), resolver.Request{
		Members:  []*domain.Summary{member},
		Previous: previousWith(member.ID, gone),
		Locked:   true,
	})
	require.ErrorIs(t, err, domain.ErrLockfileOutOfDate)
}

func resolveWith(t *testing.T, member *domain.Summary, index ...*domain.Summary) *domain.Resolve {
	t.Helper()
	resolve, err := newResolver(t, index...).Resolve(t.Context(), resolver.Request{
		Members: []*domain.Summary{member},
	})
	require.NoError(t, err)
	return resolve
}

func featureNames(features []domain.InternedString) []string {
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = f.String()
	}
	return out
}

func TestFeatures_DefaultsAndExplicit(t *testing.T) {
	member := mkMember(t, "app", nil, map[string][]string{
		"default": {"std"},
		"std":     {},
		"extra":   {},
	})
	resolve := resolveWith(t, member)
	members := []*domain.Summary{member}

	activated, err := resolver.Unify(resolve, members, resolver.FeatureRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "std"}, featureNames(activated.Union(member.ID)))

	activated, err = resolver.Unify(resolve, members, resolver.FeatureRequest{
		Selection: domain.FeatureSelection{NoDefaultFeatures: true},
	})
	require.NoError(t, err)
	assert.Empty(t, activated.Union(member.ID))

	activated, err = resolver.Unify(resolve, members, resolver.FeatureRequest{
		Selection: domain.FeatureSelection{Features: domain.ParseFeatureList([]string{"extra"})},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "extra", "std"}, featureNames(activated.Union(member.ID)))

	activated, err = resolver.Unify(resolve, members, resolver.FeatureRequest{
		Selection: domain.FeatureSelection{AllFeatures: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "extra", "std"}, featureNames(activated.Union(member.ID)))
}

func TestFeatures_UnknownRequested(t *testing.T) {
	member := mkMember(t, "app", nil, nil)
	resolve := resolveWith(t, member)

	_, err := resolver.Unify(resolve, []*domain.Summary{member}, resolver.FeatureRequest{
		Selection: domain.FeatureSelection{Features: domain.ParseFeatureList([]string{"nope"})},
	})
	require.ErrorIs(t, err, domain.ErrUnknownFeature)
}

func TestFeatures_OptionalDepActivation(t *testing.T) {
	serdeDep := dep("serde", "^1")
	serdeDep.Optional = true
	serdeDep.Features = []domain.InternedString{domain.NewInternedString("derive")}
	member := mkMember(t, "app", []domain.Dependency{serdeDep}, map[string][]string{
		"json": {"dep:serde"},
	})
	serde := mkSummary(t, "serde", "1.0.0", nil, map[string][]string{
		"default": {},
		"derive":  {},
	}, "")
	resolve := resolveWith(t, member, serde)
	members := []*domain.Summary{member}
	serdeName := domain.NewInternedString("serde")

	// Feature off: the optional dependency stays dormant.
	activated, err := resolver.Unify(resolve, members, resolver.FeatureRequest{})
	require.NoError(t, err)
	assert.False(t, activated.DepActivated(member.ID, resolver.ScopeTarget, serdeName))
	assert.Empty(t, activated.Union(serde.ID))

	// Feature on: the edge's feature list and defaults apply.
	activated, err = resolver.Unify(resolve, members, resolver.FeatureRequest{
		Selection: domain.FeatureSelection{Features: domain.ParseFeatureList([]string{"json"})},
	})
	require.NoError(t, err)
	assert.True(t, activated.DepActivated(member.ID, resolver.ScopeTarget, serdeName))
	assert.Equal(t, []string{"default", "derive"}, featureNames(activated.Union(serde.ID)))
}

func TestFeatures_WeakDepFeature(t *testing.T) {
	serdeDep := dep("serde", "^1")
	serdeDep.Optional = true
	member := mkMember(t, "app", []domain.Dependency{serdeDep}, map[string][]string{
		"std":        {"serde?/std"},
		"with-serde": {"dep:serde"},
	})
	serde := mkSummary(t, "serde", "1.0.0", nil, map[string][]string{
		"default": {},
		"std":     {},
	}, "")
	resolve := resolveWith(t, member, serde)
	members := []*domain.Summary{member}

	// Weak alone never activates the dependency.
	activated, err := resolver.Unify(resolve, members, resolver.FeatureRequest{
		Selection: domain.FeatureSelection{Features: domain.ParseFeatureList([]string{"std"})},
	})
	require.NoError(t, err)
	assert.Empty(t, activated.Union(serde.ID))

	// With the dependency switched on, the deferred feature applies.
	activated, err = resolver.Unify(resolve, members, resolver.FeatureRequest{
		Selection: domain.FeatureSelection{Features: domain.ParseFeatureList([]string{"std", "with-serde"})},
	})
	require.NoError(t, err)
	assert.Contains(t, featureNames(activated.Union(serde.ID)), "std")
}

func TestFeatures_IsolatingScopes(t *testing.T) {
	common := mkSummary(t, "common", "1.0.0", nil, map[string][]string{
		"default": {},
		"extra":   {},
	}, "")
	toolDep := dep("common", "^1")
	toolDep.Features = []domain.InternedString{domain.NewInternedString("extra")}
	tool := mkSummary(t, "tool", "1.0.0", []domain.Dependency{toolDep}, nil, "")
	buildDep := dep("tool", "^1")
	buildDep.Kind = domain.DepKindBuild
	member := mkMember(t, "app", []domain.Dependency{dep("common", "^1"), buildDep}, nil)

	resolve := resolveWith(t, member, common, tool)
	members := []*domain.Summary{member}

	activated, err := resolver.Unify(resolve, members, resolver.FeatureRequest{
		Behavior: resolver.BehaviorIsolating,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"default"},
		featureNames(activated.Features(common.ID, resolver.ScopeTarget)))
	assert.Equal(t, []string{"default", "extra"},
		featureNames(activated.Features(common.ID, resolver.ScopeHost)))

	// Classic unions both paths into one set.
	activated, err = resolver.Unify(resolve, members, resolver.FeatureRequest{
		Behavior: resolver.BehaviorClassic,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "extra"},
		featureNames(activated.Features(common.ID, resolver.ScopeTarget)))
	assert.Empty(t, activated.Features(common.ID, resolver.ScopeHost))
}

func TestFeatures_DevDepsGate(t *testing.T) {
	devDep := dep("testkit", "^1")
	devDep.Kind = domain.DepKindDev
	member := mkMember(t, "app", []domain.Dependency{devDep}, nil)
	testkit := mkSummary(t, "testkit", "1.0.0", nil, map[string][]string{"default": {}}, "")

	resolve := resolveWith(t, member, testkit)
	members := []*domain.Summary{member}

	activated, err := resolver.Unify(resolve, members, resolver.FeatureRequest{})
	require.NoError(t, err)
	assert.Empty(t, activated.Union(testkit.ID))

	activated, err = resolver.Unify(resolve, members, resolver.FeatureRequest{DevDeps: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, featureNames(activated.Union(testkit.ID)))
}

func TestFeatures_PlatformGatedEdge(t *testing.T) {
	winDep := dep("winapi", "^0.3")
	platform, err := domain.ParsePlatform(`cfg(windows)`)
	require.NoError(t, err)
	winDep.Platform = platform
	member := mkMember(t, "app", []domain.Dependency{winDep}, nil)
	winapi := mkSummary(t, "winapi", "0.3.9", nil, map[string][]string{"default": {}}, "")

	resolve := resolveWith(t, member, winapi)
	members := []*domain.Summary{member}

	linux := domain.PlatformInfo{Triple: "x86_64-unknown-linux-gnu", Cfg: []domain.CfgValue{
		{Name: "unix"},
	}}
	windows := domain.PlatformInfo{Triple: "x86_64-pc-windows-msvc", Cfg: []domain.CfgValue{
		{Name: "windows"},
	}}

	activated, err := resolver.Unify(resolve, members, resolver.FeatureRequest{
		HostInfo:    linux,
		TargetInfos: []domain.PlatformInfo{linux},
	})
	require.NoError(t, err)
	assert.Empty(t, activated.Union(winapi.ID))

	activated, err = resolver.Unify(resolve, members, resolver.FeatureRequest{
		HostInfo:    linux,
		TargetInfos: []domain.PlatformInfo{windows},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, featureNames(activated.Union(winapi.ID)))
}

func TestResolve_AttachesUnifiedFeatures(t *testing.T) {
	member := mkMember(t, "app", nil, map[string][]string{
		"default": {"std"},
		"std":     {},
	})
	r := newResolver(t)

	resolve, err := r.Resolve(t.Context(), resolver.Request{
		Members:  []*domain.Summary{member},
		Features: &resolver.FeatureRequest{},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"default", "std"}, featureNames(resolve.Features(member.ID)))
}
