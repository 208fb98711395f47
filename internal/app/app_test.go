package app

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight.build/freight/internal/adapters/config"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/engine/resolver"
)

func mkMemberPkg(name string) *domain.Package {
	return &domain.Package{
		ID: domain.NewPackageID(name, semver.MustParse("0.1.0"), domain.PathSource("/ws/"+name)),
	}
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestApplyTargetDir(t *testing.T) {
	ws := &domain.Workspace{RootDir: "/ws", TargetDir: "/ws/target"}

	applyTargetDir(ws, &config.Schema{})
	assert.Equal(t, "/ws/target", ws.TargetDir)

	applyTargetDir(ws, &config.Schema{Build: config.BuildSchema{TargetDir: strPtr("out")}})
	assert.Equal(t, "/ws/out", ws.TargetDir)

	applyTargetDir(ws, &config.Schema{Build: config.BuildSchema{TargetDir: strPtr("/tmp/build")}})
	assert.Equal(t, "/tmp/build", ws.TargetDir)
}

func TestRequestedKinds(t *testing.T) {
	explicit := &domain.BuildRequest{Targets: []domain.CompileKind{
		domain.CompileKindTarget("aarch64-apple-darwin"),
	}}
	kinds := requestedKinds(explicit, &config.Schema{
		Build: config.BuildSchema{Target: []string{"x86_64-unknown-linux-gnu"}},
	})
	require.Len(t, kinds, 1)
	assert.Equal(t, "aarch64-apple-darwin", kinds[0].String())

	kinds = requestedKinds(&domain.BuildRequest{}, &config.Schema{
		Build: config.BuildSchema{Target: []string{"x86_64-unknown-linux-gnu"}},
	})
	require.Len(t, kinds, 1)
	assert.Equal(t, "x86_64-unknown-linux-gnu", kinds[0].String())

	kinds = requestedKinds(&domain.BuildRequest{}, &config.Schema{})
	require.Len(t, kinds, 1)
	assert.True(t, kinds[0].IsHost())
}

func TestJobCount(t *testing.T) {
	assert.Equal(t, 4, jobCount(&domain.BuildRequest{Jobs: 4}, &config.Schema{}))
	assert.Equal(t, 2, jobCount(&domain.BuildRequest{}, &config.Schema{
		Build: config.BuildSchema{Jobs: intPtr(2)},
	}))
	assert.Positive(t, jobCount(&domain.BuildRequest{}, &config.Schema{}))
}

func newSelectionSession(req *domain.BuildRequest) *session {
	alpha := mkMemberPkg("alpha")
	beta := mkMemberPkg("beta")
	return &session{
		req: req,
		ws: &domain.Workspace{
			Members:        []*domain.Package{alpha, beta},
			DefaultMembers: []*domain.Package{alpha},
		},
	}
}

func memberNames(pkgs []*domain.Package) []string {
	names := make([]string, len(pkgs))
	for i, p := range pkgs {
		names[i] = p.ID.Name()
	}
	return names
}

func TestSelectRoots_Default(t *testing.T) {
	s := newSelectionSession(&domain.BuildRequest{})
	roots, err := s.selectRoots()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, memberNames(roots))
}

func TestSelectRoots_WorkspaceWithExclude(t *testing.T) {
	s := newSelectionSession(&domain.BuildRequest{
		Packages: domain.PackageSelection{Workspace: true, Exclude: []string{"alpha"}},
	})
	roots, err := s.selectRoots()
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, memberNames(roots))
}

func TestSelectRoots_Specs(t *testing.T) {
	spec, err := domain.ParsePackageSpec("beta")
	require.NoError(t, err)
	s := newSelectionSession(&domain.BuildRequest{
		Packages: domain.PackageSelection{Specs: []domain.PackageSpec{spec}},
	})
	roots, err := s.selectRoots()
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, memberNames(roots))
}

func TestSelectRoots_SpecNotFound(t *testing.T) {
	spec, err := domain.ParsePackageSpec("gamma")
	require.NoError(t, err)
	s := newSelectionSession(&domain.BuildRequest{
		Packages: domain.PackageSelection{Specs: []domain.PackageSpec{spec}},
	})
	_, err = s.selectRoots()
	require.ErrorIs(t, err, domain.ErrPackageNotInWorkspace)
}

func TestProfiles_ConfigOverridesManifest(t *testing.T) {
	s := &session{
		req: &domain.BuildRequest{Mode: domain.ModeBuild},
		ws: &domain.Workspace{
			Overrides: domain.ProfileOverrides{
				"dev": {OptLevel: strPtr("1")},
			},
		},
		cfg: &config.Schema{
			Profile: map[string]*config.ProfileSchema{
				"dev": {OptLevel: strPtr("3")},
			},
		},
	}
	profiles, err := s.profiles()
	require.NoError(t, err)

	p := profiles.Get(mkMemberPkg("alpha").ID, true, domain.ProfileForTarget)
	assert.Equal(t, "3", p.OptLevel)
	assert.Equal(t, "debug", profiles.DirName())
}

func TestProfiles_ModeDefaults(t *testing.T) {
	s := &session{
		req: &domain.BuildRequest{Mode: domain.ModeBench},
		ws:  &domain.Workspace{},
		cfg: &config.Schema{},
	}
	profiles, err := s.profiles()
	require.NoError(t, err)
	assert.Equal(t, "bench", profiles.RequestedName())
	assert.Equal(t, "release", profiles.DirName())
}

func TestFeatureRequest_BehaviorAndDevDeps(t *testing.T) {
	s := &session{
		req: &domain.BuildRequest{Mode: domain.ModeTest},
		ws:  &domain.Workspace{Resolver: domain.ResolverFeatureIsolating},
		kinds: []domain.CompileKind{
			domain.CompileKindHost(),
		},
	}
	fr := s.featureRequest()
	assert.Equal(t, resolver.BehaviorIsolating, fr.Behavior)
	assert.True(t, fr.DevDeps)

	s.ws.Resolver = domain.ResolverClassic
	s.req.Mode = domain.ModeBuild
	fr = s.featureRequest()
	assert.Equal(t, resolver.BehaviorClassic, fr.Behavior)
	assert.False(t, fr.DevDeps)
}

func binUnit(name string, mode domain.CompileMode) *domain.Unit {
	return &domain.Unit{
		Pkg: mkMemberPkg(name),
		Target: &domain.Target{
			Kind:       domain.TargetKindBin,
			Name:       domain.NewInternedString(name),
			CrateTypes: []domain.CrateType{domain.CrateTypeBin},
		},
		Mode: mode,
	}
}

func TestLinkArgApplies(t *testing.T) {
	bin := binUnit("tool", domain.ModeBuild)
	other := binUnit("other", domain.ModeBuild)
	test := binUnit("tool", domain.ModeTest)
	check := binUnit("tool", domain.ModeCheck)

	all := domain.LinkerArg{Scope: domain.LinkArgScopeAll, Arg: "-s"}
	assert.True(t, linkArgApplies(bin, all))
	assert.False(t, linkArgApplies(check, all))

	single := domain.LinkerArg{Scope: domain.LinkArgScopeSingleBin, BinName: "tool", Arg: "-pie"}
	assert.True(t, linkArgApplies(bin, single))
	assert.False(t, linkArgApplies(other, single))

	tests := domain.LinkerArg{Scope: domain.LinkArgScopeTests, Arg: "-t"}
	assert.True(t, linkArgApplies(test, tests))
	assert.False(t, linkArgApplies(bin, tests))

	bins := domain.LinkerArg{Scope: domain.LinkArgScopeBins, Arg: "-b"}
	assert.True(t, linkArgApplies(bin, bins))
}

func TestStatusVerb(t *testing.T) {
	assert.Equal(t, "Compiling", statusVerb(domain.ModeBuild))
	assert.Equal(t, "Checking", statusVerb(domain.ModeCheck))
	assert.Equal(t, "Documenting", statusVerb(domain.ModeDoc))
	assert.Equal(t, "Compiling", statusVerb(domain.ModeTest))
}
