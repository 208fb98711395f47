package domain_test

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight.build/freight/internal/core/domain"
)

func ptr[T any](v T) *T { return &v }

func TestProfiles_Builtin(t *testing.T) {
	tests := []struct {
		name        string
		requested   string
		wantDir     string
		wantOpt     string
		wantDebug   uint32
		wantAsserts bool
		wantIncr    bool
	}{
		{name: "dev", requested: "dev", wantDir: "debug", wantOpt: "0", wantDebug: 2, wantAsserts: true, wantIncr: true},
		{name: "release", requested: "release", wantDir: "release", wantOpt: "3"},
		{name: "test inherits dev", requested: "test", wantDir: "debug", wantOpt: "0", wantDebug: 2, wantAsserts: true, wantIncr: true},
		{name: "bench inherits release", requested: "bench", wantDir: "release", wantOpt: "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := domain.NewProfiles(tt.requested, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDir, ps.DirName())

			pkg := domain.NewPackageID("app", semver.MustParse("0.1.0"), domain.PathSource("/work/app"))
			p := ps.Get(pkg, true, domain.ProfileForTarget)
			assert.Equal(t, tt.wantOpt, p.OptLevel)
			assert.Equal(t, tt.wantDebug, p.Debug)
			assert.Equal(t, tt.wantAsserts, p.DebugAssertions)
			assert.Equal(t, tt.wantIncr, p.Incremental)
			assert.Equal(t, domain.PanicUnwind, p.Panic)
		})
	}
}

func TestProfiles_Overrides(t *testing.T) {
	overrides := domain.ProfileOverrides{
		"release": {
			Lto:   ptr(domain.LtoThin),
			Debug: ptr(uint32(1)),
			Package: map[string]*domain.ProfileModifier{
				"*":     {OptLevel: ptr("2")},
				"image": {OptLevel: ptr("3"), CodegenUnits: ptr(uint32(1))},
			},
			BuildOverride: &domain.ProfileModifier{OptLevel: ptr("0")},
		},
	}
	ps, err := domain.NewProfiles("release", overrides)
	require.NoError(t, err)

	member := domain.NewPackageID("app", semver.MustParse("0.1.0"), domain.PathSource("/work/app"))
	dep := domain.NewPackageID("other", semver.MustParse("1.0.0"), domain.DefaultRegistry())
	image := domain.NewPackageID("image", semver.MustParse("2.0.0"), domain.DefaultRegistry())

	memberProfile := ps.Get(member, true, domain.ProfileForTarget)
	assert.Equal(t, "3", memberProfile.OptLevel, "wildcard must not touch members")
	assert.Equal(t, domain.LtoThin, memberProfile.Lto)
	assert.Equal(t, uint32(1), memberProfile.Debug)

	depProfile := ps.Get(dep, false, domain.ProfileForTarget)
	assert.Equal(t, "2", depProfile.OptLevel, "wildcard applies to non-members")

	imageProfile := ps.Get(image, false, domain.ProfileForTarget)
	assert.Equal(t, "3", imageProfile.OptLevel, "exact override wins over wildcard")
	assert.Equal(t, uint32(1), imageProfile.CodegenUnits)

	hostProfile := ps.Get(member, true, domain.ProfileForHost)
	assert.Equal(t, "0", hostProfile.OptLevel, "build-override applies to host units")
	assert.False(t, hostProfile.Incremental)
	assert.Equal(t, domain.PanicUnwind, hostProfile.Panic)
}

func TestProfiles_PanicForcedForTests(t *testing.T) {
	overrides := domain.ProfileOverrides{
		"dev": {Panic: ptr(domain.PanicAbort)},
	}

	ps, err := domain.NewProfiles("dev", overrides)
	require.NoError(t, err)
	pkg := domain.NewPackageID("app", semver.MustParse("0.1.0"), domain.PathSource("/work/app"))
	assert.Equal(t, domain.PanicAbort, ps.Get(pkg, true, domain.ProfileForTarget).Panic)

	ps, err = domain.NewProfiles("test", overrides)
	require.NoError(t, err)
	assert.Equal(t, domain.PanicUnwind, ps.Get(pkg, true, domain.ProfileForTarget).Panic)

	assert.Equal(t, domain.PanicUnwind, ps.Get(pkg, true, domain.ProfileForHost).Panic)
}

func TestProfiles_CustomInherits(t *testing.T) {
	overrides := domain.ProfileOverrides{
		"production": {
			Inherits: "release",
			Lto:      ptr(domain.LtoFat),
		},
	}

	ps, err := domain.NewProfiles("production", overrides)
	require.NoError(t, err)
	assert.Equal(t, "production", ps.DirName())

	pkg := domain.NewPackageID("app", semver.MustParse("0.1.0"), domain.PathSource("/work/app"))
	p := ps.Get(pkg, true, domain.ProfileForTarget)
	assert.Equal(t, "3", p.OptLevel)
	assert.Equal(t, domain.LtoFat, p.Lto)
	assert.Equal(t, "production", p.Name)
}

func TestProfiles_Errors(t *testing.T) {
	_, err := domain.NewProfiles("missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProfile)

	_, err = domain.NewProfiles("loop", domain.ProfileOverrides{
		"loop": {Inherits: "loop"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProfile)

	_, err = domain.NewProfiles("custom", domain.ProfileOverrides{
		"custom": {},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProfile)
}
