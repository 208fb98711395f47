package layout_test

import (
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"freight.build/freight/internal/adapters/layout"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports/mocks"
)

func newLayout(t *testing.T, targetDir string, kind domain.CompileKind, profileDir string) *layout.Layout {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Status(gomock.Any(), gomock.Any()).AnyTimes()
	return layout.New(log, targetDir, kind, profileDir)
}

func fixtureUnit(t *testing.T, mode domain.CompileMode, features ...string) *domain.Unit {
	t.Helper()
	version := semver.MustParse("1.2.3")
	pkg := &domain.Package{
		ID: domain.NewPackageID("my-app", version, domain.PathSource("/ws/my-app")),
	}
	target := &domain.Target{
		Kind: domain.TargetKindLib,
		Name: domain.NewInternedString("my-app"),
	}
	return domain.NewUnitInterner().Intern(
		pkg, target, domain.DefaultDevProfile(), domain.CompileKindHost(),
		mode, domain.NewInternedStrings(features), "",
	)
}

func TestLayout_HostTree(t *testing.T) {
	l := newLayout(t, "/ws/target", domain.CompileKindHost(), "debug")

	assert.Equal(t, "/ws/target", l.Root())
	assert.Equal(t, filepath.Join("/ws/target", "debug"), l.Dest())
	assert.Equal(t, filepath.Join("/ws/target", "debug", "deps"), l.DepsDir())
	assert.Equal(t, filepath.Join("/ws/target", "debug", "build"), l.BuildDir())
	assert.Equal(t, filepath.Join("/ws/target", "debug", ".fingerprint"), l.FingerprintDir())
	assert.Equal(t, filepath.Join("/ws/target", "debug", "examples"), l.ExamplesDir())
	assert.Equal(t, filepath.Join("/ws/target", "doc"), l.DocDir())
}

func TestLayout_TripleTree(t *testing.T) {
	kind := domain.CompileKindTarget("x86_64-unknown-linux-gnu")
	l := newLayout(t, "/ws/target", kind, "release")

	assert.Equal(t, filepath.Join("/ws/target", "x86_64-unknown-linux-gnu", "release"), l.Dest())
	// Documentation stays at the root, outside the triple subtree.
	assert.Equal(t, filepath.Join("/ws/target", "doc"), l.DocDir())
}

func TestLayout_UnitDirs(t *testing.T) {
	l := newLayout(t, "/ws/target", domain.CompileKindHost(), "debug")
	u := fixtureUnit(t, domain.ModeBuild)

	name := layout.UnitDirName(u)
	assert.True(t, len(name) > len("my_app-"))
	assert.Contains(t, name, "my_app-")

	assert.Equal(t, filepath.Join(l.BuildDir(), name), l.UnitBuildDir(u))
	assert.Equal(t, filepath.Join(l.UnitBuildDir(u), "out"), l.OutDir(u))
	assert.Equal(t, filepath.Join(l.FingerprintDir(), name), l.UnitFingerprintDir(u))
}

func TestUnitHash_Distinguishes(t *testing.T) {
	build := fixtureUnit(t, domain.ModeBuild)
	check := fixtureUnit(t, domain.ModeCheck)
	featured := fixtureUnit(t, domain.ModeBuild, "extra")

	assert.NotEqual(t, layout.UnitHash(build), layout.UnitHash(check))
	assert.NotEqual(t, layout.UnitHash(build), layout.UnitHash(featured))
}

func TestUnitHash_Stable(t *testing.T) {
	assert.Equal(t,
		layout.UnitHash(fixtureUnit(t, domain.ModeBuild, "a", "b")),
		layout.UnitHash(fixtureUnit(t, domain.ModeBuild, "b", "a")),
	)
}

func TestLayout_PrepareCreatesTreeAndLocks(t *testing.T) {
	targetDir := filepath.Join(t.TempDir(), "target")
	l := newLayout(t, targetDir, domain.CompileKindHost(), "debug")

	require.NoError(t, l.Prepare(t.Context()))
	defer l.Release()

	assert.DirExists(t, l.DepsDir())
	assert.DirExists(t, l.BuildDir())
	assert.DirExists(t, l.FingerprintDir())
	assert.DirExists(t, l.ExamplesDir())
	assert.FileExists(t, filepath.Join(l.Dest(), ".cargo-lock"))
}

func TestLayout_ReleaseAllowsNextBuild(t *testing.T) {
	targetDir := t.TempDir()
	first := newLayout(t, targetDir, domain.CompileKindHost(), "debug")
	require.NoError(t, first.Prepare(t.Context()))
	first.Release()

	second := newLayout(t, targetDir, domain.CompileKindHost(), "debug")
	require.NoError(t, second.Prepare(t.Context()))
	second.Release()
}
