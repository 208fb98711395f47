package buildscript_test

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/engine/buildscript"
)

func makeRunUnit(root, links string, features []string) *domain.Unit {
	pkg := &domain.Package{
		ID:           domain.NewPackageID("zlib-sys", semver.MustParse("1.4.2"), domain.PathSource(root)),
		ManifestPath: root + "/Cargo.toml",
		Edition:      domain.Edition2021,
		Links:        links,
	}
	target := &domain.Target{
		Kind:    domain.TargetKindCustomBuild,
		Name:    domain.NewInternedString("build-script-build"),
		SrcPath: root + "/build.rs",
		Edition: domain.Edition2021,
	}
	return domain.NewUnitInterner().Intern(
		pkg, target, domain.DefaultDevProfile(), domain.CompileKindHost(),
		domain.ModeRunCustomBuild, domain.NewInternedStrings(features), "",
	)
}

func envMap(t *testing.T, env []domain.EnvVar) map[string]string {
	t.Helper()
	m := make(map[string]string, len(env))
	for _, v := range env {
		_, dup := m[v.Key]
		require.False(t, dup, "duplicate env key %s", v.Key)
		m[v.Key] = v.Value
	}
	return m
}

func TestEnv_Contract(t *testing.T) {
	u := makeRunUnit("/ws/zlib-sys", "z", []string{"static", "asm-optimized"})

	env := envMap(t, buildscript.Env(buildscript.EnvInput{
		Unit:       u,
		OutDir:     "/ws/target/debug/build/zlib-sys-abc/out",
		HostTriple: "x86_64-unknown-linux-gnu",
		Target: domain.PlatformInfo{
			Triple: "aarch64-unknown-linux-gnu",
			Cfg: []domain.CfgValue{
				{Name: "unix"},
				{Name: "target_os", Value: "linux", IsPair: true},
				{Name: "target_pointer_width", Value: "64", IsPair: true},
			},
		},
		Jobs: 8,
	}))

	assert.Equal(t, "/ws/target/debug/build/zlib-sys-abc/out", env["OUT_DIR"])
	assert.Equal(t, "aarch64-unknown-linux-gnu", env["TARGET"])
	assert.Equal(t, "x86_64-unknown-linux-gnu", env["HOST"])
	assert.Equal(t, "8", env["NUM_JOBS"])
	assert.Equal(t, "0", env["OPT_LEVEL"])
	assert.Equal(t, "debug", env["PROFILE"])
	assert.Equal(t, "true", env["DEBUG"])
	assert.Equal(t, "/ws/zlib-sys", env["CARGO_MANIFEST_DIR"])
	assert.Equal(t, "z", env["CARGO_MANIFEST_LINKS"])
	assert.Equal(t, "zlib-sys", env["CARGO_PKG_NAME"])
	assert.Equal(t, "1.4.2", env["CARGO_PKG_VERSION"])
	assert.Equal(t, "1", env["CARGO_PKG_VERSION_MAJOR"])
	assert.Equal(t, "1", env["CARGO_FEATURE_STATIC"])
	assert.Equal(t, "1", env["CARGO_FEATURE_ASM_OPTIMIZED"])
	assert.Equal(t, "", env["CARGO_CFG_UNIX"])
	assert.Equal(t, "linux", env["CARGO_CFG_TARGET_OS"])
	assert.Equal(t, "64", env["CARGO_CFG_TARGET_POINTER_WIDTH"])
}

func TestEnv_MultiValuedCfg(t *testing.T) {
	u := makeRunUnit("/ws/zlib-sys", "", nil)

	env := envMap(t, buildscript.Env(buildscript.EnvInput{
		Unit:       u,
		HostTriple: "x86_64-unknown-linux-gnu",
		Target: domain.PlatformInfo{
			Triple: "x86_64-unknown-linux-gnu",
			Cfg: []domain.CfgValue{
				{Name: "target_feature", Value: "sse", IsPair: true},
				{Name: "target_feature", Value: "sse2", IsPair: true},
				{Name: "debug_assertions"},
			},
		},
		Jobs: 1,
	}))

	assert.Equal(t, "sse,sse2", env["CARGO_CFG_TARGET_FEATURE"])
	assert.NotContains(t, env, "CARGO_CFG_DEBUG_ASSERTIONS")
	assert.NotContains(t, env, "CARGO_MANIFEST_LINKS")
}

func TestEnv_DependencyMetadata(t *testing.T) {
	u := makeRunUnit("/ws/app", "", nil)

	env := envMap(t, buildscript.Env(buildscript.EnvInput{
		Unit:       u,
		HostTriple: "x86_64-unknown-linux-gnu",
		Target:     domain.PlatformInfo{Triple: "x86_64-unknown-linux-gnu"},
		Jobs:       1,
		Deps: []buildscript.DepMetadata{
			{Links: "z", Metadata: []domain.EnvVar{
				{Key: "include", Value: "/opt/zlib/include"},
				{Key: "root", Value: "/opt/zlib"},
			}},
			{Links: "openssl-sys", Metadata: []domain.EnvVar{
				{Key: "version", Value: "3.0"},
			}},
		},
	}))

	assert.Equal(t, "/opt/zlib/include", env["DEP_Z_INCLUDE"])
	assert.Equal(t, "/opt/zlib", env["DEP_Z_ROOT"])
	assert.Equal(t, "3.0", env["DEP_OPENSSL_SYS_VERSION"])
}

func TestEnv_PackageMetadata(t *testing.T) {
	root := "/ws/zlib-sys"
	pkg := &domain.Package{
		ID:           domain.NewPackageID("zlib-sys", semver.MustParse("1.4.2"), domain.PathSource(root)),
		ManifestPath: root + "/Cargo.toml",
		Authors:      []string{"Ada Lovelace <ada@example.com>", "Charles Babbage"},
		Description:  "Bindings to the system zlib",
	}
	target := &domain.Target{
		Kind: domain.TargetKindCustomBuild,
		Name: domain.NewInternedString("build-script-build"),
	}
	u := domain.NewUnitInterner().Intern(
		pkg, target, domain.DefaultDevProfile(), domain.CompileKindHost(),
		domain.ModeRunCustomBuild, nil, "",
	)

	env := envMap(t, buildscript.Env(buildscript.EnvInput{
		Unit:       u,
		HostTriple: "x86_64-unknown-linux-gnu",
		Target:     domain.PlatformInfo{Triple: "x86_64-unknown-linux-gnu"},
		Jobs:       1,
	}))

	assert.Equal(t, "Ada Lovelace <ada@example.com>:Charles Babbage", env["CARGO_PKG_AUTHORS"])
	assert.Equal(t, "Bindings to the system zlib", env["CARGO_PKG_DESCRIPTION"])
}

func TestEnv_ReleaseProfile(t *testing.T) {
	root := "/ws/zlib-sys"
	pkg := &domain.Package{
		ID:           domain.NewPackageID("zlib-sys", semver.MustParse("1.4.2"), domain.PathSource(root)),
		ManifestPath: root + "/Cargo.toml",
	}
	target := &domain.Target{
		Kind: domain.TargetKindCustomBuild,
		Name: domain.NewInternedString("build-script-build"),
	}
	profile := domain.DefaultReleaseProfile()
	u := domain.NewUnitInterner().Intern(
		pkg, target, profile, domain.CompileKindHost(),
		domain.ModeRunCustomBuild, nil, "",
	)

	env := envMap(t, buildscript.Env(buildscript.EnvInput{
		Unit:       u,
		HostTriple: "x86_64-unknown-linux-gnu",
		Target:     domain.PlatformInfo{Triple: "x86_64-unknown-linux-gnu"},
		Jobs:       4,
	}))

	assert.Equal(t, "3", env["OPT_LEVEL"])
	assert.Equal(t, "release", env["PROFILE"])
	assert.Equal(t, "false", env["DEBUG"])
}
