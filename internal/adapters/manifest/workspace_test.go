package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"freight.build/freight/internal/adapters/manifest"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports/mocks"
)

func newWorkspaceLoader(t *testing.T) *manifest.Loader {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Verbose(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	return manifest.NewLoader(log, manifest.NewParser(log))
}

func memberNames(members []*domain.Package) []string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.ID.Name()
	}
	return names
}

func TestLoad_StandalonePackage(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `
[package]
name = "solo"
version = "0.1.0"
edition = "2021"
`, "src/lib.rs")

	ws, err := newWorkspaceLoader(t).Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, ws.RootDir)
	assert.Equal(t, []string{"solo"}, memberNames(ws.Members))
	assert.Equal(t, []string{"solo"}, memberNames(ws.DefaultMembers))
	require.NotNil(t, ws.Current)
	assert.Equal(t, "solo", ws.Current.ID.Name())
	assert.Equal(t, domain.ResolverFeatureIsolating, ws.Resolver)
	assert.Equal(t, filepath.Join(dir, "target"), ws.TargetDir)
	assert.Equal(t, filepath.Join(dir, "Cargo.lock"), ws.LockfilePath)
}

func TestLoad_VirtualWorkspace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(`
[workspace]
members = ["crates/*"]
exclude = ["crates/skipped"]
resolver = "2"
`), 0o600))

	writePackage(t, filepath.Join(root, "crates", "alpha"), `
[package]
name = "alpha"
version = "0.1.0"
`, "src/lib.rs")
	writePackage(t, filepath.Join(root, "crates", "beta"), `
[package]
name = "beta"
version = "0.2.0"
`, "src/lib.rs")
	writePackage(t, filepath.Join(root, "crates", "skipped"), `
[package]
name = "skipped"
version = "0.1.0"
`, "src/lib.rs")

	ws, err := newWorkspaceLoader(t).Load(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, memberNames(ws.Members))
	assert.Equal(t, []string{"alpha", "beta"}, memberNames(ws.DefaultMembers))
	assert.Nil(t, ws.Current)
	assert.Equal(t, domain.ResolverFeatureIsolating, ws.Resolver)
}

func TestLoad_RootDiscoveredFromMemberDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(`
[workspace]
members = ["crates/*"]
`), 0o600))
	memberDir := filepath.Join(root, "crates", "alpha")
	writePackage(t, memberDir, `
[package]
name = "alpha"
version = "0.1.0"
`, "src/lib.rs")

	ws, err := newWorkspaceLoader(t).Load(memberDir)
	require.NoError(t, err)

	assert.Equal(t, root, ws.RootDir)
	require.NotNil(t, ws.Current)
	assert.Equal(t, "alpha", ws.Current.ID.Name())
}

func TestLoad_RootPackageWithMembers(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, `
[package]
name = "app"
version = "1.0.0"
edition = "2018"

[workspace]
members = ["lib-a"]
`, "src/main.rs")
	writePackage(t, filepath.Join(root, "lib-a"), `
[package]
name = "lib-a"
version = "0.1.0"
`, "src/lib.rs")

	ws, err := newWorkspaceLoader(t).Load(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"app", "lib-a"}, memberNames(ws.Members))
	// Non-virtual workspace defaults to the root package.
	assert.Equal(t, []string{"app"}, memberNames(ws.DefaultMembers))
	assert.Equal(t, domain.ResolverClassic, ws.Resolver)
}

func TestLoad_DefaultMembersFilter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(`
[workspace]
members = ["crates/*"]
default-members = ["crates/beta"]
`), 0o600))
	writePackage(t, filepath.Join(root, "crates", "alpha"), `
[package]
name = "alpha"
version = "0.1.0"
`, "src/lib.rs")
	writePackage(t, filepath.Join(root, "crates", "beta"), `
[package]
name = "beta"
version = "0.1.0"
`, "src/lib.rs")

	ws, err := newWorkspaceLoader(t).Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, memberNames(ws.DefaultMembers))
}

func TestLoad_WorkspaceDependencyInheritance(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(`
[workspace]
members = ["member"]

[workspace.dependencies]
serde = { version = "1.0.200", default-features = false }
`), 0o600))
	writePackage(t, filepath.Join(root, "member"), `
[package]
name = "member"
version = "0.1.0"

[dependencies]
serde = { workspace = true, features = ["derive"] }
`, "src/lib.rs")

	ws, err := newWorkspaceLoader(t).Load(root)
	require.NoError(t, err)

	member, err := ws.Member("member")
	require.NoError(t, err)
	deps := member.Dependencies()
	require.Len(t, deps, 1)

	serde := deps[0]
	assert.Equal(t, "serde", serde.Name.String())
	assert.False(t, serde.DefaultFeatures)
	require.Len(t, serde.Features, 1)
	assert.Equal(t, "derive", serde.Features[0].String())
	assert.True(t, serde.Req.Matches(mustVersion(t, "1.0.201")))
}

func TestLoad_NoManifest(t *testing.T) {
	_, err := newWorkspaceLoader(t).Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWorkspaceNotFound))
}

func mustVersion(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.NewVersion(s)
	require.NoError(t, err)
	return v
}
