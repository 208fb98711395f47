package lockfile_test

import (
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight.build/freight/internal/adapters/lockfile"
	"freight.build/freight/internal/core/domain"
)

func version(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.NewVersion(s)
	require.NoError(t, err)
	return v
}

// fixtureResolve builds a small graph exercising every dependency
// spelling: unique name, name with two versions, git source with a
// pinned revision, and a sourceless workspace member.
func fixtureResolve(t *testing.T) (*domain.Resolve, *domain.Workspace) {
	t.Helper()

	app := domain.NewPackageID("app", version(t, "0.1.0"), domain.PathSource("/ws/app"))
	serde := domain.NewPackageID("serde", version(t, "1.0.200"), domain.DefaultRegistry())
	logNew := domain.NewPackageID("log", version(t, "0.4.21"), domain.DefaultRegistry())
	logOld := domain.NewPackageID("log", version(t, "0.3.9"), domain.DefaultRegistry())
	gitdep := domain.NewPackageID("gitdep", version(t, "1.2.3"),
		domain.GitSource("https://example.com/gitdep", domain.GitReference{
			Kind:  domain.GitReferenceBranch,
			Value: domain.NewInternedString("main"),
		}).WithPrecise("abcdef0123"))

	graph := map[domain.PackageID][]domain.ResolvedDep{
		app:    {{ID: serde}, {ID: logNew}, {ID: gitdep}},
		serde:  {{ID: logOld}},
		logNew: nil,
		logOld: nil,
		gitdep: nil,
	}
	checksums := map[domain.PackageID]string{
		serde:  "serdesum",
		logNew: "logsum0421",
		logOld: "logsum039",
	}
	resolve := domain.NewResolve(
		graph,
		make(map[domain.PackageID][]domain.InternedString),
		checksums,
		make(map[domain.PackageID]*domain.Summary),
		domain.DefaultLockfileVersion,
	)

	ws := &domain.Workspace{
		RootDir:      "/ws/app",
		LockfilePath: "/ws/app/Cargo.lock",
		Members: []*domain.Package{
			{ID: app, ManifestPath: "/ws/app/Cargo.toml"},
		},
	}
	return resolve, ws
}

func TestEncode_Golden(t *testing.T) {
	resolve, _ := fixtureResolve(t)

	g := goldie.New(t)
	g.Assert(t, "basic", lockfile.Encode(resolve))
}

func TestEncode_Deterministic(t *testing.T) {
	resolve, _ := fixtureResolve(t)
	first := lockfile.Encode(resolve)
	second := lockfile.Encode(resolve)
	assert.Equal(t, first, second)
}

func TestDecode_RoundTrip(t *testing.T) {
	resolve, ws := fixtureResolve(t)
	encoded := lockfile.Encode(resolve)

	decoded, err := lockfile.Decode(encoded, ws)
	require.NoError(t, err)

	assert.Equal(t, resolve.Version(), decoded.Version())
	assert.Equal(t, resolve.Len(), decoded.Len())
	assert.Equal(t, resolve.PackageIDs(), decoded.PackageIDs())
	for _, id := range resolve.PackageIDs() {
		assert.Equal(t, resolve.Checksum(id), decoded.Checksum(id), id.String())
		require.Len(t, decoded.Deps(id), len(resolve.Deps(id)), id.String())
		for i, dep := range resolve.Deps(id) {
			assert.Equal(t, dep.ID, decoded.Deps(id)[i].ID)
		}
	}

	// Re-encoding the decoded resolve reproduces the bytes exactly.
	assert.Equal(t, encoded, lockfile.Encode(decoded))
}

func TestDecode_VersionTooNew(t *testing.T) {
	_, ws := fixtureResolve(t)
	_, err := lockfile.Decode([]byte("version = 5\n"), ws)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLockfile))
}

func TestDecode_StalePathEntryDropped(t *testing.T) {
	_, ws := fixtureResolve(t)
	data := []byte(`version = 3

[[package]]
name = "app"
version = "0.1.0"
dependencies = [
 "gone",
]

[[package]]
name = "gone"
version = "0.9.0"
`)

	decoded, err := lockfile.Decode(data, ws)
	require.NoError(t, err)

	// "gone" is a sourceless entry with no matching member: dropped,
	// along with the dangling dependency reference.
	require.Equal(t, 1, decoded.Len())
	app := decoded.PackageIDs()[0]
	assert.Equal(t, "app", app.Name())
	assert.Empty(t, decoded.Deps(app))
}

func TestDecode_V1MetadataChecksums(t *testing.T) {
	_, ws := fixtureResolve(t)
	data := []byte(`[[package]]
name = "serde"
version = "1.0.200"
source = "registry+https://github.com/rust-lang/crates.io-index"

[metadata]
"checksum serde 1.0.200 (registry+https://github.com/rust-lang/crates.io-index)" = "legacysum"
`)

	decoded, err := lockfile.Decode(data, ws)
	require.NoError(t, err)
	require.Equal(t, 1, decoded.Len())
	assert.Equal(t, "legacysum", decoded.Checksum(decoded.PackageIDs()[0]))
	assert.Equal(t, 1, decoded.Version())
}

func TestStore_SaveAndLoad(t *testing.T) {
	resolve, _ := fixtureResolve(t)

	dir := t.TempDir()
	ws := &domain.Workspace{
		RootDir:      dir,
		LockfilePath: dir + "/Cargo.lock",
		Members: []*domain.Package{
			{
				ID:           domain.NewPackageID("app", version(t, "0.1.0"), domain.PathSource(dir)),
				ManifestPath: dir + "/Cargo.toml",
			},
		},
	}

	store := lockfile.NewStore(noopLogger{})
	require.NoError(t, store.Save(ws, resolve))

	loaded, err := store.Load(ws)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, resolve.Len(), loaded.Len())

	// Saving the identical resolve again must be a no-op write.
	require.NoError(t, store.Save(ws, resolve))
}

func TestStore_LoadMissing(t *testing.T) {
	dir := t.TempDir()
	ws := &domain.Workspace{RootDir: dir, LockfilePath: dir + "/Cargo.lock"}

	loaded, err := lockfile.NewStore(noopLogger{}).Load(ws)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

type noopLogger struct{}

func (noopLogger) Info(string)            {}
func (noopLogger) Warn(string)            {}
func (noopLogger) Error(error)            {}
func (noopLogger) Status(string, string)  {}
func (noopLogger) Verbose(string, string) {}
