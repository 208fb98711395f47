package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"freight.build/freight/internal/adapters/manifest"
	"freight.build/freight/internal/adapters/registry"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
	"freight.build/freight/internal/core/ports/mocks"
)

const testIndexURL = "https://index.example.com/sparse"

func newRegistry(t *testing.T, home string, fetcher ports.Fetcher) *registry.Registry {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Verbose(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Status(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	log.EXPECT().Info(gomock.Any()).AnyTimes()
	return registry.New(log, manifest.NewParser(log), fetcher, home)
}

func mustVersion(t *testing.T, raw string) *semver.Version {
	t.Helper()
	v, err := semver.NewVersion(raw)
	require.NoError(t, err)
	return v
}

func writeIndexFile(t *testing.T, home, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(
		home, domain.RegistryIndexPath(),
		registry.RegistryDir(testIndexURL), registry.IndexEntryPath(name),
	)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	var data []byte
	for _, line := range lines {
		data = append(data, line...)
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeSourcePackage(t *testing.T, dir, manifestText string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(manifestText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib.rs"), nil, 0o644))
}

func indexDep(name, req string) domain.Dependency {
	return domain.NewDependency(name, domain.RegistrySource(testIndexURL), domain.MustVersionReq(req))
}

const serdeIndex = `{"name":"serde","vers":"1.0.100","deps":[],"cksum":"aa11","features":{},"yanked":false}
{"name":"serde","vers":"1.0.150","deps":[],"cksum":"bb22","features":{},"yanked":true}
{"name":"serde","vers":"1.0.200","deps":[{"name":"log","req":"^0.4","kind":"normal","default_features":false},{"name":"derive2","req":"=1.0.200","optional":true,"default_features":true,"package":"serde_derive"},{"name":"winapi","req":"^0.3","default_features":true,"target":"cfg(windows)"}],"cksum":"cc33","features":{"derive":["dep:derive2"]},"links":"","rust_version":"1.60"}`

func TestQuery_SparseIndex(t *testing.T) {
	home := t.TempDir()
	writeIndexFile(t, home, "serde", serdeIndex)
	r := newRegistry(t, home, nil)

	got, err := r.Query(t.Context(), indexDep("serde", "^1.0"), ports.QueryNormal)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.0.200", got[0].ID.Version().String())
	assert.Equal(t, "1.0.100", got[1].ID.Version().String())
	assert.Equal(t, "cc33", got[0].Checksum)

	deps := got[0].Dependencies
	require.Len(t, deps, 3)
	byName := map[string]domain.Dependency{}
	for _, d := range deps {
		byName[d.Name.String()] = d
	}
	assert.False(t, byName["log"].DefaultFeatures)
	assert.Equal(t, "serde_derive", byName["derive2"].PackageName.String())
	assert.True(t, byName["derive2"].ExplicitRename)
	assert.True(t, byName["derive2"].Optional)
	assert.NotNil(t, byName["winapi"].Platform)

	assert.True(t, got[0].Features.Has(domain.NewInternedString("derive")))
}

func TestQuery_ExactIncludesYanked(t *testing.T) {
	home := t.TempDir()
	writeIndexFile(t, home, "serde", serdeIndex)
	r := newRegistry(t, home, nil)

	got, err := r.Query(t.Context(), indexDep("serde", "=1.0.150"), ports.QueryExact)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Yanked)

	got, err = r.Query(t.Context(), indexDep("serde", "=1.0.150"), ports.QueryNormal)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQuery_OfflineMissingIndex(t *testing.T) {
	r := newRegistry(t, t.TempDir(), nil)
	r.SetOffline(true)

	_, err := r.Query(t.Context(), indexDep("serde", "^1.0"), ports.QueryNormal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFetchOffline))
}

func TestQuery_NoFetcherMissingIndex(t *testing.T) {
	r := newRegistry(t, t.TempDir(), nil)

	_, err := r.Query(t.Context(), indexDep("nope", "^1.0"), ports.QueryNormal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFetchNotFound))
}

func TestQuery_FetchesIndexOnMiss(t *testing.T) {
	home := t.TempDir()
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().
		FetchIndex(gomock.Any(), testIndexURL, "serde", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, destPath string) error {
			return os.WriteFile(destPath, []byte(serdeIndex), 0o644)
		})
	r := newRegistry(t, home, fetcher)

	got, err := r.Query(t.Context(), indexDep("serde", "^1.0"), ports.QueryNormal)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQuery_RetriesTransientFailures(t *testing.T) {
	home := t.TempDir()
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	calls := 0
	fetcher.EXPECT().
		FetchIndex(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, destPath string) error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return os.WriteFile(destPath, []byte(serdeIndex), 0o644)
		}).Times(3)
	r := newRegistry(t, home, fetcher)

	_, err := r.Query(t.Context(), indexDep("serde", "^1.0"), ports.QueryNormal)
	require.NoError(t, err)
}

func TestQuery_SummariesCached(t *testing.T) {
	home := t.TempDir()
	path := writeIndexFile(t, home, "serde", serdeIndex)
	r := newRegistry(t, home, nil)

	_, err := r.Query(t.Context(), indexDep("serde", "^1.0"), ports.QueryNormal)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	got, err := r.Query(t.Context(), indexDep("serde", "=1.0.100"), ports.QueryNormal)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQuery_PathSource(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "local")
	writeSourcePackage(t, dir, `
[package]
name = "local"
version = "0.3.0"
edition = "2021"
`)
	r := newRegistry(t, t.TempDir(), nil)

	dep := domain.NewDependency("local", domain.PathSource(dir), domain.AnyVersionReq())
	got, err := r.Query(t.Context(), dep, ports.QueryNormal)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0.3.0", got[0].ID.Version().String())
}

func TestGetPackage_RegistrySource(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, domain.RegistrySrcPath(), registry.RegistryDir(testIndexURL), "serde-1.0.200")
	writeSourcePackage(t, dir, `
[package]
name = "serde"
version = "1.0.200"
edition = "2018"
`)
	r := newRegistry(t, home, nil)

	source := domain.RegistrySource(testIndexURL)
	id := domain.NewPackageID("serde", mustVersion(t, "1.0.200"), source)
	pkg, err := r.GetPackage(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, id, pkg.ID)
	assert.Equal(t, id, pkg.Summary.ID)
	assert.NotNil(t, pkg.Library())
}

func TestGetPackage_FetchesSourcesOnMiss(t *testing.T) {
	home := t.TempDir()
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().
		FetchSource(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.PackageID, destDir string) error {
			writeSourcePackage(t, destDir, `
[package]
name = "log"
version = "0.4.21"
edition = "2015"
`)
			return nil
		})
	r := newRegistry(t, home, fetcher)

	id := domain.NewPackageID("log", mustVersion(t, "0.4.21"), domain.RegistrySource(testIndexURL))
	pkg, err := r.GetPackage(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, id, pkg.ID)
}

func TestGitSource_QueryAndGet(t *testing.T) {
	home := t.TempDir()
	rev := "0123456789abcdef0123456789abcdef01234567"
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().
		FetchGit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.SourceID, _, checkoutsDir string) (string, string, error) {
			dir := filepath.Join(checkoutsDir, rev[:7])
			writeSourcePackage(t, dir, `
[package]
name = "gitdep"
version = "2.0.0"
edition = "2021"
`)
			return dir, rev, nil
		})
	r := newRegistry(t, home, fetcher)

	source := domain.GitSource("https://example.com/gitdep.git", domain.GitReference{
		Kind: domain.GitReferenceBranch, Value: domain.NewInternedString("main"),
	})
	dep := domain.NewDependency("gitdep", source, domain.MustVersionReq("^2"))
	got, err := r.Query(t.Context(), dep, ports.QueryNormal)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rev, got[0].ID.Source().Precise())

	// The package loaded during the query is served without re-fetching.
	pkg, err := r.GetPackage(t.Context(), got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, got[0].ID, pkg.ID)
}

func TestGitSource_PinnedCheckoutUsedOffline(t *testing.T) {
	home := t.TempDir()
	rev := "fedcba9876543210fedcba9876543210fedcba98"
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().
		FetchGit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.SourceID, _, checkoutsDir string) (string, string, error) {
			dir := filepath.Join(checkoutsDir, rev[:7])
			writeSourcePackage(t, dir, `
[package]
name = "pinned"
version = "1.0.0"
edition = "2021"
`)
			return dir, rev, nil
		})

	source := domain.GitSource("https://example.com/pinned.git", domain.GitReference{})
	first := newRegistry(t, home, fetcher)
	dep := domain.NewDependency("pinned", source, domain.AnyVersionReq())
	got, err := first.Query(t.Context(), dep, ports.QueryNormal)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// A fresh registry in offline mode finds the pinned checkout on disk.
	second := newRegistry(t, home, nil)
	second.SetOffline(true)
	pinnedDep := dep
	pinnedDep.Source = got[0].ID.Source()
	again, err := second.Query(t.Context(), pinnedDep, ports.QueryNormal)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, got[0].ID, again[0].ID)
}

func TestGitSource_OfflineWithoutCheckout(t *testing.T) {
	r := newRegistry(t, t.TempDir(), nil)
	r.SetOffline(true)

	source := domain.GitSource("https://example.com/missing.git", domain.GitReference{})
	dep := domain.NewDependency("missing", source, domain.AnyVersionReq())
	_, err := r.Query(t.Context(), dep, ports.QueryNormal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFetchOffline))
}
