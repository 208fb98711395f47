package registry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// indexEntry is one line of a sparse index file: one published version.
type indexEntry struct {
	Name        string              `json:"name"`
	Vers        string              `json:"vers"`
	Deps        []indexDep          `json:"deps"`
	Cksum       string              `json:"cksum"`
	Features    map[string][]string `json:"features"`
	Features2   map[string][]string `json:"features2"`
	Yanked      bool                `json:"yanked"`
	Links       string              `json:"links"`
	RustVersion string              `json:"rust_version"`
}

// indexDep is one dependency edge as published in the index. Name carries
// the rename when Package is set.
type indexDep struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          *string  `json:"target"`
	Kind            string   `json:"kind"`
	Registry        *string  `json:"registry"`
	Package         string   `json:"package"`
}

// indexCandidates reads every published version of the package from the
// local sparse index mirror, fetching the index file on a miss.
func (r *Registry) indexCandidates(ctx context.Context, dep domain.Dependency) ([]*domain.Summary, error) {
	indexURL := dep.Source.URL()
	name := dep.PackageName.String()
	path := filepath.Join(r.home, domain.RegistryIndexPath(), RegistryDir(indexURL), IndexEntryPath(name))

	data, err := os.ReadFile(path) //nolint:gosec // path under cache root
	if os.IsNotExist(err) {
		if err := r.fetchIndexFile(ctx, indexURL, name, path); err != nil {
			return nil, err
		}
		data, err = os.ReadFile(path) //nolint:gosec // path under cache root
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrFetch, err.Error()), "path", path)
	}
	return r.parseIndexData(data, dep.Source.WithoutPrecise())
}

func (r *Registry) fetchIndexFile(ctx context.Context, indexURL, name, path string) error {
	if r.offline {
		return zerr.With(zerr.Wrap(domain.ErrFetchOffline, "can't query the registry index in offline mode"), "registry", indexURL)
	}
	if r.fetcher == nil {
		return zerr.With(zerr.Wrap(domain.ErrFetchNotFound, "package is not in the local index mirror"), "name", name)
	}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return zerr.Wrap(domain.ErrIo, err.Error())
	}
	r.logger.Status("Updating", registryDisplayName(indexURL)+" index")
	return r.withRetry(ctx, func() error {
		return r.fetcher.FetchIndex(ctx, indexURL, name, path)
	})
}

// parseIndexData converts the JSON-lines index file into summaries, one
// per published version. Malformed lines fail the whole file.
func (r *Registry) parseIndexData(data []byte, source domain.SourceID) ([]*domain.Summary, error) {
	var all []*domain.Summary
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry indexEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, zerr.Wrap(domain.ErrFetch, "malformed index entry: "+err.Error())
		}
		summary, err := entry.toSummary(source)
		if err != nil {
			return nil, err
		}
		all = append(all, summary)
	}
	if err := scanner.Err(); err != nil {
		return nil, zerr.Wrap(domain.ErrFetch, err.Error())
	}
	return all, nil
}

func (e *indexEntry) toSummary(source domain.SourceID) (*domain.Summary, error) {
	version, err := semver.NewVersion(e.Vers)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrFetch, "index entry has an invalid version"), "version", e.Vers)
	}
	deps := make([]domain.Dependency, 0, len(e.Deps))
	for _, d := range e.Deps {
		dep, err := d.toDependency(source)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}

	declared := make(map[string][]string, len(e.Features)+len(e.Features2))
	for name, values := range e.Features {
		declared[name] = values
	}
	for name, values := range e.Features2 {
		declared[name] = append(declared[name], values...)
	}

	var rustVersion *semver.Version
	if e.RustVersion != "" {
		rustVersion, _ = semver.NewVersion(e.RustVersion)
	}

	id := domain.NewPackageID(e.Name, version, source)
	summary, err := domain.NewSummary(id, deps, declared, e.Links, rustVersion)
	if err != nil {
		return nil, err
	}
	summary.Checksum = e.Cksum
	summary.Yanked = e.Yanked
	return summary, nil
}

func (d *indexDep) toDependency(containing domain.SourceID) (domain.Dependency, error) {
	req, err := domain.NewVersionReq(d.Req)
	if err != nil {
		return domain.Dependency{}, zerr.With(zerr.Wrap(domain.ErrFetch, "index entry has an invalid requirement"), "req", d.Req)
	}

	source := containing
	if d.Registry != nil && *d.Registry != "" {
		source = domain.RegistrySource(*d.Registry)
	}

	packageName := d.Name
	renamed := false
	if d.Package != "" {
		packageName = d.Package
		renamed = d.Package != d.Name
	}

	dep := domain.NewDependency(d.Name, source, req)
	dep.PackageName = domain.NewInternedString(packageName)
	dep.ExplicitRename = renamed
	dep.Optional = d.Optional
	dep.DefaultFeatures = d.DefaultFeatures
	dep.Features = domain.NewInternedStrings(d.Features)

	switch d.Kind {
	case "", "normal":
		dep.Kind = domain.DepKindNormal
	case "build":
		dep.Kind = domain.DepKindBuild
	case "dev":
		dep.Kind = domain.DepKindDev
	default:
		return domain.Dependency{}, zerr.With(zerr.Wrap(domain.ErrFetch, "index entry has an unknown dependency kind"), "kind", d.Kind)
	}

	if d.Target != nil && *d.Target != "" {
		platform, err := domain.ParsePlatform(*d.Target)
		if err != nil {
			return domain.Dependency{}, err
		}
		dep.Platform = platform
	}
	return dep, nil
}

// registryPackage loads the extracted sources of a registry package,
// fetching the archive on a miss.
func (r *Registry) registryPackage(ctx context.Context, id domain.PackageID) (*domain.Package, error) {
	dir := filepath.Join(
		r.home, domain.RegistrySrcPath(),
		RegistryDir(id.Source().URL()),
		id.Name()+"-"+id.Version().String(),
	)
	manifestPath := filepath.Join(dir, domain.ManifestFileName)
	if !fileExists(manifestPath) {
		if err := r.fetchSource(ctx, id, dir); err != nil {
			return nil, err
		}
	}

	pkg, err := r.parser.ParsePackage(manifestPath)
	if err != nil {
		return nil, err
	}
	rebindPackage(pkg, id)
	return pkg, nil
}

func (r *Registry) fetchSource(ctx context.Context, id domain.PackageID, dir string) error {
	if r.offline {
		return zerr.Wrap(domain.ErrFetchOffline, "can't download packages in offline mode")
	}
	if r.fetcher == nil {
		return zerr.Wrap(domain.ErrFetchNotFound, "package sources are not in the local cache")
	}
	r.logger.Status("Downloading", id.String())
	return r.withRetry(ctx, func() error {
		return r.fetcher.FetchSource(ctx, id, dir)
	})
}

// rebindPackage replaces the path identity the manifest parser assigned
// with the remote identity the package was fetched under.
func rebindPackage(pkg *domain.Package, id domain.PackageID) {
	pkg.ID = id
	pkg.Summary.ID = id
}

// registryDirName is the cache directory for one registry: the index host
// plus a hash of the full URL, so distinct registries never collide.
func RegistryDir(indexURL string) string {
	return registryDisplayName(indexURL) + "-" + hashHex(indexURL)
}

func hashHex(s string) string {
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64String(s))
	return hex.EncodeToString(sum[:])
}

// registryDisplayName returns the host part of an index URL.
func registryDisplayName(indexURL string) string {
	rest := indexURL
	if _, after, ok := strings.Cut(rest, "://"); ok {
		rest = after
	}
	if host, _, ok := strings.Cut(rest, "/"); ok {
		return host
	}
	return rest
}

// indexEntryPath is the sparse index layout: short names get numbered
// directories, longer names shard on their first four characters.
func IndexEntryPath(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 0:
		return lower
	case 1:
		return filepath.Join("1", lower)
	case 2:
		return filepath.Join("2", lower)
	case 3:
		return filepath.Join("3", lower[:1], lower)
	default:
		return filepath.Join(lower[:2], lower[2:4], lower)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
