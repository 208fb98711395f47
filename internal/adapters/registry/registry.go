// Package registry implements the package source variants: local path
// directories, sparse registry indexes and git checkouts. All variants
// read from the shared package cache; a Fetcher collaborator performs the
// actual transfers when something is missing.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// summaryCacheSize bounds the number of (source, name) query results kept
// in memory.
const summaryCacheSize = 512

// ManifestParser loads a full package from an on-disk manifest.
type ManifestParser interface {
	ParsePackage(path string) (*domain.Package, error)
}

// Registry dispatches queries to the source variant named by each
// dependency and caches what the variants return.
type Registry struct {
	logger  ports.Logger
	parser  ManifestParser
	fetcher ports.Fetcher

	// home is the package cache root, normally $CARGO_HOME.
	home    string
	offline bool
	retries int

	summaries *lru.Cache[string, []*domain.Summary]

	mu       sync.Mutex
	packages map[domain.PackageID]*domain.Package
}

// New creates a registry reading the package cache under home. A nil
// fetcher restricts the registry to already-cached data.
func New(logger ports.Logger, parser ManifestParser, fetcher ports.Fetcher, home string) *Registry {
	cache, _ := lru.New[string, []*domain.Summary](summaryCacheSize)
	return &Registry{
		logger:    logger,
		parser:    parser,
		fetcher:   fetcher,
		home:      home,
		retries:   3,
		summaries: cache,
		packages:  make(map[domain.PackageID]*domain.Package),
	}
}

// SetOffline forbids every transfer; missing cache entries become errors.
func (r *Registry) SetOffline(offline bool) { r.offline = offline }

// SetRetries sets how often a transient fetch failure is retried.
func (r *Registry) SetRetries(n int) { r.retries = n }

// SetFetcher installs the transfer collaborator.
func (r *Registry) SetFetcher(f ports.Fetcher) { r.fetcher = f }

// Query returns the summaries matching the dependency, newest version
// first.
func (r *Registry) Query(ctx context.Context, dep domain.Dependency, kind ports.QueryKind) ([]*domain.Summary, error) {
	all, err := r.candidates(ctx, dep)
	if err != nil {
		return nil, err
	}
	matched := make([]*domain.Summary, 0, len(all))
	for _, s := range all {
		if s.Yanked && kind != ports.QueryExact {
			continue
		}
		if !dep.Req.Matches(s.ID.Version()) {
			continue
		}
		matched = append(matched, s)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ID.Version().GreaterThan(matched[j].ID.Version())
	})
	return matched, nil
}

// GetPackage fetches and loads the full package for an identifier
// previously returned by Query.
func (r *Registry) GetPackage(ctx context.Context, id domain.PackageID) (*domain.Package, error) {
	r.mu.Lock()
	if pkg, ok := r.packages[id]; ok {
		r.mu.Unlock()
		return pkg, nil
	}
	r.mu.Unlock()

	var pkg *domain.Package
	var err error
	switch id.Source().Kind() {
	case domain.SourceKindPath:
		pkg, err = r.pathPackage(id)
	case domain.SourceKindRegistry:
		pkg, err = r.registryPackage(ctx, id)
	case domain.SourceKindGit:
		pkg, err = r.gitPackage(ctx, id)
	default:
		err = zerr.With(zerr.Wrap(domain.ErrFetch, "unsupported source kind"), "source", id.Source().String())
	}
	if err != nil {
		return nil, zerr.With(err, "package", id.String())
	}

	r.mu.Lock()
	r.packages[id] = pkg
	r.mu.Unlock()
	return pkg, nil
}

// candidates returns every known version for the dependency's package,
// including yanked ones, from the per-source cache.
func (r *Registry) candidates(ctx context.Context, dep domain.Dependency) ([]*domain.Summary, error) {
	key := dep.Source.WithoutPrecise().String() + "|" + dep.PackageName.String()
	if cached, ok := r.summaries.Get(key); ok {
		return cached, nil
	}

	var all []*domain.Summary
	var err error
	switch dep.Source.Kind() {
	case domain.SourceKindPath:
		all, err = r.pathCandidates(dep)
	case domain.SourceKindRegistry:
		all, err = r.indexCandidates(ctx, dep)
	case domain.SourceKindGit:
		all, err = r.gitCandidates(ctx, dep)
	default:
		err = zerr.With(zerr.Wrap(domain.ErrFetch, "unsupported source kind"), "source", dep.Source.String())
	}
	if err != nil {
		return nil, zerr.With(err, "dependency", dep.PackageName.String())
	}
	r.summaries.Add(key, all)
	return all, nil
}

// withRetry runs a transfer, retrying transient failures. Definitive
// failures (not found, checksum mismatch, offline) abort immediately.
func (r *Registry) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrFetchNotFound) ||
			errors.Is(err, domain.ErrFetchChecksum) ||
			errors.Is(err, domain.ErrFetchOffline) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < r.retries {
			r.logger.Warn("spurious network error, retrying: " + err.Error())
		}
	}
	return err
}
