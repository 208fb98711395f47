package registry

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// shortRevLen is the revision prefix used for checkout directory names.
const shortRevLen = 7

// gitCandidates loads the packages of a git checkout and returns the
// summaries matching the dependency's package name. Git sources carry
// exactly one version per package, pinned to the checked-out revision.
func (r *Registry) gitCandidates(ctx context.Context, dep domain.Dependency) ([]*domain.Summary, error) {
	dir, precise, err := r.ensureCheckout(ctx, dep.Source)
	if err != nil {
		return nil, err
	}

	pinned := dep.Source.WithPrecise(precise)
	pkgs, err := r.scanRepository(dir)
	if err != nil {
		return nil, err
	}
	var all []*domain.Summary
	for _, pkg := range pkgs {
		if pkg.ID.InternedName() != dep.PackageName {
			continue
		}
		id := domain.NewPackageID(pkg.ID.Name(), pkg.ID.Version(), pinned)
		rebindPackage(pkg, id)
		all = append(all, pkg.Summary)

		r.mu.Lock()
		r.packages[id] = pkg
		r.mu.Unlock()
	}
	if len(all) == 0 {
		return nil, zerr.With(zerr.Wrap(domain.ErrFetchNotFound, "repository contains no package with the requested name"), "url", dep.Source.URL())
	}
	return all, nil
}

func (r *Registry) gitPackage(ctx context.Context, id domain.PackageID) (*domain.Package, error) {
	dir, precise, err := r.ensureCheckout(ctx, id.Source())
	if err != nil {
		return nil, err
	}
	if want := id.Source().Precise(); want != "" && want != precise {
		return nil, zerr.With(zerr.With(
			zerr.Wrap(domain.ErrFetch, "checkout revision does not match the pinned revision"),
			"want", want), "got", precise)
	}

	pkgs, err := r.scanRepository(dir)
	if err != nil {
		return nil, err
	}
	for _, pkg := range pkgs {
		if pkg.ID.InternedName() == id.InternedName() {
			rebindPackage(pkg, id)
			return pkg, nil
		}
	}
	return nil, zerr.With(zerr.Wrap(domain.ErrFetchNotFound, "repository contains no package with the requested name"), "url", id.Source().URL())
}

// ensureCheckout returns the working copy for a git source, fetching when
// the revision is not yet checked out. A pinned revision already on disk
// never touches the network.
func (r *Registry) ensureCheckout(ctx context.Context, source domain.SourceID) (string, string, error) {
	repoDir := gitRepoDirName(source.URL())
	dbDir := filepath.Join(r.home, domain.GitDBPath(), repoDir)
	checkoutsDir := filepath.Join(r.home, domain.GitCheckoutsPath(), repoDir)

	if precise := source.Precise(); precise != "" {
		dir := filepath.Join(checkoutsDir, shortRev(precise))
		if fileExists(filepath.Join(dir, domain.ManifestFileName)) || dirExists(dir) {
			return dir, precise, nil
		}
	}

	if r.offline {
		return "", "", zerr.With(zerr.Wrap(domain.ErrFetchOffline, "can't checkout git sources in offline mode"), "url", source.URL())
	}
	if r.fetcher == nil {
		return "", "", zerr.With(zerr.Wrap(domain.ErrFetchNotFound, "git checkout is not in the local cache"), "url", source.URL())
	}

	r.logger.Status("Updating", "git repository `"+source.URL()+"`")
	var dir, precise string
	err := r.withRetry(ctx, func() error {
		var err error
		dir, precise, err = r.fetcher.FetchGit(ctx, source, dbDir, checkoutsDir)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return dir, precise, nil
}

// scanRepository parses every manifest in a checkout, skipping nested
// build output and git metadata.
func (r *Registry) scanRepository(root string) ([]*domain.Package, error) {
	var pkgs []*domain.Package
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == ".git" || name == domain.TargetDirName) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != domain.ManifestFileName {
			return nil
		}
		pkg, err := r.parser.ParsePackage(path)
		if err != nil {
			if errors.Is(err, domain.ErrVirtualManifest) {
				return nil
			}
			return err
		}
		pkgs = append(pkgs, pkg)
		return nil
	})
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrFetch, err.Error()), "dir", root)
	}
	return pkgs, nil
}

// gitRepoDirName is the cache directory for one repository: its final
// path segment plus a hash of the URL.
func gitRepoDirName(repoURL string) string {
	trimmed := strings.TrimSuffix(repoURL, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	name := trimmed
	if idx := strings.LastIndexAny(trimmed, "/:"); idx >= 0 {
		name = trimmed[idx+1:]
	}
	if name == "" {
		name = "repo"
	}
	return name + "-" + hashHex(repoURL)
}

func shortRev(rev string) string {
	if len(rev) > shortRevLen {
		return rev[:shortRevLen]
	}
	return rev
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
