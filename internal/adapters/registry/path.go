package registry

import (
	"path/filepath"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// pathCandidates loads the single package living at the dependency's
// directory. Path sources never have alternative versions.
func (r *Registry) pathCandidates(dep domain.Dependency) ([]*domain.Summary, error) {
	pkg, err := r.loadPathPackage(dep.Source.URL())
	if err != nil {
		return nil, err
	}
	if pkg.ID.InternedName() != dep.PackageName {
		return nil, zerr.With(zerr.With(
			zerr.Wrap(domain.ErrResolution, "path dependency names a different package"),
			"expected", dep.PackageName.String()),
			"found", pkg.ID.Name())
	}
	return []*domain.Summary{pkg.Summary}, nil
}

func (r *Registry) pathPackage(id domain.PackageID) (*domain.Package, error) {
	return r.loadPathPackage(id.Source().URL())
}

func (r *Registry) loadPathPackage(dir string) (*domain.Package, error) {
	return r.parser.ParsePackage(filepath.Join(dir, domain.ManifestFileName))
}
