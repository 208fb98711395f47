package ports

import (
	"context"

	"freight.build/freight/internal/core/domain"
)

// Fetcher obtains remote source data into the local package cache. The
// registry layer owns the cache layout and decides when a fetch is
// needed; implementations only perform the transfer.
//
//go:generate mockgen -source=fetcher.go -destination=mocks/mock_fetcher.go -package=mocks
type Fetcher interface {
	// FetchIndex writes the sparse index entry file for one package name
	// of the registry at indexURL to destPath.
	FetchIndex(ctx context.Context, indexURL, name, destPath string) error

	// FetchSource materializes the sources of a registry package under
	// destDir, verified against its archive checksum.
	FetchSource(ctx context.Context, id domain.PackageID, destDir string) error

	// FetchGit clones or updates the repository into dbDir, checks out
	// the requested reference under checkoutsDir, and returns the
	// checkout directory together with the precise revision.
	FetchGit(ctx context.Context, source domain.SourceID, dbDir, checkoutsDir string) (string, string, error)
}
