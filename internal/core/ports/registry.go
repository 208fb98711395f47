package ports

import (
	"context"

	"freight.build/freight/internal/core/domain"
)

// QueryKind controls which candidate versions a registry query returns.
type QueryKind uint8

const (
	// QueryNormal returns versions matching the requirement, without
	// yanked versions.
	QueryNormal QueryKind = iota

	// QueryExact additionally returns yanked versions, used when a
	// lockfile already pins them.
	QueryExact
)

// Registry answers version queries and loads packages across every
// configured source.
//
//go:generate mockgen -source=registry.go -destination=mocks/mock_registry.go -package=mocks
type Registry interface {
	// Query returns the summaries matching the dependency, newest
	// version first.
	Query(ctx context.Context, dep domain.Dependency, kind QueryKind) ([]*domain.Summary, error)

	// GetPackage fetches and loads the full package for an identifier
	// previously returned by Query.
	GetPackage(ctx context.Context, id domain.PackageID) (*domain.Package, error)
}
