package domain

import "sort"

// Lockfile schema versions. Version 3 is written by default; version 4 is
// read and preserved.
const (
	DefaultLockfileVersion      = 3
	MaxSupportedLockfileVersion = 4
)

// ResolvedDep is one outgoing edge of a resolved package: the selected
// dependency package and the declared edges it satisfies.
type ResolvedDep struct {
	// ID is the selected package.
	ID PackageID

	// Edges are the declarations this selection satisfies. A package
	// can satisfy several edges at once (e.g. a normal and a dev edge).
	Edges []Dependency
}

// Resolve is the output of dependency resolution: the exact package set,
// their edges, the features activated on each package, and registry
// checksums. A resolve is immutable once built.
type Resolve struct {
	graph     map[PackageID][]ResolvedDep
	features  map[PackageID][]InternedString
	checksums map[PackageID]string
	summaries map[PackageID]*Summary
	version   int
}

// NewResolve assembles a resolve from its parts. Edge lists and feature
// lists are sorted for deterministic iteration.
func NewResolve(
	graph map[PackageID][]ResolvedDep,
	features map[PackageID][]InternedString,
	checksums map[PackageID]string,
	summaries map[PackageID]*Summary,
	version int,
) *Resolve {
	for id, deps := range graph {
		sort.SliceStable(deps, func(i, j int) bool {
			return ComparePackageIDs(deps[i].ID, deps[j].ID) < 0
		})
		graph[id] = deps
	}
	for id, feats := range features {
		sort.Slice(feats, func(i, j int) bool {
			return feats[i].String() < feats[j].String()
		})
		features[id] = feats
	}
	return &Resolve{
		graph:     graph,
		features:  features,
		checksums: checksums,
		summaries: summaries,
		version:   version,
	}
}

// WithFeatures returns a copy of the resolve carrying the given feature
// activations.
func (r *Resolve) WithFeatures(features map[PackageID][]InternedString) *Resolve {
	return NewResolve(r.graph, features, r.checksums, r.summaries, r.version)
}

// Version returns the lockfile schema version of the resolve.
func (r *Resolve) Version() int { return r.version }

// Contains reports whether the package was selected.
func (r *Resolve) Contains(id PackageID) bool {
	_, ok := r.graph[id]
	return ok
}

// PackageIDs returns every selected package in stable order.
func (r *Resolve) PackageIDs() []PackageID {
	ids := make([]PackageID, 0, len(r.graph))
	for id := range r.graph {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ComparePackageIDs(ids[i], ids[j]) < 0
	})
	return ids
}

// Len returns the number of selected packages.
func (r *Resolve) Len() int { return len(r.graph) }

// Deps returns the outgoing edges of a package in stable order.
func (r *Resolve) Deps(id PackageID) []ResolvedDep {
	return r.graph[id]
}

// Features returns the activated features of a package in sorted order.
func (r *Resolve) Features(id PackageID) []InternedString {
	return r.features[id]
}

// Checksum returns the registry archive digest of a package, or empty.
func (r *Resolve) Checksum(id PackageID) string {
	return r.checksums[id]
}

// Summary returns the summary the package was resolved from, or nil when
// the resolve was loaded from a lockfile without querying sources.
func (r *Resolve) Summary(id PackageID) *Summary {
	return r.summaries[id]
}

// QueryByName returns the selected packages with the given name.
func (r *Resolve) QueryByName(name InternedString) []PackageID {
	var ids []PackageID
	for id := range r.graph {
		if id.InternedName() == name {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return ComparePackageIDs(ids[i], ids[j]) < 0
	})
	return ids
}
