package domain

import (
	"sort"

	"go.trai.ch/zerr"
)

// ResolverVersion selects how features unify across the dependency graph.
type ResolverVersion uint8

const (
	// ResolverClassic unifies features globally: every activation of a
	// package anywhere in the graph is merged into one feature set.
	ResolverClassic ResolverVersion = iota

	// ResolverFeatureIsolating keeps host and target activations apart
	// and stops dev-dependency features from leaking into normal builds
	// of non-member packages.
	ResolverFeatureIsolating
)

// ParseResolverVersion parses the manifest resolver field.
func ParseResolverVersion(s string) (ResolverVersion, error) {
	switch s {
	case "1":
		return ResolverClassic, nil
	case "2", "3":
		// Resolver "3" only changes default-version selection policy, the
		// feature unification behavior is that of "2".
		return ResolverFeatureIsolating, nil
	}
	return 0, zerr.With(zerr.Wrap(ErrManifest, "unknown resolver version"), "resolver", s)
}

// DefaultResolverVersion returns the resolver implied by an edition when
// the manifest does not set one.
func DefaultResolverVersion(e Edition) ResolverVersion {
	switch e {
	case Edition2015, Edition2018:
		return ResolverClassic
	}
	return ResolverFeatureIsolating
}

// Workspace is the loaded build tree: its member packages and the shared
// settings resolution and planning operate under.
type Workspace struct {
	// RootDir is the directory holding the root manifest.
	RootDir string

	// RootManifestPath is the manifest the workspace was discovered from.
	RootManifestPath string

	// Members are the workspace packages, sorted by name.
	Members []*Package

	// DefaultMembers are the packages operated on when no package filter
	// is given.
	DefaultMembers []*Package

	// Current is the member whose directory the command ran in, or nil
	// at the root of a virtual workspace.
	Current *Package

	// Resolver selects the feature unification behavior.
	Resolver ResolverVersion

	// TargetDir is the absolute build output directory.
	TargetDir string

	// LockfilePath is the absolute lockfile location.
	LockfilePath string

	// Overrides are the merged [profile.*] sections of the root manifest.
	Overrides ProfileOverrides
}

// SortMembers puts the member lists into name order. Called once by the
// loader after discovery.
func (w *Workspace) SortMembers() {
	byName := func(members []*Package) {
		sort.SliceStable(members, func(i, j int) bool {
			return ComparePackageIDs(members[i].ID, members[j].ID) < 0
		})
	}
	byName(w.Members)
	byName(w.DefaultMembers)
}

// IsMember reports whether the package is a workspace member.
func (w *Workspace) IsMember(id PackageID) bool {
	for _, m := range w.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Member returns the member with the given name.
func (w *Workspace) Member(name string) (*Package, error) {
	interned := NewInternedString(name)
	for _, m := range w.Members {
		if m.ID.InternedName() == interned {
			return m, nil
		}
	}
	return nil, zerr.With(ErrPackageNotInWorkspace, "package", name)
}

// MemberByID returns the member with the given identity.
func (w *Workspace) MemberByID(id PackageID) (*Package, error) {
	for _, m := range w.Members {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, zerr.With(ErrPackageNotInWorkspace, "package", id.String())
}
