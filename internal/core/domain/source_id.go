package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// ErrSourceID is returned when a serialized source identifier does not parse.
var ErrSourceID = zerr.New("invalid source identifier")

// DefaultRegistryURL is the index location of the default package registry.
const DefaultRegistryURL = "https://github.com/rust-lang/crates.io-index"

// DefaultRegistryName is the configuration name of the default registry.
const DefaultRegistryName = "crates-io"

// SourceKind classifies where a package comes from.
type SourceKind uint8

const (
	// SourceKindPath is a package in a local directory.
	SourceKindPath SourceKind = iota

	// SourceKindRegistry is a package from a versioned registry index.
	SourceKindRegistry

	// SourceKindGit is a package checked out from a git repository.
	SourceKindGit
)

// String returns the serialization prefix for the kind.
func (k SourceKind) String() string {
	switch k {
	case SourceKindPath:
		return "path"
	case SourceKindRegistry:
		return "registry"
	case SourceKindGit:
		return "git"
	}
	return "unknown"
}

// GitReferenceKind selects how a git source names its revision.
type GitReferenceKind uint8

const (
	// GitReferenceDefaultBranch follows the remote HEAD.
	GitReferenceDefaultBranch GitReferenceKind = iota

	// GitReferenceBranch follows a named branch.
	GitReferenceBranch

	// GitReferenceTag pins a tag.
	GitReferenceTag

	// GitReferenceRev pins an explicit revision.
	GitReferenceRev
)

// GitReference is the requested revision of a git source. The zero value
// follows the default branch.
type GitReference struct {
	Kind  GitReferenceKind
	Value InternedString
}

// SourceID identifies a package source. It is a small comparable value and
// is used directly as a map key throughout resolution. The precise revision
// participates in equality, so callers comparing across lockfile
// generations use SameAs instead of ==.
type SourceID struct {
	kind    SourceKind
	url     InternedString
	gitRef  GitReference
	precise InternedString
}

// PathSource returns the source identifier for a local directory. The
// directory must already be absolute and cleaned.
func PathSource(dir string) SourceID {
	return SourceID{kind: SourceKindPath, url: NewInternedString(dir)}
}

// RegistrySource returns the source identifier for a registry index URL.
func RegistrySource(indexURL string) SourceID {
	return SourceID{kind: SourceKindRegistry, url: NewInternedString(indexURL)}
}

// DefaultRegistry returns the source identifier of the default registry.
func DefaultRegistry() SourceID {
	return RegistrySource(DefaultRegistryURL)
}

// GitSource returns the source identifier of a git repository at the given
// reference.
func GitSource(repoURL string, ref GitReference) SourceID {
	return SourceID{kind: SourceKindGit, url: NewInternedString(repoURL), gitRef: ref}
}

// Kind returns the source kind.
func (s SourceID) Kind() SourceKind { return s.kind }

// URL returns the source location: a directory for path sources, an index
// URL for registries, a repository URL for git sources.
func (s SourceID) URL() string { return s.url.String() }

// GitRef returns the requested git reference. Meaningful only for git
// sources.
func (s SourceID) GitRef() GitReference { return s.gitRef }

// Precise returns the pinned revision, or the empty string when unpinned.
func (s SourceID) Precise() string { return s.precise.String() }

// WithPrecise returns a copy pinned to the given revision.
func (s SourceID) WithPrecise(rev string) SourceID {
	s.precise = NewInternedString(rev)
	return s
}

// WithoutPrecise returns a copy with the revision pin removed.
func (s SourceID) WithoutPrecise() SourceID {
	s.precise = InternedString{}
	return s
}

// IsPath reports whether the source is a local directory.
func (s SourceID) IsPath() bool { return s.kind == SourceKindPath }

// IsRegistry reports whether the source is a registry.
func (s SourceID) IsRegistry() bool { return s.kind == SourceKindRegistry }

// IsGit reports whether the source is a git repository.
func (s SourceID) IsGit() bool { return s.kind == SourceKindGit }

// IsDefaultRegistry reports whether the source is the default registry.
func (s SourceID) IsDefaultRegistry() bool {
	return s.kind == SourceKindRegistry && s.url.String() == DefaultRegistryURL
}

// IsRemote reports whether obtaining packages from the source may require
// network access.
func (s SourceID) IsRemote() bool { return s.kind != SourceKindPath }

// SameAs reports whether two identifiers name the same source, ignoring
// any precise revision pin.
func (s SourceID) SameAs(other SourceID) bool {
	return s.WithoutPrecise() == other.WithoutPrecise()
}

// String returns the canonical serialization, e.g.
// "registry+https://github.com/rust-lang/crates.io-index" or
// "git+https://example.com/repo?branch=main#0f2e6a4".
func (s SourceID) String() string {
	var b strings.Builder
	b.WriteString(s.kind.String())
	b.WriteByte('+')
	b.WriteString(s.url.String())
	if s.kind == SourceKindGit {
		switch s.gitRef.Kind {
		case GitReferenceBranch:
			b.WriteString("?branch=" + s.gitRef.Value.String())
		case GitReferenceTag:
			b.WriteString("?tag=" + s.gitRef.Value.String())
		case GitReferenceRev:
			b.WriteString("?rev=" + s.gitRef.Value.String())
		}
		if !s.precise.IsEmpty() {
			b.WriteString("#" + s.precise.String())
		}
	}
	return b.String()
}

// ParseSourceID parses the canonical serialization produced by String.
func ParseSourceID(raw string) (SourceID, error) {
	kindStr, rest, ok := strings.Cut(raw, "+")
	if !ok {
		return SourceID{}, zerr.With(ErrSourceID, "source", raw)
	}
	switch kindStr {
	case "path":
		return PathSource(rest), nil
	case "registry":
		return RegistrySource(rest), nil
	case "git":
		var precise string
		if u, frag, found := strings.Cut(rest, "#"); found {
			rest, precise = u, frag
		}
		ref := GitReference{}
		if u, query, found := strings.Cut(rest, "?"); found {
			rest = u
			key, value, _ := strings.Cut(query, "=")
			switch key {
			case "branch":
				ref = GitReference{Kind: GitReferenceBranch, Value: NewInternedString(value)}
			case "tag":
				ref = GitReference{Kind: GitReferenceTag, Value: NewInternedString(value)}
			case "rev":
				ref = GitReference{Kind: GitReferenceRev, Value: NewInternedString(value)}
			default:
				return SourceID{}, zerr.With(ErrSourceID, "source", raw)
			}
		}
		id := GitSource(rest, ref)
		if precise != "" {
			id = id.WithPrecise(precise)
		}
		return id, nil
	}
	return SourceID{}, zerr.With(ErrSourceID, "source", raw)
}

// MarshalText implements encoding.TextMarshaler.
func (s SourceID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SourceID) UnmarshalText(text []byte) error {
	id, err := ParseSourceID(string(text))
	if err != nil {
		return err
	}
	*s = id
	return nil
}
