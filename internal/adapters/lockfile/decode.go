package lockfile

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// lockfileTOML is the decoded document shape.
type lockfileTOML struct {
	Version  int               `toml:"version"`
	Package  []lockPackageTOML `toml:"package"`
	Metadata map[string]string `toml:"metadata"`
}

// lockPackageTOML is one [[package]] block. Source is empty for
// workspace path packages.
type lockPackageTOML struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source"`
	Checksum     string   `toml:"checksum"`
	Dependencies []string `toml:"dependencies"`
}

// Decode parses lockfile bytes into a resolve. Entries without a source
// are matched against the workspace members by name; stale path entries
// that no longer match a member are dropped, the way a fresh resolve
// would drop them.
func Decode(data []byte, ws *domain.Workspace) (*domain.Resolve, error) {
	var doc lockfileTOML
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, zerr.Wrap(domain.ErrLockfile, err.Error())
	}
	if doc.Version > domain.MaxSupportedLockfileVersion {
		return nil, zerr.With(zerr.Wrap(domain.ErrLockfile, "lockfile version is newer than this tool supports"), "version", doc.Version)
	}
	version := doc.Version
	if version == 0 {
		version = 1
	}

	memberDirs := make(map[domain.InternedString]string, len(ws.Members))
	for _, member := range ws.Members {
		memberDirs[member.ID.InternedName()] = member.Root()
	}

	ids := make([]domain.PackageID, 0, len(doc.Package))
	entries := make(map[domain.PackageID]lockPackageTOML, len(doc.Package))
	byName := make(map[string][]domain.PackageID)
	for _, entry := range doc.Package {
		version, err := semver.NewVersion(entry.Version)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(domain.ErrLockfile, "invalid package version"), "package", entry.Name)
		}
		var source domain.SourceID
		if entry.Source != "" {
			source, err = domain.ParseSourceID(entry.Source)
			if err != nil {
				return nil, zerr.With(zerr.Wrap(domain.ErrLockfile, err.Error()), "package", entry.Name)
			}
		} else {
			dir, isMember := memberDirs[domain.NewInternedString(entry.Name)]
			if !isMember {
				continue
			}
			source = domain.PathSource(dir)
		}
		id := domain.NewPackageID(entry.Name, version, source)
		ids = append(ids, id)
		entries[id] = entry
		byName[entry.Name] = append(byName[entry.Name], id)
	}

	graph := make(map[domain.PackageID][]domain.ResolvedDep, len(ids))
	checksums := make(map[domain.PackageID]string)
	for _, id := range ids {
		entry := entries[id]
		graph[id] = nil
		if entry.Checksum != "" {
			checksums[id] = entry.Checksum
		}
		for _, spelling := range entry.Dependencies {
			dep, err := matchDependency(spelling, byName)
			if err != nil {
				return nil, zerr.With(err, "package", id.String())
			}
			if dep.IsZero() {
				// Reference to an entry that was dropped above.
				continue
			}
			graph[id] = append(graph[id], domain.ResolvedDep{ID: dep})
		}
	}

	// The v1 metadata table spells checksums as
	// "checksum <name> <version> (<source>)" = "<digest>".
	for key, digest := range doc.Metadata {
		spelling, ok := strings.CutPrefix(key, "checksum ")
		if !ok || digest == "<none>" {
			continue
		}
		id, err := matchDependency(spelling, byName)
		if err != nil || id.IsZero() {
			continue
		}
		checksums[id] = digest
	}

	return domain.NewResolve(
		graph,
		make(map[domain.PackageID][]domain.InternedString),
		checksums,
		make(map[domain.PackageID]*domain.Summary),
		version,
	), nil
}

// matchDependency resolves one dependency spelling, "name", "name
// version" or "name version (source)", against the decoded package set.
func matchDependency(spelling string, byName map[string][]domain.PackageID) (domain.PackageID, error) {
	name := spelling
	version := ""
	source := ""
	if before, after, found := strings.Cut(spelling, " "); found {
		name = before
		version = after
		if v, s, hasSource := strings.Cut(version, " ("); hasSource {
			version = v
			source = strings.TrimSuffix(s, ")")
		}
	}

	candidates := byName[name]
	if len(candidates) == 0 {
		return domain.PackageID{}, nil
	}

	var matched []domain.PackageID
	for _, id := range candidates {
		if version != "" && id.Version().String() != version {
			continue
		}
		if source != "" && id.Source().String() != source {
			continue
		}
		matched = append(matched, id)
	}
	switch len(matched) {
	case 0:
		return domain.PackageID{}, nil
	case 1:
		return matched[0], nil
	}
	return domain.PackageID{}, zerr.With(zerr.Wrap(domain.ErrLockfile, "ambiguous dependency entry"), "dependency", spelling)
}
