package manifest

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Loader discovers and loads the workspace containing a directory.
type Loader struct {
	parser *Parser
	logger ports.Logger
}

// NewLoader creates a new workspace Loader.
func NewLoader(logger ports.Logger, parser *Parser) *Loader {
	return &Loader{parser: parser, logger: logger}
}

// Load walks up from cwd to the nearest manifest, determines the
// workspace root and loads every member package.
func (l *Loader) Load(cwd string) (*domain.Workspace, error) {
	cwd, err := filepath.Abs(cwd)
	if err != nil {
		return nil, zerr.Wrap(domain.ErrWorkspaceNotFound, err.Error())
	}

	nearest, err := findManifest(cwd)
	if err != nil {
		return nil, err
	}

	rootManifest, err := l.findRoot(nearest)
	if err != nil {
		return nil, err
	}
	rootDir := filepath.Dir(rootManifest)

	rootRaw, err := decodeManifest(rootManifest)
	if err != nil {
		return nil, err
	}

	var wsInfo *workspaceInfo
	if rootRaw.Workspace != nil {
		wsInfo = &workspaceInfo{deps: rootRaw.Workspace.Dependencies, dir: rootDir}
	}

	memberDirs, err := l.memberDirs(rootDir, rootRaw)
	if err != nil {
		return nil, err
	}

	ws := &domain.Workspace{
		RootDir:          rootDir,
		RootManifestPath: rootManifest,
		TargetDir:        filepath.Join(rootDir, domain.TargetDirName),
		LockfilePath:     filepath.Join(rootDir, domain.LockFileName),
	}

	var rootPkg *domain.Package
	for _, dir := range memberDirs {
		doc, err := l.parser.parseDocument(filepath.Join(dir, domain.ManifestFileName), wsInfo)
		if err != nil {
			return nil, err
		}
		if doc.pkg == nil {
			continue
		}
		if len(doc.raw.Profile) > 0 && dir != rootDir {
			l.logger.Warn("profiles for the non root package will be ignored: " + doc.pkg.ID.Name())
		}
		ws.Members = append(ws.Members, doc.pkg)
		if dir == rootDir {
			rootPkg = doc.pkg
		}
	}
	if len(ws.Members) == 0 {
		return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "workspace has no members"), "root", rootDir)
	}

	ws.DefaultMembers, err = defaultMembers(ws.Members, rootDir, rootRaw, rootPkg)
	if err != nil {
		return nil, err
	}
	ws.Current = currentMember(ws.Members, cwd, rootDir, rootPkg)

	ws.Resolver, err = resolverVersion(rootRaw, rootPkg)
	if err != nil {
		return nil, err
	}

	if rootPkg != nil {
		ws.Overrides = rootPkg.Profiles
	} else if len(rootRaw.Profile) > 0 {
		ws.Overrides, err = parseProfiles(rootRaw.Profile)
		if err != nil {
			return nil, err
		}
	}

	ws.SortMembers()
	return ws, nil
}

// findManifest returns the nearest manifest in dir or any ancestor.
func findManifest(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, domain.ManifestFileName)
		if fileExists(candidate) {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", zerr.With(domain.ErrWorkspaceNotFound, "cwd", dir)
		}
		dir = parent
	}
}

// findRoot decides the workspace root for the nearest manifest: the
// manifest itself when it declares a workspace, otherwise the closest
// ancestor manifest whose member globs select the nearest directory.
func (l *Loader) findRoot(nearest string) (string, error) {
	raw, err := decodeManifest(nearest)
	if err != nil {
		return "", err
	}
	if raw.Workspace != nil {
		return nearest, nil
	}

	pkgDir := filepath.Dir(nearest)
	dir := filepath.Dir(pkgDir)
	for {
		candidate := filepath.Join(dir, domain.ManifestFileName)
		if fileExists(candidate) {
			ancestor, err := decodeManifest(candidate)
			if err != nil {
				return "", err
			}
			if ancestor.Workspace != nil && selectsMember(dir, ancestor.Workspace, pkgDir) {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nearest, nil
		}
		dir = parent
	}
}

// selectsMember reports whether a workspace at rootDir includes pkgDir.
func selectsMember(rootDir string, ws *workspaceTOML, pkgDir string) bool {
	rel, err := filepath.Rel(rootDir, pkgDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if matchesAny(ws.Exclude, rel) {
		return false
	}
	return matchesAny(ws.Members, rel)
}

func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(filepath.ToSlash(pattern), rel); err == nil && ok {
			return true
		}
		if pattern == rel {
			return true
		}
	}
	return false
}

// memberDirs expands the member globs into package directories. The root
// package directory is always included when the root manifest declares a
// package.
func (l *Loader) memberDirs(rootDir string, rootRaw *manifestTOML) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		dir = filepath.Clean(dir)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	if rootRaw.Package != nil {
		add(rootDir)
	}
	if rootRaw.Workspace == nil {
		return dirs, nil
	}

	for _, pattern := range rootRaw.Workspace.Members {
		matches, err := filepath.Glob(filepath.Join(rootDir, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "invalid members pattern"), "pattern", pattern)
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || !info.IsDir() {
				continue
			}
			if !fileExists(filepath.Join(match, domain.ManifestFileName)) {
				continue
			}
			rel, err := filepath.Rel(rootDir, match)
			if err != nil || matchesAny(rootRaw.Workspace.Exclude, filepath.ToSlash(rel)) {
				continue
			}
			add(match)
		}
	}
	return dirs, nil
}

// defaultMembers resolves the default-members globs, falling back to the
// root package or, for virtual workspaces, every member.
func defaultMembers(members []*domain.Package, rootDir string, rootRaw *manifestTOML, rootPkg *domain.Package) ([]*domain.Package, error) {
	var patterns []string
	if rootRaw.Workspace != nil {
		patterns = rootRaw.Workspace.DefaultMembers
	}
	if len(patterns) == 0 {
		if rootPkg != nil {
			return []*domain.Package{rootPkg}, nil
		}
		return members, nil
	}

	var selected []*domain.Package
	for _, member := range members {
		rel, err := filepath.Rel(rootDir, member.Root())
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if rel == "." && rootPkg != nil && member == rootPkg {
			rel = ""
		}
		if matchesAny(patterns, rel) {
			selected = append(selected, member)
		}
	}
	if len(selected) == 0 {
		return nil, zerr.Wrap(domain.ErrManifest, "default-members matches no workspace member")
	}
	return selected, nil
}

// currentMember picks the member whose directory contains cwd, preferring
// the deepest match. Nil at the root of a virtual workspace.
func currentMember(members []*domain.Package, cwd, rootDir string, rootPkg *domain.Package) *domain.Package {
	var best *domain.Package
	bestLen := -1
	for _, member := range members {
		dir := member.Root()
		if dir != cwd && !strings.HasPrefix(cwd, dir+string(filepath.Separator)) {
			continue
		}
		if len(dir) > bestLen {
			best = member
			bestLen = len(dir)
		}
	}
	if best == nil && rootPkg != nil && strings.HasPrefix(cwd, rootDir) {
		return rootPkg
	}
	return best
}

func resolverVersion(rootRaw *manifestTOML, rootPkg *domain.Package) (domain.ResolverVersion, error) {
	declared := ""
	if rootRaw.Workspace != nil && rootRaw.Workspace.Resolver != "" {
		declared = rootRaw.Workspace.Resolver
	} else if rootRaw.Package != nil && rootRaw.Package.Resolver != "" {
		declared = rootRaw.Package.Resolver
	}
	if declared != "" {
		return domain.ParseResolverVersion(declared)
	}
	edition := domain.DefaultEdition
	if rootPkg != nil {
		edition = rootPkg.Edition
	}
	return domain.DefaultResolverVersion(edition), nil
}
