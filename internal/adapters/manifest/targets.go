package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// buildScriptTargetName is the fixed name of the custom-build target.
const buildScriptTargetName = "build-script-build"

// discoverTargets combines the explicit target sections with filesystem
// layout conventions: src/lib.rs, src/main.rs, src/bin, examples, tests,
// benches and build.rs.
func discoverTargets(dir string, raw *manifestTOML, section *packageTOML, edition domain.Edition) ([]domain.Target, error) {
	var targets []domain.Target

	lib, err := libTarget(dir, raw, section, edition)
	if err != nil {
		return nil, err
	}
	if lib != nil {
		targets = append(targets, *lib)
	}

	bins, err := binTargets(dir, raw, section, edition)
	if err != nil {
		return nil, err
	}
	targets = append(targets, bins...)

	for _, group := range []struct {
		kind     domain.TargetKind
		explicit []targetTOML
		dirName  string
	}{
		{domain.TargetKindExample, raw.Example, "examples"},
		{domain.TargetKindTest, raw.Test, "tests"},
		{domain.TargetKindBench, raw.Bench, "benches"},
	} {
		discovered, err := conventionTargets(dir, group.kind, group.explicit, group.dirName, edition)
		if err != nil {
			return nil, err
		}
		targets = append(targets, discovered...)
	}

	script, err := buildScriptTarget(dir, section, edition)
	if err != nil {
		return nil, err
	}
	if script != nil {
		targets = append(targets, *script)
	}
	return targets, nil
}

func libTarget(dir string, raw *manifestTOML, section *packageTOML, edition domain.Edition) (*domain.Target, error) {
	srcPath := filepath.Join(dir, "src", "lib.rs")
	if raw.Lib == nil && !fileExists(srcPath) {
		return nil, nil
	}

	explicit := raw.Lib
	if explicit == nil {
		explicit = &targetTOML{}
	}
	if len(explicit.RequiredFeatures) > 0 {
		return nil, zerr.Wrap(domain.ErrManifest, "required-features is not allowed on the library target")
	}

	if explicit.Path != "" {
		srcPath = filepath.Join(dir, explicit.Path)
	}
	if !fileExists(srcPath) {
		return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "library source file does not exist"), "path", srcPath)
	}

	name := explicit.Name
	if name == "" {
		name = crateName(section.Name)
	}

	crateTypes := []domain.CrateType{domain.CrateTypeLib}
	switch {
	case explicit.ProcMacro != nil && *explicit.ProcMacro:
		crateTypes = []domain.CrateType{domain.CrateTypeProcMacro}
	case len(explicit.CrateType) > 0:
		crateTypes = crateTypes[:0]
		for _, ct := range explicit.CrateType {
			crateTypes = append(crateTypes, domain.CrateType(ct))
		}
	}

	target := newTarget(domain.TargetKindLib, name, srcPath, crateTypes, edition)
	applyOverrides(&target, explicit)
	return &target, nil
}

func binTargets(dir string, raw *manifestTOML, section *packageTOML, edition domain.Edition) ([]domain.Target, error) {
	explicitByName := make(map[string]targetTOML, len(raw.Bin))
	for _, entry := range raw.Bin {
		name := entry.Name
		if name == "" {
			return nil, zerr.Wrap(domain.ErrManifest, "binary targets require a name")
		}
		explicitByName[name] = entry
	}

	// name -> source path, conventions first so explicit sections win.
	sources := make(map[string]string)
	if main := filepath.Join(dir, "src", "main.rs"); fileExists(main) {
		sources[crateName(section.Name)] = main
	}
	for name, path := range discoverSources(filepath.Join(dir, "src", "bin")) {
		sources[name] = path
	}

	var targets []domain.Target
	seen := make(map[string]bool)

	for name, entry := range explicitByName {
		srcPath := ""
		if entry.Path != "" {
			srcPath = filepath.Join(dir, entry.Path)
		} else if discovered, ok := sources[name]; ok {
			srcPath = discovered
		} else if main := filepath.Join(dir, "src", "main.rs"); fileExists(main) {
			srcPath = main
		}
		if srcPath == "" || !fileExists(srcPath) {
			return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "cannot find source for binary target"), "bin", name)
		}
		target := newTarget(domain.TargetKindBin, name, srcPath, []domain.CrateType{domain.CrateTypeBin}, edition)
		applyOverrides(&target, &entry)
		targets = append(targets, target)
		seen[name] = true
	}

	for name, path := range sources {
		if seen[name] {
			continue
		}
		// src/main.rs is shadowed when an explicit section claims its path.
		claimed := false
		for _, t := range targets {
			if t.SrcPath == path {
				claimed = true
				break
			}
		}
		if claimed {
			continue
		}
		targets = append(targets, newTarget(domain.TargetKindBin, name, path, []domain.CrateType{domain.CrateTypeBin}, edition))
	}

	sortTargetsByName(targets)
	return targets, nil
}

// conventionTargets discovers one auto-target directory (examples, tests
// or benches) and merges explicit sections over it.
func conventionTargets(dir string, kind domain.TargetKind, explicit []targetTOML, dirName string, edition domain.Edition) ([]domain.Target, error) {
	sources := discoverSources(filepath.Join(dir, dirName))

	var targets []domain.Target
	seen := make(map[string]bool)

	for _, entry := range explicit {
		name := entry.Name
		if name == "" {
			return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "targets require a name"), "section", kind.String())
		}
		srcPath := ""
		if entry.Path != "" {
			srcPath = filepath.Join(dir, entry.Path)
		} else if discovered, ok := sources[name]; ok {
			srcPath = discovered
		}
		if srcPath == "" || !fileExists(srcPath) {
			return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "cannot find source for target"), kind.String(), name)
		}
		target := newTarget(kind, name, srcPath, []domain.CrateType{domain.CrateTypeBin}, edition)
		applyOverrides(&target, &entry)
		targets = append(targets, target)
		seen[name] = true
	}

	for name, path := range sources {
		if seen[name] {
			continue
		}
		targets = append(targets, newTarget(kind, name, path, []domain.CrateType{domain.CrateTypeBin}, edition))
	}

	sortTargetsByName(targets)
	return targets, nil
}

func buildScriptTarget(dir string, section *packageTOML, edition domain.Edition) (*domain.Target, error) {
	srcPath := ""
	switch build := section.Build.(type) {
	case nil:
		if conventional := filepath.Join(dir, "build.rs"); fileExists(conventional) {
			srcPath = conventional
		}
	case bool:
		if build {
			srcPath = filepath.Join(dir, "build.rs")
		}
	case string:
		srcPath = filepath.Join(dir, build)
	default:
		return nil, zerr.Wrap(domain.ErrManifest, "build must be a path or false")
	}
	if srcPath == "" {
		return nil, nil
	}
	if !fileExists(srcPath) {
		return nil, zerr.With(zerr.Wrap(domain.ErrManifest, "build script does not exist"), "path", srcPath)
	}
	target := newTarget(domain.TargetKindCustomBuild, buildScriptTargetName, srcPath, []domain.CrateType{domain.CrateTypeBin}, edition)
	return &target, nil
}

// newTarget builds a target with the defaults of its kind.
func newTarget(kind domain.TargetKind, name, srcPath string, crateTypes []domain.CrateType, edition domain.Edition) domain.Target {
	t := domain.Target{
		Kind:       kind,
		Name:       domain.NewInternedString(name),
		SrcPath:    srcPath,
		CrateTypes: crateTypes,
		Edition:    edition,
	}
	switch kind {
	case domain.TargetKindLib:
		t.Doc = true
		t.Doctest = true
		t.Tested = true
		t.Benched = true
		t.Harness = true
	case domain.TargetKindBin:
		t.Doc = true
		t.Tested = true
		t.Benched = true
		t.Harness = true
	case domain.TargetKindExample:
		t.Harness = true
	case domain.TargetKindTest:
		t.Tested = true
		t.Harness = true
	case domain.TargetKindBench:
		t.Benched = true
		t.Harness = true
	case domain.TargetKindCustomBuild:
	}
	return t
}

// applyOverrides overlays the explicit section's flags onto the target.
func applyOverrides(t *domain.Target, entry *targetTOML) {
	if entry.Edition != "" {
		if edition, err := domain.ParseEdition(entry.Edition); err == nil {
			t.Edition = edition
		}
	}
	if len(entry.CrateType) > 0 && t.Kind != domain.TargetKindLib {
		t.CrateTypes = t.CrateTypes[:0]
		for _, ct := range entry.CrateType {
			t.CrateTypes = append(t.CrateTypes, domain.CrateType(ct))
		}
	}
	if entry.Test != nil {
		t.Tested = *entry.Test
	}
	if entry.Doctest != nil {
		t.Doctest = *entry.Doctest
	}
	if entry.Bench != nil {
		t.Benched = *entry.Bench
	}
	if entry.Doc != nil {
		t.Doc = *entry.Doc
	}
	if entry.Harness != nil {
		t.Harness = *entry.Harness
	}
	t.RequiredFeatures = entry.RequiredFeatures
}

// discoverSources maps target names to root source files under one
// convention directory: <dir>/<name>.rs and <dir>/<name>/main.rs.
func discoverSources(dir string) map[string]string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	sources := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if main := filepath.Join(dir, name, "main.rs"); fileExists(main) {
				sources[name] = main
			}
			continue
		}
		if stem, ok := strings.CutSuffix(name, ".rs"); ok {
			sources[stem] = filepath.Join(dir, name)
		}
	}
	return sources
}

func sortTargetsByName(targets []domain.Target) {
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Name.String() < targets[j].Name.String()
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
