package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/adapters/compiler"
	"freight.build/freight/internal/adapters/config"
	"freight.build/freight/internal/adapters/fingerprint"
	"freight.build/freight/internal/adapters/layout"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
	"freight.build/freight/internal/engine/buildscript"
	"freight.build/freight/internal/engine/scheduler"
)

// scriptOutputName is the file under a unit's build directory holding the
// captured build script stdout.
const scriptOutputName = "output"

type runnerConfig struct {
	logger       ports.Logger
	tracer       ports.Tracer
	executor     ports.Executor
	builder      *compiler.Builder
	fingerprints *fingerprint.Store
	graph        *domain.UnitGraph
	layouts      map[domain.CompileKind]*layout.Layout
	platformFor  func(domain.CompileKind) domain.PlatformInfo
	compilerID   string
	cfg          *config.Schema
	jobs         int
	format       domain.MessageFormat
}

// unitRunner executes single units for the scheduler: compiles crates,
// runs build scripts, and keeps fingerprints current.
type unitRunner struct {
	runnerConfig
	scripts *buildscript.Driver

	mu     sync.Mutex
	hashes map[*domain.Unit]uint64
}

func newUnitRunner(cfg runnerConfig) *unitRunner {
	return &unitRunner{
		runnerConfig: cfg,
		scripts:      buildscript.NewDriver(cfg.executor, cfg.logger),
		hashes:       make(map[*domain.Unit]uint64),
	}
}

func (r *unitRunner) layoutFor(u *domain.Unit) *layout.Layout {
	return r.layouts[u.Kind]
}

// metadata returns the unit's metadata hash, folding in the hashes of
// every dependency. Memoized; the graph is walked once per unit.
func (r *unitRunner) metadata(u *domain.Unit) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadataLocked(u)
}

func (r *unitRunner) metadataLocked(u *domain.Unit) uint64 {
	if h, ok := r.hashes[u]; ok {
		return h
	}
	var depHashes []uint64
	for _, d := range r.graph.DepsOf(u) {
		depHashes = append(depHashes, r.metadataLocked(d.Unit))
	}
	h := fingerprint.ComputeMetadata(u, fingerprint.MetadataInputs{
		CompilerID: r.compilerID,
		Triple:     u.Kind.Triple(r.builder.HostTriple()),
		ExtraFlags: r.rustflags(u),
		DepHashes:  depHashes,
	})
	r.hashes[u] = h
	return h
}

// Fresh reports whether the unit's recorded fingerprint still matches and
// its artifacts are present.
func (r *unitRunner) Fresh(u *domain.Unit) bool {
	if u.Mode == domain.ModeDoctest {
		return false
	}
	l := r.layoutFor(u)
	hash := fingerprint.HashString(r.metadata(u))
	if dirty := r.fingerprints.Freshness(u.String(), l.UnitFingerprintDir(u), hash); dirty != nil {
		return false
	}
	if u.BuildScriptRun() {
		_, err := os.Stat(filepath.Join(l.UnitBuildDir(u), scriptOutputName))
		return err == nil
	}
	for _, out := range r.builder.Outputs(u, l) {
		if _, err := os.Stat(out); err != nil {
			return false
		}
	}
	return true
}

// Execute builds or replays one unit.
func (r *unitRunner) Execute(ctx context.Context, u *domain.Unit, fresh bool, deps scheduler.Outputs, diag io.Writer) (*domain.BuildOutput, error) {
	if u.BuildScriptRun() {
		return r.runScript(ctx, u, fresh, deps)
	}
	if fresh {
		return nil, nil
	}
	return nil, r.compile(ctx, u, deps, diag)
}

// runScript executes the package's compiled build script, or replays the
// persisted output when the unit is fresh.
func (r *unitRunner) runScript(ctx context.Context, u *domain.Unit, fresh bool, deps scheduler.Outputs) (*domain.BuildOutput, error) {
	l := r.layoutFor(u)
	outputPath := filepath.Join(l.UnitBuildDir(u), scriptOutputName)
	if fresh {
		return r.scripts.Replay(u, outputPath)
	}

	script, err := r.scriptExecutable(u)
	if err != nil {
		return nil, err
	}

	var depMeta []buildscript.DepMetadata
	for _, d := range r.graph.DepsOf(u) {
		out := deps[d.Unit]
		if out == nil || !d.Unit.BuildScriptRun() || d.Unit.Pkg.Links == "" {
			continue
		}
		depMeta = append(depMeta, buildscript.DepMetadata{
			Links:    d.Unit.Pkg.Links,
			Metadata: out.Metadata,
		})
	}

	env := buildscript.Env(buildscript.EnvInput{
		Unit:       u,
		OutDir:     l.OutDir(u),
		HostTriple: r.builder.HostTriple(),
		Target:     r.platformFor(u.Kind),
		Jobs:       r.jobs,
		Deps:       depMeta,
	})
	for _, d := range r.graph.DepsOf(u) {
		if d.Unit.Artifact != "" {
			env = append(env, r.artifactEnv(d)...)
		}
	}

	r.logger.Status("Running", u.Pkg.ID.SpecString()+" build script")
	out, err := r.scripts.Run(ctx, buildscript.Invocation{
		Unit:       u,
		Script:     script,
		OutDir:     l.OutDir(u),
		OutputPath: outputPath,
		Env:        env,
	})
	if err != nil {
		return nil, err
	}
	if err := r.saveScriptFingerprint(u, l, out); err != nil {
		return nil, err
	}
	return out, nil
}

// scriptExecutable locates the compiled build script among the run unit's
// dependencies.
func (r *unitRunner) scriptExecutable(u *domain.Unit) (string, error) {
	for _, d := range r.graph.DepsOf(u) {
		if !d.Unit.BuildScriptCompile() {
			continue
		}
		outs := r.builder.Outputs(d.Unit, r.layoutFor(d.Unit))
		if len(outs) > 0 {
			return outs[0], nil
		}
	}
	return "", zerr.With(
		zerr.Wrap(domain.ErrBuildScript, "compiled build script not found"),
		"package", u.Pkg.ID.SpecString())
}

// saveScriptFingerprint stamps the paths and variables the script declared
// via rerun-if directives. A script that declared nothing is re-run when
// anything under the package root changes.
func (r *unitRunner) saveScriptFingerprint(u *domain.Unit, l *layout.Layout, out *domain.BuildOutput) error {
	var files []fingerprint.FileStamp
	if len(out.RerunIfChanged) > 0 {
		for _, p := range out.RerunIfChanged {
			if !filepath.IsAbs(p) {
				p = filepath.Join(u.Pkg.Root(), p)
			}
			stamp, err := fingerprint.StampPath(p)
			if err != nil {
				// A declared path that does not exist yet keeps the unit
				// dirty until the script produces it.
				stamp = fingerprint.FileStamp{Path: p}
			}
			files = append(files, stamp)
		}
	} else {
		stamp, err := fingerprint.StampPath(u.Pkg.Root())
		if err != nil {
			return err
		}
		files = []fingerprint.FileStamp{stamp}
	}
	return r.fingerprints.Save(l.UnitFingerprintDir(u), &fingerprint.Fingerprint{
		MetadataHash: fingerprint.HashString(r.metadata(u)),
		Files:        files,
		Env:          fingerprint.StampEnv(out.RerunIfEnvChanged),
	})
}

// compile runs the compiler (or documentation tool) for one unit and
// records its fingerprint on success.
func (r *unitRunner) compile(ctx context.Context, u *domain.Unit, deps scheduler.Outputs, diag io.Writer) error {
	l := r.layoutFor(u)
	inv := compiler.Invocation{Layout: l}

	for _, d := range r.graph.DepsOf(u) {
		if out := deps[d.Unit]; out != nil && d.Unit.BuildScriptRun() {
			if d.Unit.Pkg == u.Pkg {
				r.applyOwnScript(u, d.Unit, out, &inv)
			}
			// Native search paths of dependency scripts are needed at
			// link time regardless of which package emitted them.
			inv.LinkSearchPaths = append(inv.LinkSearchPaths, out.LibraryPaths...)
			continue
		}
		if d.Unit.Artifact != "" {
			inv.Env = append(inv.Env, r.artifactEnv(d)...)
			continue
		}
		if d.NoImplicitImport || !d.Unit.Target.IsLinkable() {
			continue
		}
		inv.Externs = append(inv.Externs, compiler.Extern{
			Name: strings.ReplaceAll(d.ExternName.String(), "-", "_"),
			Path: r.builder.ExternPath(d.Unit, r.layoutFor(d.Unit)),
		})
	}

	inv.Rustflags = append(r.rustflags(u), inv.Rustflags...)
	if r.format == domain.MessageFormatJSON {
		inv.Rustflags = append(inv.Rustflags, "--error-format=json")
	}

	r.logger.Status(statusVerb(u.Mode), u.Pkg.ID.SpecString())
	plan := r.builder.Command(u, inv)
	if err := r.executor.Execute(ctx, compiler.Materialize(plan), diag, diag); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrCompile, err.Error()), "unit", u.String())
	}

	outputs := r.builder.Outputs(u, l)
	for _, out := range outputs {
		if _, err := os.Stat(out); err != nil {
			return zerr.With(domain.ErrArtifactMissing, "path", out)
		}
	}
	return r.saveCompileFingerprint(u, l)
}

// artifactEnv synthesizes the variables exposing an artifact dependency's
// built files to its consumer: CARGO_<KIND>_DIR_<DEP> for the containing
// directory, CARGO_<KIND>_FILE_<DEP>_<name> per target, and the short
// CARGO_<KIND>_FILE_<DEP> form when the target is named after the
// dependency.
func (r *unitRunner) artifactEnv(d domain.UnitDep) []domain.EnvVar {
	kind, _, _ := strings.Cut(d.Unit.Artifact, ":")
	outs := r.builder.Outputs(d.Unit, r.layoutFor(d.Unit))
	if len(outs) == 0 {
		return nil
	}
	file := outs[0]
	prefix := "CARGO_" + buildscript.EnvKey(kind)
	dep := buildscript.EnvKey(d.ExternName.String())
	target := d.Unit.Target.Name.String()

	vars := []domain.EnvVar{
		{Key: prefix + "_DIR_" + dep, Value: filepath.Dir(file)},
		{Key: prefix + "_FILE_" + dep + "_" + buildscript.EnvKey(target), Value: file},
	}
	if target == d.ExternName.String() {
		vars = append(vars, domain.EnvVar{Key: prefix + "_FILE_" + dep, Value: file})
	}
	return vars
}

// applyOwnScript folds the directives of the unit's own build script run
// into the invocation.
func (r *unitRunner) applyOwnScript(u, scriptRun *domain.Unit, out *domain.BuildOutput, inv *compiler.Invocation) {
	inv.OutDir = r.layoutFor(scriptRun).OutDir(scriptRun)
	inv.Cfgs = append(inv.Cfgs, out.Cfgs...)
	inv.Env = append(inv.Env, out.Env...)
	inv.LinkLibs = append(inv.LinkLibs, out.LibraryLinks...)
	for _, c := range out.CheckCfgs {
		inv.Rustflags = append(inv.Rustflags, "--check-cfg", c)
	}
	for _, a := range out.LinkerArgs {
		if linkArgApplies(u, a) {
			inv.Rustflags = append(inv.Rustflags, "-C", "link-arg="+a.Arg)
		}
	}
}

// linkArgApplies filters a scoped linker argument against the unit the
// compiler is about to link.
func linkArgApplies(u *domain.Unit, a domain.LinkerArg) bool {
	if !u.Mode.GeneratesArtifacts() {
		return false
	}
	switch a.Scope {
	case domain.LinkArgScopeAll:
		return true
	case domain.LinkArgScopeCdylib:
		return hasCrateType(u, domain.CrateTypeCdylib)
	case domain.LinkArgScopeBins:
		return u.Target.IsExecutable()
	case domain.LinkArgScopeSingleBin:
		return u.Target.IsExecutable() && u.Target.Name.String() == a.BinName
	case domain.LinkArgScopeTests:
		return u.Mode == domain.ModeTest
	case domain.LinkArgScopeBenches:
		return u.Mode == domain.ModeBench
	case domain.LinkArgScopeExamples:
		return u.Target.IsExample()
	}
	return false
}

func hasCrateType(u *domain.Unit, ct domain.CrateType) bool {
	for _, t := range u.Target.CrateTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// saveCompileFingerprint derives the input set from the compiler-emitted
// dep-info file. Units without one (documentation) stamp the package root.
func (r *unitRunner) saveCompileFingerprint(u *domain.Unit, l *layout.Layout) error {
	fp := &fingerprint.Fingerprint{
		MetadataHash: fingerprint.HashString(r.metadata(u)),
	}
	if u.Mode == domain.ModeDoc {
		stamp, err := fingerprint.StampPath(u.Pkg.Root())
		if err != nil {
			return err
		}
		fp.Files = []fingerprint.FileStamp{stamp}
		return r.fingerprints.Save(l.UnitFingerprintDir(u), fp)
	}

	depInfoPath := r.builder.DepInfoPath(u, l)
	data, err := os.ReadFile(depInfoPath) //nolint:gosec // path under target dir
	if err != nil {
		// Without an input record the unit is rebuilt next time, which is
		// correct if slow.
		return nil
	}
	files, err := fingerprint.StampPaths(fingerprint.ParseDepInfo(data))
	if err != nil {
		return nil
	}
	fp.DepInfoPath = depInfoPath
	fp.Files = files
	return r.fingerprints.Save(l.UnitFingerprintDir(u), fp)
}

// rustflags collects the configured extra compiler flags for a unit.
func (r *unitRunner) rustflags(u *domain.Unit) []string {
	var flags []string
	if u.Mode == domain.ModeDoc || u.Mode == domain.ModeDoctest {
		flags = append(flags, r.cfg.Build.Rustdocflags...)
	} else {
		flags = append(flags, r.cfg.Build.Rustflags...)
	}
	if t, ok := r.cfg.TargetFor(u.Kind.Triple(r.builder.HostTriple())); ok {
		flags = append(flags, t.Rustflags...)
	}
	return flags
}

func statusVerb(m domain.CompileMode) string {
	switch m {
	case domain.ModeCheck:
		return "Checking"
	case domain.ModeDoc, domain.ModeDoctest:
		return "Documenting"
	default:
		return "Compiling"
	}
}

var _ scheduler.Runner = (*unitRunner)(nil)
