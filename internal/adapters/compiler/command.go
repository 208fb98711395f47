// Package compiler constructs compiler and documentation tool command
// lines for units and runs subprocesses. The command builder is pure: it
// maps a unit plus its resolved surroundings to a process plan; the
// scheduler decides when to run it.
package compiler

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"freight.build/freight/internal/adapters/layout"
	"freight.build/freight/internal/core/domain"
)

// Extern is one --extern entry: the name the depending crate imports and
// the artifact that provides it.
type Extern struct {
	Name string
	Path string
}

// Invocation is everything outside the unit itself that shapes its
// command line.
type Invocation struct {
	// Layout is the output tree the unit compiles into.
	Layout *layout.Layout

	// Externs are the direct dependency artifacts, one per edge.
	Externs []Extern

	// Cfgs are --cfg values contributed by build scripts and config.
	Cfgs []string

	// Rustflags are extra compiler flags from config and environment,
	// appended last in order.
	Rustflags []string

	// Env are extra variables for the process ("rustc-env" directives
	// and the manifest environment).
	Env []domain.EnvVar

	// OutDir is the build script output directory exposed as OUT_DIR,
	// empty when the package has no build script.
	OutDir string

	// LinkSearchPaths are native search paths from build scripts.
	LinkSearchPaths []string

	// LinkLibs are native libraries from build scripts.
	LinkLibs []string
}

// Builder maps units to compiler command lines.
type Builder struct {
	rustc      string
	rustdoc    string
	hostTriple string
}

// NewBuilder creates a command builder for the configured tools.
func NewBuilder(rustc, rustdoc, hostTriple string) *Builder {
	if rustc == "" {
		rustc = "rustc"
	}
	if rustdoc == "" {
		rustdoc = "rustdoc"
	}
	return &Builder{rustc: rustc, rustdoc: rustdoc, hostTriple: hostTriple}
}

// HostTriple returns the build host's target triple.
func (b *Builder) HostTriple() string { return b.hostTriple }

// Command builds the invocation for a compile-family unit. Doc units use
// the documentation tool, everything else the compiler.
func (b *Builder) Command(u *domain.Unit, in Invocation) domain.ProcessPlan {
	if u.Mode == domain.ModeDoc {
		return b.docCommand(u, in)
	}
	if u.Mode == domain.ModeDoctest {
		return b.doctestCommand(u, in)
	}
	return b.rustcCommand(u, in)
}

// doctestCommand runs the documentation tool in test mode. Doctest units
// have no artifacts; the tool compiles and executes the examples itself.
func (b *Builder) doctestCommand(u *domain.Unit, in Invocation) domain.ProcessPlan {
	args := []string{
		"--test",
		"--crate-name", crateName(u.Target.Name.String()),
		u.Target.SrcPath,
	}
	if string(u.Target.Edition) != "2015" {
		args = append(args, "--edition="+string(u.Target.Edition))
	}
	for _, f := range u.Features {
		args = append(args, "--cfg", `feature="`+f.String()+`"`)
	}
	for _, c := range in.Cfgs {
		args = append(args, "--cfg", c)
	}
	if !u.Kind.IsHost() {
		args = append(args, "--target", u.Kind.String())
	}
	args = append(args, "-L", "dependency="+in.Layout.DepsDir())
	for _, path := range in.LinkSearchPaths {
		args = append(args, "-L", "native="+path)
	}
	for _, ext := range in.Externs {
		args = append(args, "--extern", ext.Name+"="+ext.Path)
	}
	args = append(args, in.Rustflags...)

	return domain.ProcessPlan{
		Program: b.rustdoc,
		Args:    args,
		Dir:     u.Pkg.Root(),
		Env:     b.unitEnv(u, in),
	}
}

func (b *Builder) rustcCommand(u *domain.Unit, in Invocation) domain.ProcessPlan {
	hash := layout.UnitHash(u)
	args := []string{
		"--crate-name", crateName(u.Target.Name.String()),
		u.Target.SrcPath,
	}
	if string(u.Target.Edition) != "2015" {
		args = append(args, "--edition="+string(u.Target.Edition))
	}

	switch {
	case u.Mode.IsAnyTest():
		args = append(args, "--test")
	case u.Target.IsExecutable() || u.Target.IsCustomBuild():
		args = append(args, "--crate-type", "bin")
	default:
		for _, ct := range u.Target.CrateTypes {
			args = append(args, "--crate-type", string(ct))
		}
	}

	if u.Mode == domain.ModeCheck {
		args = append(args, "--emit=dep-info,metadata")
	} else {
		args = append(args, "--emit=dep-info,link")
	}

	for _, f := range u.Features {
		args = append(args, "--cfg", `feature="`+f.String()+`"`)
	}
	for _, c := range in.Cfgs {
		args = append(args, "--cfg", c)
	}

	args = append(args, "-C", "metadata="+hash, "-C", "extra-filename=-"+hash)
	args = append(args, "--out-dir", in.Layout.DepsDir())
	if !u.Kind.IsHost() {
		args = append(args, "--target", u.Kind.String())
	}

	args = append(args, profileArgs(u, in.Layout)...)

	args = append(args, "-L", "dependency="+in.Layout.DepsDir())
	for _, p := range in.LinkSearchPaths {
		args = append(args, "-L", "native="+p)
	}
	for _, l := range in.LinkLibs {
		args = append(args, "-l", l)
	}
	for _, ext := range in.Externs {
		args = append(args, "--extern", ext.Name+"="+ext.Path)
	}

	args = append(args, in.Rustflags...)

	return domain.ProcessPlan{
		Program: b.rustc,
		Args:    args,
		Dir:     u.Pkg.Root(),
		Env:     b.unitEnv(u, in),
	}
}

func (b *Builder) docCommand(u *domain.Unit, in Invocation) domain.ProcessPlan {
	args := []string{
		"--crate-name", crateName(u.Target.Name.String()),
		u.Target.SrcPath,
		"-o", in.Layout.DocDir(),
	}
	if string(u.Target.Edition) != "2015" {
		args = append(args, "--edition="+string(u.Target.Edition))
	}
	for _, f := range u.Features {
		args = append(args, "--cfg", `feature="`+f.String()+`"`)
	}
	for _, c := range in.Cfgs {
		args = append(args, "--cfg", c)
	}
	if !u.Kind.IsHost() {
		args = append(args, "--target", u.Kind.String())
	}
	args = append(args, "-L", "dependency="+in.Layout.DepsDir())
	for _, ext := range in.Externs {
		args = append(args, "--extern", ext.Name+"="+ext.Path)
	}
	args = append(args, in.Rustflags...)

	return domain.ProcessPlan{
		Program: b.rustdoc,
		Args:    args,
		Dir:     u.Pkg.Root(),
		Env:     b.unitEnv(u, in),
	}
}

func profileArgs(u *domain.Unit, l *layout.Layout) []string {
	p := u.Profile
	var args []string
	if p.OptLevel != "0" {
		args = append(args, "-C", "opt-level="+p.OptLevel)
	}
	if p.Debug > 0 {
		args = append(args, "-C", "debuginfo="+strconv.FormatUint(uint64(p.Debug), 10))
	}
	if p.DebugAssertions {
		args = append(args, "-C", "debug-assertions=on")
	} else {
		args = append(args, "-C", "debug-assertions=off")
	}
	if p.OverflowChecks != p.DebugAssertions {
		args = append(args, "-C", "overflow-checks="+onOff(p.OverflowChecks))
	}
	switch p.Lto {
	case domain.LtoFat:
		args = append(args, "-C", "lto=fat")
	case domain.LtoThin:
		args = append(args, "-C", "lto=thin")
	case domain.LtoOff:
		args = append(args, "-C", "lto=off")
	}
	if p.CodegenUnits > 0 {
		args = append(args, "-C", "codegen-units="+strconv.FormatUint(uint64(p.CodegenUnits), 10))
	}
	if p.Panic == domain.PanicAbort {
		args = append(args, "-C", "panic=abort")
	}
	if p.Incremental {
		args = append(args, "-C", "incremental="+filepath.Join(l.Dest(), "incremental"))
	}
	if p.Strip != "" && p.Strip != "none" {
		args = append(args, "-C", "strip="+p.Strip)
	}
	if p.Rpath {
		args = append(args, "-C", "rpath")
	}
	return args
}

// unitEnv synthesizes the package environment every compilation sees.
func (b *Builder) unitEnv(u *domain.Unit, in Invocation) []domain.EnvVar {
	version := u.Pkg.ID.Version()
	env := []domain.EnvVar{
		{Key: "CARGO_MANIFEST_DIR", Value: u.Pkg.Root()},
		{Key: "CARGO_PKG_NAME", Value: u.Pkg.ID.Name()},
		{Key: "CARGO_PKG_VERSION", Value: version.String()},
		{Key: "CARGO_PKG_VERSION_MAJOR", Value: strconv.FormatUint(version.Major(), 10)},
		{Key: "CARGO_PKG_VERSION_MINOR", Value: strconv.FormatUint(version.Minor(), 10)},
		{Key: "CARGO_PKG_VERSION_PATCH", Value: strconv.FormatUint(version.Patch(), 10)},
		{Key: "CARGO_PKG_VERSION_PRE", Value: version.Prerelease()},
		{Key: "CARGO_CRATE_NAME", Value: crateName(u.Target.Name.String())},
	}
	if u.Pkg.Links != "" {
		env = append(env, domain.EnvVar{Key: "CARGO_MANIFEST_LINKS", Value: u.Pkg.Links})
	}
	if in.OutDir != "" {
		env = append(env, domain.EnvVar{Key: "OUT_DIR", Value: in.OutDir})
	}
	env = append(env, in.Env...)
	return env
}

// Outputs returns the artifact files the unit must produce; the scheduler
// verifies their presence after a successful run.
func (b *Builder) Outputs(u *domain.Unit, l *layout.Layout) []string {
	if u.Mode == domain.ModeDoc {
		return nil
	}
	hash := layout.UnitHash(u)
	crate := crateName(u.Target.Name.String())
	deps := l.DepsDir()

	if u.Mode == domain.ModeCheck {
		return []string{filepath.Join(deps, "lib"+crate+"-"+hash+".rmeta")}
	}
	if u.Mode.IsAnyTest() || u.Target.IsExecutable() || u.Target.IsCustomBuild() {
		return []string{filepath.Join(deps, crate+"-"+hash+exeSuffix(u, b.hostTriple))}
	}

	var outs []string
	for _, ct := range u.Target.CrateTypes {
		switch ct {
		case domain.CrateTypeLib, domain.CrateTypeRlib:
			outs = append(outs, filepath.Join(deps, "lib"+crate+"-"+hash+".rlib"))
		case domain.CrateTypeDylib, domain.CrateTypeProcMacro, domain.CrateTypeCdylib:
			outs = append(outs, filepath.Join(deps, dylibName(crate+"-"+hash, u, b.hostTriple)))
		case domain.CrateTypeStaticlib:
			outs = append(outs, filepath.Join(deps, "lib"+crate+"-"+hash+".a"))
		case domain.CrateTypeBin:
			outs = append(outs, filepath.Join(deps, crate+"-"+hash+exeSuffix(u, b.hostTriple)))
		}
	}
	return outs
}

// ExternPath returns the artifact a dependent names in --extern: the
// rmeta in check builds, the rlib otherwise.
func (b *Builder) ExternPath(u *domain.Unit, l *layout.Layout) string {
	hash := layout.UnitHash(u)
	crate := crateName(u.Target.Name.String())
	if u.Target.IsProcMacro() {
		return filepath.Join(l.DepsDir(), dylibName(crate+"-"+hash, u, b.hostTriple))
	}
	if u.Mode == domain.ModeCheck {
		return filepath.Join(l.DepsDir(), "lib"+crate+"-"+hash+".rmeta")
	}
	return filepath.Join(l.DepsDir(), "lib"+crate+"-"+hash+".rlib")
}

// DepInfoPath returns the compiler-emitted dep-info file of the unit.
func (b *Builder) DepInfoPath(u *domain.Unit, l *layout.Layout) string {
	hash := layout.UnitHash(u)
	return filepath.Join(l.DepsDir(), crateName(u.Target.Name.String())+"-"+hash+".d")
}

func exeSuffix(u *domain.Unit, host string) string {
	if strings.Contains(u.Kind.Triple(host), "windows") {
		return ".exe"
	}
	return ""
}

func dylibName(stem string, u *domain.Unit, host string) string {
	triple := u.Kind.Triple(host)
	switch {
	case strings.Contains(triple, "windows"):
		return stem + ".dll"
	case strings.Contains(triple, "apple"):
		return "lib" + stem + ".dylib"
	default:
		return "lib" + stem + ".so"
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func crateName(target string) string {
	return strings.ReplaceAll(target, "-", "_")
}

// DetectHostTriple guesses the host triple from the Go runtime; the
// configured compiler's -vV output overrides it when available.
func DetectHostTriple() string {
	arch := map[string]string{
		"amd64": "x86_64",
		"arm64": "aarch64",
		"386":   "i686",
	}[runtime.GOARCH]
	if arch == "" {
		arch = runtime.GOARCH
	}
	switch runtime.GOOS {
	case "linux":
		return arch + "-unknown-linux-gnu"
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	default:
		return arch + "-unknown-" + runtime.GOOS
	}
}
