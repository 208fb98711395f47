package domain

// LinkArgScope restricts a linker argument directive to a class of final
// artifacts.
type LinkArgScope uint8

const (
	// LinkArgScopeAll applies to every supported final artifact.
	LinkArgScopeAll LinkArgScope = iota

	// LinkArgScopeCdylib applies to cdylib artifacts.
	LinkArgScopeCdylib

	// LinkArgScopeBins applies to every binary.
	LinkArgScopeBins

	// LinkArgScopeSingleBin applies to one named binary.
	LinkArgScopeSingleBin

	// LinkArgScopeTests applies to test harnesses.
	LinkArgScopeTests

	// LinkArgScopeBenches applies to bench harnesses.
	LinkArgScopeBenches

	// LinkArgScopeExamples applies to examples.
	LinkArgScopeExamples
)

// LinkerArg is one linker argument emitted by a build script, with the
// artifact scope it applies to.
type LinkerArg struct {
	Scope LinkArgScope

	// BinName is set for LinkArgScopeSingleBin.
	BinName string

	// Arg is the raw argument passed to the linker.
	Arg string
}

// EnvVar is one key value pair in emission order.
type EnvVar struct {
	Key   string
	Value string
}

// BuildOutput is the parsed, validated output of one build script run. It
// is stored beside the script's output directory and replayed on fresh
// builds.
type BuildOutput struct {
	// LibraryPaths are native library search paths ("rustc-link-search").
	LibraryPaths []string

	// LibraryLinks are native libraries to link ("rustc-link-lib").
	LibraryLinks []string

	// LinkerArgs are scoped linker arguments.
	LinkerArgs []LinkerArg

	// Cfgs are compile-time configuration values ("rustc-cfg").
	Cfgs []string

	// CheckCfgs are expected configuration declarations
	// ("rustc-check-cfg").
	CheckCfgs []string

	// Env are environment variables set for the package's compilations
	// ("rustc-env").
	Env []EnvVar

	// Metadata are key value pairs passed to dependents of a links
	// package as DEP_<LINKS>_<KEY> variables.
	Metadata []EnvVar

	// RerunIfChanged are paths whose modification reruns the script.
	RerunIfChanged []string

	// RerunIfEnvChanged are environment variables whose change reruns
	// the script.
	RerunIfEnvChanged []string

	// Warnings are messages surfaced to the user.
	Warnings []string
}
