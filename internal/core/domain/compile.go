package domain

// CompileKind is the machine a unit is compiled for: the build host or an
// explicit target triple.
type CompileKind struct {
	triple InternedString
}

// CompileKindHost returns the host compile kind.
func CompileKindHost() CompileKind {
	return CompileKind{}
}

// CompileKindTarget returns the compile kind for an explicit triple.
func CompileKindTarget(triple string) CompileKind {
	return CompileKind{triple: NewInternedString(triple)}
}

// IsHost reports whether the kind is the build host.
func (k CompileKind) IsHost() bool {
	return k.triple.IsEmpty()
}

// Triple returns the explicit target triple, with hostTriple substituted
// for the host kind.
func (k CompileKind) Triple(hostTriple string) string {
	if k.IsHost() {
		return hostTriple
	}
	return k.triple.String()
}

// String renders the kind for diagnostics.
func (k CompileKind) String() string {
	if k.IsHost() {
		return "host"
	}
	return k.triple.String()
}

// ProcessPlan describes a subprocess before environment merging: the
// program, its arguments, the working directory, and the variables
// overlaid onto the parent environment at spawn time.
type ProcessPlan struct {
	Program string
	Args    []string
	Dir     string
	Env     []EnvVar
}

// CompileMode is what the compiler is asked to do with a unit.
type CompileMode uint8

const (
	// ModeBuild produces the target's artifacts.
	ModeBuild CompileMode = iota

	// ModeCheck type-checks without producing artifacts.
	ModeCheck

	// ModeTest builds the target with the test harness enabled.
	ModeTest

	// ModeBench builds the target with the bench harness enabled.
	ModeBench

	// ModeDoc generates documentation.
	ModeDoc

	// ModeDoctest runs documentation examples as tests.
	ModeDoctest

	// ModeRunCustomBuild executes a compiled build script.
	ModeRunCustomBuild
)

// String returns the mode name used in diagnostics and plan output.
func (m CompileMode) String() string {
	switch m {
	case ModeBuild:
		return "build"
	case ModeCheck:
		return "check"
	case ModeTest:
		return "test"
	case ModeBench:
		return "bench"
	case ModeDoc:
		return "doc"
	case ModeDoctest:
		return "doctest"
	case ModeRunCustomBuild:
		return "run-custom-build"
	}
	return "unknown"
}

// IsAnyTest reports whether the mode builds a test or bench harness.
func (m CompileMode) IsAnyTest() bool {
	return m == ModeTest || m == ModeBench
}

// IsRunCustomBuild reports whether the mode executes a build script.
func (m CompileMode) IsRunCustomBuild() bool {
	return m == ModeRunCustomBuild
}

// GeneratesArtifacts reports whether the mode produces linkable or
// runnable output files.
func (m CompileMode) GeneratesArtifacts() bool {
	switch m {
	case ModeBuild, ModeTest, ModeBench:
		return true
	}
	return false
}
