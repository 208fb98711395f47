package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// buildFlags are the flags shared by the build-family commands.
type buildFlags struct {
	packages  []string
	workspace bool
	exclude   []string

	features          []string
	allFeatures       bool
	noDefaultFeatures bool

	jobs      int
	keepGoing bool

	release bool
	profile string
	targets []string

	lib         bool
	bins        []string
	allBins     bool
	examples    []string
	allExamples bool
	tests       []string
	allTests    bool
	benches     []string
	allBenches  bool
	allTargets  bool

	locked  bool
	frozen  bool
	offline bool

	unitGraph     bool
	messageFormat string
}

func addBuildFlags(cmd *cobra.Command, f *buildFlags) {
	flags := cmd.Flags()
	flags.StringArrayVarP(&f.packages, "package", "p", nil, "Package to operate on (name or name@version)")
	flags.BoolVar(&f.workspace, "workspace", false, "Operate on every workspace member")
	flags.StringArrayVar(&f.exclude, "exclude", nil, "Exclude packages from a --workspace selection")

	flags.StringArrayVarP(&f.features, "features", "F", nil, "Comma- or space-separated features to activate")
	flags.BoolVar(&f.allFeatures, "all-features", false, "Activate all available features")
	flags.BoolVar(&f.noDefaultFeatures, "no-default-features", false, "Do not activate the default feature")

	flags.IntVarP(&f.jobs, "jobs", "j", 0, "Number of parallel jobs, defaults to the CPU count")
	flags.BoolVar(&f.keepGoing, "keep-going", false, "Build as many units as possible after a failure")

	flags.BoolVar(&f.release, "release", false, "Use the release profile")
	flags.StringVar(&f.profile, "profile", "", "Use the named profile")
	flags.StringArrayVar(&f.targets, "target", nil, "Build for the target triple")

	flags.BoolVar(&f.lib, "lib", false, "Operate on the package library")
	flags.StringArrayVar(&f.bins, "bin", nil, "Operate on the named binary")
	flags.BoolVar(&f.allBins, "bins", false, "Operate on every binary")
	flags.StringArrayVar(&f.examples, "example", nil, "Operate on the named example")
	flags.BoolVar(&f.allExamples, "examples", false, "Operate on every example")
	flags.StringArrayVar(&f.tests, "test", nil, "Operate on the named integration test")
	flags.BoolVar(&f.allTests, "tests", false, "Operate on every test target")
	flags.StringArrayVar(&f.benches, "bench", nil, "Operate on the named benchmark")
	flags.BoolVar(&f.allBenches, "benches", false, "Operate on every bench target")
	flags.BoolVar(&f.allTargets, "all-targets", false, "Operate on every target")

	flags.BoolVar(&f.locked, "locked", false, "Require the lockfile to stay unchanged")
	flags.BoolVar(&f.frozen, "frozen", false, "Require the lockfile to stay unchanged, without network access")
	flags.BoolVar(&f.offline, "offline", false, "Run without network access")

	flags.BoolVar(&f.unitGraph, "unit-graph", false, "Emit the unit graph as JSON instead of building")
	flags.StringVar(&f.messageFormat, "message-format", "human", "Diagnostic output format: human or json")
}

// request converts parsed flags to a build request.
func (f *buildFlags) request(mode domain.CompileMode) (*domain.BuildRequest, error) {
	specs := make([]domain.PackageSpec, 0, len(f.packages))
	for _, p := range f.packages {
		spec, err := domain.ParsePackageSpec(p)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	format, err := domain.ParseMessageFormat(f.messageFormat)
	if err != nil {
		return nil, err
	}

	profile := f.profile
	if f.release {
		if profile != "" && profile != "release" {
			return nil, zerr.New("--release conflicts with --profile")
		}
		profile = "release"
	}

	kinds := make([]domain.CompileKind, 0, len(f.targets))
	for _, t := range f.targets {
		kinds = append(kinds, domain.CompileKindTarget(t))
	}

	return &domain.BuildRequest{
		Mode:        mode,
		ProfileName: profile,
		Jobs:        f.jobs,
		KeepGoing:   f.keepGoing,
		Targets:     kinds,
		Features: domain.FeatureSelection{
			Features:          domain.ParseFeatureList(f.features),
			AllFeatures:       f.allFeatures,
			NoDefaultFeatures: f.noDefaultFeatures,
		},
		Packages: domain.PackageSelection{
			Specs:     specs,
			Workspace: f.workspace,
			Exclude:   f.exclude,
		},
		Filter: domain.TargetFilter{
			Lib:         f.lib,
			Bins:        f.bins,
			AllBins:     f.allBins,
			Examples:    f.examples,
			AllExamples: f.allExamples,
			Tests:       f.tests,
			AllTests:    f.allTests,
			Benches:     f.benches,
			AllBenches:  f.allBenches,
			AllTargets:  f.allTargets,
		},
		Locked:        f.locked,
		Frozen:        f.frozen,
		Offline:       f.offline,
		UnitGraphOnly: f.unitGraph,
		MessageFormat: format,
	}, nil
}
