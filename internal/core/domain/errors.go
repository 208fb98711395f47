package domain

import "go.trai.ch/zerr"

// Error kinds returned by the core. The front-end classifies failures with
// errors.Is on these sentinels instead of string matching.
var (
	// ErrManifest is returned for parse or validation failures in a manifest.
	ErrManifest = zerr.New("invalid manifest")

	// ErrResolution is returned when no dependency graph satisfies the
	// requirements (unmet version, cycle, links collision, feature wiring).
	ErrResolution = zerr.New("failed to resolve dependencies")

	// ErrVirtualManifest is the ErrManifest refinement for manifests that
	// declare a workspace but no package.
	ErrVirtualManifest = zerr.New("manifest does not declare a package")

	// ErrLockfile is returned when a lockfile is newer than supported or
	// does not parse.
	ErrLockfile = zerr.New("invalid lockfile")

	// ErrFetch is returned when a package source could not be obtained.
	ErrFetch = zerr.New("failed to fetch package")

	// ErrFetchNotFound is the ErrFetch refinement for missing packages.
	ErrFetchNotFound = zerr.New("package not found")

	// ErrFetchChecksum is the ErrFetch refinement for checksum mismatches.
	ErrFetchChecksum = zerr.New("checksum mismatch")

	// ErrFetchOffline is returned when a network fetch is required but
	// offline mode is active and the resource is not cached.
	ErrFetchOffline = zerr.New("network access blocked by offline mode")

	// ErrBuildScript is returned when a build script fails, emits an
	// error directive, or violates the directive protocol.
	ErrBuildScript = zerr.New("build script failed")

	// ErrCompile is returned when the compiler exits non-zero.
	ErrCompile = zerr.New("compilation failed")

	// ErrArtifactMissing is returned when an expected output file is absent
	// after a successful compile. This indicates a compiler wrapper bug.
	ErrArtifactMissing = zerr.New("expected build artifact is missing")

	// ErrCacheLock is returned when the shared package cache lock cannot
	// be acquired.
	ErrCacheLock = zerr.New("failed to lock package cache")

	// ErrIo wraps generic filesystem faults.
	ErrIo = zerr.New("filesystem operation failed")
)

// Resolver-specific refinements of ErrResolution.
var (
	// ErrNoMatchingVersion is returned when no candidate satisfies a
	// version requirement.
	ErrNoMatchingVersion = zerr.New("no matching version found")

	// ErrLinksCollision is returned when two selected packages claim the
	// same native links token.
	ErrLinksCollision = zerr.New("only one package in the graph may link a given native library")

	// ErrUnknownFeature is returned when a requested or declared feature
	// activator names nothing.
	ErrUnknownFeature = zerr.New("unknown feature")

	// ErrCyclicDependency is returned when normal/build edges form a cycle.
	ErrCyclicDependency = zerr.New("cyclic package dependency")

	// ErrFeatureCollidesWithDep is returned when a feature name shadows a
	// dependency name in the same package.
	ErrFeatureCollidesWithDep = zerr.New("feature name collides with a dependency name")

	// ErrOptionalDevDependency is returned for the forbidden combination
	// of a development dependency marked optional.
	ErrOptionalDevDependency = zerr.New("dev-dependencies may not be optional")

	// ErrEmptyArtifact is returned when an artifact classifier list is empty.
	ErrEmptyArtifact = zerr.New("artifact specification may not be empty")
)

// Workspace / request level errors.
var (
	// ErrWorkspaceNotFound is returned when no manifest is found in the
	// working directory or any ancestor.
	ErrWorkspaceNotFound = zerr.New("could not find a manifest in this directory or any parent")

	// ErrPackageNotInWorkspace is returned when a requested package spec
	// matches no workspace member.
	ErrPackageNotInWorkspace = zerr.New("package is not a workspace member")

	// ErrTargetNotFound is returned when a target filter matches nothing.
	ErrTargetNotFound = zerr.New("no targets matched the requested filter")

	// ErrLockfileOutOfDate is returned when --locked is set and resolution
	// would need to change the lockfile.
	ErrLockfileOutOfDate = zerr.New("the lock file needs to be updated but --locked was passed")

	// ErrFrozen is returned when --frozen is set and any cache or lockfile
	// mutation would be required.
	ErrFrozen = zerr.New("the operation requires mutation but --frozen was passed")
)
