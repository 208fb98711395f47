package domain

import "path/filepath"

const (
	// ManifestFileName is the name of the package manifest file.
	ManifestFileName = "Cargo.toml"

	// LockFileName is the name of the resolved dependency lockfile.
	LockFileName = "Cargo.lock"

	// ConfigDirName is the name of the per-tree configuration directory.
	ConfigDirName = ".cargo"

	// ConfigFileName is the name of the configuration file inside ConfigDirName.
	ConfigFileName = "config.toml"

	// TargetDirName is the name of the workspace build output directory.
	TargetDirName = "target"

	// FingerprintDirName is the per-profile directory holding unit fingerprints.
	FingerprintDirName = ".fingerprint"

	// DepsDirName is the per-profile directory holding intermediate artifacts.
	DepsDirName = "deps"

	// BuildDirName is the per-profile directory holding build script
	// executables and their output directories.
	BuildDirName = "build"

	// ExamplesDirName is the per-profile directory holding example artifacts.
	ExamplesDirName = "examples"

	// RegistryDirName is the home cache directory for registry data.
	RegistryDirName = "registry"

	// GitDirName is the home cache directory for git sources.
	GitDirName = "git"

	// CacheLockFileName is the lock file guarding the shared package cache.
	CacheLockFileName = ".package-cache"

	// MutateLockFileName is the lock file serializing cache mutation.
	MutateLockFileName = ".package-cache-mutate"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644

	// ExecPerm is the default permission for executable files (rwxr-x---).
	ExecPerm = 0o750
)

// DefaultConfigPath returns the in-tree configuration file path relative to
// a workspace or ancestor directory.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDirName, ConfigFileName)
}

// RegistryCachePath returns the home-relative directory for downloaded
// package archives.
func RegistryCachePath() string {
	return filepath.Join(RegistryDirName, "cache")
}

// RegistrySrcPath returns the home-relative directory for unpacked package
// sources.
func RegistrySrcPath() string {
	return filepath.Join(RegistryDirName, "src")
}

// RegistryIndexPath returns the home-relative directory for registry index
// data.
func RegistryIndexPath() string {
	return filepath.Join(RegistryDirName, "index")
}

// GitDBPath returns the home-relative directory for bare git clones.
func GitDBPath() string {
	return filepath.Join(GitDirName, "db")
}

// GitCheckoutsPath returns the home-relative directory for git working
// copies keyed by revision.
func GitCheckoutsPath() string {
	return filepath.Join(GitDirName, "checkouts")
}
