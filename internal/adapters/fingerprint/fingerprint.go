// Package fingerprint decides whether a unit's existing artifacts can be
// reused. A fingerprint combines the unit's metadata hash, stamps of every
// source input from the previous run, and the values of environment
// variables the build script declared. Fingerprints persist as one JSON
// file per unit under the profile's .fingerprint directory.
package fingerprint

// Fingerprint is the persisted freshness record of one unit.
type Fingerprint struct {
	// MetadataHash is the hex hash of the unit's configuration, compiler
	// identity and dependency hashes.
	MetadataHash string `json:"metadata_hash"`

	// DepInfoPath is the compiler-emitted dep-info file the input set was
	// derived from, empty for units without one.
	DepInfoPath string `json:"dep_info,omitempty"`

	// Files stamps every source input.
	Files []FileStamp `json:"files"`

	// Env records the declared environment variables and their values.
	Env []EnvStamp `json:"env,omitempty"`
}

// FileStamp records the observed state of one input path.
type FileStamp struct {
	// Path is the absolute input path.
	Path string `json:"path"`

	// Dir marks a directory input; MTime then holds the newest
	// modification time in the subtree.
	Dir bool `json:"dir,omitempty"`

	// MTime is the modification time in nanoseconds since the epoch.
	MTime int64 `json:"mtime"`

	// ContentHash is the hex content hash, recorded when the filesystem's
	// mtime resolution is too coarse to be trusted.
	ContentHash string `json:"content_hash,omitempty"`
}

// EnvStamp records one environment variable named by rerun-if-env-changed.
type EnvStamp struct {
	Key string `json:"key"`

	// Present distinguishes an empty value from an unset variable.
	Present bool `json:"present"`

	Value string `json:"value,omitempty"`
}

// DirtyKind classifies why a unit must be rebuilt.
type DirtyKind uint8

const (
	// DirtyNoFingerprint means no previous successful run is recorded.
	DirtyNoFingerprint DirtyKind = iota

	// DirtyMetadata means the unit configuration, compiler or a
	// dependency changed.
	DirtyMetadata

	// DirtyMissingDepInfo means the recorded dep-info file disappeared.
	DirtyMissingDepInfo

	// DirtyMissingInput means a recorded input path no longer exists.
	DirtyMissingInput

	// DirtyChangedInput means a recorded input was modified.
	DirtyChangedInput

	// DirtyChangedEnv means a declared environment variable changed.
	DirtyChangedEnv
)

// String returns the reason name for verbose logs.
func (k DirtyKind) String() string {
	switch k {
	case DirtyNoFingerprint:
		return "no previous build"
	case DirtyMetadata:
		return "configuration changed"
	case DirtyMissingDepInfo:
		return "dep-info file missing"
	case DirtyMissingInput:
		return "input file missing"
	case DirtyChangedInput:
		return "input file changed"
	case DirtyChangedEnv:
		return "environment variable changed"
	}
	return "unknown"
}

// Dirty is a rebuild reason. A nil *Dirty means the unit is fresh.
type Dirty struct {
	Kind DirtyKind

	// Detail names the offending path or variable, empty when the kind
	// alone is specific enough.
	Detail string
}

// String renders the reason for verbose logs.
func (d *Dirty) String() string {
	if d.Detail == "" {
		return d.Kind.String()
	}
	return d.Kind.String() + ": " + d.Detail
}
