// Package layout owns the build output directory: it computes the
// per-profile directory tree, names per-unit subdirectories, and holds an
// exclusive advisory lock on the tree while a build mutates it.
package layout

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/adapters/flock"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// lockFileName is the advisory lock guarding a profile output tree.
const lockFileName = ".cargo-lock"

// retryInterval is how often a contended acquisition retries.
const retryInterval = 100 * time.Millisecond

// Layout is the output tree for one (target dir, compile kind, profile)
// combination. Host units and explicit-triple units get separate trees.
type Layout struct {
	logger ports.Logger

	// root is the workspace target directory.
	root string

	// dest is the profile directory artifacts land in.
	dest string

	lock *os.File
}

// New computes the layout rooted at the workspace target directory. An
// explicit compile kind inserts its triple between the root and the
// profile directory.
func New(logger ports.Logger, targetDir string, kind domain.CompileKind, profileDir string) *Layout {
	dest := targetDir
	if !kind.IsHost() {
		dest = filepath.Join(dest, kind.String())
	}
	dest = filepath.Join(dest, profileDir)
	return &Layout{logger: logger, root: targetDir, dest: dest}
}

// Root returns the workspace target directory.
func (l *Layout) Root() string { return l.root }

// Dest returns the profile directory final artifacts are placed in.
func (l *Layout) Dest() string { return l.dest }

// DepsDir returns the directory for intermediate rlib/rmeta artifacts.
func (l *Layout) DepsDir() string {
	return filepath.Join(l.dest, domain.DepsDirName)
}

// BuildDir returns the directory holding build script workspaces.
func (l *Layout) BuildDir() string {
	return filepath.Join(l.dest, domain.BuildDirName)
}

// FingerprintDir returns the directory holding unit fingerprints.
func (l *Layout) FingerprintDir() string {
	return filepath.Join(l.dest, domain.FingerprintDirName)
}

// ExamplesDir returns the directory final example artifacts are placed in.
func (l *Layout) ExamplesDir() string {
	return filepath.Join(l.dest, domain.ExamplesDirName)
}

// DocDir returns the documentation output directory. Documentation is
// shared across profiles.
func (l *Layout) DocDir() string {
	return filepath.Join(l.root, "doc")
}

// UnitBuildDir returns the build script workspace of a unit. It holds the
// script executable for compile units and OUT_DIR plus captured output
// for run units.
func (l *Layout) UnitBuildDir(u *domain.Unit) string {
	return filepath.Join(l.BuildDir(), UnitDirName(u))
}

// OutDir returns the writable OUT_DIR a build script run populates.
func (l *Layout) OutDir(u *domain.Unit) string {
	return filepath.Join(l.UnitBuildDir(u), "out")
}

// UnitFingerprintDir returns the fingerprint directory of a unit.
func (l *Layout) UnitFingerprintDir(u *domain.Unit) string {
	return filepath.Join(l.FingerprintDir(), UnitDirName(u))
}

// Prepare creates the output tree and takes the exclusive build lock,
// blocking until any concurrent build of the same tree finishes.
func (l *Layout) Prepare(ctx context.Context) error {
	dirs := []string{
		l.DepsDir(),
		l.BuildDir(),
		l.FingerprintDir(),
		l.ExamplesDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
			return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "dir", dir)
		}
	}
	return l.acquireLock(ctx)
}

// Release drops the build lock. Safe to call when Prepare failed.
func (l *Layout) Release() {
	if l.lock == nil {
		return
	}
	flock.Unlock(l.lock)
	l.lock.Close()
	l.lock = nil
}

func (l *Layout) acquireLock(ctx context.Context) error {
	path := filepath.Join(l.dest, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, domain.FilePerm) //nolint:gosec // path under target dir
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", path)
	}

	acquired, err := flock.TryLock(file, true)
	if err != nil {
		file.Close()
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", path)
	}
	if acquired {
		l.lock = file
		return nil
	}

	l.logger.Status("Blocking", "waiting for file lock on build directory")
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			file.Close()
			return zerr.Wrap(domain.ErrIo, ctx.Err().Error())
		case <-ticker.C:
			acquired, err := flock.TryLock(file, true)
			if err != nil {
				file.Close()
				return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", path)
			}
			if acquired {
				l.lock = file
				return nil
			}
		}
	}
}

// UnitDirName returns the directory name a unit owns under build/ and
// .fingerprint/: the crate name plus a hash of the unit's identity, so
// distinct units never collide.
func UnitDirName(u *domain.Unit) string {
	return crateName(u.Target.Name.String()) + "-" + UnitHash(u)
}

// UnitHash returns the 16-hex-digit hash distinguishing a unit from every
// other compilation of the same crate. The same hash is passed to the
// compiler as -C metadata so symbol names stay distinct too.
func UnitHash(u *domain.Unit) string {
	h := xxhash.New()
	writeField(h, u.Pkg.ID.Name())
	writeField(h, u.Pkg.ID.Version().String())
	writeField(h, u.Pkg.ID.Source().String())
	writeField(h, u.Target.Kind.String())
	writeField(h, u.Target.Name.String())
	writeField(h, u.Mode.String())
	writeField(h, u.Kind.String())
	writeField(h, u.FeaturesKey())
	writeField(h, u.Artifact)
	writeProfile(h, u.Profile)

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], h.Sum64())
	return hex.EncodeToString(sum[:])
}

func writeField(h *xxhash.Digest, s string) {
	_, _ = h.WriteString(s)
	_, _ = h.Write([]byte{0})
}

func writeProfile(h *xxhash.Digest, p domain.Profile) {
	writeField(h, p.Name)
	writeField(h, p.OptLevel)
	writeField(h, strconv.FormatUint(uint64(p.Debug), 10))
	writeField(h, strconv.FormatBool(p.DebugAssertions))
	writeField(h, strconv.FormatBool(p.OverflowChecks))
	writeField(h, string(p.Lto))
	writeField(h, strconv.FormatUint(uint64(p.CodegenUnits), 10))
	writeField(h, string(p.Panic))
	writeField(h, strconv.FormatBool(p.Incremental))
	writeField(h, p.Strip)
	writeField(h, strconv.FormatBool(p.Rpath))
}

func crateName(target string) string {
	return strings.ReplaceAll(target, "-", "_")
}
