// Package cachelock guards the shared package cache (downloads,
// extracted sources, git checkouts) with named advisory locks under the
// cache root. Three modes exist: shared for readers, download-exclusive
// for fetching new versions, and mutate-exclusive for operations that
// rewrite shared state. Mutation takes a second lock file so it also
// excludes every downloader.
package cachelock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/adapters/flock"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Mode selects the cache lock flavor.
type Mode uint8

const (
	// ModeShared allows concurrent readers of extracted sources.
	ModeShared Mode = iota

	// ModeDownloadExclusive serializes downloading of new versions.
	ModeDownloadExclusive

	// ModeMutateExclusive serializes cache-rewriting operations (index
	// updates, garbage collection) against readers and downloaders.
	ModeMutateExclusive
)

// String returns the mode name for diagnostics.
func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "shared"
	case ModeDownloadExclusive:
		return "download"
	case ModeMutateExclusive:
		return "mutate"
	}
	return "unknown"
}

// retryInterval is how often a contended acquisition retries.
const retryInterval = 100 * time.Millisecond

// Locker acquires cache locks under one cache root.
type Locker struct {
	root   string
	logger ports.Logger
}

// New creates a Locker for the cache root directory.
func New(logger ports.Logger, root string) *Locker {
	return &Locker{root: root, logger: logger}
}

// Lock is a held cache lock. Release must be called exactly once.
type Lock struct {
	files []*os.File
}

// Release drops the lock.
func (l *Lock) Release() {
	for i := len(l.files) - 1; i >= 0; i-- {
		flock.Unlock(l.files[i])
		l.files[i].Close()
	}
	l.files = nil
}

// Acquire takes the cache lock in the given mode, blocking until it is
// available or the context is cancelled. Contention is announced once on
// the status line.
func (l *Locker) Acquire(ctx context.Context, mode Mode) (*Lock, error) {
	if err := os.MkdirAll(l.root, domain.DirPerm); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrCacheLock, err.Error()), "root", l.root)
	}

	lock := &Lock{}
	for _, step := range lockSteps(mode) {
		file, err := l.acquireFile(ctx, step.name, step.exclusive)
		if err != nil {
			lock.Release()
			return nil, err
		}
		lock.files = append(lock.files, file)
	}
	return lock, nil
}

type lockStep struct {
	name      string
	exclusive bool
}

// lockSteps returns the lock files a mode takes, in acquisition order.
// The fixed order prevents deadlock between concurrent mutators.
func lockSteps(mode Mode) []lockStep {
	switch mode {
	case ModeShared:
		return []lockStep{{domain.CacheLockFileName, false}}
	case ModeDownloadExclusive:
		return []lockStep{{domain.CacheLockFileName, true}}
	case ModeMutateExclusive:
		return []lockStep{
			{domain.MutateLockFileName, true},
			{domain.CacheLockFileName, true},
		}
	}
	return nil
}

func (l *Locker) acquireFile(ctx context.Context, name string, exclusive bool) (*os.File, error) {
	path := filepath.Join(l.root, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, domain.FilePerm) //nolint:gosec // path under cache root
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrCacheLock, err.Error()), "path", path)
	}

	acquired, err := flock.TryLock(file, exclusive)
	if err != nil {
		file.Close()
		return nil, zerr.With(zerr.Wrap(domain.ErrCacheLock, err.Error()), "path", path)
	}
	if acquired {
		return file, nil
	}

	l.logger.Status("Blocking", "waiting for file lock on package cache")
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			file.Close()
			return nil, zerr.Wrap(domain.ErrCacheLock, ctx.Err().Error())
		case <-ticker.C:
			acquired, err := flock.TryLock(file, exclusive)
			if err != nil {
				file.Close()
				return nil, zerr.With(zerr.Wrap(domain.ErrCacheLock, err.Error()), "path", path)
			}
			if acquired {
				return file, nil
			}
		}
	}
}
