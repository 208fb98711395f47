//go:build !unix

package flock

import "os"

// TryLock on platforms without flock degrades to no coordination; the
// lock file still marks ownership for diagnostics.
func TryLock(_ *os.File, _ bool) (bool, error) {
	return true, nil
}

// Unlock is a no-op without flock support.
func Unlock(_ *os.File) {}
