// Package flock wraps the platform advisory file lock used to guard the
// package cache and the build output directory.
package flock
