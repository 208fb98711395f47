package jobserver_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"
	"golang.org/x/sys/unix"

	"freight.build/freight/internal/adapters/jobserver"
	"freight.build/freight/internal/core/ports/mocks"
)

func newLogger(t *testing.T) *mocks.MockLogger {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	return log
}

func TestAcquire_FirstTokenImplicit(t *testing.T) {
	pool := jobserver.New(newLogger(t), 1)

	// One job means zero granted tokens, yet the first acquire succeeds.
	tok, err := pool.Acquire(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(tok)
	tok2, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	pool.Release(tok2)
}

func TestAcquire_BoundsConcurrency(t *testing.T) {
	const jobs = 4
	pool := jobserver.New(newLogger(t), jobs)

	var mu sync.Mutex
	running, peak := 0, 0
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := pool.Acquire(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			pool.Release(tok)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, jobs)
	assert.Greater(t, peak, 0)
}

func TestFromEnv_NoJobserver(t *testing.T) {
	t.Setenv("CARGO_MAKEFLAGS", "")
	t.Setenv("MAKEFLAGS", "-j --no-print-directory")
	t.Setenv("MFLAGS", "")

	_, ok, err := jobserver.FromEnv(newLogger(t))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFromEnv_MalformedAuth(t *testing.T) {
	t.Setenv("CARGO_MAKEFLAGS", "--jobserver-auth=not-a-pair")
	t.Setenv("MAKEFLAGS", "")
	t.Setenv("MFLAGS", "")

	_, _, err := jobserver.FromEnv(newLogger(t))
	require.ErrorIs(t, err, jobserver.ErrJobserver)
}

func TestFromEnv_Fifo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens")
	require.NoError(t, unix.Mkfifo(path, 0o600))

	// Prefill two tokens so three units may run (one implicit).
	fifo, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer fifo.Close()
	_, err = fifo.Write([]byte("++"))
	require.NoError(t, err)

	t.Setenv("CARGO_MAKEFLAGS", "-j --jobserver-auth=fifo:"+path)
	t.Setenv("MAKEFLAGS", "")
	t.Setenv("MFLAGS", "")

	pool, ok, err := jobserver.FromEnv(newLogger(t))
	require.NoError(t, err)
	require.True(t, ok)
	defer pool.Close()

	first, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	second, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	third, err := pool.Acquire(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Releasing a granted token writes its byte back to the fifo.
	pool.Release(second)
	fourth, err := pool.Acquire(t.Context())
	require.NoError(t, err)

	pool.Release(first)
	pool.Release(third)
	pool.Release(fourth)
}

func TestFromEnv_LastFlagWins(t *testing.T) {
	first := filepath.Join(t.TempDir(), "a")
	second := filepath.Join(t.TempDir(), "b")
	require.NoError(t, unix.Mkfifo(first, 0o600))
	require.NoError(t, unix.Mkfifo(second, 0o600))
	keep, err := os.OpenFile(second, os.O_RDWR, 0)
	require.NoError(t, err)
	defer keep.Close()

	t.Setenv("CARGO_MAKEFLAGS", "--jobserver-auth=fifo:"+first+" --jobserver-auth=fifo:"+second)
	t.Setenv("MAKEFLAGS", "")
	t.Setenv("MFLAGS", "")

	_, err = keep.Write([]byte("+"))
	require.NoError(t, err)

	pool, ok, err := jobserver.FromEnv(newLogger(t))
	require.NoError(t, err)
	require.True(t, ok)
	defer pool.Close()

	// The token sits in the second fifo, so the later flag must have won.
	implicit, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	granted, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	pool.Release(granted)
	pool.Release(implicit)
}
