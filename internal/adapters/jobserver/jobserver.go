// Package jobserver bounds the number of concurrently running compiler
// processes. The pool normally hands out in-process tokens; when the
// environment carries a GNU-make-style jobserver, acquisition delegates
// to it so nested builds share one host-wide CPU budget.
package jobserver

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/ports"
)

// ErrJobserver is returned for malformed jobserver environment values.
var ErrJobserver = zerr.New("invalid jobserver configuration")

// Token is one granted slot. The implicit token is the slot every build
// owns for free; it is never backed by a jobserver byte.
type Token struct {
	implicit bool
	b        byte
}

// Pool grants job tokens. The first acquisition is satisfied by the
// implicit token and never blocks.
type Pool struct {
	logger ports.Logger

	mu           sync.Mutex
	implicitHeld bool

	// local is the in-process token bucket, nil when an external
	// jobserver is used.
	local chan struct{}

	// external jobserver pipe ends, nil for local pools.
	read  *os.File
	write *os.File

	// tokens carries bytes read from the external jobserver by the
	// background reader.
	tokens chan byte
	done   chan struct{}
}

// New creates a local pool allowing jobs concurrent units. The implicit
// token counts against the budget, so jobs-1 real tokens exist.
func New(logger ports.Logger, jobs int) *Pool {
	if jobs < 1 {
		jobs = 1
	}
	return &Pool{
		logger: logger,
		local:  make(chan struct{}, jobs-1),
	}
}

// FromEnv inherits a jobserver from CARGO_MAKEFLAGS or MAKEFLAGS. The
// second return is false when no jobserver is advertised.
func FromEnv(logger ports.Logger) (*Pool, bool, error) {
	for _, key := range []string{"CARGO_MAKEFLAGS", "MAKEFLAGS", "MFLAGS"} {
		flags := os.Getenv(key)
		if flags == "" {
			continue
		}
		auth, ok := parseAuth(flags)
		if !ok {
			continue
		}
		pool, err := fromAuth(logger, auth)
		if err != nil {
			return nil, false, err
		}
		return pool, true, nil
	}
	return nil, false, nil
}

// parseAuth extracts the value of the last jobserver flag in a MAKEFLAGS
// string. Later flags override earlier ones, as make does.
func parseAuth(flags string) (string, bool) {
	var auth string
	found := false
	for _, field := range strings.Fields(flags) {
		for _, prefix := range []string{"--jobserver-auth=", "--jobserver-fds="} {
			if value, ok := strings.CutPrefix(field, prefix); ok {
				auth = value
				found = true
			}
		}
	}
	return auth, found
}

func fromAuth(logger ports.Logger, auth string) (*Pool, error) {
	if path, ok := strings.CutPrefix(auth, "fifo:"); ok {
		file, err := os.OpenFile(path, os.O_RDWR, 0) //nolint:gosec // path advertised by the parent make
		if err != nil {
			return nil, zerr.With(zerr.Wrap(ErrJobserver, err.Error()), "fifo", path)
		}
		return newExternal(logger, file, file), nil
	}

	readFD, writeFD, ok := strings.Cut(auth, ",")
	if !ok {
		return nil, zerr.With(ErrJobserver, "auth", auth)
	}
	r, err1 := strconv.Atoi(readFD)
	w, err2 := strconv.Atoi(writeFD)
	if err1 != nil || err2 != nil || r < 0 || w < 0 {
		return nil, zerr.With(ErrJobserver, "auth", auth)
	}
	return newExternal(logger, os.NewFile(uintptr(r), "jobserver-read"), os.NewFile(uintptr(w), "jobserver-write")), nil
}

// newExternal wraps inherited pipe ends. A background goroutine performs
// the blocking reads so Acquire stays cancellable.
func newExternal(logger ports.Logger, read, write *os.File) *Pool {
	p := &Pool{
		logger: logger,
		read:   read,
		write:  write,
		tokens: make(chan byte),
		done:   make(chan struct{}),
	}
	go p.reader()
	return p
}

func (p *Pool) reader() {
	buf := make([]byte, 1)
	for {
		n, err := p.read.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		select {
		case p.tokens <- buf[0]:
		case <-p.done:
			// Nobody is waiting anymore; return the token.
			_, _ = p.write.Write(buf[:1])
			return
		}
	}
}

// Acquire blocks until a token is free or the context is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Token, error) {
	p.mu.Lock()
	if !p.implicitHeld {
		p.implicitHeld = true
		p.mu.Unlock()
		return &Token{implicit: true}, nil
	}
	p.mu.Unlock()

	if p.local != nil {
		select {
		case p.local <- struct{}{}:
			return &Token{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case b := <-p.tokens:
		return &Token{b: b}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a token to the pool.
func (p *Pool) Release(tok *Token) {
	if tok == nil {
		return
	}
	if tok.implicit {
		p.mu.Lock()
		p.implicitHeld = false
		p.mu.Unlock()
		return
	}
	if p.local != nil {
		<-p.local
		return
	}
	if _, err := p.write.Write([]byte{tok.b}); err != nil {
		p.logger.Warn("failed to return a token to the jobserver: " + err.Error())
	}
}

// Slot acquires a token and returns its release function. It adapts the
// pool to consumers that should not know about Token.
func (p *Pool) Slot(ctx context.Context) (func(), error) {
	tok, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return func() { p.Release(tok) }, nil
}

// Close stops the background reader of an external pool.
func (p *Pool) Close() {
	if p.done != nil {
		close(p.done)
	}
}
