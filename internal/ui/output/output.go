// Package output provides utilities for creating termenv.Output with consistent
// color profile and TTY handling across the CLI.
package output

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// fdWriter is the subset of *os.File needed for terminal detection.
type fdWriter interface {
	Fd() uintptr
}

// ColorProfile returns the color profile for the writer. NO_COLOR forces
// plain output, as does any writer that is not a terminal (pipes, files,
// CI logs); terminals get their detected capabilities.
func ColorProfile(w io.Writer) termenv.Profile {
	if os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	f, ok := w.(fdWriter)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// New creates a new termenv.Output with the shared profile logic applied.
func New(w io.Writer, opts ...termenv.OutputOption) *termenv.Output {
	if w == nil {
		w = os.Stderr
	}

	opts = append(opts,
		termenv.WithProfile(ColorProfile(w)),
		termenv.WithTTY(true),
	)

	return termenv.NewOutput(w, opts...)
}

// NewWithProfile creates a new termenv.Output with a custom profile
// selector, used by tests to force a profile regardless of environment.
func NewWithProfile(w io.Writer, profileFn func() termenv.Profile, opts ...termenv.OutputOption) *termenv.Output {
	if w == nil {
		w = os.Stderr
	}

	opts = append(opts,
		termenv.WithProfile(profileFn()),
		termenv.WithTTY(true),
	)

	return termenv.NewOutput(w, opts...)
}
