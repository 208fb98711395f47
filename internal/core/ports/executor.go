package ports

import (
	"context"
	"io"
)

// Command describes one subprocess invocation.
type Command struct {
	// Program is the executable to run.
	Program string

	// Args are the arguments, not including the program name.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is the complete environment in "KEY=VALUE" form. A nil Env
	// inherits the process environment.
	Env []string
}

// Executor runs subprocesses: the compiler, build scripts and source
// control commands.
//
//go:generate mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	// Execute runs the command, streaming its output to stdout and
	// stderr. It returns an error wrapping the exit status when the
	// command fails.
	Execute(ctx context.Context, cmd Command, stdout, stderr io.Writer) error
}
