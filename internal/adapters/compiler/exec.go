package compiler

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Executor implements ports.Executor using os/exec.
type Executor struct {
	logger ports.Logger
}

// NewExecutor creates a subprocess executor.
func NewExecutor(logger ports.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs the command, streaming output to the given writers. The
// returned error carries the exit code when the process fails.
func (e *Executor) Execute(ctx context.Context, command ports.Command, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, command.Program, command.Args...) //nolint:gosec // program resolved from configuration
	cmd.Dir = command.Dir
	if command.Env != nil {
		cmd.Env = command.Env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.logger.Verbose("Running", command.Program+" "+argsPreview(command.Args))
	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return zerr.With(zerr.With(zerr.Wrap(err, "process exited unsuccessfully"), "program", command.Program), "exit_code", exitCode)
	}
	return nil
}

// Materialize renders a process plan as a runnable command, overlaying
// its variables onto the parent environment. Later entries win, so plan
// variables shadow inherited ones.
func Materialize(plan domain.ProcessPlan) ports.Command {
	env := os.Environ()
	for _, v := range plan.Env {
		env = append(env, v.Key+"="+v.Value)
	}
	return ports.Command{
		Program: plan.Program,
		Args:    plan.Args,
		Dir:     plan.Dir,
		Env:     env,
	}
}

// argsPreview keeps verbose logs readable for very long command lines.
func argsPreview(args []string) string {
	const max = 16
	if len(args) <= max {
		return strings.Join(args, " ")
	}
	return strings.Join(args[:max], " ") + " ..."
}
