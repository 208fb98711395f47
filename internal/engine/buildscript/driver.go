package buildscript

import (
	"bytes"
	"context"
	"os"
	"strings"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Driver executes build scripts and persists their output for replay.
type Driver struct {
	exec ports.Executor
	log  ports.Logger
}

// NewDriver returns a driver running scripts through the executor.
func NewDriver(exec ports.Executor, log ports.Logger) *Driver {
	return &Driver{exec: exec, log: log}
}

// Invocation describes one build script run.
type Invocation struct {
	// Unit is the script run unit.
	Unit *domain.Unit

	// Script is the path of the compiled build script executable.
	Script string

	// OutDir is the writable directory exposed as OUT_DIR.
	OutDir string

	// OutputPath is where the raw stdout is persisted for replay.
	OutputPath string

	// Env is the synthesized contract environment, layered over the
	// inherited process environment.
	Env []domain.EnvVar
}

// Run executes the script from the package root, captures its stdout,
// persists it and parses the directives. A non-zero exit or any error
// directive fails the run.
func (d *Driver) Run(ctx context.Context, inv Invocation) (*domain.BuildOutput, error) {
	if err := os.MkdirAll(inv.OutDir, domain.DirPerm); err != nil {
		return nil, zerr.Wrap(domain.ErrIo, err.Error())
	}

	env := os.Environ()
	for _, v := range inv.Env {
		env = append(env, v.Key+"="+v.Value)
	}

	var stdout, stderr bytes.Buffer
	execErr := d.exec.Execute(ctx, ports.Command{
		Program: inv.Script,
		Dir:     inv.Unit.Pkg.Root(),
		Env:     env,
	}, &stdout, &stderr)

	// Persist whatever was emitted even on failure so the output can be
	// inspected.
	if err := os.WriteFile(inv.OutputPath, stdout.Bytes(), domain.FilePerm); err != nil {
		return nil, zerr.Wrap(domain.ErrIo, err.Error())
	}

	if execErr != nil {
		err := zerr.With(
			zerr.Wrap(domain.ErrBuildScript, "build script failed"),
			"package", inv.Unit.Pkg.ID.SpecString())
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = zerr.With(err, "stderr", msg)
		}
		return nil, err
	}

	out, err := ParseOutput(stdout.Bytes(), inv.Unit.Pkg.RustVersion)
	if err != nil {
		return nil, zerr.With(err, "package", inv.Unit.Pkg.ID.SpecString())
	}
	d.warn(inv.Unit, out)
	return out, nil
}

// Replay reloads the persisted stdout of an earlier run and parses it
// again, so fresh script units still contribute their directives.
func (d *Driver) Replay(u *domain.Unit, outputPath string) (*domain.BuildOutput, error) {
	data, err := os.ReadFile(outputPath) //nolint:gosec // path under target dir
	if err != nil {
		return nil, zerr.With(
			zerr.Wrap(domain.ErrIo, "build script output is missing"),
			"path", outputPath)
	}
	out, parseErr := ParseOutput(data, u.Pkg.RustVersion)
	if parseErr != nil {
		return nil, zerr.With(parseErr, "package", u.Pkg.ID.SpecString())
	}
	d.warn(u, out)
	return out, nil
}

func (d *Driver) warn(u *domain.Unit, out *domain.BuildOutput) {
	for _, w := range out.Warnings {
		d.log.Warn(u.Pkg.ID.Name() + ": " + w)
	}
}
