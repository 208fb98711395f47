package commands_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight.build/freight/cmd/freight/commands"
	"freight.build/freight/internal/adapters/cachelock"
	"freight.build/freight/internal/adapters/compiler"
	"freight.build/freight/internal/adapters/config"
	"freight.build/freight/internal/adapters/fingerprint"
	"freight.build/freight/internal/adapters/lockfile"
	"freight.build/freight/internal/adapters/logger"
	"freight.build/freight/internal/adapters/manifest"
	"freight.build/freight/internal/adapters/registry"
	"freight.build/freight/internal/adapters/telemetry"
	"freight.build/freight/internal/app"
)

func newCLI(t *testing.T) *commands.CLI {
	t.Helper()
	log := logger.New()
	parser := manifest.NewParser(log)
	a := app.New(
		log,
		telemetry.NewNoOpTracer(),
		compiler.NewExecutor(log),
		config.NewLoader(log),
		manifest.NewLoader(log, parser),
		registry.New(log, parser, nil, t.TempDir()),
		lockfile.NewStore(log),
		fingerprint.NewStore(log),
		cachelock.New(log, t.TempDir()),
	)
	return commands.New(a)
}

func TestRoot_Help(t *testing.T) {
	cli := newCLI(t)
	cli.SetArgs([]string{"--help"})
	require.NoError(t, cli.Execute(t.Context()))
}

func TestVersionCommand(t *testing.T) {
	cli := newCLI(t)
	cli.SetArgs([]string{"version"})
	require.NoError(t, cli.Execute(t.Context()))
}

func TestBuild_InvalidMessageFormat(t *testing.T) {
	cli := newCLI(t)
	cli.SetArgs([]string{"build", "--message-format", "xml"})
	err := cli.Execute(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message format")
}

func TestBuild_InvalidPackageSpec(t *testing.T) {
	cli := newCLI(t)
	cli.SetArgs([]string{"build", "-p", "@1.0"})
	require.Error(t, cli.Execute(t.Context()))
}

func TestBuild_ReleaseConflictsWithProfile(t *testing.T) {
	cli := newCLI(t)
	cli.SetArgs([]string{"build", "--release", "--profile", "dev"})
	err := cli.Execute(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--release conflicts with --profile")
}

func TestUnknownCommand(t *testing.T) {
	cli := newCLI(t)
	cli.SetArgs([]string{"install"})
	require.Error(t, cli.Execute(t.Context()))
}
