// Package commands implements the CLI commands for the freight build tool.
package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"freight.build/freight/internal/app"
	"freight.build/freight/internal/build"
)

// CLI represents the command line interface for freight.
type CLI struct {
	app     *app.App
	rootCmd *cobra.Command

	// config holds --config overrides, applied as the highest-precedence
	// configuration layer.
	config []string
}

// New creates a new CLI instance with the given app.
func New(a *app.App) *CLI {
	rootCmd := &cobra.Command{
		Use:           "freight",
		Short:         "A source-based package manager and build tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	c := &CLI{
		app:     a,
		rootCmd: rootCmd,
	}
	rootCmd.PersistentFlags().StringArrayVar(&c.config, "config", nil,
		"Override a configuration value (KEY=VALUE)")

	rootCmd.AddCommand(
		c.newBuildCmd(),
		c.newCheckCmd(),
		c.newTestCmd(),
		c.newBenchCmd(),
		c.newDocCmd(),
		c.newFetchCmd(),
		c.newGenerateLockfileCmd(),
		c.newCleanCmd(),
		c.newVersionCmd(),
	)
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

func workingDir() (string, error) {
	return os.Getwd()
}
