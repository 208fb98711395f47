package commands

import (
	"github.com/spf13/cobra"

	"freight.build/freight/internal/core/domain"
)

func (c *CLI) newTestCmd() *cobra.Command {
	var flags buildFlags
	var noRun bool
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Build and run the test harnesses of the selected packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runHarness(cmd, &flags, domain.ModeTest, noRun)
		},
	}
	addBuildFlags(cmd, &flags)
	cmd.Flags().BoolVar(&noRun, "no-run", false, "Build the harnesses without running them")
	return cmd
}

func (c *CLI) newBenchCmd() *cobra.Command {
	var flags buildFlags
	var noRun bool
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Build and run the benchmarks of the selected packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runHarness(cmd, &flags, domain.ModeBench, noRun)
		},
	}
	addBuildFlags(cmd, &flags)
	cmd.Flags().BoolVar(&noRun, "no-run", false, "Build the benchmarks without running them")
	return cmd
}

func (c *CLI) runHarness(cmd *cobra.Command, flags *buildFlags, mode domain.CompileMode, noRun bool) error {
	req, err := flags.request(mode)
	if err != nil {
		return err
	}
	req.NoRun = noRun
	cwd, err := workingDir()
	if err != nil {
		return err
	}
	return c.app.Run(cmd.Context(), cwd, req, c.config)
}
