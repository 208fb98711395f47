package commands

import (
	"github.com/spf13/cobra"

	"freight.build/freight/internal/core/domain"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile the selected packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runBuild(cmd, &flags, domain.ModeBuild)
		},
	}
	addBuildFlags(cmd, &flags)
	return cmd
}

func (c *CLI) newCheckCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Type-check the selected packages without producing artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runBuild(cmd, &flags, domain.ModeCheck)
		},
	}
	addBuildFlags(cmd, &flags)
	return cmd
}

func (c *CLI) newDocCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Generate documentation for the selected packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runBuild(cmd, &flags, domain.ModeDoc)
		},
	}
	addBuildFlags(cmd, &flags)
	return cmd
}

func (c *CLI) runBuild(cmd *cobra.Command, flags *buildFlags, mode domain.CompileMode) error {
	req, err := flags.request(mode)
	if err != nil {
		return err
	}
	cwd, err := workingDir()
	if err != nil {
		return err
	}
	return c.app.Run(cmd.Context(), cwd, req, c.config)
}
