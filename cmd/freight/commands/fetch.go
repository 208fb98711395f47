package commands

import (
	"github.com/spf13/cobra"

	"freight.build/freight/internal/core/domain"
)

func (c *CLI) newFetchCmd() *cobra.Command {
	var locked, frozen, offline bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download every dependency the lockfile names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			req := &domain.BuildRequest{
				Mode:    domain.ModeBuild,
				Locked:  locked,
				Frozen:  frozen,
				Offline: offline,
			}
			return c.app.Fetch(cmd.Context(), cwd, req, c.config)
		},
	}
	cmd.Flags().BoolVar(&locked, "locked", false, "Require the lockfile to stay unchanged")
	cmd.Flags().BoolVar(&frozen, "frozen", false, "Require the lockfile to stay unchanged, without network access")
	cmd.Flags().BoolVar(&offline, "offline", false, "Run without network access")
	return cmd
}

func (c *CLI) newGenerateLockfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-lockfile",
		Short: "Re-resolve dependencies and write the lockfile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			return c.app.GenerateLockfile(cmd.Context(), cwd, c.config)
		},
	}
}

func (c *CLI) newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the build output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			return c.app.Clean(cmd.Context(), cwd, c.config)
		},
	}
}
