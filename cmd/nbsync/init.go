package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nbsync/internal/config"
	"nbsync/internal/domain"
)

// newInitCmd writes an example config file to fill in
func newInitCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := g.configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &domain.FatalError{Component: "config", Err: fmt.Errorf("%s already exists (use --force to overwrite)", path)}
			}
			if err := config.Example().Save(path); err != nil {
				return &domain.FatalError{Component: "config", Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote example config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
