package main

import (
	"fmt"

	"github.com/edirooss/playout-server/internal/config"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build metadata",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "playout-server %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		},
	}
}
