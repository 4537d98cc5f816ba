package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gopper-endstops/protocol"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of gopper-endstops",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gopper-endstops version %s (protocol %s)\n", version, protocol.Version)
		},
	}
}
