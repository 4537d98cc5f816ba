package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run QUERY_ENDSTOPS once and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			quiet, _ := cmd.Flags().GetBool("quiet")
			asJSON, _ := cmd.Flags().GetBool("json")

			a, err := newApp(cmd.Context(), cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			line := "QUERY_ENDSTOPS"
			if quiet || asJSON {
				line += " QUIET"
			}
			if err := a.gcode.Run(cmd.Context(), line); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.endstops.GetStatus(0))
			}
			return nil
		},
	}
	cmd.Flags().BoolP("quiet", "q", false, "Query without printing the report")
	cmd.Flags().Bool("json", false, "Print the last_query status as JSON instead of the report")
	return cmd
}
