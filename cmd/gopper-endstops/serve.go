package main

import (
	"time"

	"github.com/spf13/cobra"

	"gopper-endstops/status"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve endstop status and G-code over HTTP",
		Long: `Connects to the MCU and serves /printer/objects/query, /printer/objects/list,
/printer/gcode/script and /metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			listen := a.cfg.Status.Listen
			if cmd.Flags().Changed("listen") {
				listen, _ = cmd.Flags().GetString("listen")
			}

			srv := status.NewServer(a.status,
				status.WithScriptRunner(a.gcode),
				status.WithGatherer(a.metrics),
				status.WithClock(func() float64 { return a.mcu.EstimatedPrintTime(time.Now()) }),
				status.WithLogger(a.log),
			)
			err = srv.ListenAndServe(cmd.Context(), listen)
			a.log.Info("status server stopped")
			return err
		},
	}
	cmd.Flags().StringP("listen", "l", "", "Listen address (overrides status.listen)")
	return cmd
}
