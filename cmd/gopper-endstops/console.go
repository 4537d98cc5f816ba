package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive G-code console",
		Long: `Reads G-code lines from stdin and runs them, e.g. QUERY_ENDSTOPS, M119,
G4 P100 or HELP. "dict" prints the MCU dictionary summary; "quit" exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			a, err := newApp(cmd.Context(), cmd, out)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(out, "Enter commands (HELP lists them, quit exits):")
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					break
				}

				line := strings.TrimSpace(scanner.Text())
				switch strings.ToLower(line) {
				case "":
					continue
				case "quit", "exit", "q":
					return nil
				case "dict":
					fmt.Fprintln(out, a.mcu.Dictionary().Summary())
					continue
				}

				// Failures are already reported as "!! ..." lines
				_ = a.gcode.Run(cmd.Context(), line)

				if cmd.Context().Err() != nil {
					return nil
				}
			}
			return scanner.Err()
		},
	}
}
