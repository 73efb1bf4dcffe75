package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"relaybot/internal/app"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the config, then print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range app.Summary(cfg) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, "config ok")
			return nil
		},
	}
}
