package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/app"
	"relaybot/internal/memory"
	logx "relaybot/pkg/logx"
)

func newFlushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Upload the persisted memory backlog once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath(cmd))
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "flush"))
			ev, err := app.FlushBacklog(ctx, cfg, log)
			switch {
			case errors.Is(err, memory.ErrNothingToFlush):
				fmt.Fprintln(cmd.OutOrStdout(), "backlog empty")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d entries (%d chars) in %s\n", ev.Entries, ev.Chars, ev.Took.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Minute, "Upper bound for the upload, retries included.")
	return cmd
}
