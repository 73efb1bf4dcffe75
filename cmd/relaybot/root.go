package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relaybot",
		Short:         "Relay Telegram chats to an AI endpoint and upload the conversation to memory",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			if err := config.LoadDotEnv(env); err != nil {
				return fmt.Errorf("load %s: %w", env, err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().String("config", "./config.json", "Config file path (.json, .yaml or .yml).")
	cmd.PersistentFlags().String("env", "./.env", "Dotenv file loaded before the config (missing file is ignored).")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newFlushCmd())
	return cmd
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return strings.TrimSpace(p)
}
