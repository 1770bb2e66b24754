package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatlink/internal/config"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				path := resolveConfigPath(configPath)
				cfg, err := config.Load(path)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: ok\n", path)
				fmt.Fprintf(out, "  push:        %s\n", cfg.Server.WSURL)
				fmt.Fprintf(out, "  api:         %s\n", cfg.Server.APIURL)
				fmt.Fprintf(out, "  credentials: %s\n", cfg.Credentials.Backend)
				fmt.Fprintf(out, "  fallback:    after %s, poll every %s\n", cfg.Fallback.Threshold, cfg.Fallback.PollInterval)
				return nil
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := config.JSONSchema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			},
		},
	)
	return cmd
}
