// Package main provides the chatlink CLI: a terminal client for the chat
// push channel with REST fallback.
//
// # Basic Usage
//
// Follow a room:
//
//	chatlink tail 42
//
// Send a message:
//
//	chatlink send --room 42 "hello"
//
// # Environment Variables
//
//   - CHATLINK_CONFIG: path to the configuration file
//   - CHATLINK_HOME: state directory (default ~/.chatlink)
//   - CHATLINK_ACCESS_TOKEN: access credential used when no store has one
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatlink/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatlink",
		Short: "Resilient chat client for the push channel",
		Long: `chatlink keeps a chat conversation flowing over a WebSocket push channel.

It reconnects with exponential backoff, queues outbound messages while offline,
and falls back to polling the REST API when the push channel stays down.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (or set CHATLINK_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(
		buildTailCmd(),
		buildSendCmd(),
		buildTokenCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("CHATLINK_CONFIG")); env != "" {
		return env
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatlink %s\n  commit: %s\n  built:  %s\n", version, commit, date)
		},
	}
}
