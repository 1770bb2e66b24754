package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatlink/internal/auth"
	"github.com/haasonsaas/chatlink/internal/client"
)

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and manage the stored access credential",
	}
	cmd.AddCommand(buildTokenShowCmd(), buildTokenSetCmd(), buildTokenClearCmd())
	return cmd
}

func openCredentials() (*client.Credentials, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.Logging)
	creds, err := client.OpenCredentials(cfg.Credentials, logger)
	return creds, logger, err
}

func buildTokenShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active credential's subject and expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, logger, err := openCredentials()
			if err != nil {
				return err
			}
			defer creds.Close()
			guard := auth.NewGuard(logger, creds.Sources()...)
			tokens, err := guard.Tokens()
			if err != nil {
				return err
			}
			return printToken(cmd.OutOrStdout(), tokens, time.Now())
		},
	}
}

func printToken(w io.Writer, tokens auth.Tokens, now time.Time) error {
	if tokens.Access == "" {
		return auth.ErrNoCredential
	}
	fmt.Fprintf(w, "access:  %s\n", maskToken(tokens.Access))
	if tokens.Refresh != "" {
		fmt.Fprintf(w, "refresh: %s\n", maskToken(tokens.Refresh))
	}
	claims, err := auth.ParseClaims(tokens.Access)
	if err != nil {
		fmt.Fprintln(w, "format:  opaque")
		return nil
	}
	if claims.UserID != "" {
		fmt.Fprintf(w, "user:    %s\n", claims.UserID)
	}
	if claims.Email != "" {
		fmt.Fprintf(w, "email:   %s\n", claims.Email)
	}
	if exp, ok := auth.TokenExpiry(tokens.Access); ok {
		state := "valid"
		if !now.Before(exp) {
			state = "expired"
		}
		fmt.Fprintf(w, "expires: %s (%s)\n", exp.UTC().Format(time.RFC3339), state)
	}
	return nil
}

// maskToken keeps the first and last four characters.
func maskToken(s string) string {
	if len(s) <= 12 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", 8) + s[len(s)-4:]
}

func buildTokenSetCmd() *cobra.Command {
	var access, refresh string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a credential in the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			access = strings.TrimSpace(access)
			if access == "" {
				return errors.New("--access is required")
			}
			creds, _, err := openCredentials()
			if err != nil {
				return err
			}
			defer creds.Close()
			if err := creds.Save(cmd.Context(), auth.Tokens{Access: access, Refresh: strings.TrimSpace(refresh)}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credential stored")
			return nil
		},
	}
	cmd.Flags().StringVar(&access, "access", "", "Access token")
	cmd.Flags().StringVar(&refresh, "refresh", "", "Refresh token")
	return cmd
}

func buildTokenClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the credential from every store",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, _, err := openCredentials()
			if err != nil {
				return err
			}
			defer creds.Close()
			if err := creds.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credential cleared")
			return nil
		},
	}
}
