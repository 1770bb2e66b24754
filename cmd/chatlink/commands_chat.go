package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatlink/internal/chat"
	"github.com/haasonsaas/chatlink/pkg/models"
)

func scopeFor(room string) chat.Scope {
	room = strings.TrimSpace(room)
	if room == "" || room == "general" {
		return chat.General()
	}
	return chat.Room(models.ID(room))
}

func buildTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail [room]",
		Short: "Follow a room (or the general channel) and print events as JSON lines",
		Example: `  # Follow the general channel
  chatlink tail

  # Follow room 42
  chatlink tail 42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := ""
			if len(args) == 1 {
				room = args[0]
			}
			return runTail(cmd, scopeFor(room))
		},
	}
}

func runTail(cmd *cobra.Command, scope chat.Scope) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := startRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	stopRun := rt.run(ctx)
	defer stopRun()

	printer := newEventPrinter(cmd.OutOrStdout())
	if _, err := rt.client.OnModeChange(ctx, printer.modeChange); err != nil {
		return err
	}
	if err := connectScope(ctx, rt, scope, printer.handlers()); err != nil && ctx.Err() == nil {
		// The connection keeps retrying in the background.
		rt.logger.Warn("initial connect did not complete", "scope", scope, "error", err)
	}
	<-ctx.Done()
	return nil
}

func connectScope(ctx context.Context, rt *runtime, scope chat.Scope, h chat.Handlers) error {
	if scope.IsRoom() {
		return rt.client.ConnectToRoom(ctx, scope.RoomID, h)
	}
	return rt.client.ConnectToGeneral(ctx, h)
}

func buildSendCmd() *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:     "send <message>",
		Short:   "Send a message and exit",
		Example: `  chatlink send --room 42 "hello"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, scopeFor(room), strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&room, "room", "r", "", "Room id (default: general channel)")
	return cmd
}

func runSend(cmd *cobra.Command, scope chat.Scope, content string) error {
	if strings.TrimSpace(content) == "" {
		return chat.ErrEmptyContent
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := startRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	stopRun := rt.run(ctx)
	defer stopRun()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Session.ConnectTimeout+time.Second)
	defer cancel()
	if err := connectScope(connectCtx, rt, scope, chat.Handlers{}); err != nil {
		return fmt.Errorf("connect to %s: %w", scope, err)
	}
	if err := rt.client.SendMessage(ctx, scope, content); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", scope)
	return nil
}
