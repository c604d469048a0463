package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wirechat: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath   string
		overrides    config.Config
		token        string
		conversation string
	)

	cmd := &cobra.Command{
		Use:          "wirechat-client",
		Short:        "Interactive wirechat terminal client",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, overrides, token, conversation)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&overrides.ServerURL, "server", "", "WebSocket server URL")
	cmd.Flags().StringVar(&overrides.UserID, "user", "", "local user id")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&token, "token", os.Getenv("WIRECHAT_TOKEN"), "session token")
	cmd.Flags().StringVar(&conversation, "conversation", "general", "conversation to send into")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd.SetContext(ctx)
	cobra.OnFinalize(stop)
	return cmd
}

func run(ctx context.Context, configPath string, overrides config.Config, token, conversation string) error {
	if token == "" {
		return errors.New("no session token: pass --token or set WIRECHAT_TOKEN")
	}

	bootLog := log.New("info")
	cfg, path, err := config.Load(bootLog, configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(overrides)

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", path).Str("server", cfg.ServerURL).Msg("starting wirechat client")

	client, err := app.New(cfg, logger, app.Options{
		Tokens: auth.Static(token),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	go printChanges(ctx, client)

	fmt.Printf("Connected as %s in conversation %s.\n", cfg.UserID, conversation)
	fmt.Println("Type to send. Commands: /call /accept /reject /hangup /retry <temp-id> /quit")

	readInput(ctx, client, conversation)

	cancel()
	return <-done
}

func readInput(ctx context.Context, client *app.App, conversation string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			client.SetTyping(conversation, false)
			if _, err := client.SendMessage(conversation, line); err != nil {
				fmt.Printf("send: %v\n", err)
			}
			continue
		}

		fields := strings.Fields(line)
		var err error
		switch fields[0] {
		case "/quit":
			return
		case "/call":
			_, err = client.StartCall(conversation)
		case "/accept":
			err = client.AcceptCall()
		case "/reject":
			err = client.RejectCall()
		case "/hangup":
			err = client.EndCall()
		case "/retry":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: /retry <temp-id>")
			} else {
				err = client.RetryMessage(conversation, fields[1])
			}
		default:
			err = fmt.Errorf("unknown command %s", fields[0])
		}
		if err != nil {
			fmt.Printf("%s: %v\n", fields[0], err)
		}
	}
}

func printChanges(ctx context.Context, client *app.App) {
	conversations := client.SubscribeConversations()
	presence := client.SubscribePresence()
	calls := client.SubscribeCalls()
	status := client.SubscribeStatus()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-conversations:
			printMessage(c.Message)
		case c := <-presence:
			printPresence(c)
		case c := <-calls:
			printCall(c.Call)
		case s := <-status:
			fmt.Printf("-- connection %s\n", s)
		}
	}
}

func printMessage(m *core.Message) {
	if m == nil {
		return
	}
	switch m.Status {
	case core.StatusFailed:
		fmt.Printf("[%s] %s: %s (failed: %s, /retry %s)\n", m.ConversationID, m.SenderID, m.Body, m.FailReason, m.ClientTempID)
	case core.StatusPending:
		fmt.Printf("[%s] %s: %s (sending)\n", m.ConversationID, m.SenderID, m.Body)
	default:
		fmt.Printf("[%s] %s: %s (%s)\n", m.ConversationID, m.SenderID, m.Body, m.Status)
	}
}

func printPresence(c core.Change) {
	switch c.Kind {
	case core.ChangePresence:
		state := "offline"
		if c.Presence.Online {
			state = "online"
		}
		fmt.Printf("-- %s is %s\n", c.Presence.UserID, state)
	case core.ChangeTypingStarted:
		fmt.Printf("-- %s is typing in %s\n", c.UserID, c.ConversationID)
	case core.ChangeTypingStopped:
		fmt.Printf("-- %s stopped typing in %s\n", c.UserID, c.ConversationID)
	}
}

func printCall(info *core.CallInfo) {
	if info == nil {
		return
	}
	switch info.State {
	case core.CallIncomingOffer:
		fmt.Printf("** incoming call in %s (/accept or /reject)\n", info.ConversationID)
	case core.CallEnded:
		fmt.Printf("** call ended (%s)\n", info.EndReason)
	default:
		fmt.Printf("** call %s\n", info.State)
	}
}
