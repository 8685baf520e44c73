package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	chatsocket "github.com/chrisboulton/chatsocket-go"
	"github.com/chrisboulton/chatsocket-go/internal/config"
	"github.com/chrisboulton/chatsocket-go/internal/sink"
)

// defaultCapabilities are requested when the config names none.
var defaultCapabilities = []string{"twitch.tv/tags", "twitch.tv/commands"}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Join chat channels and forward messages to the configured sinks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Chat websocket URL",
			},
			&cli.StringFlag{
				Name:  "nick",
				Usage: "Login name",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "OAuth token, with or without the oauth: prefix",
				EnvVars: []string{"CHATSOCK_TOKEN"},
			},
			&cli.StringSliceFlag{
				Name:  "channel",
				Usage: "Channel to join (repeatable)",
			},
		},
		Action: chatAction,
	}
}

// chatSettings merges flags over the config file.
func chatSettings(c *cli.Context, cfg config.ChatConfig) config.ChatConfig {
	if c.IsSet("endpoint") {
		cfg.Endpoint = c.String("endpoint")
	}
	if c.IsSet("nick") {
		cfg.Nick = c.String("nick")
	}
	if c.IsSet("token") {
		cfg.Token = c.String("token")
	}
	if c.IsSet("channel") {
		cfg.Channels = c.StringSlice("channel")
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = defaultCapabilities
	}
	return cfg
}

func chatAction(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer func() { _ = rt.Close() }()

	settings := chatSettings(c, rt.cfg.Chat)
	if settings.Nick == "" || settings.Token == "" {
		return cli.Exit("chat requires --nick and --token", exitFailure)
	}
	if len(settings.Channels) == 0 {
		return cli.Exit("chat requires at least one --channel", exitFailure)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	disconnected := make(chan chatsocket.CloseReason, 1)
	onMessage := func(m *chatsocket.ChatMessage) {
		rec := sink.FromChatMessage(m, time.Now())
		rt.logger.Info("chat message", recordFields(rec))
		rt.out.Forward(rec)
	}

	transportOpts := append(transportOptions(rt.cfg.Transport, rt.logger),
		chatsocket.WithOnDisconnected(notifyDisconnect(disconnected)))
	client := chatsocket.NewChatClient(
		chatsocket.WithTransportOptions(transportOpts...),
		chatsocket.WithOnChatMessage(onMessage),
		chatsocket.WithOnWhisper(onMessage),
		chatsocket.WithOnReconnect(func() {
			rt.logger.Warn("server requested reconnect", nil)
		}),
	)

	if err := connectChat(ctx, client, settings); err != nil {
		_ = client.Disconnect(context.Background())
		return cli.Exit(err.Error(), exitFailure)
	}
	rt.logger.Info("chat connected", map[string]any{
		"endpoint": settings.Endpoint,
		"channels": settings.Channels,
	})

	return waitForExit(ctx, client, disconnected, rt)
}

func connectChat(ctx context.Context, client *chatsocket.ChatClient, settings config.ChatConfig) error {
	open, err := client.Connect(ctx, settings.Endpoint)
	if err != nil {
		return err
	}
	if !open {
		return fmt.Errorf("connection to %s did not open", settings.Endpoint)
	}

	if err := client.RequestCapabilities(ctx, settings.Capabilities...); err != nil {
		return err
	}
	if err := client.Authenticate(ctx, settings.Nick, settings.Token); err != nil {
		return err
	}
	for _, ch := range settings.Channels {
		if err := client.Join(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// disconnecter is the part of a client waitForExit needs.
type disconnecter interface {
	Disconnect(ctx context.Context) error
}

// waitForExit blocks until a signal or a disconnect and shuts the client down.
func waitForExit(ctx context.Context, client disconnecter, disconnected <-chan chatsocket.CloseReason, rt *runtime) error {
	select {
	case <-ctx.Done():
		rt.logger.Info("shutting down", nil)
		if err := client.Disconnect(context.Background()); err != nil {
			rt.logger.Warn("disconnect failed", map[string]any{"error": err.Error()})
		}
		return nil
	case reason := <-disconnected:
		rt.logger.Error("connection lost", map[string]any{"reason": string(reason)})
		return cli.Exit(fmt.Sprintf("connection lost: %s", reason), exitConnectionLost)
	}
}

func notifyDisconnect(ch chan<- chatsocket.CloseReason) func(chatsocket.CloseReason) {
	return func(reason chatsocket.CloseReason) {
		select {
		case ch <- reason:
		default:
		}
	}
}

// recordFields picks the fields worth a log line.
func recordFields(rec *sink.Record) map[string]any {
	fields := map[string]any{"kind": rec.Kind}
	switch rec.Kind {
	case sink.KindPubSub:
		fields["topic"] = rec.Topic
		if rec.MessageType != "" {
			fields["message_type"] = rec.MessageType
		}
	default:
		fields["channel"] = rec.Channel
		fields["user"] = rec.UserLogin
		fields["text"] = rec.Text
		if rec.Bits > 0 {
			fields["bits"] = rec.Bits
		}
	}
	return fields
}
