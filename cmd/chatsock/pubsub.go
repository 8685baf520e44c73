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

// defaultPingInterval keeps the PubSub connection alive when the config
// leaves it unset.
const defaultPingInterval = 4 * time.Minute

func pubsubCommand() *cli.Command {
	return &cli.Command{
		Name:  "pubsub",
		Usage: "Listen to PubSub topics and forward messages to the configured sinks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "PubSub websocket URL",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "OAuth token sent with LISTEN",
				EnvVars: []string{"CHATSOCK_TOKEN"},
			},
			&cli.StringSliceFlag{
				Name:  "topic",
				Usage: "Topic to listen to, e.g. whispers.44322889 (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "ping-interval",
				Usage: "Keepalive PING interval",
			},
		},
		Action: pubsubAction,
	}
}

func pubsubSettings(c *cli.Context, cfg config.PubSubConfig) config.PubSubConfig {
	if c.IsSet("endpoint") {
		cfg.Endpoint = c.String("endpoint")
	}
	if c.IsSet("token") {
		cfg.Token = c.String("token")
	}
	if c.IsSet("topic") {
		cfg.Topics = c.StringSlice("topic")
	}
	if c.IsSet("ping-interval") {
		cfg.PingInterval.Duration = c.Duration("ping-interval")
	}
	if cfg.PingInterval.Duration <= 0 {
		cfg.PingInterval.Duration = defaultPingInterval
	}
	return cfg
}

func pubsubAction(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer func() { _ = rt.Close() }()

	settings := pubsubSettings(c, rt.cfg.PubSub)
	if len(settings.Topics) == 0 {
		return cli.Exit("pubsub requires at least one --topic", exitFailure)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	disconnected := make(chan chatsocket.CloseReason, 1)
	transportOpts := append(transportOptions(rt.cfg.Transport, rt.logger),
		chatsocket.WithOnDisconnected(notifyDisconnect(disconnected)))

	client := chatsocket.NewPubSubClient(
		chatsocket.WithPubSubTransportOptions(transportOpts...),
		chatsocket.WithPingInterval(settings.PingInterval.Duration),
		chatsocket.WithOnPubSubMessage(func(m *chatsocket.PubSubMessage) {
			rec := sink.FromPubSubMessage(m, time.Now())
			rt.logger.Info("pubsub message", recordFields(rec))
			rt.out.Forward(rec)
		}),
		chatsocket.WithOnPubSubResponse(func(p *chatsocket.PubSubPacket) {
			if p.Error != "" {
				rt.logger.Error("pubsub request rejected", map[string]any{
					"nonce": p.Nonce,
					"error": p.Error,
				})
				return
			}
			rt.logger.Debug("pubsub request accepted", map[string]any{"nonce": p.Nonce})
		}),
		chatsocket.WithOnPubSubPong(func() {
			rt.logger.Debug("pubsub pong", nil)
		}),
		chatsocket.WithOnPubSubReconnect(func() {
			rt.logger.Warn("server requested reconnect", nil)
		}),
	)

	open, err := client.Connect(ctx, settings.Endpoint)
	if err == nil && !open {
		err = fmt.Errorf("connection to %s did not open", settings.Endpoint)
	}
	if err != nil {
		_ = client.Disconnect(context.Background())
		return cli.Exit(err.Error(), exitFailure)
	}

	nonce, err := client.Listen(ctx, settings.Token, settings.Topics...)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return cli.Exit(err.Error(), exitFailure)
	}
	rt.logger.Info("pubsub listening", map[string]any{
		"topics": settings.Topics,
		"nonce":  nonce,
	})

	return waitForExit(ctx, client, disconnected, rt)
}
