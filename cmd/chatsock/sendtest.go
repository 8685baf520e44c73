package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	chatsocket "github.com/chrisboulton/chatsocket-go"
	"github.com/chrisboulton/chatsocket-go/internal/sink"
)

func sendTestCommand() *cli.Command {
	return &cli.Command{
		Name:  "send-test",
		Usage: "Connect to the mock chat service and send a test message",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "message",
				Aliases:  []string{"m"},
				Usage:    "Test command, e.g. \"subscription --tier 2\"",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Mock chat websocket URL",
				Value: chatsocket.MockChatURL,
			},
			&cli.StringFlag{
				Name:  "nick",
				Usage: "Login name",
				Value: "chatsock",
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to log replies before disconnecting",
				Value: 3 * time.Second,
			},
		},
		Action: sendTestAction,
	}
}

func sendTestAction(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer func() { _ = rt.Close() }()

	onMessage := func(m *chatsocket.ChatMessage) {
		rec := sink.FromChatMessage(m, time.Now())
		rt.logger.Info("chat message", recordFields(rec))
		rt.out.Forward(rec)
	}
	client := chatsocket.NewChatClient(
		chatsocket.WithTransportOptions(transportOptions(rt.cfg.Transport, rt.logger)...),
		chatsocket.WithOnChatMessage(onMessage),
		chatsocket.WithOnWhisper(onMessage),
		chatsocket.WithOnPacket(func(p *chatsocket.RawPacket) {
			rt.logger.Debug("packet", map[string]any{"command": p.Command})
		}),
	)
	defer func() { _ = client.Disconnect(context.Background()) }()

	ctx := c.Context
	open, err := client.Connect(ctx, c.String("endpoint"))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if !open {
		return cli.Exit("connection did not open", exitFailure)
	}

	if err := client.Authenticate(ctx, c.String("nick"), "mock"); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if err := client.SendTestMessage(ctx, c.String("message")); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	rt.logger.Info("test message sent", map[string]any{"message": c.String("message")})

	chatsocket.WaitUntil(ctx, func() bool {
		return client.Transport().State() == chatsocket.StateClosed
	}, c.Duration("wait"))
	return nil
}
