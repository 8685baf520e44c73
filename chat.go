package chatsocket

import (
	"context"
	"fmt"
	"strings"
)

// Chat service endpoints.
const (
	DefaultChatURL = "wss://irc-ws.chat.twitch.tv:443"
	MockChatURL    = "wss://irc.fdgt.dev"
)

// ChatClient speaks the line-oriented chat protocol over a Transport.
// Every received message is split into lines, decoded into RawPackets and
// classified; callbacks run on the receive loop in wire order.
type ChatClient struct {
	conn Conn
	cfg  chatConfig
}

// NewChatClient creates a ChatClient with its own Transport.
func NewChatClient(opts ...ChatOption) *ChatClient {
	cfg := chatConfig{autoPong: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &ChatClient{cfg: cfg}
	transportOpts := append(append([]Option{}, cfg.transport...), WithMessageHandler(c.handleText))
	c.conn = NewTransport(transportOpts...)
	return c
}

// newChatClientWithConn creates a ChatClient over an existing connection.
// Received text must be handed to handleText by the caller.
func newChatClientWithConn(conn Conn, opts ...ChatOption) *ChatClient {
	cfg := chatConfig{autoPong: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ChatClient{conn: conn, cfg: cfg}
}

// Transport returns the underlying connection.
func (c *ChatClient) Transport() Conn {
	return c.conn
}

// Connect connects to endpoint, or to DefaultChatURL if it is empty.
func (c *ChatClient) Connect(ctx context.Context, endpoint string) (bool, error) {
	if endpoint == "" {
		endpoint = DefaultChatURL
	}
	return c.conn.Connect(ctx, endpoint)
}

// Disconnect closes the connection.
func (c *ChatClient) Disconnect(ctx context.Context) error {
	return c.conn.Disconnect(ctx)
}

// Send writes a raw protocol line.
func (c *ChatClient) Send(ctx context.Context, line string) error {
	return c.conn.Send(ctx, line)
}

// Authenticate sends the PASS and NICK commands. token may be given with or
// without the "oauth:" prefix.
func (c *ChatClient) Authenticate(ctx context.Context, nick, token string) error {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	if err := c.Send(ctx, "PASS "+token); err != nil {
		return err
	}
	return c.Send(ctx, "NICK "+strings.ToLower(nick))
}

// RequestCapabilities sends a CAP REQ for the given capabilities.
func (c *ChatClient) RequestCapabilities(ctx context.Context, caps ...string) error {
	if len(caps) == 0 {
		return nil
	}
	return c.Send(ctx, "CAP REQ :"+strings.Join(caps, " "))
}

// Join joins a channel.
func (c *ChatClient) Join(ctx context.Context, channel string) error {
	return c.Send(ctx, "JOIN "+channelName(channel))
}

// Part leaves a channel.
func (c *ChatClient) Part(ctx context.Context, channel string) error {
	return c.Send(ctx, "PART "+channelName(channel))
}

// SendMessage sends a chat message to a channel.
func (c *ChatClient) SendMessage(ctx context.Context, channel, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	return c.Send(ctx, fmt.Sprintf("%s %s :%s", CommandPrivmsg, channelName(channel), text))
}

// SendTestMessage sends a diagnostic message of the form
// "PRIVMSG #channel :<message>", used by the mock chat service to trigger events.
func (c *ChatClient) SendTestMessage(ctx context.Context, message string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	return c.Send(ctx, "PRIVMSG #channel :"+message)
}

// handleText decodes one received message.
func (c *ChatClient) handleText(text string) {
	for _, line := range SplitLines(text) {
		c.handlePacket(ParseLine(line))
	}
}

func (c *ChatClient) handlePacket(p *RawPacket) {
	if c.cfg.onPacket != nil {
		c.cfg.onPacket(p)
	}

	switch p.Command {
	case CommandPing:
		if c.cfg.autoPong {
			// Reply errors surface through the transport's disconnect handling.
			_ = c.Send(context.Background(), pongFor(p))
		}
	case CommandReconnect:
		if c.cfg.onReconnect != nil {
			c.cfg.onReconnect()
		}
	case CommandPrivmsg, CommandWhisper:
		msg, _ := NewChatMessage(p)
		if msg.IsWhisper() {
			if c.cfg.onWhisper != nil {
				c.cfg.onWhisper(msg)
			}
			return
		}
		if c.cfg.onChatMessage != nil {
			c.cfg.onChatMessage(msg)
		}
	}
}

func pongFor(p *RawPacket) string {
	if len(p.Parameters) == 0 {
		return CommandPong
	}
	return CommandPong + " :" + p.Parameters[len(p.Parameters)-1]
}

func channelName(channel string) string {
	return "#" + strings.ToLower(strings.TrimPrefix(channel, "#"))
}
