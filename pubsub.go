package chatsocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPubSubURL is the PubSub service endpoint.
const DefaultPubSubURL = "wss://pubsub-edge.twitch.tv"

// PubSubClient speaks the JSON PubSub protocol over a Transport. Each
// received message is one JSON envelope.
type PubSubClient struct {
	conn Conn
	cfg  pubSubConfig

	mu       sync.Mutex
	stopPing context.CancelFunc
}

// NewPubSubClient creates a PubSubClient with its own Transport.
func NewPubSubClient(opts ...PubSubOption) *PubSubClient {
	cfg := pubSubConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &PubSubClient{cfg: cfg}
	transportOpts := append(append([]Option{}, cfg.transport...), WithMessageHandler(c.handleText))
	c.conn = NewTransport(transportOpts...)
	return c
}

// newPubSubClientWithConn creates a PubSubClient over an existing connection.
func newPubSubClientWithConn(conn Conn, opts ...PubSubOption) *PubSubClient {
	cfg := pubSubConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PubSubClient{conn: conn, cfg: cfg}
}

// Transport returns the underlying connection.
func (c *PubSubClient) Transport() Conn {
	return c.conn
}

// Connect connects to endpoint, or to DefaultPubSubURL if it is empty, and
// starts the keepalive if a ping interval is configured.
func (c *PubSubClient) Connect(ctx context.Context, endpoint string) (bool, error) {
	if endpoint == "" {
		endpoint = DefaultPubSubURL
	}
	open, err := c.conn.Connect(ctx, endpoint)
	if err != nil || !open {
		return open, err
	}

	if c.cfg.pingInterval > 0 {
		pingCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		if c.stopPing != nil {
			c.stopPing()
		}
		c.stopPing = cancel
		c.mu.Unlock()
		go c.keepalive(pingCtx)
	}
	return open, nil
}

// Disconnect stops the keepalive and closes the connection.
func (c *PubSubClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.stopPing != nil {
		c.stopPing()
		c.stopPing = nil
	}
	c.mu.Unlock()
	return c.conn.Disconnect(ctx)
}

// Listen subscribes to topics and returns the nonce of the request.
func (c *PubSubClient) Listen(ctx context.Context, token string, topics ...string) (string, error) {
	if len(topics) == 0 {
		return "", ErrNoTopics
	}
	nonce := uuid.New().String()
	return nonce, c.send(ctx, NewListenRequest(nonce, token, topics))
}

// Unlisten unsubscribes from topics and returns the nonce of the request.
func (c *PubSubClient) Unlisten(ctx context.Context, token string, topics ...string) (string, error) {
	if len(topics) == 0 {
		return "", ErrNoTopics
	}
	nonce := uuid.New().String()
	return nonce, c.send(ctx, NewUnlistenRequest(nonce, token, topics))
}

// Ping sends a PING request.
func (c *PubSubClient) Ping(ctx context.Context) error {
	return c.send(ctx, NewPingRequest())
}

func (c *PubSubClient) send(ctx context.Context, req *PubSubRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return &SendError{Op: "marshal", Err: err}
	}
	return c.conn.Send(ctx, string(data))
}

func (c *PubSubClient) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.conn.State() != StateOpen {
				return
			}
			// A failed ping means the connection is going away; the
			// transport reports that through its disconnect notification.
			_ = c.Ping(ctx)
		}
	}
}

// handleText decodes one received envelope. Text that is not a JSON object
// is ignored.
func (c *PubSubClient) handleText(text string) {
	p, ok := ParsePubSubPacket(text)
	if !ok {
		return
	}

	switch {
	case p.IsMessage():
		if c.cfg.onMessage != nil {
			c.cfg.onMessage(p.Message())
		}
	case p.IsResponse():
		if c.cfg.onResponse != nil {
			c.cfg.onResponse(p)
		}
	case p.IsPong():
		if c.cfg.onPong != nil {
			c.cfg.onPong()
		}
	case p.IsReconnect():
		if c.cfg.onReconnect != nil {
			c.cfg.onReconnect()
		}
	}
}
