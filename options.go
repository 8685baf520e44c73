package chatsocket

import (
	"log/slog"
	"net/http"
	"time"
)

// --- Transport Options ---

// Option configures a Transport.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	onSent         func(string)
	onText         func(string)
	onDisconnected func(CloseReason)
	handler        func(string)

	header       http.Header
	httpClient   *http.Client
	subprotocols []string

	settleDelay    time.Duration
	closeTimeout   time.Duration
	readBufferSize int
	readLimit      int64
}

// Transport defaults.
const (
	DefaultSettleDelay  = time.Second
	DefaultCloseTimeout = time.Second
	DefaultReadLimit    = 32 * 1024 * 1024 // 32MB
)

func defaultConfig() config {
	return config{
		settleDelay:    DefaultSettleDelay,
		closeTimeout:   DefaultCloseTimeout,
		readBufferSize: DefaultReadBufferSize,
		readLimit:      DefaultReadLimit,
	}
}

// WithLogger sets a structured logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithOnSent sets a callback invoked after each message is written.
func WithOnSent(fn func(text string)) Option {
	return func(c *config) {
		c.onSent = fn
	}
}

// WithOnTextReceived sets a callback invoked with each reassembled message,
// before it is decoded.
func WithOnTextReceived(fn func(text string)) Option {
	return func(c *config) {
		c.onText = fn
	}
}

// WithOnDisconnected sets a callback invoked once per connection after the
// receive loop has stopped.
func WithOnDisconnected(fn func(reason CloseReason)) Option {
	return func(c *config) {
		c.onDisconnected = fn
	}
}

// WithMessageHandler sets the function that decodes each received message.
// It runs on the receive loop, after the text received callback.
func WithMessageHandler(fn func(text string)) Option {
	return func(c *config) {
		c.handler = fn
	}
}

// WithHTTPHeader adds HTTP headers to send during the handshake. Each key in
// h replaces any earlier values for that key; other headers are kept.
func WithHTTPHeader(h http.Header) Option {
	return func(c *config) {
		if c.header == nil {
			c.header = http.Header{}
		}
		for key, values := range h {
			c.header.Del(key)
			for _, v := range values {
				c.header.Add(key, v)
			}
		}
	}
}

// WithBearerToken sends a pre-authenticated credential in the Authorization
// header of the handshake.
func WithBearerToken(token string) Option {
	return func(c *config) {
		if c.header == nil {
			c.header = http.Header{}
		}
		c.header.Set("Authorization", "Bearer "+token)
	}
}

// WithHTTPClient sets the HTTP client used for the handshake.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithSubprotocols sets the websocket subprotocols offered during the handshake.
func WithSubprotocols(protocols ...string) Option {
	return func(c *config) {
		c.subprotocols = protocols
	}
}

// WithSettleDelay sets how long Connect waits after the handshake before
// starting the receive loop.
func WithSettleDelay(d time.Duration) Option {
	return func(c *config) {
		c.settleDelay = d
	}
}

// WithCloseTimeout bounds the close handshake performed by Disconnect.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// WithReadBufferSize sets the size of a single socket read.
func WithReadBufferSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readBufferSize = n
		}
	}
}

// WithReadLimit sets the maximum size of one inbound message.
func WithReadLimit(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// --- Chat Options ---

// ChatOption configures a ChatClient.
type ChatOption func(*chatConfig)

type chatConfig struct {
	transport     []Option
	onPacket      func(*RawPacket)
	onChatMessage func(*ChatMessage)
	onWhisper     func(*ChatMessage)
	onReconnect   func()
	autoPong      bool
}

// WithTransportOptions passes options to the underlying Transport.
func WithTransportOptions(opts ...Option) ChatOption {
	return func(c *chatConfig) {
		c.transport = append(c.transport, opts...)
	}
}

// WithOnPacket sets a callback invoked for every decoded line.
func WithOnPacket(fn func(*RawPacket)) ChatOption {
	return func(c *chatConfig) {
		c.onPacket = fn
	}
}

// WithOnChatMessage sets a callback invoked for PRIVMSG lines.
func WithOnChatMessage(fn func(*ChatMessage)) ChatOption {
	return func(c *chatConfig) {
		c.onChatMessage = fn
	}
}

// WithOnWhisper sets a callback invoked for WHISPER lines.
func WithOnWhisper(fn func(*ChatMessage)) ChatOption {
	return func(c *chatConfig) {
		c.onWhisper = fn
	}
}

// WithOnReconnect sets a callback invoked when the server asks the client to
// reconnect.
func WithOnReconnect(fn func()) ChatOption {
	return func(c *chatConfig) {
		c.onReconnect = fn
	}
}

// WithAutoPong controls whether PING lines are answered automatically.
// It is enabled by default.
func WithAutoPong(enabled bool) ChatOption {
	return func(c *chatConfig) {
		c.autoPong = enabled
	}
}

// --- PubSub Options ---

// PubSubOption configures a PubSubClient.
type PubSubOption func(*pubSubConfig)

type pubSubConfig struct {
	transport    []Option
	onMessage    func(*PubSubMessage)
	onResponse   func(*PubSubPacket)
	onReconnect  func()
	onPong       func()
	pingInterval time.Duration
}

// WithPubSubTransportOptions passes options to the underlying Transport.
func WithPubSubTransportOptions(opts ...Option) PubSubOption {
	return func(c *pubSubConfig) {
		c.transport = append(c.transport, opts...)
	}
}

// WithOnPubSubMessage sets a callback invoked for MESSAGE packets.
func WithOnPubSubMessage(fn func(*PubSubMessage)) PubSubOption {
	return func(c *pubSubConfig) {
		c.onMessage = fn
	}
}

// WithOnPubSubResponse sets a callback invoked for RESPONSE packets.
func WithOnPubSubResponse(fn func(*PubSubPacket)) PubSubOption {
	return func(c *pubSubConfig) {
		c.onResponse = fn
	}
}

// WithOnPubSubReconnect sets a callback invoked for RECONNECT packets.
func WithOnPubSubReconnect(fn func()) PubSubOption {
	return func(c *pubSubConfig) {
		c.onReconnect = fn
	}
}

// WithOnPubSubPong sets a callback invoked for PONG packets.
func WithOnPubSubPong(fn func()) PubSubOption {
	return func(c *pubSubConfig) {
		c.onPong = fn
	}
}

// WithPingInterval sends a PING every d while connected. Zero disables it.
func WithPingInterval(d time.Duration) PubSubOption {
	return func(c *pubSubConfig) {
		c.pingInterval = d
	}
}
