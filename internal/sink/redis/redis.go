// Package redis forwards records to a Redis pub/sub channel, encoded as JSON
// or msgpack.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chrisboulton/chatsocket-go/internal/sink"
)

// Defaults applied by New.
const (
	DefaultChannel = "chatsocket:events"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Payload formats.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Config configures the sink. URL is required, in redis:// form.
type Config struct {
	URL     string
	Channel string
	Format  string        // json (default) or msgpack
	Timeout time.Duration // per attempt
	Retries int           // extra attempts after the first
}

// Sink publishes records with PUBLISH.
type Sink struct {
	config Config
	client *goredis.Client
}

// New validates cfg, fills in defaults and creates the client. It does not
// connect; the first Publish does.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis sink: url is required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: parse url: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if cfg.Format != FormatJSON && cfg.Format != FormatMsgpack {
		return nil, fmt.Errorf("redis sink: unknown format %q", cfg.Format)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("redis sink: negative retries %d", cfg.Retries)
	}

	return &Sink{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Encode serializes rec in the given format.
func Encode(rec *sink.Record, format string) ([]byte, error) {
	switch format {
	case FormatMsgpack:
		return msgpack.Marshal(rec)
	case FormatJSON, "":
		return json.Marshal(rec)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Publish encodes rec and publishes it to the configured channel, retrying
// failed attempts with exponential backoff.
func (s *Sink) Publish(ctx context.Context, rec *sink.Record) error {
	body, err := Encode(rec, s.config.Format)
	if err != nil {
		return fmt.Errorf("redis sink: encode record: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(attempt)); err != nil {
				return fmt.Errorf("redis sink: %w (last error: %v)", err, lastErr)
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis sink: %w", err)
		}

		if lastErr = s.publish(ctx, body); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis sink: publish to %s failed after %d attempts: %w",
		s.config.Channel, s.config.Retries+1, lastErr)
}

func (s *Sink) publish(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	return s.client.Publish(ctx, s.config.Channel, body).Err()
}

// backoff returns the wait before retry n (n >= 1): 500ms, 1s, 2s, ...
func backoff(n int) time.Duration {
	return (500 * time.Millisecond) << (n - 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close closes the client.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ sink.Sink = (*Sink)(nil)
