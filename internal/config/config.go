package config

import (
	"fmt"
	"strings"
	"time"
)

// Sink formats for the redis sink.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Config represents a chatsock configuration file.
// All values are optional; command line flags override them.
type Config struct {
	Log       LogConfig       `yaml:"log" toml:"log"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Chat      ChatConfig      `yaml:"chat" toml:"chat"`
	PubSub    PubSubConfig    `yaml:"pubsub" toml:"pubsub"`
	Sinks     SinksConfig     `yaml:"sinks" toml:"sinks"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// TransportConfig tunes the websocket transport. Zero values keep the
// library defaults.
type TransportConfig struct {
	SettleDelay    *Duration `yaml:"settle_delay,omitempty" toml:"settle_delay,omitempty"`
	CloseTimeout   Duration  `yaml:"close_timeout" toml:"close_timeout"`
	ReadBufferSize int       `yaml:"read_buffer_size" toml:"read_buffer_size"`
	ReadLimit      int64     `yaml:"read_limit" toml:"read_limit"`
}

// ChatConfig holds chat connection settings.
type ChatConfig struct {
	Endpoint     string   `yaml:"endpoint" toml:"endpoint"`
	Nick         string   `yaml:"nick" toml:"nick"`
	Token        string   `yaml:"token" toml:"token"`
	Channels     []string `yaml:"channels" toml:"channels"`
	Capabilities []string `yaml:"capabilities" toml:"capabilities"`
}

// PubSubConfig holds PubSub connection settings.
type PubSubConfig struct {
	Endpoint     string   `yaml:"endpoint" toml:"endpoint"`
	Token        string   `yaml:"token" toml:"token"`
	Topics       []string `yaml:"topics" toml:"topics"`
	PingInterval Duration `yaml:"ping_interval" toml:"ping_interval"`
}

// SinksConfig lists where decoded events are forwarded. A nil entry is
// disabled.
type SinksConfig struct {
	Redis    *RedisConfig    `yaml:"redis,omitempty" toml:"redis,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty" toml:"postgres,omitempty"`
}

// RedisConfig configures the redis pub/sub sink.
type RedisConfig struct {
	URL     string   `yaml:"url" toml:"url"`
	Channel string   `yaml:"channel" toml:"channel"`
	Format  string   `yaml:"format" toml:"format"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	Retries *int     `yaml:"retries,omitempty" toml:"retries,omitempty"`
}

// PostgresConfig configures the postgres batch sink.
type PostgresConfig struct {
	DSN          string   `yaml:"dsn" toml:"dsn"`
	MaxBatch     int      `yaml:"max_batch" toml:"max_batch"`
	FlushEvery   Duration `yaml:"flush_every" toml:"flush_every"`
	ChanBuffer   int      `yaml:"chan_buffer" toml:"chan_buffer"`
	FlushTimeout Duration `yaml:"flush_timeout" toml:"flush_timeout"`
}

// Duration wraps time.Duration for string parsing (e.g. "10s", "5m") in both
// YAML and TOML files.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.set(s)
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.set(string(text))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	for i, ch := range c.Chat.Channels {
		if strings.TrimSpace(strings.TrimPrefix(ch, "#")) == "" {
			return fmt.Errorf("chat.channels[%d] is empty", i)
		}
	}
	if r := c.Sinks.Redis; r != nil {
		if strings.TrimSpace(r.URL) == "" {
			return fmt.Errorf("sinks.redis.url is required")
		}
		if strings.TrimSpace(r.Channel) == "" {
			return fmt.Errorf("sinks.redis.channel is required")
		}
		switch r.Format {
		case "", FormatJSON, FormatMsgpack:
		default:
			return fmt.Errorf("sinks.redis.format must be %q or %q, got %q", FormatJSON, FormatMsgpack, r.Format)
		}
		if r.Retries != nil && *r.Retries < 0 {
			return fmt.Errorf("sinks.redis.retries must not be negative")
		}
	}
	if p := c.Sinks.Postgres; p != nil {
		if strings.TrimSpace(p.DSN) == "" {
			return fmt.Errorf("sinks.postgres.dsn is required")
		}
		if p.MaxBatch < 0 || p.ChanBuffer < 0 {
			return fmt.Errorf("sinks.postgres sizes must not be negative")
		}
	}
	return nil
}
