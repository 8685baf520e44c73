package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("CHATSOCK_TOKEN", "abc123")

	path := writeTemp(t, "chatsock.yaml", `log:
  level: debug

transport:
  settle_delay: 250ms
  close_timeout: 2s
  read_buffer_size: 4096

chat:
  endpoint: wss://irc.fdgt.dev
  nick: mybot
  token: ${CHATSOCK_TOKEN}
  channels: [chan1, "#chan2"]
  capabilities:
    - twitch.tv/tags

pubsub:
  topics: [whispers.1]
  ping_interval: 4m

sinks:
  redis:
    url: redis://localhost:6379/0
    channel: chat-events
    format: msgpack
    timeout: 5s
    retries: 2
  postgres:
    dsn: postgres://localhost/chat
    max_batch: 500
    flush_every: 1s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "log.level", cfg.Log.Level, "debug")
	assertEqual(t, "chat.endpoint", cfg.Chat.Endpoint, "wss://irc.fdgt.dev")
	assertEqual(t, "chat.nick", cfg.Chat.Nick, "mybot")
	assertEqual(t, "chat.token", cfg.Chat.Token, "abc123")
	if strings.Join(cfg.Chat.Channels, ",") != "chan1,#chan2" {
		t.Errorf("chat.channels = %v", cfg.Chat.Channels)
	}
	if len(cfg.Chat.Capabilities) != 1 {
		t.Errorf("chat.capabilities = %v", cfg.Chat.Capabilities)
	}

	if cfg.Transport.SettleDelay == nil || cfg.Transport.SettleDelay.Duration != 250*time.Millisecond {
		t.Errorf("transport.settle_delay = %v", cfg.Transport.SettleDelay)
	}
	if cfg.Transport.CloseTimeout.Duration != 2*time.Second {
		t.Errorf("transport.close_timeout = %v", cfg.Transport.CloseTimeout)
	}
	if cfg.Transport.ReadBufferSize != 4096 {
		t.Errorf("transport.read_buffer_size = %d", cfg.Transport.ReadBufferSize)
	}
	if cfg.PubSub.PingInterval.Duration != 4*time.Minute {
		t.Errorf("pubsub.ping_interval = %v", cfg.PubSub.PingInterval)
	}

	r := cfg.Sinks.Redis
	if r == nil {
		t.Fatal("sinks.redis missing")
	}
	assertEqual(t, "sinks.redis.format", r.Format, FormatMsgpack)
	if r.Timeout.Duration != 5*time.Second || r.Retries == nil || *r.Retries != 2 {
		t.Errorf("sinks.redis = %+v", r)
	}

	p := cfg.Sinks.Postgres
	if p == nil {
		t.Fatal("sinks.postgres missing")
	}
	if p.MaxBatch != 500 || p.FlushEvery.Duration != time.Second {
		t.Errorf("sinks.postgres = %+v", p)
	}
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("CHATSOCK_TOKEN", "from-env")

	path := writeTemp(t, "chatsock.toml", `[log]
level = "warn"

[transport]
settle_delay = "0s"

[chat]
nick = "mybot"
token = "${CHATSOCK_TOKEN}"
channels = ["chan1"]

[pubsub]
ping_interval = "30s"

[sinks.redis]
url = "redis://localhost:6379/0"
channel = "chat-events"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "log.level", cfg.Log.Level, "warn")
	assertEqual(t, "chat.token", cfg.Chat.Token, "from-env")
	if cfg.Transport.SettleDelay == nil || cfg.Transport.SettleDelay.Duration != 0 {
		t.Errorf("transport.settle_delay = %v", cfg.Transport.SettleDelay)
	}
	if cfg.PubSub.PingInterval.Duration != 30*time.Second {
		t.Errorf("pubsub.ping_interval = %v", cfg.PubSub.PingInterval)
	}
	if cfg.Sinks.Redis == nil || cfg.Sinks.Redis.Channel != "chat-events" {
		t.Errorf("sinks.redis = %+v", cfg.Sinks.Redis)
	}
	if cfg.Sinks.Postgres != nil {
		t.Error("sinks.postgres should be disabled")
	}
}

func TestLoad_Empty(t *testing.T) {
	cfg, err := Load(writeTemp(t, "empty.yaml", ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transport.SettleDelay != nil || cfg.Sinks.Redis != nil {
		t.Errorf("empty config should leave defaults unset: %+v", cfg)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_UnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "c.yaml", "chat:\n  nickname: bot\n"},
		{"toml", "c.toml", "[chat]\nnickname = \"bot\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeTemp(t, tt.file, tt.content)); err == nil {
				t.Error("Load should reject unknown keys")
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeTemp(t, "c.yaml", "pubsub:\n  ping_interval: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	negative := -1

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"empty is valid", Config{}, ""},
		{"empty channel", Config{Chat: ChatConfig{Channels: []string{"#"}}}, "chat.channels[0]"},
		{"redis without url", Config{Sinks: SinksConfig{Redis: &RedisConfig{Channel: "c"}}}, "sinks.redis.url"},
		{"redis without channel", Config{Sinks: SinksConfig{Redis: &RedisConfig{URL: "redis://x"}}}, "sinks.redis.channel"},
		{"redis bad format", Config{Sinks: SinksConfig{Redis: &RedisConfig{URL: "redis://x", Channel: "c", Format: "xml"}}}, "sinks.redis.format"},
		{"redis negative retries", Config{Sinks: SinksConfig{Redis: &RedisConfig{URL: "redis://x", Channel: "c", Retries: &negative}}}, "retries"},
		{"postgres without dsn", Config{Sinks: SinksConfig{Postgres: &PostgresConfig{}}}, "sinks.postgres.dsn"},
		{"postgres negative batch", Config{Sinks: SinksConfig{Postgres: &PostgresConfig{DSN: "x", MaxBatch: -1}}}, "sizes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
