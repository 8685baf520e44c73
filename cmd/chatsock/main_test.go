package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	chatsocket "github.com/chrisboulton/chatsocket-go"
	"github.com/chrisboulton/chatsocket-go/internal/config"
	"github.com/chrisboulton/chatsocket-go/internal/log"
	"github.com/chrisboulton/chatsocket-go/internal/sink"
)

func TestExitErrHandler_NilError(t *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitErrHandler_WrappedExitCoder(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), cli.Exit("connection lost: error", exitConnectionLost))

	var exitCoder cli.ExitCoder
	if !errors.As(wrapped, &exitCoder) {
		t.Fatal("wrapped error should still match cli.ExitCoder")
	}
	if exitCoder.ExitCode() != exitConnectionLost {
		t.Errorf("exit code = %d, want %d", exitCoder.ExitCode(), exitConnectionLost)
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	want := []string{"chat", "pubsub", "parse", "send-test"}
	for _, name := range want {
		if app.Command(name) == nil {
			t.Errorf("missing command %q", name)
		}
	}
}

// runApp runs a test app with the error handler disabled.
func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"chatsock"}, args...))
	return out.String(), err
}

func TestParse_JSON(t *testing.T) {
	input := strings.Join([]string{
		"@badges=subscriber/12;display-name=Nick;user-id=42;bits=100 :nick!nick@nick.tmi.twitch.tv PRIVMSG #chan :Kappa",
		"",
		"PING :tmi.twitch.tv",
		`{"type":"MESSAGE","data":{"topic":"whispers.1","message":"{\"type\":\"whisper_received\",\"data\":{\"id\":41}}"}}`,
		`{"type":"PONG"}`,
	}, "\n")

	out, err := runApp(t, input, "parse")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d output lines, want 4:\n%s", len(lines), out)
	}

	var chat sink.Record
	if err := json.Unmarshal([]byte(lines[0]), &chat); err != nil {
		t.Fatalf("unmarshal chat: %v", err)
	}
	if chat.Kind != sink.KindChat || chat.Channel != "chan" || chat.Bits != 100 || chat.Badges["subscriber"] != 12 {
		t.Errorf("chat record = %+v", chat)
	}

	var ping packetView
	if err := json.Unmarshal([]byte(lines[1]), &ping); err != nil {
		t.Fatalf("unmarshal packet: %v", err)
	}
	if ping.Kind != "packet" || ping.Command != "PING" || len(ping.Parameters) != 1 {
		t.Errorf("packet = %+v", ping)
	}

	var ps sink.Record
	if err := json.Unmarshal([]byte(lines[2]), &ps); err != nil {
		t.Fatalf("unmarshal pubsub: %v", err)
	}
	if ps.Kind != sink.KindPubSub || ps.TopicType != "whispers" || ps.MessageType != "whisper_received" {
		t.Errorf("pubsub record = %+v", ps)
	}

	var pong packetView
	if err := json.Unmarshal([]byte(lines[3]), &pong); err != nil {
		t.Fatalf("unmarshal pong: %v", err)
	}
	if pong.Kind != "pubsub_packet" || pong.Type != "PONG" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestParse_YAML(t *testing.T) {
	out, err := runApp(t, ":a!a@a PRIVMSG #c :hi\n", "parse", "--format", "yaml")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var got map[string]any
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if got["kind"] != "chat" || got["text"] != "hi" || got["user_login"] != "a" {
		t.Errorf("yaml record = %v", got)
	}
}

func TestParse_UnknownFormat(t *testing.T) {
	if _, err := runApp(t, "", "parse", "--format", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

// withCommandContext runs fn inside the named command with args parsed.
func withCommandContext(t *testing.T, cmd *cli.Command, args []string, fn func(c *cli.Context)) {
	t.Helper()
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = []*cli.Command{{
		Name:  cmd.Name,
		Flags: cmd.Flags,
		Action: func(c *cli.Context) error {
			fn(c)
			return nil
		},
	}}
	if err := app.Run(append([]string{"chatsock", cmd.Name}, args...)); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestChatSettings_FlagsOverrideConfig(t *testing.T) {
	cfg := config.ChatConfig{
		Endpoint: "wss://from-config",
		Nick:     "confignick",
		Token:    "configtoken",
		Channels: []string{"one"},
	}

	withCommandContext(t, chatCommand(), []string{"--nick", "flagnick", "--channel", "a", "--channel", "b"}, func(c *cli.Context) {
		got := chatSettings(c, cfg)
		if got.Endpoint != "wss://from-config" || got.Token != "configtoken" {
			t.Errorf("unset flags should keep config values: %+v", got)
		}
		if got.Nick != "flagnick" {
			t.Errorf("Nick = %q", got.Nick)
		}
		if len(got.Channels) != 2 || got.Channels[0] != "a" || got.Channels[1] != "b" {
			t.Errorf("Channels = %v", got.Channels)
		}
		if len(got.Capabilities) != len(defaultCapabilities) {
			t.Errorf("Capabilities = %v", got.Capabilities)
		}
	})
}

func TestPubSubSettings_DefaultPingInterval(t *testing.T) {
	withCommandContext(t, pubsubCommand(), []string{"--topic", "whispers.1"}, func(c *cli.Context) {
		got := pubsubSettings(c, config.PubSubConfig{})
		if got.PingInterval.Duration != defaultPingInterval {
			t.Errorf("PingInterval = %v", got.PingInterval)
		}
		if len(got.Topics) != 1 || got.Topics[0] != "whispers.1" {
			t.Errorf("Topics = %v", got.Topics)
		}
	})

	withCommandContext(t, pubsubCommand(), []string{"--ping-interval", "30s"}, func(c *cli.Context) {
		got := pubsubSettings(c, config.PubSubConfig{})
		if got.PingInterval.Duration != 30*time.Second {
			t.Errorf("PingInterval = %v", got.PingInterval)
		}
	})
}

func TestLoadConfigAndLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsock.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\nchat:\n  nick: bot\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	withCommandContext(t, parseCommand(), nil, func(c *cli.Context) {
		cfg, err := loadConfig(c)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Chat.Nick != "" {
			t.Errorf("no --config should give an empty config, got %+v", cfg.Chat)
		}
	})

	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	var logs bytes.Buffer
	app.ErrWriter = &logs
	app.Commands = []*cli.Command{{
		Name: "inspect",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Chat.Nick != "bot" {
				t.Errorf("Nick = %q", cfg.Chat.Nick)
			}
			logger, err := newLogger(c, cfg)
			if err != nil {
				return err
			}
			if logger.Zap().Core().Enabled(zapcore.DebugLevel) {
				t.Error("debug should be disabled at warn level")
			}
			if !logger.Zap().Core().Enabled(zapcore.WarnLevel) {
				t.Error("warn should be enabled")
			}
			logger.Warn("tagged", nil)
			return nil
		},
	}}
	if err := app.Run([]string{"chatsock", "--config", path, "inspect"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(logs.String(), `"command":"inspect"`) {
		t.Errorf("log lines should carry the command name: %s", logs.String())
	}
}

func TestTransportOptions(t *testing.T) {
	settle := config.Duration{Duration: 0}
	opts := transportOptions(config.TransportConfig{
		SettleDelay:  &settle,
		CloseTimeout: config.Duration{Duration: 2 * time.Second},
	}, log.Nop())
	if len(opts) != 5 {
		t.Errorf("got %d options, want 5", len(opts))
	}

	opts = transportOptions(config.TransportConfig{}, log.Nop())
	if len(opts) != 4 {
		t.Errorf("got %d options without settle delay, want 4", len(opts))
	}

	// options must be accepted by the transport
	tr := chatsocket.NewTransport(opts...)
	if tr.State() != chatsocket.StateClosed {
		t.Errorf("State() = %s", tr.State())
	}
}

type stubSink struct {
	mu      sync.Mutex
	records []*sink.Record
	closed  bool
}

func (s *stubSink) Publish(_ context.Context, rec *sink.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *stubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestForwarder_PublishesInOrderAndDrainsOnClose(t *testing.T) {
	stub := &stubSink{}
	f := newForwarder(sink.NewFanout(stub), log.Nop(), 16)

	for _, id := range []string{"1", "2", "3"} {
		f.Forward(&sink.Record{Kind: sink.KindChat, ID: id})
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(stub.records) != 3 {
		t.Fatalf("published %d records, want 3", len(stub.records))
	}
	for i, id := range []string{"1", "2", "3"} {
		if stub.records[i].ID != id {
			t.Errorf("record %d = %s, want %s", i, stub.records[i].ID, id)
		}
	}
	if !stub.closed {
		t.Error("sink was not closed")
	}

	// after close, Forward is a no-op
	f.Forward(&sink.Record{Kind: sink.KindChat, ID: "4"})
	if err := f.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestOpenSinks(t *testing.T) {
	fanout, err := openSinks(t.Context(), config.SinksConfig{}, log.Nop())
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	if fanout.Len() != 0 {
		t.Errorf("Len() = %d, want 0", fanout.Len())
	}

	mr := miniredis.RunT(t)
	fanout, err = openSinks(t.Context(), config.SinksConfig{
		Redis: &config.RedisConfig{URL: "redis://" + mr.Addr(), Channel: "events"},
	}, log.Nop())
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	defer func() { _ = fanout.Close() }()
	if fanout.Len() != 1 {
		t.Errorf("Len() = %d, want 1", fanout.Len())
	}
}

func TestRecordFields(t *testing.T) {
	fields := recordFields(&sink.Record{Kind: sink.KindChat, Channel: "c", UserLogin: "u", Text: "t", Bits: 5})
	if fields["channel"] != "c" || fields["bits"] != 5 {
		t.Errorf("chat fields = %v", fields)
	}

	fields = recordFields(&sink.Record{Kind: sink.KindPubSub, Topic: "whispers.1"})
	if fields["topic"] != "whispers.1" {
		t.Errorf("pubsub fields = %v", fields)
	}
	if _, ok := fields["message_type"]; ok {
		t.Error("empty message_type should be omitted")
	}
}
