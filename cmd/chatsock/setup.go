package main

import (
	"context"
	"errors"
	"sync"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	chatsocket "github.com/chrisboulton/chatsocket-go"
	"github.com/chrisboulton/chatsocket-go/internal/config"
	"github.com/chrisboulton/chatsocket-go/internal/log"
	"github.com/chrisboulton/chatsocket-go/internal/sink"
	"github.com/chrisboulton/chatsocket-go/internal/sink/postgres"
	"github.com/chrisboulton/chatsocket-go/internal/sink/redis"
)

// forwardQueueSize bounds records waiting for the sinks.
const forwardQueueSize = 1024

// runtime holds what a connected command needs.
type runtime struct {
	cfg    *config.Config
	logger *log.Logger
	out    *forwarder
}

// setup loads the config, builds the logger and opens the sinks.
func setup(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(c, cfg)
	if err != nil {
		return nil, err
	}

	sinks, err := openSinks(c.Context, cfg.Sinks, logger)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		out:    newForwarder(sinks, logger, forwardQueueSize),
	}, nil
}

// Close drains the forwarder, closes the sinks and flushes the logger.
func (r *runtime) Close() error {
	err := r.out.Close()
	_ = r.logger.Sync()
	return err
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

func newLogger(c *cli.Context, cfg *config.Config) (*log.Logger, error) {
	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger, err := log.NewWithWriter(c.App.ErrWriter, level)
	if err != nil {
		return nil, err
	}
	if c.Command != nil && c.Command.Name != "" {
		logger = logger.With(zap.String("command", c.Command.Name))
	}
	return logger, nil
}

func openSinks(ctx context.Context, cfg config.SinksConfig, logger *log.Logger) (*sink.Fanout, error) {
	var sinks []sink.Sink

	if r := cfg.Redis; r != nil {
		retries := redis.DefaultRetries
		if r.Retries != nil {
			retries = *r.Retries
		}
		s, err := redis.New(redis.Config{
			URL:     r.URL,
			Channel: r.Channel,
			Format:  r.Format,
			Timeout: r.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if p := cfg.Postgres; p != nil {
		s, err := postgres.New(ctx, postgres.Config{
			DSN:          p.DSN,
			MaxBatch:     p.MaxBatch,
			FlushEvery:   p.FlushEvery.Duration,
			ChanBuffer:   p.ChanBuffer,
			FlushTimeout: p.FlushTimeout.Duration,
		}, logger)
		if err != nil {
			return nil, errors.Join(err, sink.NewFanout(sinks...).Close())
		}
		sinks = append(sinks, s)
	}

	return sink.NewFanout(sinks...), nil
}

// transportOptions maps the transport config onto library options.
func transportOptions(cfg config.TransportConfig, logger *log.Logger) []chatsocket.Option {
	opts := []chatsocket.Option{
		chatsocket.WithLogger(logger.Slog()),
		chatsocket.WithCloseTimeout(cfg.CloseTimeout.Duration),
		chatsocket.WithReadBufferSize(cfg.ReadBufferSize),
		chatsocket.WithReadLimit(cfg.ReadLimit),
	}
	if cfg.SettleDelay != nil {
		opts = append(opts, chatsocket.WithSettleDelay(cfg.SettleDelay.Duration))
	}
	return opts
}

// forwarder moves records off the receive loop and publishes them in order.
type forwarder struct {
	sink   *sink.Fanout
	logger *log.Logger
	queue  chan *sink.Record
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func newForwarder(s *sink.Fanout, logger *log.Logger, size int) *forwarder {
	f := &forwarder{
		sink:   s,
		logger: logger,
		queue:  make(chan *sink.Record, size),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Forward queues rec for publishing. It never blocks.
func (f *forwarder) Forward(rec *sink.Record) {
	if f.sink.Len() == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	select {
	case f.queue <- rec:
	default:
		f.logger.Warn("forward queue full, record dropped", map[string]any{
			"kind": rec.Kind,
		})
	}
}

func (f *forwarder) run() {
	defer close(f.done)
	for rec := range f.queue {
		if err := f.sink.Publish(context.Background(), rec); err != nil {
			f.logger.Error("publish failed", map[string]any{
				"kind":  rec.Kind,
				"error": err.Error(),
			})
		}
	}
}

// Close publishes what is queued, then closes the sinks.
func (f *forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	<-f.done
	return f.sink.Close()
}
