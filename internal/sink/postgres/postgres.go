// Package postgres implements a batching Postgres sink.
//
// Records are queued without blocking and written through pgx.Batch. A batch
// is flushed when it reaches MaxBatch, when FlushEvery elapses, or on Close.
// When the queue is full the record is dropped and counted.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chrisboulton/chatsocket-go/internal/log"
	"github.com/chrisboulton/chatsocket-go/internal/sink"
)

// Defaults applied to zero config values.
const (
	DefaultMaxBatch      = 100
	DefaultFlushEvery    = time.Second
	DefaultChanBuffer    = 1000
	DefaultFlushTimeout  = 5 * time.Second
	DefaultStatsLogEvery = time.Minute
)

// ErrQueueFull is returned by Publish when the record was dropped.
var ErrQueueFull = errors.New("postgres sink: queue full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("postgres sink: closed")

// Config configures batching.
type Config struct {
	DSN           string
	MaxBatch      int
	FlushEvery    time.Duration
	ChanBuffer    int
	FlushTimeout  time.Duration
	StatsLogEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = DefaultFlushEvery
	}
	if c.ChanBuffer <= 0 {
		c.ChanBuffer = DefaultChanBuffer
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.StatsLogEvery <= 0 {
		c.StatsLogEvery = DefaultStatsLogEvery
	}
	return c
}

// Schema creates the tables the sink writes to.
var Schema = []string{
	`create table if not exists chat_messages (
  message_id   text primary key,
  kind         text not null,
  channel      text,
  user_id      text,
  user_login   text,
  display_name text,
  text         text,
  badges       jsonb,
  emotes       jsonb,
  color        text,
  is_mod       boolean not null default false,
  bits         integer not null default 0,
  sent_at      timestamptz,
  received_at  timestamptz not null
)`,
	`create table if not exists pubsub_events (
  id           bigserial primary key,
  topic        text not null,
  topic_type   text,
  topic_id     text,
  message_type text,
  payload      jsonb,
  received_at  timestamptz not null
)`,
}

const insertChat = `
insert into chat_messages (
  message_id, kind, channel, user_id, user_login, display_name, text,
  badges, emotes, color, is_mod, bits, sent_at, received_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
on conflict (message_id) do nothing;`

const insertPubSub = `
insert into pubsub_events (
  topic, topic_type, topic_id, message_type, payload, received_at
) values ($1,$2,$3,$4,$5,$6);`

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Stats reports sink counters.
type Stats struct {
	Inserted   uint64
	Duplicates uint64
	Failed     uint64
	Dropped    uint64
}

// Sink asynchronously inserts records through pgx.Batch.
type Sink struct {
	input  chan *sink.Record
	config Config
	sender batchSender
	logger *log.Logger
	pool   *pgxpool.Pool

	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	inserted   atomic.Uint64
	duplicates atomic.Uint64
	failed     atomic.Uint64
	dropped  atomic.Uint64
}

// New connects to cfg.DSN, creates the schema if needed and starts the
// background flusher.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres sink requires a DSN")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	s := newSink(ctx, pool, cfg, logger)
	s.pool = pool
	return s, nil
}

// EnsureSchema runs each Schema statement.
func EnsureSchema(ctx context.Context, db execer) error {
	for _, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres sink: ensure schema: %w", err)
		}
	}
	return nil
}

func newSink(ctx context.Context, sender batchSender, cfg Config, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()

	// The flusher outlives the caller's context; only Close stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Sink{
		input:  make(chan *sink.Record, cfg.ChanBuffer),
		config: cfg,
		sender: sender,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.run(runCtx)

	return s
}

// Publish queues rec for the next batch. It never blocks on the database.
func (s *Sink) Publish(ctx context.Context, rec *sink.Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case s.input <- rec:
		return nil
	default:
		dropped := s.dropped.Add(1)
		if dropped%100 == 1 {
			s.logger.Warn("postgres sink queue full", map[string]any{
				"dropped_total": dropped,
			})
		}
		return ErrQueueFull
	}
}

// Dropped returns the number of records dropped because the queue was full.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Inserted:   s.inserted.Load(),
		Duplicates: s.duplicates.Load(),
		Failed:     s.failed.Load(),
		Dropped:    s.dropped.Load(),
	}
}

// Close flushes queued records, stops the flusher and closes the pool.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		<-s.done
		if s.pool != nil {
			s.pool.Close()
		}
	})
	return nil
}

func (s *Sink) run(ctx context.Context) {
	defer close(s.done)

	flushTicker := time.NewTicker(s.config.FlushEvery)
	statsTicker := time.NewTicker(s.config.StatsLogEvery)
	defer flushTicker.Stop()
	defer statsTicker.Stop()

	var (
		batch            = &pgx.Batch{}
		intervalInserted uint64
	)

	flush := func() {
		intervalInserted += s.flush(batch)
		batch = &pgx.Batch{}
	}

	for {
		select {
		case <-ctx.Done():
			// drain what was accepted before Close
			for drained := false; !drained; {
				select {
				case rec := <-s.input:
					s.queue(batch, rec)
					if batch.Len() >= s.config.MaxBatch {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			s.logger.Info("postgres sink stopped", map[string]any{
				"inserted_total": s.inserted.Load(),
				"dropped_total":  s.dropped.Load(),
			})
			return
		case <-flushTicker.C:
			flush()
		case <-statsTicker.C:
			s.logger.Info("postgres sink stats", map[string]any{
				"inserted":       intervalInserted,
				"interval":       s.config.StatsLogEvery.String(),
				"inserted_total": s.inserted.Load(),
			})
			intervalInserted = 0
		case rec := <-s.input:
			s.queue(batch, rec)
			if batch.Len() >= s.config.MaxBatch {
				flush()
			}
		}
	}
}

// flush sends batch and returns the number of rows written.
func (s *Sink) flush(batch *pgx.Batch) uint64 {
	pending := batch.Len()
	if pending == 0 {
		return 0
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), s.config.FlushTimeout)
	defer cancel()

	br := s.sender.SendBatch(dbCtx, batch)
	var failed, duplicates int
	var firstErr error
	for range pending {
		tag, err := br.Exec()
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		// "on conflict do nothing" reports zero rows for a message id already stored
		if tag.RowsAffected() == 0 {
			duplicates++
		}
	}
	if err := br.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		s.logger.Error("postgres sink flush failed", map[string]any{
			"error":   firstErr.Error(),
			"pending": pending,
			"failed":  failed,
		})
	}

	ok := uint64(pending - failed - duplicates)
	s.inserted.Add(ok)
	s.duplicates.Add(uint64(duplicates))
	s.failed.Add(uint64(failed))
	return ok
}

func (s *Sink) queue(batch *pgx.Batch, rec *sink.Record) {
	switch rec.Kind {
	case sink.KindPubSub:
		batch.Queue(insertPubSub,
			rec.Topic, nullable(rec.TopicType), nullable(rec.TopicID), nullable(rec.MessageType),
			jsonValue(rec.Payload), rec.ReceivedAt.UTC(),
		)
	default:
		batch.Queue(insertChat,
			messageID(rec), rec.Kind, nullable(rec.Channel), nullable(rec.UserID), nullable(rec.UserLogin),
			nullable(rec.DisplayName), nullable(rec.Text), jsonValue(rec.Badges), jsonValue(rec.Emotes),
			nullable(rec.Color), rec.Moderator, rec.Bits, timeValue(rec.SentAt), rec.ReceivedAt.UTC(),
		)
	}
}

// messageID returns the record's id tag, or a fresh uuid for lines that
// carry none (whispers, chat without the tags capability).
func messageID(rec *sink.Record) string {
	if rec.ID != "" {
		return rec.ID
	}
	return uuid.New().String()
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func timeValue(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func jsonValue(v any) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil
	}
	return data
}

var _ sink.Sink = (*Sink)(nil)
