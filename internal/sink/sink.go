// Package sink defines the boundary between decoded socket events and the
// systems they are forwarded to.
//
// Sinks receive flattened Records. The command layer owns sink lifecycle;
// users provide configuration only.
package sink

import (
	"context"
	"errors"
	"time"

	chatsocket "github.com/chrisboulton/chatsocket-go"
)

// Record kinds.
const (
	KindChat    = "chat"
	KindWhisper = "whisper"
	KindPubSub  = "pubsub"
)

// Record is one decoded event in a shape that every sink can encode.
type Record struct {
	Kind string `json:"kind" msgpack:"kind" yaml:"kind"`

	// Chat and whisper fields.
	ID          string                            `json:"id,omitempty" msgpack:"id,omitempty" yaml:"id,omitempty"`
	Channel     string                            `json:"channel,omitempty" msgpack:"channel,omitempty" yaml:"channel,omitempty"`
	UserID      string                            `json:"user_id,omitempty" msgpack:"user_id,omitempty" yaml:"user_id,omitempty"`
	UserLogin   string                            `json:"user_login,omitempty" msgpack:"user_login,omitempty" yaml:"user_login,omitempty"`
	DisplayName string                            `json:"display_name,omitempty" msgpack:"display_name,omitempty" yaml:"display_name,omitempty"`
	Text        string                            `json:"text,omitempty" msgpack:"text,omitempty" yaml:"text,omitempty"`
	Badges      map[string]int                    `json:"badges,omitempty" msgpack:"badges,omitempty" yaml:"badges,omitempty"`
	Emotes      map[string][]chatsocket.EmoteSpan `json:"emotes,omitempty" msgpack:"emotes,omitempty" yaml:"emotes,omitempty"`
	Color       string                            `json:"color,omitempty" msgpack:"color,omitempty" yaml:"color,omitempty"`
	Moderator   bool                              `json:"moderator,omitempty" msgpack:"moderator,omitempty" yaml:"moderator,omitempty"`
	Bits        int                               `json:"bits,omitempty" msgpack:"bits,omitempty" yaml:"bits,omitempty"`
	SentAt      time.Time                         `json:"sent_at,omitzero" msgpack:"sent_at,omitempty" yaml:"sent_at,omitempty"`

	// PubSub fields.
	Topic       string `json:"topic,omitempty" msgpack:"topic,omitempty" yaml:"topic,omitempty"`
	TopicType   string `json:"topic_type,omitempty" msgpack:"topic_type,omitempty" yaml:"topic_type,omitempty"`
	TopicID     string `json:"topic_id,omitempty" msgpack:"topic_id,omitempty" yaml:"topic_id,omitempty"`
	MessageType string `json:"message_type,omitempty" msgpack:"message_type,omitempty" yaml:"message_type,omitempty"`
	Payload     any    `json:"payload,omitempty" msgpack:"payload,omitempty" yaml:"payload,omitempty"`

	ReceivedAt time.Time `json:"received_at" msgpack:"received_at" yaml:"received_at"`
}

// FromChatMessage flattens a chat message or whisper.
func FromChatMessage(m *chatsocket.ChatMessage, receivedAt time.Time) *Record {
	kind := KindChat
	if m.IsWhisper() {
		kind = KindWhisper
	}

	rec := &Record{
		Kind:        kind,
		ID:          m.ID,
		Channel:     m.Channel,
		UserID:      m.UserID,
		UserLogin:   m.UserLogin,
		DisplayName: m.UserDisplayName,
		Text:        m.Message,
		Color:       m.Color,
		Moderator:   m.Moderator,
		Bits:        m.BitsAmount(),
		SentAt:      m.SentAt(),
		ReceivedAt:  receivedAt.UTC(),
	}
	if badges := m.BadgeDictionary(); len(badges) > 0 {
		rec.Badges = badges
	}
	if emotes := m.EmotesDictionary(); len(emotes) > 0 {
		rec.Emotes = emotes
	}
	return rec
}

// FromPubSubMessage flattens a PubSub message. The nested payload is decoded
// into generic JSON values; a message that does not parse keeps its raw text
// as the payload.
func FromPubSubMessage(m *chatsocket.PubSubMessage, receivedAt time.Time) *Record {
	rec := &Record{
		Kind:       KindPubSub,
		Topic:      m.Topic(),
		TopicType:  string(m.TopicType()),
		TopicID:    m.TopicID(),
		ReceivedAt: receivedAt.UTC(),
	}

	data := m.MessageData()
	if data == nil {
		if raw := m.Message(); raw != "" {
			rec.Payload = raw
		}
		return rec
	}

	rec.MessageType = data.Type
	var payload any
	if err := data.Decode(&payload); err == nil {
		rec.Payload = payload
	}
	return rec
}

// Sink publishes records to a downstream system.
type Sink interface {
	// Publish forwards one record. Must respect context cancellation.
	Publish(ctx context.Context, rec *Record) error

	// Close flushes pending records and releases resources.
	Close() error
}

// Fanout publishes every record to each of its sinks.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a Fanout over sinks. Nil sinks are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Publish sends rec to every sink, even after a failure, and joins the errors.
func (f *Fanout) Publish(ctx context.Context, rec *Record) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins the errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sink = (*Fanout)(nil)
