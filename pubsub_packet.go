package chatsocket

import (
	"bytes"
	"encoding/json"
	"strings"
)

// PubSub packet types.
const (
	PubSubTypeListen    = "LISTEN"
	PubSubTypeUnlisten  = "UNLISTEN"
	PubSubTypePing      = "PING"
	PubSubTypePong      = "PONG"
	PubSubTypeResponse  = "RESPONSE"
	PubSubTypeMessage   = "MESSAGE"
	PubSubTypeReconnect = "RECONNECT"
)

// PubSubTopic is a known topic family, the part of a topic before the first dot.
type PubSubTopic string

const (
	TopicUnknown                     PubSubTopic = ""
	TopicChannelBitsEventsV1         PubSubTopic = "channel-bits-events-v1"
	TopicChannelBitsEventsV2         PubSubTopic = "channel-bits-events-v2"
	TopicChannelBitsBadgeUnlocks     PubSubTopic = "channel-bits-badge-unlocks"
	TopicChannelPointsChannelV1      PubSubTopic = "channel-points-channel-v1"
	TopicChannelSubscribeEventsV1    PubSubTopic = "channel-subscribe-events-v1"
	TopicChatModeratorActions        PubSubTopic = "chat_moderator_actions"
	TopicWhispers                    PubSubTopic = "whispers"
	TopicAutomodQueue                PubSubTopic = "automod-queue"
	TopicUserModerationNotifications PubSubTopic = "user-moderation-notifications"
	TopicVideoPlaybackByID           PubSubTopic = "video-playback-by-id"
	TopicHypeTrainEventsV1           PubSubTopic = "hype-train-events-v1"
	TopicLowTrustUsers               PubSubTopic = "low-trust-users"
)

var knownTopics = []PubSubTopic{
	TopicChannelBitsEventsV1,
	TopicChannelBitsEventsV2,
	TopicChannelBitsBadgeUnlocks,
	TopicChannelPointsChannelV1,
	TopicChannelSubscribeEventsV1,
	TopicChatModeratorActions,
	TopicWhispers,
	TopicAutomodQueue,
	TopicUserModerationNotifications,
	TopicVideoPlaybackByID,
	TopicHypeTrainEventsV1,
	TopicLowTrustUsers,
}

// ParseTopicType maps a topic family name to a PubSubTopic, ignoring case.
// Unrecognized names map to TopicUnknown.
func ParseTopicType(s string) PubSubTopic {
	for _, topic := range knownTopics {
		if strings.EqualFold(s, string(topic)) {
			return topic
		}
	}
	return TopicUnknown
}

// Topic builds a topic string such as "channel-bits-events-v2.12345".
func (t PubSubTopic) Topic(id string) string {
	if id == "" {
		return string(t)
	}
	return string(t) + "." + id
}

// --- Requests (Client -> Server) ---

// PubSubRequest is a request sent to the PubSub service.
type PubSubRequest struct {
	Type  string             `json:"type"`
	Nonce string             `json:"nonce,omitempty"`
	Data  *PubSubRequestData `json:"data,omitempty"`
}

// PubSubRequestData carries the topics of a LISTEN or UNLISTEN request.
type PubSubRequestData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token,omitempty"`
}

// NewListenRequest creates a LISTEN request.
func NewListenRequest(nonce, token string, topics []string) *PubSubRequest {
	return &PubSubRequest{
		Type:  PubSubTypeListen,
		Nonce: nonce,
		Data:  &PubSubRequestData{Topics: topics, AuthToken: token},
	}
}

// NewUnlistenRequest creates an UNLISTEN request.
func NewUnlistenRequest(nonce, token string, topics []string) *PubSubRequest {
	return &PubSubRequest{
		Type:  PubSubTypeUnlisten,
		Nonce: nonce,
		Data:  &PubSubRequestData{Topics: topics, AuthToken: token},
	}
}

// NewPingRequest creates a PING request.
func NewPingRequest() *PubSubRequest {
	return &PubSubRequest{Type: PubSubTypePing}
}

// --- Packets (Server -> Client) ---

// PubSubPacket is one JSON envelope received from the PubSub service.
type PubSubPacket struct {
	Type  string          `json:"type"`
	Nonce string          `json:"nonce,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParsePubSubPacket decodes a PubSub envelope. It returns false if text is
// not a JSON object.
func ParsePubSubPacket(text string) (*PubSubPacket, bool) {
	var p PubSubPacket
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, false
	}
	return &p, true
}

// IsMessage reports whether this is a MESSAGE packet.
func (p *PubSubPacket) IsMessage() bool {
	return strings.EqualFold(p.Type, PubSubTypeMessage)
}

// IsResponse reports whether this is a RESPONSE packet.
func (p *PubSubPacket) IsResponse() bool {
	return strings.EqualFold(p.Type, PubSubTypeResponse)
}

// IsPong reports whether this is a PONG packet.
func (p *PubSubPacket) IsPong() bool {
	return strings.EqualFold(p.Type, PubSubTypePong)
}

// IsReconnect reports whether this is a RECONNECT packet.
func (p *PubSubPacket) IsReconnect() bool {
	return strings.EqualFold(p.Type, PubSubTypeReconnect)
}

// Message returns the topic-routed view of the packet's data.
func (p *PubSubPacket) Message() *PubSubMessage {
	return &PubSubMessage{Packet: p, fields: decodeFields(p.Data)}
}

// PubSubMessage is the topic-routed view over the data of a MESSAGE packet.
type PubSubMessage struct {
	Packet *PubSubPacket
	fields map[string]json.RawMessage
}

// Topic returns the full topic, or the empty string if absent.
func (m *PubSubMessage) Topic() string {
	return fieldString(m.fields, "topic")
}

// TopicType returns the topic family. A missing or unrecognized family is
// TopicUnknown.
func (m *PubSubMessage) TopicType() PubSubTopic {
	topic := m.Topic()
	if topic == "" {
		return TopicUnknown
	}
	family, _, _ := strings.Cut(topic, ".")
	return ParseTopicType(family)
}

// TopicID returns the second dot-separated segment of the topic, or the
// empty string if there is none.
func (m *PubSubMessage) TopicID() string {
	splits := strings.Split(m.Topic(), ".")
	if len(splits) < 2 {
		return ""
	}
	return splits[1]
}

// Message returns the raw message string, or the empty string if absent.
func (m *PubSubMessage) Message() string {
	return fieldString(m.fields, "message")
}

// MessageData decodes the nested message JSON. It parses the message on
// every call and returns nil if it is empty or not a JSON object.
func (m *PubSubMessage) MessageData() *PubSubMessageData {
	msg := m.Message()
	if msg == "" {
		return nil
	}

	var data PubSubMessageData
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return nil
	}
	return &data
}

// PubSubMessageData is the nested payload of a PubSub message.
type PubSubMessageData struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Payload returns the payload as JSON. Some topics encode the payload as a
// JSON string holding another JSON document; that document is returned.
func (d *PubSubMessageData) Payload() json.RawMessage {
	trimmed := bytes.TrimSpace(d.Data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return d.Data
	}

	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil || !json.Valid([]byte(inner)) {
		return d.Data
	}
	return json.RawMessage(inner)
}

// Decode unmarshals the payload into v.
func (d *PubSubMessageData) Decode(v any) error {
	return json.Unmarshal(d.Payload(), v)
}

func decodeFields(data json.RawMessage) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

// fieldString returns a field as a string. Strings are unquoted; other JSON
// values are returned as their literal text.
func fieldString(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}
