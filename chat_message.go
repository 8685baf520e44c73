package chatsocket

import (
	"strconv"
	"strings"
	"time"
)

// ChatMessage is a typed view of a PRIVMSG or WHISPER packet.
// A whisper has the same shape and differs only by Command.
type ChatMessage struct {
	Raw     *RawPacket
	Command string

	ID      string
	Channel string
	Message string

	UserID          string
	UserLogin       string
	UserDisplayName string
	UserBadgeInfo   string
	UserBadges      string
	Moderator       bool

	Color     string
	Emotes    string
	RoomID    string
	Bits      string
	Timestamp string
}

// EmoteSpan is the inclusive character range of one emote in a message.
type EmoteSpan struct {
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end" msgpack:"end"`
}

// NewChatMessage classifies p. It returns false for commands other than
// PRIVMSG and WHISPER.
func NewChatMessage(p *RawPacket) (*ChatMessage, bool) {
	if p == nil || (p.Command != CommandPrivmsg && p.Command != CommandWhisper) {
		return nil, false
	}

	return &ChatMessage{
		Raw:     p,
		Command: p.Command,

		ID:      p.Tag("id"),
		Channel: p.Channel(),
		Message: p.TextAfterFirstParam(),

		UserID:          p.Tag("user-id"),
		UserLogin:       p.UserLogin(),
		UserDisplayName: p.Tag("display-name"),
		UserBadgeInfo:   p.Tag("badge-info"),
		UserBadges:      p.Tag("badges"),
		Moderator:       p.TagBool("mod"),

		Color:     p.Tag("color"),
		Emotes:    p.Tag("emotes"),
		RoomID:    p.Tag("room-id"),
		Bits:      p.Tag("bits"),
		Timestamp: p.Tag("tmi-sent-ts"),
	}, true
}

// IsWhisper reports whether the message arrived as a WHISPER.
func (m *ChatMessage) IsWhisper() bool {
	return m.Command == CommandWhisper
}

// BadgeDictionary returns the user's badges mapped to their versions.
func (m *ChatMessage) BadgeDictionary() map[string]int {
	return ParseBadgeDictionary(m.UserBadges)
}

// BadgeInfoDictionary returns the badge-info tag mapped the same way.
func (m *ChatMessage) BadgeInfoDictionary() map[string]int {
	return ParseBadgeDictionary(m.UserBadgeInfo)
}

// EmotesDictionary returns the emote spans keyed by emote ID.
func (m *ChatMessage) EmotesDictionary() map[string][]EmoteSpan {
	return ParseEmoteDictionary(m.Emotes)
}

// BitsAmount returns the cheered bits, or 0.
func (m *ChatMessage) BitsAmount() int {
	n, _ := strconv.Atoi(m.Bits)
	return n
}

// SentAt returns the server timestamp of the message, or the zero time if the
// tag is missing or malformed.
func (m *ChatMessage) SentAt() time.Time {
	ms, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ParseBadgeDictionary decodes "name1/version1,name2/version2". An incomplete
// trailing pair and versions that are not integers are skipped.
func ParseBadgeDictionary(s string) map[string]int {
	results := map[string]int{}
	if s == "" {
		return results
	}

	// Split positionally so an empty field does not shift the pairing.
	splits := strings.Split(strings.ReplaceAll(s, ",", "/"), "/")
	for i := 0; i+1 < len(splits); i += 2 {
		version, err := strconv.Atoi(splits[i+1])
		if err != nil {
			continue
		}
		results[splits[i]] = version
	}
	return results
}

// ParseEmoteDictionary decodes "id1:s1-e1,s2-e2/id2:s3-e3". Spans that do not
// parse as integer pairs are skipped.
func ParseEmoteDictionary(s string) map[string][]EmoteSpan {
	results := map[string][]EmoteSpan{}
	if s == "" {
		return results
	}

	splits := strings.Split(strings.ReplaceAll(s, ":", "/"), "/")
	if len(splits)%2 != 0 {
		return results
	}

	for i := 0; i < len(splits); i += 2 {
		id := splits[i]
		spans := []EmoteSpan{}

		bounds := strings.Split(strings.ReplaceAll(splits[i+1], ",", "-"), "-")
		if len(bounds)%2 == 0 {
			for j := 0; j < len(bounds); j += 2 {
				start, err1 := strconv.Atoi(bounds[j])
				end, err2 := strconv.Atoi(bounds[j+1])
				if err1 != nil || err2 != nil {
					continue
				}
				spans = append(spans, EmoteSpan{Start: start, End: end})
			}
		}
		results[id] = spans
	}
	return results
}
