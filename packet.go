package chatsocket

import (
	"strconv"
	"strings"
)

// Chat protocol commands.
const (
	CommandPrivmsg   = "PRIVMSG"
	CommandWhisper   = "WHISPER"
	CommandPing      = "PING"
	CommandPong      = "PONG"
	CommandReconnect = "RECONNECT"
	CommandJoin      = "JOIN"
	CommandPart      = "PART"
	CommandNotice    = "NOTICE"
)

// RawPacket is one line of the chat protocol split into its parts.
// Packets are not modified after parsing.
type RawPacket struct {
	RawText    string
	Tags       map[string]string
	Prefix     string
	Command    string
	Parameters []string
}

// ParseLine decodes a chat protocol line:
//
//	[@tag=value;tag2=value2 ][:prefix ]COMMAND [param ...][ :trailing param]
//
// It never fails. Fields missing from a malformed line are left empty.
func ParseLine(line string) *RawPacket {
	p := &RawPacket{
		RawText: line,
		Tags:    map[string]string{},
	}

	rest := strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(rest, "@") {
		var tags string
		tags, rest = cut(rest[1:])
		parseTags(tags, p.Tags)
	}

	rest = strings.TrimLeft(rest, " ")
	if strings.HasPrefix(rest, ":") {
		p.Prefix, rest = cut(rest[1:])
	}

	rest = strings.TrimLeft(rest, " ")
	p.Command, rest = cut(rest)

	for rest != "" {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			p.Parameters = append(p.Parameters, rest[1:])
			break
		}
		var param string
		param, rest = cut(rest)
		p.Parameters = append(p.Parameters, param)
	}

	return p
}

// cut splits s at the first space. The space is dropped.
func cut(s string) (string, string) {
	before, after, _ := strings.Cut(s, " ")
	return before, after
}

func parseTags(s string, into map[string]string) {
	for _, tag := range strings.Split(s, ";") {
		if tag == "" {
			continue
		}
		key, value, _ := strings.Cut(tag, "=")
		into[key] = unescapeTag(value)
	}
}

var tagUnescaper = strings.NewReplacer(
	`\:`, ";",
	`\s`, " ",
	`\\`, `\`,
	`\r`, "\r",
	`\n`, "\n",
)

func unescapeTag(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	return tagUnescaper.Replace(v)
}

// UserLogin returns the nick portion of the prefix (before the first '!').
// A prefix without '!' is returned whole.
func (p *RawPacket) UserLogin() string {
	if i := strings.IndexByte(p.Prefix, '!'); i >= 0 {
		return p.Prefix[:i]
	}
	return p.Prefix
}

// TextAfterFirstParam joins all parameters after the first with a single
// space. The first parameter is usually the channel or target.
func (p *RawPacket) TextAfterFirstParam() string {
	if len(p.Parameters) < 2 {
		return ""
	}
	return strings.Join(p.Parameters[1:], " ")
}

// Param returns the i-th parameter or the empty string.
func (p *RawPacket) Param(i int) string {
	if i < 0 || i >= len(p.Parameters) {
		return ""
	}
	return p.Parameters[i]
}

// Channel returns the first parameter without a leading '#'.
func (p *RawPacket) Channel() string {
	return strings.TrimPrefix(p.Param(0), "#")
}

// Tag returns the value of a tag, or the empty string if it is absent.
func (p *RawPacket) Tag(key string) string {
	return p.Tags[key]
}

// HasTag reports whether the tag is present, even with an empty value.
func (p *RawPacket) HasTag(key string) bool {
	_, ok := p.Tags[key]
	return ok
}

// TagInt returns a tag parsed as an int, or 0.
func (p *RawPacket) TagInt(key string) int {
	v, _ := strconv.Atoi(p.Tag(key))
	return v
}

// TagInt64 returns a tag parsed as an int64, or 0.
func (p *RawPacket) TagInt64(key string) int64 {
	v, _ := strconv.ParseInt(p.Tag(key), 10, 64)
	return v
}

// TagBool reports whether a tag holds the integer 1.
func (p *RawPacket) TagBool(key string) bool {
	return p.TagInt(key) == 1
}

// SplitLines splits a received message into protocol lines. A single
// websocket message may carry several CRLF separated lines.
func SplitLines(text string) []string {
	parts := strings.Split(text, "\n")
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSuffix(part, "\r")
		if part != "" {
			lines = append(lines, part)
		}
	}
	return lines
}
