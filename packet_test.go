package chatsocket

import (
	"reflect"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		tags       map[string]string
		prefix     string
		command    string
		parameters []string
	}{
		{
			name:       "ping",
			line:       "PING :tmi.twitch.tv",
			tags:       map[string]string{},
			command:    "PING",
			parameters: []string{"tmi.twitch.tv"},
		},
		{
			name:       "privmsg with tags",
			line:       "@badges=subscriber/12;mod=1 :nick!nick@nick.tmi.twitch.tv PRIVMSG #chan :hello world",
			tags:       map[string]string{"badges": "subscriber/12", "mod": "1"},
			prefix:     "nick!nick@nick.tmi.twitch.tv",
			command:    "PRIVMSG",
			parameters: []string{"#chan", "hello world"},
		},
		{
			name:       "middle parameters",
			line:       ":tmi.twitch.tv CAP * ACK :twitch.tv/tags twitch.tv/commands",
			tags:       map[string]string{},
			prefix:     "tmi.twitch.tv",
			command:    "CAP",
			parameters: []string{"*", "ACK", "twitch.tv/tags twitch.tv/commands"},
		},
		{
			name:       "trailing parameter keeps colons",
			line:       ":a!a@a PRIVMSG #c :see http://x.y :)",
			tags:       map[string]string{},
			prefix:     "a!a@a",
			command:    "PRIVMSG",
			parameters: []string{"#c", "see http://x.y :)"},
		},
		{
			name:       "empty trailing parameter",
			line:       ":a!a@a PRIVMSG #c :",
			tags:       map[string]string{},
			prefix:     "a!a@a",
			command:    "PRIVMSG",
			parameters: []string{"#c", ""},
		},
		{
			name:       "crlf is trimmed",
			line:       "PING :tmi.twitch.tv\r\n",
			tags:       map[string]string{},
			command:    "PING",
			parameters: []string{"tmi.twitch.tv"},
		},
		{
			name:       "repeated spaces",
			line:       ":srv  NOTICE   #c   :hi",
			tags:       map[string]string{},
			prefix:     "srv",
			command:    "NOTICE",
			parameters: []string{"#c", "hi"},
		},
		{
			name:    "command only",
			line:    "RECONNECT",
			tags:    map[string]string{},
			command: "RECONNECT",
		},
		{
			name:    "empty tag value and missing equals",
			line:    "@emotes=;flag :srv USERSTATE #c",
			tags:    map[string]string{"emotes": "", "flag": ""},
			prefix:  "srv",
			command: "USERSTATE",
			parameters: []string{
				"#c",
			},
		},
		{
			name: "empty line",
			line: "",
			tags: map[string]string{},
		},
		{
			name:   "prefix only",
			line:   ":only",
			tags:   map[string]string{},
			prefix: "only",
		},
		{
			name: "tags only",
			line: "@a=b",
			tags: map[string]string{"a": "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseLine(tt.line)

			if p.RawText != tt.line {
				t.Errorf("RawText = %q, want %q", p.RawText, tt.line)
			}
			if !reflect.DeepEqual(p.Tags, tt.tags) {
				t.Errorf("Tags = %v, want %v", p.Tags, tt.tags)
			}
			if p.Prefix != tt.prefix {
				t.Errorf("Prefix = %q, want %q", p.Prefix, tt.prefix)
			}
			if p.Command != tt.command {
				t.Errorf("Command = %q, want %q", p.Command, tt.command)
			}
			if !reflect.DeepEqual(p.Parameters, tt.parameters) {
				t.Errorf("Parameters = %q, want %q", p.Parameters, tt.parameters)
			}
		})
	}
}

func TestParseLine_TagUnescaping(t *testing.T) {
	p := ParseLine(`@system-msg=5\sraiders\sfrom\:\sbob;path=a\\b;lines=x\ny :srv USERNOTICE #c`)

	if got := p.Tag("system-msg"); got != "5 raiders from; bob" {
		t.Errorf("system-msg = %q", got)
	}
	if got := p.Tag("path"); got != `a\b` {
		t.Errorf("path = %q", got)
	}
	if got := p.Tag("lines"); got != "x\ny" {
		t.Errorf("lines = %q", got)
	}
}

func TestRawPacket_UserLogin(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"nick!nick@nick.tmi.twitch.tv", "nick"},
		{"tmi.twitch.tv", "tmi.twitch.tv"},
		{"", ""},
		{"!odd@host", ""},
	}

	for _, tt := range tests {
		p := &RawPacket{Prefix: tt.prefix}
		if got := p.UserLogin(); got != tt.want {
			t.Errorf("UserLogin(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestRawPacket_TextAfterFirstParam(t *testing.T) {
	tests := []struct {
		params []string
		want   string
	}{
		{nil, ""},
		{[]string{"#chan"}, ""},
		{[]string{"#chan", "hello world"}, "hello world"},
		{[]string{"#chan", "a", "b"}, "a b"},
	}

	for _, tt := range tests {
		p := &RawPacket{Parameters: tt.params}
		if got := p.TextAfterFirstParam(); got != tt.want {
			t.Errorf("TextAfterFirstParam(%q) = %q, want %q", tt.params, got, tt.want)
		}
	}
}

func TestRawPacket_Accessors(t *testing.T) {
	p := ParseLine("@mod=1;bits=100;tmi-sent-ts=1700000000000;color= :a!a@a PRIVMSG #Chan :hi")

	if p.Channel() != "Chan" {
		t.Errorf("Channel() = %q", p.Channel())
	}
	if p.Param(1) != "hi" || p.Param(5) != "" || p.Param(-1) != "" {
		t.Errorf("Param() returned unexpected values")
	}
	if !p.TagBool("mod") {
		t.Error("TagBool(mod) = false")
	}
	if p.TagBool("missing") {
		t.Error("TagBool(missing) = true")
	}
	if p.TagInt("bits") != 100 {
		t.Errorf("TagInt(bits) = %d", p.TagInt("bits"))
	}
	if p.TagInt64("tmi-sent-ts") != 1700000000000 {
		t.Errorf("TagInt64(tmi-sent-ts) = %d", p.TagInt64("tmi-sent-ts"))
	}
	if !p.HasTag("color") || p.Tag("color") != "" {
		t.Error("empty color tag should be present")
	}
	if p.HasTag("missing") {
		t.Error("HasTag(missing) = true")
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"PING :a\r\n", []string{"PING :a"}},
		{"PING :a\r\nPING :b\r\n", []string{"PING :a", "PING :b"}},
		{"PING :a\nPING :b", []string{"PING :a", "PING :b"}},
		{"\r\n\r\n", []string{}},
		{"", []string{}},
	}

	for _, tt := range tests {
		if got := SplitLines(tt.text); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitLines(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
