package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	chatsocket "github.com/chrisboulton/chatsocket-go"
	"github.com/chrisboulton/chatsocket-go/internal/sink"
)

// maxLineSize bounds one input line.
const maxLineSize = 1 << 20

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Decode chat lines or PubSub envelopes read from stdin",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: json, yaml",
				Value:   "json",
			},
		},
		Action: parseAction,
	}
}

// packetView is the output shape of a line that is not a chat message.
type packetView struct {
	Kind       string            `json:"kind" yaml:"kind"`
	Command    string            `json:"command,omitempty" yaml:"command,omitempty"`
	Prefix     string            `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Parameters []string          `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Tags       map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Type       string            `json:"type,omitempty" yaml:"type,omitempty"`
	Nonce      string            `json:"nonce,omitempty" yaml:"nonce,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
}

type encoder interface {
	Encode(v any) error
}

func newEncoder(w io.Writer, format string) (encoder, func() error, error) {
	switch format {
	case "json":
		return json.NewEncoder(w), func() error { return nil }, nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return enc, enc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

func parseAction(c *cli.Context) error {
	enc, flush, err := newEncoder(c.App.Writer, c.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	if err := parseStream(c.App.Reader, enc, time.Now); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return flush()
}

// parseStream decodes every non-empty line of r and encodes the result.
func parseStream(r io.Reader, enc encoder, now func() time.Time) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := enc.Encode(decodeLine(line, now())); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// decodeLine treats a line starting with '{' as a PubSub envelope and
// anything else as a chat protocol line.
func decodeLine(line string, receivedAt time.Time) any {
	if strings.HasPrefix(line, "{") {
		if p, ok := chatsocket.ParsePubSubPacket(line); ok {
			if p.IsMessage() {
				return sink.FromPubSubMessage(p.Message(), receivedAt)
			}
			return &packetView{Kind: "pubsub_packet", Type: p.Type, Nonce: p.Nonce, Error: p.Error}
		}
	}

	p := chatsocket.ParseLine(line)
	if msg, ok := chatsocket.NewChatMessage(p); ok {
		return sink.FromChatMessage(msg, receivedAt)
	}
	view := &packetView{
		Kind:       "packet",
		Command:    p.Command,
		Prefix:     p.Prefix,
		Parameters: p.Parameters,
	}
	if len(p.Tags) > 0 {
		view.Tags = p.Tags
	}
	return view
}
