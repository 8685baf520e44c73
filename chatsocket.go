// Package chatsocket provides a Go client transport for a streaming
// platform's real-time services: the IRC-derived chat protocol and the JSON
// PubSub notification protocol, both carried over websocket.
//
// The package is layered:
//
//   - [Transport] owns the websocket. It serializes [Transport.Send], runs a
//     receive loop that reassembles fragmented messages with a [Framer], and
//     reports disconnection exactly once per connection.
//   - [ParseLine] splits a chat line into a [RawPacket] (tags, prefix, command,
//     parameters). [NewChatMessage] classifies PRIVMSG and WHISPER packets and
//     decodes their badge and emote tags.
//   - [ParsePubSubPacket] decodes a PubSub envelope; [PubSubMessage] routes it
//     by topic.
//   - [ChatClient] and [PubSubClient] tie the two together.
//
// Decoding never fails on malformed input: missing fields are left empty, so
// protocol noise cannot bring down a long-lived connection.
//
// # Thread Safety
//
// [Transport], [ChatClient] and [PubSubClient] are safe for concurrent use by
// multiple goroutines. Callbacks run on the receive loop, one message at a
// time and in the order messages arrived.
//
// # Basic Usage
//
//	ctx := context.Background()
//
//	client := chatsocket.NewChatClient(
//	    chatsocket.WithOnChatMessage(func(m *chatsocket.ChatMessage) {
//	        fmt.Printf("#%s <%s> %s\n", m.Channel, m.UserLogin, m.Message)
//	    }),
//	)
//
//	if _, err := client.Connect(ctx, chatsocket.DefaultChatURL); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(ctx)
//
//	client.RequestCapabilities(ctx, "twitch.tv/tags", "twitch.tv/commands")
//	client.Authenticate(ctx, "justinfan123", "anything")
//	client.Join(ctx, "somechannel")
//
// # Observability
//
// Use [WithLogger], [WithOnSent], [WithOnTextReceived] and
// [WithOnDisconnected] to observe the transport:
//
//	t := chatsocket.NewTransport(
//	    chatsocket.WithLogger(slog.Default()),
//	    chatsocket.WithOnDisconnected(func(r chatsocket.CloseReason) {
//	        metrics.Disconnects.WithLabelValues(string(r)).Inc()
//	    }),
//	)
package chatsocket
