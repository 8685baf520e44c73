package chatsocket

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrClosed           = errors.New("chatsocket: connection closed")
	ErrNotConnected     = errors.New("chatsocket: not connected")
	ErrAlreadyConnected = errors.New("chatsocket: already connected")
	ErrEmptyMessage     = errors.New("chatsocket: empty message")
	ErrNoTopics         = errors.New("chatsocket: no topics given")
)

// ConnectionError represents a connection-level error.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("chatsocket: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("chatsocket: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SendError represents an error while writing an outbound message.
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("chatsocket: send %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// HandshakeError is returned when the server rejects the websocket upgrade
// with a plain HTTP response. Body holds the start of the response body.
type HandshakeError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("chatsocket: handshake rejected: %s - %s: %v", e.Status, e.Body, e.Err)
	}
	return fmt.Sprintf("chatsocket: handshake rejected: %s: %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
