package chatsocket

import (
	"context"
	"time"
)

// ConnState represents the state of a Transport's connection.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosing    ConnState = "closing"
	StateClosed     ConnState = "closed"
)

// CloseReason describes why a connection ended.
type CloseReason string

const (
	// CloseNormal is a local disconnect or a normal closure from the peer.
	CloseNormal CloseReason = "normal"
	// CloseError is a closure carrying an abnormal close status.
	CloseError CloseReason = "error"
	// CloseUnexpected is a connection lost without a close handshake.
	CloseUnexpected CloseReason = "unexpected"
)

// DefaultPollInterval is the interval at which WaitUntil checks its condition.
const DefaultPollInterval = 100 * time.Millisecond

// WaitUntil polls cond every DefaultPollInterval until it returns true, the
// timeout elapses or ctx is done. It never fails on timeout: the returned
// value is the result of the last check, and callers that care should check
// their condition again.
func WaitUntil(ctx context.Context, cond func() bool, timeout time.Duration) bool {
	if cond() {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return cond()
		case <-deadline.C:
			return cond()
		case <-ticker.C:
			if cond() {
				return true
			}
		}
	}
}
