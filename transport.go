package chatsocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Conn is the part of a Transport that the protocol clients depend on.
// *Transport implements it.
type Conn interface {
	Connect(ctx context.Context, endpoint string) (bool, error)
	Send(ctx context.Context, text string) error
	Disconnect(ctx context.Context) error
	State() ConnState
}

// Transport owns a websocket connection. It serializes outbound writes,
// reassembles inbound text messages on a background receive loop and reports
// disconnection exactly once per connection.
// It is safe for concurrent use by multiple goroutines.
type Transport struct {
	id  string
	cfg config

	// sendMu serializes writes. It guards nothing on the receive side.
	sendMu sync.Mutex
	// closeMu serializes teardown so a second caller returns only once the
	// connection has been released.
	closeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	endpoint  string
	phase     ConnState
	closeSeen bool
	reason    CloseReason
	loopDone  chan struct{}
}

var _ Conn = (*Transport)(nil)

// NewTransport creates a Transport in the Closed state.
func NewTransport(opts ...Option) *Transport {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Transport{
		id:    uuid.New().String(),
		cfg:   cfg,
		phase: StateClosed,
	}
}

// ID returns the transport's identifier, used in log records.
func (t *Transport) ID() string {
	return t.id
}

// State reports the connection state. A connection that has observed a close
// status is always reported as closed.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *Transport) stateLocked() ConnState {
	if t.closeSeen {
		return StateClosed
	}
	if t.phase != StateConnecting && t.conn == nil {
		return StateClosed
	}
	return t.phase
}

// IsOpen reports whether the transport is open.
func (t *Transport) IsOpen() bool {
	return t.State() == StateOpen
}

// Done returns a channel closed once the current receive loop has stopped.
// Before the first successful Connect it returns a closed channel.
func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loopDone == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.loopDone
}

// Connect dials endpoint, waits for the settle delay and starts the receive
// loop. It reports whether the transport is open afterwards. Calling Connect
// on a closed transport reconnects it.
func (t *Transport) Connect(ctx context.Context, endpoint string) (bool, error) {
	t.mu.Lock()
	if state := t.stateLocked(); state != StateClosed {
		t.mu.Unlock()
		return false, ErrAlreadyConnected
	}
	prev := t.loopDone
	t.mu.Unlock()

	// A previous lifetime must be fully finished before a new one begins.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	t.mu.Lock()
	if t.phase != StateClosed {
		t.mu.Unlock()
		return false, ErrAlreadyConnected
	}
	t.phase = StateConnecting
	t.endpoint = endpoint
	t.closeSeen = false
	t.reason = ""
	t.mu.Unlock()

	log := t.logger().With(slog.String("endpoint", endpoint))
	log.Debug("connecting")

	conn, resp, err := websocket.Dial(ctx, endpoint, t.dialOptions())
	if err != nil {
		t.abortConnect(nil)
		err = handshakeError(resp, err)
		log.Warn("connect failed", slog.Any("error", err))
		return false, &ConnectionError{Op: "dial", URL: endpoint, Err: err}
	}
	conn.SetReadLimit(t.cfg.readLimit)

	loopDone := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.phase = StateOpen
	t.loopDone = loopDone
	t.mu.Unlock()

	if t.cfg.settleDelay > 0 {
		timer := time.NewTimer(t.cfg.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.abortConnect(conn)
			close(loopDone)
			return false, &ConnectionError{Op: "connect", URL: endpoint, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	go t.receiveLoop(conn, loopDone)

	open := t.IsOpen()
	log.Info("connected", slog.Bool("open", open))
	return open, nil
}

// abortConnect releases a partially established connection.
func (t *Transport) abortConnect(conn *websocket.Conn) {
	if conn != nil {
		conn.CloseNow()
	}
	t.mu.Lock()
	t.conn = nil
	t.phase = StateClosed
	t.mu.Unlock()
}

// Send writes text as a single text message. Concurrent calls are serialized.
// It returns ErrNotConnected before the first Connect and ErrClosed once the
// connection has gone away.
// A Send whose ctx is already done fails without touching the connection.
// Otherwise ctx bounds the write itself: the websocket library closes the
// connection when ctx expires part way through a frame, which the receive
// loop then reports as a disconnect.
func (t *Transport) Send(ctx context.Context, text string) error {
	if err := t.write(ctx, text); err != nil {
		return err
	}

	t.logger().Debug("sent", slog.String("text", text))
	t.emit("sent", func() {
		if t.cfg.onSent != nil {
			t.cfg.onSent(text)
		}
	})
	return nil
}

func (t *Transport) write(ctx context.Context, text string) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	conn := t.conn
	state := t.stateLocked()
	endpoint := t.endpoint
	t.mu.Unlock()

	if conn == nil || state != StateOpen {
		if endpoint == "" {
			return ErrNotConnected
		}
		return ErrClosed
	}
	// A done ctx reaching conn.Write can close the whole connection.
	if err := ctx.Err(); err != nil {
		return &SendError{Op: "write", Err: err}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return &SendError{Op: "write", Err: err}
	}
	return nil
}

// Disconnect closes the connection with a normal closure status. The receive
// loop then stops and fires the disconnected notification; use Done to wait
// for it. Calling Disconnect on a closed transport is a no-op.
func (t *Transport) Disconnect(ctx context.Context) error {
	return t.DisconnectWithStatus(ctx, websocket.StatusNormalClosure)
}

// DisconnectWithStatus is like Disconnect but sends the given close status.
// The close handshake is bounded by ctx and the configured close timeout;
// failing to close gracefully is logged, not returned.
func (t *Transport) DisconnectWithStatus(ctx context.Context, code websocket.StatusCode) error {
	t.teardown(ctx, code, CloseNormal)
	return nil
}

// teardown closes the current connection once per lifetime. The first caller
// decides the close reason; later callers get false.
func (t *Transport) teardown(ctx context.Context, code websocket.StatusCode, reason CloseReason) bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	t.mu.Lock()
	if t.conn == nil || t.phase != StateOpen {
		t.mu.Unlock()
		return false
	}
	conn := t.conn
	t.phase = StateClosing
	t.reason = reason
	t.mu.Unlock()

	t.closeConn(ctx, conn, code)

	t.mu.Lock()
	t.conn = nil
	t.phase = StateClosed
	t.mu.Unlock()
	return true
}

// closeConn attempts a close handshake for at most the close timeout and then
// releases the connection regardless of the outcome.
func (t *Transport) closeConn(ctx context.Context, conn *websocket.Conn, code websocket.StatusCode) {
	done := make(chan error, 1)
	go func() {
		done <- conn.Close(code, "")
	}()

	timer := time.NewTimer(t.cfg.closeTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && websocket.CloseStatus(err) == -1 {
			t.logger().Debug("close handshake failed", slog.Any("error", err))
		}
	case <-timer.C:
		t.logger().Warn("close handshake timed out", slog.Duration("timeout", t.cfg.closeTimeout))
	case <-ctx.Done():
		t.logger().Warn("close handshake abandoned", slog.Any("error", ctx.Err()))
	}
	conn.CloseNow()
}

// receiveLoop reads from conn until the transport leaves the open state.
// It is the only reader of conn and the only user of the framer.
func (t *Transport) receiveLoop(conn *websocket.Conn, loopDone chan struct{}) {
	reason := t.receive(conn)

	code := websocket.StatusNormalClosure
	if reason != CloseNormal {
		code = websocket.StatusInternalError
	}
	t.teardown(context.Background(), code, reason)

	t.mu.Lock()
	final := t.reason
	t.mu.Unlock()
	if final == "" {
		final = reason
	}

	close(loopDone)

	t.logger().Info("disconnected", slog.String("reason", string(final)))
	t.emit("disconnected", func() {
		if t.cfg.onDisconnected != nil {
			t.cfg.onDisconnected(final)
		}
	})
}

// receive runs the read loop and returns the close reason it observed.
func (t *Transport) receive(conn *websocket.Conn) (reason CloseReason) {
	defer func() {
		if r := recover(); r != nil {
			t.logger().Error("receive loop failed", slog.Any("panic", r))
			reason = CloseError
		}
	}()

	var framer Framer
	buf := make([]byte, t.cfg.readBufferSize)

	for t.IsOpen() {
		typ, r, err := conn.Reader(context.Background())
		if err != nil {
			if code := websocket.CloseStatus(err); code != -1 {
				res := framer.Feed(nil, true, FrameClose, int(code))
				return t.observeClose(res.CloseCode)
			}
			if t.State() != StateOpen {
				return CloseNormal
			}
			if isTransient(err) {
				continue
			}
			t.logger().Warn("read failed", slog.Any("error", err))
			return CloseUnexpected
		}

		if typ != websocket.MessageText {
			framer.Feed(nil, true, FrameOther, 0)
			t.logger().Warn("unsupported message received", slog.Int("type", int(typ)))
			if _, err := io.Copy(io.Discard, r); err != nil {
				framer.Reset()
			}
			continue
		}

		if err := t.readMessage(&framer, r, buf); err != nil {
			framer.Reset()
			if code := websocket.CloseStatus(err); code != -1 {
				return t.observeClose(int(code))
			}
			if t.State() != StateOpen {
				return CloseNormal
			}
			if isTransient(err) {
				continue
			}
			t.logger().Warn("read failed", slog.Any("error", err))
			return CloseUnexpected
		}
	}

	return CloseNormal
}

// readMessage feeds one websocket message to the framer, one buffer-sized
// read at a time, and delivers it once complete.
func (t *Transport) readMessage(framer *Framer, r io.Reader, buf []byte) error {
	for {
		n, err := r.Read(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		res := framer.Feed(buf[:n], errors.Is(err, io.EOF), FrameText, 0)
		if res.Status == FrameComplete {
			t.deliver(res.Text)
			return nil
		}
	}
}

// deliver fires the received notification and then runs the message handler.
func (t *Transport) deliver(text string) {
	t.logger().Debug("received", slog.String("text", text))
	t.emit("text received", func() {
		if t.cfg.onText != nil {
			t.cfg.onText(text)
		}
	})
	t.emit("message handler", func() {
		if t.cfg.handler != nil {
			t.cfg.handler(text)
		}
	})
}

// observeClose records a close status seen on the wire.
func (t *Transport) observeClose(code int) CloseReason {
	t.mu.Lock()
	t.closeSeen = true
	t.mu.Unlock()

	t.logger().Debug("close received", slog.Int("code", code))
	if websocket.StatusCode(code) == websocket.StatusNormalClosure {
		return CloseNormal
	}
	return CloseError
}

// emit runs a callback, recovering from panics so a misbehaving subscriber
// cannot take down the receive loop.
func (t *Transport) emit(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger().Warn("callback panicked", slog.String("callback", name), slog.Any("panic", r))
		}
	}()
	fn()
}

func (t *Transport) dialOptions() *websocket.DialOptions {
	opts := &websocket.DialOptions{
		HTTPHeader:   t.cfg.header.Clone(),
		HTTPClient:   t.cfg.httpClient,
		Subprotocols: t.cfg.subprotocols,
	}
	if opts.HTTPHeader == nil {
		opts.HTTPHeader = http.Header{}
	}
	return opts
}

func (t *Transport) logger() *slog.Logger {
	if t.cfg.logger == nil {
		return discardLogger
	}
	return t.cfg.logger.With(slog.String("transport_id", t.id))
}

var discardLogger = slog.New(slog.DiscardHandler)

// isTransient reports whether a read error only affects the current iteration.
func isTransient(err error) bool {
	return errors.Is(err, context.Canceled)
}

// handshakeError attaches the rejection detail of a failed upgrade, if the
// server answered with an HTTP response.
func handshakeError(resp *http.Response, err error) error {
	if resp == nil {
		return err
	}

	var body string
	if resp.Body != nil {
		// Only the first 1024 bytes of a rejected upgrade's body are readable.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		body = strings.TrimSpace(string(data))
	}

	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return &HandshakeError{
		StatusCode: resp.StatusCode,
		Status:     status,
		Body:       body,
		Err:        err,
	}
}

// Endpoint returns the endpoint of the most recent Connect call.
func (t *Transport) Endpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpoint
}
