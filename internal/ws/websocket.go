// Package ws implements the RFC 6455 client: handshake over the HTTP
// transport, frame codec with mandatory client masking, control-frame
// handling and optional reconnection with exponential backoff.
package ws

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roldriel/reqivo/internal/dialer"
	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/model"
	"github.com/roldriel/reqivo/internal/proto"
	"github.com/roldriel/reqivo/internal/timing"
	"github.com/roldriel/reqivo/internal/transport"
	"github.com/roldriel/reqivo/utils/netpool"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package logger.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ErrClosed is wrapped into the error Recv returns when the peer closes
// cleanly with a close frame. Calls after a local Close fail with a plain
// "connection is not open" error instead.
var ErrClosed = errors.New("websocket: connection closed")

// State of the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// MessageType distinguishes text from binary application messages.
type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

// Message is one application message, reassembled across fragments.
type Message struct {
	Type MessageType
	Data []byte
}

func (m Message) Text() string { return string(m.Data) }

// Option configures a WebSocket before Connect.
type Option func(*config)

type config struct {
	headers              *proto.Headers
	subprotocols         []string
	maxFrameSize         int64
	autoReconnect        bool
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	timeout              timing.Timeout
	limits               transport.Limits
}

func defaultWSConfig() config {
	return config{
		maxFrameSize:         1 << 20,
		maxReconnectAttempts: 3,
		reconnectDelay:       time.Second,
		timeout:              timing.Default,
		limits:               transport.DefaultLimits,
	}
}

// WithHeaders adds extra handshake headers.
func WithHeaders(h *proto.Headers) Option {
	return func(c *config) { c.headers = h }
}

// WithSubprotocols offers subprotocols during the handshake.
func WithSubprotocols(protos ...string) Option {
	return func(c *config) { c.subprotocols = protos }
}

// WithMaxFrameSize bounds accepted frame payloads.
func WithMaxFrameSize(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

// WithAutoReconnect re-handshakes after unexpected drops, waiting
// baseDelay*2^attempt between tries.
func WithAutoReconnect(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *config) {
		c.autoReconnect = true
		if maxAttempts > 0 {
			c.maxReconnectAttempts = maxAttempts
		}
		if baseDelay > 0 {
			c.reconnectDelay = baseDelay
		}
	}
}

// WithTimeout sets the connect/read bounds for the handshake and frames.
func WithTimeout(t timing.Timeout) Option {
	return func(c *config) { c.timeout = t }
}

// WithLimits bounds the handshake response parser.
func WithLimits(l transport.Limits) Option {
	return func(c *config) { c.limits = l }
}

// WebSocket is a client connection. Not safe for concurrent use.
type WebSocket struct {
	url    *proto.URL
	dialer *dialer.CoreDialer
	cfg    config

	state       State
	conn        *netpool.Conn
	subprotocol string

	// fragment assembly across Recv frames
	fragOpcode  byte
	fragPayload []byte

	closeSent bool
}

// New prepares a client for url (ws or wss). Connect establishes it.
func New(u *proto.URL, d *dialer.CoreDialer, opts ...Option) (*WebSocket, error) {
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errs.New(errs.KindWebSocket, "connect", "URL scheme must be ws or wss, got %q", u.Scheme)
	}
	cfg := defaultWSConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if d == nil {
		d = &dialer.CoreDialer{}
	}
	return &WebSocket{url: u, dialer: d, cfg: cfg, state: StateConnecting}, nil
}

// State reports the lifecycle state.
func (w *WebSocket) State() State { return w.state }

// Subprotocol is the server-selected subprotocol, empty if none.
func (w *WebSocket) Subprotocol() string { return w.subprotocol }

// Connect dials the origin and performs the RFC 6455 upgrade handshake.
// The connection is owned by the WebSocket, never pooled.
func (w *WebSocket) Connect(ctx context.Context) error {
	if w.state == StateOpen {
		return nil
	}
	origin := w.url.Origin()
	clock := timing.Start(w.cfg.timeout)

	raw, err := w.dialer.Dial(ctx, origin, clock.ConnectDeadline(time.Now()))
	if err != nil {
		return err
	}
	conn := netpool.NewDetached(raw, origin)

	key, err := newSecKey()
	if err != nil {
		raw.Close()
		return err
	}

	headers := proto.NewHeaders()
	if w.cfg.headers != nil {
		headers = w.cfg.headers.Clone()
	}
	headers.Set("Upgrade", "websocket")
	headers.Set("Connection", "Upgrade")
	headers.Set("Sec-WebSocket-Key", key)
	headers.Set("Sec-WebSocket-Version", "13")
	if len(w.cfg.subprotocols) > 0 {
		headers.Set("Sec-WebSocket-Protocol", strings.Join(w.cfg.subprotocols, ", "))
	}

	req := &model.Request{Method: "GET", URL: w.url.String(), Header: headers}
	pr, err := req.Prepare()
	if err != nil {
		raw.Close()
		return err
	}
	pr.NoCompression = true

	conn.SetWriteDeadline(clock.ReadDeadline(time.Now()))
	if err := transport.WriteRequest(conn, pr); err != nil {
		conn.Close()
		return errs.Wrap(errs.KindWebSocket, "handshake", err)
	}

	conn.SetReadDeadline(clock.ReadDeadline(time.Now()))
	resp, err := transport.ReadResponse(conn.Reader(), "GET", w.cfg.limits, false)
	if err != nil {
		conn.Close()
		return errs.Wrap(errs.KindWebSocket, "handshake", err)
	}
	if resp.Status != 101 {
		conn.Close()
		return errs.New(errs.KindWebSocket, "handshake", "expected 101, got %d", resp.Status)
	}
	if accept := resp.Headers.Get("Sec-WebSocket-Accept"); accept != acceptKey(key) {
		conn.Close()
		return errs.New(errs.KindWebSocket, "handshake", "Sec-WebSocket-Accept mismatch")
	}
	w.subprotocol = resp.Headers.Get("Sec-WebSocket-Protocol")

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	w.conn = conn
	w.state = StateOpen
	w.closeSent = false
	w.fragOpcode = 0
	w.fragPayload = nil
	return nil
}

func newSecKey() (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", errs.Wrap(errs.KindWebSocket, "handshake", err)
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// acceptKey derives the expected Sec-WebSocket-Accept per RFC 6455
// §4.2.2. SHA-1 is mandated by the RFC, not a security choice.
func acceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SendText sends one text message.
func (w *WebSocket) SendText(ctx context.Context, text string) error {
	return w.send(ctx, OpText, []byte(text))
}

// SendBinary sends one binary message.
func (w *WebSocket) SendBinary(ctx context.Context, data []byte) error {
	return w.send(ctx, OpBinary, data)
}

// Send dispatches on the message type.
func (w *WebSocket) Send(ctx context.Context, msg Message) error {
	opcode := OpBinary
	if msg.Type == TextMessage {
		opcode = OpText
	}
	return w.send(ctx, opcode, msg.Data)
}

func (w *WebSocket) send(ctx context.Context, opcode byte, payload []byte) error {
	if w.state != StateOpen {
		return errs.New(errs.KindWebSocket, "send", "connection is not open")
	}
	err := w.writeDeadlined(opcode, payload)
	if err == nil {
		return nil
	}
	if !w.cfg.autoReconnect {
		return errs.Wrap(errs.KindWebSocket, "send", err)
	}
	if rerr := w.reconnect(ctx); rerr != nil {
		return rerr
	}
	if err := w.writeDeadlined(opcode, payload); err != nil {
		return errs.Wrap(errs.KindWebSocket, "send", err)
	}
	return nil
}

func (w *WebSocket) writeDeadlined(opcode byte, payload []byte) error {
	if d := w.cfg.timeout.Read; d > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(d))
	}
	return writeFrame(w.conn, true, opcode, payload)
}

// Recv returns the next application message. Pings are answered
// transparently; pongs are discarded; a peer close completes the close
// handshake and surfaces ErrClosed.
func (w *WebSocket) Recv(ctx context.Context) (Message, error) {
	if w.state != StateOpen {
		return Message{}, errs.New(errs.KindWebSocket, "recv", "connection is not open")
	}
	for {
		if d := w.cfg.timeout.Read; d > 0 {
			w.conn.SetReadDeadline(time.Now().Add(d))
		}
		f, err := readFrame(w.conn.Reader(), w.cfg.maxFrameSize)
		if err != nil {
			return w.recvError(ctx, err)
		}

		switch f.opcode {
		case OpPing:
			if err := w.writeDeadlined(OpPong, f.payload); err != nil {
				return w.recvError(ctx, err)
			}
		case OpPong:
			// unsolicited or answering our ping; nothing to deliver
		case OpClose:
			return Message{}, w.handlePeerClose(f.payload)
		case OpText, OpBinary:
			if w.fragOpcode != 0 {
				return Message{}, w.failProtocol("data frame interleaved in fragmented message")
			}
			if f.fin {
				return Message{Type: msgType(f.opcode), Data: f.payload}, nil
			}
			w.fragOpcode = f.opcode
			w.fragPayload = append([]byte{}, f.payload...)
		case OpContinuation:
			if w.fragOpcode == 0 {
				return Message{}, w.failProtocol("continuation frame without a message start")
			}
			w.fragPayload = append(w.fragPayload, f.payload...)
			if int64(len(w.fragPayload)) > w.cfg.maxFrameSize {
				return Message{}, w.failTooLarge()
			}
			if f.fin {
				msg := Message{Type: msgType(w.fragOpcode), Data: w.fragPayload}
				w.fragOpcode = 0
				w.fragPayload = nil
				return msg, nil
			}
		}
	}
}

func msgType(opcode byte) MessageType {
	if opcode == OpText {
		return TextMessage
	}
	return BinaryMessage
}

// recvError handles a failed read: oversize frames start a 1009 close;
// network drops reconnect when configured.
func (w *WebSocket) recvError(ctx context.Context, err error) (Message, error) {
	var tooLarge *frameTooLarge
	if errors.As(err, &tooLarge) {
		return Message{}, w.failTooLarge()
	}
	if errs.IsKind(err, errs.KindWebSocket) {
		// protocol violation: no point reusing the stream
		w.teardown()
		return Message{}, err
	}
	// read failure; unexpected close of the transport
	if w.cfg.autoReconnect {
		if rerr := w.reconnect(ctx); rerr == nil {
			return w.Recv(ctx)
		}
	}
	w.teardown()
	return Message{}, errs.Wrap(errs.KindWebSocket, "recv", err)
}

func (w *WebSocket) failProtocol(msg string) error {
	w.sendClose(CloseProtocolErr, msg)
	w.teardown()
	return errs.New(errs.KindWebSocket, "recv", "%s", msg)
}

func (w *WebSocket) failTooLarge() error {
	w.sendClose(CloseMessageTooBig, "frame exceeds limit")
	w.teardown()
	return errs.New(errs.KindWebSocket, "recv", "frame exceeds configured maximum %d", w.cfg.maxFrameSize)
}

// handlePeerClose echoes the close frame and finishes the handshake.
func (w *WebSocket) handlePeerClose(payload []byte) error {
	code, reason := parseClosePayload(payload)
	w.state = StateClosing
	w.sendClose(code, "")
	w.teardown()
	if reason != "" {
		return errs.Wrap(errs.KindWebSocket, "recv",
			errors.Join(ErrClosed, errors.New(reason)))
	}
	return errs.Wrap(errs.KindWebSocket, "recv", ErrClosed)
}

// Ping sends a ping frame; the pong is consumed by a later Recv.
func (w *WebSocket) Ping(ctx context.Context, data []byte) error {
	if w.state != StateOpen {
		return errs.New(errs.KindWebSocket, "ping", "connection is not open")
	}
	if len(data) > 125 {
		return errs.New(errs.KindWebSocket, "ping", "control payload exceeds 125 bytes")
	}
	if err := w.writeDeadlined(OpPing, data); err != nil {
		return errs.Wrap(errs.KindWebSocket, "ping", err)
	}
	return nil
}

// Close performs the closing handshake with the given code and reason
// and releases the connection. Safe to call more than once.
func (w *WebSocket) Close(code int, reason string) error {
	if w.state == StateClosed || w.conn == nil {
		w.state = StateClosed
		return nil
	}
	if code == 0 {
		code = CloseNormal
	}
	w.state = StateClosing
	w.sendClose(code, reason)

	// give the peer a moment to echo the close frame
	w.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		f, err := readFrame(w.conn.Reader(), w.cfg.maxFrameSize)
		if err != nil || f.opcode == OpClose {
			break
		}
	}
	w.teardown()
	return nil
}

func (w *WebSocket) sendClose(code int, reason string) {
	if w.closeSent || w.conn == nil {
		return
	}
	w.closeSent = true
	if d := w.cfg.timeout.Read; d > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(d))
	}
	if err := writeFrame(w.conn, true, OpClose, closePayload(code, reason)); err != nil {
		logger.WithError(err).Debug("ws: close frame not delivered")
	}
}

func (w *WebSocket) teardown() {
	if w.conn != nil {
		w.conn.Close()
	}
	w.state = StateClosed
	w.fragOpcode = 0
	w.fragPayload = nil
}

// reconnect re-handshakes after an unexpected drop, backing off
// exponentially. Clean closes never reconnect.
func (w *WebSocket) reconnect(ctx context.Context) error {
	w.teardown()
	var lastErr error
	for attempt := 0; attempt < w.cfg.maxReconnectAttempts; attempt++ {
		delay := w.cfg.reconnectDelay * (1 << attempt)
		logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"url":     w.url.String(),
		}).Warn("ws: reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errs.Wrap(errs.KindWebSocket, "reconnect", ctx.Err())
		}
		w.state = StateConnecting
		if lastErr = w.Connect(ctx); lastErr == nil {
			return nil
		}
	}
	w.state = StateClosed
	return errs.Wrap(errs.KindWebSocket, "reconnect",
		errors.Join(errors.New("all reconnect attempts failed"), lastErr))
}
