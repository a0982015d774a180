package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/model"
	"github.com/roldriel/reqivo/internal/proto"
	"github.com/roldriel/reqivo/internal/timing"
	"github.com/roldriel/reqivo/internal/transport"
	"github.com/roldriel/reqivo/utils/netpool"
)

// RequestOption adjusts a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	headers        *proto.Headers
	body           interface{}
	timeout        *timing.Timeout
	allowRedirects *bool
	maxRedirects   *int
}

// WithHeaders merges h into the request's header overrides.
func WithHeaders(h *proto.Headers) RequestOption {
	return func(c *requestConfig) {
		if h == nil {
			return
		}
		if c.headers == nil {
			c.headers = proto.NewHeaders()
		}
		h.Each(func(name, value string) { c.headers.Add(name, value) })
	}
}

// WithHeader adds one header override.
func WithHeader(name, value string) RequestOption {
	return func(c *requestConfig) {
		if c.headers == nil {
			c.headers = proto.NewHeaders()
		}
		c.headers.Add(name, value)
	}
}

// WithBody attaches a request body: []byte, string, *bytes.Buffer,
// *bytes.Reader, *strings.Reader, or any io.Reader (streamed chunked).
func WithBody(body interface{}) RequestOption {
	return func(c *requestConfig) { c.body = body }
}

// WithRequestTimeout overrides the session timeout for this request.
func WithRequestTimeout(t timing.Timeout) RequestOption {
	return func(c *requestConfig) { c.timeout = &t }
}

// WithRedirects toggles redirect following for this request.
func WithRedirects(allow bool) RequestOption {
	return func(c *requestConfig) { c.allowRedirects = &allow }
}

// WithRequestMaxRedirects bounds the chain for this request.
func WithRequestMaxRedirects(n int) RequestOption {
	return func(c *requestConfig) { c.maxRedirects = &n }
}

// RedirectFailure carries the intermediate redirect history alongside
// the terminal error (too many redirects, or a loop).
type RedirectFailure struct {
	Err     error
	History []*model.Response
}

func (e *RedirectFailure) Error() string { return e.Err.Error() }
func (e *RedirectFailure) Unwrap() error { return e.Err }

// Do sends one logical request: composes headers, runs hooks, acquires
// a pooled connection, writes the wire request, parses the response and
// follows redirects.
func (s *Session) Do(ctx context.Context, method, rawurl string, opts ...RequestOption) (*model.Response, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var cfg requestConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := s.resolveURL(rawurl)
	if err != nil {
		return nil, err
	}

	to := s.timeout
	if cfg.timeout != nil {
		to = cfg.timeout.Merge(s.timeout)
	}
	clock := timing.Start(to)
	if to.Total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, to.Total)
		defer cancel()
	}

	allowRedirects := s.followRedirects
	if cfg.allowRedirects != nil {
		allowRedirects = *cfg.allowRedirects
	}
	maxRedirects := s.maxRedirects
	if cfg.maxRedirects != nil {
		maxRedirects = *cfg.maxRedirects
	}

	// session composition: persistent headers, then request overrides
	state := &RequestState{Method: method, URL: u, Headers: s.headers.Clone()}
	if cfg.headers != nil {
		seen := map[string]bool{}
		cfg.headers.Each(func(name, _ string) {
			fold := strings.ToLower(name)
			if !seen[fold] {
				seen[fold] = true
				state.Headers.Set(name, cfg.headers.GetAll(name)...)
			}
		})
	}
	if v := s.auth.header(); v != "" && !state.Headers.Has("Authorization") {
		state.Headers.Set("Authorization", v)
	}

	if err := s.runPreHooks(state); err != nil {
		return nil, err
	}

	resp, err := s.redirectLoop(ctx, clock, state, cfg.body, allowRedirects, maxRedirects)
	if err != nil {
		var rf *RedirectFailure
		if errors.As(err, &rf) {
			// keep the wrapper, it carries the redirect history
			return nil, err
		}
		return nil, errs.WithURL(err, state.URL.String())
	}
	return s.runPostHooks(resp)
}

// redirectLoop drives the fetch/redirect cycle of §redirect semantics:
// method rewriting on 301/302/303, auth stripping on origin change,
// cycle detection across the chain.
func (s *Session) redirectLoop(ctx context.Context, clock *timing.Clock, state *RequestState,
	body interface{}, allowRedirects bool, maxRedirects int) (*model.Response, error) {

	visited := map[string]struct{}{state.URL.String(): {}}
	var history []*model.Response
	origOrigin := state.URL.Origin()

	for {
		resp, err := s.attempt(ctx, clock, state, body)
		if err != nil {
			return nil, err
		}
		resp.History = history

		if !allowRedirects || !resp.IsRedirect() {
			return resp, nil
		}
		location := resp.Headers.Get("Location")
		if location == "" {
			return resp, nil
		}
		if len(history) >= maxRedirects {
			resp.Close()
			return nil, &RedirectFailure{
				Err:     errs.New(errs.KindTooManyRedirects, "redirect", "stopped after %d redirects", maxRedirects),
				History: history,
			}
		}

		target, err := proto.Resolve(state.URL, location)
		if err != nil {
			resp.Close()
			return nil, err
		}
		if _, seen := visited[target.String()]; seen {
			resp.Close()
			return nil, &RedirectFailure{
				Err:     errs.New(errs.KindRedirectLoop, "redirect", "cycle at %s", target.String()),
				History: history,
			}
		}
		visited[target.String()] = struct{}{}

		method, dropBody := rewriteMethod(state.Method, resp.Status)
		if dropBody {
			body = nil
		} else if body != nil && !replayable(body) {
			resp.Close()
			return nil, errs.New(errs.KindRequest, "redirect",
				"cannot replay a streamed body across a %d redirect", resp.Status)
		}
		if target.Origin() != state.URL.Origin() {
			state.Headers.Del("Authorization")
			state.Headers.Del("Cookie")
			// jar cookies are re-scoped per attempt; auth only follows
			// the original origin
		} else if target.Origin() == origOrigin && !state.Headers.Has("Authorization") {
			if v := s.auth.header(); v != "" {
				state.Headers.Set("Authorization", v)
			}
		}

		logger.WithFields(logrus.Fields{
			"status": resp.Status,
			"from":   state.URL.String(),
			"to":     target.String(),
			"method": method,
		}).Debug("session: following redirect")

		s.drainRedirect(resp)
		history = append(history, resp)
		state.Method = method
		state.URL = target
	}
}

// replayable reports whether a body variant can be re-sent; one-shot
// readers cannot survive a 307/308 hop.
func replayable(body interface{}) bool {
	switch body.(type) {
	case []byte, string, *bytes.Buffer, *bytes.Reader, *strings.Reader:
		return true
	}
	return false
}

// rewriteMethod applies RFC 7231 §6.4 / RFC 7538 semantics.
func rewriteMethod(method string, status int) (string, bool) {
	switch status {
	case 301, 302:
		switch method {
		case "POST", "PUT", "PATCH":
			return "GET", true
		}
		return method, false
	case 303:
		// HEAD rewrites too, per RFC 7231 §6.4.4
		return "GET", true
	default: // 307, 308
		return method, false
	}
}

// drainRedirect consumes a small intermediate body so the connection
// can return to the pool; anything larger is discarded with it.
func (s *Session) drainRedirect(resp *model.Response) {
	const drainCap = 64 << 10
	if resp.ContentLength >= 0 && resp.ContentLength <= drainCap {
		if _, err := resp.Bytes(); err == nil {
			return
		}
	}
	resp.Close()
}

// attempt performs exactly one wire exchange.
func (s *Session) attempt(ctx context.Context, clock *timing.Clock, state *RequestState,
	body interface{}) (*model.Response, error) {

	headers := state.Headers.Clone()
	origin := state.URL.Origin()
	if cookie := s.cookies.Header(origin); cookie != "" && !headers.Has("Cookie") {
		headers.Set("Cookie", cookie)
	}

	req := &model.Request{
		Method: state.Method,
		URL:    state.URL.String(),
		Header: headers,
		Body:   body,
	}
	pr, err := req.Prepare()
	if err != nil {
		return nil, err
	}
	pr.UserAgent = s.userAgent
	pr.NoCompression = s.noCompression

	connectDeadline := clock.ConnectDeadline(time.Now())
	conn, err := s.pool.Acquire(ctx, origin, func(ctx context.Context) (net.Conn, error) {
		return s.dialer.Dial(ctx, origin, connectDeadline)
	})
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(clock.ReadDeadline(time.Now()))
	if err := transport.WriteRequest(conn, pr); err != nil {
		s.pool.Release(conn, false)
		return nil, mapIOError(err)
	}

	conn.SetReadDeadline(clock.ReadDeadline(time.Now()))
	resp, err := transport.ReadResponse(conn.Reader(), pr.Method, s.limits, !s.noCompression)
	if err != nil {
		s.pool.Release(conn, false)
		return nil, mapIOError(err)
	}
	resp.URL = state.URL

	s.cookies.UpdateFromResponse(origin, resp.Headers)

	if resp.ContentLength == 0 {
		// nothing left to stream; the connection is free now
		s.pool.Release(conn, !resp.WantsClose)
		return resp, nil
	}

	resp.Body = &trackedBody{
		inner: resp.Body,
		conn:  conn,
		pool:  s.pool,
		clock: clock,
		reuse: !resp.WantsClose,
	}
	return resp, nil
}

// trackedBody is the move-only streaming handle tying a response body to
// its connection. Draining to EOF returns the connection to the pool;
// closing early discards it, so an abandoned body never leaks a socket.
type trackedBody struct {
	inner io.ReadCloser
	conn  *netpool.Conn
	pool  *netpool.Group
	clock *timing.Clock
	reuse bool
	done  bool
}

func (b *trackedBody) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}
	b.conn.SetReadDeadline(b.clock.ReadDeadline(time.Now()))
	n, err := b.inner.Read(p)
	switch {
	case err == nil:
		return n, nil
	case err == io.EOF:
		b.finish(b.reuse)
		return n, io.EOF
	default:
		b.finish(false)
		return n, mapIOError(err)
	}
}

func (b *trackedBody) Close() error {
	if !b.done {
		// undrained: the connection may have unread body bytes
		b.finish(false)
	}
	return nil
}

func (b *trackedBody) finish(reuse bool) {
	b.done = true
	b.pool.Release(b.conn, reuse)
}

// mapIOError folds deadline expiry into the read-timeout kind and tags
// untyped socket errors as network failures.
func mapIOError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindReadTimeout, "io", err)
	}
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.Wrap(errs.KindNetwork, "io", err)
}
