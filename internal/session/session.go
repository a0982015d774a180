// Package session orchestrates requests through hooks, cookies, auth,
// redirects and the connection pool. A Session holds per-origin state;
// it is not safe for shared mutation from multiple goroutines, though
// issuing concurrent requests is (pool operations are serialized
// internally).
package session

import (
	"context"

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

// Session owns a connection pool and the state persisted across
// requests: headers, cookie jar, auth and hooks.
type Session struct {
	headers *proto.Headers
	cookies *Jar
	pool    *netpool.Group
	dialer  *dialer.CoreDialer
	auth    authConfig

	baseURL         *proto.URL
	timeout         timing.Timeout
	limits          transport.Limits
	userAgent       string
	maxRedirects    int
	followRedirects bool
	noCompression   bool

	preHooks  []PreRequestHook
	postHooks []PostResponseHook

	closed bool
}

// New builds a Session with the engine defaults, adjusted by opts.
func New(opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	var base *proto.URL
	if cfg.baseURL != "" {
		u, err := proto.ParseURL(cfg.baseURL)
		if err != nil {
			return nil, err
		}
		base = u
	}
	ua := cfg.userAgent
	if ua == "" {
		ua = model.DefaultUserAgent
	}
	return &Session{
		headers: proto.NewHeaders(),
		cookies: NewJar(),
		pool:    netpool.NewGroup(cfg.maxConnsPerHost, cfg.maxTotalConns, cfg.maxIdleTime),
		dialer: &dialer.CoreDialer{
			TLSConfig:     cfg.tlsConfig,
			ResolveConfig: cfg.resolve,
		},
		baseURL:         base,
		timeout:         cfg.timeout,
		limits:          cfg.limits.WithDefaults(),
		userAgent:       ua,
		maxRedirects:    cfg.maxRedirects,
		followRedirects: cfg.followRedirects,
		noCompression:   cfg.noCompression,
	}, nil
}

// Headers is the mutable view of the session's persistent headers.
// Mutations are snapshotted at request composition; an in-flight
// request does not observe them.
func (s *Session) Headers() *proto.Headers { return s.headers }

// Cookies is the mutable view of the session's cookie jar.
func (s *Session) Cookies() *Jar { return s.cookies }

// Pool exposes the connection pool for maintenance (Prune) and tests.
func (s *Session) Pool() *netpool.Group { return s.pool }

// Get issues a GET request.
func (s *Session) Get(ctx context.Context, url string, opts ...RequestOption) (*model.Response, error) {
	return s.Do(ctx, "GET", url, opts...)
}

// Post issues a POST request.
func (s *Session) Post(ctx context.Context, url string, opts ...RequestOption) (*model.Response, error) {
	return s.Do(ctx, "POST", url, opts...)
}

// Put issues a PUT request.
func (s *Session) Put(ctx context.Context, url string, opts ...RequestOption) (*model.Response, error) {
	return s.Do(ctx, "PUT", url, opts...)
}

// Patch issues a PATCH request.
func (s *Session) Patch(ctx context.Context, url string, opts ...RequestOption) (*model.Response, error) {
	return s.Do(ctx, "PATCH", url, opts...)
}

// Delete issues a DELETE request.
func (s *Session) Delete(ctx context.Context, url string, opts ...RequestOption) (*model.Response, error) {
	return s.Do(ctx, "DELETE", url, opts...)
}

// Head issues a HEAD request.
func (s *Session) Head(ctx context.Context, url string, opts ...RequestOption) (*model.Response, error) {
	return s.Do(ctx, "HEAD", url, opts...)
}

// Options issues an OPTIONS request.
func (s *Session) Options(ctx context.Context, url string, opts ...RequestOption) (*model.Response, error) {
	return s.Do(ctx, "OPTIONS", url, opts...)
}

// Close drains and closes all idle connections. Idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.pool.Close()
}

// resolveURL applies the session base URL to relative requests.
func (s *Session) resolveURL(raw string) (*proto.URL, error) {
	if s.baseURL != nil {
		u, err := proto.ParseURL(raw)
		if err == nil {
			return u, nil
		}
		return proto.Resolve(s.baseURL, raw)
	}
	return proto.ParseURL(raw)
}

func (s *Session) checkOpen() error {
	if s.closed {
		return errs.New(errs.KindRequest, "send", "session is closed")
	}
	return nil
}
