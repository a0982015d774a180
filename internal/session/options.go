package session

import (
	"crypto/tls"
	"time"

	"github.com/roldriel/reqivo/internal/dialer"
	"github.com/roldriel/reqivo/internal/timing"
	"github.com/roldriel/reqivo/internal/transport"
)

// Option configures a Session at construction.
type Option func(*config)

type config struct {
	baseURL         string
	timeout         timing.Timeout
	limits          transport.Limits
	maxConnsPerHost int
	maxTotalConns   int
	maxIdleTime     time.Duration
	maxRedirects    int
	followRedirects bool
	noCompression   bool
	userAgent       string
	tlsConfig       *tls.Config
	resolve         *dialer.ResolveConfig
}

func defaultConfig() config {
	return config{
		timeout:         timing.Default,
		limits:          transport.DefaultLimits,
		maxConnsPerHost: 10,
		maxTotalConns:   100,
		maxIdleTime:     90 * time.Second,
		maxRedirects:    30,
		followRedirects: true,
	}
}

// WithBaseURL resolves relative request URLs against base.
func WithBaseURL(base string) Option {
	return func(c *config) { c.baseURL = base }
}

// WithTimeout sets the default timeout triple for all requests.
func WithTimeout(t timing.Timeout) Option {
	return func(c *config) { c.timeout = t }
}

// WithTotalTimeout is shorthand spreading one duration over all bounds.
func WithTotalTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = timing.FromDuration(d) }
}

// WithLimits overrides the parser size limits.
func WithLimits(l transport.Limits) Option {
	return func(c *config) { c.limits = l }
}

// WithMaxConnsPerHost bounds concurrent connections per origin.
func WithMaxConnsPerHost(n int) Option {
	return func(c *config) { c.maxConnsPerHost = n }
}

// WithMaxTotalConns bounds concurrent connections across all origins.
func WithMaxTotalConns(n int) Option {
	return func(c *config) { c.maxTotalConns = n }
}

// WithMaxIdleTime bounds how long an idle connection stays reusable.
func WithMaxIdleTime(d time.Duration) Option {
	return func(c *config) { c.maxIdleTime = d }
}

// WithMaxRedirects bounds the redirect chain length.
func WithMaxRedirects(n int) Option {
	return func(c *config) { c.maxRedirects = n }
}

// WithoutRedirects disables automatic redirect following.
func WithoutRedirects() Option {
	return func(c *config) { c.followRedirects = false }
}

// WithoutCompression suppresses the Accept-Encoding default and the
// transparent gzip/deflate response decoding.
func WithoutCompression() Option {
	return func(c *config) { c.noCompression = true }
}

// WithUserAgent replaces the default User-Agent product string.
func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

// WithTLSConfig supplies a base TLS client configuration; the engine
// still enforces the 1.2 floor and per-origin SNI.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *config) { c.tlsConfig = cfg }
}

// WithResolveConfig overrides name resolution (static hosts, family).
func WithResolveConfig(rc *dialer.ResolveConfig) Option {
	return func(c *config) { c.resolve = rc }
}
