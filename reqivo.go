// Package reqivo is an HTTP/1.1 and WebSocket client engine with
// per-origin connection pooling, stateful sessions (cookies, auth,
// redirects, hooks) and streaming bodies.
package reqivo

import (
	"github.com/sirupsen/logrus"

	"github.com/roldriel/reqivo/internal/model"
	"github.com/roldriel/reqivo/internal/proto"
	"github.com/roldriel/reqivo/internal/session"
	"github.com/roldriel/reqivo/internal/timing"
	"github.com/roldriel/reqivo/internal/transport"
	"github.com/roldriel/reqivo/internal/ws"
	"github.com/roldriel/reqivo/utils/netpool"
)

// Version of the library, reported in the default User-Agent.
const Version = model.Version

type Session = session.Session
type Option = session.Option
type RequestOption = session.RequestOption
type RequestState = session.RequestState
type PreRequestHook = session.PreRequestHook
type PostResponseHook = session.PostResponseHook
type RedirectFailure = session.RedirectFailure
type Jar = session.Jar

type Request = model.Request
type Response = model.Response
type Headers = proto.Headers
type URL = proto.URL
type Origin = proto.Origin
type Timeout = timing.Timeout
type Limits = transport.Limits

// New builds a Session with the engine defaults, adjusted by opts.
func New(opts ...Option) (*Session, error) { return session.New(opts...) }

// NewHeaders builds an empty header container.
func NewHeaders() *Headers { return proto.NewHeaders() }

// HeadersFrom builds headers from alternating name, value pairs.
func HeadersFrom(pairs ...string) *Headers { return proto.HeadersFrom(pairs...) }

// ParseURL parses and normalizes an absolute URL.
func ParseURL(raw string) (*URL, error) { return proto.ParseURL(raw) }

// Session construction options.
var (
	WithBaseURL         = session.WithBaseURL
	WithTimeout         = session.WithTimeout
	WithTotalTimeout    = session.WithTotalTimeout
	WithLimits          = session.WithLimits
	WithMaxConnsPerHost = session.WithMaxConnsPerHost
	WithMaxTotalConns   = session.WithMaxTotalConns
	WithMaxIdleTime     = session.WithMaxIdleTime
	WithMaxRedirects    = session.WithMaxRedirects
	WithoutRedirects    = session.WithoutRedirects
	WithoutCompression  = session.WithoutCompression
	WithUserAgent       = session.WithUserAgent
	WithTLSConfig       = session.WithTLSConfig
	WithResolveConfig   = session.WithResolveConfig
)

// Per-request options.
var (
	WithHeaders             = session.WithHeaders
	WithHeader              = session.WithHeader
	WithBody                = session.WithBody
	WithRequestTimeout      = session.WithRequestTimeout
	WithRedirects           = session.WithRedirects
	WithRequestMaxRedirects = session.WithRequestMaxRedirects
)

// SetLogger routes the engine's debug logging through l. The default is
// the logrus standard logger.
func SetLogger(l logrus.FieldLogger) {
	session.SetLogger(l)
	netpool.SetLogger(l)
	ws.SetLogger(l)
}
