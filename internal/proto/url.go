package proto

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/roldriel/reqivo/internal/errs"
)

// URL is the engine's view of a request target: parsed once, immutable
// after. Only http, https, ws and wss schemes are accepted.
type URL struct {
	Scheme   string
	Host     string // hostname, never host:port
	Port     int
	Path     string
	Query    string
	Fragment string
}

// Origin identifies an endpoint for pool keying and cookie scoping.
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

func (o Origin) String() string {
	return o.Scheme + "://" + o.Host + ":" + strconv.Itoa(o.Port)
}

// TLS reports whether connections to this origin are wrapped in TLS.
func (o Origin) TLS() bool { return o.Scheme == "https" || o.Scheme == "wss" }

var defaultPorts = map[string]int{
	"http": 80, "https": 443, "ws": 80, "wss": 443,
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// ParseURL parses and normalizes an absolute URL. Userinfo is forbidden,
// non-ASCII hosts must arrive pre-encoded (IDN is the caller's job).
func ParseURL(raw string) (*URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidRequest, "parse url", err)
	}
	return fromStd(u, raw)
}

func fromStd(u *url.URL, raw string) (*URL, error) {
	defPort, ok := defaultPorts[u.Scheme]
	if !ok {
		return nil, errs.New(errs.KindInvalidRequest, "parse url", "unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.User != nil {
		return nil, errs.New(errs.KindInvalidRequest, "parse url", "userinfo not allowed in %q", raw)
	}
	host := u.Hostname()
	if host == "" {
		return nil, errs.New(errs.KindInvalidRequest, "parse url", "missing host in %q", raw)
	}
	if !isASCII(host) {
		return nil, errs.New(errs.KindInvalidRequest, "parse url", "non-ASCII host %q not pre-encoded", host)
	}
	port := defPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, errs.New(errs.KindInvalidRequest, "parse url", "invalid port in %q", raw)
		}
		port = n
	}
	return &URL{Scheme: u.Scheme, Host: strings.ToLower(host), Port: port,
		Path: u.EscapedPath(), Query: u.RawQuery, Fragment: u.Fragment}, nil
}

// Resolve applies RFC 3986 relative resolution of ref against base.
func Resolve(base *URL, ref string) (*URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidResponse, "resolve url", err)
	}
	b, err := url.Parse(base.String())
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidRequest, "resolve url", err)
	}
	abs := b.ResolveReference(r)
	return fromStd(abs, ref)
}

func (u *URL) Origin() Origin {
	return Origin{Scheme: u.Scheme, Host: u.Host, Port: u.Port}
}

// RequestTarget is the origin-form target written on the request line.
func (u *URL) RequestTarget() string {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.Query != "" {
		path += "?" + u.Query
	}
	return path
}

// HostHeader is the Host field value; default ports are not serialized.
func (u *URL) HostHeader() string {
	if u.Port == defaultPorts[u.Scheme] {
		return u.Host
	}
	return u.Host + ":" + strconv.Itoa(u.Port)
}

// TLS reports whether the scheme implies TLS.
func (u *URL) TLS() bool { return u.Scheme == "https" || u.Scheme == "wss" }

// String reassembles the absolute URL without the fragment, suitable for
// redirect-cycle bookkeeping and logging.
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.HostHeader())
	b.WriteString(u.RequestTarget())
	return b.String()
}
