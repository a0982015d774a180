// Package errs defines the error surface shared by every layer of the
// engine. Errors carry a Kind tag instead of forming a type hierarchy;
// consumers match on the tag with IsKind, which also matches any ancestor
// kind (IsKind(err, KindNetwork) is true for a connect timeout).
package errs

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota

	// KindRequest covers anything surfacing to a caller of Send.
	KindRequest

	// Network-layer failures, all under KindRequest.
	KindNetwork
	KindConnect
	KindConnectTimeout
	KindReadTimeout
	KindTLS

	// KindTimeout is a total-budget expiry outside a specific
	// read or connect window.
	KindTimeout

	KindRedirect
	KindTooManyRedirects
	KindRedirectLoop

	KindInvalidResponse
	KindProtocol
	KindWebSocket
	KindInvalidRequest
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindRequest:          "request",
	KindNetwork:          "network",
	KindConnect:          "connect",
	KindConnectTimeout:   "connect timeout",
	KindReadTimeout:      "read timeout",
	KindTLS:              "tls",
	KindTimeout:          "timeout",
	KindRedirect:         "redirect",
	KindTooManyRedirects: "too many redirects",
	KindRedirectLoop:     "redirect loop",
	KindInvalidResponse:  "invalid response",
	KindProtocol:         "protocol",
	KindWebSocket:        "websocket",
	KindInvalidRequest:   "invalid request",
}

// parent encodes the taxonomy. A kind with no entry is a root.
var parent = map[Kind]Kind{
	KindNetwork:          KindRequest,
	KindConnect:          KindNetwork,
	KindConnectTimeout:   KindNetwork,
	KindReadTimeout:      KindNetwork,
	KindTLS:              KindNetwork,
	KindTimeout:          KindRequest,
	KindRedirect:         KindRequest,
	KindTooManyRedirects: KindRedirect,
	KindRedirectLoop:     KindRedirect,
	KindInvalidResponse:  KindRequest,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Is reports whether k is other or a descendant of other.
func (k Kind) Is(other Kind) bool {
	for cur := k; ; {
		if cur == other {
			return true
		}
		next, ok := parent[cur]
		if !ok {
			return false
		}
		cur = next
	}
}

// Error is the single concrete error type of the engine.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "dial", "read response"
	URL  string // request URL if known
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a formatted cause.
func New(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind and op to an underlying error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithURL returns a copy of err annotated with the request URL, when err
// is an *Error. Other errors pass through unchanged.
func WithURL(err error, url string) error {
	var e *Error
	if errors.As(err, &e) && e.URL == "" {
		cp := *e
		cp.URL = url
		return &cp
	}
	return err
}

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind or any descendant of it.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Is(kind)
	}
	return false
}
