// Package model holds the request and response value types exchanged
// between the session layer and the wire codec. Field sets are fixed;
// the types gain no dynamic attributes after construction.
package model

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/proto"
)

const Version = "1.0.0"

// DefaultUserAgent is sent unless the caller supplies its own.
const DefaultUserAgent = "reqivo/" + Version

// Methods is the closed set of verbs the engine accepts.
var Methods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Request is a logical request as submitted by the caller. Body may be
// nil, []byte, string, *bytes.Buffer, *bytes.Reader, *strings.Reader, or
// any io.Reader (streamed with chunked encoding).
type Request struct {
	Method string
	URL    string
	Header *proto.Headers
	Body   interface{}
}

// PreparedRequest is the validated, wire-ready form. Immutable once built.
type PreparedRequest struct {
	Method string
	U      *proto.URL

	// Header holds the caller's fields minus Host and the framing
	// headers, which are extracted during Prepare.
	Header     *proto.Headers
	HeaderHost string
	UserAgent  string

	GetBody       func() (io.ReadCloser, error)
	ContentLength int64 // -1 means unknown length, sent chunked
	Chunked       bool
	Replayable    bool

	// NoCompression suppresses the Accept-Encoding default and the
	// transparent response decompression downstream.
	NoCompression bool
}

// Prepare validates the request and snapshots its body.
func (r *Request) Prepare() (*PreparedRequest, error) {
	method := strings.ToUpper(r.Method)
	if !Methods[method] {
		return nil, errs.New(errs.KindInvalidRequest, "prepare", "unsupported method %q", r.Method)
	}
	u, err := proto.ParseURL(r.URL)
	if err != nil {
		return nil, err
	}

	headers := proto.NewHeaders()
	if r.Header != nil {
		headers = r.Header.Clone()
	}
	if err := headers.Validate(); err != nil {
		return nil, err
	}

	host := u.HostHeader()
	if v := headers.Get("Host"); v != "" {
		host = v
	}
	headers.Del("Host")

	cl := int64(-1)
	haveCL := false
	if v := headers.Get("Content-Length"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, errs.New(errs.KindInvalidRequest, "prepare", "invalid Content-Length %q", v)
		}
		cl, haveCL = n, true
	}
	headers.Del("Content-Length")

	wantChunked := headers.ContainsToken("Transfer-Encoding", "chunked")
	if headers.Has("Transfer-Encoding") && !wantChunked {
		return nil, errs.New(errs.KindInvalidRequest, "prepare", "unsupported Transfer-Encoding")
	}
	headers.Del("Transfer-Encoding")
	if haveCL && wantChunked {
		return nil, errs.New(errs.KindInvalidRequest, "prepare",
			"Content-Length and Transfer-Encoding are mutually exclusive")
	}

	pr := &PreparedRequest{
		Method:     method,
		U:          u,
		Header:     headers,
		HeaderHost: host,
		UserAgent:  DefaultUserAgent,
	}
	if err := pr.snapshotBody(r.Body); err != nil {
		return nil, err
	}
	if haveCL {
		if pr.ContentLength >= 0 && pr.ContentLength != cl {
			return nil, errs.New(errs.KindInvalidRequest, "prepare",
				"Content-Length %d does not match body length %d", cl, pr.ContentLength)
		}
		pr.ContentLength = cl
	}
	if wantChunked {
		pr.ContentLength = -1
	}
	pr.Chunked = pr.GetBody != nil && pr.ContentLength < 0
	return pr, nil
}

// snapshotBody fixes the body variant into a replayable GetBody where the
// length is knowable, or a one-shot reader streamed chunked.
func (r *PreparedRequest) snapshotBody(body interface{}) error {
	if body == nil {
		r.GetBody = nil
		r.ContentLength = 0
		r.Replayable = true
		return nil
	}
	switch b := body.(type) {
	case []byte:
		r.ContentLength = int64(len(b))
		r.Replayable = true
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	case string:
		r.ContentLength = int64(len(b))
		r.Replayable = true
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(b)), nil
		}
	case *bytes.Buffer:
		r.ContentLength = int64(b.Len())
		r.Replayable = true
		buf := b.Bytes()
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
	case *bytes.Reader:
		r.ContentLength = int64(b.Len())
		r.Replayable = true
		snapshot := *b
		r.GetBody = func() (io.ReadCloser, error) {
			cp := snapshot
			return io.NopCloser(&cp), nil
		}
	case *strings.Reader:
		r.ContentLength = int64(b.Len())
		r.Replayable = true
		snapshot := *b
		r.GetBody = func() (io.ReadCloser, error) {
			cp := snapshot
			return io.NopCloser(&cp), nil
		}
	case io.Reader:
		// unknown length, one shot; a second call means a redirect
		// tried to replay a consumed stream
		r.ContentLength = -1
		var used atomic.Bool
		rc, isCloser := b.(io.ReadCloser)
		r.GetBody = func() (io.ReadCloser, error) {
			if !used.CompareAndSwap(false, true) {
				return nil, errs.New(errs.KindRequest, "body", "streamed body already consumed")
			}
			if isCloser {
				return rc, nil
			}
			return io.NopCloser(b), nil
		}
	default:
		return errs.New(errs.KindInvalidRequest, "prepare", "unsupported body type %T", body)
	}
	return nil
}
