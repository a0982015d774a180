package transport

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/model"
	"github.com/roldriel/reqivo/internal/proto"
	"github.com/roldriel/reqivo/internal/transport/chunked"
)

// Limits bounds what the parser will accept from a peer.
type Limits struct {
	// MaxHeaderSize caps the total bytes of status line plus header
	// block, CRLFs included.
	MaxHeaderSize int
	// MaxFieldCount caps the number of header fields.
	MaxFieldCount int
	// MaxBodySize caps non-streamed body reads.
	MaxBodySize int64
}

var DefaultLimits = Limits{
	MaxHeaderSize: 65536,
	MaxFieldCount: 100,
	MaxBodySize:   10_000_000,
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	if l.MaxHeaderSize == 0 {
		l.MaxHeaderSize = DefaultLimits.MaxHeaderSize
	}
	if l.MaxFieldCount == 0 {
		l.MaxFieldCount = DefaultLimits.MaxFieldCount
	}
	if l.MaxBodySize == 0 {
		l.MaxBodySize = DefaultLimits.MaxBodySize
	}
	return l
}

// headReader counts header-section bytes against MaxHeaderSize.
type headReader struct {
	br     *bufio.Reader
	read   int
	budget int
}

func (h *headReader) line() (string, error) {
	var sb strings.Builder
	for {
		frag, isPref, err := h.br.ReadLine()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return "", errs.Wrap(errs.KindInvalidResponse, "read head", err)
		}
		h.read += len(frag) + 2
		if h.read > h.budget {
			return "", errs.New(errs.KindProtocol, "read head", "headers exceed %d bytes", h.budget)
		}
		sb.Write(frag)
		if !isPref {
			return sb.String(), nil
		}
	}
}

// ReadResponse parses one response off br, leaving br positioned after
// the body framing (callers stream the body through resp.Body, which
// shares br). method selects the HEAD no-body rule.
func ReadResponse(br *bufio.Reader, method string, limits Limits, decompress bool) (*model.Response, error) {
	limits = limits.WithDefaults()
	head := &headReader{br: br, budget: limits.MaxHeaderSize}

	resp := &model.Response{Headers: proto.NewHeaders(), ContentLength: -1, MaxBodySize: limits.MaxBodySize}
	if err := readStatusLine(head, resp); err != nil {
		return nil, err
	}
	if err := readHeaderBlock(head, resp.Headers, limits.MaxFieldCount); err != nil {
		return nil, err
	}
	if err := resolveFraming(br, method, resp); err != nil {
		return nil, err
	}
	if decompress {
		applyDecompression(resp)
	}
	return resp, nil
}

func readStatusLine(head *headReader, resp *model.Response) error {
	line, err := head.line()
	if err != nil {
		return err
	}
	version, rest, ok := strings.Cut(line, " ")
	if !ok {
		return errs.New(errs.KindInvalidResponse, "status line", "malformed status line %q", line)
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return errs.New(errs.KindInvalidResponse, "status line", "unsupported protocol %q", version)
	}
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return errs.New(errs.KindInvalidResponse, "status line", "malformed status code %q", code)
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 || status > 599 {
		return errs.New(errs.KindInvalidResponse, "status line", "malformed status code %q", code)
	}
	resp.Proto = version
	resp.Status = status
	resp.Reason = reason
	return nil
}

func readHeaderBlock(head *headReader, headers *proto.Headers, maxFields int) error {
	fields := 0
	for {
		line, err := head.line()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		fields++
		if fields > maxFields {
			return errs.New(errs.KindProtocol, "read headers", "more than %d header fields", maxFields)
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return errs.New(errs.KindInvalidResponse, "read headers", "header line without colon: %q", line)
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return errs.New(errs.KindInvalidResponse, "read headers", "invalid header name %q", name)
		}
		headers.Add(name, strings.Trim(value, " \t"))
	}
}

// resolveFraming applies the body framing priority: no-body statuses,
// chunked, Content-Length, then read-until-close.
func resolveFraming(br *bufio.Reader, method string, resp *model.Response) error {
	resp.WantsClose = connectionWantsClose(resp)

	if method == "HEAD" || resp.Status/100 == 1 || resp.Status == 204 || resp.Status == 304 {
		resp.ContentLength = 0
		resp.Body = noBody{}
		return nil
	}

	if resp.Headers.ContainsToken("Transfer-Encoding", "chunked") {
		resp.Body = io.NopCloser(chunked.NewReader(br))
		return nil
	}

	cl, haveCL, err := contentLength(resp.Headers)
	if err != nil {
		return err
	}
	if haveCL {
		resp.ContentLength = cl
		if cl == 0 {
			resp.Body = noBody{}
		} else {
			resp.Body = io.NopCloser(&exactReader{r: br, remain: cl})
		}
		return nil
	}

	// no framing information: the body runs to connection close
	resp.WantsClose = true
	resp.Body = io.NopCloser(&untilCloseReader{r: br})
	return nil
}

func connectionWantsClose(resp *model.Response) bool {
	if resp.Headers.ContainsToken("Connection", "close") {
		return true
	}
	if resp.Proto == "HTTP/1.0" && !resp.Headers.ContainsToken("Connection", "keep-alive") {
		return true
	}
	return false
}

// contentLength extracts and de-duplicates Content-Length, rejecting
// conflicting values (response-smuggling hardening).
func contentLength(headers *proto.Headers) (int64, bool, error) {
	values := headers.GetAll("Content-Length")
	if len(values) == 0 {
		return -1, false, nil
	}
	first := strings.TrimSpace(values[0])
	for _, v := range values[1:] {
		if strings.TrimSpace(v) != first {
			return 0, false, errs.New(errs.KindInvalidResponse, "read headers",
				"conflicting Content-Length values")
		}
	}
	n, err := strconv.ParseUint(first, 10, 63)
	if err != nil {
		return 0, false, errs.New(errs.KindInvalidResponse, "read headers",
			"malformed Content-Length %q", first)
	}
	return int64(n), true, nil
}

// applyDecompression wraps the body for gzip or deflate content
// encodings; unknown encodings pass through untouched.
func applyDecompression(resp *model.Response) {
	switch strings.ToLower(strings.TrimSpace(resp.Headers.Get("Content-Encoding"))) {
	case "gzip":
		resp.Body = io.NopCloser(&lazyGzipReader{src: resp.Body})
		resp.ContentLength = -1
	case "deflate":
		resp.Body = io.NopCloser(flate.NewReader(resp.Body))
		resp.ContentLength = -1
	}
}

type noBody struct{}

func (noBody) Read([]byte) (int, error) { return 0, io.EOF }
func (noBody) Close() error             { return nil }

// exactReader reads exactly remain bytes, then reports EOF; a short
// source surfaces io.ErrUnexpectedEOF.
type exactReader struct {
	r      io.Reader
	remain int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > e.remain {
		p = p[:e.remain]
	}
	n, err := e.r.Read(p)
	e.remain -= int64(n)
	if err == io.EOF && e.remain > 0 {
		err = io.ErrUnexpectedEOF
	}
	if err == io.EOF && e.remain == 0 {
		err = nil
	}
	return n, err
}

// untilCloseReader passes reads through and maps a clean peer close to
// EOF.
type untilCloseReader struct {
	r io.Reader
}

func (u *untilCloseReader) Read(p []byte) (int, error) { return u.r.Read(p) }

// lazyGzipReader defers gzip header consumption to the first Read so
// wrapping never blocks on the socket.
type lazyGzipReader struct {
	src io.Reader
	zr  *gzip.Reader
	err error
}

func (l *lazyGzipReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.zr == nil {
		zr, err := gzip.NewReader(l.src)
		if err != nil {
			l.err = errs.Wrap(errs.KindInvalidResponse, "gunzip body", err)
			return 0, l.err
		}
		l.zr = zr
	}
	return l.zr.Read(p)
}
