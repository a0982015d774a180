package model

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/proto"
)

// Response is a parsed HTTP response. Body is a single-owner streaming
// handle; Bytes, Text and JSON drain it into memory on first use. Closing
// the body before draining discards the underlying connection.
type Response struct {
	Proto   string
	Status  int
	Reason  string
	Headers *proto.Headers

	// URL is the final URL after redirects; History holds the prior
	// responses of the redirect chain in order.
	URL     *proto.URL
	History []*Response

	// Body streams the (already de-framed, possibly decompressed)
	// payload. Nil only before the codec fills it.
	Body io.ReadCloser

	// ContentLength is the declared length, -1 when unknown.
	ContentLength int64

	// WantsClose marks the connection non-reusable (Connection: close,
	// HTTP/1.0 without keep-alive, or close-terminated body).
	WantsClose bool

	// MaxBodySize caps Bytes(); 0 means the engine default.
	MaxBodySize int64

	buffered []byte
	drained  bool
}

// Bytes drains the body into memory and returns it. Subsequent calls
// return the same buffer. Exceeding MaxBodySize fails with a protocol
// error and discards the connection.
func (r *Response) Bytes() ([]byte, error) {
	if r.drained {
		return r.buffered, nil
	}
	if r.Body == nil {
		r.drained = true
		return nil, nil
	}
	limit := r.MaxBodySize
	if limit <= 0 {
		limit = 10_000_000
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		r.Body.Close()
		return nil, errs.Wrap(errs.KindNetwork, "read body", err)
	}
	if int64(len(data)) > limit {
		r.Body.Close()
		return nil, errs.New(errs.KindProtocol, "read body", "body exceeds %d bytes", limit)
	}
	if err := r.Body.Close(); err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "read body", err)
	}
	r.buffered = data
	r.drained = true
	return data, nil
}

// Text decodes the body using the Content-Type charset, defaulting to
// UTF-8 with replacement of invalid sequences.
func (r *Response) Text() (string, error) {
	data, err := r.Bytes()
	if err != nil {
		return "", err
	}
	label := r.charsetLabel()
	if label != "" && !strings.EqualFold(label, "utf-8") {
		if decoded, ok := decodeCharset(data, label); ok {
			return decoded, nil
		}
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

func (r *Response) charsetLabel() string {
	ct := r.Headers.Get("Content-Type")
	if ct == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(ct); err == nil {
		return params["charset"]
	}
	return ""
}

func decodeCharset(data []byte, label string) (string, bool) {
	enc, _ := charset.Lookup(label)
	if enc == nil {
		return "", false
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(data)))
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Wrap(errs.KindInvalidResponse, "decode json", err)
	}
	return nil
}

// Close releases the body without draining it. Safe to call repeatedly.
func (r *Response) Close() error {
	if r.drained || r.Body == nil {
		return nil
	}
	r.drained = true
	return r.Body.Close()
}

// IsRedirect reports whether the status is one the engine follows.
func (r *Response) IsRedirect() bool {
	switch r.Status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// ChunkIterator yields the body in caller-sized pieces.
type ChunkIterator struct {
	r    io.ReadCloser
	buf  []byte
	cur  []byte
	err  error
	done bool
}

// Chunks streams the body in chunkSize pieces. Iterating to the end
// drains and releases the body; abandoning the iterator requires Close.
func (r *Response) Chunks(chunkSize int) *ChunkIterator {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	if r.drained {
		// already in memory; serve from the buffer
		return &ChunkIterator{r: io.NopCloser(bytes.NewReader(r.buffered)), buf: make([]byte, chunkSize)}
	}
	body := r.Body
	r.drained = true // ownership moves to the iterator
	return &ChunkIterator{r: body, buf: make([]byte, chunkSize)}
}

// Next advances to the next chunk, returning false at EOF or on error.
func (it *ChunkIterator) Next() bool {
	if it.done || it.r == nil {
		return false
	}
	n, err := io.ReadFull(it.r, it.buf)
	if n > 0 {
		it.cur = it.buf[:n]
	}
	if err != nil {
		it.done = true
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			it.err = errs.Wrap(errs.KindNetwork, "read body", err)
			it.r.Close()
			return n > 0
		}
		it.r.Close()
		return n > 0
	}
	return true
}

// Chunk returns the current chunk; valid until the next call to Next.
func (it *ChunkIterator) Chunk() []byte { return it.cur }

func (it *ChunkIterator) Err() error { return it.err }

// Close abandons the iterator, discarding the connection if undrained.
func (it *ChunkIterator) Close() error {
	it.done = true
	if it.r != nil {
		return it.r.Close()
	}
	return nil
}

// Lines streams the body line by line via a bufio.Scanner. The scanner
// shares the iterator ownership rules of Chunks.
func (r *Response) Lines() *bufio.Scanner {
	if r.drained {
		return bufio.NewScanner(bytes.NewReader(r.buffered))
	}
	body := r.Body
	r.drained = true
	return bufio.NewScanner(body)
}
