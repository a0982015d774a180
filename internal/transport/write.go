// Package transport implements the HTTP/1.1 wire codec: request
// serialization and response parsing with enforced size limits.
package transport

import (
	"bufio"
	"io"
	"strconv"

	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/model"
	"github.com/roldriel/reqivo/internal/transport/chunked"
)

// WriteRequest serializes r onto w: request line, Host, the caller's
// fields in insertion order, missing defaults, then the framed body.
// Known-length bodies get Content-Length; unknown-length bodies are sent
// with chunked transfer encoding, read lazily from the body reader.
func WriteRequest(w io.Writer, r *model.PreparedRequest) error {
	var body io.ReadCloser
	if r.GetBody != nil {
		b, err := r.GetBody()
		if err != nil {
			return err
		}
		body = b
		defer body.Close() // request body is ALWAYS closed
	}

	if err := writeHeader(w, r); err != nil {
		return errs.Wrap(errs.KindNetwork, "write request", err)
	}
	if body == nil || r.ContentLength == 0 {
		return nil
	}

	if r.Chunked {
		cw := chunked.NewWriter(w)
		if _, err := io.Copy(cw, body); err != nil {
			return errs.Wrap(errs.KindNetwork, "write request", err)
		}
		return errs.Wrap(errs.KindNetwork, "write request", cw.Close())
	}
	if _, err := io.Copy(w, body); err != nil {
		return errs.Wrap(errs.KindNetwork, "write request", err)
	}
	return nil
}

// writeHeader writes the request line and header block, e.g.:
//
//	GET /a?b=1 HTTP/1.1\r\n
//	Host: example.com\r\n
//	User-Agent: reqivo/1.0.0\r\n
//	\r\n
func writeHeader(w io.Writer, r *model.PreparedRequest) error {
	header := bufio.NewWriter(w)

	header.WriteString(r.Method)
	header.WriteByte(' ')
	header.WriteString(r.U.RequestTarget())
	header.WriteString(" HTTP/1.1\r\n")

	header.WriteString("Host: ")
	header.WriteString(r.HeaderHost)
	header.WriteString("\r\n")

	if err := r.Header.Write(header); err != nil {
		return err
	}

	writeDefault := func(name, value string) {
		if !r.Header.Has(name) {
			header.WriteString(name)
			header.WriteString(": ")
			header.WriteString(value)
			header.WriteString("\r\n")
		}
	}
	writeDefault("User-Agent", r.UserAgent)
	writeDefault("Accept", "*/*")
	if !r.NoCompression {
		writeDefault("Accept-Encoding", "gzip, deflate")
	}
	writeDefault("Connection", "keep-alive")

	switch {
	case r.Chunked:
		header.WriteString("Transfer-Encoding: chunked\r\n")
	case r.ContentLength > 0 || (hasBodySemantics(r.Method) && r.GetBody != nil):
		header.WriteString("Content-Length: ")
		header.WriteString(strconv.FormatInt(r.ContentLength, 10))
		header.WriteString("\r\n")
	}

	if _, err := header.WriteString("\r\n"); err != nil {
		return err
	}
	return header.Flush()
}

func hasBodySemantics(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}
