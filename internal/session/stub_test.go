package session

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubServer speaks just enough raw HTTP/1.1 to script exchanges. It
// serves the queued responses in order, across however many connections
// the client opens, and records each request verbatim.
type stubServer struct {
	t  *testing.T
	ln net.Listener

	mu        sync.Mutex
	responses []string
	requests  []stubRequest

	conns atomic.Int32
	done  chan struct{}
}

type stubRequest struct {
	Method, Target string
	Headers        map[string]string
	Body           string
}

func newStubServer(t *testing.T, responses ...string) *stubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &stubServer{t: t, ln: ln, responses: responses, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() {
		close(s.done)
		ln.Close()
	})
	return s
}

func (s *stubServer) URL(path string) string {
	return "http://" + s.ln.Addr().String() + path
}

func (s *stubServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *stubServer) ConnCount() int { return int(s.conns.Load()) }

func (s *stubServer) Requests() []stubRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stubRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *stubServer) nextResponse() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return "", false
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, true
}

func (s *stubServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.conns.Add(1)
		go s.handle(conn)
	}
}

func (s *stubServer) handle(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		req, err := readStubRequest(br)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, *req)
		s.mu.Unlock()

		resp, ok := s.nextResponse()
		if !ok {
			// nothing scripted: hold the connection open silently so
			// timeout paths can be exercised
			<-s.done
			return
		}
		if _, err := io.WriteString(conn, resp); err != nil {
			return
		}
	}
}

func readStubRequest(br *bufio.Reader) (*stubRequest, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("bad request line %q", line)
	}
	req := &stubRequest{Method: parts[0], Target: parts[1], Headers: map[string]string{}}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok {
			req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
		}
	}

	if te := req.Headers["transfer-encoding"]; strings.Contains(te, "chunked") {
		var body strings.Builder
		for {
			sizeLine, err := br.ReadString('\n')
			if err != nil {
				return nil, err
			}
			size, err := strconv.ParseInt(strings.TrimRight(sizeLine, "\r\n"), 16, 64)
			if err != nil {
				return nil, err
			}
			body.WriteString(sizeLine)
			if size == 0 {
				crlf := make([]byte, 2)
				if _, err := io.ReadFull(br, crlf); err != nil {
					return nil, err
				}
				break
			}
			chunk := make([]byte, size+2)
			if _, err := io.ReadFull(br, chunk); err != nil {
				return nil, err
			}
			body.Write(chunk)
		}
		req.Body = body.String()
		return req, nil
	}

	if cl := req.Headers["content-length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return nil, err
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, err
		}
		req.Body = string(body)
	}
	return req, nil
}

// resp builds a minimal response with a content-length body.
func resp(status int, reason string, body string, extraHeaders ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", status, reason)
	for i := 0; i+1 < len(extraHeaders); i += 2 {
		fmt.Fprintf(&sb, "%s: %s\r\n", extraHeaders[i], extraHeaders[i+1])
	}
	fmt.Fprintf(&sb, "Content-Length: %d\r\n\r\n%s", len(body), body)
	return sb.String()
}
