package transport

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roldriel/reqivo/internal/model"
	"github.com/roldriel/reqivo/internal/proto"
)

func serialize(t *testing.T, req *model.Request) string {
	t.Helper()
	pr, err := req.Prepare()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, pr))
	return buf.String()
}

func TestWriteBasicGet(t *testing.T) {
	wire := serialize(t, &model.Request{Method: "GET", URL: "http://www.example.com"})

	assert.True(t, strings.HasPrefix(wire, "GET / HTTP/1.1\r\nHost: www.example.com\r\n"))
	assert.Contains(t, wire, "User-Agent: "+model.DefaultUserAgent+"\r\n")
	assert.Contains(t, wire, "Accept: */*\r\n")
	assert.Contains(t, wire, "Accept-Encoding: gzip, deflate\r\n")
	assert.Contains(t, wire, "Connection: keep-alive\r\n")
	assert.True(t, strings.HasSuffix(wire, "\r\n\r\n"))
}

func TestWriteQueryAndFragment(t *testing.T) {
	wire := serialize(t, &model.Request{Method: "GET", URL: "http://example.com/test?a=1&b=2#frag"})
	assert.True(t, strings.HasPrefix(wire, "GET /test?a=1&b=2 HTTP/1.1\r\n"))
	assert.NotContains(t, wire, "frag")
}

func TestWriteNonDefaultPortInHost(t *testing.T) {
	wire := serialize(t, &model.Request{Method: "GET", URL: "http://example.com:8080/"})
	assert.Contains(t, wire, "Host: example.com:8080\r\n")

	wire = serialize(t, &model.Request{Method: "GET", URL: "https://example.com:443/"})
	assert.Contains(t, wire, "Host: example.com\r\n")
}

func TestWriteCallerHeadersOverrideDefaults(t *testing.T) {
	wire := serialize(t, &model.Request{
		Method: "GET",
		URL:    "http://example.com/",
		Header: proto.HeadersFrom("User-Agent", "custom/2.0", "Connection", "close"),
	})
	assert.Contains(t, wire, "User-Agent: custom/2.0\r\n")
	assert.Contains(t, wire, "Connection: close\r\n")
	assert.NotContains(t, wire, model.DefaultUserAgent)
	assert.NotContains(t, wire, "keep-alive")
}

func TestWriteBytesBodyContentLength(t *testing.T) {
	wire := serialize(t, &model.Request{
		Method: "POST",
		URL:    "http://example.com/a",
		Body:   []byte("x=1"),
	})
	assert.Contains(t, wire, "Content-Length: 3\r\n")
	assert.True(t, strings.HasSuffix(wire, "\r\n\r\nx=1"))
	assert.NotContains(t, wire, "Transfer-Encoding")
}

func TestWriteEmptyPostBody(t *testing.T) {
	wire := serialize(t, &model.Request{Method: "POST", URL: "http://example.com/a", Body: []byte{}})
	assert.Contains(t, wire, "Content-Length: 0\r\n")
}

func TestWriteChunkedStreamingBody(t *testing.T) {
	wire := serialize(t, &model.Request{
		Method: "POST",
		URL:    "http://example.com/upload",
		Body:   &slowChunks{chunks: []string{"AA", "BBBB"}},
	})
	assert.Contains(t, wire, "Transfer-Encoding: chunked\r\n")
	assert.NotContains(t, wire, "Content-Length")
	assert.True(t, strings.HasSuffix(wire, "\r\n\r\n2\r\nAA\r\n4\r\nBBBB\r\n0\r\n\r\n"), "wire: %q", wire)
}

// slowChunks yields its chunks one Read at a time, the way a byte
// iterator or file handle would.
type slowChunks struct {
	chunks []string
	idx    int
}

func (s *slowChunks) Read(p []byte) (int, error) {
	if s.idx >= len(s.chunks) {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[s.idx])
	s.idx++
	return n, nil
}

func TestPrepareRejectsBadRequests(t *testing.T) {
	cases := map[string]*model.Request{
		"bad method": {Method: "BREW", URL: "http://example.com/"},
		"bad url":    {Method: "GET", URL: "ftp://example.com/"},
		"injection": {Method: "GET", URL: "http://example.com/",
			Header: proto.HeadersFrom("X-Evil", "a\r\nInjected: 1")},
		"cl te conflict": {Method: "POST", URL: "http://example.com/",
			Header: proto.HeadersFrom("Content-Length", "3", "Transfer-Encoding", "chunked"),
			Body:   []byte("abc")},
		"cl mismatch": {Method: "POST", URL: "http://example.com/",
			Header: proto.HeadersFrom("Content-Length", "5"),
			Body:   []byte("abc")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := req.Prepare()
			assert.Error(t, err)
		})
	}
}

func TestPrepareMethodUppercased(t *testing.T) {
	pr, err := (&model.Request{Method: "get", URL: "http://example.com/"}).Prepare()
	require.NoError(t, err)
	assert.Equal(t, "GET", pr.Method)
}

func TestPrepareHostOverride(t *testing.T) {
	pr, err := (&model.Request{
		Method: "GET",
		URL:    "http://example.com/",
		Header: proto.HeadersFrom("Host", "other.example"),
	}).Prepare()
	require.NoError(t, err)
	assert.Equal(t, "other.example", pr.HeaderHost)
	assert.False(t, pr.Header.Has("Host"))
}

func TestRoundTripRequest(t *testing.T) {
	// parse(serialize(Q)) equals Q modulo default header injection
	wire := serialize(t, &model.Request{
		Method: "POST",
		URL:    "http://example.com/submit?q=1",
		Header: proto.HeadersFrom("X-Custom", "yes"),
		Body:   []byte("payload"),
	})

	lines := strings.Split(wire, "\r\n")
	assert.Equal(t, "POST /submit?q=1 HTTP/1.1", lines[0])
	assert.Contains(t, lines, "Host: example.com")
	assert.Contains(t, lines, "X-Custom: yes")
	assert.Contains(t, lines, "Content-Length: 7")
	assert.Equal(t, "payload", lines[len(lines)-1])
}
